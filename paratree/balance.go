package paratree

import (
	"context"

	"github.com/pkg/errors"
)

// runBalanceEngine drives the cross-process 2:1 balance loop of spec §4.4:
// local balance, marker exchange with every neighbor rank identified by
// the current ghost halo's accretion sources, then local balance again
// allowed to propagate from ghost octants, repeated until a reduce-OR
// across every rank reports no further change anywhere.
func (pt *ParaTree) runBalanceEngine(ctx context.Context) (bool, error) {
	any, err := pt.local.BalanceToFixpoint(false)
	if err != nil {
		return false, err
	}

	if pt.serial || pt.ghostBuilder == nil {
		return any, nil
	}

	for {
		changedHere, err := pt.exchangeGhostMarkers(ctx)
		if err != nil {
			return any, err
		}
		localChanged, err := pt.local.BalanceToFixpoint(true)
		if err != nil {
			return any, err
		}
		roundChanged := changedHere || localChanged
		if roundChanged {
			any = true
		}
		globalChanged, err := pt.group.AllReduceOr(ctx, pt.rank, roundChanged)
		if err != nil {
			return any, errors.Wrap(err, "reducing balance-engine fixpoint flag")
		}
		if !globalChanged {
			return any, nil
		}
	}
}

type markerMsg struct {
	GlobalIdx uint64
	Marker    int8
}

func encodeMarkerMsgs(msgs []markerMsg) []byte {
	buf := make([]byte, 0, len(msgs)*9)
	for _, m := range msgs {
		buf = appendUint64(buf, m.GlobalIdx)
		buf = append(buf, byte(m.Marker))
	}
	return buf
}

func decodeMarkerMsgs(buf []byte) []markerMsg {
	var out []markerMsg
	for len(buf) > 0 {
		var m markerMsg
		var g uint64
		g, buf = readUint64(buf)
		m.GlobalIdx = g
		m.Marker = int8(buf[0])
		buf = buf[1:]
		out = append(out, m)
	}
	return out
}

// exchangeGhostMarkers sends, to every neighbor this process has ghost
// sources for, the current markers of the internal octants serving as
// those sources, and overwrites the matching local ghost markers from
// what every neighbor sends back (spec §4.4 step 2).
func (pt *ParaTree) exchangeGhostMarkers(ctx context.Context) (bool, error) {
	sendTo := make([][]byte, pt.nproc)
	for _, target := range pt.ghostBuilder.TargetRanks() {
		srcs := pt.ghostBuilder.Sources(target)
		msgs := make([]markerMsg, 0, len(srcs))
		for _, li := range srcs {
			g, err := pt.GlobalIdx(li)
			if err != nil {
				continue
			}
			msgs = append(msgs, markerMsg{GlobalIdx: g, Marker: pt.local.Octants[li].Marker})
		}
		sendTo[target] = encodeMarkerMsgs(msgs)
	}

	recv, err := pt.group.Alltoall(ctx, pt.rank, sendTo)
	if err != nil {
		return false, errors.Wrap(err, "exchanging balance-engine ghost markers")
	}

	ghostByGlobal := make(map[uint64]int, len(pt.local.GhostGlobalIDs))
	for gi, id := range pt.local.GhostGlobalIDs {
		ghostByGlobal[id] = gi
	}

	changed := false
	for _, payload := range recv {
		for _, m := range decodeMarkerMsgs(payload) {
			gi, ok := ghostByGlobal[m.GlobalIdx]
			if !ok {
				continue
			}
			if pt.local.Ghosts[gi].Marker != m.Marker {
				pt.local.Ghosts[gi].Marker = m.Marker
				changed = true
			}
		}
	}
	return changed, nil
}
