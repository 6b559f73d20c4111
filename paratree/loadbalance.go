package paratree

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/loadbalance"
	"github.com/starwar9527/bitpit/octant"
)

// LoadBalanceOption configures one LoadBalance call (spec §4.6 "optional
// per-octant weights... optional family level L").
type LoadBalanceOption func(*loadBalanceConfig)

type loadBalanceConfig struct {
	weights       []uint64
	familyCompact bool
	dim           int
}

// WithWeights supplies per-local-octant weights (in local index order) for
// the target-partition computation; nil/omitted means uniform weighting.
func WithWeights(weights []uint64) LoadBalanceOption {
	return func(c *loadBalanceConfig) { c.weights = weights }
}

// WithFamilyCompactness enables the family-compactness boundary adjustment
// of spec §4.6 step 2, using the immediate 2^dim sibling family as the
// compactness unit (see DESIGN.md for why an arbitrary family level L is
// not supported).
func WithFamilyCompactness() LoadBalanceOption {
	return func(c *loadBalanceConfig) { c.familyCompact = true }
}

// LoadBalanceRanges is the {send, recv} result of EvalLoadBalanceRanges.
type LoadBalanceRanges struct {
	Send []loadbalance.Range // per remote rank, local-index range to send
	Recv []loadbalance.Range // per remote rank, new-local-index range to receive into
}

// EvalLoadBalanceRanges runs steps 1-4 of spec §4.6 and returns the ranges
// without moving any data.
func (pt *ParaTree) EvalLoadBalanceRanges(ctx context.Context, opts ...LoadBalanceOption) (LoadBalanceRanges, error) {
	cfg := &loadBalanceConfig{dim: pt.dim}
	for _, o := range opts {
		o(cfg)
	}
	target, currentRanges, err := pt.computeTargetAndCurrent(ctx, cfg)
	if err != nil {
		return LoadBalanceRanges{}, err
	}

	if pt.serial {
		// Every rank already holds the full tree (spec §3 is_serial), so
		// the first load-balance moves no data over the wire: each rank
		// simply keeps its own target slice of what it already has.
		return LoadBalanceRanges{}, nil
	}

	me := currentRanges[pt.rank]
	send := loadbalance.ComputeSendRanges(me, target)

	myLen := int(target.PrefixEnd[pt.rank] - target.PrefixBegin[pt.rank])
	myTarget := loadbalance.Range{Begin: 0, End: myLen}
	recv := loadbalance.ComputeRecvRanges(myTarget, target.PrefixBegin[pt.rank], currentRanges)

	return LoadBalanceRanges{Send: send, Recv: recv}, nil
}

func (pt *ParaTree) computeTargetAndCurrent(ctx context.Context, cfg *loadBalanceConfig) (loadbalance.TargetPartition, []loadbalance.CurrentRange, error) {
	total := pt.partition.GlobalCount()
	nproc := pt.nproc

	var target loadbalance.TargetPartition
	if cfg.weights != nil {
		global, err := pt.gatherGlobalWeights(ctx, cfg.weights)
		if err != nil {
			return target, nil, err
		}
		target, err = loadbalance.ComputeWeighted(global, nproc)
		if err != nil {
			return target, nil, err
		}
	} else {
		target = loadbalance.ComputeUniform(total, nproc)
	}
	if cfg.familyCompact {
		familySize := uint64(1) << uint(pt.dim)
		target = loadbalance.AdjustForFamilyCompactness(target, total, familySize)
	}

	currentRanges, err := pt.gatherCurrentRanges(ctx)
	if err != nil {
		return target, nil, err
	}
	return target, currentRanges, nil
}

func (pt *ParaTree) gatherGlobalWeights(ctx context.Context, local []uint64) ([]uint64, error) {
	if pt.serial {
		return local, nil
	}
	buf := make([]byte, 0, len(local)*8)
	for _, w := range local {
		buf = appendUint64(buf, w)
	}
	all, err := pt.group.AllGather(ctx, pt.rank, buf)
	if err != nil {
		return nil, errors.Wrap(err, "gathering load-balance weights")
	}
	var out []uint64
	for _, payload := range all {
		rest := payload
		for len(rest) > 0 {
			var w uint64
			w, rest = readUint64(rest)
			out = append(out, w)
		}
	}
	return out, nil
}

func (pt *ParaTree) gatherCurrentRanges(ctx context.Context) ([]loadbalance.CurrentRange, error) {
	offset := pt.localOffset()
	n := uint64(pt.local.Len())
	if pt.serial {
		// Every rank holds the same full range; the value is not consumed
		// on the serial LoadBalance/EvalLoadBalanceRanges path (see their
		// early returns) but must still be indexable by any rank.
		out := make([]loadbalance.CurrentRange, pt.nproc)
		for r := range out {
			out[r] = loadbalance.CurrentRange{Begin: offset, End: offset + n}
		}
		return out, nil
	}
	buf := appendUint64(appendUint64(nil, offset), offset+n)
	all, err := pt.group.AllGather(ctx, pt.rank, buf)
	if err != nil {
		return nil, errors.Wrap(err, "gathering current partition ranges")
	}
	out := make([]loadbalance.CurrentRange, pt.nproc)
	for r, payload := range all {
		begin, rest := readUint64(payload)
		end, _ := readUint64(rest)
		out[r] = loadbalance.CurrentRange{Begin: begin, End: end}
	}
	return out, nil
}

// LoadBalance runs the full load-balance engine of spec §4.6.
func (pt *ParaTree) LoadBalance(ctx context.Context, opts ...LoadBalanceOption) error {
	cfg := &loadBalanceConfig{dim: pt.dim}
	for _, o := range opts {
		o(cfg)
	}
	target, currentRanges, err := pt.computeTargetAndCurrent(ctx, cfg)
	if err != nil {
		return err
	}
	wasSerial := pt.serial

	if wasSerial {
		// Every rank already holds an identical full copy of the tree
		// (spec §3 is_serial), so the first load-balance needs no
		// exchange at all: each rank just keeps its own target slice of
		// the full local copy it already has.
		begin := target.PrefixBegin[pt.rank]
		end := target.PrefixEnd[pt.rank]
		newOctants := append([]octant.Octant(nil), pt.local.Octants[begin:end]...)
		pt.local.Octants = newOctants
		pt.local.SortOctants()
		if pt.nproc > 1 {
			// A single-process tree (nproc == 1) has nothing left to
			// distribute; every downstream partition/ghost step already
			// takes the single-entry path forever regardless of serial,
			// so there is no distributed state to transition into.
			pt.serial = false
		}
	} else {
		me := currentRanges[pt.rank]
		sendRanges := loadbalance.ComputeSendRanges(me, target)

		sendTo := make([][]byte, pt.nproc)
		for r, rng := range sendRanges {
			if rng.Empty() {
				continue
			}
			sendTo[r] = pt.encodeOctantRange(rng)
		}

		recv, err := pt.group.Alltoall(ctx, pt.rank, sendTo)
		if err != nil {
			return errors.Wrap(err, "exchanging load-balance octants")
		}

		myLen := int(target.PrefixEnd[pt.rank] - target.PrefixBegin[pt.rank])
		myTarget := loadbalance.Range{Begin: 0, End: myLen}
		recvRanges := loadbalance.ComputeRecvRanges(myTarget, target.PrefixBegin[pt.rank], currentRanges)

		newOctants := make([]octant.Octant, myLen)
		for r, rng := range recvRanges {
			if rng.Empty() || len(recv[r]) == 0 {
				continue
			}
			pt.decodeOctantRangeInto(recv[r], newOctants, rng.Begin)
		}
		pt.local.Octants = newOctants
		pt.local.SortOctants()
	}

	if err := pt.rebuildPartitionTable(ctx); err != nil {
		return err
	}
	if !pt.serial {
		if err := pt.rebuildGhostHalo(ctx); err != nil {
			return err
		}
	}

	if wasSerial {
		pt.lastOp = OpLoadBalanceFirst
	} else {
		pt.lastOp = OpLoadBalance
	}
	return nil
}

// encodeOctantRange serializes local octants [rng.Begin, rng.End) plus any
// Exchanger payload attached to each, for one destination rank.
func (pt *ParaTree) encodeOctantRange(rng loadbalance.Range) []byte {
	var buf []byte
	for li := rng.Begin; li < rng.End; li++ {
		buf = pt.local.Octants[li].EncodeBinary(buf)
		n := pt.exchange.Size(li)
		buf = appendUint32LB(buf, uint32(n))
		if n > 0 {
			start := len(buf)
			buf = append(buf, make([]byte, n)...)
			pt.exchange.Gather(li, buf[start:start+n])
		}
	}
	return buf
}

// decodeOctantRangeInto decodes a sequence of encoded octants (as produced
// by encodeOctantRange) into newOctants starting at position begin,
// scattering any Exchanger payload into the new local index.
func (pt *ParaTree) decodeOctantRangeInto(buf []byte, newOctants []octant.Octant, begin int) {
	pos := begin
	for len(buf) > 0 {
		var o octant.Octant
		o, buf = octant.DecodeBinary(pt.dim, buf)
		var n uint32
		n, buf = readUint32LB(buf)
		if n > 0 {
			pt.exchange.Scatter(pos, buf[:n])
			buf = buf[n:]
		}
		newOctants[pos] = o
		pos++
	}
}

func appendUint32LB(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32LB(buf []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(buf), buf[4:]
}
