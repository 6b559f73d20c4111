// Package loadbalance implements the target-partition computation,
// family-compactness adjustment and send/recv range computation named in
// spec §4.6. It does not itself move bytes over the wire (paratree drives
// comm.Group for that using the ranges this package computes) so that the
// pure partitioning math stays independently testable.
package loadbalance

import "github.com/pkg/errors"

// Range is a half-open local-index interval [Begin, End).
type Range struct {
	Begin, End int
}

func (r Range) Len() int { return r.End - r.Begin }
func (r Range) Empty() bool { return r.End <= r.Begin }

// TargetPartition holds, per rank, the first global index it will own
// after the load-balance (its prefix-sum begin) and how many octants
// (PrefixEnd - PrefixBegin).
type TargetPartition struct {
	PrefixBegin []uint64
	PrefixEnd   []uint64
}

// ComputeUniform computes the target partition for N total octants across
// nproc ranks with no weights (spec §4.6 step 1, no-weights branch):
// floor(N/P) each, with the first N mod P ranks receiving one extra.
func ComputeUniform(total uint64, nproc int) TargetPartition {
	tp := TargetPartition{PrefixBegin: make([]uint64, nproc), PrefixEnd: make([]uint64, nproc)}
	base := total / uint64(nproc)
	extra := total % uint64(nproc)
	var cursor uint64
	for p := 0; p < nproc; p++ {
		n := base
		if uint64(p) < extra {
			n++
		}
		tp.PrefixBegin[p] = cursor
		cursor += n
		tp.PrefixEnd[p] = cursor
	}
	return tp
}

// ComputeWeighted computes the target partition from per-octant weights
// (global, Morton order), walking the weighted prefix sum and assigning
// each rank the smallest contiguous run whose weight reaches the evenly
// divided share of what remains (spec §4.6 step 1, weighted branch).
func ComputeWeighted(weights []uint64, nproc int) (TargetPartition, error) {
	if nproc < 1 {
		return TargetPartition{}, errors.Errorf("error invalid process count %d", nproc)
	}
	total := uint64(0)
	for _, w := range weights {
		total += w
	}
	tp := TargetPartition{PrefixBegin: make([]uint64, nproc), PrefixEnd: make([]uint64, nproc)}

	cursor := 0
	var cum uint64
	remaining := total
	for p := 0; p < nproc; p++ {
		tp.PrefixBegin[p] = uint64(cursor)
		if p == nproc-1 {
			cursor = len(weights)
			tp.PrefixEnd[p] = uint64(cursor)
			continue
		}
		share := remaining / uint64(nproc-p)
		var acc uint64
		for cursor < len(weights) && acc < share {
			acc += weights[cursor]
			cursor++
		}
		cum += acc
		remaining -= acc
		tp.PrefixEnd[p] = uint64(cursor)
	}
	return tp, nil
}

// familyBlockOffset returns the offset (0..2^dim-1) of global index idx
// within its aligned family block of size 2^dim at level L, i.e. among the
// octants produced by refining a single level-L ancestor to the current
// max depth's uniform grid. familySize must be 2^dim.
func familyBlockOffset(idx uint64, familySize uint64) uint64 {
	return idx % familySize
}

// AdjustForFamilyCompactness nudges every inter-process boundary in tp so
// that no family of familySize consecutive octants (spec §4.6 step 2,
// "family level L") is split across ranks. For each boundary it computes
// the smaller of "extend left" and "extend right" and applies it.
func AdjustForFamilyCompactness(tp TargetPartition, total, familySize uint64) TargetPartition {
	if familySize <= 1 {
		return tp
	}
	nproc := len(tp.PrefixEnd)
	out := TargetPartition{PrefixBegin: append([]uint64(nil), tp.PrefixBegin...), PrefixEnd: append([]uint64(nil), tp.PrefixEnd...)}
	for p := 0; p < nproc-1; p++ {
		boundary := out.PrefixEnd[p]
		off := familyBlockOffset(boundary, familySize)
		if off == 0 {
			continue
		}
		forward := familySize - off // extend the left process to the next family boundary
		backward := off             // pull the boundary back to the previous family boundary
		var shift int64
		if forward <= backward {
			shift = int64(forward)
		} else {
			shift = -int64(backward)
		}
		newBoundary := int64(boundary) + shift
		if newBoundary < 0 {
			newBoundary = 0
		}
		if uint64(newBoundary) > total {
			newBoundary = int64(total)
		}
		out.PrefixEnd[p] = uint64(newBoundary)
		out.PrefixBegin[p+1] = uint64(newBoundary)
	}
	return out
}

// CurrentRange reports the local-index range a rank's N_me octants occupy
// in current global-index space, given the rank's current prefix offset.
type CurrentRange struct {
	Begin uint64
	End   uint64
}

// ComputeSendRanges computes, for the calling rank, the local-index range
// to send to every other rank: the intersection of the rank's current
// global range with each other rank's target range (spec §4.6 step 3).
func ComputeSendRanges(me CurrentRange, target TargetPartition) []Range {
	out := make([]Range, len(target.PrefixBegin))
	for r := range target.PrefixBegin {
		lo := maxU64(me.Begin, target.PrefixBegin[r])
		hi := minU64(me.End, target.PrefixEnd[r])
		if hi <= lo {
			continue
		}
		out[r] = Range{Begin: int(lo - me.Begin), End: int(hi - me.Begin)}
	}
	return out
}

// ComputeRecvRanges computes, for the calling rank, the range to receive
// from every other rank: the intersection of the rank's own target range
// with each other rank's current range (spec §4.6 step 4). The returned
// ranges are offsets from myTargetGlobalBegin, i.e. positions in the
// rank's new (post-receive) local octant list.
func ComputeRecvRanges(myTarget Range, myTargetGlobalBegin uint64, currentRanges []CurrentRange) []Range {
	out := make([]Range, len(currentRanges))
	myBegin := myTargetGlobalBegin
	myEnd := myTargetGlobalBegin + uint64(myTarget.Len())
	for r, cur := range currentRanges {
		lo := maxU64(myBegin, cur.Begin)
		hi := minU64(myEnd, cur.End)
		if hi <= lo {
			continue
		}
		out[r] = Range{Begin: int(lo - myBegin), End: int(hi - myBegin)}
	}
	return out
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
