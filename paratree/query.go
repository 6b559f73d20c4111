package paratree

import (
	"math"

	"github.com/starwar9527/bitpit/morton"
)

// SentinelLocalIdx is the sentinel local index get_point_owner-style
// queries return when no internal octant contains the point (ghost
// octants are not searched), per spec §4.9 ("the maximum representable
// local index").
const SentinelLocalIdx = math.MaxInt32

// FindPointOwner returns the local index of the internal octant
// containing the physical-space point (x, y, z), honoring the configured
// tolerance at domain edges. ok is false and the index is SentinelLocalIdx
// when the point lies outside the unit domain beyond tolerance.
func (pt *ParaTree) FindPointOwner(x, y, z float64) (int, bool) {
	lx, ly, lz, ok := pt.toLogical(x, y, z)
	if !ok {
		return SentinelLocalIdx, false
	}
	for i, o := range pt.local.Octants {
		s := o.Size()
		if lx < o.X || lx >= o.X+s {
			continue
		}
		if ly < o.Y || ly >= o.Y+s {
			continue
		}
		if pt.dim == 3 && (lz < o.Z || lz >= o.Z+s) {
			continue
		}
		return i, true
	}
	return SentinelLocalIdx, false
}

// toLogical maps a physical-space point back to integer coordinates using
// the inverse of the identity-mapper convention (the unit cube scaled by
// 2^MaxLevel), clamping within tolerance at the domain edges. Non-identity
// CoordinateMapper implementations are expected to be affine over the unit
// cube for this inverse to stay meaningful, consistent with the collaborator
// contract of spec §6.4.
func (pt *ParaTree) toLogical(x, y, z float64) (lx, ly, lz uint32, ok bool) {
	domain := float64(uint64(1) << uint(morton.MaxLevel))
	clamp := func(v float64) (uint32, bool) {
		if v < -pt.tolerance || v > 1+pt.tolerance {
			return 0, false
		}
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		scaled := v * domain
		if scaled >= domain {
			scaled = domain - 1
		}
		return uint32(scaled), true
	}
	var okx, oky, okz bool
	lx, okx = clamp(x)
	ly, oky = clamp(y)
	if pt.dim == 3 {
		lz, okz = clamp(z)
	} else {
		okz = true
	}
	return lx, ly, lz, okx && oky && okz
}
