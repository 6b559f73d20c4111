// Package octant implements the single-octant value type and the pure
// operations on it: child/father construction, logical node/face geometry
// and persistent node keys. It has no notion of a tree; LocalTree composes
// many Octants into the Morton-sorted sequence.
package octant

import (
	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/morton"
)

// Octant is a single cubic cell of the linear octree: a value type,
// trivially copyable except for its Info bitset (which is itself a plain
// integer, so copies of Octant are always independent).
type Octant struct {
	Dim   int
	Level int8

	X, Y, Z uint32 // anchor coordinates, multiples of Size()

	Marker        int8
	BalanceEnabled bool
	GhostLayer     int8 // -1 for internal octants; 0..K-1 for ghosts

	Info Info
}

// New constructs the root octant (level 0, anchor at the origin) for the
// given dimension. dim must be 2 or 3; callers validate this once at
// ParaTree construction.
func New(dim int) Octant {
	return Octant{Dim: dim, Level: 0, GhostLayer: -1, BalanceEnabled: true}
}

// NewAt constructs an octant with an explicit level and anchor, used when
// rebuilding octants from a dump or from load-balance payloads.
func NewAt(dim int, level int8, x, y, z uint32) Octant {
	o := New(dim)
	o.Level = level
	o.X, o.Y, o.Z = x, y, z
	return o
}

// Size returns the integer side length of the octant, s = 2^(MaxLevel -
// level).
func (o Octant) Size() uint32 { return morton.Size(int(o.Level)) }

// Morton returns the Morton key of the octant's anchor. This is also its
// first-descendant key, per spec §4.1.
func (o Octant) Morton() morton.Key { return morton.Encode(o.Dim, o.X, o.Y, o.Z) }

// LastDescendantMorton returns the Morton key of the octant's last
// descendant: the anchor shifted by (s-1) along every axis used by Dim.
func (o Octant) LastDescendantMorton() morton.Key {
	return morton.LastDescendant(o.Dim, o.X, o.Y, o.Z, o.Size())
}

// IsGhost reports whether this octant carries ghost-layer metadata.
func (o Octant) IsGhost() bool { return o.GhostLayer >= 0 }

// Area returns the logical (integer-coordinate) area of one face, s^(Dim-1).
func (o Octant) Area() uint64 {
	s := uint64(o.Size())
	if o.Dim == 2 {
		return s
	}
	return s * s
}

// Volume returns the logical (integer-coordinate) volume/area of the
// octant, s^Dim.
func (o Octant) Volume() uint64 {
	s := uint64(o.Size())
	v := s
	for i := 1; i < o.Dim; i++ {
		v *= s
	}
	return v
}

// childOffset returns the canonical Z-order child offset (0/1 per axis)
// for child index c in [0, 2^Dim).
func childOffset(dim, c int) (dx, dy, dz uint32) {
	dx = uint32(c & 1)
	dy = uint32((c >> 1) & 1)
	if dim == 3 {
		dz = uint32((c >> 2) & 1)
	}
	return
}

// BuildChildren returns the 2^Dim children of o in Morton order. Children
// inherit BalanceEnabled and have NewAfterRefinement set; their markers are
// the parent's marker decremented by one level (clamped at 0), per spec
// §4.3 "Refine step".
func (o Octant) BuildChildren() []Octant {
	n := 1 << uint(o.Dim)
	children := make([]Octant, n)
	half := o.Size() / 2
	childMarker := o.Marker - 1
	if childMarker < 0 {
		childMarker = 0
	}
	for c := 0; c < n; c++ {
		dx, dy, dz := childOffset(o.Dim, c)
		child := o
		child.Level = o.Level + 1
		child.X = o.X + dx*half
		child.Y = o.Y + dy*half
		child.Z = o.Z + dz*half
		child.Marker = childMarker
		child.Info = o.Info.ResetAdaptFlags().SetNewAfterRefinement(true)
		children[c] = child
	}
	return children
}

// BuildFather returns the parent of o: anchor aligned down to 2*Size() on
// every axis, level decremented, NewAfterCoarsening set. It is the caller's
// responsibility to only call this on octants above level 0.
func (o Octant) BuildFather() Octant {
	if o.Level == 0 {
		return o
	}
	parentSize := o.Size() * 2
	father := o
	father.Level = o.Level - 1
	father.X = (o.X / parentSize) * parentSize
	father.Y = (o.Y / parentSize) * parentSize
	father.Z = (o.Z / parentSize) * parentSize
	father.Info = o.Info.ResetAdaptFlags().SetNewAfterCoarsening(true)
	return father
}

// SiblingIndex returns this octant's position (0..2^Dim-1) within its
// parent's children in Z-order, derived purely from anchor bit parity
// relative to the parent-aligned grid.
func (o Octant) SiblingIndex() int {
	half := o.Size()
	parentSize := half * 2
	lx := (o.X % parentSize) / half
	ly := (o.Y % parentSize) / half
	idx := int(lx) | int(ly)<<1
	if o.Dim == 3 {
		lz := (o.Z % parentSize) / half
		idx |= int(lz) << 2
	}
	return idx
}

// LogicalNode returns the integer coordinates of corner k (0..NNodes-1).
func (o Octant) LogicalNode(tc *morton.TreeConstants, k int) (x, y, z uint32) {
	c := tc.NodeCoeff[k]
	s := int64(o.Size())
	x = uint32(int64(o.X) + (int64(c[0])+1)/2*s)
	y = uint32(int64(o.Y) + (int64(c[1])+1)/2*s)
	if o.Dim == 3 {
		z = uint32(int64(o.Z) + (int64(c[2])+1)/2*s)
	}
	return
}

// NodePersistentKey returns a stable key for node k, independent of which
// octant owns it: the Morton code of the node's coordinates at MaxLevel
// resolution.
func (o Octant) NodePersistentKey(tc *morton.TreeConstants, k int) morton.Key {
	x, y, z := o.LogicalNode(tc, k)
	return morton.Encode(o.Dim, x, y, z)
}

// Normal returns the outward integer normal of face f.
func (o Octant) Normal(tc *morton.TreeConstants, f int) [3]int {
	return tc.FaceNormal[f]
}

// Bound reports the domain-boundary flag for face f.
func (o Octant) Bound(f int) bool { return o.Info.Boundary(f) }

// PBound reports the partition-boundary flag for face f.
func (o Octant) PBound(f int) bool { return o.Info.PBound(f) }

// FaceNeighborAnchor computes the anchor of the (hypothetical) neighbor
// reached by crossing face f, without any knowledge of periodicity or tree
// membership; it is the caller's job to reject out-of-domain results
// unless the face is periodic.
func (o Octant) FaceNeighborAnchor(tc *morton.TreeConstants, f int) (x, y, z int64, ok bool) {
	n := tc.FaceNormal[f]
	s := int64(o.Size())
	x = int64(o.X) + int64(n[0])*s
	y = int64(o.Y) + int64(n[1])*s
	z = int64(o.Z) + int64(n[2])*s
	domain := int64(1) << uint(morton.MaxLevel)
	if x < 0 || y < 0 || z < 0 || x >= domain || y >= domain || (o.Dim == 3 && z >= domain) {
		return x, y, z, false
	}
	return x, y, z, true
}

// ValidateAnchor checks the invariants named in spec §8.1: level within
// range and anchor aligned to the octant's own size.
func (o Octant) ValidateAnchor() error {
	if o.Level < 0 || int(o.Level) > morton.MaxLevel {
		return errors.Errorf("error invalid octant level %d", o.Level)
	}
	s := o.Size()
	if o.X%s != 0 || o.Y%s != 0 || (o.Dim == 3 && o.Z%s != 0) {
		return errors.Errorf("error octant anchor (%d,%d,%d) not aligned to size %d", o.X, o.Y, o.Z, s)
	}
	return nil
}
