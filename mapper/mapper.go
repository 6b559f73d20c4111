// Package mapper defines the coordinate-mapper collaborator interface named
// in spec §6.4: translation from the tree's logical [0, 2^MaxLevel)
// integer coordinates to physical space. It is out of scope for the core
// (spec §1); this package only specifies the contract the tree's
// physical-coordinate getters call through, plus a reference
// implementation (the identity map over the unit cube) used by tests and
// examples, following the r3.Vector convention the teacher uses throughout
// (github.com/golang/geo/r3, see octree.basicOctree.center).
package mapper

import "github.com/golang/geo/r3"

// CoordinateMapper translates logical integer coordinates (each in
// [0, 2^MaxLevel)) into physical space. Implementations are expected to be
// pure and side-effect free; the tree calls them only from getters.
type CoordinateMapper interface {
	MapX(u uint32) float64
	MapY(u uint32) float64
	MapZ(u uint32) float64

	MapSize(level int8) float64
	MapArea(level int8) float64
	MapVolume(level int8) float64

	MapCenter(x, y, z uint32, level int8) r3.Vector
	MapNode(x, y, z uint32) r3.Vector
	MapNormal(dim int, face int) r3.Vector
}

// Identity is the reference CoordinateMapper: the unit cube [0,1]^3, with
// logical coordinates scaled linearly by 2^-MaxLevel. Dim selects whether
// MapZ/the z-component of MapCenter are meaningful.
type Identity struct {
	Dim      int
	MaxLevel int
}

// NewIdentity constructs an Identity mapper for the given dimension and
// integer coordinate bit-width.
func NewIdentity(dim, maxLevel int) Identity {
	return Identity{Dim: dim, MaxLevel: maxLevel}
}

func (m Identity) scale() float64 {
	return 1.0 / float64(uint64(1)<<uint(m.MaxLevel))
}

func (m Identity) MapX(u uint32) float64 { return float64(u) * m.scale() }
func (m Identity) MapY(u uint32) float64 { return float64(u) * m.scale() }
func (m Identity) MapZ(u uint32) float64 {
	if m.Dim != 3 {
		return 0
	}
	return float64(u) * m.scale()
}

func (m Identity) sizeAt(level int8) float64 {
	return float64(uint64(1)<<uint(m.MaxLevel-int(level))) * m.scale()
}

func (m Identity) MapSize(level int8) float64 { return m.sizeAt(level) }

func (m Identity) MapArea(level int8) float64 {
	s := m.sizeAt(level)
	if m.Dim == 2 {
		return s
	}
	return s * s
}

func (m Identity) MapVolume(level int8) float64 {
	s := m.sizeAt(level)
	v := s
	for i := 1; i < m.Dim; i++ {
		v *= s
	}
	return v
}

func (m Identity) MapCenter(x, y, z uint32, level int8) r3.Vector {
	s := m.sizeAt(level)
	v := r3.Vector{X: m.MapX(x) + s/2, Y: m.MapY(y) + s/2}
	if m.Dim == 3 {
		v.Z = m.MapZ(z) + s/2
	}
	return v
}

func (m Identity) MapNode(x, y, z uint32) r3.Vector {
	v := r3.Vector{X: m.MapX(x), Y: m.MapY(y)}
	if m.Dim == 3 {
		v.Z = m.MapZ(z)
	}
	return v
}

func (m Identity) MapNormal(dim int, face int) r3.Vector {
	normals2D := []r3.Vector{{X: -1}, {X: 1}, {Y: -1}, {Y: 1}}
	normals3D := []r3.Vector{{X: -1}, {X: 1}, {Y: -1}, {Y: 1}, {Z: -1}, {Z: 1}}
	if dim == 2 {
		return normals2D[face]
	}
	return normals3D[face]
}
