// Package morton implements the Morton (Z-order) bit-interleave codec and
// the per-dimension tree constant tables shared by the rest of the octree.
package morton

// MaxLevel is the integer coordinate bit-width shared by every tree in this
// module, regardless of dimension. The original PABLO implementation lets
// this vary per instantiation (20 in 3D, 30 in 2D); this module fixes a
// single value so that Morton keys for 2D and 3D trees pack into the same
// 64-bit Key type without a per-instance bit budget, at the cost of some
// headroom in 2D. See DESIGN.md "Open Questions".
const MaxLevel = 20

// Key is a 64-bit Morton index. Ordering on Key is the ordering imposed by
// Encode: Key values sort consistently with Z-order traversal.
type Key uint64

// TreeConstants holds the fixed per-dimension face/edge/node incidence and
// geometry tables. There is exactly one instance per supported dimension;
// callers obtain it via For(dim).
type TreeConstants struct {
	Dim int

	NFaces        int
	NEdges        int
	NNodes        int
	NNodesPerFace int

	// FaceNormal gives the outward-pointing unit offset (in units of octant
	// side length) for each face index.
	FaceNormal [][3]int

	// OppositeFace maps a face index to the index of the face on the
	// opposite side of the octant.
	OppositeFace []int

	// FaceNode lists, for each face, the node indices incident to it.
	FaceNode [][]int

	// NodeFace lists, for each node, the face indices incident to it.
	NodeFace [][]int

	// EdgeFace lists, for each edge (3D only), the two face indices
	// incident to it. Empty in 2D.
	EdgeFace [][2]int

	// EdgeNode lists, for each edge (3D only), the two node indices
	// incident to it. Empty in 2D.
	EdgeNode [][2]int

	// NodeCoeff gives the (+1/-1) per-axis sign offset of node i relative
	// to the octant anchor, used to compute node coordinates.
	NodeCoeff [][3]int

	// EdgeCoeff gives, for each edge (3D only), the (+1/-1) per-axis sign
	// offset of the edge midpoint-adjacent neighbor direction. Empty in 2D.
	EdgeCoeff [][3]int
}

var constants2D = TreeConstants{
	Dim:           2,
	NFaces:        4,
	NEdges:        0,
	NNodes:        4,
	NNodesPerFace: 2,
	FaceNormal: [][3]int{
		{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0},
	},
	OppositeFace: []int{1, 0, 3, 2},
	FaceNode: [][]int{
		{0, 2}, {1, 3}, {0, 1}, {2, 3},
	},
	NodeFace: [][]int{
		{0, 2}, {1, 2}, {0, 3}, {1, 3},
	},
	EdgeFace: nil,
	EdgeNode: nil,
	NodeCoeff: [][3]int{
		{-1, -1, 0}, {1, -1, 0}, {-1, 1, 0}, {1, 1, 0},
	},
	EdgeCoeff: nil,
}

var constants3D = TreeConstants{
	Dim:           3,
	NFaces:        6,
	NEdges:        12,
	NNodes:        8,
	NNodesPerFace: 4,
	FaceNormal: [][3]int{
		{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1},
	},
	OppositeFace: []int{1, 0, 3, 2, 5, 4},
	FaceNode: [][]int{
		{0, 2, 4, 6}, {1, 3, 5, 7},
		{0, 1, 4, 5}, {2, 3, 6, 7},
		{0, 1, 2, 3}, {4, 5, 6, 7},
	},
	NodeFace: [][]int{
		{0, 2, 4}, {1, 2, 4}, {0, 3, 4}, {1, 3, 4},
		{0, 2, 5}, {1, 2, 5}, {0, 3, 5}, {1, 3, 5},
	},
	EdgeFace: [][2]int{
		{2, 4}, {3, 4}, {2, 5}, {3, 5},
		{0, 4}, {1, 4}, {0, 5}, {1, 5},
		{0, 2}, {1, 2}, {0, 3}, {1, 3},
	},
	EdgeNode: [][2]int{
		{0, 1}, {2, 3}, {4, 5}, {6, 7},
		{0, 2}, {1, 3}, {4, 6}, {5, 7},
		{0, 4}, {1, 5}, {2, 6}, {3, 7},
	},
	NodeCoeff: [][3]int{
		{-1, -1, -1}, {1, -1, -1}, {-1, 1, -1}, {1, 1, -1},
		{-1, -1, 1}, {1, -1, 1}, {-1, 1, 1}, {1, 1, 1},
	},
	EdgeCoeff: [][3]int{
		{0, -1, -1}, {0, 1, -1}, {0, -1, 1}, {0, 1, 1},
		{-1, 0, -1}, {1, 0, -1}, {-1, 0, 1}, {1, 0, 1},
		{-1, -1, 0}, {1, -1, 0}, {-1, 1, 0}, {1, 1, 0},
	},
}

// For returns the fixed TreeConstants table for the given dimension.
// dim must be 2 or 3; callers that validate dim at construction (as
// paratree.New does) may assume this never fails.
func For(dim int) *TreeConstants {
	switch dim {
	case 2:
		return &constants2D
	case 3:
		return &constants3D
	default:
		return nil
	}
}
