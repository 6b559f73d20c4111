package localtree

import (
	"sort"

	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
)

// NodeCodim returns the codimension index this tree uses for "node" entity
// queries: 2 in 2D (faces=1, nodes=2, no edges) and 3 in 3D (faces=1,
// edges=2, nodes=3).
func (lt *LocalTree) NodeCodim() int {
	if lt.Dim == 3 {
		return 3
	}
	return 2
}

func (lt *LocalTree) entityOffset(codim, idx int) [3]int {
	switch codim {
	case 1:
		return lt.TC.FaceNormal[idx]
	case 2:
		if lt.Dim == 3 {
			return lt.TC.EdgeCoeff[idx]
		}
		return lt.TC.NodeCoeff[idx]
	default:
		return lt.TC.NodeCoeff[idx]
	}
}

func signOf(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func (lt *LocalTree) faceIndexForDirection(axis, sign int) int {
	for f, n := range lt.TC.FaceNormal {
		if n[axis] == sign {
			return f
		}
	}
	return -1
}

// wrapOrReject folds a candidate coordinate back into [0, domain) if the
// corresponding face is periodic, and otherwise reports whether it stayed
// within the unit domain.
func (lt *LocalTree) wrapOrReject(axis, sign int, coord int64) (int64, bool) {
	domain := int64(1) << uint(morton.MaxLevel)
	if coord >= 0 && coord < domain {
		return coord, true
	}
	f := lt.faceIndexForDirection(axis, sign)
	if f >= 0 && f < lt.TC.NFaces && lt.Periodic[f] {
		if coord < 0 {
			coord += domain
		} else {
			coord -= domain
		}
		return coord, true
	}
	return coord, false
}

// entityTargetAnchor computes the hypothetical same-level neighbor anchor
// reached from o across the given entity (face/edge/node), honoring
// periodicity per axis. ok=false means the entity lies on a non-periodic
// domain boundary and has no neighbor.
func (lt *LocalTree) entityTargetAnchor(o octant.Octant, codim, idx int) (x, y, z uint32, ok bool) {
	off := lt.entityOffset(codim, idx)
	s := int64(o.Size())

	tx := int64(o.X) + int64(off[0])*s
	ty := int64(o.Y) + int64(off[1])*s
	tz := int64(o.Z) + int64(off[2])*s

	var okx, oky, okz bool
	tx, okx = lt.wrapOrReject(0, signOf(off[0]), tx)
	ty, oky = lt.wrapOrReject(1, signOf(off[1]), ty)
	if lt.Dim == 3 {
		tz, okz = lt.wrapOrReject(2, signOf(off[2]), tz)
	} else {
		tz, okz = 0, true
	}
	if !okx || !oky || !okz {
		return 0, 0, 0, false
	}
	return uint32(tx), uint32(ty), uint32(tz), true
}

// EntityTargetAnchor exposes entityTargetAnchor to collaborators (notably
// the ghost-halo builder) that need a virtual neighbor position without
// any existing local or ghost octant to search against yet.
func (lt *LocalTree) EntityTargetAnchor(o octant.Octant, codim, idx int) (x, y, z uint32, ok bool) {
	return lt.entityTargetAnchor(o, codim, idx)
}

// Codims lists, in order, the entity codimensions this tree supports:
// faces always, edges only in 3D, and nodes last.
func (lt *LocalTree) Codims() []int {
	if lt.Dim == 3 {
		return []int{1, 2, 3}
	}
	return []int{1, 2}
}

// EntityCount returns how many entity indices exist for the given
// codimension (NFaces, NEdges or NNodes as appropriate).
func (lt *LocalTree) EntityCount(codim int) int {
	switch {
	case codim == 1:
		return lt.TC.NFaces
	case codim == lt.NodeCodim():
		return lt.TC.NNodes
	default:
		return lt.TC.NEdges
	}
}

func boxContainsPoint(o octant.Octant, dim int, x, y, z uint32) bool {
	s := o.Size()
	if x < o.X || x > o.X+s {
		return false
	}
	if y < o.Y || y > o.Y+s {
		return false
	}
	if dim == 3 && (z < o.Z || z > o.Z+s) {
		return false
	}
	return true
}

func coordAxis(o octant.Octant, axis int) uint32 {
	switch axis {
	case 0:
		return o.X
	case 1:
		return o.Y
	default:
		return o.Z
	}
}

// edgeLine returns the geometry of the line segment occupied by edge idx of
// o: the two axes the edge is fixed along (and their coordinates), the one
// free axis, and its [lo, hi) extent.
func edgeLine(o octant.Octant, coeff [3]int) (fixedAxis1, fixedAxis2, freeAxis int, f1, f2, lo, hi uint32) {
	s := int64(o.Size())
	base := [3]int64{int64(o.X), int64(o.Y), int64(o.Z)}
	freeAxis = -1
	for a := 0; a < 3; a++ {
		if coeff[a] == 0 {
			freeAxis = a
		}
	}
	fixed := make([]int, 0, 2)
	for a := 0; a < 3; a++ {
		if a != freeAxis {
			fixed = append(fixed, a)
		}
	}
	fixedAxis1, fixedAxis2 = fixed[0], fixed[1]
	coordAt := func(axis int) uint32 {
		return uint32(base[axis] + (int64(coeff[axis])+1)/2*s)
	}
	f1 = coordAt(fixedAxis1)
	f2 = coordAt(fixedAxis2)
	lo = uint32(base[freeAxis])
	hi = uint32(base[freeAxis] + s)
	return
}

func edgeTouchesCandidate(o octant.Octant, coeff [3]int, cand octant.Octant) bool {
	fa1, fa2, free, f1, f2, lo, hi := edgeLine(o, coeff)
	s := cand.Size()
	c1, c2, cf := coordAxis(cand, fa1), coordAxis(cand, fa2), coordAxis(cand, free)
	if f1 < c1 || f1 > c1+s {
		return false
	}
	if f2 < c2 || f2 > c2+s {
		return false
	}
	return lo < cf+s && cf < hi
}

// entityContainsCandidate implements the hanging-node filter named in spec
// §4.3: a finer candidate only counts as touching an edge/node entity if
// its closed box geometrically contains that entity's line/point, and only
// counts as touching a face if it lies against the face plane, not merely
// inside the enclosing probe region used to find it cheaply.
func (lt *LocalTree) entityContainsCandidate(o octant.Octant, codim, idx int, cand octant.Octant) bool {
	if codim == 1 {
		if cand.Level <= o.Level {
			return true
		}
		domain := uint32(1) << uint(morton.MaxLevel)
		for a, na := range lt.TC.FaceNormal[idx] {
			c, oc := coordAxis(cand, a), coordAxis(o, a)
			switch {
			case na > 0:
				return c == (oc+o.Size())%domain
			case na < 0:
				return (c+cand.Size())%domain == oc
			}
		}
		return true
	}
	if codim == lt.NodeCodim() {
		nx, ny, nz := o.LogicalNode(lt.TC, idx)
		return boxContainsPoint(cand, lt.Dim, nx, ny, nz)
	}
	// codim == 2 in 3D: edge.
	return edgeTouchesCandidate(o, lt.TC.EdgeCoeff[idx], cand)
}

// sortAndDedupeHandles orders handles in Morton order (internal before
// ghost at equal Morton, an arbitrary but stable tie-break) and removes
// duplicates.
func (lt *LocalTree) sortAndDedupeHandles(hs []Handle) []Handle {
	sort.Slice(hs, func(i, j int) bool {
		oi, oj := lt.handleOctant(hs[i]), lt.handleOctant(hs[j])
		mi, mj := oi.Morton(), oj.Morton()
		if mi != mj {
			return mi < mj
		}
		if hs[i].IsGhost != hs[j].IsGhost {
			return !hs[i].IsGhost
		}
		return hs[i].Index < hs[j].Index
	})
	out := hs[:0]
	seen := make(map[Handle]bool, len(hs))
	for _, h := range hs {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// FindNeighbours implements spec §6.1's find_neighbours: all octants
// (internal or ghost) that touch local octant i through the given entity
// (face/edge/node, selected by entityCodim) at index entityIdx. The
// octant itself is always excluded.
func (lt *LocalTree) FindNeighbours(i, entityCodim, entityIdx int) ([]Handle, error) {
	return lt.findEntityNeighbours(i, false, entityCodim, entityIdx)
}

// FindGhostNeighbours is FindNeighbours rooted at a ghost octant instead of
// an internal one, used while expanding accretion seeds (spec §4.7).
func (lt *LocalTree) FindGhostNeighbours(i, entityCodim, entityIdx int) ([]Handle, error) {
	return lt.findEntityNeighbours(i, true, entityCodim, entityIdx)
}

func (lt *LocalTree) findEntityNeighbours(i int, isGhost bool, codim, idx int) ([]Handle, error) {
	o, err := lt.octantAt(i, isGhost)
	if err != nil {
		return nil, err
	}
	x, y, z, ok := lt.entityTargetAnchor(o, codim, idx)
	if !ok {
		return nil, nil
	}
	s := o.Size()
	var handles []Handle
	for _, c := range lt.regionMembersBoth(x, y, z, s) {
		if !isGhost && !c.ghost && c.idx == i {
			continue
		}
		if isGhost && c.ghost && c.idx == i {
			continue
		}
		if !lt.entityContainsCandidate(o, codim, idx, c.octant) {
			continue
		}
		handles = append(handles, Handle{Index: c.idx, IsGhost: c.ghost})
	}
	return lt.sortAndDedupeHandles(handles), nil
}

// FindAllCodimNeighbours implements spec §6.1's find_all_codim_neighbours:
// every face neighbor, every edge neighbor (3D only) and every node
// neighbor, deduplicated. The tree's BalanceCodim does not restrict it.
func (lt *LocalTree) FindAllCodimNeighbours(i int) ([]Handle, error) {
	return lt.findAllCodimNeighbours(i, false, lt.maxCodim())
}

// FindAllNodeNeighbours implements spec §6.1's find_all_node_neighbours.
func (lt *LocalTree) FindAllNodeNeighbours(i, node int) ([]Handle, error) {
	return lt.FindNeighbours(i, lt.NodeCodim(), node)
}

func (lt *LocalTree) maxCodim() int {
	if lt.Dim == 3 {
		return 3
	}
	return 2
}

func (lt *LocalTree) findAllCodimNeighbours(i int, isGhost bool, maxCodim int) ([]Handle, error) {
	var all []Handle
	for f := 0; f < lt.TC.NFaces; f++ {
		hs, err := lt.findEntityNeighbours(i, isGhost, 1, f)
		if err != nil {
			return nil, err
		}
		all = append(all, hs...)
	}
	if lt.Dim == 3 && maxCodim >= 2 {
		for e := 0; e < lt.TC.NEdges; e++ {
			hs, err := lt.findEntityNeighbours(i, isGhost, 2, e)
			if err != nil {
				return nil, err
			}
			all = append(all, hs...)
		}
	}
	if maxCodim >= lt.NodeCodim() {
		for n := 0; n < lt.TC.NNodes; n++ {
			hs, err := lt.findEntityNeighbours(i, isGhost, lt.NodeCodim(), n)
			if err != nil {
				return nil, err
			}
			all = append(all, hs...)
		}
	}
	return lt.sortAndDedupeHandles(all), nil
}

// FindBalanceNeighbours returns only the entity kinds enabled by
// BalanceCodim (spec §4.3 "2:1 balance (local)... codimension-1 neighbors
// (and codimension-2, codimension-3 if configured)").
func (lt *LocalTree) FindBalanceNeighbours(i int, isGhost bool) ([]Handle, error) {
	return lt.findAllCodimNeighbours(i, isGhost, lt.BalanceCodim)
}
