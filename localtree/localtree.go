// Package localtree implements the process-local Morton-sorted octant
// sequence named in spec §3/§4.3: sorting, binary-search-based neighbor
// queries, and the local refine/coarse/balance steps. It knows nothing
// about other processes; cross-process coordination (marker exchange,
// ghost-halo construction, load-balance) lives in the paratree, ghost and
// loadbalance packages, which drive a LocalTree per rank.
package localtree

import (
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
)

// Handle is the tagged {local_idx, is_ghost} reference named in spec §9,
// used in place of a pointer to an octant so that references never dangle
// across an adapt or load-balance (which invalidate indices wholesale).
type Handle struct {
	Index   int
	IsGhost bool
}

// LocalTree owns one process's Morton-sorted octants and ghost octants.
type LocalTree struct {
	Dim int
	TC  *morton.TreeConstants

	Octants []octant.Octant
	Ghosts  []octant.Octant

	// GhostGlobalIDs[i] is the globally-assigned index of Ghosts[i].
	GhostGlobalIDs []uint64

	// Periodic[f] marks face f (and, transitively through OppositeFace, its
	// paired face) as periodic.
	Periodic [6]bool

	// BalanceCodim selects which entity kinds participate in 2:1 balancing:
	// 1 = faces only, 2 = faces+edges in 3D (faces+nodes in 2D),
	// 3 = faces+edges+nodes (3D only).
	BalanceCodim int

	// MapIdx[i], when mapping is enabled, lists the pre-adapt local indices
	// that contributed to the current Octants[i]: length 1 for an unchanged
	// or refined octant (its single parent/identity), length 2^Dim for the
	// result of a coarsen (spec §4.5 mapping semantics).
	MapIdx [][]int

	// FirstGhostBros/LastGhostBros record, for a sibling family that
	// straddles a partition boundary and is fully marked for coarsening,
	// the ghost-local indices on this process that complete the family
	// owned by a neighbor (spec §4.3 "Coarse step"). Keyed by the local
	// index of the internal sibling that would anchor the family.
	FirstGhostBros map[int][]int
	LastGhostBros  map[int][]int

	logger golog.Logger
}

// New constructs an empty LocalTree for the given dimension (2 or 3).
func New(dim int, logger golog.Logger) (*LocalTree, error) {
	if dim != 2 && dim != 3 {
		return nil, errors.Errorf("error invalid dimension %d", dim)
	}
	return &LocalTree{
		Dim:          dim,
		TC:           morton.For(dim),
		BalanceCodim: 1,
		logger:       logger,
	}, nil
}

// InitRoot replaces Octants with the single root octant. Used by ParaTree
// when constructing a fresh, non-restored tree.
func (lt *LocalTree) InitRoot() {
	lt.Octants = []octant.Octant{octant.New(lt.Dim)}
}

// SetBalanceCodim validates and sets the balance codimension (spec §9,
// "original's 'balance codim' is configurable per tree").
func (lt *LocalTree) SetBalanceCodim(codim int) error {
	max := 2
	if lt.Dim == 3 {
		max = 3
	}
	if codim < 1 || codim > max {
		return errors.Errorf("error invalid balance codimension %d for dim %d", codim, lt.Dim)
	}
	lt.BalanceCodim = codim
	return nil
}

// Len returns the number of internal (non-ghost) octants.
func (lt *LocalTree) Len() int { return len(lt.Octants) }

// octantLess is the strict total order named in spec §3: Morton of anchor
// first, then level ascending (ancestors precede descendants).
func octantLess(a, b octant.Octant) bool {
	ma, mb := a.Morton(), b.Morton()
	if ma != mb {
		return ma < mb
	}
	return a.Level < b.Level
}

// SortOctants restores Morton order on Octants. Most mutating operations
// (Refine, Coarse) preserve order incrementally and never need this; it
// exists for load-balance receive-merges and restore().
func (lt *LocalTree) SortOctants() {
	sort.Slice(lt.Octants, func(i, j int) bool { return octantLess(lt.Octants[i], lt.Octants[j]) })
}

// SortGhosts restores Morton order on Ghosts, keeping GhostGlobalIDs in
// lockstep.
func (lt *LocalTree) SortGhosts() {
	idx := make([]int, len(lt.Ghosts))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return octantLess(lt.Ghosts[idx[i]], lt.Ghosts[idx[j]]) })
	ghosts := make([]octant.Octant, len(lt.Ghosts))
	ids := make([]uint64, len(lt.Ghosts))
	for newPos, oldPos := range idx {
		ghosts[newPos] = lt.Ghosts[oldPos]
		ids[newPos] = lt.GhostGlobalIDs[oldPos]
	}
	lt.Ghosts = ghosts
	lt.GhostGlobalIDs = ids
}

// FirstDescMorton and LastDescMorton report the cached Morton endpoints of
// this process's owned range, per spec §3 "first_desc_morton,
// last_desc_morton". Empty trees report a zero range.
func (lt *LocalTree) FirstDescMorton() morton.Key {
	if len(lt.Octants) == 0 {
		return 0
	}
	return lt.Octants[0].Morton()
}

func (lt *LocalTree) LastDescMorton() morton.Key {
	if len(lt.Octants) == 0 {
		return 0
	}
	last := lt.Octants[len(lt.Octants)-1]
	return last.LastDescendantMorton()
}

func (lt *LocalTree) handleOctant(h Handle) octant.Octant {
	if h.IsGhost {
		return lt.Ghosts[h.Index]
	}
	return lt.Octants[h.Index]
}

func (lt *LocalTree) octantAt(i int, isGhost bool) (octant.Octant, error) {
	list := lt.Octants
	if isGhost {
		list = lt.Ghosts
	}
	if i < 0 || i >= len(list) {
		return octant.Octant{}, errors.Errorf("error local index %d out of range (ghost=%v, len=%d)", i, isGhost, len(list))
	}
	return list[i], nil
}

// Validate checks invariant 1 of spec §8 on the internal octant list:
// strict Morton order, valid level, aligned anchor.
func (lt *LocalTree) Validate() error {
	for i, o := range lt.Octants {
		if err := o.ValidateAnchor(); err != nil {
			return errors.Wrapf(err, "octant %d", i)
		}
		if i > 0 && !octantLess(lt.Octants[i-1], o) {
			return errors.Errorf("error octants not strictly Morton-ordered at index %d", i)
		}
	}
	return nil
}

// regionMembers returns, from a Morton-sorted list, the indices of every
// octant whose extent intersects the axis-aligned region anchored at
// (x,y,z) with side length size: the coarser ancestor immediately
// preceding the region in Morton order (if its extent reaches into it),
// plus every finer octant tiling the region. This implements spec §4.3's
// "binary-search... for smallest Morton >= target, then walk locally until
// Morton leaves the candidate's descendant range" in a single pass.
func regionMembers(list []octant.Octant, dim int, x, y, z, size uint32) []int {
	first := morton.FirstDescendant(dim, x, y, z)
	last := morton.LastDescendant(dim, x, y, z, size)
	lo := sort.Search(len(list), func(i int) bool { return list[i].Morton() >= first })

	var out []int
	if lo > 0 && list[lo-1].LastDescendantMorton() >= first {
		out = append(out, lo-1)
	}
	for i := lo; i < len(list) && list[i].Morton() <= last; i++ {
		out = append(out, i)
	}
	return out
}

type candidate struct {
	idx    int
	ghost  bool
	octant octant.Octant
}

func (lt *LocalTree) regionMembersBoth(x, y, z, size uint32) []candidate {
	var out []candidate
	for _, i := range regionMembers(lt.Octants, lt.Dim, x, y, z, size) {
		out = append(out, candidate{idx: i, ghost: false, octant: lt.Octants[i]})
	}
	for _, i := range regionMembers(lt.Ghosts, lt.Dim, x, y, z, size) {
		out = append(out, candidate{idx: i, ghost: true, octant: lt.Ghosts[i]})
	}
	return out
}
