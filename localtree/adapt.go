package localtree

import "github.com/starwar9527/bitpit/octant"

// ResetMapping clears MapIdx, or seeds it to the identity (one old index
// per current octant) when mapping is requested, per spec §4.5 step 2.
func (lt *LocalTree) ResetMapping(mapping bool) {
	if !mapping {
		lt.MapIdx = nil
		return
	}
	lt.MapIdx = make([][]int, len(lt.Octants))
	for i := range lt.MapIdx {
		lt.MapIdx[i] = []int{i}
	}
}

// ResetAdaptFlags clears new-after-refinement/new-after-coarsening on every
// octant, per spec §4.5 step 1.
func (lt *LocalTree) ResetAdaptFlags() {
	for i := range lt.Octants {
		lt.Octants[i].Info = lt.Octants[i].Info.ResetAdaptFlags()
	}
}

// SetAllMarkers sets every octant's marker to v, the seed used by
// GlobalRefine/GlobalCoarse (spec §4.3).
func (lt *LocalTree) SetAllMarkers(v int8) {
	for i := range lt.Octants {
		lt.Octants[i].Marker = v
	}
}

// Refine repeatedly replaces every octant with marker > 0 by its 2^Dim
// children until no marker remains positive (spec §4.3 "Refine step"),
// composing MapIdx across iterations when mapping is enabled. It returns
// whether any refinement happened.
func (lt *LocalTree) Refine(mapping bool) bool {
	changed := false
	for {
		progressed := false
		next := make([]octant.Octant, 0, len(lt.Octants))
		var nextMap [][]int
		if mapping {
			nextMap = make([][]int, 0, len(lt.Octants))
		}
		for i, o := range lt.Octants {
			oldEntry := lt.mapEntry(i)
			if o.Marker > 0 {
				children := o.BuildChildren()
				next = append(next, children...)
				if mapping {
					for range children {
						nextMap = append(nextMap, oldEntry)
					}
				}
				progressed = true
				changed = true
				continue
			}
			next = append(next, o)
			if mapping {
				nextMap = append(nextMap, oldEntry)
			}
		}
		lt.Octants = next
		if mapping {
			lt.MapIdx = nextMap
		}
		if !progressed {
			break
		}
	}
	return changed
}

func (lt *LocalTree) mapEntry(i int) []int {
	if lt.MapIdx == nil || i >= len(lt.MapIdx) {
		return []int{i}
	}
	return lt.MapIdx[i]
}

func (lt *LocalTree) isSiblingFamily(group []octant.Octant) bool {
	if group[0].Level == 0 {
		return false
	}
	father := group[0].BuildFather()
	for idx, o := range group {
		if o.Level != group[0].Level {
			return false
		}
		if o.SiblingIndex() != idx {
			return false
		}
		f := o.BuildFather()
		if f.X != father.X || f.Y != father.Y || f.Z != father.Z || f.Level != father.Level {
			return false
		}
	}
	return true
}

func allMarkedForCoarsen(group []octant.Octant) bool {
	for _, o := range group {
		if o.Marker >= 0 {
			return false
		}
	}
	return true
}

// Coarse repeatedly collapses every run of 2^Dim consecutive octants that
// form a complete sibling family all marked for coarsening into their
// parent, until no eligible family remains (spec §4.3 "Coarse step").
func (lt *LocalTree) Coarse(mapping bool) bool {
	changed := false
	n := 1 << uint(lt.Dim)
	for {
		progressed := false
		next := make([]octant.Octant, 0, len(lt.Octants))
		var nextMap [][]int
		if mapping {
			nextMap = make([][]int, 0, len(lt.Octants))
		}
		i := 0
		for i < len(lt.Octants) {
			if i+n <= len(lt.Octants) &&
				lt.isSiblingFamily(lt.Octants[i:i+n]) &&
				allMarkedForCoarsen(lt.Octants[i:i+n]) {
				parent := lt.Octants[i].BuildFather()
				parent.Marker++
				next = append(next, parent)
				if mapping {
					var merged []int
					for k := 0; k < n; k++ {
						merged = append(merged, lt.mapEntry(i+k)...)
					}
					nextMap = append(nextMap, merged)
				}
				progressed = true
				changed = true
				i += n
				continue
			}
			next = append(next, lt.Octants[i])
			if mapping {
				nextMap = append(nextMap, lt.mapEntry(i))
			}
			i++
		}
		lt.Octants = next
		if mapping {
			lt.MapIdx = nextMap
		}
		if !progressed {
			break
		}
	}
	return changed
}

// DetectStraddlingFamilies scans for internal octants marked for coarsening
// whose sibling family is incomplete locally (some same-level siblings are
// ghosts owned by a neighbor), and records those ghost sibling indices in
// First/LastGhostBros. It only records indices: the ghosts' own markers are
// not checked, nothing in this module coarsens such a straddling family,
// and GetMapping does not read these maps.
func (lt *LocalTree) DetectStraddlingFamilies() {
	lt.FirstGhostBros = map[int][]int{}
	lt.LastGhostBros = map[int][]int{}
	n := 1 << uint(lt.Dim)
	for i, o := range lt.Octants {
		if o.Marker >= 0 || o.Level == 0 {
			continue
		}
		sibIdx := o.SiblingIndex()
		father := o.BuildFather()
		var ghostBros []int
		for s := 0; s < n; s++ {
			if s == sibIdx {
				continue
			}
			for gi, g := range lt.Ghosts {
				if g.Level != o.Level || g.SiblingIndex() != s {
					continue
				}
				gf := g.BuildFather()
				if gf.X == father.X && gf.Y == father.Y && gf.Z == father.Z && gf.Level == father.Level {
					ghostBros = append(ghostBros, gi)
					break
				}
			}
		}
		if len(ghostBros) == 0 {
			continue
		}
		if sibIdx == 0 {
			lt.FirstGhostBros[i] = ghostBros
		}
		if sibIdx == n-1 {
			lt.LastGhostBros[i] = ghostBros
		}
	}
}
