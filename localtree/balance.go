package localtree

// BalanceOnePass runs one local sweep of the 2:1 balance rule (spec §4.3):
// for every octant whose hypothetical post-adapt level would out-pace a
// neighbor's by more than one, raise the neighbor's marker by the minimum
// amount needed to close the gap. It examines only the entity kinds
// selected by BalanceCodim. When allowGhostPropagation is false, only
// internal octants are sources and only internal neighbors are raised --
// matching the "initial pass considers only existing octants" rule; the
// caller passes true once ghost markers have been exchanged, which also
// lets ghost octants act as sources that raise internal neighbors.
//
// Returns whether any marker changed, so the caller (paratree's balance
// engine) can iterate to a fixpoint.
func (lt *LocalTree) BalanceOnePass(allowGhostPropagation bool) (bool, error) {
	changed := false
	sources := make([]Handle, 0, len(lt.Octants)+len(lt.Ghosts))
	for i := range lt.Octants {
		sources = append(sources, Handle{Index: i})
	}
	if allowGhostPropagation {
		for i := range lt.Ghosts {
			sources = append(sources, Handle{Index: i, IsGhost: true})
		}
	}
	for _, src := range sources {
		o := lt.handleOctant(src)
		if !o.BalanceEnabled {
			continue
		}
		targetLevel := int(o.Level) + int(o.Marker)

		neighbors, err := lt.FindBalanceNeighbours(src.Index, src.IsGhost)
		if err != nil {
			return false, err
		}
		for _, h := range neighbors {
			if h.IsGhost && (!allowGhostPropagation || src.IsGhost) {
				continue
			}
			nb := lt.handleOctant(h)
			if !nb.BalanceEnabled {
				continue
			}
			nbTarget := int(nb.Level) + int(nb.Marker)
			if targetLevel-nbTarget <= 1 {
				continue
			}
			need := int8(targetLevel - nbTarget - 1)
			if h.IsGhost {
				lt.Ghosts[h.Index].Marker += need
			} else {
				lt.Octants[h.Index].Marker += need
			}
			changed = true
		}
	}
	return changed, nil
}

// BalanceToFixpoint repeatedly runs BalanceOnePass until it reports no
// further change, implementing the "iterate to fixpoint on the local list"
// rule of spec §4.3.
func (lt *LocalTree) BalanceToFixpoint(allowGhostPropagation bool) (bool, error) {
	any := false
	for {
		changed, err := lt.BalanceOnePass(allowGhostPropagation)
		if err != nil {
			return any, err
		}
		if !changed {
			return any, nil
		}
		any = true
	}
}
