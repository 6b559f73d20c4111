package paratree

import (
	"context"

	"github.com/pkg/errors"
)

// MappingEntry is one contributor to a post-adapt octant's provenance, per
// spec §4.5's mapping semantics.
type MappingEntry struct {
	OldIndex int
	IsGhost  bool
}

// PreAdapt runs the cross-process balance engine ahead of a later Adapt
// call and transitions last_op to PRE_ADAPT (spec §4.8), so that Adapt can
// skip its own initial balance pass (spec §4.5 step 3 precondition).
func (pt *ParaTree) PreAdapt(ctx context.Context) error {
	if _, err := pt.runBalanceEngine(ctx); err != nil {
		return err
	}
	pt.lastOp = OpPreAdapt
	return nil
}

// SettleMarkers runs the balance engine to a global fixpoint without
// performing any refine/coarse, so that a subsequent Adapt's own balance
// pass finds nothing left to change (spec §8 testable property 9; spec
// §6.1 settle_markers).
func (pt *ParaTree) SettleMarkers(ctx context.Context) error {
	_, err := pt.runBalanceEngine(ctx)
	return err
}

// Adapt runs the full adaptation pipeline of spec §4.5 and returns whether
// the global octant count changed on any process.
func (pt *ParaTree) Adapt(ctx context.Context, mapping bool) (bool, error) {
	pt.local.ResetAdaptFlags()
	pt.local.ResetMapping(mapping)

	if pt.lastOp != OpPreAdapt {
		if _, err := pt.runBalanceEngine(ctx); err != nil {
			return false, err
		}
	}

	refined := pt.local.Refine(mapping)

	if err := pt.rebuildPartitionTable(ctx); err != nil {
		return false, err
	}
	beforeGlobal := pt.partition.GlobalCount()

	coarsened := pt.local.Coarse(mapping)
	if mapping {
		pt.local.DetectStraddlingFamilies()
	}

	if err := pt.rebuildPartitionTable(ctx); err != nil {
		return false, err
	}
	afterGlobal := pt.partition.GlobalCount()

	if !pt.serial {
		if err := pt.rebuildGhostHalo(ctx); err != nil {
			return false, err
		}
	}

	if mapping {
		pt.lastOp = OpAdaptMapped
	} else {
		pt.lastOp = OpAdaptUnmapped
	}
	pt.status++

	changed := refined || coarsened || beforeGlobal != afterGlobal
	globalChanged, err := pt.reduceChanged(ctx, changed)
	if err != nil {
		return false, err
	}
	return globalChanged, nil
}

func (pt *ParaTree) reduceChanged(ctx context.Context, changed bool) (bool, error) {
	if pt.serial {
		return changed, nil
	}
	return pt.group.AllReduceOr(ctx, pt.rank, changed)
}

// AdaptGlobalRefine marks every octant for one level of refinement and
// runs Adapt (spec §6.1 adapt_global_refine).
func (pt *ParaTree) AdaptGlobalRefine(ctx context.Context, mapping bool) (bool, error) {
	pt.local.SetAllMarkers(1)
	return pt.Adapt(ctx, mapping)
}

// AdaptGlobalCoarse marks every octant for one level of coarsening and
// runs Adapt (spec §6.1 adapt_global_coarse).
func (pt *ParaTree) AdaptGlobalCoarse(ctx context.Context, mapping bool) (bool, error) {
	pt.local.SetAllMarkers(-1)
	return pt.Adapt(ctx, mapping)
}

// GetMapping reports the pre-adapt provenance of post-adapt local octant
// newIdx, per spec §4.5's mapping semantics. It requires the most recent
// Adapt to have been called with mapping=true.
//
// Composition note (spec §9 open question): this module's mapping always
// describes provenance relative to the immediately preceding Adapt call
// only; chaining a load-balance's mapping with a later adapt's mapping is
// not attempted, per the spec's instruction to document rather than
// silently claim support for arbitrary chains (see DESIGN.md).
func (pt *ParaTree) GetMapping(newIdx int) ([]MappingEntry, error) {
	if pt.lastOp != OpAdaptMapped {
		return nil, errors.New("error get_mapping requires the most recent adapt to have run with mapping=true")
	}
	if newIdx < 0 || newIdx >= len(pt.local.MapIdx) {
		return nil, errors.Errorf("error local index %d out of range for mapping (len=%d)", newIdx, len(pt.local.MapIdx))
	}
	entries := pt.local.MapIdx[newIdx]
	out := make([]MappingEntry, len(entries))
	for k, old := range entries {
		out[k] = MappingEntry{OldIndex: old, IsGhost: false}
	}
	return out, nil
}
