package paratree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/partition"
)

// rebuildPartitionTable re-gathers every rank's owned-range endpoints and
// rebuilds the replicated PartitionTable, per the "update partition table"
// step shared by the adapt and load-balance pipelines (spec §4.5 step 5,
// §4.6 step 6).
func (pt *ParaTree) rebuildPartitionTable(ctx context.Context) error {
	counts := []uint64{uint64(pt.local.Len())}
	firstDesc := []morton.Key{pt.local.FirstDescMorton()}
	lastDesc := []morton.Key{pt.local.LastDescMorton()}
	if !pt.serial {
		counts = make([]uint64, pt.nproc)
		counts[pt.rank] = uint64(pt.local.Len())
		firstDesc = make([]morton.Key, pt.nproc)
		lastDesc = make([]morton.Key, pt.nproc)
		firstDesc[pt.rank] = pt.local.FirstDescMorton()
		lastDesc[pt.rank] = pt.local.LastDescMorton()
		var err error
		counts, firstDesc, lastDesc, err = pt.exchangePartitionInputs(ctx, counts, firstDesc, lastDesc)
		if err != nil {
			return err
		}
	}
	table, err := partition.Build(counts, firstDesc, lastDesc)
	if err != nil {
		return err
	}
	pt.partition = table
	return nil
}

// rebuildGhostHalo reruns the accretion algorithm and replaces Ghosts /
// GhostGlobalIDs (spec §4.7); in serial mode it only clears them.
func (pt *ParaTree) rebuildGhostHalo(ctx context.Context) error {
	if pt.serial {
		pt.local.Ghosts = nil
		pt.local.GhostGlobalIDs = nil
		return nil
	}
	offset := pt.localOffset()
	ghosts, ids, err := pt.ghostBuilder.BuildHalo(ctx, pt.local, pt.partition, func(i int) uint64 { return offset + uint64(i) }, pt.ghostNofLayers)
	if err != nil {
		return errors.Wrap(err, "rebuilding ghost halo")
	}
	pt.local.Ghosts = ghosts
	pt.local.GhostGlobalIDs = ids
	return nil
}
