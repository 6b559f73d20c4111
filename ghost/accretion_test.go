package ghost

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"golang.org/x/sync/errgroup"

	"github.com/starwar9527/bitpit/comm"
	"github.com/starwar9527/bitpit/localtree"
	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
	"github.com/starwar9527/bitpit/partition"
)

// buildSplitTree constructs a 2D tree refined twice (16 octants) and
// slices out the half owned by rank, mirroring scenario S6's 2x8 split.
func buildSplitTree(t *testing.T, rank int) (*localtree.LocalTree, *partition.Table) {
	lt, err := localtree.New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)
	lt.SetAllMarkers(1)
	lt.Refine(false)
	test.That(t, len(lt.Octants), test.ShouldEqual, 16)

	all := make([]octant.Octant, len(lt.Octants))
	copy(all, lt.Octants)

	if rank == 0 {
		lt.Octants = all[:8]
	} else {
		lt.Octants = all[8:]
	}

	tbl, err := partition.Build(
		[]uint64{8, 8},
		[]morton.Key{all[0].Morton(), all[8].Morton()},
		[]morton.Key{all[7].LastDescendantMorton(), all[15].LastDescendantMorton()},
	)
	test.That(t, err, test.ShouldBeNil)
	return lt, tbl
}

func TestGhostHaloCompletenessTwoRanks(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	g, err := comm.NewGroup(2, logger)
	test.That(t, err, test.ShouldBeNil)

	var eg errgroup.Group
	ghostCounts := make([]int, 2)
	ghostLayers := make([][]int8, 2)
	for r := 0; r < 2; r++ {
		r := r
		eg.Go(func() error {
			lt, tbl := buildSplitTree(t, r)
			builder := NewBuilder(2, g, r, logger)
			offset := uint64(0)
			if r == 1 {
				offset = 8
			}
			ghosts, _, err := builder.BuildHalo(ctx, lt, tbl, func(i int) uint64 { return offset + uint64(i) }, 2)
			if err != nil {
				return err
			}
			ghostCounts[r] = len(ghosts)
			for _, gh := range ghosts {
				ghostLayers[r] = append(ghostLayers[r], gh.GhostLayer)
			}
			return nil
		})
	}
	test.That(t, eg.Wait(), test.ShouldBeNil)

	test.That(t, ghostCounts[0], test.ShouldBeGreaterThan, 0)
	test.That(t, ghostCounts[1], test.ShouldBeGreaterThan, 0)
	for _, layers := range ghostLayers {
		for _, l := range layers {
			test.That(t, l, test.ShouldBeGreaterThanOrEqualTo, int8(0))
			test.That(t, l, test.ShouldBeLessThanOrEqualTo, int8(1))
		}
	}
}
