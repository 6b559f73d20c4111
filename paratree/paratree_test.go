package paratree

import (
	"bytes"
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"golang.org/x/sync/errgroup"

	"github.com/starwar9527/bitpit/comm"
)

func TestGlobalRefineTwiceSerialProducesSixteenOctants(t *testing.T) {
	ctx := context.Background()
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	changed, err := pt.AdaptGlobalRefine(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changed, test.ShouldBeTrue)

	changed, err = pt.AdaptGlobalRefine(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changed, test.ShouldBeTrue)

	test.That(t, pt.LocalNumOctants(), test.ShouldEqual, 16)
	test.That(t, pt.GlobalNumOctants(), test.ShouldEqual, uint64(16))

	var prev int64 = -1
	for i := 0; i < pt.LocalNumOctants(); i++ {
		lvl, err := pt.GetLevel(i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, lvl, test.ShouldEqual, int8(2))
		isNewR, err := pt.GetIsNewR(i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, isNewR, test.ShouldBeTrue)
		m, err := pt.GetMorton(i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, int64(m), test.ShouldBeGreaterThan, prev)
		prev = int64(m)
	}
}

func TestAdaptWithZeroMarkersIsNoOp(t *testing.T) {
	ctx := context.Background()
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	changed, err := pt.Adapt(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changed, test.ShouldBeFalse)
	test.That(t, pt.LocalNumOctants(), test.ShouldEqual, 1)
}

func TestSetMarkerFailsDuringPreAdapt(t *testing.T) {
	ctx := context.Background()
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pt.PreAdapt(ctx), test.ShouldBeNil)
	test.That(t, pt.LastOp(), test.ShouldEqual, OpPreAdapt)

	err = pt.SetMarker(0, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGetMappingAfterRefineReportsParent(t *testing.T) {
	ctx := context.Background()
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = pt.AdaptGlobalRefine(ctx, true)
	test.That(t, err, test.ShouldBeNil)

	entries, err := pt.GetMapping(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].OldIndex, test.ShouldEqual, 0)
}

func TestDumpRestoreRoundTripPreservesObservableGetters(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	pt, err := New(2, 0, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = pt.AdaptGlobalRefine(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pt.SetMarker(0, 1), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, pt.Dump(&buf, true), test.ShouldBeNil)

	restored, err := Restore(&buf, 0, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, restored.LocalNumOctants(), test.ShouldEqual, pt.LocalNumOctants())
	for i := 0; i < pt.LocalNumOctants(); i++ {
		lvl0, _ := pt.GetLevel(i)
		lvl1, _ := restored.GetLevel(i)
		test.That(t, lvl1, test.ShouldEqual, lvl0)

		m0, _ := pt.GetMorton(i)
		m1, _ := restored.GetMorton(i)
		test.That(t, m1, test.ShouldEqual, m0)

		mk0, _ := pt.GetMarker(i)
		mk1, _ := restored.GetMarker(i)
		test.That(t, mk1, test.ShouldEqual, mk0)

		g0, _ := pt.GlobalIdx(i)
		g1, _ := restored.GlobalIdx(i)
		test.That(t, g1, test.ShouldEqual, g0)
	}
}

func TestRestoreRejectsVersionMismatch(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pt, err := New(2, 0, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, pt.Dump(&buf, false), test.ShouldBeNil)

	corrupted := buf.Bytes()
	corrupted[0] = 9

	_, err = Restore(bytes.NewReader(corrupted), 0, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFindPointOwnerReturnsSentinelOutsideDomain(t *testing.T) {
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	idx, ok := pt.FindPointOwner(-1, 0.5, 0)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, idx, test.ShouldEqual, SentinelLocalIdx)

	idx, ok = pt.FindPointOwner(0.25, 0.25, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, idx, test.ShouldEqual, 0)
}

// TestMultiRankLoadBalanceFirstSplitsReplicatedTree mirrors scenario S3:
// two real ranks, each independently constructing and refining a full
// replica while is_serial, then a single LoadBalance call splitting the
// resulting 64 octants into a uniform 32/32 partition.
func TestMultiRankLoadBalanceFirstSplitsReplicatedTree(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	g, err := comm.NewGroup(2, logger)
	test.That(t, err, test.ShouldBeNil)

	const nproc = 2
	var eg errgroup.Group
	localCounts := make([]int, nproc)
	lastOps := make([]Op, nproc)
	serialAfter := make([]bool, nproc)
	firstMortons := make([]uint64, nproc)
	lastMortons := make([]uint64, nproc)

	for r := 0; r < nproc; r++ {
		r := r
		eg.Go(func() error {
			pt, err := New(2, r, g, logger)
			if err != nil {
				return err
			}
			test.That(t, pt.Serial(), test.ShouldBeTrue)

			for i := 0; i < 3; i++ {
				if _, err := pt.AdaptGlobalRefine(ctx, false); err != nil {
					return err
				}
			}
			if pt.LocalNumOctants() != 64 {
				return errors.Errorf("rank %d: expected 64 octants pre-load-balance, got %d", r, pt.LocalNumOctants())
			}

			if err := pt.LoadBalance(ctx); err != nil {
				return err
			}

			localCounts[r] = pt.LocalNumOctants()
			lastOps[r] = pt.LastOp()
			serialAfter[r] = pt.Serial()
			m0, err := pt.GetMorton(0)
			if err != nil {
				return err
			}
			mLast, err := pt.GetMorton(pt.LocalNumOctants() - 1)
			if err != nil {
				return err
			}
			firstMortons[r] = uint64(m0)
			lastMortons[r] = uint64(mLast)
			return nil
		})
	}
	test.That(t, eg.Wait(), test.ShouldBeNil)

	test.That(t, localCounts[0], test.ShouldEqual, 32)
	test.That(t, localCounts[1], test.ShouldEqual, 32)
	test.That(t, lastOps[0], test.ShouldEqual, OpLoadBalanceFirst)
	test.That(t, lastOps[1], test.ShouldEqual, OpLoadBalanceFirst)
	test.That(t, serialAfter[0], test.ShouldBeFalse)
	test.That(t, serialAfter[1], test.ShouldBeFalse)
	test.That(t, lastMortons[0], test.ShouldBeLessThan, firstMortons[1])
}

// TestDumpRestoreRoundTripSerialWithMultipleRanks exercises the wire format
// while is_serial with nproc > 1, where the in-memory partition table has
// only a single logical entry that Dump must replicate to nproc slots and
// Restore must collapse back.
func TestDumpRestoreRoundTripSerialWithMultipleRanks(t *testing.T) {
	logger := golog.NewTestLogger(t)
	g, err := comm.NewGroup(2, logger)
	test.That(t, err, test.ShouldBeNil)

	pt, err := New(2, 0, g, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pt.Serial(), test.ShouldBeTrue)

	ctx := context.Background()
	_, err = pt.AdaptGlobalRefine(ctx, false)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, pt.Dump(&buf, false), test.ShouldBeNil)

	restored, err := Restore(&buf, 0, g, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, restored.Serial(), test.ShouldBeTrue)
	test.That(t, restored.NProc(), test.ShouldEqual, 2)
	test.That(t, restored.GlobalNumOctants(), test.ShouldEqual, pt.GlobalNumOctants())
	test.That(t, restored.LocalNumOctants(), test.ShouldEqual, pt.LocalNumOctants())
	for i := 0; i < pt.LocalNumOctants(); i++ {
		m0, _ := pt.GetMorton(i)
		m1, _ := restored.GetMorton(i)
		test.That(t, m1, test.ShouldEqual, m0)
	}
}

func TestLoadBalanceSerialIsNoOpOverOwnership(t *testing.T) {
	ctx := context.Background()
	pt, err := New(2, 0, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = pt.AdaptGlobalRefine(ctx, false)
	test.That(t, err, test.ShouldBeNil)

	before := pt.LocalNumOctants()
	test.That(t, pt.LoadBalance(ctx), test.ShouldBeNil)
	test.That(t, pt.LocalNumOctants(), test.ShouldEqual, before)
	test.That(t, pt.LastOp(), test.ShouldEqual, OpLoadBalanceFirst)
}
