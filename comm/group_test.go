package comm

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"golang.org/x/sync/errgroup"
)

func TestAllGatherAcrossRanks(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	n := 4
	g, err := NewGroup(n, logger)
	test.That(t, err, test.ShouldBeNil)

	var eg errgroup.Group
	results := make([][][]byte, n)
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			payload := []byte{byte(r)}
			res, err := g.AllGather(ctx, r, payload)
			results[r] = res
			return err
		})
	}
	test.That(t, eg.Wait(), test.ShouldBeNil)

	for r := 0; r < n; r++ {
		test.That(t, len(results[r]), test.ShouldEqual, n)
		for p := 0; p < n; p++ {
			test.That(t, results[r][p][0], test.ShouldEqual, byte(p))
		}
	}
}

func TestAllReduceUint64Sum(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	n := 3
	g, err := NewGroup(n, logger)
	test.That(t, err, test.ShouldBeNil)

	var eg errgroup.Group
	sums := make([]uint64, n)
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			sum, err := g.AllReduceUint64(ctx, r, uint64(r+1), SumOp)
			sums[r] = sum
			return err
		})
	}
	test.That(t, eg.Wait(), test.ShouldBeNil)
	for r := 0; r < n; r++ {
		test.That(t, sums[r], test.ShouldEqual, uint64(6))
	}
}

func TestAlltoallPerDestinationPayload(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	n := 3
	g, err := NewGroup(n, logger)
	test.That(t, err, test.ShouldBeNil)

	var eg errgroup.Group
	recvs := make([][][]byte, n)
	for r := 0; r < n; r++ {
		r := r
		eg.Go(func() error {
			sendTo := make([][]byte, n)
			for dst := 0; dst < n; dst++ {
				if dst == r {
					continue
				}
				sendTo[dst] = []byte{byte(r), byte(dst)}
			}
			recv, err := g.Alltoall(ctx, r, sendTo)
			recvs[r] = recv
			return err
		})
	}
	test.That(t, eg.Wait(), test.ShouldBeNil)

	for r := 0; r < n; r++ {
		for src := 0; src < n; src++ {
			if src == r {
				test.That(t, recvs[r][src], test.ShouldBeNil)
				continue
			}
			test.That(t, recvs[r][src], test.ShouldResemble, []byte{byte(src), byte(r)})
		}
	}
}
