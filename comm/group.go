// Package comm provides the process-level message-passing collective used
// by the rest of this module in place of a real MPI binding (spec §5: "no
// shared-memory mutable regions... all communication is explicit"). There is
// no MPI Go binding anywhere in the retrieval pack, so a process is modeled
// as a goroutine and collectives are modeled as barrier-synchronized
// rendezvous points on a shared Group, following the re-architecture the
// spec itself sanctions in §9 ("replace [global mutable state] with
// explicit handles").
package comm

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Group is a fixed-size set of simulated ranks. Every collective call is a
// barrier: it blocks the calling goroutine until every rank in the group has
// made the matching call for the current round, then releases all of them
// together with the combined result.
type Group struct {
	id     uuid.UUID
	logger golog.Logger

	n int

	mu      sync.Mutex
	cond    *sync.Cond
	epoch   int
	arrived int
	matrix  [][][]byte // matrix[from][to], contributions for the in-flight round
	result  [][][]byte // the completed round's matrix, visible to all waiters
}

// NewGroup constructs a Group of n simulated ranks. n must be >= 1.
func NewGroup(n int, logger golog.Logger) (*Group, error) {
	if n < 1 {
		return nil, errors.Errorf("error invalid group size %d", n)
	}
	g := &Group{
		id:     uuid.New(),
		logger: logger,
		n:      n,
		matrix: make([][][]byte, n),
	}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// N returns the number of ranks in the group.
func (g *Group) N() int { return g.n }

// ID uniquely identifies this Group instance, distinguishing concurrently
// constructed simulated communicators (e.g. across parallel subtests).
func (g *Group) ID() uuid.UUID { return g.id }

// Alltoall is the fundamental collective: rank `from` contributes one
// payload per destination rank (sendTo[r] may be nil for "nothing to
// send"). It blocks until every rank of the group has contributed its own
// round, then returns, for `from`, what every other rank sent to it.
func (g *Group) Alltoall(ctx context.Context, from int, sendTo [][]byte) ([][]byte, error) {
	if from < 0 || from >= g.n {
		return nil, errors.Errorf("error rank %d out of range for group of size %d", from, g.n)
	}
	if len(sendTo) != g.n {
		return nil, errors.Errorf("error alltoall payload length %d does not match group size %d", len(sendTo), g.n)
	}

	g.mu.Lock()
	epoch := g.epoch
	g.matrix[from] = sendTo
	g.arrived++
	if g.arrived == g.n {
		g.result = g.matrix
		g.matrix = make([][][]byte, g.n)
		g.arrived = 0
		g.epoch++
		g.cond.Broadcast()
	} else {
		for g.epoch == epoch {
			if ctx.Err() != nil {
				g.mu.Unlock()
				return nil, ctx.Err()
			}
			g.cond.Wait()
		}
	}
	res := g.result
	g.mu.Unlock()

	recv := make([][]byte, g.n)
	for r := 0; r < g.n; r++ {
		if res[r] != nil {
			recv[r] = res[r][from]
		}
	}
	g.logger.Debugf("comm: rank %d completed alltoall round", from)
	return recv, nil
}

// AllGather contributes the same payload to every other rank and returns
// every rank's payload in rank order, including the caller's own.
func (g *Group) AllGather(ctx context.Context, from int, payload []byte) ([][]byte, error) {
	sendTo := make([][]byte, g.n)
	for r := range sendTo {
		sendTo[r] = payload
	}
	return g.Alltoall(ctx, from, sendTo)
}

// Barrier blocks until every rank has called Barrier for the current round.
func (g *Group) Barrier(ctx context.Context, from int) error {
	_, err := g.AllGather(ctx, from, []byte{})
	return err
}

// ReduceOp combines two accumulated uint64 values.
type ReduceOp func(a, b uint64) uint64

// SumOp and MaxOp are the two reductions this module needs (global octant
// counts, and the global max-depth reduction of spec §5).
func SumOp(a, b uint64) uint64 {
	return a + b
}

func MaxOp(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// AllReduceUint64 gathers one uint64 per rank and folds them with op,
// returning the identical result to every rank.
func (g *Group) AllReduceUint64(ctx context.Context, from int, value uint64, op ReduceOp) (uint64, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	all, err := g.AllGather(ctx, from, buf)
	if err != nil {
		return 0, err
	}
	acc := binary.LittleEndian.Uint64(all[0])
	for i := 1; i < len(all); i++ {
		acc = op(acc, binary.LittleEndian.Uint64(all[i]))
	}
	return acc, nil
}

// AllReduceOr reduces a boolean with logical OR across all ranks (used by
// the balance engine's fixpoint check and the adapt pipeline's
// global-count-changed check, spec §4.4/§4.5).
func (g *Group) AllReduceOr(ctx context.Context, from int, value bool) (bool, error) {
	v := uint64(0)
	if value {
		v = 1
	}
	acc, err := g.AllReduceUint64(ctx, from, v, SumOp)
	if err != nil {
		return false, err
	}
	return acc > 0, nil
}

// AllGatherUint64 gathers one uint64 per rank in rank order.
func (g *Group) AllGatherUint64(ctx context.Context, from int, value uint64) ([]uint64, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	all, err := g.AllGather(ctx, from, buf)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(all))
	for i, b := range all {
		out[i] = binary.LittleEndian.Uint64(b)
	}
	return out, nil
}
