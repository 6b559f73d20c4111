// Package paratree implements ParaTree, the top-level distributed octree
// handle named in spec §3/§6.1: it owns one process's LocalTree and
// PartitionTable, drives the adaptation pipeline (§4.5), the cross-process
// balance engine (§4.4) and the load-balance engine (§4.6) through the
// comm, ghost and loadbalance packages, and exposes the public surface and
// last_op state machine (§4.8).
package paratree

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/comm"
	"github.com/starwar9527/bitpit/exchange"
	"github.com/starwar9527/bitpit/ghost"
	"github.com/starwar9527/bitpit/localtree"
	"github.com/starwar9527/bitpit/mapper"
	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
	"github.com/starwar9527/bitpit/partition"
)

// DefaultTolerance is the geometric tolerance used by point/region
// ownership queries when none is configured, carried from the original's
// PABLO::DEFAULT_LOG_FILE-adjacent constant (spec §9 "Supplemented
// features").
const DefaultTolerance = 1e-14

// Op names last_op, the state machine variable of spec §4.8.
type Op int

const (
	OpInit Op = iota
	OpPreAdapt
	OpAdaptMapped
	OpAdaptUnmapped
	OpLoadBalance
	OpLoadBalanceFirst
)

func (op Op) String() string {
	switch op {
	case OpInit:
		return "INIT"
	case OpPreAdapt:
		return "PRE_ADAPT"
	case OpAdaptMapped:
		return "ADAPT_MAPPED"
	case OpAdaptUnmapped:
		return "ADAPT_UNMAPPED"
	case OpLoadBalance:
		return "LOADBALANCE"
	case OpLoadBalanceFirst:
		return "LOADBALANCE_FIRST"
	default:
		return "UNKNOWN"
	}
}

// ParaTree is the top-level per-process handle. It is not safe for
// concurrent use from more than one goroutine; callers that want to drive
// several ranks concurrently (as the tests do) construct one ParaTree per
// goroutine sharing a comm.Group.
type ParaTree struct {
	dim int
	tc  *morton.TreeConstants

	local     *localtree.LocalTree
	partition *partition.Table

	rank  int
	nproc int
	group *comm.Group

	// serial holds is_serial (spec §3): true from construction until the
	// first successful LoadBalance call, regardless of process count. While
	// serial every rank holds an identical full copy of the tree, so the
	// partition table has a single logical entry and no cross-process
	// exchange is needed for adapt/balance.
	serial bool

	tolerance float64
	maxDepth  int8

	lastOp Op
	status uint64

	ghostNofLayers int8
	ghostBuilder   *ghost.Builder

	mapper   mapper.CoordinateMapper
	exchange exchange.Exchanger

	logger golog.Logger
}

// Option configures a ParaTree at construction, mirroring the teacher's
// functional-options constructor shape (AMBIENT STACK, "Configuration").
type Option func(*ParaTree)

// WithTolerance overrides the default geometric tolerance used by
// point/region ownership queries.
func WithTolerance(tol float64) Option {
	return func(pt *ParaTree) { pt.tolerance = tol }
}

// WithMaxDepth sets the stored max-depth value written by Dump; Refine
// does not consult it.
func WithMaxDepth(depth int8) Option {
	return func(pt *ParaTree) { pt.maxDepth = depth }
}

// WithGhostLayers sets the number of ghost rings the accretion builder
// grows on every balance/load-balance/ghost-update call.
func WithGhostLayers(n int8) Option {
	return func(pt *ParaTree) { pt.ghostNofLayers = n }
}

// WithCoordinateMapper installs a non-default CoordinateMapper collaborator
// (spec §6.4); the default is mapper.Identity over the unit cube.
func WithCoordinateMapper(m mapper.CoordinateMapper) Option {
	return func(pt *ParaTree) { pt.mapper = m }
}

// WithExchanger installs a data Exchanger collaborator driven by
// LoadBalance (spec §6.4); the default is exchange.NoOp.
func WithExchanger(e exchange.Exchanger) Option {
	return func(pt *ParaTree) { pt.exchange = e }
}

// New constructs a fresh ParaTree holding only the root octant, for the
// given dimension, rank and group (spec §6.1 constructor). Every rank
// starts is_serial (spec §3): each independently builds the same root
// octant, so no collective call is needed until the first LoadBalance,
// including for group != nil with more than one rank. Fully single-process
// use passes group=nil, which additionally makes every later collective
// call degenerate to a no-op single-rank pass.
func New(dim int, rank int, group *comm.Group, logger golog.Logger, opts ...Option) (*ParaTree, error) {
	if dim != 2 && dim != 3 {
		return nil, errors.Errorf("error invalid dimension %d", dim)
	}
	lt, err := localtree.New(dim, logger)
	if err != nil {
		return nil, err
	}
	lt.InitRoot()

	nproc := 1
	if group != nil {
		nproc = group.N()
	}
	if rank < 0 || rank >= nproc {
		return nil, errors.Errorf("error rank %d out of range for group of size %d", rank, nproc)
	}

	pt := &ParaTree{
		dim:            dim,
		tc:             morton.For(dim),
		local:          lt,
		rank:           rank,
		nproc:          nproc,
		group:          group,
		serial:         true,
		tolerance:      DefaultTolerance,
		maxDepth:       int8(morton.MaxLevel),
		ghostNofLayers: 1,
		mapper:         mapper.NewIdentity(dim, morton.MaxLevel),
		exchange:       exchange.NoOp{},
		logger:         logger,
	}
	for _, o := range opts {
		o(pt)
	}
	if group != nil {
		pt.ghostBuilder = ghost.NewBuilder(dim, group, rank, logger)
	}

	// Every rank starts is_serial, holding an identical full replica, so
	// the initial partition table always has a single logical entry —
	// there is nothing to exchange with the rest of the group yet.
	counts := []uint64{uint64(lt.Len())}
	firstDesc := []morton.Key{lt.FirstDescMorton()}
	lastDesc := []morton.Key{lt.LastDescMorton()}
	table, err := partition.Build(counts, firstDesc, lastDesc)
	if err != nil {
		return nil, err
	}
	pt.partition = table

	return pt, nil
}

// Dim returns the tree's dimension (2 or 3).
func (pt *ParaTree) Dim() int { return pt.dim }

// Rank returns this process's rank within its group (always 0 when
// constructed with a nil group).
func (pt *ParaTree) Rank() int { return pt.rank }

// NProc returns the group size (1 when constructed with a nil group).
func (pt *ParaTree) NProc() int { return pt.nproc }

// Serial reports is_serial (spec §3): true until the first successful
// LoadBalance call, independent of NProc.
func (pt *ParaTree) Serial() bool { return pt.serial }

// LastOp reports the last completed structural operation (spec §4.8).
func (pt *ParaTree) LastOp() Op { return pt.lastOp }

// Tolerance returns the configured geometric tolerance.
func (pt *ParaTree) Tolerance() float64 { return pt.tolerance }

// LocalNumOctants returns the number of octants owned by this process.
func (pt *ParaTree) LocalNumOctants() int { return pt.local.Len() }

// GlobalNumOctants returns the total octant count across all processes.
func (pt *ParaTree) GlobalNumOctants() uint64 { return pt.partition.GlobalCount() }

// BalanceCodim returns the currently configured balance codimension.
func (pt *ParaTree) BalanceCodim() int { return pt.local.BalanceCodim }

// SetBalanceCodim sets the balance codimension (spec §9 "Supplemented
// features"): 1 = faces only, 2 = faces+edges (3D) or faces+nodes (2D),
// 3 = all entity kinds (3D only). Fails while the last operation is
// PRE_ADAPT, per §4.8's PRE_ADAPT mutation restriction.
func (pt *ParaTree) SetBalanceCodim(codim int) error {
	if err := pt.requireNotPreAdapt(); err != nil {
		return err
	}
	return pt.local.SetBalanceCodim(codim)
}

// Periodic reports whether face f is marked periodic.
func (pt *ParaTree) Periodic(f int) bool { return pt.local.Periodic[f] }

// SetPeriodic marks face f (and its OppositeFace partner, per spec §3's
// periodic-pair convention) as periodic or not.
func (pt *ParaTree) SetPeriodic(f int, v bool) error {
	if err := pt.requireNotPreAdapt(); err != nil {
		return err
	}
	if f < 0 || f >= pt.tc.NFaces {
		return errors.Errorf("error invalid face index %d", f)
	}
	pt.local.Periodic[f] = v
	pt.local.Periodic[pt.tc.OppositeFace[f]] = v
	return nil
}

// Octant returns a copy of the internal octant at local index i.
func (pt *ParaTree) Octant(i int) (octant.Octant, error) {
	if i < 0 || i >= pt.local.Len() {
		return octant.Octant{}, errors.Errorf("error local index %d out of range (len=%d)", i, pt.local.Len())
	}
	return pt.local.Octants[i], nil
}

// Ghost returns a copy of the ghost octant at ghost index i.
func (pt *ParaTree) Ghost(i int) (octant.Octant, error) {
	if i < 0 || i >= len(pt.local.Ghosts) {
		return octant.Octant{}, errors.Errorf("error ghost index %d out of range (len=%d)", i, len(pt.local.Ghosts))
	}
	return pt.local.Ghosts[i], nil
}

// NumGhosts returns the number of ghost octants currently held.
func (pt *ParaTree) NumGhosts() int { return len(pt.local.Ghosts) }

// GlobalIdx returns the global index of local octant i, derived from this
// process's cumulative prefix (last_global_idx[rank-1]+1).
func (pt *ParaTree) GlobalIdx(i int) (uint64, error) {
	if i < 0 || i >= pt.local.Len() {
		return 0, errors.Errorf("error local index %d out of range (len=%d)", i, pt.local.Len())
	}
	return pt.localOffset() + uint64(i), nil
}

func (pt *ParaTree) localOffset() uint64 {
	if pt.serial || pt.rank == 0 {
		// While serial every rank holds an identical full copy of the
		// tree, so local index i is global index i on every rank.
		return 0
	}
	prev := pt.partition.LastGlobalIdx[pt.rank-1]
	if prev < 0 {
		return pt.localOffset0(pt.rank - 1)
	}
	return uint64(prev) + 1
}

// localOffset0 walks left over empty partitions to find the real
// cumulative offset; only reached when one or more preceding ranks own no
// octants (spec §3's empty-partition convention).
func (pt *ParaTree) localOffset0(rank int) uint64 {
	for r := rank; r >= 0; r-- {
		if pt.partition.LastGlobalIdx[r] >= 0 {
			return uint64(pt.partition.LastGlobalIdx[r]) + 1
		}
	}
	return 0
}

// SetMarker sets the adapt marker of local octant i. Positive values
// request refinement, negative coarsening, per spec §4.3.
func (pt *ParaTree) SetMarker(i int, marker int8) error {
	if err := pt.requireNotPreAdapt(); err != nil {
		return err
	}
	if i < 0 || i >= pt.local.Len() {
		return errors.Errorf("error local index %d out of range (len=%d)", i, pt.local.Len())
	}
	pt.local.Octants[i].Marker = marker
	return nil
}

// SetBalance enables or disables 2:1 balancing participation for local
// octant i (spec §6.1 set_balance).
func (pt *ParaTree) SetBalance(i int, on bool) error {
	if err := pt.requireNotPreAdapt(); err != nil {
		return err
	}
	if i < 0 || i >= pt.local.Len() {
		return errors.Errorf("error local index %d out of range (len=%d)", i, pt.local.Len())
	}
	pt.local.Octants[i].BalanceEnabled = on
	return nil
}

// GetLevel returns the level of local octant i.
func (pt *ParaTree) GetLevel(i int) (int8, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return o.Level, nil
}

// GetMarker returns the adapt marker of local octant i.
func (pt *ParaTree) GetMarker(i int) (int8, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return o.Marker, nil
}

// GetMorton returns the Morton key of local octant i's anchor.
func (pt *ParaTree) GetMorton(i int) (morton.Key, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return o.Morton(), nil
}

// GetSize returns the logical (integer-coordinate) side length of local
// octant i.
func (pt *ParaTree) GetSize(i int) (uint32, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return o.Size(), nil
}

// GetArea returns the physical-space area of one face of local octant i,
// through the configured CoordinateMapper.
func (pt *ParaTree) GetArea(i int) (float64, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return pt.mapper.MapArea(o.Level), nil
}

// GetVolume returns the physical-space volume (area in 2D) of local
// octant i, through the configured CoordinateMapper.
func (pt *ParaTree) GetVolume(i int) (float64, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return pt.mapper.MapVolume(o.Level), nil
}

// GetNode returns the physical-space coordinates of corner k (0..nNodes-1)
// of local octant i.
func (pt *ParaTree) GetNode(i, k int) (r3.Vector, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return r3.Vector{}, err
	}
	if k < 0 || k >= pt.tc.NNodes {
		return r3.Vector{}, errors.Errorf("error invalid node index %d", k)
	}
	x, y, z := o.LogicalNode(pt.tc, k)
	return pt.mapper.MapNode(x, y, z), nil
}

// GetFaceCenter returns the physical-space center of face f of local
// octant i.
func (pt *ParaTree) GetFaceCenter(i, f int) (r3.Vector, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return r3.Vector{}, err
	}
	if f < 0 || f >= pt.tc.NFaces {
		return r3.Vector{}, errors.Errorf("error invalid face index %d", f)
	}
	x, y, z, ok := o.FaceNeighborAnchor(pt.tc, f)
	if !ok {
		x, y, z = int64(o.X), int64(o.Y), int64(o.Z)
	}
	center := pt.mapper.MapCenter(o.X, o.Y, o.Z, o.Level)
	neighborCenter := pt.mapper.MapCenter(uint32(x), uint32(y), uint32(z), o.Level)
	return center.Add(neighborCenter).Mul(0.5), nil
}

// GetNormal returns the physical-space outward normal of face f of local
// octant i.
func (pt *ParaTree) GetNormal(i, f int) (r3.Vector, error) {
	if _, err := pt.Octant(i); err != nil {
		return r3.Vector{}, err
	}
	if f < 0 || f >= pt.tc.NFaces {
		return r3.Vector{}, errors.Errorf("error invalid face index %d", f)
	}
	return pt.mapper.MapNormal(pt.dim, f), nil
}

// GetBound reports whether face f of local octant i lies on the domain
// boundary. With f < 0, reports whether any face does.
func (pt *ParaTree) GetBound(i, f int) (bool, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return false, err
	}
	if f < 0 {
		for ff := 0; ff < pt.tc.NFaces; ff++ {
			if o.Bound(ff) {
				return true, nil
			}
		}
		return false, nil
	}
	return o.Bound(f), nil
}

// GetPBound reports whether face f of local octant i is a partition
// boundary. With f < 0, reports whether any face is.
func (pt *ParaTree) GetPBound(i, f int) (bool, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return false, err
	}
	if f < 0 {
		return o.Info.AnyPBound(pt.tc.NFaces), nil
	}
	return o.PBound(f), nil
}

// GetIsNewR reports whether local octant i was produced by the most
// recent refine step.
func (pt *ParaTree) GetIsNewR(i int) (bool, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return false, err
	}
	return o.Info.NewAfterRefinement(), nil
}

// GetIsNewC reports whether local octant i was produced by the most
// recent coarsen step.
func (pt *ParaTree) GetIsNewC(i int) (bool, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return false, err
	}
	return o.Info.NewAfterCoarsening(), nil
}

// GetPersistentIdx returns the Morton key shifted left 8 bits with the
// level packed into the low 8 bits (spec §6.1 get_persistent_idx): a key
// stable across the adapt that produced the octant (unlike local/global
// index), since siblings at different resolutions never collide.
func (pt *ParaTree) GetPersistentIdx(i int) (uint64, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return 0, err
	}
	return uint64(o.Morton())<<8 | uint64(uint8(o.Level)), nil
}

// GetOwnerRank returns the rank owning global index idx, or -1 if idx is
// past the end of the global octant count (spec §7 lookup sentinel).
func (pt *ParaTree) GetOwnerRank(idx uint64) int {
	return pt.partition.OwnerRank(idx)
}

// NofGhostLayers returns the configured ghost ring count.
func (pt *ParaTree) NofGhostLayers() int8 { return pt.ghostNofLayers }

// SetNofGhostLayers sets the configured ghost ring count. Programmer error
// (spec §4.9) if k < 1.
func (pt *ParaTree) SetNofGhostLayers(k int8) error {
	if k < 1 {
		return errors.New("error nof_ghost_layers must be >= 1")
	}
	pt.ghostNofLayers = k
	return nil
}

// PhysicalCenter returns the physical-space center of local octant i,
// through the configured CoordinateMapper.
func (pt *ParaTree) PhysicalCenter(i int) (r3.Vector, error) {
	o, err := pt.Octant(i)
	if err != nil {
		return r3.Vector{}, err
	}
	return pt.mapper.MapCenter(o.X, o.Y, o.Z, o.Level), nil
}

// FindNeighbours implements spec §6.1's find_neighbours.
func (pt *ParaTree) FindNeighbours(i, entityCodim, entityIdx int) ([]localtree.Handle, error) {
	return pt.local.FindNeighbours(i, entityCodim, entityIdx)
}

// FindAllCodimNeighbours implements spec §6.1's find_all_codim_neighbours.
func (pt *ParaTree) FindAllCodimNeighbours(i int) ([]localtree.Handle, error) {
	return pt.local.FindAllCodimNeighbours(i)
}

// FindAllNodeNeighbours implements spec §6.1's find_all_node_neighbours.
func (pt *ParaTree) FindAllNodeNeighbours(i, node int) ([]localtree.Handle, error) {
	return pt.local.FindAllNodeNeighbours(i, node)
}

// ComputeConnectivity implements spec §4.3's node-deduplication step.
func (pt *ParaTree) ComputeConnectivity() ([]morton.Key, [][]int) {
	return pt.local.ComputeConnectivity()
}

// ComputeIntersections implements spec §4.3's face-intersection step.
func (pt *ParaTree) ComputeIntersections() ([]localtree.Intersection, error) {
	return pt.local.ComputeIntersections()
}

// requireNotPreAdapt implements the restriction named in spec §4.8: "While
// in PRE_ADAPT, calls that mutate markers or balance-codim MUST fail."
func (pt *ParaTree) requireNotPreAdapt() error {
	if pt.lastOp == OpPreAdapt {
		return errors.New("error cannot mutate markers or balance codimension while in PRE_ADAPT")
	}
	return nil
}

// Status returns the monotonically increasing counter bumped by every
// completed Adapt call, per spec §5 ("external observers MUST invalidate
// caches keyed by local index when status changes").
func (pt *ParaTree) Status() uint64 { return pt.status }

// exchangePartitionInputs gathers every rank's (count, first_desc, last_desc)
// triple via one AllGather round, for rebuildPartitionTable's non-serial path.
func (pt *ParaTree) exchangePartitionInputs(ctx context.Context, counts []uint64, firstDesc, lastDesc []morton.Key) ([]uint64, []morton.Key, []morton.Key, error) {
	buf := make([]byte, 0, 24)
	buf = appendUint64(buf, counts[pt.rank])
	buf = appendUint64(buf, uint64(firstDesc[pt.rank]))
	buf = appendUint64(buf, uint64(lastDesc[pt.rank]))

	all, err := pt.group.AllGather(ctx, pt.rank, buf)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "exchanging partition table inputs")
	}
	for r, payload := range all {
		c, rest := readUint64(payload)
		fd, rest := readUint64(rest)
		ld, _ := readUint64(rest)
		counts[r] = c
		firstDesc[r] = morton.Key(fd)
		lastDesc[r] = morton.Key(ld)
	}
	return counts, firstDesc, lastDesc, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * uint(i)))
	}
	return append(buf, tmp[:]...)
}

func readUint64(buf []byte) (uint64, []byte) {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v, buf[8:]
}
