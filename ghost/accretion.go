// Package ghost implements the "accretion" ghost-halo construction
// algorithm named in spec §4.7: iteratively growing, for every neighboring
// process, the set of this process's internal octants that must be
// mirrored there, then materializing the resulting ghost octants.
package ghost

import (
	"context"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/comm"
	"github.com/starwar9527/bitpit/localtree"
	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
	"github.com/starwar9527/bitpit/partition"
)

// probe identifies a candidate neighbor position discovered while growing
// an accretion, before it is known whether -- or to whom -- it resolves.
type probe struct{ X, Y, Z uint32 }

// Accretion is the per-target-rank work object of spec §4.7: population is
// this process's own octants (by local index) known to be sources for
// target; internalSeeds are population members not yet expanded into
// their own neighborhoods; foreignSeeds, keyed by the true owning rank,
// are probe points discovered in a neighborhood that belong to neither
// this process nor the target and must be forwarded.
type Accretion struct {
	TargetRank    int
	Population    map[int]int8 // local idx -> layer
	InternalSeeds map[int]int8 // local idx -> layer, pending expansion
	ForeignSeeds  map[int]map[probe]int8
}

func newAccretion(target int) *Accretion {
	return &Accretion{
		TargetRank:    target,
		Population:    map[int]int8{},
		InternalSeeds: map[int]int8{},
		ForeignSeeds:  map[int]map[probe]int8{},
	}
}

// Builder drives the accretion algorithm for one process.
type Builder struct {
	dim    int
	group  *comm.Group
	rank   int
	nproc  int
	logger golog.Logger

	accretions map[int]*Accretion
}

// NewBuilder constructs a halo Builder for the calling process.
func NewBuilder(dim int, group *comm.Group, rank int, logger golog.Logger) *Builder {
	return &Builder{dim: dim, group: group, rank: rank, nproc: group.N(), logger: logger}
}

func (b *Builder) accretion(target int) *Accretion {
	a, ok := b.accretions[target]
	if !ok {
		a = newAccretion(target)
		b.accretions[target] = a
	}
	return a
}

// resolveLocal finds the local octant whose extent contains the point
// (x,y,z), following the same coarser-ancestor-or-exact rule used
// throughout localtree.
func resolveLocal(lt *localtree.LocalTree, x, y, z uint32) (int, bool) {
	target := morton.Encode(lt.Dim, x, y, z)
	list := lt.Octants
	idx := sort.Search(len(list), func(i int) bool { return list[i].Morton() >= target })
	if idx < len(list) && list[idx].Morton() == target {
		return idx, true
	}
	if idx > 0 && list[idx-1].LastDescendantMorton() >= target {
		return idx - 1, true
	}
	return 0, false
}

// seedLayer0 scans every internal octant's full neighborhood for
// cross-process entities, marking pbound faces and seeding one accretion
// per discovered neighbor rank (spec §4.7 "Layer 0").
func (b *Builder) seedLayer0(lt *localtree.LocalTree, pt *partition.Table) {
	for i, o := range lt.Octants {
		for _, codim := range lt.Codims() {
			for idx := 0; idx < lt.EntityCount(codim); idx++ {
				x, y, z, ok := lt.EntityTargetAnchor(o, codim, idx)
				if !ok {
					continue
				}
				owner := pt.OwnerRankByMorton(morton.Encode(lt.Dim, x, y, z))
				if owner == b.rank {
					continue
				}
				if codim == 1 {
					lt.Octants[i].Info = lt.Octants[i].Info.SetPBound(idx, true)
				}
				acc := b.accretion(owner)
				if _, exists := acc.Population[i]; !exists {
					acc.Population[i] = 0
					acc.InternalSeeds[i] = 0
				}
			}
		}
	}
}

// expandInternalSeeds runs one growth iteration over every accretion's
// pending internal seeds (spec §4.7 growth loop step 2).
func (b *Builder) expandInternalSeeds(lt *localtree.LocalTree, pt *partition.Table) {
	for target, acc := range b.accretions {
		pending := acc.InternalSeeds
		acc.InternalSeeds = map[int]int8{}
		for li, layer := range pending {
			o := lt.Octants[li]
			for _, codim := range lt.Codims() {
				for idx := 0; idx < lt.EntityCount(codim); idx++ {
					x, y, z, ok := lt.EntityTargetAnchor(o, codim, idx)
					if !ok {
						continue
					}
					owner := pt.OwnerRankByMorton(morton.Encode(lt.Dim, x, y, z))
					switch {
					case owner == b.rank:
						nli, found := resolveLocal(lt, x, y, z)
						if !found {
							continue
						}
						if _, exists := acc.Population[nli]; exists {
							continue
						}
						acc.Population[nli] = layer + 1
						acc.InternalSeeds[nli] = layer + 1
					case owner == target:
						continue
					default:
						set := acc.ForeignSeeds[owner]
						if set == nil {
							set = map[probe]int8{}
							acc.ForeignSeeds[owner] = set
						}
						p := probe{X: x, Y: y, Z: z}
						if _, exists := set[p]; !exists {
							set[p] = layer + 1
						}
					}
				}
			}
		}
	}
}

type foreignMsg struct {
	Target int
	X, Y, Z uint32
	Layer  int8
}

func encodeForeignMsgs(msgs []foreignMsg) []byte {
	buf := make([]byte, 0, len(msgs)*17)
	for _, m := range msgs {
		buf = appendInt32(buf, int32(m.Target))
		buf = appendUint32(buf, m.X)
		buf = appendUint32(buf, m.Y)
		buf = appendUint32(buf, m.Z)
		buf = append(buf, byte(m.Layer))
	}
	return buf
}

func decodeForeignMsgs(buf []byte) []foreignMsg {
	var out []foreignMsg
	for len(buf) > 0 {
		var m foreignMsg
		var t int32
		t, buf = readInt32(buf)
		m.Target = int(t)
		m.X, buf = readUint32(buf)
		m.Y, buf = readUint32(buf)
		m.Z, buf = readUint32(buf)
		m.Layer = int8(buf[0])
		buf = buf[1:]
		out = append(out, m)
	}
	return out
}

// exchangeForeignSeeds performs one collective round forwarding every
// pending foreign seed to its true owner (spec §4.7 growth loop step 1,
// and the final propagation round after the last growth iteration).
func (b *Builder) exchangeForeignSeeds(ctx context.Context, lt *localtree.LocalTree, pt *partition.Table) error {
	sendTo := make([][]byte, b.nproc)
	perDest := make(map[int][]foreignMsg)
	for target, acc := range b.accretions {
		for owner, set := range acc.ForeignSeeds {
			for p, layer := range set {
				perDest[owner] = append(perDest[owner], foreignMsg{Target: target, X: p.X, Y: p.Y, Z: p.Z, Layer: layer})
			}
		}
		acc.ForeignSeeds = map[int]map[probe]int8{}
	}
	for r, msgs := range perDest {
		sendTo[r] = encodeForeignMsgs(msgs)
	}

	recv, err := b.group.Alltoall(ctx, b.rank, sendTo)
	if err != nil {
		return errors.Wrap(err, "exchanging ghost-accretion foreign seeds")
	}
	for _, payload := range recv {
		for _, m := range decodeForeignMsgs(payload) {
			li, found := resolveLocal(lt, m.X, m.Y, m.Z)
			if !found {
				continue
			}
			acc := b.accretion(m.Target)
			if existing, exists := acc.Population[li]; exists && existing <= m.Layer {
				continue
			}
			acc.Population[li] = m.Layer
			acc.InternalSeeds[li] = m.Layer
		}
	}
	return nil
}

type sourceMsg struct {
	GlobalIdx uint64
	Layer     int8
	Octant    []byte
}

// BuildHalo runs the full accretion algorithm (spec §4.7) for nofLayers
// rings and returns the new, Morton-sorted Ghosts and GhostGlobalIDs for
// this rank. It also sets pbound face flags on the process's own Octants.
// localGlobalIdx(i) must return the global index of internal octant i.
func (b *Builder) BuildHalo(
	ctx context.Context,
	lt *localtree.LocalTree,
	pt *partition.Table,
	localGlobalIdx func(i int) uint64,
	nofLayers int8,
) ([]octant.Octant, []uint64, error) {
	if nofLayers < 1 {
		return nil, nil, errors.Errorf("error invalid ghost layer count %d", nofLayers)
	}
	b.accretions = map[int]*Accretion{}

	b.seedLayer0(lt, pt)
	for round := int8(0); round < nofLayers-1; round++ {
		if err := b.exchangeForeignSeeds(ctx, lt, pt); err != nil {
			return nil, nil, err
		}
		b.expandInternalSeeds(lt, pt)
	}
	if err := b.exchangeForeignSeeds(ctx, lt, pt); err != nil {
		return nil, nil, err
	}

	sendTo := make([][]byte, b.nproc)
	for target, acc := range b.accretions {
		var buf []byte
		for li, layer := range acc.Population {
			g := localGlobalIdx(li)
			buf = appendUint64(buf, g)
			buf = append(buf, byte(layer))
			o := lt.Octants[li]
			o.GhostLayer = layer
			buf = o.EncodeBinary(buf)
		}
		sendTo[target] = buf
	}

	recv, err := b.group.Alltoall(ctx, b.rank, sendTo)
	if err != nil {
		return nil, nil, errors.Wrap(err, "exchanging ghost-halo materialization")
	}

	var ghosts []octant.Octant
	var ids []uint64
	for _, payload := range recv {
		buf := payload
		for len(buf) > 0 {
			var g uint64
			g, buf = readUint64(buf)
			layer := int8(buf[0])
			buf = buf[1:]
			var o octant.Octant
			o, buf = octant.DecodeBinary(b.dim, buf)
			o.GhostLayer = layer
			ghosts = append(ghosts, o)
			ids = append(ids, g)
		}
	}

	order := make([]int, len(ghosts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		mi, mj := ghosts[order[i]].Morton(), ghosts[order[j]].Morton()
		if mi != mj {
			return mi < mj
		}
		return ghosts[order[i]].Level < ghosts[order[j]].Level
	})
	sortedGhosts := make([]octant.Octant, len(ghosts))
	sortedIDs := make([]uint64, len(ghosts))
	for newPos, oldPos := range order {
		sortedGhosts[newPos] = ghosts[oldPos]
		sortedIDs[newPos] = ids[oldPos]
	}
	return sortedGhosts, sortedIDs, nil
}

// Sources returns, for the given target rank, the local indices of this
// process's own octants identified as ghost sources for that rank, after
// a BuildHalo call. Used by the cross-process balance engine (spec §4.4)
// to know which markers to exchange without rerunning accretion growth.
func (b *Builder) Sources(target int) []int {
	acc, ok := b.accretions[target]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(acc.Population))
	for li := range acc.Population {
		out = append(out, li)
	}
	sort.Ints(out)
	return out
}

// TargetRanks lists every rank this process has at least one source for.
func (b *Builder) TargetRanks() []int {
	out := make([]int, 0, len(b.accretions))
	for r := range b.accretions {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}
