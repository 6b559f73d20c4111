package localtree

import (
	"sort"

	"github.com/starwar9527/bitpit/morton"
	"github.com/starwar9527/bitpit/octant"
)

// Intersection is the oriented face-adjacency record named in spec §3: one
// record per pair of adjacent octants, holding both owners rather than one
// owner and a neighbor, since a shared face has a single intersection with
// two sides (getIn/getOut in the original), not two independently-owned
// records.
type Intersection struct {
	Owners [2]Handle
	Face   int

	// Finer is the index into Owners of the finer (higher-level) side, or -1
	// if both sides are the same level.
	Finer int

	PBound bool
}

// ComputeConnectivity deduplicates corner nodes via NodePersistentKey
// sort-and-dedupe over both internal and ghost octants, so that a node
// shared between an internal octant and a ghost across a partition boundary
// gets one consistent index, and returns the unique node keys plus, for
// each internal octant, the indices of its NNodes corners into that table
// (spec §4.3 "Connectivity & intersections"). Ghost octants contribute to
// the node table but do not get their own connectivity row; callers that
// need a ghost's corner indices recompute them with NodePersistentKey and
// look them up in nodes.
func (lt *LocalTree) ComputeConnectivity() (nodes []morton.Key, connectivity [][]int) {
	seen := make(map[morton.Key]struct{})
	collect := func(o octant.Octant) {
		for k := 0; k < lt.TC.NNodes; k++ {
			seen[o.NodePersistentKey(lt.TC, k)] = struct{}{}
		}
	}
	for _, o := range lt.Octants {
		collect(o)
	}
	for _, o := range lt.Ghosts {
		collect(o)
	}

	nodes = make([]morton.Key, 0, len(seen))
	for key := range seen {
		nodes = append(nodes, key)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	keyIndex := make(map[morton.Key]int, len(nodes))
	for idx, key := range nodes {
		keyIndex[key] = idx
	}

	connectivity = make([][]int, len(lt.Octants))
	for i, o := range lt.Octants {
		row := make([]int, lt.TC.NNodes)
		for k := 0; k < lt.TC.NNodes; k++ {
			row[k] = keyIndex[o.NodePersistentKey(lt.TC, k)]
		}
		connectivity[i] = row
	}
	return nodes, connectivity
}

// ComputeIntersections enumerates every face shared between an internal
// octant and any neighbor (internal or ghost), noting which side is finer
// and whether the neighbor crosses a partition boundary (spec §4.3). Each
// internal-internal pair is emitted exactly once, from the lower-indexed
// side; internal-ghost pairs are inherently one-sided since ghosts are
// never iterated as the owning octant.
func (lt *LocalTree) ComputeIntersections() ([]Intersection, error) {
	var out []Intersection
	for i, o := range lt.Octants {
		for f := 0; f < lt.TC.NFaces; f++ {
			neighbors, err := lt.FindNeighbours(i, 1, f)
			if err != nil {
				return nil, err
			}
			for _, h := range neighbors {
				if !h.IsGhost && h.Index < i {
					// Already emitted when the outer loop visited h.Index.
					continue
				}
				nb := lt.handleOctant(h)
				finer := -1
				switch {
				case o.Level > nb.Level:
					finer = 0
				case nb.Level > o.Level:
					finer = 1
				}
				out = append(out, Intersection{
					Owners: [2]Handle{{Index: i, IsGhost: false}, h},
					Face:   f,
					Finer:  finer,
					PBound: h.IsGhost,
				})
			}
		}
	}
	return out, nil
}
