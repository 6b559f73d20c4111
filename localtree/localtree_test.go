package localtree

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/starwar9527/bitpit/octant"
)

func TestGlobalRefineTwiceProducesSixteen2D(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()

	lt.SetAllMarkers(1)
	test.That(t, lt.Refine(false), test.ShouldBeTrue)
	test.That(t, len(lt.Octants), test.ShouldEqual, 4)

	lt.SetAllMarkers(1)
	test.That(t, lt.Refine(false), test.ShouldBeTrue)
	test.That(t, len(lt.Octants), test.ShouldEqual, 16)

	var prev uint64
	for i, o := range lt.Octants {
		test.That(t, o.Level, test.ShouldEqual, int8(2))
		test.That(t, o.Info.NewAfterRefinement(), test.ShouldBeTrue)
		m := uint64(o.Morton())
		if i > 0 {
			test.That(t, m, test.ShouldBeGreaterThan, prev)
		}
		prev = m
	}
	test.That(t, lt.Validate(), test.ShouldBeNil)
}

func TestRefineThenCoarseRoundTripsWithMapping(t *testing.T) {
	lt, err := New(3, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()

	lt.ResetMapping(true)
	lt.SetAllMarkers(1)
	test.That(t, lt.Refine(true), test.ShouldBeTrue)
	test.That(t, len(lt.Octants), test.ShouldEqual, 8)
	for _, entry := range lt.MapIdx {
		test.That(t, entry, test.ShouldResemble, []int{0})
	}

	lt.ResetMapping(true)
	lt.SetAllMarkers(-1)
	test.That(t, lt.Coarse(true), test.ShouldBeTrue)
	test.That(t, len(lt.Octants), test.ShouldEqual, 1)
	test.That(t, lt.Octants[0].Level, test.ShouldEqual, int8(0))
	test.That(t, len(lt.MapIdx[0]), test.ShouldEqual, 8)
}

func TestBalanceClosesTwoLevelGap(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()

	// Refine once globally, then refine only octant 0 twice more so it sits
	// two levels finer than its siblings, violating 2:1 balance.
	lt.SetAllMarkers(1)
	lt.Refine(false)

	lt.Octants[0].Marker = 2
	lt.Refine(false)

	changed, err := lt.BalanceToFixpoint(false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changed, test.ShouldBeTrue)

	// After balance, every face neighbor's marker closes any >1 level gap:
	// the resulting levels (level+marker) of face neighbors differ by at
	// most one. Octants 16 and 17 (the +x and +y siblings of the refined
	// octant) are raised by one; the diagonal sibling 18 shares no face
	// with the level-3 octants and is left alone.
	for i, o := range lt.Octants {
		for f := 0; f < lt.TC.NFaces; f++ {
			hs, err := lt.FindNeighbours(i, 1, f)
			test.That(t, err, test.ShouldBeNil)
			for _, h := range hs {
				nb := lt.handleOctant(h)
				gap := int(o.Level+o.Marker) - int(nb.Level+nb.Marker)
				test.That(t, gap, test.ShouldBeLessThanOrEqualTo, 1)
				test.That(t, gap, test.ShouldBeGreaterThanOrEqualTo, -1)
			}
		}
	}
	test.That(t, lt.Octants[16].Marker, test.ShouldEqual, int8(1))
	test.That(t, lt.Octants[17].Marker, test.ShouldEqual, int8(1))
	test.That(t, lt.Octants[18].Marker, test.ShouldEqual, int8(0))
}

func TestFindNeighboursExcludesSelf(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)

	for i := range lt.Octants {
		hs, err := lt.FindNeighbours(i, 1, 0)
		test.That(t, err, test.ShouldBeNil)
		for _, h := range hs {
			test.That(t, h.IsGhost, test.ShouldBeFalse)
			test.That(t, h.Index, test.ShouldNotEqual, i)
		}
	}
}

func TestComputeConnectivitySharesCornerIndices(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)

	nodes, conn := lt.ComputeConnectivity()
	test.That(t, len(nodes), test.ShouldEqual, 9) // 2x2 quads -> 3x3 node grid
	test.That(t, len(conn), test.ShouldEqual, 4)
	// Octant 0's node 1 (top-right-ish in Z order) must equal octant 1's
	// node 0 (shared corner).
	test.That(t, conn[0][1], test.ShouldEqual, conn[1][0])
}

func TestComputeConnectivityIncludesGhostOnlyNodes(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)
	children := append([]octant.Octant(nil), lt.Octants...)
	test.That(t, len(children), test.ShouldEqual, 4)

	// Keep only octant 0 internal; octant 1 (its Morton-neighbor to the
	// right) plays the role of a ghost owned by a neighboring process. The
	// two share one edge (nodes 1/3 of octant 0 with nodes 0/2 of octant 1)
	// but octant 1's remaining two corners belong to no internal octant.
	lt.Octants = children[:1]

	nodesNoGhost, connNoGhost := lt.ComputeConnectivity()
	test.That(t, len(nodesNoGhost), test.ShouldEqual, 4)
	test.That(t, len(connNoGhost), test.ShouldEqual, 1)

	lt.Ghosts = children[1:2]
	nodesWithGhost, connWithGhost := lt.ComputeConnectivity()

	// The ghost's two corners that lie outside octant 0 must now be
	// tracked in the node table, even though the ghost gets no
	// connectivity row of its own.
	test.That(t, len(nodesWithGhost), test.ShouldEqual, 6)
	test.That(t, len(connWithGhost), test.ShouldEqual, 1)

	sharedKey := children[0].NodePersistentKey(lt.TC, 1)
	test.That(t, sharedKey, test.ShouldEqual, children[1].NodePersistentKey(lt.TC, 0))

	farGhostKey := children[1].NodePersistentKey(lt.TC, 1)
	found := false
	for _, k := range nodesWithGhost {
		if k == farGhostKey {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestComputeIntersectionsEmitsEachInternalPairOnce(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)
	test.That(t, len(lt.Octants), test.ShouldEqual, 4)

	inter, err := lt.ComputeIntersections()
	test.That(t, err, test.ShouldBeNil)

	// The 2x2 quad decomposition has exactly 4 shared internal edges: (0,1),
	// (0,2), (1,3), (2,3). The diagonal pairs (0,3) and (1,2) only touch at
	// a corner, not a face, so they must not appear.
	seen := make(map[[2]int]bool)
	for _, x := range inter {
		test.That(t, x.Owners[1].IsGhost, test.ShouldBeFalse)
		test.That(t, x.Owners[0].Index, test.ShouldBeLessThan, x.Owners[1].Index)
		key := [2]int{x.Owners[0].Index, x.Owners[1].Index}
		test.That(t, seen[key], test.ShouldBeFalse)
		seen[key] = true
	}
	test.That(t, len(inter), test.ShouldEqual, 4)
}

func TestComputeIntersectionsWithGhostIsOneSided(t *testing.T) {
	lt, err := New(2, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	lt.InitRoot()
	lt.SetAllMarkers(1)
	lt.Refine(false)
	children := append([]octant.Octant(nil), lt.Octants...)
	lt.Octants = children[:1]
	lt.Ghosts = children[1:2]

	inter, err := lt.ComputeIntersections()
	test.That(t, err, test.ShouldBeNil)

	found := false
	for _, x := range inter {
		if x.Owners[1].IsGhost {
			test.That(t, x.Owners[0].Index, test.ShouldEqual, 0)
			test.That(t, x.Owners[1].Index, test.ShouldEqual, 0)
			test.That(t, x.PBound, test.ShouldBeTrue)
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}
