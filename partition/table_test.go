package partition

import (
	"testing"

	"go.viam.com/test"

	"github.com/starwar9527/bitpit/morton"
)

func TestBuildAndOwnerRank(t *testing.T) {
	counts := []uint64{32, 32}
	firstDesc := []morton.Key{0, 32}
	lastDesc := []morton.Key{31, 63}

	tbl, err := Build(counts, firstDesc, lastDesc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tbl.GlobalCount(), test.ShouldEqual, uint64(64))
	test.That(t, tbl.OwnerRank(0), test.ShouldEqual, 0)
	test.That(t, tbl.OwnerRank(31), test.ShouldEqual, 0)
	test.That(t, tbl.OwnerRank(32), test.ShouldEqual, 1)
	test.That(t, tbl.OwnerRank(63), test.ShouldEqual, 1)
	test.That(t, tbl.OwnerRank(64), test.ShouldEqual, -1)

	test.That(t, tbl.OwnerRankByMorton(0), test.ShouldEqual, 0)
	test.That(t, tbl.OwnerRankByMorton(32), test.ShouldEqual, 1)
	test.That(t, tbl.OwnerRankByMorton(63), test.ShouldEqual, 1)

	test.That(t, tbl.Validate(), test.ShouldBeNil)
}

func TestBuildEmptyPartitionPropagation(t *testing.T) {
	counts := []uint64{0, 64, 0}
	firstDesc := []morton.Key{0, 0, 64}
	lastDesc := []morton.Key{0, 63, 64}

	tbl, err := Build(counts, firstDesc, lastDesc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tbl.LastGlobalIdx[0], test.ShouldEqual, int64(-1))
	test.That(t, tbl.FirstDesc[0], test.ShouldEqual, morton.Key(0))
	test.That(t, tbl.LastGlobalIdx[1], test.ShouldEqual, int64(63))
	test.That(t, tbl.LastGlobalIdx[2], test.ShouldEqual, int64(63))
	test.That(t, tbl.Validate(), test.ShouldBeNil)
}

func TestBuildLengthMismatch(t *testing.T) {
	_, err := Build([]uint64{1, 2}, []morton.Key{0}, []morton.Key{0})
	test.That(t, err, test.ShouldNotBeNil)
}
