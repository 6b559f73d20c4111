package loadbalance

import (
	"testing"

	"go.viam.com/test"
)

func TestComputeUniformEvenSplit(t *testing.T) {
	tp := ComputeUniform(64, 2)
	test.That(t, tp.PrefixBegin[0], test.ShouldEqual, uint64(0))
	test.That(t, tp.PrefixEnd[0], test.ShouldEqual, uint64(32))
	test.That(t, tp.PrefixBegin[1], test.ShouldEqual, uint64(32))
	test.That(t, tp.PrefixEnd[1], test.ShouldEqual, uint64(64))
}

func TestComputeUniformUnevenSplitGivesExtraToEarlyRanks(t *testing.T) {
	tp := ComputeUniform(65, 3)
	test.That(t, tp.PrefixEnd[0]-tp.PrefixBegin[0], test.ShouldEqual, uint64(22))
	test.That(t, tp.PrefixEnd[1]-tp.PrefixBegin[1], test.ShouldEqual, uint64(22))
	test.That(t, tp.PrefixEnd[2]-tp.PrefixBegin[2], test.ShouldEqual, uint64(21))
	test.That(t, tp.PrefixEnd[2], test.ShouldEqual, uint64(65))
}

func TestComputeWeightedRespectsTotalWeight(t *testing.T) {
	weights := make([]uint64, 64)
	for i := range weights {
		weights[i] = 1
	}
	tp, err := ComputeWeighted(weights, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tp.PrefixEnd[0], test.ShouldEqual, uint64(32))
	test.That(t, tp.PrefixEnd[1], test.ShouldEqual, uint64(64))
}

func TestAdjustForFamilyCompactnessRealignsBoundary(t *testing.T) {
	tp := TargetPartition{PrefixBegin: []uint64{0, 22, 43}, PrefixEnd: []uint64{22, 43, 64}}
	out := AdjustForFamilyCompactness(tp, 64, 8)
	for p := 0; p < 2; p++ {
		test.That(t, out.PrefixEnd[p]%8, test.ShouldEqual, uint64(0))
		test.That(t, out.PrefixBegin[p+1], test.ShouldEqual, out.PrefixEnd[p])
	}
	test.That(t, out.PrefixEnd[2], test.ShouldEqual, uint64(64))
}

func TestSendRecvRangesAreConsistentAcrossRanks(t *testing.T) {
	target := ComputeUniform(64, 2)
	current := []CurrentRange{{Begin: 0, End: 40}, {Begin: 40, End: 64}}

	send0 := ComputeSendRanges(CurrentRange{Begin: 0, End: 40}, target)
	test.That(t, send0[0].Begin, test.ShouldEqual, 0)
	test.That(t, send0[0].End, test.ShouldEqual, 32)
	test.That(t, send0[1].Begin, test.ShouldEqual, 32)
	test.That(t, send0[1].End, test.ShouldEqual, 40)

	myTarget := Range{Begin: 0, End: int(target.PrefixEnd[0] - target.PrefixBegin[0])}
	recv0 := ComputeRecvRanges(myTarget, target.PrefixBegin[0], current)
	test.That(t, recv0[0].Begin, test.ShouldEqual, 0)
	test.That(t, recv0[0].End, test.ShouldEqual, 32)
	test.That(t, recv0[1].Empty(), test.ShouldBeTrue)
}
