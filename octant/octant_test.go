package octant

import (
	"testing"

	"go.viam.com/test"

	"github.com/starwar9527/bitpit/morton"
)

func TestBuildChildrenOrderAndInheritance(t *testing.T) {
	root := New(3)
	root.Marker = 2
	root.BalanceEnabled = true

	children := root.BuildChildren()
	test.That(t, len(children), test.ShouldEqual, 8)

	var prev uint64
	for i, c := range children {
		test.That(t, c.Level, test.ShouldEqual, int8(1))
		test.That(t, c.BalanceEnabled, test.ShouldBeTrue)
		test.That(t, c.Info.NewAfterRefinement(), test.ShouldBeTrue)
		test.That(t, c.Marker, test.ShouldEqual, int8(1))
		m := uint64(c.Morton())
		if i > 0 {
			test.That(t, m > prev, test.ShouldBeTrue)
		}
		prev = m
	}
}

func TestBuildFatherRoundTrip(t *testing.T) {
	root := New(3)
	children := root.BuildChildren()
	for _, c := range children {
		father := c.BuildFather()
		test.That(t, father.Level, test.ShouldEqual, root.Level)
		test.That(t, father.X, test.ShouldEqual, root.X)
		test.That(t, father.Y, test.ShouldEqual, root.Y)
		test.That(t, father.Z, test.ShouldEqual, root.Z)
		test.That(t, father.Info.NewAfterCoarsening(), test.ShouldBeTrue)
	}
}

func TestSiblingIndexMatchesBuildOrder(t *testing.T) {
	root := New(3)
	children := root.BuildChildren()
	for i, c := range children {
		test.That(t, c.SiblingIndex(), test.ShouldEqual, i)
	}
}

func TestValidateAnchor(t *testing.T) {
	o := NewAt(3, 5, morton.Size(5), 0, 0)
	test.That(t, o.ValidateAnchor(), test.ShouldBeNil)

	bad := o
	bad.X++
	test.That(t, bad.ValidateAnchor(), test.ShouldNotBeNil)
}
