package morton

import (
	"testing"

	"go.viam.com/test"
)

func TestEncodeDecodeRoundTrip3D(t *testing.T) {
	cases := [][3]uint32{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{5, 3, 7},
		{1<<MaxLevel - 1, 1<<MaxLevel - 1, 1<<MaxLevel - 1},
	}
	for _, c := range cases {
		m := Encode(3, c[0], c[1], c[2])
		x, y, z := Decode(3, m)
		test.That(t, x, test.ShouldEqual, c[0])
		test.That(t, y, test.ShouldEqual, c[1])
		test.That(t, z, test.ShouldEqual, c[2])
	}
}

func TestEncodeDecodeRoundTrip2D(t *testing.T) {
	cases := [][2]uint32{
		{0, 0}, {1, 0}, {0, 1}, {3, 5}, {1<<MaxLevel - 1, 1<<MaxLevel - 1},
	}
	for _, c := range cases {
		m := Encode(2, c[0], c[1], 0)
		x, y, z := Decode(2, m)
		test.That(t, x, test.ShouldEqual, c[0])
		test.That(t, y, test.ShouldEqual, c[1])
		test.That(t, z, test.ShouldEqual, uint32(0))
	}
}

// TestZOrderMonotone3D checks that, within one level of refinement, the
// eight children of the root sort in the canonical Z-order: for a single
// subdivision, child anchors ordered x fastest, then y, then z, at half
// the root size must encode to strictly increasing Morton keys.
func TestZOrderMonotone3D(t *testing.T) {
	s := Size(1) // half the domain
	anchors := [][3]uint32{
		{0, 0, 0}, {s, 0, 0}, {0, s, 0}, {s, s, 0},
		{0, 0, s}, {s, 0, s}, {0, s, s}, {s, s, s},
	}
	var prev Key
	for i, a := range anchors {
		m := Encode(3, a[0], a[1], a[2])
		if i > 0 {
			test.That(t, m > prev, test.ShouldBeTrue)
		}
		prev = m
	}
}

func TestFirstLastDescendant(t *testing.T) {
	s := Size(3)
	first := FirstDescendant(3, 2*s, 0, 0)
	last := LastDescendant(3, 2*s, 0, 0, s)
	test.That(t, first <= last, test.ShouldBeTrue)
	test.That(t, first, test.ShouldEqual, Encode(3, 2*s, 0, 0))
}
