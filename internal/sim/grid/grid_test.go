package grid

import "testing"

func TestKeyFor_SameCellSameKey(t *testing.T) {
	const size = 100.0
	a := KeyFor(5, 5, size)
	b := KeyFor(99.9, 0.1, size)
	if a != b {
		t.Fatalf("positions in same cell got different keys: %v vs %v", a, b)
	}
	if a != (ChunkKey{CX: 0, CZ: 0}) {
		t.Fatalf("unexpected key: %v", a)
	}
}

func TestKeyFor_NegativeQuadrants(t *testing.T) {
	const size = 100.0
	cases := []struct {
		x, z float64
		want ChunkKey
	}{
		{-0.1, -0.1, ChunkKey{-1, -1}},
		{-100, -100, ChunkKey{-1, -1}},
		{-100.1, 0, ChunkKey{-2, 0}},
		{150, -250, ChunkKey{1, -3}},
	}
	for _, c := range cases {
		if got := KeyFor(c.x, c.z, size); got != c.want {
			t.Fatalf("KeyFor(%v,%v) = %v, want %v", c.x, c.z, got, c.want)
		}
	}
}

func TestCenter_RoundTrips(t *testing.T) {
	const size = 100.0
	k := ChunkKey{CX: -3, CZ: 2}
	x, z := k.Center(size)
	if KeyFor(x, z, size) != k {
		t.Fatalf("center (%v,%v) maps to %v, not %v", x, z, KeyFor(x, z, size), k)
	}
}
