// Package grid maps world coordinates onto the fixed-size chunk lattice.
package grid

import (
	"fmt"
	"math"
)

// ChunkKey identifies one chunk cell.
type ChunkKey struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%d,%d", k.CX, k.CZ)
}

// KeyFor returns the chunk key containing world position (x, z).
// Floor division: the same cell always yields the same key, in every quadrant.
func KeyFor(x, z, chunkSize float64) ChunkKey {
	return ChunkKey{
		CX: int(math.Floor(x / chunkSize)),
		CZ: int(math.Floor(z / chunkSize)),
	}
}

// Center returns the world-space center of the chunk cell.
func (k ChunkKey) Center(chunkSize float64) (x, z float64) {
	return (float64(k.CX) + 0.5) * chunkSize, (float64(k.CZ) + 0.5) * chunkSize
}
