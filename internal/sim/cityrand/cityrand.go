// Package cityrand provides the deterministic random source used by city
// generation. Same seed, same sequence — math/rand makes no such promise
// across Go versions, so the generator is spelled out here.
package cityrand

// RNG is a linear-congruential generator (Numerical Recipes constants).
type RNG struct {
	state uint64
}

func New(seed int64) *RNG {
	return &RNG{state: uint64(seed)}
}

func (r *RNG) Uint64() uint64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return r.state
}

// Float64 returns a value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn returns a value in [0, n). n <= 0 yields 0.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Uint64() % uint64(n))
}

// IntRange returns a value in [min, max].
func (r *RNG) IntRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + r.Intn(max-min+1)
}

// Range returns a value in [min, max).
func (r *RNG) Range(min, max float64) float64 {
	if min >= max {
		return min
	}
	return min + r.Float64()*(max-min)
}

// Chance reports true with probability p.
func (r *RNG) Chance(p float64) bool {
	return r.Float64() < p
}

// Hash2 returns a stable hash for 2D integer coordinates plus a seed.
// Murmur-finalizer style mixing; large odd constants decorrelate the axes.
func Hash2(seed int64, x, z int) uint64 {
	h := uint64(seed)
	h ^= uint64(uint32(int32(x))) * 0x9e3779b1
	h ^= uint64(uint32(int32(z))) * 0x85ebca6b
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}
