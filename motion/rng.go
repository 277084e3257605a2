package motion

import (
	"hash/fnv"
	"math/rand/v2"
)

// DeriveRNG derives a subsystem RNG from one root seed with domain
// separation, so mouse and typing randomness stay deterministic under a
// fixed seed but never influence each other through call ordering.
func DeriveRNG(seed uint64, domain string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(domain))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}
