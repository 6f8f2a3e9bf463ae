package matching

import (
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// golden decorrelates the two PCG words derived from a single hash.
const golden = 0x9e3779b97f4a7c15

// NewRand returns a generator seeded deterministically from key. Equal keys
// always produce equal sequences, across processes and restarts.
func NewRand(key string) *rand.Rand {
	h := xxhash.Sum64String(key)
	return rand.New(rand.NewPCG(h, h^golden))
}

// RoundKey is the seed key for pairing a market in a round.
func RoundKey(code string, marketID, round int) string {
	return fmt.Sprintf("%s-%d-%d", code, marketID, round)
}
