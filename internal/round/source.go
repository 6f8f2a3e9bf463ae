package round

import (
	"math/rand/v2"
	"sync"

	"github.com/atmx/credence-engine/internal/matching"
	"github.com/atmx/credence-engine/internal/model"
)

// Source draws the type of a seller who chose to interact.
type Source interface {
	SellerType() int
}

// SourceFunc adapts a function to Source.
type SourceFunc func() int

func (f SourceFunc) SellerType() int { return f() }

// processSource draws from the process-wide generator of math/rand/v2, which
// is safe for concurrent use.
type processSource struct{}

func (processSource) SellerType() int {
	return model.SellerType1 + rand.IntN(2)
}

// ProcessSource returns the default, unseeded type source.
func ProcessSource() Source {
	return processSource{}
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a reproducible type source derived from key.
func NewSeededSource(key string) Source {
	return &seededSource{rng: matching.NewRand(key)}
}

func (s *seededSource) SellerType() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SellerType1 + s.rng.IntN(2)
}
