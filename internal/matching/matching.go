// Package matching partitions a session into markets and pairs buyers with
// sellers inside each market for every round.
//
// Two schemes are supported:
//   - rotation: round r pairs buyer i with seller (i+k) mod n, k = (r-1) mod n.
//     With 4 buyers per market every buyer meets every seller exactly once in
//     any 4 consecutive rounds, and 16 rounds repeat the cycle 4 times.
//   - shuffle: buyers and sellers are shuffled independently with a generator
//     seeded from (session code, market, round) and zipped. No coverage
//     guarantee, but uncorrelated with the round number.
//
// Both schemes are deterministic, so a pairing can always be re-derived; the
// session still stores the full schedule once at bootstrap.
package matching

import (
	"fmt"

	"github.com/atmx/credence-engine/internal/model"
)

// Scheme selects the pairing rule.
type Scheme string

const (
	SchemeRotation Scheme = "rotation"
	SchemeShuffle  Scheme = "shuffle"
)

// Valid reports whether s is a known scheme.
func (s Scheme) Valid() bool {
	return s == SchemeRotation || s == SchemeShuffle
}

var (
	// ErrSessionSize is returned when the session size is not a positive
	// multiple of the market size.
	ErrSessionSize = fmt.Errorf("%w: matching: session size must be a multiple of market size", model.ErrConfiguration)

	// ErrMarketSize is returned for a market size that cannot be split into
	// equal halves.
	ErrMarketSize = fmt.Errorf("%w: matching: market size must be a positive even number", model.ErrConfiguration)

	// ErrUnbalancedMarket is returned when a market has unequal buyer and
	// seller counts.
	ErrUnbalancedMarket = fmt.Errorf("%w: matching: buyer and seller counts differ", model.ErrConfiguration)

	// ErrRounds is returned when fewer than one round is requested.
	ErrRounds = fmt.Errorf("%w: matching: at least one round is required", model.ErrConfiguration)

	// ErrUnknownScheme is returned for an unsupported scheme.
	ErrUnknownScheme = fmt.Errorf("%w: matching: unknown scheme", model.ErrConfiguration)
)

// Market is one cohort with its buyers and sellers in label order.
type Market struct {
	ID      int
	Buyers  []string
	Sellers []string
}

// CheckSizes validates the session and market sizes.
func CheckSizes(sessionSize, marketSize int) error {
	if marketSize <= 0 || marketSize%2 != 0 {
		return fmt.Errorf("%w: got %d", ErrMarketSize, marketSize)
	}
	if sessionSize <= 0 || sessionSize%marketSize != 0 {
		return fmt.Errorf("%w: %d participants, market size %d", ErrSessionSize, sessionSize, marketSize)
	}
	return nil
}

// PairRound pairs one market for a 1-based round.
func PairRound(m Market, round int, scheme Scheme, code string) ([]model.Pair, error) {
	n := len(m.Buyers)
	if n != len(m.Sellers) {
		return nil, fmt.Errorf("%w: market %d has %d buyers and %d sellers",
			ErrUnbalancedMarket, m.ID, n, len(m.Sellers))
	}
	if round < 1 {
		return nil, ErrRounds
	}

	pairs := make([]model.Pair, 0, n)

	switch scheme {
	case SchemeRotation:
		k := (round - 1) % n
		for i := 0; i < n; i++ {
			pairs = append(pairs, model.Pair{
				MarketID: m.ID,
				Buyer:    m.Buyers[i],
				Seller:   m.Sellers[(i+k)%n],
			})
		}

	case SchemeShuffle:
		buyers := append([]string(nil), m.Buyers...)
		sellers := append([]string(nil), m.Sellers...)
		rng := NewRand(RoundKey(code, m.ID, round))
		rng.Shuffle(len(buyers), func(i, j int) { buyers[i], buyers[j] = buyers[j], buyers[i] })
		rng.Shuffle(len(sellers), func(i, j int) { sellers[i], sellers[j] = sellers[j], sellers[i] })
		for i := range buyers {
			pairs = append(pairs, model.Pair{MarketID: m.ID, Buyer: buyers[i], Seller: sellers[i]})
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	return pairs, nil
}

// BuildSchedule computes the pairing of every market for rounds 1..rounds.
func BuildSchedule(markets []Market, rounds int, scheme Scheme, code string) (model.Schedule, error) {
	if rounds < 1 {
		return model.Schedule{}, ErrRounds
	}
	if !scheme.Valid() {
		return model.Schedule{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}

	sched := model.Schedule{Rounds: make([]model.RoundPairing, 0, rounds)}
	for r := 1; r <= rounds; r++ {
		rp := model.RoundPairing{Round: r}
		for _, m := range markets {
			pairs, err := PairRound(m, r, scheme, code)
			if err != nil {
				return model.Schedule{}, err
			}
			rp.Pairs = append(rp.Pairs, pairs...)
		}
		sched.Rounds = append(sched.Rounds, rp)
	}
	return sched, nil
}
