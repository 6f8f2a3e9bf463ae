// Package model defines the core domain types shared across the credence engine.
// All point values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the fixed part a participant plays for the whole session.
type Role string

const (
	RoleBuyer  Role = "A" // offers prices, chooses action and price paid
	RoleSeller Role = "B" // decides whether to interact, carries the type
)

// SessionStatus tracks the lifecycle of a session.
type SessionStatus string

const (
	SessionWaiting  SessionStatus = "waiting" // session-start barrier not released
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished" // last round acknowledged by everyone
)

// Seller types. SellerTypeNone marks a seller who declined to interact.
const (
	SellerTypeNone = 0
	SellerType1    = 1
	SellerType2    = 2
)

// Actions available to the buyer once the seller interacts.
const (
	Action1 = 1
	Action2 = 2
)

// Participant is one seat in a session. Role, label and market are assigned
// once at bootstrap and never change.
type Participant struct {
	ID         string `json:"id" db:"id"`
	SessionID  string `json:"session_id" db:"session_id"`
	Index      int    `json:"index" db:"idx"` // 1-based position in the session
	Role       Role   `json:"role" db:"role"`
	Label      string `json:"label" db:"label"`         // A1..An, B1..Bn
	MarketID   int    `json:"market_id" db:"market_id"` // 1-based
	QuizPassed bool   `json:"quiz_passed" db:"quiz_passed"`
	Arrived    bool   `json:"arrived" db:"arrived"`
}

// Pair matches one buyer with one seller for a round (participant IDs).
type Pair struct {
	MarketID int    `json:"market_id"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
}

// RoundPairing is the full pairing of a session for one round.
type RoundPairing struct {
	Round int    `json:"round"`
	Pairs []Pair `json:"pairs"`
}

// Schedule holds the pairing of every round, computed once at bootstrap.
// Rounds[i] is round i+1.
type Schedule struct {
	Rounds []RoundPairing `json:"rounds"`
}

// Round returns the pairs of a 1-based round.
func (s Schedule) Round(round int) ([]Pair, bool) {
	if round < 1 || round > len(s.Rounds) {
		return nil, false
	}
	return s.Rounds[round-1].Pairs, true
}

// Partner returns the ID paired with participantID in the given round.
func (s Schedule) Partner(round int, participantID string) (string, bool) {
	pairs, ok := s.Round(round)
	if !ok {
		return "", false
	}
	for _, p := range pairs {
		switch participantID {
		case p.Buyer:
			return p.Seller, true
		case p.Seller:
			return p.Buyer, true
		}
	}
	return "", false
}

// PriceVector is a price pair fixed by the experimenter or offered on a menu.
type PriceVector struct {
	Price1    int    `json:"price1"`
	Price2    int    `json:"price2"`
	Condition string `json:"condition,omitempty"` // e.g. "fair", "unfair"
}

// Session is one run of the experiment.
type Session struct {
	ID            string        `json:"id" db:"id"`
	Code          string        `json:"code" db:"code"` // seed root for all draws
	Treatment     string        `json:"treatment" db:"treatment"`
	Participants  int           `json:"participants" db:"participants"`
	MarketSize    int           `json:"market_size" db:"market_size"`
	Rounds        int           `json:"rounds" db:"rounds"`
	CurrentRound  int           `json:"current_round" db:"current_round"`
	Status        SessionStatus `json:"status" db:"status"`
	Schedule      Schedule      `json:"schedule"`
	PriceSchedule []PriceVector `json:"price_schedule,omitempty"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// Payoff is derived from a pair of decision records; it is never an input.
type Payoff struct {
	ParticipantID string          `json:"participant_id"`
	Round         int             `json:"round"`
	Role          Role            `json:"role"`
	Points        decimal.Decimal `json:"points"`
	Revenue       decimal.Decimal `json:"revenue"`     // buyer only
	ActionCost    decimal.Decimal `json:"action_cost"` // buyer only
}

// FinalResult sums a participant's payoffs over the whole session.
type FinalResult struct {
	ParticipantID    string          `json:"participant_id"`
	Rounds           []Payoff        `json:"rounds"`
	TotalPoints      decimal.Decimal `json:"total_points"`
	TotalCurrency    decimal.Decimal `json:"total_currency"`
	ParticipationFee decimal.Decimal `json:"participation_fee"`
	TotalPayment     decimal.Decimal `json:"total_payment"`
}
