// Package session performs the one-time setup of an experiment session:
// market and role assignment, the full pairing schedule and, for treatments
// with experimenter-set prices, the price schedule. Everything is derived from
// the session code so a session can be rebuilt identically.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/credence-engine/internal/matching"
	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/treatment"
)

// ErrPriceSchedule is returned when the rounds cannot be split evenly across
// the exogenous price vectors.
var ErrPriceSchedule = fmt.Errorf("%w: session: rounds must be a multiple of the price vector count", model.ErrConfiguration)

// Plan is the complete initial state of a new session.
type Plan struct {
	Session      *model.Session
	Participants []model.Participant
	Records      []model.DecisionRecord // round 1
}

// NewCode returns a short session code used as the seed root.
func NewCode() string {
	return uuid.NewString()[:8]
}

// Bootstrap assigns markets and roles to size participants and precomputes the
// schedules. Any imbalance is a configuration fault and no plan is returned.
func Bootstrap(tr treatment.Treatment, size int, code string) (*Plan, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if err := matching.CheckSizes(size, tr.MarketSize); err != nil {
		return nil, err
	}
	if tr.Rounds < 1 {
		return nil, matching.ErrRounds
	}
	if code == "" {
		code = NewCode()
	}

	sess := &model.Session{
		ID:           uuid.NewString(),
		Code:         code,
		Treatment:    tr.Name,
		Participants: size,
		MarketSize:   tr.MarketSize,
		Rounds:       tr.Rounds,
		CurrentRound: 1,
		Status:       model.SessionWaiting,
		CreatedAt:    time.Now().UTC(),
	}

	participants := AssignRoles(sess.ID, size, tr.MarketSize, tr.Roles, code)

	markets := Markets(participants)
	sched, err := matching.BuildSchedule(markets, tr.Rounds, tr.Matching, code)
	if err != nil {
		return nil, err
	}
	sess.Schedule = sched

	if tr.Prices == treatment.PricesExogenous {
		ps, err := PriceSchedule(tr.PriceVectors, tr.Rounds, code)
		if err != nil {
			return nil, err
		}
		sess.PriceSchedule = ps
	}

	records, err := RoundRecords(sess, participants, 1)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Session:      sess,
		Participants: participants,
		Records:      records,
	}, nil
}

// AssignRoles splits size participants into markets of marketSize and gives
// each market equal halves of buyers and sellers. Labels count up within a
// role in index order (A1, A2, ... / B1, B2, ...).
func AssignRoles(sessionID string, size, marketSize int, how treatment.RoleAssignment, code string) []model.Participant {
	half := marketSize / 2
	participants := make([]model.Participant, 0, size)

	for start := 0; start < size; start += marketSize {
		marketID := start/marketSize + 1

		roles := make([]model.Role, marketSize)
		for i := range roles {
			if i < half {
				roles[i] = model.RoleBuyer
			} else {
				roles[i] = model.RoleSeller
			}
		}
		if how == treatment.RolesShuffled {
			rng := matching.NewRand(fmt.Sprintf("%s-roles-%d", code, marketID))
			rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })
		}

		buyers, sellers := 0, 0
		for pos, role := range roles {
			var label string
			if role == model.RoleBuyer {
				buyers++
				label = fmt.Sprintf("A%d", buyers)
			} else {
				sellers++
				label = fmt.Sprintf("B%d", sellers)
			}
			participants = append(participants, model.Participant{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Index:     start + pos + 1,
				Role:      role,
				Label:     label,
				MarketID:  marketID,
			})
		}
	}
	return participants
}

// Markets groups participants into matching markets with buyers and sellers
// in label order.
func Markets(participants []model.Participant) []matching.Market {
	var markets []matching.Market
	index := map[int]int{}
	for _, p := range participants {
		i, ok := index[p.MarketID]
		if !ok {
			i = len(markets)
			index[p.MarketID] = i
			markets = append(markets, matching.Market{ID: p.MarketID})
		}
		// Participants are in index order, and labels follow index order.
		switch p.Role {
		case model.RoleBuyer:
			markets[i].Buyers = append(markets[i].Buyers, p.ID)
		case model.RoleSeller:
			markets[i].Sellers = append(markets[i].Sellers, p.ID)
		}
	}
	return markets
}

// PriceSchedule repeats the vectors evenly over the rounds and shuffles them
// with a generator seeded from the session code.
func PriceSchedule(vectors []model.PriceVector, rounds int, code string) ([]model.PriceVector, error) {
	if len(vectors) == 0 || rounds%len(vectors) != 0 {
		return nil, fmt.Errorf("%w: %d rounds, %d vectors", ErrPriceSchedule, rounds, len(vectors))
	}
	schedule := make([]model.PriceVector, 0, rounds)
	for i := 0; i < rounds/len(vectors); i++ {
		schedule = append(schedule, vectors...)
	}
	rng := matching.NewRand(code + "-exo-prices")
	rng.Shuffle(len(schedule), func(i, j int) { schedule[i], schedule[j] = schedule[j], schedule[i] })
	return schedule, nil
}

// RoundRecords creates the empty decision records of a round. With an
// exogenous price schedule the buyers' prices are filled in up front.
func RoundRecords(sess *model.Session, participants []model.Participant, round int) ([]model.DecisionRecord, error) {
	var prices *model.PriceVector
	if len(sess.PriceSchedule) > 0 {
		if round < 1 || round > len(sess.PriceSchedule) {
			return nil, fmt.Errorf("%w: no exogenous prices for round %d", model.ErrIntegrity, round)
		}
		prices = &sess.PriceSchedule[round-1]
	}

	records := make([]model.DecisionRecord, 0, len(participants))
	for _, p := range participants {
		rec := model.DecisionRecord{
			SessionID:     sess.ID,
			ParticipantID: p.ID,
			Round:         round,
		}
		if prices != nil && p.Role == model.RoleBuyer {
			rec.Price1 = model.Ptr(prices.Price1)
			rec.Price2 = model.Ptr(prices.Price2)
			if prices.Condition != "" {
				rec.PriceCondition = model.Ptr(prices.Condition)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
