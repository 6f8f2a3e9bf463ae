package round

import (
	"context"
	"fmt"

	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/offer"
)

// View is what a participant sees on their current step.
type View struct {
	Step         Step       `json:"step"`
	Round        int        `json:"round"`
	Rounds       int        `json:"rounds"`
	Role         model.Role `json:"role"`
	Label        string     `json:"label"`
	PartnerLabel string     `json:"partner_label,omitempty"`

	// Buyer price pair, once set.
	Price1 *int `json:"price1,omitempty"`
	Price2 *int `json:"price2,omitempty"`

	// Menu lists the selectable price pairs on a menu price step.
	Menu []string `json:"menu,omitempty"`

	Interaction *bool `json:"interaction,omitempty"`
	SellerType  *int  `json:"seller_type,omitempty"`
	Action      *int  `json:"action,omitempty"`
	PricePaid   *int  `json:"price_paid,omitempty"`
}

// State returns the current step of p together with the pair's decisions
// visible at that step.
func (m *Machine) State(ctx context.Context, h Host, p model.Participant) (*View, error) {
	step, st, err := m.step(ctx, h, p)
	if err != nil {
		return nil, err
	}
	v := &View{
		Step:   step,
		Round:  h.CurrentRound(),
		Rounds: m.tr.Rounds,
		Role:   p.Role,
		Label:  p.Label,
	}
	if st == nil {
		return v, nil
	}

	v.PartnerLabel = st.partner.Label
	v.Price1 = st.buyer.Price1
	v.Price2 = st.buyer.Price2
	v.Interaction = st.seller.Interaction
	v.SellerType = st.seller.SellerType
	v.Action = st.buyer.Action
	v.PricePaid = st.buyer.PricePaid

	if step == StepPriceOffer && len(m.tr.PriceVectors) > 0 {
		for _, pv := range m.tr.PriceVectors {
			v.Menu = append(v.Menu, offer.ChoiceLabel(pv))
		}
	}
	return v, nil
}

// Result is one participant's view of a finished round.
type Result struct {
	Round         int          `json:"round"`
	Role          model.Role   `json:"role"`
	Price1        int          `json:"price1"`
	Price2        int          `json:"price2"`
	Condition     string       `json:"condition,omitempty"`
	Interaction   bool         `json:"interaction"`
	SellerType    int          `json:"seller_type"`
	Action        *int         `json:"action,omitempty"`
	PricePaid     *int         `json:"price_paid,omitempty"`
	Payoff        model.Payoff `json:"payoff"`
	OutsideOption string       `json:"outside_option"`
}

// Results computes the payoff of p for a round. The current round is only
// available once the pair has reached the results step.
func (m *Machine) Results(ctx context.Context, h Host, p model.Participant, round int) (*Result, error) {
	current := h.CurrentRound()
	if round < 1 || round > current {
		return nil, fmt.Errorf("%w: round %d has not been played", ErrResultsNotReady, round)
	}
	if round == current {
		step, _, err := m.step(ctx, h, p)
		if err != nil {
			return nil, err
		}
		if step != StepRoundResults && step != StepWaitRoundEnd && step != StepFinished {
			return nil, fmt.Errorf("%w: participant is at %s", ErrResultsNotReady, step)
		}
	}

	st, err := m.load(ctx, h, p, round)
	if err != nil {
		return nil, err
	}
	return m.result(st)
}

func (m *Machine) result(st *pairState) (*Result, error) {
	buyerOut, sellerOut, err := m.calc.Pair(st.buyer, st.seller)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", st.round, err)
	}
	if st.buyer.Price1 == nil || st.buyer.Price2 == nil {
		return nil, fmt.Errorf("%w: round %d, buyer %s", ErrMissingPrices, st.round, st.buyer.ParticipantID)
	}

	res := &Result{
		Round:         st.round,
		Role:          st.self.Role,
		Price1:        *st.buyer.Price1,
		Price2:        *st.buyer.Price2,
		Interaction:   *st.seller.Interaction,
		SellerType:    model.SellerTypeNone,
		OutsideOption: m.calc.Params().OutsideOption.String(),
	}
	if st.buyer.PriceCondition != nil {
		res.Condition = *st.buyer.PriceCondition
	}
	if res.Interaction {
		res.SellerType = *st.seller.SellerType
		res.PricePaid = st.buyer.PricePaid
		if st.self.Role == model.RoleBuyer {
			res.Action = st.buyer.Action
		}
	}

	out := sellerOut
	if st.self.Role == model.RoleBuyer {
		out = buyerOut
	}
	res.Payoff = model.Payoff{
		ParticipantID: st.self.ID,
		Round:         st.round,
		Role:          st.self.Role,
		Points:        out.Payoff,
		Revenue:       out.Revenue,
		ActionCost:    out.ActionCost,
	}
	return res, nil
}
