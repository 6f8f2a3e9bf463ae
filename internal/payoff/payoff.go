// Package payoff computes round payoffs for a matched buyer and seller.
//
// The calculator is stateless and pure: the same decision record pair always
// yields the same payoff. It assumes the round state machine has already
// enforced completeness, so any missing input is reported as an integrity
// fault instead of being replaced by a default.
//
// All point values use shopspring/decimal.
package payoff

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/credence-engine/internal/model"
)

var (
	// ErrMissingInteraction is returned when the seller's interaction
	// decision is absent.
	ErrMissingInteraction = fmt.Errorf("%w: payoff: interaction decision missing", model.ErrIntegrity)

	// ErrMissingType is returned when the seller interacted but no type was drawn.
	ErrMissingType = fmt.Errorf("%w: payoff: seller type missing", model.ErrIntegrity)

	// ErrMissingAction is returned when the buyer's action choice is absent.
	ErrMissingAction = fmt.Errorf("%w: payoff: action choice missing", model.ErrIntegrity)

	// ErrMissingPricePaid is returned when the buyer's price paid is absent.
	ErrMissingPricePaid = fmt.Errorf("%w: payoff: price paid missing", model.ErrIntegrity)

	// ErrInvalidParams is returned by NewCalculator for negative constants.
	ErrInvalidParams = fmt.Errorf("%w: payoff: parameters must be non-negative", model.ErrConfiguration)
)

// Params are the fixed game constants of a treatment.
type Params struct {
	OutsideOption decimal.Decimal `json:"outside_option"`
	Revenue1      decimal.Decimal `json:"revenue1"` // type 1 served with action 1
	Revenue2      decimal.Decimal `json:"revenue2"` // every other combination
	Action1Cost   decimal.Decimal `json:"action1_cost"`
	Action2Cost   decimal.Decimal `json:"action2_cost"`
}

// Calculator evaluates payoffs for one set of Params.
type Calculator struct {
	p Params
}

// NewCalculator validates params and returns a calculator.
func NewCalculator(p Params) (*Calculator, error) {
	for _, v := range []decimal.Decimal{p.OutsideOption, p.Revenue1, p.Revenue2, p.Action1Cost, p.Action2Cost} {
		if v.IsNegative() {
			return nil, ErrInvalidParams
		}
	}
	return &Calculator{p: p}, nil
}

// Params returns the constants in use.
func (c *Calculator) Params() Params {
	return c.p
}

// Outcome is the result of one payoff evaluation.
type Outcome struct {
	Payoff     decimal.Decimal
	Revenue    decimal.Decimal
	ActionCost decimal.Decimal
	Interacted bool
}

// BuyerInput carries what the buyer's payoff depends on.
type BuyerInput struct {
	PartnerInteracted *bool
	SellerType        *int
	Action            *int
	PricePaid         *int
}

// SellerInput carries what the seller's payoff depends on.
type SellerInput struct {
	Interacted       *bool
	PartnerPricePaid *int
}

// Revenue returns the buyer's revenue for a seller type and action:
// Revenue1 only when a type-1 seller is served with action 1.
func (c *Calculator) Revenue(sellerType, action int) decimal.Decimal {
	if sellerType == model.SellerType1 && action == model.Action1 {
		return c.p.Revenue1
	}
	return c.p.Revenue2
}

// ActionCost returns the cost of an action.
func (c *Calculator) ActionCost(action int) decimal.Decimal {
	if action == model.Action1 {
		return c.p.Action1Cost
	}
	return c.p.Action2Cost
}

// Buyer computes the buyer's payoff.
//
//	no interaction: payoff = outside option, revenue = 0
//	interaction:    payoff = revenue(type, action) − cost(action) − price paid
//
// A stray action on a no-interaction round is ignored.
func (c *Calculator) Buyer(in BuyerInput) (Outcome, error) {
	if in.PartnerInteracted == nil {
		return Outcome{}, ErrMissingInteraction
	}
	if !*in.PartnerInteracted {
		return Outcome{
			Payoff:     c.p.OutsideOption,
			Revenue:    decimal.Zero,
			ActionCost: decimal.Zero,
		}, nil
	}

	if in.SellerType == nil {
		return Outcome{}, ErrMissingType
	}
	if in.Action == nil {
		return Outcome{}, ErrMissingAction
	}
	if in.PricePaid == nil {
		return Outcome{}, ErrMissingPricePaid
	}

	revenue := c.Revenue(*in.SellerType, *in.Action)
	cost := c.ActionCost(*in.Action)
	paid := decimal.NewFromInt(int64(*in.PricePaid))

	return Outcome{
		Payoff:     revenue.Sub(cost).Sub(paid),
		Revenue:    revenue,
		ActionCost: cost,
		Interacted: true,
	}, nil
}

// Seller computes the seller's payoff: the outside option when declining,
// otherwise the price the partner paid.
func (c *Calculator) Seller(in SellerInput) (Outcome, error) {
	if in.Interacted == nil {
		return Outcome{}, ErrMissingInteraction
	}
	if !*in.Interacted {
		return Outcome{Payoff: c.p.OutsideOption}, nil
	}
	if in.PartnerPricePaid == nil {
		return Outcome{}, ErrMissingPricePaid
	}
	return Outcome{
		Payoff:     decimal.NewFromInt(int64(*in.PartnerPricePaid)),
		Interacted: true,
	}, nil
}

// Pair computes both payoffs from the buyer's and the seller's decision records.
func (c *Calculator) Pair(buyer, seller *model.DecisionRecord) (buyerOut, sellerOut Outcome, err error) {
	buyerOut, err = c.Buyer(BuyerInput{
		PartnerInteracted: seller.Interaction,
		SellerType:        seller.SellerType,
		Action:            buyer.Action,
		PricePaid:         buyer.PricePaid,
	})
	if err != nil {
		return Outcome{}, Outcome{}, err
	}
	sellerOut, err = c.Seller(SellerInput{
		Interacted:       seller.Interaction,
		PartnerPricePaid: buyer.PricePaid,
	})
	if err != nil {
		return Outcome{}, Outcome{}, err
	}
	return buyerOut, sellerOut, nil
}
