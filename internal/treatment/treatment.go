// Package treatment holds the experimental conditions as data.
//
// A treatment decides which steps of a round are active (free price offer,
// fixed prices or a price menu; buyer-chosen or type-fixed payment), how
// roles and pairings are assigned, and the payoff constants. A single round
// state machine is parameterised by the treatment instead of duplicating the
// flow per condition.
package treatment

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/credence-engine/internal/matching"
	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/payoff"
)

// Built-in treatment names.
const (
	Baseline      = "baseline"
	Exogenous     = "exogenous"
	Verifiability = "verifiability"
)

// PriceMode selects where the buyer's price pair comes from.
type PriceMode string

const (
	PricesChosen    PriceMode = "chosen"    // buyer offers any pair within bounds
	PricesExogenous PriceMode = "exogenous" // experimenter schedule, one vector per round
	PricesMenu      PriceMode = "menu"      // buyer picks one pair from a fixed menu
)

// PaymentMode selects how the price paid is set.
type PaymentMode string

const (
	PaymentChosen PaymentMode = "chosen"  // buyer picks price 1 or price 2
	PaymentByType PaymentMode = "by_type" // type 1 pays price 1, type 2 pays price 2
)

// RoleAssignment selects how roles are distributed inside a market.
type RoleAssignment string

const (
	RolesPositional RoleAssignment = "positional" // first half of the market are buyers
	RolesShuffled   RoleAssignment = "shuffled"   // seeded shuffle within the market
)

var (
	ErrUnknownTreatment = fmt.Errorf("%w: treatment: unknown treatment", model.ErrConfiguration)
	ErrInvalidTreatment = fmt.Errorf("%w: treatment: invalid definition", model.ErrConfiguration)
)

// Treatment is one experimental condition.
type Treatment struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Prices      PriceMode       `json:"prices"`
	Payment     PaymentMode     `json:"payment"`
	Roles       RoleAssignment  `json:"roles"`
	Matching    matching.Scheme `json:"matching"`
	Quiz        bool            `json:"quiz"`
	Payoff      payoff.Params   `json:"payoff"`
	MinPrice    int             `json:"min_price"`
	MaxPrice    int             `json:"max_price"`

	// PriceVectors is the exogenous schedule pool (PricesExogenous) or the
	// menu (PricesMenu). Unused for PricesChosen.
	PriceVectors []model.PriceVector `json:"price_vectors,omitempty"`

	MarketSize int `json:"market_size"`
	Rounds     int `json:"rounds"`

	// Payment conversion at the end of the session.
	CurrencyPerPoint decimal.Decimal `json:"currency_per_point"`
	ParticipationFee decimal.Decimal `json:"participation_fee"`
}

// ChoosesPrices reports whether the buyer has a price step.
func (t Treatment) ChoosesPrices() bool {
	return t.Prices != PricesExogenous
}

// ChoosesPayment reports whether the buyer has a payment step.
func (t Treatment) ChoosesPayment() bool {
	return t.Payment == PaymentChosen
}

// Convert turns total points into currency and adds the participation fee.
// Both amounts are rounded to cents.
func (t Treatment) Convert(points decimal.Decimal) (currency, total decimal.Decimal) {
	currency = points.Mul(t.CurrencyPerPoint).Round(2)
	return currency, currency.Add(t.ParticipationFee).Round(2)
}

// Validate checks the treatment definition for internal consistency.
func (t Treatment) Validate() error {
	switch t.Prices {
	case PricesChosen:
	case PricesExogenous, PricesMenu:
		if len(t.PriceVectors) == 0 {
			return fmt.Errorf("%w: %s needs price vectors", ErrInvalidTreatment, t.Name)
		}
		for _, pv := range t.PriceVectors {
			if pv.Price1 > pv.Price2 {
				return fmt.Errorf("%w: %s vector %d-%d is not ordered", ErrInvalidTreatment, t.Name, pv.Price1, pv.Price2)
			}
		}
	default:
		return fmt.Errorf("%w: %s has unknown price mode %q", ErrInvalidTreatment, t.Name, t.Prices)
	}
	if t.Payment != PaymentChosen && t.Payment != PaymentByType {
		return fmt.Errorf("%w: %s has unknown payment mode %q", ErrInvalidTreatment, t.Name, t.Payment)
	}
	if t.Roles != RolesPositional && t.Roles != RolesShuffled {
		return fmt.Errorf("%w: %s has unknown role assignment %q", ErrInvalidTreatment, t.Name, t.Roles)
	}
	if !t.Matching.Valid() {
		return fmt.Errorf("%w: %s has unknown matching scheme %q", ErrInvalidTreatment, t.Name, t.Matching)
	}
	if t.MinPrice > t.MaxPrice {
		return fmt.Errorf("%w: %s min price above max price", ErrInvalidTreatment, t.Name)
	}
	if t.CurrencyPerPoint.IsNegative() || t.ParticipationFee.IsNegative() {
		return fmt.Errorf("%w: %s has a negative payment rate or fee", ErrInvalidTreatment, t.Name)
	}
	if _, err := payoff.NewCalculator(t.Payoff); err != nil {
		return err
	}
	return nil
}

var builtin = map[string]Treatment{
	Baseline: {
		Name:        Baseline,
		Description: "Buyers offer two prices, choose an action and the price paid.",
		Prices:      PricesChosen,
		Payment:     PaymentChosen,
		Roles:       RolesShuffled,
		Matching:    matching.SchemeRotation,
		Payoff: payoff.Params{
			OutsideOption: decimal.NewFromInt(1),
			Revenue1:      decimal.NewFromInt(10),
			Revenue2:      decimal.NewFromInt(15),
			Action1Cost:   decimal.NewFromInt(0),
			Action2Cost:   decimal.NewFromInt(6),
		},
		MinPrice:         2,
		MaxPrice:         10,
		MarketSize:       8,
		Rounds:           16,
		CurrencyPerPoint: decimal.RequireFromString("0.25"),
		ParticipationFee: decimal.Zero,
	},
	Exogenous: {
		Name:        Exogenous,
		Description: "Prices are set by the experimenter; the price paid follows the seller type.",
		Prices:      PricesExogenous,
		Payment:     PaymentByType,
		Roles:       RolesPositional,
		Matching:    matching.SchemeShuffle,
		Quiz:        true,
		Payoff: payoff.Params{
			OutsideOption: decimal.NewFromInt(1),
			Revenue1:      decimal.NewFromInt(10),
			Revenue2:      decimal.NewFromInt(16),
			Action1Cost:   decimal.NewFromInt(1),
			Action2Cost:   decimal.NewFromInt(6),
		},
		MinPrice: 2,
		MaxPrice: 10,
		PriceVectors: []model.PriceVector{
			{Price1: 2, Price2: 3, Condition: "unfair"},
			{Price1: 5, Price2: 7, Condition: "fair"},
		},
		MarketSize:       8,
		Rounds:           16,
		CurrencyPerPoint: decimal.NewFromInt(1).Div(decimal.NewFromInt(7)),
		ParticipationFee: decimal.RequireFromString("5.00"),
	},
	Verifiability: {
		Name:        Verifiability,
		Description: "Buyers pick one price pair from a menu; the price paid follows the seller type.",
		Prices:      PricesMenu,
		Payment:     PaymentByType,
		Roles:       RolesPositional,
		Matching:    matching.SchemeShuffle,
		Quiz:        true,
		Payoff: payoff.Params{
			OutsideOption: decimal.NewFromInt(1),
			Revenue1:      decimal.NewFromInt(10),
			Revenue2:      decimal.NewFromInt(16),
			Action1Cost:   decimal.NewFromInt(1),
			Action2Cost:   decimal.NewFromInt(6),
		},
		MinPrice: 2,
		MaxPrice: 9,
		PriceVectors: []model.PriceVector{
			{Price1: 2, Price2: 3},
			{Price1: 2, Price2: 7},
			{Price1: 4, Price2: 7},
		},
		MarketSize:       8,
		Rounds:           16,
		CurrencyPerPoint: decimal.NewFromInt(1).Div(decimal.NewFromInt(7)),
		ParticipationFee: decimal.RequireFromString("5.00"),
	},
}

// Lookup returns a copy of a built-in treatment.
func Lookup(name string) (Treatment, error) {
	t, ok := builtin[name]
	if !ok {
		return Treatment{}, fmt.Errorf("%w: %q", ErrUnknownTreatment, name)
	}
	t.PriceVectors = append([]model.PriceVector(nil), t.PriceVectors...)
	return t, nil
}

// Names lists the built-in treatments in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
