// Package offer validates the buyer's price decisions.
//
// Every error returned here is a participant validation fault: the submission
// is rejected, reported back, and the participant stays on the same step until
// a valid value is entered.
package offer

import (
	"fmt"

	"github.com/atmx/credence-engine/internal/model"
)

var (
	// ErrPriceOutOfRange is returned when an offered price lies outside
	// [MinPrice, MaxPrice].
	ErrPriceOutOfRange = fmt.Errorf("%w: offer: price outside allowed range", model.ErrInvalidInput)

	// ErrPriceOrder is returned when price 1 is greater than price 2.
	ErrPriceOrder = fmt.Errorf("%w: offer: price 1 must be less than or equal to price 2", model.ErrInvalidInput)

	// ErrPriceNotOffered is returned when the price paid is neither of the
	// two offered prices.
	ErrPriceNotOffered = fmt.Errorf("%w: offer: price paid must be one of the offered prices", model.ErrInvalidInput)

	// ErrUnknownChoice is returned when a menu choice is not on the menu.
	ErrUnknownChoice = fmt.Errorf("%w: offer: unknown price pair", model.ErrInvalidInput)

	// ErrInvalidAction is returned for an action outside {1, 2}.
	ErrInvalidAction = fmt.Errorf("%w: offer: action must be 1 or 2", model.ErrInvalidInput)
)

// Validator enforces the price bounds of a treatment.
type Validator struct {
	// MinPrice is the lowest price a buyer may offer.
	MinPrice int

	// MaxPrice is the highest price a buyer may offer.
	MaxPrice int
}

// NewValidator creates a validator for [minPrice, maxPrice]. A maxPrice below
// minPrice is raised to minPrice.
func NewValidator(minPrice, maxPrice int) *Validator {
	if maxPrice < minPrice {
		maxPrice = minPrice
	}
	return &Validator{
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
}

// CheckOffer validates a freely chosen price pair.
func (v *Validator) CheckOffer(price1, price2 int) error {
	for _, p := range []int{price1, price2} {
		if p < v.MinPrice || p > v.MaxPrice {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrPriceOutOfRange, p, v.MinPrice, v.MaxPrice)
		}
	}
	if price1 > price2 {
		return ErrPriceOrder
	}
	return nil
}

// CheckChoice resolves a menu label such as "2-7" against the menu.
func (v *Validator) CheckChoice(choice string, menu []model.PriceVector) (model.PriceVector, error) {
	p1, p2, err := ParseChoice(choice)
	if err != nil {
		return model.PriceVector{}, err
	}
	for _, pv := range menu {
		if pv.Price1 == p1 && pv.Price2 == p2 {
			return pv, nil
		}
	}
	return model.PriceVector{}, fmt.Errorf("%w: %s", ErrUnknownChoice, choice)
}

// CheckPayment validates that paid equals one of the offered prices.
func (v *Validator) CheckPayment(paid, price1, price2 int) error {
	if paid != price1 && paid != price2 {
		return fmt.Errorf("%w: choose either %d or %d", ErrPriceNotOffered, price1, price2)
	}
	return nil
}

// CheckAction validates an action choice.
func (v *Validator) CheckAction(action int) error {
	if action != model.Action1 && action != model.Action2 {
		return ErrInvalidAction
	}
	return nil
}
