package model

import "time"

// DecisionRecord holds one participant's inputs for one round. Every field is
// optional: nil means the owning step has not been completed yet. Consumers
// must check presence and fail on absence instead of defaulting.
type DecisionRecord struct {
	SessionID     string `json:"session_id" db:"session_id"`
	ParticipantID string `json:"participant_id" db:"participant_id"`
	Round         int    `json:"round" db:"round"`

	// Buyer fields.
	Price1      *int    `json:"price1,omitempty" db:"price1"`
	Price2      *int    `json:"price2,omitempty" db:"price2"`
	PriceChoice *string `json:"price_choice,omitempty" db:"price_choice"`
	// PriceCondition labels an exogenous price pair ("fair", "unfair").
	PriceCondition *string `json:"price_condition,omitempty" db:"price_condition"`
	Action         *int    `json:"action,omitempty" db:"action"`
	PricePaid      *int    `json:"price_paid,omitempty" db:"price_paid"`

	// Seller fields.
	Interaction *bool `json:"interaction,omitempty" db:"interaction"`
	SellerType  *int  `json:"seller_type,omitempty" db:"seller_type"`

	// Set when the participant acknowledges the round results.
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Field names accepted by DecisionRecord.Field.
const (
	FieldPrice1         = "price1"
	FieldPrice2         = "price2"
	FieldPriceChoice    = "price_choice"
	FieldPriceCondition = "price_condition"
	FieldAction         = "action"
	FieldPricePaid      = "price_paid"
	FieldInteraction    = "interaction"
	FieldSellerType     = "seller_type"
)

// Field reads a decision field by name. The second result is false when the
// field is absent or the name is unknown.
func (r *DecisionRecord) Field(name string) (any, bool) {
	switch name {
	case FieldPrice1:
		return deref(r.Price1)
	case FieldPrice2:
		return deref(r.Price2)
	case FieldPriceChoice:
		return deref(r.PriceChoice)
	case FieldPriceCondition:
		return deref(r.PriceCondition)
	case FieldAction:
		return deref(r.Action)
	case FieldPricePaid:
		return deref(r.PricePaid)
	case FieldInteraction:
		return deref(r.Interaction)
	case FieldSellerType:
		return deref(r.SellerType)
	}
	return nil, false
}

// Completed reports whether the results of this round were acknowledged.
func (r *DecisionRecord) Completed() bool {
	return r.CompletedAt != nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *DecisionRecord) Clone() *DecisionRecord {
	c := *r
	c.Price1 = clonePtr(r.Price1)
	c.Price2 = clonePtr(r.Price2)
	c.PriceChoice = clonePtr(r.PriceChoice)
	c.PriceCondition = clonePtr(r.PriceCondition)
	c.Action = clonePtr(r.Action)
	c.PricePaid = clonePtr(r.PricePaid)
	c.Interaction = clonePtr(r.Interaction)
	c.SellerType = clonePtr(r.SellerType)
	c.CompletedAt = clonePtr(r.CompletedAt)
	return &c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
