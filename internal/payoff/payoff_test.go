package payoff

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/credence-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func baseline() Params {
	return Params{
		OutsideOption: d(1),
		Revenue1:      d(10),
		Revenue2:      d(15),
		Action1Cost:   d(0),
		Action2Cost:   d(6),
	}
}

func newCalc(t *testing.T, p Params) *Calculator {
	t.Helper()
	c, err := NewCalculator(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewCalculator_NegativeParams(t *testing.T) {
	p := baseline()
	p.Action2Cost = d(-1)
	_, err := NewCalculator(p)
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected configuration class, got %v", err)
	}
}

// --- Buyer ---

func TestBuyer_BaselineType1Action1(t *testing.T) {
	c := newCalc(t, baseline())
	out, err := c.Buyer(BuyerInput{
		PartnerInteracted: model.Ptr(true),
		SellerType:        model.Ptr(1),
		Action:            model.Ptr(1),
		PricePaid:         model.Ptr(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10 − 0 − 2
	if !out.Payoff.Equal(d(8)) {
		t.Errorf("expected payoff 8, got %s", out.Payoff)
	}
	if !out.Revenue.Equal(d(10)) {
		t.Errorf("expected revenue 10, got %s", out.Revenue)
	}
}

func TestBuyer_UpdatedConstants(t *testing.T) {
	p := baseline()
	p.Action1Cost = d(1)
	p.Revenue2 = d(16)
	c := newCalc(t, p)
	out, err := c.Buyer(BuyerInput{
		PartnerInteracted: model.Ptr(true),
		SellerType:        model.Ptr(1),
		Action:            model.Ptr(1),
		PricePaid:         model.Ptr(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10 − 1 − 2
	if !out.Payoff.Equal(d(7)) {
		t.Errorf("expected payoff 7, got %s", out.Payoff)
	}
}

func TestBuyer_RevenueTable(t *testing.T) {
	c := newCalc(t, baseline())
	tests := []struct {
		typ, action int
		revenue     float64
		cost        float64
	}{
		{1, 1, 10, 0},
		{1, 2, 15, 6},
		{2, 1, 15, 0},
		{2, 2, 15, 6},
	}
	for _, tt := range tests {
		out, err := c.Buyer(BuyerInput{
			PartnerInteracted: model.Ptr(true),
			SellerType:        model.Ptr(tt.typ),
			Action:            model.Ptr(tt.action),
			PricePaid:         model.Ptr(3),
		})
		if err != nil {
			t.Fatalf("type=%d action=%d: unexpected error: %v", tt.typ, tt.action, err)
		}
		if !out.Revenue.Equal(d(tt.revenue)) {
			t.Errorf("type=%d action=%d: expected revenue %v, got %s", tt.typ, tt.action, tt.revenue, out.Revenue)
		}
		want := d(tt.revenue - tt.cost - 3)
		if !out.Payoff.Equal(want) {
			t.Errorf("type=%d action=%d: expected payoff %s, got %s", tt.typ, tt.action, want, out.Payoff)
		}
	}
}

func TestBuyer_NoInteractionIgnoresStrayAction(t *testing.T) {
	c := newCalc(t, baseline())
	out, err := c.Buyer(BuyerInput{
		PartnerInteracted: model.Ptr(false),
		Action:            model.Ptr(2),
		PricePaid:         model.Ptr(9),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Payoff.Equal(d(1)) {
		t.Errorf("expected outside option 1, got %s", out.Payoff)
	}
	if !out.Revenue.IsZero() {
		t.Errorf("expected revenue 0, got %s", out.Revenue)
	}
	if out.Interacted {
		t.Error("outcome should not be marked as interacted")
	}
}

func TestBuyer_MonotoneInPricePaid(t *testing.T) {
	c := newCalc(t, baseline())
	var prev decimal.Decimal
	for paid := 2; paid <= 10; paid++ {
		out, err := c.Buyer(BuyerInput{
			PartnerInteracted: model.Ptr(true),
			SellerType:        model.Ptr(2),
			Action:            model.Ptr(2),
			PricePaid:         model.Ptr(paid),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if paid > 2 && out.Payoff.GreaterThan(prev) {
			t.Errorf("payoff increased with price paid: %s > %s at paid=%d", out.Payoff, prev, paid)
		}
		prev = out.Payoff
	}
}

func TestBuyer_MissingInputs(t *testing.T) {
	c := newCalc(t, baseline())
	tests := []struct {
		name string
		in   BuyerInput
		want error
	}{
		{"interaction", BuyerInput{}, ErrMissingInteraction},
		{"type", BuyerInput{PartnerInteracted: model.Ptr(true), Action: model.Ptr(1), PricePaid: model.Ptr(2)}, ErrMissingType},
		{"action", BuyerInput{PartnerInteracted: model.Ptr(true), SellerType: model.Ptr(1), PricePaid: model.Ptr(2)}, ErrMissingAction},
		{"price paid", BuyerInput{PartnerInteracted: model.Ptr(true), SellerType: model.Ptr(1), Action: model.Ptr(1)}, ErrMissingPricePaid},
	}
	for _, tt := range tests {
		_, err := c.Buyer(tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if !errors.Is(err, model.ErrIntegrity) {
			t.Errorf("%s: expected integrity class, got %v", tt.name, err)
		}
	}
}

// --- Seller ---

func TestSeller_Declined(t *testing.T) {
	c := newCalc(t, baseline())
	out, err := c.Seller(SellerInput{Interacted: model.Ptr(false)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Payoff.Equal(d(1)) {
		t.Errorf("expected outside option 1, got %s", out.Payoff)
	}
}

func TestSeller_InteractedEarnsPricePaid(t *testing.T) {
	c := newCalc(t, baseline())
	out, err := c.Seller(SellerInput{Interacted: model.Ptr(true), PartnerPricePaid: model.Ptr(7)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Payoff.Equal(d(7)) {
		t.Errorf("expected payoff 7, got %s", out.Payoff)
	}
}

func TestSeller_MissingInputs(t *testing.T) {
	c := newCalc(t, baseline())
	if _, err := c.Seller(SellerInput{}); !errors.Is(err, ErrMissingInteraction) {
		t.Errorf("expected ErrMissingInteraction, got %v", err)
	}
	if _, err := c.Seller(SellerInput{Interacted: model.Ptr(true)}); !errors.Is(err, ErrMissingPricePaid) {
		t.Errorf("expected ErrMissingPricePaid, got %v", err)
	}
}

// --- Pair ---

func TestPair_Idempotent(t *testing.T) {
	c := newCalc(t, baseline())
	buyer := &model.DecisionRecord{Price1: model.Ptr(2), Price2: model.Ptr(3), Action: model.Ptr(1), PricePaid: model.Ptr(2)}
	seller := &model.DecisionRecord{Interaction: model.Ptr(true), SellerType: model.Ptr(1)}

	b1, s1, err := c.Pair(buyer, seller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		b2, s2, err := c.Pair(buyer, seller)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !b1.Payoff.Equal(b2.Payoff) || !s1.Payoff.Equal(s2.Payoff) {
			t.Fatalf("recomputation changed payoffs: %s/%s vs %s/%s", b1.Payoff, s1.Payoff, b2.Payoff, s2.Payoff)
		}
	}
	if !b1.Payoff.Equal(d(8)) || !s1.Payoff.Equal(d(2)) {
		t.Errorf("expected 8/2, got %s/%s", b1.Payoff, s1.Payoff)
	}
	if *buyer.PricePaid != 2 || *seller.SellerType != 1 {
		t.Error("Pair mutated its inputs")
	}
}
