package model

import "testing"

func TestSchedule_Partner(t *testing.T) {
	s := Schedule{Rounds: []RoundPairing{
		{Round: 1, Pairs: []Pair{{MarketID: 1, Buyer: "a1", Seller: "b1"}, {MarketID: 1, Buyer: "a2", Seller: "b2"}}},
		{Round: 2, Pairs: []Pair{{MarketID: 1, Buyer: "a1", Seller: "b2"}, {MarketID: 1, Buyer: "a2", Seller: "b1"}}},
	}}

	if p, ok := s.Partner(1, "a2"); !ok || p != "b2" {
		t.Errorf("round 1 partner of a2: got %q %v", p, ok)
	}
	if p, ok := s.Partner(2, "b2"); !ok || p != "a1" {
		t.Errorf("round 2 partner of b2: got %q %v", p, ok)
	}
	if _, ok := s.Partner(3, "a1"); ok {
		t.Error("round 3 is outside the schedule")
	}
	if _, ok := s.Partner(1, "zz"); ok {
		t.Error("unknown participant should have no partner")
	}
}

func TestDecisionRecord_Field(t *testing.T) {
	r := &DecisionRecord{Price1: Ptr(2), Interaction: Ptr(false)}

	if v, ok := r.Field(FieldPrice1); !ok || v.(int) != 2 {
		t.Errorf("price1: got %v %v", v, ok)
	}
	if v, ok := r.Field(FieldInteraction); !ok || v.(bool) {
		t.Errorf("interaction: got %v %v", v, ok)
	}
	if _, ok := r.Field(FieldPricePaid); ok {
		t.Error("price_paid should be absent")
	}
	if _, ok := r.Field("nope"); ok {
		t.Error("unknown field should be absent")
	}
}

func TestDecisionRecord_CloneIsDeep(t *testing.T) {
	r := &DecisionRecord{Price1: Ptr(2)}
	c := r.Clone()
	*c.Price1 = 9
	if *r.Price1 != 2 {
		t.Errorf("clone shares pointers: original price1=%d", *r.Price1)
	}
}
