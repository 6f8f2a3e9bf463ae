package round

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/offer"
	"github.com/atmx/credence-engine/internal/treatment"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeHost pairs one buyer with one seller in every round.
type fakeHost struct {
	round    int
	released map[string]bool
	people   map[string]model.Participant
	records  map[string]*model.DecisionRecord
	writes   int
	failOn   int // 1-based write that fails; 0 never
}

var errWriteFailed = errors.New("write failed")

func newFakeHost(buyer, seller model.Participant) *fakeHost {
	h := &fakeHost{
		round:    1,
		released: map[string]bool{StartBarrier("s1"): true},
		people:   map[string]model.Participant{buyer.ID: buyer, seller.ID: seller},
		records:  map[string]*model.DecisionRecord{},
	}
	h.newRound(1)
	return h
}

func (h *fakeHost) key(round int, id string) string { return fmt.Sprintf("%d:%s", round, id) }

func (h *fakeHost) newRound(round int) {
	h.round = round
	for id := range h.people {
		h.records[h.key(round, id)] = &model.DecisionRecord{SessionID: "s1", ParticipantID: id, Round: round}
	}
}

func (h *fakeHost) SessionID() string { return "s1" }
func (h *fakeHost) CurrentRound() int { return h.round }

func (h *fakeHost) Partner(_ context.Context, _ int, id string) (model.Participant, error) {
	for pid, p := range h.people {
		if pid != id {
			return p, nil
		}
	}
	return model.Participant{}, ErrMissingPartner
}

func (h *fakeHost) ReadRecord(_ context.Context, round int, id string) (*model.DecisionRecord, error) {
	rec, ok := h.records[h.key(round, id)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec.Clone(), nil
}

func (h *fakeHost) WriteRecord(_ context.Context, rec *model.DecisionRecord) error {
	h.writes++
	if h.writes == h.failOn {
		return errWriteFailed
	}
	h.records[h.key(rec.Round, rec.ParticipantID)] = rec.Clone()
	return nil
}

func (h *fakeHost) Released(_ context.Context, id string) (bool, error) {
	return h.released[id], nil
}

var (
	buyer  = model.Participant{ID: "a1", SessionID: "s1", Role: model.RoleBuyer, Label: "A1", MarketID: 1, QuizPassed: true}
	seller = model.Participant{ID: "b1", SessionID: "s1", Role: model.RoleSeller, Label: "B1", MarketID: 1, QuizPassed: true}
)

func newMachine(t *testing.T, name string, sellerType int) *Machine {
	t.Helper()
	tr, err := treatment.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(tr, SourceFunc(func() int { return sellerType }))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func assertStep(t *testing.T, m *Machine, h Host, p model.Participant, want Step) {
	t.Helper()
	got, err := m.Step(context.Background(), h, p)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", p.Label, err)
	}
	if got != want {
		t.Fatalf("%s: expected step %s, got %s", p.Label, want, got)
	}
}

func TestStep_SessionStartAndQuiz(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Exogenous, 1)
	h := newFakeHost(buyer, seller)
	h.released = map[string]bool{}

	fresh := buyer
	fresh.QuizPassed = false
	assertStep(t, m, h, fresh, StepWaitSessionStart)
	if err := m.CheckArrival(ctx, h, fresh); err != nil {
		t.Fatalf("arrival should be accepted before start: %v", err)
	}

	h.released[StartBarrier("s1")] = true
	assertStep(t, m, h, fresh, StepControlQuiz)
	if err := m.CheckArrival(ctx, h, fresh); !errors.Is(err, ErrWrongStep) {
		t.Errorf("arrival after start: expected ErrWrongStep, got %v", err)
	}

	err := m.SubmitQuiz(ctx, h, fresh, map[string]string{"q1": "B", "q2": "A", "q3": "A", "q4": "A"})
	if !errors.Is(err, treatment.ErrQuizIncorrect) {
		t.Errorf("expected ErrQuizIncorrect, got %v", err)
	}
	if err := m.SubmitQuiz(ctx, h, fresh, map[string]string{"q1": "b", "q2": "a", "q3": "c", "q4": "a"}); err != nil {
		t.Errorf("correct answers rejected: %v", err)
	}
}

func TestBaseline_FullRound(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Baseline, model.SellerType1)
	h := newFakeHost(buyer, seller)

	assertStep(t, m, h, buyer, StepPriceOffer)
	assertStep(t, m, h, seller, StepAwaitPrices)

	if err := m.SubmitOffer(ctx, h, buyer, 6, 4); !errors.Is(err, offer.ErrPriceOrder) {
		t.Fatalf("expected ErrPriceOrder, got %v", err)
	}
	if err := m.SubmitOffer(ctx, h, buyer, 1, 4); !errors.Is(err, offer.ErrPriceOutOfRange) {
		t.Fatalf("expected ErrPriceOutOfRange, got %v", err)
	}
	assertStep(t, m, h, buyer, StepPriceOffer)

	if err := m.SubmitOffer(ctx, h, buyer, 2, 10); err != nil {
		t.Fatalf("offer: %v", err)
	}
	assertStep(t, m, h, buyer, StepAwaitInteraction)
	assertStep(t, m, h, seller, StepInteractionDecision)

	if err := m.SubmitAction(ctx, h, buyer, 1); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("action before interaction: expected ErrWrongStep, got %v", err)
	}

	typ, err := m.SubmitInteraction(ctx, h, seller, true)
	if err != nil || typ != model.SellerType1 {
		t.Fatalf("interaction: type %d, err %v", typ, err)
	}
	assertStep(t, m, h, buyer, StepActionChoice)
	assertStep(t, m, h, seller, StepAwaitBuyer)

	if err := m.SubmitAction(ctx, h, buyer, 3); !errors.Is(err, offer.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if err := m.SubmitAction(ctx, h, buyer, model.Action1); err != nil {
		t.Fatalf("action: %v", err)
	}
	assertStep(t, m, h, buyer, StepPricePayment)

	if err := m.SubmitPayment(ctx, h, buyer, 5); !errors.Is(err, offer.ErrPriceNotOffered) {
		t.Fatalf("expected ErrPriceNotOffered, got %v", err)
	}
	if err := m.SubmitPayment(ctx, h, buyer, 2); err != nil {
		t.Fatalf("payment: %v", err)
	}
	assertStep(t, m, h, buyer, StepRoundResults)
	assertStep(t, m, h, seller, StepRoundResults)

	res, err := m.Results(ctx, h, buyer, 1)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !res.Payoff.Points.Equal(d("8")) {
		t.Errorf("buyer payoff: expected 8, got %s", res.Payoff.Points)
	}
	sres, _ := m.Results(ctx, h, seller, 1)
	if !sres.Payoff.Points.Equal(d("2")) {
		t.Errorf("seller payoff: expected 2, got %s", sres.Payoff.Points)
	}
	if sres.Action != nil {
		t.Error("seller results should not expose the buyer's action")
	}

	if err := m.Acknowledge(ctx, h, buyer); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	assertStep(t, m, h, buyer, StepWaitRoundEnd)

	// Results stay readable after acknowledging.
	again, err := m.Results(ctx, h, buyer, 1)
	if err != nil || !again.Payoff.Points.Equal(res.Payoff.Points) {
		t.Errorf("recomputed results differ: %v, %v", again, err)
	}
}

func TestExogenous_PaymentFollowsType(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Exogenous, model.SellerType2)
	h := newFakeHost(buyer, seller)
	h.records[h.key(1, buyer.ID)].Price1 = model.Ptr(2)
	h.records[h.key(1, buyer.ID)].Price2 = model.Ptr(3)

	assertStep(t, m, h, buyer, StepAwaitInteraction)
	assertStep(t, m, h, seller, StepInteractionDecision)

	if err := m.SubmitOffer(ctx, h, buyer, 2, 3); !errors.Is(err, ErrWrongStep) {
		t.Errorf("exogenous offer: expected ErrWrongStep, got %v", err)
	}

	if _, err := m.SubmitInteraction(ctx, h, seller, true); err != nil {
		t.Fatalf("interaction: %v", err)
	}
	rec, _ := h.ReadRecord(ctx, 1, buyer.ID)
	if rec.PricePaid == nil || *rec.PricePaid != 3 {
		t.Fatalf("type 2 should pay price 2, got %v", rec.PricePaid)
	}

	assertStep(t, m, h, buyer, StepActionChoice)
	if err := m.SubmitAction(ctx, h, buyer, model.Action2); err != nil {
		t.Fatalf("action: %v", err)
	}
	// No payment step when the price paid follows the type.
	assertStep(t, m, h, buyer, StepRoundResults)
	assertStep(t, m, h, seller, StepRoundResults)

	res, _ := m.Results(ctx, h, buyer, 1)
	// 16 - 6 - 3
	if !res.Payoff.Points.Equal(d("7")) {
		t.Errorf("expected 7, got %s", res.Payoff.Points)
	}
}

func TestExogenous_TypeOneActionOne(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Exogenous, model.SellerType1)
	h := newFakeHost(buyer, seller)
	h.records[h.key(1, buyer.ID)].Price1 = model.Ptr(2)
	h.records[h.key(1, buyer.ID)].Price2 = model.Ptr(3)
	h.records[h.key(1, buyer.ID)].PriceCondition = model.Ptr("unfair")

	m.SubmitInteraction(ctx, h, seller, true)
	m.SubmitAction(ctx, h, buyer, model.Action1)

	res, err := m.Results(ctx, h, buyer, 1)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if res.Condition != "unfair" {
		t.Errorf("expected the unfair condition in results, got %q", res.Condition)
	}
	// 10 - 1 - 2
	if !res.Payoff.Points.Equal(d("7")) {
		t.Errorf("expected 7, got %s", res.Payoff.Points)
	}
}

func TestExogenous_MissingPricesIsIntegrityFault(t *testing.T) {
	m := newMachine(t, treatment.Exogenous, 1)
	h := newFakeHost(buyer, seller)

	_, err := m.Step(context.Background(), h, seller)
	if !errors.Is(err, ErrMissingPrices) || !errors.Is(err, model.ErrIntegrity) {
		t.Errorf("expected ErrMissingPrices integrity fault, got %v", err)
	}
}

func TestDecline_OutsideOption(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Baseline, 1)
	h := newFakeHost(buyer, seller)

	m.SubmitOffer(ctx, h, buyer, 3, 7)
	typ, err := m.SubmitInteraction(ctx, h, seller, false)
	if err != nil || typ != model.SellerTypeNone {
		t.Fatalf("decline: type %d, err %v", typ, err)
	}
	assertStep(t, m, h, buyer, StepRoundResults)
	assertStep(t, m, h, seller, StepRoundResults)

	for _, p := range []model.Participant{buyer, seller} {
		res, err := m.Results(ctx, h, p, 1)
		if err != nil {
			t.Fatalf("%s results: %v", p.Label, err)
		}
		if !res.Payoff.Points.Equal(d("1")) {
			t.Errorf("%s: expected outside option 1, got %s", p.Label, res.Payoff.Points)
		}
		if res.PricePaid != nil {
			t.Errorf("%s: no price is paid without interaction", p.Label)
		}
	}
}

func TestVerifiability_MenuChoice(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Verifiability, model.SellerType1)
	h := newFakeHost(buyer, seller)

	v, err := m.State(ctx, h, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if v.Step != StepPriceOffer || len(v.Menu) != 3 {
		t.Fatalf("expected menu price step, got %s with %v", v.Step, v.Menu)
	}

	if err := m.SubmitOffer(ctx, h, buyer, 4, 7); !errors.Is(err, ErrWrongStep) {
		t.Errorf("free offer on menu treatment: expected ErrWrongStep, got %v", err)
	}
	if err := m.SubmitChoice(ctx, h, buyer, "3-7"); !errors.Is(err, offer.ErrUnknownChoice) {
		t.Errorf("expected ErrUnknownChoice, got %v", err)
	}
	if err := m.SubmitChoice(ctx, h, buyer, "4-7"); err != nil {
		t.Fatalf("choice: %v", err)
	}

	rec, _ := h.ReadRecord(ctx, 1, buyer.ID)
	if *rec.Price1 != 4 || *rec.Price2 != 7 || *rec.PriceChoice != "4-7" {
		t.Errorf("choice not recorded: %+v", rec)
	}

	m.SubmitInteraction(ctx, h, seller, true)
	rec, _ = h.ReadRecord(ctx, 1, buyer.ID)
	if *rec.PricePaid != 4 {
		t.Errorf("type 1 should pay price 1, got %d", *rec.PricePaid)
	}
}

func TestMissingRoleIsIntegrityFault(t *testing.T) {
	m := newMachine(t, treatment.Baseline, 1)
	h := newFakeHost(buyer, seller)
	noRole := buyer
	noRole.Role = ""

	_, err := m.Step(context.Background(), h, noRole)
	if !errors.Is(err, ErrMissingRole) {
		t.Errorf("expected ErrMissingRole, got %v", err)
	}
}

func TestResultsNotReady(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Baseline, 1)
	h := newFakeHost(buyer, seller)

	if _, err := m.Results(ctx, h, buyer, 1); !errors.Is(err, ErrResultsNotReady) {
		t.Errorf("expected ErrResultsNotReady, got %v", err)
	}
	if _, err := m.Results(ctx, h, buyer, 2); !errors.Is(err, ErrWrongStep) {
		t.Errorf("future round: expected ErrWrongStep, got %v", err)
	}
}

func TestLastRoundFinishes(t *testing.T) {
	ctx := context.Background()
	tr, _ := treatment.Lookup(treatment.Baseline)
	tr.Rounds = 1
	m, err := New(tr, SourceFunc(func() int { return 2 }))
	if err != nil {
		t.Fatal(err)
	}
	h := newFakeHost(buyer, seller)

	m.SubmitOffer(ctx, h, buyer, 5, 5)
	m.SubmitInteraction(ctx, h, seller, false)
	if err := m.Acknowledge(ctx, h, buyer); err != nil {
		t.Fatal(err)
	}
	if err := m.Acknowledge(ctx, h, buyer); err != nil {
		t.Errorf("second acknowledge while waiting: %v", err)
	}
	assertStep(t, m, h, buyer, StepWaitRoundEnd)

	h.released[RoundBarrier("s1", 1)] = true
	assertStep(t, m, h, buyer, StepFinished)
	if err := m.Acknowledge(ctx, h, buyer); !errors.Is(err, ErrWrongStep) {
		t.Errorf("acknowledge after finishing: expected ErrWrongStep, got %v", err)
	}
}

func TestSeededSourceIsReproducible(t *testing.T) {
	a := NewSeededSource("sess-types")
	b := NewSeededSource("sess-types")
	for i := 0; i < 50; i++ {
		x, y := a.SellerType(), b.SellerType()
		if x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
		if x != model.SellerType1 && x != model.SellerType2 {
			t.Fatalf("draw %d out of range: %d", i, x)
		}
	}
}

func TestProcessSourceRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[ProcessSource().SellerType()] = true
	}
	if len(seen) != 2 || !seen[1] || !seen[2] {
		t.Errorf("expected both types drawn, got %v", seen)
	}
}

func TestBarrierIDs(t *testing.T) {
	if StartBarrier("s") != "s:start" {
		t.Errorf("unexpected start barrier %q", StartBarrier("s"))
	}
	if RoundBarrier("s", 3) != "s:round:3" {
		t.Errorf("unexpected round barrier %q", RoundBarrier("s", 3))
	}
}

func TestInteraction_FailedWriteCanBeRepeated(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Exogenous, model.SellerType2)
	h := newFakeHost(buyer, seller)
	h.records[h.key(1, buyer.ID)].Price1 = model.Ptr(2)
	h.records[h.key(1, buyer.ID)].Price2 = model.Ptr(3)

	// The buyer's price paid is written first; fail the seller's write.
	h.failOn = 2
	if _, err := m.SubmitInteraction(ctx, h, seller, true); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected the write failure, got %v", err)
	}
	assertStep(t, m, h, seller, StepInteractionDecision)
	assertStep(t, m, h, buyer, StepAwaitInteraction)

	if _, err := m.SubmitInteraction(ctx, h, seller, true); err != nil {
		t.Fatalf("repeated interaction: %v", err)
	}
	assertStep(t, m, h, buyer, StepActionChoice)
	assertStep(t, m, h, seller, StepAwaitBuyer)
	rec, _ := h.ReadRecord(ctx, 1, buyer.ID)
	if rec.PricePaid == nil || *rec.PricePaid != 3 {
		t.Errorf("type 2 should pay price 2, got %v", rec.PricePaid)
	}
}

func TestInteraction_FailedBuyerWriteLeavesSellerUndecided(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Exogenous, model.SellerType1)
	h := newFakeHost(buyer, seller)
	h.records[h.key(1, buyer.ID)].Price1 = model.Ptr(2)
	h.records[h.key(1, buyer.ID)].Price2 = model.Ptr(3)

	h.failOn = 1
	if _, err := m.SubmitInteraction(ctx, h, seller, true); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected the write failure, got %v", err)
	}
	assertStep(t, m, h, seller, StepInteractionDecision)
	assertStep(t, m, h, buyer, StepAwaitInteraction)
}

func TestAcknowledge_RepeatWhileWaiting(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, treatment.Baseline, model.SellerType1)
	h := newFakeHost(buyer, seller)

	if err := m.SubmitOffer(ctx, h, buyer, 3, 8); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SubmitInteraction(ctx, h, seller, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Acknowledge(ctx, h, seller); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	assertStep(t, m, h, seller, StepWaitRoundEnd)

	writes := h.writes
	if err := m.Acknowledge(ctx, h, seller); err != nil {
		t.Errorf("repeated acknowledgement should be accepted, got %v", err)
	}
	if h.writes != writes {
		t.Errorf("repeated acknowledgement should not write, got %d writes", h.writes-writes)
	}
	if err := m.Acknowledge(ctx, h, buyer); err != nil {
		t.Errorf("buyer acknowledgement: %v", err)
	}
}
