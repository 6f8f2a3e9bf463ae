// Package round drives participants through the decision sequence of a round.
//
// The machine is stateless: the current step is always derived from the
// participant's role, the treatment and the decision records of the pair, so
// a restarted service resumes exactly where every participant left off.
// Reading and writing records, pairing lookups and barrier status are
// delegated to a Host.
package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/offer"
	"github.com/atmx/credence-engine/internal/payoff"
	"github.com/atmx/credence-engine/internal/treatment"
)

var (
	// ErrWrongStep is returned when a submission arrives at a step that does
	// not accept it.
	ErrWrongStep = errors.New("round: submission not accepted at this step")

	// ErrResultsNotReady is returned when results are requested before the
	// pair has finished the round.
	ErrResultsNotReady = fmt.Errorf("%w: results not ready", ErrWrongStep)

	ErrMissingRole    = fmt.Errorf("%w: round: participant has no role", model.ErrIntegrity)
	ErrMissingPartner = fmt.Errorf("%w: round: no partner scheduled", model.ErrIntegrity)
	ErrMissingPrices  = fmt.Errorf("%w: round: buyer prices missing", model.ErrIntegrity)
	ErrMissingType    = fmt.Errorf("%w: round: seller type missing after interaction", model.ErrIntegrity)
	ErrMissingPaid    = fmt.Errorf("%w: round: price paid missing for type-fixed payment", model.ErrIntegrity)
	ErrSameRole       = fmt.Errorf("%w: round: paired participants share a role", model.ErrIntegrity)
)

// Host is what the machine needs from the hosting service for one session.
type Host interface {
	SessionID() string
	CurrentRound() int
	Partner(ctx context.Context, round int, participantID string) (model.Participant, error)
	ReadRecord(ctx context.Context, round int, participantID string) (*model.DecisionRecord, error)
	WriteRecord(ctx context.Context, rec *model.DecisionRecord) error
	Released(ctx context.Context, barrierID string) (bool, error)
}

// Machine evaluates and applies decisions for one treatment.
type Machine struct {
	tr    treatment.Treatment
	calc  *payoff.Calculator
	check *offer.Validator
	src   Source
	now   func() time.Time
}

// New creates a machine for tr. A nil src uses ProcessSource.
func New(tr treatment.Treatment, src Source) (*Machine, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	calc, err := payoff.NewCalculator(tr.Payoff)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = ProcessSource()
	}
	return &Machine{
		tr:    tr,
		calc:  calc,
		check: offer.NewValidator(tr.MinPrice, tr.MaxPrice),
		src:   src,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Treatment returns the treatment the machine runs.
func (m *Machine) Treatment() treatment.Treatment {
	return m.tr
}

// Calculator returns the payoff calculator of the treatment.
func (m *Machine) Calculator() *payoff.Calculator {
	return m.calc
}

// pairState is everything a step derivation looks at.
type pairState struct {
	round   int
	self    model.Participant
	partner model.Participant
	own     *model.DecisionRecord
	buyer   *model.DecisionRecord
	seller  *model.DecisionRecord
}

func (m *Machine) load(ctx context.Context, h Host, p model.Participant, round int) (*pairState, error) {
	if p.Role != model.RoleBuyer && p.Role != model.RoleSeller {
		return nil, fmt.Errorf("%w: %s", ErrMissingRole, p.ID)
	}
	partner, err := h.Partner(ctx, round, p.ID)
	if err != nil {
		return nil, err
	}
	if partner.Role == p.Role {
		return nil, fmt.Errorf("%w: %s and %s in round %d", ErrSameRole, p.ID, partner.ID, round)
	}
	own, err := h.ReadRecord(ctx, round, p.ID)
	if err != nil {
		return nil, err
	}
	other, err := h.ReadRecord(ctx, round, partner.ID)
	if err != nil {
		return nil, err
	}

	st := &pairState{round: round, self: p, partner: partner, own: own}
	if p.Role == model.RoleBuyer {
		st.buyer, st.seller = own, other
	} else {
		st.buyer, st.seller = other, own
	}
	return st, nil
}

// Step derives the current step of p.
func (m *Machine) Step(ctx context.Context, h Host, p model.Participant) (Step, error) {
	step, _, err := m.step(ctx, h, p)
	return step, err
}

func (m *Machine) step(ctx context.Context, h Host, p model.Participant) (Step, *pairState, error) {
	round := h.CurrentRound()
	if round == 1 {
		started, err := h.Released(ctx, StartBarrier(h.SessionID()))
		if err != nil {
			return "", nil, err
		}
		if !started {
			return StepWaitSessionStart, nil, nil
		}
		if m.tr.Quiz && !p.QuizPassed {
			return StepControlQuiz, nil, nil
		}
	}

	st, err := m.load(ctx, h, p, round)
	if err != nil {
		return "", nil, err
	}

	if st.own.Completed() {
		if round < m.tr.Rounds {
			return StepWaitRoundEnd, st, nil
		}
		done, err := h.Released(ctx, RoundBarrier(h.SessionID(), round))
		if err != nil {
			return "", nil, err
		}
		if done {
			return StepFinished, st, nil
		}
		return StepWaitRoundEnd, st, nil
	}

	var step Step
	if p.Role == model.RoleBuyer {
		step, err = m.buyerStep(st)
	} else {
		step, err = m.sellerStep(st)
	}
	return step, st, err
}

func (m *Machine) pricesSet(st *pairState) (bool, error) {
	if st.buyer.Price1 != nil && st.buyer.Price2 != nil {
		return true, nil
	}
	if !m.tr.ChoosesPrices() {
		return false, fmt.Errorf("%w: round %d, buyer %s", ErrMissingPrices, st.round, st.buyer.ParticipantID)
	}
	return false, nil
}

func (m *Machine) buyerStep(st *pairState) (Step, error) {
	set, err := m.pricesSet(st)
	if err != nil {
		return "", err
	}
	if !set {
		return StepPriceOffer, nil
	}
	if st.seller.Interaction == nil {
		return StepAwaitInteraction, nil
	}
	if !*st.seller.Interaction {
		return StepRoundResults, nil
	}
	if st.seller.SellerType == nil {
		return "", fmt.Errorf("%w: round %d, seller %s", ErrMissingType, st.round, st.seller.ParticipantID)
	}
	if st.buyer.Action == nil {
		return StepActionChoice, nil
	}
	if st.buyer.PricePaid == nil {
		if m.tr.ChoosesPayment() {
			return StepPricePayment, nil
		}
		return "", fmt.Errorf("%w: round %d, buyer %s", ErrMissingPaid, st.round, st.buyer.ParticipantID)
	}
	return StepRoundResults, nil
}

func (m *Machine) sellerStep(st *pairState) (Step, error) {
	set, err := m.pricesSet(st)
	if err != nil {
		return "", err
	}
	if !set {
		return StepAwaitPrices, nil
	}
	if st.seller.Interaction == nil {
		return StepInteractionDecision, nil
	}
	if !*st.seller.Interaction {
		return StepRoundResults, nil
	}
	if st.seller.SellerType == nil {
		return "", fmt.Errorf("%w: round %d, seller %s", ErrMissingType, st.round, st.seller.ParticipantID)
	}
	if st.buyer.Action == nil || st.buyer.PricePaid == nil {
		return StepAwaitBuyer, nil
	}
	return StepRoundResults, nil
}

// expect derives the step of p and fails with ErrWrongStep unless it is want.
func (m *Machine) expect(ctx context.Context, h Host, p model.Participant, want Step) (*pairState, error) {
	step, st, err := m.step(ctx, h, p)
	if err != nil {
		return nil, err
	}
	if step != want {
		return nil, fmt.Errorf("%w: participant is at %s, not %s", ErrWrongStep, step, want)
	}
	return st, nil
}

// CheckArrival accepts an arrival only while the session has not started.
func (m *Machine) CheckArrival(ctx context.Context, h Host, p model.Participant) error {
	_, err := m.expect(ctx, h, p, StepWaitSessionStart)
	return err
}

// SubmitQuiz checks the control quiz answers. The caller records the pass.
func (m *Machine) SubmitQuiz(ctx context.Context, h Host, p model.Participant, answers map[string]string) error {
	if _, err := m.expect(ctx, h, p, StepControlQuiz); err != nil {
		return err
	}
	return treatment.CheckQuiz(answers)
}

// SubmitOffer records a freely chosen price pair.
func (m *Machine) SubmitOffer(ctx context.Context, h Host, p model.Participant, price1, price2 int) error {
	if m.tr.Prices != treatment.PricesChosen {
		return fmt.Errorf("%w: treatment %s has no free price offer", ErrWrongStep, m.tr.Name)
	}
	st, err := m.expect(ctx, h, p, StepPriceOffer)
	if err != nil {
		return err
	}
	if err := m.check.CheckOffer(price1, price2); err != nil {
		return err
	}
	rec := st.own.Clone()
	rec.Price1 = model.Ptr(price1)
	rec.Price2 = model.Ptr(price2)
	return h.WriteRecord(ctx, rec)
}

// SubmitChoice records a price pair picked from the treatment's menu.
func (m *Machine) SubmitChoice(ctx context.Context, h Host, p model.Participant, choice string) error {
	if m.tr.Prices != treatment.PricesMenu {
		return fmt.Errorf("%w: treatment %s has no price menu", ErrWrongStep, m.tr.Name)
	}
	st, err := m.expect(ctx, h, p, StepPriceOffer)
	if err != nil {
		return err
	}
	pv, err := m.check.CheckChoice(choice, m.tr.PriceVectors)
	if err != nil {
		return err
	}
	rec := st.own.Clone()
	rec.Price1 = model.Ptr(pv.Price1)
	rec.Price2 = model.Ptr(pv.Price2)
	rec.PriceChoice = model.Ptr(offer.ChoiceLabel(pv))
	return h.WriteRecord(ctx, rec)
}

// SubmitInteraction records the seller's decision. On interaction the seller
// type is drawn and, when payment follows the type, the buyer's price paid is
// set. It returns the drawn type (SellerTypeNone when declining).
//
// The buyer record is written first: the seller's record is what moves the
// pair on, so a failure between the two writes leaves the seller at the
// interaction step and the submission can be repeated.
func (m *Machine) SubmitInteraction(ctx context.Context, h Host, p model.Participant, interact bool) (int, error) {
	st, err := m.expect(ctx, h, p, StepInteractionDecision)
	if err != nil {
		return 0, err
	}

	sellerType := model.SellerTypeNone
	if interact {
		sellerType = m.src.SellerType()
	}

	if interact && !m.tr.ChoosesPayment() {
		buyer := st.buyer.Clone()
		paid := *buyer.Price2
		if sellerType == model.SellerType1 {
			paid = *buyer.Price1
		}
		buyer.PricePaid = model.Ptr(paid)
		if err := h.WriteRecord(ctx, buyer); err != nil {
			return 0, err
		}
	}

	rec := st.own.Clone()
	rec.Interaction = model.Ptr(interact)
	rec.SellerType = model.Ptr(sellerType)
	if err := h.WriteRecord(ctx, rec); err != nil {
		return 0, err
	}
	return sellerType, nil
}

// SubmitAction records the buyer's action.
func (m *Machine) SubmitAction(ctx context.Context, h Host, p model.Participant, action int) error {
	st, err := m.expect(ctx, h, p, StepActionChoice)
	if err != nil {
		return err
	}
	if err := m.check.CheckAction(action); err != nil {
		return err
	}
	rec := st.own.Clone()
	rec.Action = model.Ptr(action)
	return h.WriteRecord(ctx, rec)
}

// SubmitPayment records the price the buyer chooses to pay.
func (m *Machine) SubmitPayment(ctx context.Context, h Host, p model.Participant, paid int) error {
	st, err := m.expect(ctx, h, p, StepPricePayment)
	if err != nil {
		return err
	}
	if err := m.check.CheckPayment(paid, *st.own.Price1, *st.own.Price2); err != nil {
		return err
	}
	rec := st.own.Clone()
	rec.PricePaid = model.Ptr(paid)
	return h.WriteRecord(ctx, rec)
}

// Acknowledge marks the round results as seen. The caller then checks the
// round barrier. Acknowledging again while waiting for the round to end is a
// no-op, so a barrier check that failed can be retried.
func (m *Machine) Acknowledge(ctx context.Context, h Host, p model.Participant) error {
	step, st, err := m.step(ctx, h, p)
	if err != nil {
		return err
	}
	if step == StepWaitRoundEnd {
		return nil
	}
	if step != StepRoundResults {
		return fmt.Errorf("%w: participant is at %s, not %s", ErrWrongStep, step, StepRoundResults)
	}
	rec := st.own.Clone()
	rec.CompletedAt = model.Ptr(m.now())
	return h.WriteRecord(ctx, rec)
}
