package round

import "fmt"

// Step is the page a participant is currently allowed to act on.
type Step string

const (
	StepWaitSessionStart    Step = "wait_session_start"
	StepControlQuiz         Step = "control_quiz"
	StepPriceOffer          Step = "price_offer"
	StepAwaitInteraction    Step = "await_interaction"
	StepActionChoice        Step = "action_choice"
	StepPricePayment        Step = "price_payment"
	StepRoundResults        Step = "round_results"
	StepAwaitPrices         Step = "await_prices"
	StepInteractionDecision Step = "interaction_decision"
	StepAwaitBuyer          Step = "await_buyer"
	StepWaitRoundEnd        Step = "wait_round_end"
	StepFinished            Step = "finished"
)

// Waiting reports whether the step only waits for someone else.
func (s Step) Waiting() bool {
	switch s {
	case StepWaitSessionStart, StepAwaitInteraction, StepAwaitPrices, StepAwaitBuyer, StepWaitRoundEnd:
		return true
	}
	return false
}

// StartBarrier is the whole-session barrier released once every participant
// has arrived.
func StartBarrier(sessionID string) string {
	return sessionID + ":start"
}

// RoundBarrier is the whole-session barrier released once every participant
// has acknowledged the results of round.
func RoundBarrier(sessionID string, round int) string {
	return fmt.Sprintf("%s:round:%d", sessionID, round)
}
