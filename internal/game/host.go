package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/round"
	"github.com/atmx/credence-engine/internal/store"
)

// sessionHost gives the round machine access to one session's data.
// Barrier release is read from the stored session progress, so steps
// survive a restart with an empty barrier tracker.
type sessionHost struct {
	store store.Store
	sess  *model.Session
}

func (h *sessionHost) SessionID() string { return h.sess.ID }
func (h *sessionHost) CurrentRound() int { return h.sess.CurrentRound }

func (h *sessionHost) Partner(ctx context.Context, rnd int, participantID string) (model.Participant, error) {
	id, ok := h.sess.Schedule.Partner(rnd, participantID)
	if !ok {
		return model.Participant{}, fmt.Errorf("%w: %s in round %d", round.ErrMissingPartner, participantID, rnd)
	}
	p, err := h.store.GetParticipant(ctx, id)
	if err != nil {
		return model.Participant{}, integrity(err)
	}
	return *p, nil
}

func (h *sessionHost) ReadRecord(ctx context.Context, rnd int, participantID string) (*model.DecisionRecord, error) {
	rec, err := h.store.GetRecord(ctx, participantID, rnd)
	if err != nil {
		return nil, integrity(err)
	}
	return rec, nil
}

func (h *sessionHost) WriteRecord(ctx context.Context, rec *model.DecisionRecord) error {
	return integrity(h.store.SaveRecord(ctx, rec))
}

// Released reports the start barrier as released once the session left
// waiting, and a round barrier once the session moved past that round.
func (h *sessionHost) Released(_ context.Context, barrierID string) (bool, error) {
	if barrierID == round.StartBarrier(h.sess.ID) {
		return h.sess.Status != model.SessionWaiting, nil
	}
	for n := 1; n <= h.sess.CurrentRound; n++ {
		if barrierID == round.RoundBarrier(h.sess.ID, n) {
			return n < h.sess.CurrentRound || h.sess.Status == model.SessionFinished, nil
		}
	}
	return false, fmt.Errorf("%w: unknown barrier %s", model.ErrIntegrity, barrierID)
}

// integrity reports a record or partner the schedule promises but the store
// lacks as a broken invariant rather than a missing resource.
func integrity(err error) error {
	if err != nil && errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: %v", model.ErrIntegrity, err)
	}
	return err
}

var _ round.Host = (*sessionHost)(nil)
