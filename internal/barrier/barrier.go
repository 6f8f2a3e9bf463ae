// Package barrier tracks whole-session rendezvous points: a barrier is
// released once every participant of the session has arrived at it.
//
// Arrivals are idempotent, so a participant who resubmits after a network
// failure is never counted twice.
package barrier

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/credence-engine/internal/model"
)

// ErrExpected is returned for a non-positive participant count.
var ErrExpected = fmt.Errorf("%w: barrier: expected count must be positive", model.ErrConfiguration)

// Status is the arrival state of one barrier.
type Status struct {
	Arrived  int  `json:"arrived"`
	Expected int  `json:"expected"`
	Released bool `json:"released"`

	// JustReleased is set on the arrival that completed the barrier.
	JustReleased bool `json:"-"`
}

// Tracker records arrivals at named barriers.
type Tracker interface {
	// Arrive records participantID at barrier. Repeated arrivals are no-ops.
	Arrive(ctx context.Context, barrier, participantID string, expected int) (Status, error)

	// Status reports the barrier without recording anything.
	Status(ctx context.Context, barrier string, expected int) (Status, error)
}

func newStatus(arrived, expected int, added bool) Status {
	return Status{
		Arrived:      arrived,
		Expected:     expected,
		Released:     arrived >= expected,
		JustReleased: added && arrived == expected,
	}
}

// MemoryTracker keeps arrivals in process memory.
type MemoryTracker struct {
	mu      sync.Mutex
	arrived map[string]map[string]struct{}
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{arrived: make(map[string]map[string]struct{})}
}

func (t *MemoryTracker) Arrive(_ context.Context, barrier, participantID string, expected int) (Status, error) {
	if expected <= 0 {
		return Status{}, ErrExpected
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.arrived[barrier]
	if !ok {
		set = make(map[string]struct{})
		t.arrived[barrier] = set
	}
	_, seen := set[participantID]
	set[participantID] = struct{}{}
	return newStatus(len(set), expected, !seen), nil
}

func (t *MemoryTracker) Status(_ context.Context, barrier string, expected int) (Status, error) {
	if expected <= 0 {
		return Status{}, ErrExpected
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return newStatus(len(t.arrived[barrier]), expected, false), nil
}

var _ Tracker = (*MemoryTracker)(nil)
