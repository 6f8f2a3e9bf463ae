// Package store defines the persistence interface for the credence engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-lab
// deployments), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/atmx/credence-engine/internal/model"
)

// Store is the persistence interface. Records are keyed by participant and
// round; participant IDs are unique across sessions.
type Store interface {
	// --- Session operations ---

	// CreateSession persists a bootstrapped session with its participants
	// and first-round records in one step.
	CreateSession(ctx context.Context, s *model.Session, participants []model.Participant, records []model.DecisionRecord) error

	// GetSession retrieves a session by its ID.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]model.Session, error)

	// UpdateSessionProgress moves a session to a new round or status.
	UpdateSessionProgress(ctx context.Context, id string, currentRound int, status model.SessionStatus) error

	// --- Participants ---

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	// ListParticipants returns a session's participants in index order.
	ListParticipants(ctx context.Context, sessionID string) ([]model.Participant, error)

	// UpdateParticipant stores the mutable flags (quiz passed, arrived).
	UpdateParticipant(ctx context.Context, p *model.Participant) error

	// --- Decision records ---

	// CreateRecords inserts the empty records of a round.
	CreateRecords(ctx context.Context, records []model.DecisionRecord) error

	// GetRecord retrieves one participant's record for a round.
	GetRecord(ctx context.Context, participantID string, round int) (*model.DecisionRecord, error)

	// SaveRecord overwrites an existing record.
	SaveRecord(ctx context.Context, rec *model.DecisionRecord) error

	// ListRoundRecords returns all records of a session round.
	ListRoundRecords(ctx context.Context, sessionID string, round int) ([]model.DecisionRecord, error)

	// ListParticipantRecords returns a participant's records in round order.
	ListParticipantRecords(ctx context.Context, participantID string) ([]model.DecisionRecord, error)
}
