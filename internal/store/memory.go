package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/credence-engine/internal/model"
)

type recordKey struct {
	participantID string
	round         int
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*model.Session
	participants map[string]*model.Participant
	records      map[recordKey]*model.DecisionRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*model.Session),
		participants: make(map[string]*model.Participant),
		records:      make(map[recordKey]*model.DecisionRecord),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.Session, participants []model.Participant, records []model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %s", model.ErrAlreadyExists, sess.ID)
	}
	for _, existing := range s.sessions {
		if existing.Code == sess.Code {
			return fmt.Errorf("%w: session code %s", model.ErrAlreadyExists, sess.Code)
		}
	}

	// Store copies to avoid external mutation.
	c := *sess
	s.sessions[sess.ID] = &c
	for i := range participants {
		p := participants[i]
		s.participants[p.ID] = &p
	}
	for i := range records {
		s.records[recordKey{records[i].ParticipantID, records[i].Round}] = records[i].Clone()
	}
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", model.ErrNotFound, id)
	}
	c := *sess
	return &c, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *MemoryStore) UpdateSessionProgress(_ context.Context, id string, currentRound int, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, id)
	}
	sess.CurrentRound = currentRound
	sess.Status = status
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: participant %s", model.ErrNotFound, id)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, sessionID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.participants[p.ID]
	if !ok {
		return fmt.Errorf("%w: participant %s", model.ErrNotFound, p.ID)
	}
	existing.QuizPassed = p.QuizPassed
	existing.Arrived = p.Arrived
	return nil
}

func (s *MemoryStore) CreateRecords(_ context.Context, records []model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		k := recordKey{records[i].ParticipantID, records[i].Round}
		if _, ok := s.records[k]; ok {
			return fmt.Errorf("%w: record %s round %d", model.ErrAlreadyExists, k.participantID, k.round)
		}
	}
	for i := range records {
		s.records[recordKey{records[i].ParticipantID, records[i].Round}] = records[i].Clone()
	}
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, participantID string, round int) (*model.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{participantID, round}]
	if !ok {
		return nil, fmt.Errorf("%w: record %s round %d", model.ErrNotFound, participantID, round)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec *model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{rec.ParticipantID, rec.Round}
	if _, ok := s.records[k]; !ok {
		return fmt.Errorf("%w: record %s round %d", model.ErrNotFound, rec.ParticipantID, rec.Round)
	}
	s.records[k] = rec.Clone()
	return nil
}

func (s *MemoryStore) ListRoundRecords(_ context.Context, sessionID string, round int) ([]model.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DecisionRecord
	for _, rec := range s.records {
		if rec.SessionID == sessionID && rec.Round == round {
			result = append(result, *rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ParticipantID < result[j].ParticipantID })
	return result, nil
}

func (s *MemoryStore) ListParticipantRecords(_ context.Context, participantID string) ([]model.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DecisionRecord
	for k, rec := range s.records {
		if k.participantID == participantID {
			result = append(result, *rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Round < result[j].Round })
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
