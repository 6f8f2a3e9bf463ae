package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/credence-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSession(ctx context.Context, sess *model.Session, participants []model.Participant, records []model.DecisionRecord) error {
	if err := s.primary.CreateSession(ctx, sess, participants, records); err != nil {
		return err
	}
	s.cache(ctx, sessionKey(sess.ID), sess)
	return nil
}

func (s *CachedStore) UpdateSessionProgress(ctx context.Context, id string, currentRound int, status model.SessionStatus) error {
	if err := s.primary.UpdateSessionProgress(ctx, id, currentRound, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey(id))
	return nil
}

func (s *CachedStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.UpdateParticipant(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantKey(p.ID))
	return nil
}

func (s *CachedStore) SaveRecord(ctx context.Context, rec *model.DecisionRecord) error {
	if err := s.primary.SaveRecord(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, recordKeyOf(rec.ParticipantID, rec.Round))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if s.lookup(ctx, sessionKey(id), &sess) {
		return &sess, nil
	}

	got, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, sessionKey(id), got)
	return got, nil
}

func (s *CachedStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	if s.lookup(ctx, participantKey(id), &p) {
		return &p, nil
	}

	got, err := s.primary.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, participantKey(id), got)
	return got, nil
}

func (s *CachedStore) GetRecord(ctx context.Context, participantID string, round int) (*model.DecisionRecord, error) {
	var rec model.DecisionRecord
	if s.lookup(ctx, recordKeyOf(participantID, round), &rec) {
		return &rec, nil
	}

	got, err := s.primary.GetRecord(ctx, participantID, round)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, recordKeyOf(participantID, round), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.primary.ListSessions(ctx)
}

func (s *CachedStore) ListParticipants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, sessionID)
}

func (s *CachedStore) CreateRecords(ctx context.Context, records []model.DecisionRecord) error {
	return s.primary.CreateRecords(ctx, records)
}

func (s *CachedStore) ListRoundRecords(ctx context.Context, sessionID string, round int) ([]model.DecisionRecord, error) {
	return s.primary.ListRoundRecords(ctx, sessionID, round)
}

func (s *CachedStore) ListParticipantRecords(ctx context.Context, participantID string) ([]model.DecisionRecord, error) {
	return s.primary.ListParticipantRecords(ctx, participantID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func sessionKey(id string) string              { return fmt.Sprintf("session:%s", id) }
func participantKey(id string) string          { return fmt.Sprintf("participant:%s", id) }
func recordKeyOf(pid string, round int) string { return fmt.Sprintf("record:%s:%d", pid, round) }

var _ Store = (*CachedStore)(nil)
