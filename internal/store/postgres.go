package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/credence-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Schedules are stored as JSONB; every optional decision field is a
// nullable column so absence survives a round trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	code           TEXT NOT NULL UNIQUE,
	treatment      TEXT NOT NULL,
	participants   INTEGER NOT NULL,
	market_size    INTEGER NOT NULL,
	rounds         INTEGER NOT NULL,
	current_round  INTEGER NOT NULL,
	status         TEXT NOT NULL,
	schedule       JSONB NOT NULL,
	price_schedule JSONB,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	idx         INTEGER NOT NULL,
	role        TEXT NOT NULL,
	label       TEXT NOT NULL,
	market_id   INTEGER NOT NULL,
	quiz_passed BOOLEAN NOT NULL DEFAULT FALSE,
	arrived     BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (session_id, idx)
);

CREATE TABLE IF NOT EXISTS decision_records (
	session_id     TEXT NOT NULL REFERENCES sessions(id),
	participant_id TEXT NOT NULL REFERENCES participants(id),
	round          INTEGER NOT NULL,
	price1         INTEGER,
	price2         INTEGER,
	price_choice   TEXT,
	price_condition TEXT,
	action         INTEGER,
	price_paid     INTEGER,
	interaction    BOOLEAN,
	seller_type    INTEGER,
	completed_at   TIMESTAMPTZ,
	PRIMARY KEY (participant_id, round)
);

ALTER TABLE decision_records ADD COLUMN IF NOT EXISTS price_condition TEXT;

CREATE INDEX IF NOT EXISTS idx_decision_records_round ON decision_records(session_id, round);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// pgError maps driver errors onto the model error classes.
func pgError(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", model.ErrAlreadyExists, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session, participants []model.Participant, records []model.DecisionRecord) error {
	schedule, err := json.Marshal(sess.Schedule)
	if err != nil {
		return err
	}
	var prices *string
	if len(sess.PriceSchedule) > 0 {
		data, err := json.Marshal(sess.PriceSchedule)
		if err != nil {
			return err
		}
		prices = model.Ptr(string(data))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, code, treatment, participants, market_size, rounds,
		                       current_round, status, schedule, price_schedule, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::JSONB, $10::JSONB, $11)`,
		sess.ID, sess.Code, sess.Treatment, sess.Participants, sess.MarketSize, sess.Rounds,
		sess.CurrentRound, sess.Status, string(schedule), prices, sess.CreatedAt,
	)
	if err != nil {
		return pgError(err, "create session "+sess.ID)
	}

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(
			`INSERT INTO participants (id, session_id, idx, role, label, market_id, quiz_passed, arrived)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.SessionID, p.Index, p.Role, p.Label, p.MarketID, p.QuizPassed, p.Arrived,
		)
	}
	for i := range records {
		queueRecordInsert(batch, &records[i])
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return pgError(err, "create session "+sess.ID)
	}
	return tx.Commit(ctx)
}

const sessionColumns = `id, code, treatment, participants, market_size, rounds,
	current_round, status, schedule::TEXT, COALESCE(price_schedule::TEXT, ''), created_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	var schedule, prices string
	if err := row.Scan(&sess.ID, &sess.Code, &sess.Treatment, &sess.Participants,
		&sess.MarketSize, &sess.Rounds, &sess.CurrentRound, &sess.Status,
		&schedule, &prices, &sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedule), &sess.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if prices != "" {
		if err := json.Unmarshal([]byte(prices), &sess.PriceSchedule); err != nil {
			return nil, fmt.Errorf("decode price schedule: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err, "session "+id)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) UpdateSessionProgress(ctx context.Context, id string, currentRound int, status model.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET current_round = $2, status = $3 WHERE id = $1`,
		id, currentRound, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, id)
	}
	return nil
}

const participantColumns = `id, session_id, idx, role, label, market_id, quiz_passed, arrived`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(&p.ID, &p.SessionID, &p.Index, &p.Role, &p.Label, &p.MarketID, &p.QuizPassed, &p.Arrived)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err, "participant "+id)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = $1 ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET quiz_passed = $2, arrived = $3 WHERE id = $1`,
		p.ID, p.QuizPassed, p.Arrived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: participant %s", model.ErrNotFound, p.ID)
	}
	return nil
}

func queueRecordInsert(batch *pgx.Batch, r *model.DecisionRecord) {
	batch.Queue(
		`INSERT INTO decision_records (session_id, participant_id, round, price1, price2, price_choice,
		                               price_condition, action, price_paid, interaction, seller_type, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.SessionID, r.ParticipantID, r.Round, r.Price1, r.Price2, r.PriceChoice, r.PriceCondition,
		r.Action, r.PricePaid, r.Interaction, r.SellerType, r.CompletedAt,
	)
}

func (s *PostgresStore) CreateRecords(ctx context.Context, records []model.DecisionRecord) error {
	batch := &pgx.Batch{}
	for i := range records {
		queueRecordInsert(batch, &records[i])
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return pgError(err, "create records")
	}
	return tx.Commit(ctx)
}

const recordColumns = `session_id, participant_id, round, price1, price2, price_choice, price_condition,
	action, price_paid, interaction, seller_type, completed_at`

func scanRecord(row pgx.Row) (*model.DecisionRecord, error) {
	var r model.DecisionRecord
	err := row.Scan(&r.SessionID, &r.ParticipantID, &r.Round, &r.Price1, &r.Price2, &r.PriceChoice, &r.PriceCondition,
		&r.Action, &r.PricePaid, &r.Interaction, &r.SellerType, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, participantID string, round int) (*model.DecisionRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM decision_records WHERE participant_id = $1 AND round = $2`,
		participantID, round))
	if err != nil {
		return nil, pgError(err, fmt.Sprintf("record %s round %d", participantID, round))
	}
	return r, nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, r *model.DecisionRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE decision_records
		 SET price1 = $3, price2 = $4, price_choice = $5, action = $6, price_paid = $7,
		     interaction = $8, seller_type = $9, completed_at = $10
		 WHERE participant_id = $1 AND round = $2`,
		r.ParticipantID, r.Round, r.Price1, r.Price2, r.PriceChoice, r.Action, r.PricePaid,
		r.Interaction, r.SellerType, r.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s round %d", model.ErrNotFound, r.ParticipantID, r.Round)
	}
	return nil
}

func (s *PostgresStore) ListRoundRecords(ctx context.Context, sessionID string, round int) ([]model.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM decision_records
		 WHERE session_id = $1 AND round = $2 ORDER BY participant_id`, sessionID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListParticipantRecords(ctx context.Context, participantID string) ([]model.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM decision_records
		 WHERE participant_id = $1 ORDER BY round`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]model.DecisionRecord, error) {
	var records []model.DecisionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
