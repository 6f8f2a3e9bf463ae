package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/atmx/credence-engine/internal/model"
)

// SQLiteStore implements Store on a single SQLite file, for lab machines
// without a database server.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		treatment TEXT NOT NULL,
		participants INTEGER NOT NULL,
		market_size INTEGER NOT NULL,
		rounds INTEGER NOT NULL,
		current_round INTEGER NOT NULL,
		status TEXT NOT NULL,
		schedule TEXT NOT NULL,
		price_schedule TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		idx INTEGER NOT NULL,
		role TEXT NOT NULL,
		label TEXT NOT NULL,
		market_id INTEGER NOT NULL,
		quiz_passed INTEGER NOT NULL DEFAULT 0,
		arrived INTEGER NOT NULL DEFAULT 0,
		UNIQUE (session_id, idx)
	);

	CREATE TABLE IF NOT EXISTS decision_records (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		participant_id TEXT NOT NULL REFERENCES participants(id),
		round INTEGER NOT NULL,
		price1 INTEGER,
		price2 INTEGER,
		price_choice TEXT,
		price_condition TEXT,
		action INTEGER,
		price_paid INTEGER,
		interaction INTEGER,
		seller_type INTEGER,
		completed_at DATETIME,
		PRIMARY KEY (participant_id, round)
	);

	CREATE INDEX IF NOT EXISTS idx_decision_records_round ON decision_records(session_id, round);
	`
	_, err := s.db.Exec(schema)
	return err
}

// sessionRow is the flat column layout of a session.
type sessionRow struct {
	ID            string              `db:"id"`
	Code          string              `db:"code"`
	Treatment     string              `db:"treatment"`
	Participants  int                 `db:"participants"`
	MarketSize    int                 `db:"market_size"`
	Rounds        int                 `db:"rounds"`
	CurrentRound  int                 `db:"current_round"`
	Status        model.SessionStatus `db:"status"`
	Schedule      string              `db:"schedule"`
	PriceSchedule string              `db:"price_schedule"`
	CreatedAt     time.Time           `db:"created_at"`
}

func toSessionRow(sess *model.Session) (*sessionRow, error) {
	schedule, err := json.Marshal(sess.Schedule)
	if err != nil {
		return nil, err
	}
	row := &sessionRow{
		ID:           sess.ID,
		Code:         sess.Code,
		Treatment:    sess.Treatment,
		Participants: sess.Participants,
		MarketSize:   sess.MarketSize,
		Rounds:       sess.Rounds,
		CurrentRound: sess.CurrentRound,
		Status:       sess.Status,
		Schedule:     string(schedule),
		CreatedAt:    sess.CreatedAt,
	}
	if len(sess.PriceSchedule) > 0 {
		prices, err := json.Marshal(sess.PriceSchedule)
		if err != nil {
			return nil, err
		}
		row.PriceSchedule = string(prices)
	}
	return row, nil
}

func (r *sessionRow) session() (*model.Session, error) {
	sess := &model.Session{
		ID:           r.ID,
		Code:         r.Code,
		Treatment:    r.Treatment,
		Participants: r.Participants,
		MarketSize:   r.MarketSize,
		Rounds:       r.Rounds,
		CurrentRound: r.CurrentRound,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Schedule), &sess.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if r.PriceSchedule != "" {
		if err := json.Unmarshal([]byte(r.PriceSchedule), &sess.PriceSchedule); err != nil {
			return nil, fmt.Errorf("decode price schedule: %w", err)
		}
	}
	return sess, nil
}

func sqliteError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", model.ErrAlreadyExists, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const (
	insertParticipant = `INSERT INTO participants (id, session_id, idx, role, label, market_id, quiz_passed, arrived)
		VALUES (:id, :session_id, :idx, :role, :label, :market_id, :quiz_passed, :arrived)`

	insertRecord = `INSERT INTO decision_records (session_id, participant_id, round, price1, price2, price_choice,
		price_condition, action, price_paid, interaction, seller_type, completed_at)
		VALUES (:session_id, :participant_id, :round, :price1, :price2, :price_choice,
		:price_condition, :action, :price_paid, :interaction, :seller_type, :completed_at)`
)

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session, participants []model.Participant, records []model.DecisionRecord) error {
	row, err := toSessionRow(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO sessions (id, code, treatment, participants, market_size, rounds,
			current_round, status, schedule, price_schedule, created_at)
		 VALUES (:id, :code, :treatment, :participants, :market_size, :rounds,
			:current_round, :status, :schedule, :price_schedule, :created_at)`, row); err != nil {
		return sqliteError(err, "create session "+sess.ID)
	}
	for i := range participants {
		if _, err := tx.NamedExecContext(ctx, insertParticipant, &participants[i]); err != nil {
			return sqliteError(err, "create participant "+participants[i].ID)
		}
	}
	for i := range records {
		if _, err := tx.NamedExecContext(ctx, insertRecord, &records[i]); err != nil {
			return sqliteError(err, "create record "+records[i].ParticipantID)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		return nil, sqliteError(err, "session "+id)
	}
	return row.session()
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	sessions := make([]model.Session, 0, len(rows))
	for i := range rows {
		sess, err := rows[i].session()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

func (s *SQLiteStore) UpdateSessionProgress(ctx context.Context, id string, currentRound int, status model.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET current_round = ?, status = ? WHERE id = ?`, currentRound, status, id)
	return affected(res, err, "session "+id)
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	if err := s.db.GetContext(ctx, &p, `SELECT * FROM participants WHERE id = ?`, id); err != nil {
		return nil, sqliteError(err, "participant "+id)
	}
	return &p, nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	var result []model.Participant
	err := s.db.SelectContext(ctx, &result,
		`SELECT * FROM participants WHERE session_id = ? ORDER BY idx`, sessionID)
	return result, err
}

func (s *SQLiteStore) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET quiz_passed = ?, arrived = ? WHERE id = ?`, p.QuizPassed, p.Arrived, p.ID)
	return affected(res, err, "participant "+p.ID)
}

func (s *SQLiteStore) CreateRecords(ctx context.Context, records []model.DecisionRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range records {
		if _, err := tx.NamedExecContext(ctx, insertRecord, &records[i]); err != nil {
			return sqliteError(err, fmt.Sprintf("record %s round %d", records[i].ParticipantID, records[i].Round))
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, participantID string, round int) (*model.DecisionRecord, error) {
	var r model.DecisionRecord
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM decision_records WHERE participant_id = ? AND round = ?`, participantID, round)
	if err != nil {
		return nil, sqliteError(err, fmt.Sprintf("record %s round %d", participantID, round))
	}
	return &r, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, r *model.DecisionRecord) error {
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE decision_records
		 SET price1 = :price1, price2 = :price2, price_choice = :price_choice, action = :action,
		     price_paid = :price_paid, interaction = :interaction, seller_type = :seller_type,
		     completed_at = :completed_at
		 WHERE participant_id = :participant_id AND round = :round`, r)
	return affected(res, err, fmt.Sprintf("record %s round %d", r.ParticipantID, r.Round))
}

func (s *SQLiteStore) ListRoundRecords(ctx context.Context, sessionID string, round int) ([]model.DecisionRecord, error) {
	var records []model.DecisionRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM decision_records WHERE session_id = ? AND round = ? ORDER BY participant_id`,
		sessionID, round)
	return records, err
}

func (s *SQLiteStore) ListParticipantRecords(ctx context.Context, participantID string) ([]model.DecisionRecord, error) {
	var records []model.DecisionRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM decision_records WHERE participant_id = ? ORDER BY round`, participantID)
	return records, err
}

func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
