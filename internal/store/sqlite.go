package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// SQLiteStore is a SQLite-backed CheckpointStore + FeedbackStore: WAL
// mode, a single-writer connection pool, and auto-migration on open. The
// schema is one checkpoints table keyed by (session_id, sequence) plus a
// feedback table — there is no generic replay/idempotency/outbox layout
// here since nothing in this system needs it.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			state      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, sequence DESC)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			feedback_id      TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			message_index    INTEGER NOT NULL,
			feedback_type    TEXT NOT NULL,
			user_query       TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			routing_decision TEXT,
			intent           TEXT,
			model_used       TEXT,
			created_at       TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) latestRow(ctx context.Context, sessionID string) (int64, []byte, time.Time, error) {
	var sequence int64
	var stateJSON []byte
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT sequence, state, created_at FROM checkpoints WHERE session_id = ? ORDER BY sequence DESC LIMIT 1`,
		sessionID,
	).Scan(&sequence, &stateJSON, &createdAt)
	if err == sql.ErrNoRows {
		return 0, nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("store: query latest checkpoint: %w", err)
	}
	return sequence, stateJSON, createdAt, nil
}

func (s *SQLiteStore) GetState(ctx context.Context, sessionID string) (domain.Checkpoint, error) {
	sequence, raw, createdAt, err := s.latestRow(ctx, sessionID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	var state domain.AgentState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("store: decode checkpoint state: %w", err)
	}
	return domain.Checkpoint{SessionID: sessionID, Sequence: sequence, State: state, CreatedAt: createdAt}, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, sessionID string, sequence int64, state domain.AgentState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("store: check existing sequence: %w", err)
	}
	if sequence <= existing {
		return ErrStaleWrite
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode checkpoint state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, sequence, state, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, sequence, raw, time.Now(),
	); err != nil {
		return fmt.Errorf("store: insert checkpoint: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: query next sequence: %w", err)
	}
	return max + 1, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, since time.Time, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, state, created_at FROM (
			SELECT session_id, state, created_at,
			       ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY sequence DESC) AS rn
			FROM checkpoints
		) WHERE rn = 1 AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var sessionID string
		var raw []byte
		var createdAt time.Time
		if err := rows.Scan(&sessionID, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		var state domain.AgentState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("store: decode session state: %w", err)
		}
		out = append(out, domain.Session{SessionID: sessionID, Summary: state.Summary, LastUpdated: createdAt}.Truncated())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	cp, err := s.GetState(ctx, sessionID)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp.State.ChatHistory, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListStaleSessions(ctx context.Context, hierarchicalThreshold int) ([]StaleSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, state FROM (
			SELECT session_id, state,
			       ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY sequence DESC) AS rn
			FROM checkpoints
		) WHERE rn = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []StaleSession
	for rows.Next() {
		var sessionID string
		var raw []byte
		if err := rows.Scan(&sessionID, &raw); err != nil {
			return nil, fmt.Errorf("store: scan stale session row: %w", err)
		}
		var state domain.AgentState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("store: decode stale session state: %w", err)
		}
		if isStale(state, hierarchicalThreshold) {
			out = append(out, StaleSession{SessionID: sessionID, History: state.ChatHistory, PriorSummary: state.Summary})
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	cp, err := s.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	cp.State.Summary = summary
	return s.SaveState(ctx, sessionID, cp.Sequence+1, cp.State)
}

func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	if fb.FeedbackID == "" {
		fb.FeedbackID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (feedback_id, session_id, message_index, feedback_type, user_query,
			assistant_response, routing_decision, intent, model_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.FeedbackID, fb.SessionID, fb.MessageIndex, fb.Type, fb.UserQuery,
		fb.AssistantResp, fb.RoutingDecision, fb.Intent, fb.ModelUsed, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Analytics(ctx context.Context, start time.Time) (Analytics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feedback_type, routing_decision, intent, model_used FROM feedback WHERE created_at >= ?`, start)
	if err != nil {
		return Analytics{}, fmt.Errorf("store: query feedback analytics: %w", err)
	}
	defer rows.Close()

	out := newAnalytics()
	for rows.Next() {
		var fb domain.Feedback
		var routing, intent, model sql.NullString
		if err := rows.Scan(&fb.Type, &routing, &intent, &model); err != nil {
			return Analytics{}, fmt.Errorf("store: scan feedback row: %w", err)
		}
		fb.RoutingDecision = domain.ToolKind(routing.String)
		fb.Intent = intent.String
		fb.ModelUsed = model.String
		out.record(fb)
	}
	return out, rows.Err()
}
