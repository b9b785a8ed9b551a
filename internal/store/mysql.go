package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// MySQLStore is the production CheckpointStore + FeedbackStore backend:
// pooled connections, auto-migration on open, and transactional writes.
// dsn follows go-sql-driver/mysql's DSN format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/qaflow?parseTime=true".
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id VARCHAR(255) NOT NULL,
			sequence   BIGINT NOT NULL,
			state      JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			PRIMARY KEY (session_id, sequence),
			INDEX idx_checkpoints_session (session_id, sequence DESC)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS feedback (
			feedback_id        VARCHAR(64) PRIMARY KEY,
			session_id         VARCHAR(255) NOT NULL,
			message_index      INT NOT NULL,
			feedback_type      VARCHAR(16) NOT NULL,
			user_query         TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			routing_decision   VARCHAR(64),
			intent             VARCHAR(128),
			model_used         VARCHAR(128),
			created_at         TIMESTAMP(6) NOT NULL,
			INDEX idx_feedback_created (created_at)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) latestRow(ctx context.Context, sessionID string) (int64, []byte, time.Time, error) {
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

func (s *MySQLStore) GetState(ctx context.Context, sessionID string) (domain.Checkpoint, error) {
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

func (s *MySQLStore) SaveState(ctx context.Context, sessionID string, sequence int64, state domain.AgentState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM checkpoints WHERE session_id = ? FOR UPDATE`, sessionID,
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

func (s *MySQLStore) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: query next sequence: %w", err)
	}
	return max + 1, nil
}

// ListSessions uses a correlated subquery rather than a window function so
// the same query text runs on older MySQL (5.7) as well as 8.x.
func (s *MySQLStore) ListSessions(ctx context.Context, since time.Time, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.session_id, c.state, c.created_at
		FROM checkpoints c
		INNER JOIN (
			SELECT session_id, MAX(sequence) AS max_seq FROM checkpoints GROUP BY session_id
		) latest ON latest.session_id = c.session_id AND latest.max_seq = c.sequence
		WHERE c.created_at >= ?
		ORDER BY c.created_at DESC
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

func (s *MySQLStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	cp, err := s.GetState(ctx, sessionID)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp.State.ChatHistory, nil
}

func (s *MySQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

func (s *MySQLStore) ListStaleSessions(ctx context.Context, hierarchicalThreshold int) ([]StaleSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.session_id, c.state
		FROM checkpoints c
		INNER JOIN (
			SELECT session_id, MAX(sequence) AS max_seq FROM checkpoints GROUP BY session_id
		) latest ON latest.session_id = c.session_id AND latest.max_seq = c.sequence`)
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

func (s *MySQLStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	cp, err := s.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	cp.State.Summary = summary
	return s.SaveState(ctx, sessionID, cp.Sequence+1, cp.State)
}

func (s *MySQLStore) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
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

func (s *MySQLStore) Analytics(ctx context.Context, start time.Time) (Analytics, error) {
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
