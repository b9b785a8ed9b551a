// Package store implements persistence for graph checkpoints, session
// indices, and feedback records: one row per (session_id, monotonic
// sequence), last-writer-wins.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// ErrNotFound is returned when a requested session or feedback record does
// not exist.
var ErrNotFound = errors.New("store: not found")

// Open selects a backend from storeURL: "" or ":memory:" for MemoryStore,
// a "file:" prefix for SQLiteStore, anything else as a MySQL DSN. cmd/server
// calls this once at startup.
func Open(storeURL string) (CheckpointStore, error) {
	switch {
	case storeURL == "" || storeURL == ":memory:":
		return NewMemoryStore(), nil
	case len(storeURL) >= len("file:") && storeURL[:len("file:")] == "file:":
		return NewSQLiteStore(storeURL[len("file:"):])
	default:
		return NewMySQLStore(storeURL)
	}
}

// ErrStaleWrite is returned by SaveState when a checkpoint with a sequence
// greater than or equal to the one being written already exists for the
// session — an older write is always rejected in favor of the newer one.
var ErrStaleWrite = errors.New("store: stale write rejected, newer checkpoint already present")

// CheckpointStore persists graph state keyed by session, plus the session
// index/listing operations the session service delegates to it.
type CheckpointStore interface {
	// GetState returns the highest-sequence checkpoint for sessionID, or
	// ErrNotFound if the session has never been checkpointed.
	GetState(ctx context.Context, sessionID string) (domain.Checkpoint, error)

	// SaveState atomically writes state as the new canonical checkpoint at
	// sequence. Returns ErrStaleWrite if a checkpoint with sequence >= the
	// given one already exists.
	SaveState(ctx context.Context, sessionID string, sequence int64, state domain.AgentState) error

	// NextSequence returns a sequence strictly greater than any previously
	// saved for sessionID (1 if none exist yet).
	NextSequence(ctx context.Context, sessionID string) (int64, error)

	// ListSessions returns session summaries updated at or after since,
	// most-recent first, capped at limit.
	ListSessions(ctx context.Context, since time.Time, limit int) ([]domain.SessionSummary, error)

	// GetHistory returns the chat history materialized from sessionID's
	// latest checkpoint, or an empty slice if the session does not exist.
	GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error)

	// DeleteSession removes every checkpoint for sessionID. Idempotent:
	// deleting a session twice, or one that never existed, is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListStaleSessions and SaveSummary satisfy summarize.SessionStore,
	// letting the backlog sweep use the checkpoint store directly without
	// an adapter type.
	ListStaleSessions(ctx context.Context, hierarchicalThreshold int) ([]StaleSession, error)
	SaveSummary(ctx context.Context, sessionID, summary string) error

	Close() error
}

// StaleSession mirrors summarize.StaleSession; duplicated here rather than
// imported to avoid internal/store depending on internal/summarize for a
// three-field struct shape — internal/summarize already depends on neither
// internal/store nor domain beyond domain.Message, so the dependency would
// otherwise run the wrong direction (store is lower in the graph than the
// nodes/summarize layer that wires it in).
type StaleSession struct {
	SessionID    string
	History      []domain.Message
	PriorSummary string
}

// FeedbackStore persists append-only feedback records plus the analytics
// aggregation the HTTP API exposes at GET /api/analytics/feedback.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, fb domain.Feedback) error

	// Analytics aggregates feedback in [start, now) when start is non-zero,
	// otherwise over all recorded feedback.
	Analytics(ctx context.Context, start time.Time) (Analytics, error)

	Close() error
}

// Analytics is the aggregate view the feedback analytics endpoint returns.
type Analytics struct {
	TotalUp      int                    `json:"total_up"`
	TotalDown    int                    `json:"total_down"`
	ByTool       map[domain.ToolKind]ToolTally `json:"by_tool"`
	ByIntent     map[string]ToolTally          `json:"by_intent"`
	ByModel      map[string]ToolTally          `json:"by_model"`
}

// ToolTally is an up/down count pair, broken out per tool/intent/model.
type ToolTally struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

func newAnalytics() Analytics {
	return Analytics{
		ByTool:   make(map[domain.ToolKind]ToolTally),
		ByIntent: make(map[string]ToolTally),
		ByModel:  make(map[string]ToolTally),
	}
}

func (a *Analytics) record(fb domain.Feedback) {
	if fb.Type == domain.FeedbackUp {
		a.TotalUp++
	} else {
		a.TotalDown++
	}
	bumpTally(a.ByTool, fb.RoutingDecision, fb.Type)
	if fb.Intent != "" {
		bumpTally(a.ByIntent, fb.Intent, fb.Type)
	}
	if fb.ModelUsed != "" {
		bumpTally(a.ByModel, fb.ModelUsed, fb.Type)
	}
}

func bumpTally[K comparable](m map[K]ToolTally, key K, t domain.FeedbackType) {
	var zero K
	if key == zero {
		return
	}
	tally := m[key]
	if t == domain.FeedbackUp {
		tally.Up++
	} else {
		tally.Down++
	}
	m[key] = tally
}
