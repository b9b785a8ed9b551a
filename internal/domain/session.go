package domain

import "time"

// Session is a persistent multi-turn conversation identified by an opaque
// session_id. It is created lazily on first enqueue, updated on each
// successful run, and deleted on explicit request.
type Session struct {
	SessionID   string    `json:"session_id"`
	Messages    []Message `json:"messages"`
	Summary     string    `json:"summary"`
	LastUpdated time.Time `json:"last_updated"`
}

// SessionSummary is the truncated view returned by the session list endpoint.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	Summary     string    `json:"summary"`
	LastUpdated time.Time `json:"last_updated"`
}

// summaryTruncateLen bounds the summary shown in session listings.
const summaryTruncateLen = 200

// Truncated returns a SessionSummary view of s with Summary capped to
// summaryTruncateLen runes.
func (s Session) Truncated() SessionSummary {
	summary := s.Summary
	r := []rune(summary)
	if len(r) > summaryTruncateLen {
		summary = string(r[:summaryTruncateLen]) + "..."
	}
	return SessionSummary{
		SessionID:   s.SessionID,
		Summary:     summary,
		LastUpdated: s.LastUpdated,
	}
}

// Checkpoint is the full AgentState persisted under (session_id, sequence).
// The checkpoint with the highest Sequence for a session is the canonical
// view; older checkpoints may exist for recovery but are not addressed by
// the core API.
type Checkpoint struct {
	SessionID string     `json:"session_id"`
	Sequence  int64      `json:"sequence"`
	State     AgentState `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
}
