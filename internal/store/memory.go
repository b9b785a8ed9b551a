package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// MemoryStore is an in-memory CheckpointStore + FeedbackStore. Intended
// for tests and local development without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]domain.Checkpoint // session_id -> checkpoints, append order
	feedback    []domain.Feedback
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string][]domain.Checkpoint),
	}
}

func (m *MemoryStore) latestLocked(sessionID string) (domain.Checkpoint, bool) {
	cps := m.checkpoints[sessionID]
	if len(cps) == 0 {
		return domain.Checkpoint{}, false
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Sequence > latest.Sequence {
			latest = cp
		}
	}
	return latest, true
}

func (m *MemoryStore) GetState(ctx context.Context, sessionID string) (domain.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.latestLocked(sessionID)
	if !ok {
		return domain.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, sessionID string, sequence int64, state domain.AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if latest, ok := m.latestLocked(sessionID); ok && sequence <= latest.Sequence {
		return ErrStaleWrite
	}

	m.checkpoints[sessionID] = append(m.checkpoints[sessionID], domain.Checkpoint{
		SessionID: sessionID,
		Sequence:  sequence,
		State:     state,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryStore) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if latest, ok := m.latestLocked(sessionID); ok {
		return latest.Sequence + 1, nil
	}
	return 1, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, since time.Time, limit int) ([]domain.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.SessionSummary, 0, len(m.checkpoints))
	for sessionID := range m.checkpoints {
		cp, ok := m.latestLocked(sessionID)
		if !ok || cp.CreatedAt.Before(since) {
			continue
		}
		out = append(out, toSessionSummary(sessionID, cp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toSessionSummary(sessionID string, cp domain.Checkpoint) domain.SessionSummary {
	return domain.Session{
		SessionID:   sessionID,
		Summary:     cp.State.Summary,
		LastUpdated: cp.CreatedAt,
	}.Truncated()
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.latestLocked(sessionID)
	if !ok {
		return nil, nil
	}
	return cp.State.ChatHistory, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, sessionID)
	return nil
}

func (m *MemoryStore) ListStaleSessions(ctx context.Context, hierarchicalThreshold int) ([]StaleSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []StaleSession
	for sessionID, cps := range m.checkpoints {
		latest, ok := m.latestLocked(sessionID)
		if !ok {
			continue
		}
		if isStale(latest.State, hierarchicalThreshold) {
			stale = append(stale, StaleSession{
				SessionID:    sessionID,
				History:      latest.State.ChatHistory,
				PriorSummary: latest.State.Summary,
			})
		}
		_ = cps
	}
	return stale, nil
}

// isStale flags a checkpoint whose message count has grown enough to cross
// into hierarchical territory but whose summary was never recomputed —
// the signature of a crash between message append and summary write.
func isStale(state domain.AgentState, hierarchicalThreshold int) bool {
	return len(state.ChatHistory) >= hierarchicalThreshold && state.Summary == ""
}

func (m *MemoryStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.latestLocked(sessionID)
	if !ok {
		return ErrNotFound
	}
	cp.State.Summary = summary
	cp.Sequence++
	cp.CreatedAt = time.Now()
	m.checkpoints[sessionID] = append(m.checkpoints[sessionID], cp)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb.FeedbackID == "" {
		fb.FeedbackID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *MemoryStore) Analytics(ctx context.Context, start time.Time) (Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := newAnalytics()
	for _, fb := range m.feedback {
		if !start.IsZero() && fb.CreatedAt.Before(start) {
			continue
		}
		out.record(fb)
	}
	return out, nil
}
