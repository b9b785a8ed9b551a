package store

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreSaveAndGetStateRoundTrips(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	state := domain.AgentState{Query: "q", FinalAnswer: "a", Summary: "s"}
	if err := s.SaveState(ctx, "sess1", 1, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp, err := s.GetState(ctx, "sess1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.State.FinalAnswer != "a" || cp.Sequence != 1 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
}

func TestSQLiteStoreGetStateNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetState(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreRejectsStaleWrite(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.SaveState(ctx, "sess1", 3, domain.AgentState{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveState(ctx, "sess1", 2, domain.AgentState{}); err != ErrStaleWrite {
		t.Errorf("expected ErrStaleWrite, got %v", err)
	}
	if err := s.SaveState(ctx, "sess1", 3, domain.AgentState{}); err != ErrStaleWrite {
		t.Errorf("expected ErrStaleWrite for an equal sequence, got %v", err)
	}
}

func TestSQLiteStoreNextSequenceIncrementsMonotonically(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	seq, err := s.NextSequence(ctx, "sess1")
	if err != nil || seq != 1 {
		t.Fatalf("expected first sequence 1, got %d, err %v", seq, err)
	}

	_ = s.SaveState(ctx, "sess1", seq, domain.AgentState{})

	seq2, err := s.NextSequence(ctx, "sess1")
	if err != nil || seq2 != 2 {
		t.Fatalf("expected next sequence 2, got %d, err %v", seq2, err)
	}
}

func TestSQLiteStoreListSessionsOrdersMostRecentFirst(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_ = s.SaveState(ctx, "sessA", 1, domain.AgentState{Summary: "a"})
	time.Sleep(10 * time.Millisecond)
	_ = s.SaveState(ctx, "sessB", 1, domain.AgentState{Summary: "b"})

	out, err := s.ListSessions(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(out))
	}
	if out[0].SessionID != "sessB" {
		t.Errorf("expected sessB (most recent) first, got %+v", out)
	}
}

func TestSQLiteStoreDeleteSessionIsIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_ = s.SaveState(ctx, "sess1", 1, domain.AgentState{})
	if err := s.DeleteSession(ctx, "sess1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess1"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
	if _, err := s.GetState(ctx, "sess1"); err != ErrNotFound {
		t.Errorf("expected session gone, got %v", err)
	}
}

func TestSQLiteStoreListStaleSessionsFindsUnSummarizedLongHistory(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	longHistory := make([]domain.Message, 150)
	_ = s.SaveState(ctx, "stale-sess", 1, domain.AgentState{ChatHistory: longHistory})
	_ = s.SaveState(ctx, "fresh-sess", 1, domain.AgentState{ChatHistory: []domain.Message{{Content: "hi"}}})

	stale, err := s.ListStaleSessions(ctx, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].SessionID != "stale-sess" {
		t.Errorf("expected only stale-sess flagged, got %+v", stale)
	}
}

func TestSQLiteStoreSaveSummaryUpdatesLatestCheckpoint(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_ = s.SaveState(ctx, "sess1", 1, domain.AgentState{Summary: "old"})
	if err := s.SaveSummary(ctx, "sess1", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp, err := s.GetState(ctx, "sess1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.State.Summary != "new" {
		t.Errorf("expected updated summary, got %q", cp.State.Summary)
	}
}

func TestSQLiteStoreFeedbackAndAnalytics(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	fb := domain.Feedback{
		SessionID:       "sess1",
		Type:            domain.FeedbackUp,
		RoutingDecision: domain.ToolWebSearch,
		Intent:          "lookup_fact",
	}
	if err := s.SaveFeedback(ctx, fb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	analytics, err := s.Analytics(ctx, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analytics.TotalUp != 1 {
		t.Errorf("expected 1 thumbs-up, got %d", analytics.TotalUp)
	}
	if analytics.ByTool[domain.ToolWebSearch].Up != 1 {
		t.Errorf("expected tool tally recorded, got %+v", analytics.ByTool)
	}
}
