package store

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

func TestMemoryStoreSaveAndGetState(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.SaveState(ctx, "s1", 1, domain.AgentState{Query: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp, err := m.GetState(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.State.Query != "hello" || cp.Sequence != 1 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
}

func TestMemoryStoreGetStateUnknownSessionReturnsErrNotFound(t *testing.T) {
	m := NewMemoryStore()

	_, err := m.GetState(context.Background(), "nope")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSaveStateRejectsStaleWrite(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.SaveState(ctx, "s1", 5, domain.AgentState{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := m.SaveState(ctx, "s1", 5, domain.AgentState{})
	if err != ErrStaleWrite {
		t.Errorf("expected ErrStaleWrite for equal sequence, got %v", err)
	}

	err = m.SaveState(ctx, "s1", 3, domain.AgentState{})
	if err != ErrStaleWrite {
		t.Errorf("expected ErrStaleWrite for lower sequence, got %v", err)
	}
}

func TestMemoryStoreNextSequenceIncrementsMonotonically(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	seq, err := m.NextSequence(ctx, "s1")
	if err != nil || seq != 1 {
		t.Fatalf("expected first sequence 1, got %d err=%v", seq, err)
	}

	_ = m.SaveState(ctx, "s1", seq, domain.AgentState{})

	seq, err = m.NextSequence(ctx, "s1")
	if err != nil || seq != 2 {
		t.Fatalf("expected next sequence 2, got %d err=%v", seq, err)
	}
}

func TestMemoryStoreDeleteSessionIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.SaveState(ctx, "s1", 1, domain.AgentState{})

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Errorf("deleting an already-deleted session should not error: %v", err)
	}
	if err := m.DeleteSession(ctx, "never-existed"); err != nil {
		t.Errorf("deleting a session that never existed should not error: %v", err)
	}

	if _, err := m.GetState(ctx, "s1"); err != ErrNotFound {
		t.Errorf("expected session gone after delete, got err=%v", err)
	}
}

func TestMemoryStoreListStaleSessionsFlagsMissingSummary(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	longHistory := make([]domain.Message, 10)
	_ = m.SaveState(ctx, "stale", 1, domain.AgentState{ChatHistory: longHistory, Summary: ""})
	_ = m.SaveState(ctx, "fresh", 1, domain.AgentState{ChatHistory: longHistory, Summary: "already summarized"})

	stale, err := m.ListStaleSessions(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].SessionID != "stale" {
		t.Errorf("expected only the unsummarized session flagged, got %+v", stale)
	}
}

func TestMemoryStoreSaveSummaryUpdatesLatestCheckpoint(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.SaveState(ctx, "s1", 1, domain.AgentState{ChatHistory: make([]domain.Message, 10)})

	if err := m.SaveSummary(ctx, "s1", "condensed history"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp, err := m.GetState(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.State.Summary != "condensed history" {
		t.Errorf("expected summary persisted, got %q", cp.State.Summary)
	}
}

func TestMemoryStoreFeedbackAnalytics(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_ = m.SaveFeedback(ctx, domain.Feedback{SessionID: "s1", Type: domain.FeedbackUp, RoutingDecision: domain.ToolWebSearch})
	_ = m.SaveFeedback(ctx, domain.Feedback{SessionID: "s1", Type: domain.FeedbackDown, RoutingDecision: domain.ToolWebSearch})

	a, err := m.Analytics(ctx, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.TotalUp != 1 || a.TotalDown != 1 {
		t.Errorf("expected 1 up and 1 down, got %+v", a)
	}
	if tally := a.ByTool[domain.ToolWebSearch]; tally.Up != 1 || tally.Down != 1 {
		t.Errorf("expected web_search tally 1/1, got %+v", tally)
	}
}

func TestOpenSelectsBackendFromStoreURL(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected MemoryStore for empty StoreURL, got %T", s)
	}
}
