// Package session implements the thin service layer HTTP handlers and the
// worker use to read and mutate session state, delegating all persistence
// to a store.CheckpointStore.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/store"
)

// Service wraps a store.CheckpointStore with the session-level operations:
// get_state, save_state, list_sessions, get_history, delete_session.
type Service struct {
	Store store.CheckpointStore
}

func New(s store.CheckpointStore) *Service {
	return &Service{Store: s}
}

// GetState returns the most recent checkpoint for sessionID, or a zero
// AgentState with found=false if the session has never been checkpointed.
func (s *Service) GetState(ctx context.Context, sessionID string) (domain.AgentState, bool, error) {
	cp, err := s.Store.GetState(ctx, sessionID)
	if err == store.ErrNotFound {
		return domain.AgentState{}, false, nil
	}
	if err != nil {
		return domain.AgentState{}, false, fmt.Errorf("session: get state: %w", err)
	}
	return cp.State, true, nil
}

// SaveState persists state as sessionID's new canonical checkpoint,
// allocating the next monotonic sequence itself. The optimistic ordering
// guarantee (store.ErrStaleWrite) is preserved for callers racing on the
// same session — a caller on the losing side of the race should retry by
// re-reading GetState rather than blindly overwriting.
func (s *Service) SaveState(ctx context.Context, sessionID string, state domain.AgentState) error {
	seq, err := s.Store.NextSequence(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session: allocate sequence: %w", err)
	}
	if err := s.Store.SaveState(ctx, sessionID, seq, state); err != nil {
		return fmt.Errorf("session: save state: %w", err)
	}
	return nil
}

// ListSessions returns session summaries updated since the given time,
// most-recent first.
func (s *Service) ListSessions(ctx context.Context, since time.Time, limit int) ([]domain.SessionSummary, error) {
	out, err := s.Store.ListSessions(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	return out, nil
}

// GetHistory materializes the chat history and summary from sessionID's
// latest checkpoint.
func (s *Service) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, string, error) {
	cp, err := s.Store.GetState(ctx, sessionID)
	if err == store.ErrNotFound {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("session: get history: %w", err)
	}
	return cp.State.ChatHistory, cp.State.Summary, nil
}

// DeleteSession removes all checkpoints for sessionID. Idempotent:
// deleting an already-deleted or never-existing session still succeeds.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.Store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	return nil
}

// SaveStep satisfies graph.Checkpointer, letting a *Service be handed
// straight to graph.New as the engine's checkpointer: every per-node
// checkpoint the engine offers goes through the same monotonic-sequence
// SaveState path as the worker's final save.
func (s *Service) SaveStep(ctx context.Context, sessionID string, state domain.AgentState) error {
	return s.SaveState(ctx, sessionID, state)
}
