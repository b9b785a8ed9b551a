package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

type stubSearchBackend struct {
	evidence []domain.Evidence
	err      error
	calls    int
}

func (s *stubSearchBackend) Search(ctx context.Context, query string) ([]domain.Evidence, error) {
	s.calls++
	if s.err != nil && s.calls < 2 {
		return nil, s.err
	}
	return s.evidence, nil
}

func TestWebSearchNilBackendNeedsConfiguration(t *testing.T) {
	w := NewWebSearch(nil, time.Second)

	_, err := w.Call(context.Background(), "q", "")

	var needsConfig *NeedsConfigurationError
	if !errors.As(err, &needsConfig) {
		t.Fatalf("expected NeedsConfigurationError, got %v", err)
	}
}

func TestWebSearchRetriesOnTransientError(t *testing.T) {
	backend := &stubSearchBackend{
		evidence: []domain.Evidence{{Text: "found it"}},
		err:      errors.New("transient"),
	}
	w := NewWebSearch(backend, time.Second)

	evidence, err := w.Call(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Text != "found it" {
		t.Errorf("unexpected evidence: %+v", evidence)
	}
	if backend.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", backend.calls)
	}
}

type stubRetrievalBackend struct {
	evidence []domain.Evidence
	err      error
}

func (s *stubRetrievalBackend) Retrieve(ctx context.Context, query string) ([]domain.Evidence, error) {
	return s.evidence, s.err
}

func TestInternalRetrievalNilBackendNeedsConfiguration(t *testing.T) {
	r := NewInternalRetrieval(nil, time.Second)

	_, err := r.Call(context.Background(), "q", "")

	var needsConfig *NeedsConfigurationError
	if !errors.As(err, &needsConfig) {
		t.Fatalf("expected NeedsConfigurationError, got %v", err)
	}
}

func TestInternalRetrievalReturnsBackendEvidence(t *testing.T) {
	backend := &stubRetrievalBackend{evidence: []domain.Evidence{{Text: "doc"}}}
	r := NewInternalRetrieval(backend, time.Second)

	evidence, err := r.Call(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Text != "doc" {
		t.Errorf("unexpected evidence: %+v", evidence)
	}
}
