package tool

import (
	"context"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// SearchBackend is the externally-injected web search provider. Its
// concrete implementation (an HTTP call to a search API) is deliberately
// out of scope here; this package only defines the seam and the
// retry/timeout wrapper around it.
type SearchBackend interface {
	Search(ctx context.Context, query string) ([]domain.Evidence, error)
}

// RetrievalBackend is the externally-injected vector/document store used
// for internal_retrieval. Same external-backend carve-out as SearchBackend.
type RetrievalBackend interface {
	Retrieve(ctx context.Context, query string) ([]domain.Evidence, error)
}

// WebSearch adapts a SearchBackend to the Tool interface, with a
// configured timeout and the shared retry/backoff policy.
type WebSearch struct {
	backend     SearchBackend
	timeout     time.Duration
	maxAttempts int
}

func NewWebSearch(backend SearchBackend, timeout time.Duration) *WebSearch {
	return &WebSearch{backend: backend, timeout: timeout, maxAttempts: 2}
}

func (w *WebSearch) Name() domain.ToolKind { return domain.ToolWebSearch }

func (w *WebSearch) Call(ctx context.Context, query, target string) ([]domain.Evidence, error) {
	if w.backend == nil {
		return nil, &NeedsConfigurationError{Kind: domain.ToolWebSearch}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if w.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	return withRetry(callCtx, w.maxAttempts, func(ctx context.Context) ([]domain.Evidence, error) {
		return w.backend.Search(ctx, query)
	})
}

// InternalRetrieval adapts a RetrievalBackend to the Tool interface.
type InternalRetrieval struct {
	backend     RetrievalBackend
	timeout     time.Duration
	maxAttempts int
}

func NewInternalRetrieval(backend RetrievalBackend, timeout time.Duration) *InternalRetrieval {
	return &InternalRetrieval{backend: backend, timeout: timeout, maxAttempts: 2}
}

func (r *InternalRetrieval) Name() domain.ToolKind { return domain.ToolInternalRetrieval }

func (r *InternalRetrieval) Call(ctx context.Context, query, target string) ([]domain.Evidence, error) {
	if r.backend == nil {
		return nil, &NeedsConfigurationError{Kind: domain.ToolInternalRetrieval}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	return withRetry(callCtx, r.maxAttempts, func(ctx context.Context) ([]domain.Evidence, error) {
		return r.backend.Retrieve(ctx, query)
	})
}
