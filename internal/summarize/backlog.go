package summarize

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// SessionStore is the subset of internal/store.CheckpointStore the
// backlog sweep needs: enumerate sessions whose summary may be stale and
// persist a recomputed one.
type SessionStore interface {
	ListStaleSessions(ctx context.Context, hierarchicalThreshold int) ([]StaleSession, error)
	SaveSummary(ctx context.Context, sessionID, summary string) error
}

// StaleSession is a session whose persisted summary may be out of date
// relative to its message count (e.g. a crash occurred between message
// append and summary write).
type StaleSession struct {
	SessionID    string
	History      []domain.Message
	PriorSummary string
}

// BacklogConfig controls the periodic consistency sweep: this worker
// never runs the synchronous per-request summarize path, it only catches
// sessions the synchronous path missed.
type BacklogConfig struct {
	Interval  time.Duration
	Timeout   time.Duration
	BatchSize int
}

func (c *BacklogConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// BacklogWorker periodically re-summarizes any session whose persisted
// summary appears stale, as a crash-recovery backstop. It is entirely
// additive: the worker-path graph run always summarizes synchronously in
// the summarize node, so in normal operation this sweep finds nothing to
// do.
type BacklogWorker struct {
	store     SessionStore
	summarize *Summarizer
	logger    *slog.Logger
	cfg       BacklogConfig

	cancel context.CancelFunc
	done   chan struct{}
}

func NewBacklogWorker(store SessionStore, s *Summarizer, logger *slog.Logger, cfg BacklogConfig) *BacklogWorker {
	cfg.applyDefaults()
	return &BacklogWorker{
		store:     store,
		summarize: s,
		logger:    logger.With("component", "summarize.backlog"),
		cfg:       cfg,
		done:      make(chan struct{}),
	}
}

// Start runs the sweep in the background until Stop is called.
func (w *BacklogWorker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(workerCtx)
}

// Stop cancels the sweep and waits for the goroutine to exit.
func (w *BacklogWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *BacklogWorker) run(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *BacklogWorker) sweep(ctx context.Context) {
	stale, err := w.store.ListStaleSessions(ctx, w.summarize.Cfg.HierarchicalThreshold)
	if err != nil {
		w.logger.Error("backlog sweep: listing stale sessions failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	w.logger.Info("backlog sweep: found stale sessions", "count", len(stale))

	for _, sess := range stale {
		if ctx.Err() != nil {
			return
		}
		w.resummarize(ctx, sess)
	}
}

func (w *BacklogWorker) resummarize(ctx context.Context, sess StaleSession) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	summary, err := w.summarize.Summarize(callCtx, sess.History, sess.PriorSummary)
	if err != nil {
		w.logger.Warn("backlog sweep: resummarize failed", "session_id", sess.SessionID, "error", err)
		return
	}
	if summary == "" {
		return
	}

	if err := w.store.SaveSummary(callCtx, sess.SessionID, summary); err != nil {
		w.logger.Warn("backlog sweep: saving summary failed", "session_id", sess.SessionID, "error", err)
		return
	}

	w.logger.Info("backlog sweep: resummarized session", "session_id", sess.SessionID)
}
