// Package worker implements the claim loop that pulls jobs from the
// broker, runs the graph engine against session state, and publishes the
// resulting events and checkpoints.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/session"
)

// JobMetrics is the subset of metrics.Metrics the worker records directly,
// as opposed to what the engine records per-node.
type JobMetrics interface {
	RecordClaimWait(d time.Duration)
	RecordJobOutcome(outcome string)
}

// JobSource is the subset of broker.Broker a worker needs to pull work.
type JobSource interface {
	Claim(ctx context.Context, timeout time.Duration) (domain.Job, bool, error)
}

// Emitter is the subset of broker.Broker a worker needs to publish events;
// identical in shape to graph.Emitter so the worker can pass the broker
// straight through to the engine as well.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// Config controls the claim loop.
type Config struct {
	ClaimTimeout time.Duration // default 5s
	Concurrency  int           // number of claim-loop goroutines
}

func (c *Config) applyDefaults() {
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// Worker runs the claim → load → run → persist cycle. Multiple Workers (or
// one Worker with Concurrency > 1) may run against the same broker: only
// nodes within a single job are guaranteed to run sequentially, not jobs
// across workers.
type Worker struct {
	jobs      JobSource
	emitter   Emitter
	sessions  *session.Service
	newEngine func() *graph.Engine
	logger    *slog.Logger
	cfg       Config
	metrics   JobMetrics
}

func New(jobs JobSource, emitter Emitter, sessions *session.Service, newEngine func() *graph.Engine, logger *slog.Logger, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		jobs:      jobs,
		emitter:   emitter,
		sessions:  sessions,
		newEngine: newEngine,
		logger:    logger.With("component", "worker"),
		cfg:       cfg,
	}
}

// WithMetrics attaches a JobMetrics recorder for claim-wait and job-outcome
// measurements. Optional — without it the worker runs unmeasured.
func (w *Worker) WithMetrics(m JobMetrics) *Worker {
	w.metrics = m
	return w
}

// Run blocks, claiming and processing jobs until ctx is cancelled. It
// starts cfg.Concurrency claim-loop goroutines and waits for all of them
// to exit before returning.
func (w *Worker) Run(ctx context.Context) {
	done := make(chan struct{}, w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go func() {
			w.loop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < w.cfg.Concurrency; i++ {
		<-done
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimStart := time.Now()
		job, ok, err := w.jobs.Claim(ctx, w.cfg.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", "error", err)
			continue
		}
		if !ok {
			continue // timed out with nothing queued, loop and try again
		}
		if w.metrics != nil {
			w.metrics.RecordClaimWait(time.Since(claimStart))
		}
		w.process(ctx, job)
	}
}

// process runs one job end to end: load session state, run the graph
// engine, persist the result, and emit the terminal event.
func (w *Worker) process(ctx context.Context, job domain.Job) {
	logger := w.logger.With("request_id", job.RequestID, "session_id", job.SessionID)

	w.emitter.Emit(ctx, domain.Event{
		RequestID: job.RequestID,
		Kind:      domain.EventConnected,
		Payload:   map[string]interface{}{"session_id": job.SessionID},
		CreatedAt: time.Now(),
	})

	priorHistory, priorSummary, err := w.sessions.GetHistory(ctx, job.SessionID)
	if err != nil {
		logger.Error("load session state failed", "error", err)
		w.emitError(ctx, job.RequestID, "load_session", err)
		return
	}

	initial := domain.AgentState{
		Query:          job.Query,
		ChatHistory:    priorHistory,
		Summary:        priorSummary,
		TargetLanguage: job.TargetLanguage,
	}

	engine := w.newEngine()
	final, runErr := engine.Run(ctx, job.RequestID, job.SessionID, initial)

	if runErr != nil {
		logger.Warn("run ended with error", "error", runErr, "stage", stageOf(final))
		if w.metrics != nil {
			w.metrics.RecordJobOutcome("error")
		}
		// The engine already persisted whatever partial checkpoint it could
		// and published the error terminal event itself; nothing further to
		// append to session history since there is no final_answer.
		return
	}

	updated := append(append([]domain.Message{}, priorHistory...),
		domain.Message{Role: domain.RoleUser, Content: job.Query, CreatedAt: time.Now()},
		domain.Message{Role: domain.RoleAssistant, Content: final.FinalAnswer, CreatedAt: time.Now()},
	)
	final.ChatHistory = updated

	if err := w.sessions.SaveState(ctx, job.SessionID, final); err != nil {
		logger.Error("final session save failed", "error", err)
		w.emitError(ctx, job.RequestID, "persist", err)
		if w.metrics != nil {
			w.metrics.RecordJobOutcome("error")
		}
		return
	}

	if w.metrics != nil {
		w.metrics.RecordJobOutcome("complete")
	}
}

func stageOf(state domain.AgentState) string {
	if state.Error != nil {
		return state.Error.Stage
	}
	return ""
}

func (w *Worker) emitError(ctx context.Context, requestID, stage string, err error) {
	w.emitter.Emit(ctx, domain.Event{
		RequestID: requestID,
		Kind:      domain.EventError,
		Payload:   map[string]interface{}{"error": err.Error(), "stage": stage},
		CreatedAt: time.Now(),
	})
}
