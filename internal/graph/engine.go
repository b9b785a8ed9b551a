package graph

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
)

// Emitter publishes graph events as the run progresses. Implemented by
// internal/broker (publishes to a request's pub/sub channel) and by the
// no-op/log emitters used in tests.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// Checkpointer offers the state to durable storage after a node exits. The
// engine calls it at most once per node, with a guaranteed call on the
// terminal node.
type Checkpointer interface {
	SaveStep(ctx context.Context, sessionID string, state domain.AgentState) error
}

// Tracer opens spans around a job's run and each node execution within it.
// Implemented by internal/tracing.Tracer; a nil Tracer on Options disables
// tracing entirely. Declared here rather than imported so the engine stays
// decoupled from the concrete otel wiring, matching the Emitter/Checkpointer
// split above.
type Tracer interface {
	StartJob(ctx context.Context, requestID, sessionID string) (context.Context, func(err error))
	StartNode(ctx context.Context, nodeID string, attempt int) (context.Context, func(err error))
}

// NodeMetrics records per-node and per-job measurements. Implemented by
// internal/metrics.Metrics; a nil NodeMetrics on Options disables metrics.
type NodeMetrics interface {
	RecordNodeLatency(node string, d time.Duration, status string)
	IncrementNodeRetry(node, reason string)
	RecordRevisionLoops(count int)
}

// apologyStub is the final_answer fallback when a run hits BudgetExceeded
// before the generator ever produced a draft to fall back to.
const apologyStub = "I wasn't able to finish reviewing this answer in time. Please try again or rephrase your question."

// Options configures one Engine.
type Options struct {
	MaxRevisions int // default 2

	DefaultNodeTimeout   time.Duration // default 60s
	RetrievalNodeTimeout time.Duration // default 120s
	GeneratorNodeTimeout time.Duration // default 180s
	JobDeadline          time.Duration // default 10m

	RetryPolicy *RetryPolicy // applied to every node unless the node overrides it

	Tracer  Tracer      // optional; nil disables span creation
	Metrics NodeMetrics // optional; nil disables metric recording
}

// Engine executes the fixed agent graph for one run: router, planner,
// retrieval, generator, a bounded generator<->critic revision loop,
// translator, summarize, finalize. Nodes run strictly sequentially within a
// run, so this engine needs no concurrent work-item queue, merge-conflict
// resolution, or replay-by-IO-hash machinery. See DESIGN.md for the full
// trim rationale.
type Engine struct {
	nodes map[NodeID]Node
	opts  Options

	emitter      Emitter
	checkpointer Checkpointer
	tracer       Tracer
	metrics      NodeMetrics

	rng *rand.Rand
}

// New creates an Engine with the eight fixed nodes already wired by the
// caller (internal/nodes provides the concrete implementations).
func New(nodes map[NodeID]Node, emitter Emitter, checkpointer Checkpointer, opts Options) *Engine {
	if opts.MaxRevisions <= 0 {
		opts.MaxRevisions = 2
	}
	if opts.DefaultNodeTimeout <= 0 {
		opts.DefaultNodeTimeout = 60 * time.Second
	}
	if opts.RetrievalNodeTimeout <= 0 {
		opts.RetrievalNodeTimeout = 120 * time.Second
	}
	if opts.GeneratorNodeTimeout <= 0 {
		opts.GeneratorNodeTimeout = 180 * time.Second
	}
	if opts.JobDeadline <= 0 {
		opts.JobDeadline = 10 * time.Minute
	}
	return &Engine{
		nodes:        nodes,
		opts:         opts,
		emitter:      emitter,
		checkpointer: checkpointer,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- backoff jitter only
	}
}

// timeoutFor returns the configured timeout for a given node.
func (e *Engine) timeoutFor(id NodeID) time.Duration {
	switch id {
	case NodeRetrieval:
		return e.opts.RetrievalNodeTimeout
	case NodeGenerator:
		return e.opts.GeneratorNodeTimeout
	default:
		return e.opts.DefaultNodeTimeout
	}
}

// next resolves the static/conditional transition out of a node when the
// node itself did not set NodeResult.Next.
func (e *Engine) next(id NodeID, state domain.AgentState) NodeID {
	switch id {
	case NodeRouter:
		switch state.RoutingDecision.Tool {
		case domain.ToolCalculator, domain.ToolDirectAnswer:
			return NodeGenerator
		default:
			return NodePlanner
		}
	case NodePlanner:
		return NodeRetrieval
	case NodeRetrieval:
		return NodeGenerator
	case NodeGenerator:
		return NodeCritic
	case NodeCritic:
		// The revision cap is enforced in Run before next is consulted: by the
		// time a needs_revision verdict reaches here, RevisionCount has already
		// been incremented and is known to be within MaxRevisions, or the run
		// has already terminated with BudgetExceeded.
		if state.Critique.Verdict == domain.VerdictNeedsRevision {
			return NodeGenerator
		}
		return NodeTranslator
	case NodeTranslator:
		return NodeSummarize
	case NodeSummarize:
		return NodeFinalize
	default:
		return NodeFinalize
	}
}

// Run executes the graph for one request against sessionID, starting from
// initial state, and returns the final accumulated state and an error when
// the run terminated abnormally (job deadline, exhausted node retries, or a
// critic rejection). Emitting the initial `connected` event is the worker's
// responsibility (internal/worker); Run emits node/state_delta events as it
// goes and exactly one terminal complete/error event.
func (e *Engine) Run(ctx context.Context, requestID, sessionID string, initial domain.AgentState) (finalState domain.AgentState, outErr error) {
	jobCtx, cancel := context.WithTimeout(ctx, e.opts.JobDeadline)
	defer cancel()

	if e.tracer != nil {
		var done func(error)
		jobCtx, done = e.tracer.StartJob(jobCtx, requestID, sessionID)
		defer func() { done(outErr) }()
	}

	state := initial
	current := NodeRouter

	for {
		if jobCtx.Err() != nil {
			budgetErr := &apperrors.BudgetExceeded{Reason: "job_deadline"}
			applyBudgetFallback(&state)
			state.Error = &domain.StateError{Stage: string(current), Message: budgetErr.Error(), Retryable: false}
			e.emitTerminalError(ctx, requestID, state, string(current))
			return state, budgetErr
		}

		node, ok := e.nodes[current]
		if !ok {
			state.Error = &domain.StateError{Stage: string(current), Message: "no node registered for " + string(current), Retryable: false}
			e.emitTerminalError(ctx, requestID, state, string(current))
			return state, &apperrors.NodeError{NodeID: string(current), Message: "node not registered"}
		}

		e.emit(ctx, requestID, domain.EventNode, map[string]interface{}{"name": string(current)})

		nodeCtx := jobCtx
		var nodeDone func(error)
		if e.tracer != nil {
			nodeCtx, nodeDone = e.tracer.StartNode(jobCtx, string(current), 0)
		}
		nodeStart := time.Now()

		before := state
		result, attempts, runErr := e.runWithRetry(nodeCtx, node, current, state)

		if e.metrics != nil {
			status := "ok"
			if runErr != nil || result.Err != nil {
				status = "error"
			}
			e.metrics.RecordNodeLatency(string(current), time.Since(nodeStart), status)
			if attempts > 1 {
				e.metrics.IncrementNodeRetry(string(current), "retry")
			}
		}
		if nodeDone != nil {
			spanErr := runErr
			if spanErr == nil {
				spanErr = result.Err
			}
			nodeDone(spanErr)
		}

		if runErr != nil {
			var rejection *apperrors.CriticRejection
			if errors.As(runErr, &rejection) {
				state.Error = &domain.StateError{Stage: string(current), Message: rejection.Error(), Retryable: false}
				e.emitTerminalError(ctx, requestID, state, string(current))
				return state, runErr
			}
			state.Error = &domain.StateError{Stage: string(current), Message: runErr.Error(), Retryable: attempts < e.retryCap()}
			e.emitTerminalError(ctx, requestID, state, string(current))
			return state, runErr
		}

		if result.Err != nil {
			state = domain.Reduce(state, result.Delta)
			var rejection *apperrors.CriticRejection
			if errors.As(result.Err, &rejection) {
				state.Error = &domain.StateError{Stage: string(current), Message: rejection.Error(), Retryable: false}
				e.emitTerminalError(ctx, requestID, state, string(current))
				return state, result.Err
			}
			var nodeErr *apperrors.NodeError
			retryable := errors.As(result.Err, &nodeErr) && nodeErr.Retryable
			state.Error = &domain.StateError{Stage: string(current), Message: result.Err.Error(), Retryable: retryable}
			e.emitTerminalError(ctx, requestID, state, string(current))
			return state, result.Err
		}

		state = domain.Reduce(state, result.Delta)

		if current == NodeCritic && state.Critique.Verdict == domain.VerdictNeedsRevision {
			if before.RevisionCount < e.opts.MaxRevisions {
				state.RevisionCount = before.RevisionCount + 1
			} else {
				budgetErr := &apperrors.BudgetExceeded{Reason: "max_revisions"}
				applyBudgetFallback(&state)
				state.Error = &domain.StateError{Stage: string(current), Message: budgetErr.Error(), Retryable: false}
				e.emitTerminalError(ctx, requestID, state, string(current))
				return state, budgetErr
			}
		}

		delta := domain.Diff(before, state)
		e.emit(ctx, requestID, domain.EventStateDelta, map[string]interface{}{"node": string(current), "delta": delta})

		if e.checkpointer != nil {
			if err := e.checkpointer.SaveStep(ctx, sessionID, state); err != nil {
				// Non-fatal unless this was the terminal node; surfaced to the
				// worker via the returned error only when finalize itself fails
				// to persist.
				if current == NodeFinalize {
					state.Error = &domain.StateError{Stage: "persist", Message: err.Error(), Retryable: false}
					e.emitTerminalError(ctx, requestID, state, "persist")
					return state, &apperrors.StoreError{Op: "save_step", Message: err.Error(), Cause: err}
				}
			}
		}

		if current == NodeFinalize {
			if e.metrics != nil {
				e.metrics.RecordRevisionLoops(state.RevisionCount)
			}
			e.emit(ctx, requestID, domain.EventComplete, map[string]interface{}{
				"final_answer":     state.FinalAnswer,
				"routing_decision": state.RoutingDecision,
				"intent":           state.Intent,
				"summary":          state.Summary,
			})
			return state, nil
		}

		if result.Next != nil {
			current = *result.Next
		} else {
			current = e.next(current, state)
		}
	}
}

// retryCap returns the configured max attempts per node (1 = no retries).
func (e *Engine) retryCap() int {
	if e.opts.RetryPolicy == nil {
		return 1
	}
	if e.opts.RetryPolicy.MaxAttempts < 1 {
		return 1
	}
	return e.opts.RetryPolicy.MaxAttempts
}

// runWithRetry executes a node under its timeout and, on a retryable
// failure, retries with exponential backoff up to the engine's retry
// policy: the same node is re-executed with backoff while attempts remain
// under the per-node cap.
func (e *Engine) runWithRetry(ctx context.Context, node Node, id NodeID, state domain.AgentState) (NodeResult, int, error) {
	policy := &NodePolicy{Timeout: e.timeoutFor(id), RetryPolicy: e.opts.RetryPolicy}
	maxAttempts := e.retryCap()

	var lastErr error
	var lastResult NodeResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			base, maxDelay := 200*time.Millisecond, 800*time.Millisecond
			if rp := e.opts.RetryPolicy; rp != nil && rp.BaseDelay > 0 {
				base = rp.BaseDelay
				if rp.MaxDelay > 0 {
					maxDelay = rp.MaxDelay
				}
			}
			delay := computeBackoff(attempt-1, base, maxDelay, e.rng)
			select {
			case <-ctx.Done():
				return lastResult, attempt, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, timeoutErr := runNodeWithTimeout(ctx, node, id, state, policy, policy.Timeout)
		lastResult = result

		if timeoutErr != nil {
			lastErr = timeoutErr
			continue
		}
		if result.Err == nil {
			return result, attempt + 1, nil
		}

		var nodeErr *apperrors.NodeError
		if errors.As(result.Err, &nodeErr) && !nodeErr.Retryable {
			return result, attempt + 1, nil // non-retryable node error surfaces via result.Err, not lastErr
		}
		var rejection *apperrors.CriticRejection
		if errors.As(result.Err, &rejection) {
			return result, attempt + 1, nil
		}

		lastErr = result.Err
	}
	return lastResult, maxAttempts, lastErr
}

// applyBudgetFallback sets final_answer from the best available draft when a
// run trips BudgetExceeded before translator/finalize ever run.
func applyBudgetFallback(state *domain.AgentState) {
	if state.FinalAnswer != "" {
		return
	}
	if state.DraftAnswer != "" {
		state.FinalAnswer = state.DraftAnswer
		return
	}
	state.FinalAnswer = apologyStub
}

func (e *Engine) emit(ctx context.Context, requestID string, kind domain.EventKind, payload map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(ctx, domain.Event{
		RequestID: requestID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

func (e *Engine) emitTerminalError(ctx context.Context, requestID string, state domain.AgentState, stage string) {
	msg := ""
	if state.Error != nil {
		msg = state.Error.Message
	}
	e.emit(ctx, requestID, domain.EventError, map[string]interface{}{
		"error": msg,
		"stage": stage,
	})
}
