// Package broker implements a competing-consumer job queue plus a
// per-request pub/sub fan-out with a replay buffer. Consumers are
// HTTP/SSE clients watching one request in real time, not offline
// analysts querying completed runs.
package broker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
)

// Broker is a single-process, in-memory implementation of the job queue
// and event fan-out, intended for a single-instance deployment — there is
// no Kafka/NATS/Redis adapter here; everything lives in one process's
// memory.
type Broker struct {
	mu       sync.Mutex
	queue    *list.List // FIFO of *domain.Job
	notEmpty chan struct{}

	subs map[string]*subscription // request_id -> subscription

	replayBuffer int
	subGrace     time.Duration

	now func() time.Time
}

type subscription struct {
	buf       []domain.Event // ring buffer capped at replayBuffer
	listeners []chan domain.Event
	terminal  bool
	expiresAt time.Time // zero until terminal is reached
}

// New builds a Broker. replayBuffer bounds the number of events retained
// per request_id (default 64); subGrace is how long a terminal request's
// buffer survives for late subscribers (default 300s).
func New(replayBuffer int, subGrace time.Duration) *Broker {
	if replayBuffer <= 0 {
		replayBuffer = 64
	}
	if subGrace <= 0 {
		subGrace = 300 * time.Second
	}
	return &Broker{
		queue:        list.New(),
		notEmpty:     make(chan struct{}, 1),
		subs:         make(map[string]*subscription),
		replayBuffer: replayBuffer,
		subGrace:     subGrace,
		now:          time.Now,
	}
}

// Enqueue appends a job to the FIFO queue, waking one blocked Claim. It
// also pre-registers an empty, non-terminal subscription entry for the
// job's request_id so a client that subscribes before any worker claims
// the job observes a live (if initially empty) stream instead of
// ErrUnknownRequest — satisfying the "enqueue then subscribe observes
// connected before any node event" ordering law even when Subscribe wins
// the race against Claim/Emit.
func (b *Broker) Enqueue(ctx context.Context, job domain.Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.mu.Lock()
	b.queue.PushBack(job)
	if _, ok := b.subs[job.RequestID]; !ok {
		b.subs[job.RequestID] = &subscription{}
	}
	b.mu.Unlock()

	select {
	case b.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Claim blocks up to timeout for a job to become available, returning it
// to exactly one caller (competing-consumer semantics: concurrent Claim
// calls never receive the same job). Returns (domain.Job{}, false, nil)
// on timeout with nothing queued.
func (b *Broker) Claim(ctx context.Context, timeout time.Duration) (domain.Job, bool, error) {
	deadline := time.After(timeout)
	for {
		if job, ok := b.tryPop(); ok {
			return job, true, nil
		}
		select {
		case <-ctx.Done():
			return domain.Job{}, false, ctx.Err()
		case <-deadline:
			return domain.Job{}, false, nil
		case <-b.notEmpty:
			// loop and retry tryPop; another waiter may have won the race
		}
	}
}

func (b *Broker) tryPop() (domain.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.queue.Front()
	if front == nil {
		return domain.Job{}, false
	}
	b.queue.Remove(front)
	return front.Value.(domain.Job), true
}

// Emit publishes evt to every live subscriber of evt.RequestID and
// appends it to that request's replay buffer, satisfying
// graph.Emitter so the engine can publish directly into the broker.
func (b *Broker) Emit(ctx context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subs[evt.RequestID]
	if sub == nil {
		sub = &subscription{}
		b.subs[evt.RequestID] = sub
	}

	sub.buf = append(sub.buf, evt)
	if len(sub.buf) > b.replayBuffer {
		sub.buf = sub.buf[len(sub.buf)-b.replayBuffer:]
	}

	if evt.Terminal() {
		sub.terminal = true
		sub.expiresAt = b.now().Add(b.subGrace)
	}

	for _, ch := range sub.listeners {
		select {
		case ch <- evt:
		default:
			// slow subscriber: drop rather than block the publishing run
		}
	}
}

// Subscribe returns a channel delivering the buffered tail of events for
// requestID followed by live events, and an unsubscribe func the caller
// must call when done. Returns ErrUnknownRequest if requestID was never
// enqueued or its replay window already expired.
func (b *Broker) Subscribe(ctx context.Context, requestID string) (<-chan domain.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[requestID]
	if !ok {
		return nil, nil, apperrors.ErrUnknownRequest
	}
	if sub.terminal && b.now().After(sub.expiresAt) {
		return nil, nil, apperrors.ErrUnknownRequest
	}

	ch := make(chan domain.Event, b.replayBuffer+1)
	for _, evt := range sub.buf {
		ch <- evt
	}
	if !sub.terminal {
		sub.listeners = append(sub.listeners, ch)
	} else {
		close(ch) // already complete: replay tail only, then EOF
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		s, ok := b.subs[requestID]
		if !ok {
			return
		}
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe, nil
}

// QueueDepth reports the number of jobs currently waiting to be claimed.
func (b *Broker) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// SubscriberCount reports the number of live SSE listeners across every
// request currently tracked by the broker.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, sub := range b.subs {
		n += len(sub.listeners)
	}
	return n
}

// Sweep evicts subscription state for requests whose SUB_GRACE window has
// elapsed. Intended to be called periodically (e.g. from a ticker in
// cmd/server) so long-running processes don't leak memory per request.
func (b *Broker) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, sub := range b.subs {
		if sub.terminal && now.After(sub.expiresAt) {
			for _, ch := range sub.listeners {
				close(ch)
			}
			delete(b.subs, id)
		}
	}
}
