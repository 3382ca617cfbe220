// Package coordinator implements the blocking-response half of the tool
// handler (spec §4.2): a registry of oneshot channels keyed by request
// ID, letting a blocked tool call wait for an operator decision that
// arrives on a separate goroutine (a Slack interaction callback or an
// IPC command). Grounded directly on the teacher's
// internal/clarification/store.go — same buffered-channel-of-one,
// non-blocking-send-with-default resolution shape, generalized to any
// payload type and to three independent registries instead of one.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/handoffhq/handoff/internal/apperr"
)

type entry[T any] struct {
	ch        chan T
	createdAt time.Time
}

// Registry holds oneshot waiters for one kind of blocking request.
// Resolve is the only place a value is ever sent on an entry's channel,
// and it uses a non-blocking select-with-default so at most one resolver
// ever wins — every other resolver (a duplicate Slack click, a stale IPC
// retry) observes apperr.AlreadyConsumed instead of blocking or panicking
// on a double send.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// NewRegistry constructs an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*entry[T])}
}

// Register creates a new oneshot waiter for id. It is an error to
// register the same id twice while a prior registration is still
// pending.
func (r *Registry[T]) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return apperr.New(apperr.AlreadyConsumed, "a pending request already exists for id "+id)
	}
	r.entries[id] = &entry[T]{ch: make(chan T, 1), createdAt: time.Now()}
	return nil
}

// Wait blocks until Resolve(id, ...) is called, ctx is cancelled, or
// timeout elapses, whichever comes first. The registry entry is removed
// in every case, so a late Resolve after a timeout is dropped (observed
// by its caller as apperr.NotFound, since the entry is gone).
func (r *Registry[T]) Wait(ctx context.Context, id string, timeout time.Duration) (T, error) {
	var zero T

	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return zero, apperr.New(apperr.NotFound, "no pending request for id "+id)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case v := <-e.ch:
		r.remove(id)
		return v, nil
	case <-timeoutCtx.Done():
		r.remove(id)
		if ctx.Err() != nil {
			return zero, apperr.Wrap(apperr.Tool, "wait cancelled", ctx.Err())
		}
		return zero, apperr.New(apperr.Tool, "timed out waiting for resolution of "+id)
	}
}

// Resolve delivers value to the waiter registered for id. It returns
// apperr.NotFound if no such registration exists (already timed out,
// already resolved, or never registered) and apperr.AlreadyConsumed if
// the registration exists but has already been resolved once (the
// channel buffer of 1 is already full) — this is the
// exactly-one-resolution invariant.
func (r *Registry[T]) Resolve(id string, value T) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "no pending request for id "+id)
	}

	select {
	case e.ch <- value:
		return nil
	default:
		return apperr.New(apperr.AlreadyConsumed, "request already resolved: "+id)
	}
}

// Cancel removes a pending registration without resolving it, used when
// an owning session terminates while a request is still outstanding.
func (r *Registry[T]) Cancel(id string) {
	r.remove(id)
}

// Pending returns the IDs of every currently outstanding registration.
func (r *Registry[T]) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry[T]) remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}
