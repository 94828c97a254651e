package gate

import (
	"context"
	"sync"
	"time"
)

// Response is a user answer delivered to a waiting gate.
type Response struct {
	Gate  string
	Value any
}

// PollFunc checks the durable payload for an answer to the named gate. It
// is the fallback wakeup path when the in-process notification is missed
// (e.g. the answer landed via another replica before this process started
// waiting).
type PollFunc func(ctx context.Context) (*Response, error)

// Registry delivers gate responses to in-process waiters by session id.
// One waiter per session: the pipeline suspends on at most one gate at a
// time.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]chan Response
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[string]chan Response)}
}

// Notify wakes the session's waiter with a response. Returns false when no
// waiter is registered; the caller has already buffered the response
// durably, so nothing is lost.
func (r *Registry) Notify(sessionID string, resp Response) bool {
	r.mu.Lock()
	ch, ok := r.waiters[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		// Waiter already has an undelivered response; the poll fallback
		// picks this one up from the durable queue.
		return false
	}
}

// Wait blocks until a response for gateName arrives via Notify, the poll
// fallback finds one, or ctx is cancelled.
func (r *Registry) Wait(ctx context.Context, sessionID, gateName string, pollInterval time.Duration, poll PollFunc) (*Response, error) {
	ch := make(chan Response, 1)
	r.mu.Lock()
	r.waiters[sessionID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, sessionID)
		r.mu.Unlock()
	}()

	// The answer may already be sitting in the durable queue (the client
	// responded before the pipeline reached this gate).
	if poll != nil {
		if resp, err := poll(ctx); err == nil && resp != nil {
			return resp, nil
		}
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if poll != nil && pollInterval > 0 {
		ticker = time.NewTicker(pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp := <-ch:
			if resp.Gate == gateName {
				return &resp, nil
			}
			// A response for a different gate: leave it to the durable
			// queue and keep waiting.
		case <-tick:
			resp, err := poll(ctx)
			if err != nil {
				continue // transient DB error; keep waiting
			}
			if resp != nil {
				return resp, nil
			}
		}
	}
}

// Waiting reports whether the session currently has a registered waiter.
func (r *Registry) Waiting(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiters[sessionID]
	return ok
}
