// Package relaytransport implements the relay-backed connection and
// transport (spec §4.3, §4.4): every connection multiplexes streams over
// a single relay.Connection, and the transport owns the accept loop that
// turns inbound relay.Connections into peervault connections.
package relaytransport

import (
	"context"
	"sync"
)

// runtimeState is the process-wide singleton spec §9's "Process-wide
// globals" design note calls for: the source environment kept a
// window-scoped record of cleanup callbacks, a one-shot runtime-ready
// future, and a live-endpoint count; the idiomatic Go replacement is a
// package-level struct guarded by sync.Once for one-shot initialization
// and a sync.Mutex for the mutable fields, rather than a global var block
// initialized at package load.
type runtimeState struct {
	readyOnce sync.Once
	readyCh   chan struct{}

	mu              sync.Mutex
	pendingCleanups map[string]chan struct{}
	activeEndpoints int
}

var (
	runtimeOnce sync.Once
	runtime     *runtimeState
)

// getRuntime returns the process-wide runtime state, initializing it
// exactly once regardless of how many Transports are constructed in this
// process.
func getRuntime() *runtimeState {
	runtimeOnce.Do(func() {
		runtime = &runtimeState{
			pendingCleanups: make(map[string]chan struct{}),
			readyCh:         make(chan struct{}),
		}
	})
	return runtime
}

// Ready resolves the shared relay-runtime-initialized future (spec §4.4
// component (a)): only the first caller across the process does the
// one-shot work of marking the runtime live, and every caller — including
// that first one — blocks on the same future, so two Transports racing to
// initialize never observe a half-initialized runtime.
func (r *runtimeState) Ready(ctx context.Context) error {
	r.readyOnce.Do(func() {
		close(r.readyCh)
	})
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerCleanup records that id's endpoint is being torn down and
// returns the func that must be called exactly once when the teardown
// completes. Until it is called, awaitCleanup(id) blocks any fresh
// Initialize racing to reuse the same id (spec §4.4 component (b)).
// Cleanups registered under other ids do not block that Initialize.
func (r *runtimeState) registerCleanup(id string) func() {
	ch := make(chan struct{})
	r.mu.Lock()
	r.pendingCleanups[id] = ch
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.pendingCleanups, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// awaitCleanup blocks until any cleanup in flight for id resolves,
// returning immediately if none is registered.
func (r *runtimeState) awaitCleanup(ctx context.Context, id string) error {
	r.mu.Lock()
	ch, ok := r.pendingCleanups[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runtimeState) incActiveEndpoints() {
	r.mu.Lock()
	r.activeEndpoints++
	r.mu.Unlock()
}

func (r *runtimeState) decActiveEndpoints() {
	r.mu.Lock()
	if r.activeEndpoints > 0 {
		r.activeEndpoints--
	}
	r.mu.Unlock()
}

func (r *runtimeState) ActiveEndpoints() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeEndpoints
}
