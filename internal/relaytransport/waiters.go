package relaytransport

import (
	"context"
	"sync"

	"github.com/robcohen/peervault/internal/relay"
)

// waiter is one pending AcceptStream call: exactly one of its two channels
// is ever written to, never both.
type waiter struct {
	resolve chan relay.Stream
	reject  chan error
}

// waiterQueue is a FIFO of pending accepters, paired with resolve/reject
// channels rather than addressed by index (spec §9: index-based waiter
// lists break when an earlier waiter's context is canceled and it leaves
// the queue out of order). A waiter that is both in the queue and has its
// caller give up (ctx canceled) removes itself via the remove func that
// enqueue returned, so a
// later arrival is handed to the next real waiter, not a dead one.
type waiterQueue struct {
	mu   sync.Mutex
	list []*waiter
}

func newWaiterQueue() *waiterQueue {
	return &waiterQueue{}
}

// enqueue adds w to the back of the queue and returns a function that
// removes it again, for use when ctx is done before w is resolved.
func (q *waiterQueue) enqueue(w *waiter) (remove func()) {
	q.mu.Lock()
	q.list = append(q.list, w)
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, existing := range q.list {
			if existing == w {
				q.list = append(q.list[:i], q.list[i+1:]...)
				return
			}
		}
	}
}

// dequeue pops the oldest waiter, or nil if the queue is empty.
func (q *waiterQueue) dequeue() *waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.list) == 0 {
		return nil
	}
	w := q.list[0]
	q.list = q.list[1:]
	return w
}

// rejectAll drains the queue, delivering err to every waiter still in it.
// Used on connection teardown so no AcceptStream caller blocks forever.
func (q *waiterQueue) rejectAll(err error) {
	q.mu.Lock()
	list := q.list
	q.list = nil
	q.mu.Unlock()
	for _, w := range list {
		select {
		case w.reject <- err:
		default:
		}
	}
}

func newWaiter() *waiter {
	return &waiter{
		resolve: make(chan relay.Stream, 1),
		reject:  make(chan error, 1),
	}
}

// wait blocks until w is resolved, rejected, or ctx is done, removing w
// from q in the ctx-done case so it doesn't linger as a dead entry.
func (w *waiter) wait(ctx context.Context, remove func()) (relay.Stream, error) {
	select {
	case s := <-w.resolve:
		return s, nil
	case err := <-w.reject:
		return nil, err
	case <-ctx.Done():
		remove()
		return nil, ctx.Err()
	}
}
