package relaytransport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/relay"
)

const (
	acceptLoopBaseBackoff = 500 * time.Millisecond
	acceptLoopMaxBackoff  = 30 * time.Second
	acceptLoopMaxCrashes  = 5
)

// StreamHandler is the single-owner callback a Peer's accept loop hands
// every incoming stream to, once exactly one subscriber has registered
// (spec §4.3 "single-owner onStream policy").
type StreamHandler func(relay.Stream)

// Peer wraps one relay.Connection, running its own stream-accept loop and
// fanning inbound streams out to either a registered StreamHandler or, if
// none is registered yet, a backlog that is drained to the first
// subscriber and only the first.
type Peer struct {
	conn   relay.Connection
	logger peervault.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	handler      StreamHandler
	backlog      []relay.Stream
	waiters      *waiterQueue
	outgoing     map[string]relay.Stream
	closed       bool
	crashes      int
	closeHandler func()
}

// NewPeer starts the accept loop for conn and returns a Peer ready to
// open and accept streams.
func NewPeer(parentCtx context.Context, conn relay.Connection, logger peervault.Logger) *Peer {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	p := &Peer{
		conn:     conn,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		waiters:  newWaiterQueue(),
		outgoing: make(map[string]relay.Stream),
	}
	go p.runAcceptLoopWithSupervisor()
	return p
}

// RemoteNodeId returns the identity of the peer at the other end.
func (p *Peer) RemoteNodeId() peervault.NodeId {
	return peervault.NodeId(p.conn.RemoteNodeId())
}

// OpenStream opens a new outgoing stream and tracks it under id for
// diagnostics (spec §4.3 "outgoing stream map").
func (p *Peer) OpenStream(ctx context.Context, id string) (relay.Stream, error) {
	s, err := p.conn.OpenStream(ctx)
	if err != nil {
		return nil, peervault.NewConnectionFailed(p.RemoteNodeId(), fmt.Sprintf("open stream: %v", err))
	}
	p.mu.Lock()
	p.outgoing[id] = s
	p.mu.Unlock()
	return s, nil
}

// OnStream registers the single owner allowed to receive inbound streams.
// Any streams queued before this call are delivered to handler, in
// arrival order, before any new stream is. Calling OnStream a second time
// replaces the handler; it does not add a second subscriber (spec §4.3
// explicitly disallows fan-out to more than one owner).
func (p *Peer) OnStream(handler StreamHandler) {
	p.mu.Lock()
	p.handler = handler
	backlog := p.backlog
	p.backlog = nil
	p.mu.Unlock()
	for _, s := range backlog {
		handler(s)
	}
}

// OnClose registers fn to run exactly once when this peer's relay
// connection is torn down, whether by an explicit Close, the accept-loop
// supervisor exhausting its crash budget, or the remote end going away.
// The relay is authoritative for liveness (spec §3): anything layered on
// top learns of relay death here rather than polling IsClosed. Registering
// after the peer has already closed runs fn immediately.
func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.closeHandler = fn
	p.mu.Unlock()
}

// AcceptStream blocks until the next inbound stream arrives, using a
// waiter rather than polling the backlog so it composes with OnStream:
// whichever callback registers ownership of backlog streams, AcceptStream
// callers still get anything the loop delivers afterward by being queued
// as waiters ahead of time.
func (p *Peer) AcceptStream(ctx context.Context) (relay.Stream, error) {
	w := newWaiter()
	remove := p.waiters.enqueue(w)
	return w.wait(ctx, remove)
}

func (p *Peer) dispatch(s relay.Stream) {
	if w := p.waiters.dequeue(); w != nil {
		w.resolve <- s
		return
	}
	p.mu.Lock()
	handler := p.handler
	if handler == nil {
		p.backlog = append(p.backlog, s)
	}
	p.mu.Unlock()
	if handler != nil {
		handler(s)
	}
}

func (p *Peer) runAcceptLoopWithSupervisor() {
	for {
		err := p.runAcceptLoop()
		if p.ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.crashes++
		crashes := p.crashes
		p.mu.Unlock()
		if crashes > acceptLoopMaxCrashes {
			p.logger.Errorw("relaytransport: accept loop exceeded crash budget, giving up",
				"peer", p.RemoteNodeId(), "crashes", crashes, "error", err)
			p.Close()
			return
		}
		delay := backoffWithJitter(crashes, acceptLoopBaseBackoff, acceptLoopMaxBackoff)
		p.logger.Warnw("relaytransport: accept loop crashed, restarting",
			"peer", p.RemoteNodeId(), "crashes", crashes, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Peer) runAcceptLoop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in accept loop: %v", r)
		}
	}()
	for {
		s, acceptErr := p.conn.AcceptStream(p.ctx)
		if acceptErr != nil {
			if p.ctx.Err() != nil {
				return nil
			}
			p.waiters.rejectAll(peervault.NewConnectionLost(p.RemoteNodeId()))
			return acceptErr
		}
		p.dispatch(s)
	}
}

// backoffWithJitter implements spec §9's "exponential backoff with
// jitter" for crash supervisors: base * 2^(attempt-1), capped at max,
// plus up to 20% jitter so multiple restarting loops don't thunder.
func backoffWithJitter(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}

// Close tears the peer down: cancels the accept loop, rejects any pending
// AcceptStream waiters, and closes the underlying relay connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handler := p.closeHandler
	p.mu.Unlock()
	p.cancel()
	p.waiters.rejectAll(peervault.NewConnectionClosed(p.RemoteNodeId()))
	err := p.conn.Close()
	if handler != nil {
		handler()
	}
	return err
}

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
