package relaytransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/relay"
)

// ConnectionHandler is the single-owner callback for inbound connections,
// mirroring Peer's single-owner stream policy one level up.
type ConnectionHandler func(*Peer)

// Transport owns a relay.Endpoint's accept loop, turning inbound
// relay.Connections into Peers while suppressing duplicate connections
// from a peer this process is already connected to (spec §4.4).
type Transport struct {
	endpoint relay.Endpoint
	logger   peervault.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	peers     map[peervault.NodeId]*Peer
	handler   ConnectionHandler
	backlog   []*Peer
	started   bool
	shutdown  bool
	crashes   int
	runtimeID string
}

// New constructs a Transport over endpoint. It does not start accepting
// connections until Initialize is called.
func New(endpoint relay.Endpoint, logger peervault.Logger) *Transport {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	return &Transport{
		endpoint: endpoint,
		logger:   logger,
		peers:    make(map[peervault.NodeId]*Peer),
	}
}

// Initialize blocks on the process-wide relay-runtime-ready future, then
// waits out any outstanding Shutdown for this same endpoint identity
// before registering with the runtime and starting the inbound-connection
// accept loop. Only a cleanup registered under the same endpoint id is
// waited for; shutdowns of transports with other endpoint ids do not
// delay it.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	rt := getRuntime()
	if err := rt.Ready(ctx); err != nil {
		return err
	}
	id := fmt.Sprintf("%x", t.endpoint.NodeId())
	if err := rt.awaitCleanup(ctx, id); err != nil {
		return err
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.runtimeID = id
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	rt.incActiveEndpoints()
	go t.runAcceptLoopWithSupervisor()
	return nil
}

// runAcceptLoopWithSupervisor restarts the accept loop with exponential
// backoff and jitter on failure, restarting after each of the first
// acceptLoopMaxCrashes crashes and shutting down on the next one (spec
// §4.4); the crash count is kept for the transport's lifetime and never
// reset. It mirrors Peer's runAcceptLoopWithSupervisor one level down.
func (t *Transport) runAcceptLoopWithSupervisor() {
	for {
		err := t.runAcceptLoop()
		if t.ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		t.crashes++
		crashes := t.crashes
		t.mu.Unlock()
		if crashes > acceptLoopMaxCrashes {
			t.logger.Errorw("relaytransport: transport accept loop exceeded crash budget, giving up",
				"crashes", crashes, "error", err)
			t.Shutdown()
			return
		}
		delay := backoffWithJitter(crashes, acceptLoopBaseBackoff, acceptLoopMaxBackoff)
		t.logger.Warnw("relaytransport: transport accept loop crashed, restarting",
			"crashes", crashes, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) runAcceptLoop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in transport accept loop: %v", r)
		}
	}()
	for {
		conn, acceptErr := t.endpoint.Accept(t.ctx)
		if acceptErr != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			return acceptErr
		}
		t.handleInbound(conn)
	}
}

// handleInbound applies duplicate suppression: if this process already
// has a live Peer for the connecting NodeId, the new connection is closed
// rather than replacing the existing one, so in-flight streams on the
// original connection are never orphaned by a race between two dial
// attempts (spec §4.4).
func (t *Transport) handleInbound(conn relay.Connection) {
	remote := peervault.NodeId(conn.RemoteNodeId())

	t.mu.Lock()
	if existing, ok := t.peers[remote]; ok && !existing.IsClosed() {
		t.mu.Unlock()
		t.logger.Infow("relaytransport: dropping duplicate inbound connection", "peer", remote)
		conn.Close()
		return
	}
	peer := NewPeer(t.ctx, conn, t.logger)
	t.peers[remote] = peer
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler(peer)
	} else {
		t.mu.Lock()
		t.backlog = append(t.backlog, peer)
		t.mu.Unlock()
	}
}

// OnConnection registers the single owner for inbound connections,
// draining any backlog accumulated before a subscriber existed.
func (t *Transport) OnConnection(handler ConnectionHandler) {
	t.mu.Lock()
	t.handler = handler
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()
	for _, p := range backlog {
		handler(p)
	}
}

// Connect dials ticket and returns a Peer for the resulting connection,
// reusing an existing live Peer for the same remote identity instead of
// opening a second relay connection to the same node.
func (t *Transport) Connect(ctx context.Context, ticket peervault.Ticket) (*Peer, error) {
	conn, err := t.endpoint.Dial(ctx, string(ticket), peervault.ALPN)
	if err != nil {
		return nil, peervault.NewConnectionFailed(peervault.NodeId{}, err.Error())
	}
	remote := peervault.NodeId(conn.RemoteNodeId())

	t.mu.Lock()
	if existing, ok := t.peers[remote]; ok && !existing.IsClosed() {
		t.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	peer := NewPeer(t.ctx, conn, t.logger)
	t.peers[remote] = peer
	t.mu.Unlock()
	return peer, nil
}

// Shutdown stops the accept loop and closes every live peer connection.
// It registers this endpoint's cleanup with the process-wide runtime
// before tearing anything down, so a fresh Transport racing to reuse the
// same endpoint identity blocks in Initialize until teardown finishes
// (spec §4.4 component (b)).
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return nil
	}
	t.shutdown = true
	started := t.started
	id := t.runtimeID
	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	var finish func()
	if started {
		rt := getRuntime()
		finish = rt.registerCleanup(id)
		defer finish()
	}

	if t.cancel != nil {
		t.cancel()
	}
	for _, p := range peers {
		p.Close()
	}
	err := t.endpoint.Close()
	if started {
		getRuntime().decActiveEndpoints()
	}
	return err
}
