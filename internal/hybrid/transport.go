package hybrid

import (
	"context"
	"sync"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/framing"
	"github.com/robcohen/peervault/internal/relaytransport"
)

// ConnectionHandler is the single-owner callback for inbound Connections.
type ConnectionHandler func(*Connection)

// Transport wraps a relaytransport.Transport, turning its Peers into
// hybrid Connections and kicking off a debounced upgrade attempt on each
// new outbound connection (spec §4.7).
type Transport struct {
	relay     *relaytransport.Transport
	localId   peervault.NodeId
	cfg       peervault.Config
	frameOpts framing.Options
	logger    peervault.Logger

	mu          sync.Mutex
	connections map[peervault.NodeId]*Connection
	handler     ConnectionHandler
	backlog     []*Connection
}

// New wraps relay with hybrid upgrade semantics.
func New(relay *relaytransport.Transport, localId peervault.NodeId, cfg peervault.Config, logger peervault.Logger) *Transport {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	t := &Transport{
		relay:   relay,
		localId: localId,
		cfg:     cfg,
		frameOpts: framing.Options{
			MaxBufferedAmount: cfg.MaxBufferedAmount,
			PollInterval:      cfg.BackpressurePollInterval,
			Timeout:           cfg.BackpressureTimeout,
		},
		logger:      logger,
		connections: make(map[peervault.NodeId]*Connection),
	}
	relay.OnConnection(t.handleInbound)
	return t
}

func (t *Transport) wrap(ctx context.Context, peer *relaytransport.Peer) *Connection {
	conn := NewConnection(ctx, t.localId, peer, t.cfg.WebRTC, t.frameOpts, t.logger)
	t.mu.Lock()
	t.connections[peer.RemoteNodeId()] = conn
	t.mu.Unlock()
	return conn
}

func (t *Transport) handleInbound(peer *relaytransport.Peer) {
	conn := t.wrap(context.Background(), peer)

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(conn)
	} else {
		t.mu.Lock()
		t.backlog = append(t.backlog, conn)
		t.mu.Unlock()
	}
}

// OnConnection registers the single owner for inbound connections.
func (t *Transport) OnConnection(handler ConnectionHandler) {
	t.mu.Lock()
	t.handler = handler
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()
	for _, c := range backlog {
		handler(c)
	}
}

// Connect dials ticket over the relay, wraps the resulting peer as a
// Connection, opens the signaling stream, and — after a short debounce so
// the signaling stream has time to be observed by the remote side — kicks
// off an upgrade attempt in the background if WebRTC is enabled.
func (t *Transport) Connect(ctx context.Context, ticket peervault.Ticket) (*Connection, error) {
	peer, err := t.relay.Connect(ctx, ticket)
	if err != nil {
		return nil, err
	}
	conn := t.wrap(ctx, peer)
	if err := conn.OpenSignalingStream(ctx); err != nil {
		return nil, err
	}
	if t.cfg.WebRTC.Enabled {
		go t.debouncedUpgrade(conn)
	}
	return conn, nil
}

const upgradeDebounce = 250 * time.Millisecond

func (t *Transport) debouncedUpgrade(conn *Connection) {
	select {
	case <-time.After(upgradeDebounce):
	case <-conn.ctx.Done():
		return
	}
	if err := conn.AttemptUpgrade(conn.ctx); err != nil {
		t.logger.Debugw("hybrid: upgrade attempt did not complete", "peer", conn.RemoteNodeId(), "error", err)
	}
}

// Shutdown tears down every connection and the underlying relay transport.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return t.relay.Shutdown()
}
