package peervault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/robcohen/peervault/internal/framing"
	"github.com/robcohen/peervault/internal/hybrid"
	"github.com/robcohen/peervault/internal/relay"
	"github.com/robcohen/peervault/internal/relaytransport"
)

// Subscription is returned by a subscribe call; Unsubscribe removes the
// handler it was given. Restates the source's "register callback, return
// unsubscribe closure" pattern as a named type (spec §9 design note).
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	unsubscribe func()
	once        sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Stream is a bidirectional, message-framed byte stream. Send/Receive
// preserve message boundaries regardless of which path (relay or direct
// WebRTC) currently carries the stream.
type Stream struct {
	inner framing.MessageStream
}

func (s *Stream) Send(ctx context.Context, data []byte) error { return s.inner.Send(ctx, data) }
func (s *Stream) Receive(ctx context.Context) ([]byte, error) { return s.inner.Receive(ctx) }
func (s *Stream) Close() error                                { return s.inner.Close() }
func (s *Stream) IsOpen() bool                                { return s.inner.IsOpen() }

// Connection is one logical peer connection, backed by a relay stream and
// opportunistically upgraded to a direct WebRTC path (§4.6–§4.7).
type Connection struct {
	inner *hybrid.Connection
}

// OpenStream opens a new application stream over whichever path is
// currently active.
func (c *Connection) OpenStream(ctx context.Context) (*Stream, error) {
	s, err := c.inner.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: s}, nil
}

// AcceptStream blocks for the next inbound application stream.
func (c *Connection) AcceptStream(ctx context.Context) (*Stream, error) {
	s, err := c.inner.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: s}, nil
}

// RemoteNodeId returns the identity of the peer at the other end.
func (c *Connection) RemoteNodeId() NodeId { return c.inner.RemoteNodeId() }

// ConnectionType reports whether this connection is currently relayed,
// direct, mixed, or has no live path (§4.12).
func (c *Connection) ConnectionType() ConnectionType {
	return c.inner.ConnectionType()
}

// Stats returns a diagnostics snapshot of the connection, including RTT
// and candidate-pair classification once a WebRTC upgrade is active
// (§4.12).
func (c *Connection) Stats(ctx context.Context) ConnectionStats {
	return c.inner.Stats(ctx)
}

// IsUpgraded reports whether the direct WebRTC path is active.
func (c *Connection) IsUpgraded() bool { return c.inner.IsUpgraded() }

// Close tears the connection down, including any upgraded WebRTC peer.
func (c *Connection) Close() error { return c.inner.Close() }

// ConnectionHandler receives newly established inbound connections.
type ConnectionHandler func(*Connection)

// Transport is the top-level hybrid relay/WebRTC transport. It owns one
// relay endpoint's identity and accept loop for the lifetime of the
// process (or until Shutdown).
type Transport struct {
	cfg      Config
	endpoint relay.Endpoint
	logger   Logger

	relayTransport  *relaytransport.Transport
	hybridTransport *hybrid.Transport

	mu      sync.Mutex
	handler ConnectionHandler
	backlog []*Connection
}

// New wires cfg's logging, framing, and upgrade policy around an
// already-constructed relay.Endpoint. The endpoint's identity (NodeId)
// must already reflect cfg's secret key — callers typically obtain the
// key via LoadOrCreateSecretKey and pass it to their relay library's own
// endpoint constructor before calling New (§6.2 is an opaque external
// capability; this layer never constructs one itself).
func New(ctx context.Context, cfg Config, endpoint relay.Endpoint) (*Transport, error) {
	logger, err := cfg.logger()
	if err != nil {
		return nil, fmt.Errorf("peervault: building logger: %w", err)
	}

	rt := relaytransport.New(endpoint, logger)
	if err := rt.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("peervault: initializing relay transport: %w", err)
	}

	localId := NodeId(endpoint.NodeId())
	ht := hybrid.New(rt, localId, cfg, logger)

	t := &Transport{
		cfg:             cfg,
		endpoint:        endpoint,
		logger:          logger,
		relayTransport:  rt,
		hybridTransport: ht,
	}
	ht.OnConnection(t.handleInbound)
	return t, nil
}

// LoadOrCreateSecretKey returns cfg's persisted secret key, generating and
// persisting a fresh one via cfg's SecretStore if none exists yet (§6.3,
// §6.5). Callers pass the result to their relay library's endpoint
// constructor before calling New.
func LoadOrCreateSecretKey(cfg Config, randomSource func([]byte) error) (SecretKey, error) {
	store := cfg.secretStore()
	key, err := store.Load()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return SecretKey{}, fmt.Errorf("peervault: loading secret key: %w", err)
	}
	var fresh SecretKey
	if genErr := randomSource(fresh[:]); genErr != nil {
		return SecretKey{}, fmt.Errorf("peervault: generating secret key: %w", genErr)
	}
	if saveErr := store.Save(fresh); saveErr != nil {
		return SecretKey{}, fmt.Errorf("peervault: persisting secret key: %w", saveErr)
	}
	return fresh, nil
}

func (t *Transport) handleInbound(c *hybrid.Connection) {
	conn := &Connection{inner: c}
	t.mu.Lock()
	handler := t.handler
	if handler == nil {
		t.backlog = append(t.backlog, conn)
	}
	t.mu.Unlock()
	if handler != nil {
		handler(conn)
	}
}

// OnConnection registers handler as the single owner of inbound
// connections, draining any backlog accumulated before a subscriber
// existed. Unsubscribing reverts to backlog accumulation.
func (t *Transport) OnConnection(handler ConnectionHandler) Subscription {
	t.mu.Lock()
	t.handler = handler
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()
	for _, c := range backlog {
		handler(c)
	}
	return &subscription{unsubscribe: func() {
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}}
}

// Connect dials ticket, returning a Connection once the underlying relay
// connection and signaling stream are established. A WebRTC upgrade is
// attempted in the background if cfg.WebRTC.Enabled.
func (t *Transport) Connect(ctx context.Context, ticket Ticket) (*Connection, error) {
	c, err := t.hybridTransport.Connect(ctx, ticket)
	if err != nil {
		return nil, err
	}
	return &Connection{inner: c}, nil
}

// Ticket returns a printable ticket other peers can dial to reach this
// transport's endpoint.
func (t *Transport) Ticket() (Ticket, error) {
	s, err := t.endpoint.Ticket()
	if err != nil {
		return "", fmt.Errorf("peervault: generating ticket: %w", err)
	}
	return Ticket(s), nil
}

// NodeId returns this transport's public identity.
func (t *Transport) NodeId() NodeId { return NodeId(t.endpoint.NodeId()) }

// Shutdown tears down every connection and the underlying relay endpoint.
func (t *Transport) Shutdown() error {
	return t.hybridTransport.Shutdown()
}
