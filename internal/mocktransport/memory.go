// Package mocktransport provides a relay.Endpoint implementation with no
// network dependency, for driving the testable properties in spec §8
// (S1, S2, S5) without a real Iroh-style relay. memory.go covers a single
// process; crossprocess.go extends the same message vocabulary over a
// real gorilla/websocket connection so two separate test binaries can
// exercise the same scenarios across a process boundary.
package mocktransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/relay"
)

// Registry is the shared directory every MockEndpoint in a process
// registers with, standing in for the relay service that would otherwise
// resolve a ticket to a live peer.
type Registry struct {
	mu        sync.Mutex
	endpoints map[peervault.NodeId]*Endpoint
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[peervault.NodeId]*Endpoint)}
}

func (r *Registry) register(e *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[e.id] = e
}

func (r *Registry) unregister(e *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, e.id)
}

func (r *Registry) lookup(id peervault.NodeId) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	return e, ok
}

// Endpoint is a relay.Endpoint backed entirely by in-memory channels.
type Endpoint struct {
	id       peervault.NodeId
	registry *Registry

	mu      sync.Mutex
	inbound chan relay.Connection
	closed  bool
}

// NewEndpoint creates and registers an Endpoint identified by id.
func NewEndpoint(registry *Registry, id peervault.NodeId) *Endpoint {
	e := &Endpoint{id: id, registry: registry, inbound: make(chan relay.Connection, 16)}
	registry.register(e)
	return e
}

func (e *Endpoint) Accept(ctx context.Context) (relay.Connection, error) {
	select {
	case c, ok := <-e.inbound:
		if !ok {
			return nil, fmt.Errorf("mocktransport: endpoint closed")
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial looks the peer up in the shared registry and wires a fresh
// Connection pair, delivering one half to the peer's Accept loop.
func (e *Endpoint) Dial(ctx context.Context, ticket string, alpn string) (relay.Connection, error) {
	peerID, err := peervault.ParseNodeId(ticket)
	if err != nil {
		return nil, peervault.NewInvalidTicket(err.Error())
	}
	peer, ok := e.registry.lookup(peerID)
	if !ok {
		return nil, peervault.NewConnectionFailed(peerID, "no such peer registered")
	}
	peer.mu.Lock()
	peerClosed := peer.closed
	peer.mu.Unlock()
	if peerClosed {
		return nil, peervault.NewConnectionFailed(peerID, "peer endpoint closed")
	}

	local, remote := newConnectionPair(e.id, peer.id)
	select {
	case peer.inbound <- remote:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return local, nil
}

func (e *Endpoint) Ticket() (string, error) { return e.id.String(), nil }
func (e *Endpoint) NodeId() [32]byte        { return [32]byte(e.id) }

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.registry.unregister(e)
	close(e.inbound)
	return nil
}

// Connection is an in-memory relay.Connection: streams are delivered
// through a channel, mirroring the Accept/Open split of a real
// multiplexed transport.
type Connection struct {
	localID, remoteID peervault.NodeId
	inbound           chan relay.Stream
	openRequests      chan relay.Stream

	mu     sync.Mutex
	closed bool
}

func newConnectionPair(localID, remoteID peervault.NodeId) (local, remote *Connection) {
	ab := make(chan relay.Stream, 16)
	ba := make(chan relay.Stream, 16)
	local = &Connection{localID: localID, remoteID: remoteID, inbound: ba}
	remote = &Connection{localID: remoteID, remoteID: localID, inbound: ab}
	local.openRequests = ab
	remote.openRequests = ba
	return local, remote
}

func (c *Connection) OpenStream(ctx context.Context) (relay.Stream, error) {
	a, b := NewStreamPair()
	select {
	case c.openRequests <- b:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a, nil
}

func (c *Connection) AcceptStream(ctx context.Context) (relay.Stream, error) {
	select {
	case s, ok := <-c.inbound:
		if !ok {
			return nil, fmt.Errorf("mocktransport: connection closed")
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) RemoteNodeId() [32]byte { return [32]byte(c.remoteID) }

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return nil
}

// Stream is an in-memory relay.Stream with configurable latency and
// failure injection, for the fault-tolerance scenarios in spec §8 (S2,
// S5): SimulateDisconnect/SimulatePartition sever a live stream the way a
// dropped relay connection would, without tearing down the test process.
type Stream struct {
	peer *Stream

	mu        sync.Mutex
	inbox     chan []byte
	closed    bool
	latency   time.Duration
	failAfter int
	sentCount int
	stats     peervault.ConnectionStats
}

// NewStreamPair returns two Streams, each other's peer.
func NewStreamPair() (*Stream, *Stream) {
	a := &Stream{inbox: make(chan []byte, 64)}
	b := &Stream{inbox: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

// WithLatency delays every Send by d before the peer observes it.
func (s *Stream) WithLatency(d time.Duration) *Stream {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
	return s
}

// WithFailAfter makes the n+1th Send return an error, for testing
// mid-stream failure handling.
func (s *Stream) WithFailAfter(n int) *Stream {
	s.mu.Lock()
	s.failAfter = n
	s.mu.Unlock()
	return s
}

func (s *Stream) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return peervault.NewStreamClosed("mock", nil)
	}
	if s.failAfter > 0 && s.sentCount >= s.failAfter {
		s.mu.Unlock()
		return fmt.Errorf("mocktransport: simulated send failure after %d messages", s.failAfter)
	}
	s.sentCount++
	s.stats.MessagesSent++
	s.stats.BytesSent += uint64(len(data))
	latency := s.latency
	peer := s.peer
	s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	deliver := func() {
		peer.mu.Lock()
		if peer.closed {
			peer.mu.Unlock()
			return
		}
		peer.stats.MessagesReceived++
		peer.stats.BytesReceived += uint64(len(cp))
		peer.mu.Unlock()
		select {
		case peer.inbox <- cp:
		default:
		}
	}
	if latency > 0 {
		go func() {
			time.Sleep(latency)
			deliver()
		}()
		return nil
	}
	deliver()
	return nil
}

func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.inbox:
		if !ok {
			return nil, peervault.NewStreamClosed("mock", nil)
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// SimulateDisconnect closes the stream without a graceful handshake, the
// way an unplugged connection would.
func (s *Stream) SimulateDisconnect() {
	s.Close()
}

// SimulatePartition is SimulateDisconnect applied to both ends, modeling
// a network partition where neither side can signal the other.
func (s *Stream) SimulatePartition() {
	s.Close()
	s.peer.Close()
}

// SimulateReconnect undoes SimulateDisconnect/SimulatePartition, reopening
// both ends of the pair so a test can exercise retry/recovery logic after
// a simulated outage (spec §4.9, §8).
func (s *Stream) SimulateReconnect() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	s.peer.mu.Lock()
	s.peer.closed = false
	s.peer.mu.Unlock()
}

// Stats returns a snapshot of this stream's traffic counters.
func (s *Stream) Stats() peervault.ConnectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
