package mocktransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/relay"
)

// wireMessage is the broadcast envelope two test processes exchange over
// the hub's websocket connection. Payload is base64 so arbitrary stream
// bytes survive the JSON envelope unchanged.
type wireMessage struct {
	RequestId string `json:"request_id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	StreamId  string `json:"stream_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

const (
	msgConnectRequest = "connect-request"
	msgConnectAccept  = "accept"
	msgConnectReject  = "reject"
	msgStreamOpen     = "stream-open"
	msgStreamOpened   = "opened"
	msgStreamData     = "data"
	msgStreamClose    = "close"
	msgDisconnect     = "disconnect"
)

// Hub is a tiny websocket broadcast server standing in for the relay
// signaling service: every connected test process receives every
// message, and filters on To/From itself. Grounded on the teacher's
// websocket hub pattern, reduced to the single-room case a pair of test
// processes need.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub returns a Hub ready to be mounted with http.Handle.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.broadcast(conn, data)
	}
}

func (h *Hub) broadcast(sender *websocket.Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == sender {
			continue
		}
		c.WriteMessage(websocket.TextMessage, data)
	}
}

// RemoteEndpoint is a relay.Endpoint whose Accept/Dial traffic crosses a
// real websocket connection to a Hub, letting two separate test binaries
// exercise the hybrid connection and upgrade flow across a genuine
// process boundary (spec §4.9).
type RemoteEndpoint struct {
	id   peervault.NodeId
	conn *websocket.Conn

	mu            sync.Mutex
	pendingDials  map[string]chan dialResult
	pendingAccept chan *RemoteConnection
	streams       map[string]*RemoteStream
	connsByPeer   map[string]*RemoteConnection
	closed        bool
}

type dialResult struct {
	conn *RemoteConnection
	err  error
}

// DialHub connects to a Hub at url and returns a RemoteEndpoint identified
// by id.
func DialHub(url string, id peervault.NodeId) (*RemoteEndpoint, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("mocktransport: dial hub: %w", err)
	}
	e := &RemoteEndpoint{
		id:            id,
		conn:          conn,
		pendingDials:  make(map[string]chan dialResult),
		pendingAccept: make(chan *RemoteConnection, 8),
		streams:       make(map[string]*RemoteStream),
		connsByPeer:   make(map[string]*RemoteConnection),
	}
	go e.readLoop()
	return e, nil
}

func (e *RemoteEndpoint) readLoop() {
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.To != "" && msg.To != e.id.String() {
			continue
		}
		e.handle(msg)
	}
}

func (e *RemoteEndpoint) handle(msg wireMessage) {
	switch msg.Type {
	case msgConnectRequest:
		remoteID, err := peervault.ParseNodeId(msg.From)
		if err != nil {
			return
		}
		conn := newRemoteConnection(e, remoteID)
		e.mu.Lock()
		e.connsByPeer[msg.From] = conn
		e.mu.Unlock()
		e.send(wireMessage{RequestId: msg.RequestId, Type: msgConnectAccept, From: e.id.String(), To: msg.From})
		e.pendingAccept <- conn
	case msgConnectAccept:
		e.resolveDial(msg.RequestId, msg.From, nil)
	case msgConnectReject:
		e.resolveDial(msg.RequestId, "", fmt.Errorf("mocktransport: connection rejected: %s", msg.Reason))
	case msgStreamOpen, msgStreamOpened:
		e.mu.Lock()
		conn := e.connsByPeer[msg.From]
		e.mu.Unlock()
		if conn == nil {
			return
		}
		s := newRemoteStream(e, msg.From, msg.StreamId)
		e.mu.Lock()
		e.streams[msg.StreamId] = s
		e.mu.Unlock()
		conn.deliverStream(s)
	case msgStreamData:
		e.mu.Lock()
		s := e.streams[msg.StreamId]
		e.mu.Unlock()
		if s == nil {
			return
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Payload)
		if err != nil {
			return
		}
		s.deliver(payload)
	case msgStreamClose, msgDisconnect:
		e.mu.Lock()
		s := e.streams[msg.StreamId]
		e.mu.Unlock()
		if s != nil {
			s.markClosedByPeer()
		}
	}
}

func (e *RemoteEndpoint) resolveDial(requestID, from string, err error) {
	e.mu.Lock()
	ch, ok := e.pendingDials[requestID]
	delete(e.pendingDials, requestID)
	e.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		ch <- dialResult{err: err}
		return
	}
	remoteID, parseErr := peervault.ParseNodeId(from)
	if parseErr != nil {
		ch <- dialResult{err: parseErr}
		return
	}
	conn := newRemoteConnection(e, remoteID)
	e.mu.Lock()
	e.connsByPeer[from] = conn
	e.mu.Unlock()
	ch <- dialResult{conn: conn}
}

func (e *RemoteEndpoint) send(msg wireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.WriteMessage(websocket.TextMessage, data)
}

func (e *RemoteEndpoint) Accept(ctx context.Context) (relay.Connection, error) {
	select {
	case c := <-e.pendingAccept:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial sends a connect-request for ticket (a hex-encoded NodeId) and
// waits for the remote's accept/reject.
func (e *RemoteEndpoint) Dial(ctx context.Context, ticket string, alpn string) (relay.Connection, error) {
	reqID := uuid.NewString()
	ch := make(chan dialResult, 1)
	e.mu.Lock()
	e.pendingDials[reqID] = ch
	e.mu.Unlock()

	e.send(wireMessage{RequestId: reqID, Type: msgConnectRequest, From: e.id.String(), To: ticket})

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *RemoteEndpoint) Ticket() (string, error) { return e.id.String(), nil }
func (e *RemoteEndpoint) NodeId() [32]byte        { return [32]byte(e.id) }

func (e *RemoteEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}

// RemoteConnection is the relay.Connection half of the cross-process mock.
type RemoteConnection struct {
	endpoint *RemoteEndpoint
	remoteID peervault.NodeId

	mu      sync.Mutex
	inbound chan *RemoteStream
}

func newRemoteConnection(e *RemoteEndpoint, remoteID peervault.NodeId) *RemoteConnection {
	return &RemoteConnection{endpoint: e, remoteID: remoteID, inbound: make(chan *RemoteStream, 8)}
}

func (c *RemoteConnection) deliverStream(s *RemoteStream) {
	select {
	case c.inbound <- s:
	default:
	}
}

func (c *RemoteConnection) OpenStream(ctx context.Context) (relay.Stream, error) {
	streamID := uuid.NewString()
	s := newRemoteStream(c.endpoint, c.remoteID.String(), streamID)
	c.endpoint.mu.Lock()
	c.endpoint.streams[streamID] = s
	c.endpoint.mu.Unlock()
	c.endpoint.send(wireMessage{Type: msgStreamOpen, From: c.endpoint.id.String(), To: c.remoteID.String(), StreamId: streamID})
	return s, nil
}

func (c *RemoteConnection) AcceptStream(ctx context.Context) (relay.Stream, error) {
	select {
	case s := <-c.inbound:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RemoteConnection) RemoteNodeId() [32]byte { return [32]byte(c.remoteID) }
func (c *RemoteConnection) Close() error {
	c.endpoint.send(wireMessage{Type: msgDisconnect, From: c.endpoint.id.String(), To: c.remoteID.String()})
	return nil
}

// RemoteStream is the relay.Stream half of the cross-process mock.
type RemoteStream struct {
	endpoint *RemoteEndpoint
	peerID   string
	streamID string

	mu           sync.Mutex
	inbox        chan []byte
	closed       bool
	closedByPeer bool
}

func newRemoteStream(e *RemoteEndpoint, peerID, streamID string) *RemoteStream {
	return &RemoteStream{endpoint: e, peerID: peerID, streamID: streamID, inbox: make(chan []byte, 32)}
}

func (s *RemoteStream) deliver(data []byte) {
	select {
	case s.inbox <- data:
	default:
	}
}

func (s *RemoteStream) markClosedByPeer() {
	s.mu.Lock()
	s.closedByPeer = true
	s.mu.Unlock()
}

func (s *RemoteStream) Send(ctx context.Context, data []byte) error {
	if !s.IsOpen() {
		return peervault.NewStreamClosed(s.streamID, nil)
	}
	s.endpoint.send(wireMessage{
		Type:     msgStreamData,
		From:     s.endpoint.id.String(),
		To:       s.peerID,
		StreamId: s.streamID,
		Payload:  base64.StdEncoding.EncodeToString(data),
	})
	return nil
}

func (s *RemoteStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RemoteStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.endpoint.send(wireMessage{Type: msgStreamClose, From: s.endpoint.id.String(), To: s.peerID, StreamId: s.streamID})
	return nil
}

func (s *RemoteStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.closedByPeer
}
