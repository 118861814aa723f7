// Package relay declares the opaque capability this layer needs from a
// relay/hole-punching endpoint (an Iroh-style node). No concrete
// implementation lives here: wiring a real endpoint is the embedder's job,
// and the mock transport in internal/mocktransport exists for tests that
// don't have one.
package relay

import "context"

// Endpoint is the capability a relay client library must provide: dial a
// peer by ticket, accept inbound connections, and produce a ticket other
// peers can dial.
type Endpoint interface {
	// Accept blocks until an inbound connection arrives or ctx is done.
	Accept(ctx context.Context) (Connection, error)

	// Dial opens a connection to the peer described by ticket.
	Dial(ctx context.Context, ticket string, alpn string) (Connection, error)

	// Ticket returns a printable ticket other peers can pass to Dial to
	// reach this endpoint.
	Ticket() (string, error)

	// NodeId returns this endpoint's 32-byte public identity.
	NodeId() [32]byte

	// Close shuts the endpoint down, failing any in-flight Accept/Dial.
	Close() error
}

// Connection is a single authenticated peer connection capable of opening
// and accepting bidirectional streams.
type Connection interface {
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	RemoteNodeId() [32]byte
	Close() error
}

// Stream is a bidirectional byte stream multiplexed over a Connection.
type Stream interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool
}
