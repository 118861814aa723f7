package hybrid

import (
	"context"
)

// streamLike is the Send/Receive/Close/IsOpen surface shared by a
// relay.Stream and a *demux.Stream (the replay-wrapped stream demux hands
// back once it has peeked a stream's first message), letting one adapter
// serve both without internal/hybrid caring which one it got.
type streamLike interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool
}

// relayRawChannel adapts a streamLike (a raw, boundary-less QUIC-backed
// stream, or a demux replay wrapper around one) to the framing.RawChannel
// interface so it can be wrapped by internal/framing the same way a WebRTC
// DataChannel is. Relay streams carry no bufferedAmount concept of their
// own, so BufferedAmount always reports zero: backpressure on the relay
// path is the relay library's problem, not this layer's.
type relayRawChannel struct {
	stream streamLike
}

func wrapRelayStream(s streamLike) *relayRawChannel {
	return &relayRawChannel{stream: s}
}

func (c *relayRawChannel) Send(ctx context.Context, data []byte) error { return c.stream.Send(ctx, data) }
func (c *relayRawChannel) Receive(ctx context.Context) ([]byte, error) { return c.stream.Receive(ctx) }
func (c *relayRawChannel) Close() error                                { return c.stream.Close() }
func (c *relayRawChannel) IsOpen() bool                                { return c.stream.IsOpen() }
func (c *relayRawChannel) BufferedAmount() uint64                      { return 0 }
