// Package demux classifies a freshly opened stream as carrying signaling
// traffic or application traffic by peeking its first message, then hands
// back a wrapper that replays that peeked message before any further
// reads reach the underlying stream (spec §4.8). No bytes are consumed or
// duplicated. Classify blocks until the stream's first message arrives; if
// that first Receive fails, no wrapper is returned.
package demux

import (
	"context"

	"github.com/robcohen/peervault/internal/signaling"
)

// Class identifies what a stream's first message looks like.
type Class int

const (
	ClassApplication Class = iota
	ClassSignaling
)

func (c Class) String() string {
	if c == ClassSignaling {
		return "signaling"
	}
	return "application"
}

// RawStream is the minimal surface demux needs: something it can Receive
// one message from and then wrap.
type RawStream interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close() error
	IsOpen() bool
}

// Classify reads the first message off raw, determines its Class from the
// signaling magic prefix, and returns a Stream that will return that first
// message again on its own first Receive call — so the peek is invisible
// to whichever consumer (signaling handler or application demultiplexed
// stream) ends up owning it.
func Classify(ctx context.Context, raw RawStream) (Class, *Stream, error) {
	first, err := raw.Receive(ctx)
	if err != nil {
		return ClassApplication, nil, err
	}
	class := ClassApplication
	if signaling.HasMagic(first) {
		class = ClassSignaling
	}
	return class, newReplayStream(raw, first), nil
}

// Stream replays one previously-received message ahead of raw's own
// stream of messages.
type Stream struct {
	raw      RawStream
	peeked   []byte
	replayed bool
}

func newReplayStream(raw RawStream, peeked []byte) *Stream {
	return &Stream{raw: raw, peeked: peeked}
}

func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	if !s.replayed {
		s.replayed = true
		return s.peeked, nil
	}
	return s.raw.Receive(ctx)
}

func (s *Stream) Send(ctx context.Context, data []byte) error { return s.raw.Send(ctx, data) }
func (s *Stream) Close() error                                { return s.raw.Close() }
func (s *Stream) IsOpen() bool                                { return s.raw.IsOpen() }
