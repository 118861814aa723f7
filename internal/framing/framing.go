// Package framing reassembls length-prefixed messages out of a raw,
// boundary-less byte stream and applies send-side backpressure by polling
// the underlying channel's buffered-amount counter (spec §4.2). It is the
// same mutex-guarded-buffer idiom the teacher uses in its audio streamer,
// generalized from fixed-size PCM chunks to arbitrary length-prefixed
// frames.
package framing

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/robcohen/peervault"
)

const lengthPrefixSize = 4

// RawChannel is the unframed, boundary-less transport FramedStream sits
// on top of: a relay stream or a WebRTC DataChannel, both of which only
// guarantee "some bytes arrived," not "one message arrived."
type RawChannel interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool

	// BufferedAmount reports how many bytes are queued to be sent but not
	// yet flushed to the wire. A RawChannel with no such notion (e.g. a
	// blocking stream) can always return 0.
	BufferedAmount() uint64
}

// Options tunes the backpressure polling loop.
type Options struct {
	MaxBufferedAmount uint64
	PollInterval      time.Duration
	Timeout           time.Duration
}

// DefaultOptions matches spec §4.2: 1 MiB high-water mark, 10ms polling,
// 30s timeout.
func DefaultOptions() Options {
	return Options{
		MaxBufferedAmount: 1 << 20,
		PollInterval:      10 * time.Millisecond,
		Timeout:           30 * time.Second,
	}
}

// MessageStream is the full-message Send/Receive/Close/IsOpen surface a
// Stream presents once framing has reassembled it. Anything else that
// already deals in whole messages (such as a demux replay wrapper around
// one) satisfies it too, so callers above this package can hold either
// without caring which.
type MessageStream interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool
}

// Stream reassembles length-prefixed frames out of raw reads from an
// underlying RawChannel and applies backpressure on the send path.
type Stream struct {
	id     string
	raw    RawChannel
	opts   Options
	logger peervault.Logger

	mu      sync.Mutex
	recvBuf bytes.Buffer
	inbox   chan []byte
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps raw with length-prefix framing. id identifies the stream in
// logs only. The returned Stream starts a background reader goroutine
// immediately and must be closed with Close.
func New(parentCtx context.Context, id string, raw RawChannel, opts Options, logger peervault.Logger) *Stream {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s := &Stream{
		id:     id,
		raw:    raw,
		opts:   opts,
		logger: logger,
		inbox:  make(chan []byte, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.inbox)
	for {
		chunk, err := s.raw.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debugw("framing: raw receive ended", "stream", s.id, "error", err)
			}
			return
		}
		s.mu.Lock()
		s.recvBuf.Write(chunk)
		frames := s.drainFrames()
		s.mu.Unlock()
		for _, f := range frames {
			select {
			case s.inbox <- f:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// drainFrames extracts every complete length-prefixed frame currently
// buffered. Caller holds s.mu.
func (s *Stream) drainFrames() [][]byte {
	var out [][]byte
	for {
		buf := s.recvBuf.Bytes()
		if len(buf) < lengthPrefixSize {
			return out
		}
		n := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
		if uint32(len(buf)-lengthPrefixSize) < n {
			return out
		}
		frame := make([]byte, n)
		copy(frame, buf[lengthPrefixSize:lengthPrefixSize+int(n)])
		s.recvBuf.Next(lengthPrefixSize + int(n))
		out = append(out, frame)
	}
}

// Send blocks until the frame has been handed to the underlying channel,
// applying backpressure when BufferedAmount exceeds the configured
// high-water mark. It returns a peervault.Error with kind
// ErrBackpressureTimeout if that wait exceeds opts.Timeout.
func (s *Stream) Send(ctx context.Context, payload []byte) error {
	if !s.IsOpen() {
		return peervault.NewStreamClosed(s.id, nil)
	}
	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	deadline := time.Now().Add(s.opts.Timeout)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for s.raw.BufferedAmount() > s.opts.MaxBufferedAmount {
		if time.Now().After(deadline) {
			return peervault.NewBackpressureTimeout(s.id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return peervault.NewStreamClosed(s.id, s.ctx.Err())
		case <-ticker.C:
		}
	}
	if err := s.raw.Send(ctx, frame); err != nil {
		return fmt.Errorf("framing: send on stream %s: %w", s.id, err)
	}
	return nil
}

// Receive returns the next complete frame, blocking until one arrives, ctx
// is done, or the stream closes.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.inbox:
		if !ok {
			return nil, peervault.NewStreamClosed(s.id, nil)
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, peervault.NewStreamClosed(s.id, s.ctx.Err())
	}
}

func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.raw.IsOpen()
}

// Close idempotently tears the stream down: cancels the reader goroutine
// and closes the underlying channel.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.raw.Close()
}
