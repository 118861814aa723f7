package framing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeChannel is a RawChannel backed by an in-process byte pipe, used to
// drive both ends of a Stream pair in tests without any network.
type pipeChannel struct {
	mu       sync.Mutex
	toPeer   chan []byte
	fromPeer chan []byte
	closed   bool
	buffered uint64
}

func newPipePair() (*pipeChannel, *pipeChannel) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &pipeChannel{toPeer: ab, fromPeer: ba}
	b := &pipeChannel{toPeer: ba, fromPeer: ab}
	return a, b
}

func (c *pipeChannel) Send(ctx context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.toPeer <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.fromPeer:
		if !ok {
			return nil, context.Canceled
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *pipeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *pipeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *pipeChannel) setBuffered(n uint64) {
	c.mu.Lock()
	c.buffered = n
	c.mu.Unlock()
}

func testOptions() Options {
	return Options{
		MaxBufferedAmount: 1 << 20,
		PollInterval:      time.Millisecond,
		Timeout:           time.Second,
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	rawA, rawB := newPipePair()
	a := New(ctx, "a", rawA, testOptions(), nil)
	b := New(ctx, "b", rawB, testOptions(), nil)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(ctx, []byte("hello")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestSendReceivePreservesMessageBoundaries(t *testing.T) {
	ctx := context.Background()
	rawA, rawB := newPipePair()
	a := New(ctx, "a", rawA, testOptions(), nil)
	b := New(ctx, "b", rawB, testOptions(), nil)
	defer a.Close()
	defer b.Close()

	messages := [][]byte{[]byte("one"), []byte(""), []byte("three-longer-message")}
	for _, m := range messages {
		require.NoError(t, a.Send(ctx, m))
	}
	for _, want := range messages {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSendAppliesBackpressureTimeout(t *testing.T) {
	ctx := context.Background()
	rawA, rawB := newPipePair()
	opts := testOptions()
	opts.MaxBufferedAmount = 10
	opts.Timeout = 20 * time.Millisecond
	a := New(ctx, "a", rawA, opts, nil)
	defer a.Close()
	defer rawB.Close()

	rawA.setBuffered(1 << 30)
	err := a.Send(ctx, []byte("too much backlog"))
	require.Error(t, err)
	assert.Equal(t, "BackpressureTimeout(stream=a)", err.Error())
}

func TestSendProceedsOnceBufferDrains(t *testing.T) {
	ctx := context.Background()
	rawA, rawB := newPipePair()
	opts := testOptions()
	opts.MaxBufferedAmount = 10
	a := New(ctx, "a", rawA, opts, nil)
	b := New(ctx, "b", rawB, opts, nil)
	defer a.Close()
	defer b.Close()

	rawA.setBuffered(1000)
	go func() {
		time.Sleep(5 * time.Millisecond)
		rawA.setBuffered(0)
	}()
	require.NoError(t, a.Send(ctx, []byte("payload")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestCloseIsIdempotentAndStopsReceive(t *testing.T) {
	ctx := context.Background()
	rawA, rawB := newPipePair()
	a := New(ctx, "a", rawA, testOptions(), nil)
	_ = New(ctx, "b", rawB, testOptions(), nil)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.False(t, a.IsOpen())

	_, err := a.Receive(ctx)
	require.Error(t, err)
}

func TestSendOnClosedStreamFails(t *testing.T) {
	ctx := context.Background()
	rawA, _ := newPipePair()
	a := New(ctx, "a", rawA, testOptions(), nil)
	require.NoError(t, a.Close())

	err := a.Send(ctx, []byte("x"))
	require.Error(t, err)
}
