package mocktransport

import (
	"context"
	"testing"
	"time"

	"github.com/robcohen/peervault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialConnectsTwoRegisteredEndpoints(t *testing.T) {
	registry := NewRegistry()
	var idA, idB peervault.NodeId
	idA[0], idB[0] = 1, 2
	a := NewEndpoint(registry, idA)
	b := NewEndpoint(registry, idB)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acceptDone := make(chan error, 1)
	go func() {
		_, err := b.Accept(ctx)
		acceptDone <- err
	}()

	ticket, err := b.Ticket()
	require.NoError(t, err)
	conn, err := a.Dial(ctx, ticket, peervault.ALPN)
	require.NoError(t, err)
	assert.Equal(t, idB, peervault.NodeId(conn.RemoteNodeId()))

	require.NoError(t, <-acceptDone)
}

func TestDialFailsForUnregisteredTicket(t *testing.T) {
	registry := NewRegistry()
	var idA peervault.NodeId
	idA[0] = 1
	a := NewEndpoint(registry, idA)
	defer a.Close()

	var stranger peervault.NodeId
	stranger[0] = 0xFF
	_, err := a.Dial(context.Background(), stranger.String(), peervault.ALPN)
	require.Error(t, err)
}

func TestOpenAcceptStreamRoundTrip(t *testing.T) {
	registry := NewRegistry()
	var idA, idB peervault.NodeId
	idA[0], idB[0] = 3, 4
	a := NewEndpoint(registry, idA)
	b := NewEndpoint(registry, idB)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	acceptConnDone := make(chan error, 1)
	connBCh := make(chan *Connection, 1)
	go func() {
		c, err := b.Accept(ctx)
		if err == nil {
			connBCh <- c.(*Connection)
		}
		acceptConnDone <- err
	}()

	ticket, err := b.Ticket()
	require.NoError(t, err)
	connA, err := a.Dial(ctx, ticket, peervault.ALPN)
	require.NoError(t, err)
	require.NoError(t, <-acceptConnDone)
	connB := <-connBCh

	streamA, err := connA.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, streamA.Send(ctx, []byte("hello from a")))

	streamB, err := connB.AcceptStream(ctx)
	require.NoError(t, err)
	msg, err := streamB.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello from a"), msg)
}

func TestStreamSimulatePartitionClosesBothEnds(t *testing.T) {
	a, b := NewStreamPair()
	assert.True(t, a.IsOpen())
	assert.True(t, b.IsOpen())

	a.SimulatePartition()
	assert.False(t, a.IsOpen())
	assert.False(t, b.IsOpen())
}

func TestStreamSimulateReconnectReopensBothEnds(t *testing.T) {
	a, b := NewStreamPair()
	a.SimulatePartition()
	require.False(t, a.IsOpen())
	require.False(t, b.IsOpen())

	a.SimulateReconnect()
	assert.True(t, a.IsOpen())
	assert.True(t, b.IsOpen())

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("back online")))
	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("back online"), msg)
}

func TestStreamWithFailAfterFailsSubsequentSends(t *testing.T) {
	a, _ := NewStreamPair()
	a.WithFailAfter(1)
	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("first")))
	require.Error(t, a.Send(ctx, []byte("second")))
}

func TestStreamTracksStats(t *testing.T) {
	a, b := NewStreamPair()
	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("12345")))
	time.Sleep(10 * time.Millisecond)

	statsA := a.Stats()
	assert.Equal(t, uint64(1), statsA.MessagesSent)
	assert.Equal(t, uint64(5), statsA.BytesSent)

	_, err := b.Receive(ctx)
	require.NoError(t, err)
	statsB := b.Stats()
	assert.Equal(t, uint64(1), statsB.MessagesReceived)
	assert.Equal(t, uint64(5), statsB.BytesReceived)
}
