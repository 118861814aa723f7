package mocktransport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run both "sides" in the same process against a real
// httptest.Server and real websocket connections, exercising the same
// wire protocol two independent test binaries would use (spec §4.9);
// only the process boundary itself isn't reproduced here.

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRemoteEndpointConnectAndStreamRoundTrip(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	var idA, idB peervault.NodeId
	idA[0], idB[0] = 0xA, 0xB

	a, err := DialHub(wsURL(server), idA)
	require.NoError(t, err)
	defer a.Close()
	b, err := DialHub(wsURL(server), idB)
	require.NoError(t, err)
	defer b.Close()

	time.Sleep(20 * time.Millisecond) // let both join the hub before dialing

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptCh := make(chan relay.Connection, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := b.Accept(ctx)
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- conn
	}()

	connA, err := a.Dial(ctx, idB.String(), peervault.ALPN)
	require.NoError(t, err)

	var connB relay.Connection
	select {
	case connB = <-acceptCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("b never accepted the inbound connection")
	}

	streamA, err := connA.OpenStream(ctx)
	require.NoError(t, err)

	streamB, err := connB.AcceptStream(ctx)
	require.NoError(t, err)

	require.NoError(t, streamA.Send(ctx, []byte("cross-process hello")))
	msg, err := streamB.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("cross-process hello"), msg)
}

func TestRemoteEndpointDialToUnknownPeerTimesOut(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	var idA, idB peervault.NodeId
	idA[0], idB[0] = 0xC, 0xD

	a, err := DialHub(wsURL(server), idA)
	require.NoError(t, err)
	defer a.Close()
	b, err := DialHub(wsURL(server), idB)
	require.NoError(t, err)
	defer b.Close()

	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// b never calls Accept, so its readLoop still auto-accepts at the
	// protocol level (accept/reject policy lives above this mock); this
	// test instead confirms a dial to an id nobody is listening for times
	// out rather than panicking.
	var nobody peervault.NodeId
	nobody[0] = 0xFF
	_, err = a.Dial(ctx, nobody.String(), peervault.ALPN)
	require.Error(t, err)
}
