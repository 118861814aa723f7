package peervault_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/mocktransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a SecretStore that never touches disk, for exercising
// LoadOrCreateSecretKey without a filesystem.
type memStore struct {
	key   peervault.SecretKey
	saved bool
}

func (s *memStore) Load() (peervault.SecretKey, error) {
	if !s.saved {
		return peervault.SecretKey{}, os.ErrNotExist
	}
	return s.key, nil
}

func (s *memStore) Save(key peervault.SecretKey) error {
	s.key = key
	s.saved = true
	return nil
}

type brokenStore struct{}

func (brokenStore) Load() (peervault.SecretKey, error) {
	return peervault.SecretKey{}, errors.New("disk on fire")
}
func (brokenStore) Save(peervault.SecretKey) error { return nil }

func fixedRandom(fill byte) func([]byte) error {
	return func(b []byte) error {
		for i := range b {
			b[i] = fill
		}
		return nil
	}
}

func TestLoadOrCreateSecretKeyGeneratesOnFirstCall(t *testing.T) {
	store := &memStore{}
	cfg := peervault.Config{Store: store}

	key, err := peervault.LoadOrCreateSecretKey(cfg, fixedRandom(0x42))
	require.NoError(t, err)
	assert.Equal(t, peervault.SecretKey{0x42, 0x42, 0x42}, truncate(key))
	assert.True(t, store.saved)
}

func TestLoadOrCreateSecretKeyReusesPersistedKey(t *testing.T) {
	store := &memStore{}
	cfg := peervault.Config{Store: store}

	first, err := peervault.LoadOrCreateSecretKey(cfg, fixedRandom(0x01))
	require.NoError(t, err)

	second, err := peervault.LoadOrCreateSecretKey(cfg, fixedRandom(0xFF))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateSecretKeyPropagatesNonNotExistErrors(t *testing.T) {
	cfg := peervault.Config{Store: brokenStore{}}
	_, err := peervault.LoadOrCreateSecretKey(cfg, fixedRandom(0x01))
	require.Error(t, err)
}

func truncate(k peervault.SecretKey) peervault.SecretKey {
	var out peervault.SecretKey
	copy(out[:3], k[:3])
	return out
}

func testConfig() peervault.Config {
	cfg := peervault.DefaultConfig()
	cfg.WebRTC.Enabled = false
	cfg.Logger = peervault.NewNoopLogger()
	cfg.BackpressurePollInterval = time.Millisecond
	cfg.BackpressureTimeout = time.Second
	return cfg
}

// TestTransportConnectOpenStreamRoundTrip exercises the whole public facade
// end to end over the in-memory mock transport: two Transports dial each
// other, exchange a stream, and see consistent ConnectionType/RemoteNodeId
// once WebRTC upgrade is disabled.
func TestTransportConnectOpenStreamRoundTrip(t *testing.T) {
	registry := mocktransport.NewRegistry()
	var idA, idB peervault.NodeId
	idA[0], idB[0] = 1, 2
	endpointA := mocktransport.NewEndpoint(registry, idA)
	endpointB := mocktransport.NewEndpoint(registry, idB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transportA, err := peervault.New(ctx, testConfig(), endpointA)
	require.NoError(t, err)
	defer transportA.Shutdown()

	transportB, err := peervault.New(ctx, testConfig(), endpointB)
	require.NoError(t, err)
	defer transportB.Shutdown()

	inbound := make(chan *peervault.Connection, 1)
	sub := transportB.OnConnection(func(c *peervault.Connection) {
		inbound <- c
	})
	defer sub.Unsubscribe()

	ticketB, err := transportB.Ticket()
	require.NoError(t, err)

	connA, err := transportA.Connect(ctx, ticketB)
	require.NoError(t, err)
	assert.Equal(t, idB, connA.RemoteNodeId())
	assert.Equal(t, peervault.ConnectionTypeRelay, connA.ConnectionType())
	assert.False(t, connA.IsUpgraded())
	assert.Equal(t, peervault.ConnectionTypeRelay, connA.Stats(ctx).ConnectionType)

	var connB *peervault.Connection
	select {
	case connB = <-inbound:
	case <-time.After(time.Second):
		t.Fatal("transportB never observed the inbound connection")
	}
	assert.Equal(t, idA, connB.RemoteNodeId())

	streamA, err := connA.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, streamA.Send(ctx, []byte("hello from a")))

	acceptCtx, acceptCancel := context.WithTimeout(ctx, time.Second)
	defer acceptCancel()
	streamB, err := connB.AcceptStream(acceptCtx)
	require.NoError(t, err)

	msg, err := streamB.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello from a"), msg)

	require.NoError(t, streamA.Close())
	require.NoError(t, streamB.Close())
}

// TestTransportOnConnectionBacklogsBeforeSubscriber confirms a connection
// established before any OnConnection handler is registered is queued
// rather than dropped, matching the single-owner-with-backlog pattern used
// throughout the internal layers.
func TestTransportOnConnectionBacklogsBeforeSubscriber(t *testing.T) {
	registry := mocktransport.NewRegistry()
	var idA, idB peervault.NodeId
	idA[0], idB[0] = 3, 4
	endpointA := mocktransport.NewEndpoint(registry, idA)
	endpointB := mocktransport.NewEndpoint(registry, idB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transportA, err := peervault.New(ctx, testConfig(), endpointA)
	require.NoError(t, err)
	defer transportA.Shutdown()

	transportB, err := peervault.New(ctx, testConfig(), endpointB)
	require.NoError(t, err)
	defer transportB.Shutdown()

	ticketB, err := transportB.Ticket()
	require.NoError(t, err)

	_, err = transportA.Connect(ctx, ticketB)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // let transportB's accept loop observe it

	inbound := make(chan *peervault.Connection, 1)
	transportB.OnConnection(func(c *peervault.Connection) { inbound <- c })

	select {
	case c := <-inbound:
		assert.Equal(t, idA, c.RemoteNodeId())
	case <-time.After(time.Second):
		t.Fatal("backlogged connection was never delivered")
	}
}

func TestSubscriptionUnsubscribeIsIdempotent(t *testing.T) {
	registry := mocktransport.NewRegistry()
	var id peervault.NodeId
	id[0] = 5
	endpoint := mocktransport.NewEndpoint(registry, id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := peervault.New(ctx, testConfig(), endpoint)
	require.NoError(t, err)
	defer transport.Shutdown()

	sub := transport.OnConnection(func(*peervault.Connection) {})
	assert.NotPanics(t, func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
}
