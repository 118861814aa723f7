package peervault_test

import (
	"testing"

	"github.com/robcohen/peervault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIdStringRoundTripsThroughParseNodeId(t *testing.T) {
	var id peervault.NodeId
	for i := range id {
		id[i] = byte(i)
	}

	parsed, err := peervault.ParseNodeId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNodeIdIsZero(t *testing.T) {
	var zero peervault.NodeId
	assert.True(t, zero.IsZero())

	nonZero := zero
	nonZero[0] = 1
	assert.False(t, nonZero.IsZero())
}

func TestParseNodeIdRejectsWrongLength(t *testing.T) {
	_, err := peervault.ParseNodeId("abcd")
	assert.Error(t, err)
}

func TestParseNodeIdRejectsNonHex(t *testing.T) {
	_, err := peervault.ParseNodeId("not-hex-not-hex-not-hex-not-hex-not-hex-not-hex")
	assert.Error(t, err)
}

func TestConnectionStateString(t *testing.T) {
	cases := map[peervault.ConnectionState]string{
		peervault.ConnectionConnecting:    "connecting",
		peervault.ConnectionConnected:     "connected",
		peervault.ConnectionError:         "error",
		peervault.ConnectionDisconnected:  "disconnected",
		peervault.ConnectionState(99):     "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestConnectionTypeString(t *testing.T) {
	cases := map[peervault.ConnectionType]string{
		peervault.ConnectionTypeDirect: "direct",
		peervault.ConnectionTypeRelay:  "relay",
		peervault.ConnectionTypeMixed:  "mixed",
		peervault.ConnectionTypeNone:   "none",
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.String())
	}
}

func TestStreamStateString(t *testing.T) {
	assert.Equal(t, "open", peervault.StreamOpen.String())
	assert.Equal(t, "closed", peervault.StreamClosed.String())
}
