package webrtcpeer

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/robcohen/peervault"
	"github.com/stretchr/testify/assert"
)

func TestCandidatePairTypeDirectWhenBothEndsAreNotRelay(t *testing.T) {
	got := candidatePairType(webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx)
	assert.Equal(t, peervault.ConnectionTypeDirect, got)
}

func TestCandidatePairTypeMixedWhenEitherEndIsRelay(t *testing.T) {
	assert.Equal(t, peervault.ConnectionTypeMixed, candidatePairType(webrtc.ICECandidateTypeRelay, webrtc.ICECandidateTypeHost))
	assert.Equal(t, peervault.ConnectionTypeMixed, candidatePairType(webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeRelay))
}

func TestToICEServersTranslatesFields(t *testing.T) {
	servers := []peervault.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	}
	got := toICEServers(servers)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, got[0].URLs)
	assert.Equal(t, "u", got[1].Username)
	assert.Equal(t, "p", got[1].Credential)
}
