package webrtcpeer

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/robcohen/peervault"
)

// Stats is a diagnostics snapshot pulled from pion's GetStats(), reduced
// to the fields spec §4.12's Connection.Stats() surfaces.
type Stats struct {
	RTTMillis      int64
	ConnectionType peervault.ConnectionType
}

// candidatePairType classifies the selected ICE candidate pair the same
// way the teacher's metrics collector does: host/srflx/prflx local and
// remote candidates both mean a direct path, anything touching a relay
// (TURN) candidate on either side is "mixed" per spec §9 Open Question 2.
func candidatePairType(local, remote webrtc.ICECandidateType) peervault.ConnectionType {
	if local == webrtc.ICECandidateTypeRelay || remote == webrtc.ICECandidateTypeRelay {
		return peervault.ConnectionTypeMixed
	}
	return peervault.ConnectionTypeDirect
}

// GetStats walks pion's StatsReport to find the currently nominated
// candidate pair and its RTT, falling back to ConnectionTypeDirect with a
// zero RTT if no pair has been selected yet (e.g. mid-negotiation).
func (p *Peer) GetStats(ctx context.Context) Stats {
	report := p.pc.GetStats()

	var selectedPair *webrtc.ICECandidatePairStats
	for _, s := range report {
		if pair, ok := s.(webrtc.ICECandidatePairStats); ok && pair.Nominated {
			pairCopy := pair
			selectedPair = &pairCopy
			break
		}
	}
	if selectedPair == nil {
		return Stats{ConnectionType: peervault.ConnectionTypeDirect}
	}

	var localType, remoteType webrtc.ICECandidateType
	if local, ok := report[selectedPair.LocalCandidateID].(webrtc.ICECandidateStats); ok {
		localType = webrtc.ICECandidateType(local.CandidateType)
	}
	if remote, ok := report[selectedPair.RemoteCandidateID].(webrtc.ICECandidateStats); ok {
		remoteType = webrtc.ICECandidateType(remote.CandidateType)
	}

	return Stats{
		RTTMillis:      int64(selectedPair.CurrentRoundTripTime * 1000),
		ConnectionType: candidatePairType(localType, remoteType),
	}
}
