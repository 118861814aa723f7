// Package webrtcpeer drives a single pion PeerConnection through offer/
// answer/ICE negotiation and exposes its DataChannel as the transport's
// direct path once connected (spec §4.5). Candidate queuing before the
// remote description is set and ICE-connection-state classification
// follow the teacher's createPeerConnection/setupPeerEventHandlers shape.
package webrtcpeer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/robcohen/peervault"
)

// DataChannelLabel is the single data channel every direct connection
// opens; application streams are then framed and multiplexed over it the
// same way they would be over a relay stream.
const DataChannelLabel = "peervault-main"

// Peer wraps one pion PeerConnection plus its single DataChannel.
type Peer struct {
	logger peervault.Logger

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	dc                *webrtc.DataChannel
	pendingCandidates []webrtc.ICECandidateInit
	remoteSet         bool
	onOpen            func(*webrtc.DataChannel)
	onStateChange     func(webrtc.PeerConnectionState)
	onLocalCandidate  func(candidate, sdpMid string, sdpMLineIndex int32)
}

// Config carries the ICE servers used to build the PeerConnection.
type Config struct {
	ICEServers []peervault.ICEServer
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("webrtcpeer: register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)), nil
}

func toICEServers(servers []peervault.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// New creates a PeerConnection with the default interceptor set, matching
// the teacher's createPeerConnection.
func New(cfg Config, logger peervault.Logger) (*Peer, error) {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: toICEServers(cfg.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("webrtcpeer: new peer connection: %w", err)
	}
	p := &Peer{logger: logger, pc: pc}
	p.setupEventHandlers()
	return p, nil
}

func (p *Peer) setupEventHandlers() {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("webrtcpeer: connection state change", "state", state.String())
		p.mu.Lock()
		cb := p.onStateChange
		p.mu.Unlock()
		if cb != nil {
			cb(state)
		}
	})
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		p.dc = dc
		onOpen := p.onOpen
		p.mu.Unlock()
		dc.OnOpen(func() {
			if onOpen != nil {
				onOpen(dc)
			}
		})
	})
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.logger.Debugw("webrtcpeer: local ice candidate", "candidate", init.Candidate)
		var sdpMid string
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		mLineIndex := int32(-1)
		if init.SDPMLineIndex != nil {
			mLineIndex = int32(*init.SDPMLineIndex)
		}
		p.mu.Lock()
		cb := p.onLocalCandidate
		p.mu.Unlock()
		if cb != nil {
			cb(init.Candidate, sdpMid, mLineIndex)
		}
	})
}

// OnDataChannelOpen registers the callback run when a remote-offered data
// channel (answerer side) opens.
func (p *Peer) OnDataChannelOpen(fn func(*webrtc.DataChannel)) {
	p.mu.Lock()
	p.onOpen = fn
	p.mu.Unlock()
}

// OnConnectionStateChange registers the callback run on every ICE/DTLS
// state transition, used by internal/hybrid to drive its upgrade state
// machine.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onStateChange = fn
	p.mu.Unlock()
}

// OnLocalICECandidate registers the callback run every time the local ICE
// agent gathers a new candidate, already split into the candidate/sdpMid/
// sdpMLineIndex fields the signaling codec's IceCandidate TLV payload
// carries (spec §4.1). sdpMLineIndex is -1 when pion reports no m-line
// association, matching the TLV's absence sentinel.
func (p *Peer) OnLocalICECandidate(fn func(candidate, sdpMid string, sdpMLineIndex int32)) {
	p.mu.Lock()
	p.onLocalCandidate = fn
	p.mu.Unlock()
}

// CreateOffer creates the local DataChannel, builds an offer, sets it as
// the local description, and returns its SDP text (offerer side).
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	dc, err := p.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return "", fmt.Errorf("webrtcpeer: create data channel: %w", err)
	}
	p.mu.Lock()
	p.dc = dc
	onOpen := p.onOpen
	p.mu.Unlock()
	dc.OnOpen(func() {
		if onOpen != nil {
			onOpen(dc)
		}
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcpeer: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtcpeer: set local description: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer sets remoteSDP as the remote description, then creates and
// sets the local answer (answerer side).
func (p *Peer) CreateAnswer(ctx context.Context, remoteSDP string) (string, error) {
	if err := p.SetRemoteDescription(webrtc.SDPTypeOffer, remoteSDP); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcpeer: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtcpeer: set local description: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteDescription applies the remote SDP and flushes any ICE
// candidates that arrived before it (spec §4.5 candidate-queuing note).
func (p *Peer) SetRemoteDescription(sdpType webrtc.SDPType, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return fmt.Errorf("webrtcpeer: set remote description: %w", err)
	}
	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.remoteSet = true
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warnw("webrtcpeer: failed to add queued ice candidate", "error", err)
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate (decoded from the signaling
// codec's IceCandidate TLV payload) immediately if the remote description
// is already set, or queues it otherwise (spec §4.5 candidate-queuing
// note). sdpMLineIndex of -1 (the TLV's absence sentinel) is passed to
// pion as a nil *uint16, its own absence convention.
func (p *Peer) AddICECandidate(candidate, sdpMid string, sdpMLineIndex int32) error {
	c := webrtc.ICECandidateInit{Candidate: candidate}
	if sdpMid != "" {
		c.SDPMid = &sdpMid
	}
	if sdpMLineIndex >= 0 {
		v := uint16(sdpMLineIndex)
		c.SDPMLineIndex = &v
	}
	p.mu.Lock()
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("webrtcpeer: add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) DataChannel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

func (p *Peer) Close() error {
	return p.pc.Close()
}
