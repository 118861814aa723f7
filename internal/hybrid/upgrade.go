package hybrid

import (
	"context"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/framing"
	"github.com/robcohen/peervault/internal/signaling"
	"github.com/robcohen/peervault/internal/webrtcpeer"
)

// signalingLoop reads signaling messages off stream for the lifetime of
// the connection and drives the upgrade state machine in response.
func (c *Connection) signalingLoop(stream framing.MessageStream) {
	for {
		wire, err := stream.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debugw("hybrid: signaling stream ended", "peer", c.remoteId, "error", err)
			}
			return
		}
		msg, err := signaling.Decode(wire)
		if err != nil {
			c.logger.Warnw("hybrid: dropping malformed signaling frame", "peer", c.remoteId, "error", err)
			continue
		}
		c.handleSignalingMessage(msg)
	}
}

func (c *Connection) handleSignalingMessage(msg signaling.Message) {
	switch msg.Kind {
	case signaling.KindUpgradeRequest:
		c.handleUpgradeRequest()
	case signaling.KindUpgradeAccept:
		c.handleUpgradeAccept()
	case signaling.KindUpgradeReject:
		c.handleUpgradeReject(string(msg.Payload))
	case signaling.KindOffer:
		c.handleOffer(string(msg.Payload))
	case signaling.KindAnswer:
		c.handleAnswer(string(msg.Payload))
	case signaling.KindIceCandidate:
		c.handleIceCandidate(msg.Payload)
	case signaling.KindReady:
		c.handleReady()
	}
}

// AttemptUpgrade is the initiator's entry point: it asks the remote peer
// whether it's willing to upgrade, and only proceeds to build a
// PeerConnection and offer once accepted. A single in-flight guard
// prevents two concurrent upgrade attempts on the same connection (spec
// §4.6 "single in-flight-upgrade guard").
func (c *Connection) AttemptUpgrade(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.mu.Lock()
	if c.state != NotUpgraded || c.upgradeInFlight {
		c.mu.Unlock()
		return nil
	}
	if !c.rejectedAt.IsZero() {
		if c.cfg.RetryCooldown <= 0 {
			c.mu.Unlock()
			return nil
		}
		if time.Since(c.rejectedAt) < c.cfg.RetryCooldown {
			c.mu.Unlock()
			return nil
		}
	}
	c.upgradeInFlight = true
	c.state = Signaling
	c.mu.Unlock()

	if err := c.OpenSignalingStream(ctx); err != nil {
		c.abortUpgrade()
		return err
	}
	if err := c.sendSignaling(ctx, signaling.UpgradeRequest(uint64(nowMillis()))); err != nil {
		c.abortUpgrade()
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.SignalingTimeout)
	defer cancel()
	<-timeoutCtx.Done()
	c.mu.Lock()
	stillSignaling := c.state == Signaling
	c.mu.Unlock()
	if stillSignaling {
		c.logger.Warnw("hybrid: upgrade timed out waiting for peer response", "peer", c.remoteId)
		c.abortUpgrade()
		return peervault.NewUpgradeTimeout(c.remoteId)
	}
	return nil
}

func (c *Connection) abortUpgrade() {
	c.mu.Lock()
	c.upgradeInFlight = false
	if c.state == Signaling {
		c.state = NotUpgraded
	}
	c.mu.Unlock()
}

func (c *Connection) handleUpgradeRequest() {
	c.mu.Lock()
	alreadyBusy := c.state != NotUpgraded
	c.mu.Unlock()

	ctx := c.ctx
	if !c.cfg.Enabled || alreadyBusy {
		c.sendSignaling(ctx, signaling.UpgradeReject(uint64(nowMillis()), "upgrade unavailable"))
		return
	}

	c.mu.Lock()
	c.state = Signaling
	c.mu.Unlock()

	if err := c.setupWebRTCPeer(); err != nil {
		c.logger.Warnw("hybrid: failed to prepare webrtc peer for incoming upgrade", "peer", c.remoteId, "error", err)
		c.sendSignaling(ctx, signaling.UpgradeReject(uint64(nowMillis()), "local webrtc setup failed"))
		c.abortUpgrade()
		return
	}
	c.sendSignaling(ctx, signaling.UpgradeAccept(uint64(nowMillis())))
}

// handleUpgradeAccept runs on the initiator once the peer agrees to
// upgrade: it builds its own PeerConnection, creates an offer, and sends
// it over the signaling stream.
func (c *Connection) handleUpgradeAccept() {
	ctx := c.ctx
	if err := c.setupWebRTCPeer(); err != nil {
		c.logger.Warnw("hybrid: failed to prepare webrtc peer after accept", "peer", c.remoteId, "error", err)
		c.abortUpgrade()
		return
	}
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	sdp, err := wp.CreateOffer(ctx)
	if err != nil {
		c.logger.Warnw("hybrid: failed to create offer", "peer", c.remoteId, "error", err)
		c.abortUpgrade()
		return
	}
	c.sendSignaling(ctx, signaling.Offer(uint64(nowMillis()), sdp))
}

func (c *Connection) handleUpgradeReject(reason string) {
	c.mu.Lock()
	c.state = NotUpgraded
	c.upgradeInFlight = false
	c.rejectedAt = time.Now()
	c.mu.Unlock()
	c.logger.Infow("hybrid: upgrade rejected by peer", "peer", c.remoteId, "reason", reason)
}

func (c *Connection) handleOffer(sdp string) {
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	if wp == nil {
		c.logger.Warnw("hybrid: received offer with no local webrtc peer prepared", "peer", c.remoteId)
		return
	}
	answer, err := wp.CreateAnswer(c.ctx, sdp)
	if err != nil {
		c.logger.Warnw("hybrid: failed to create answer", "peer", c.remoteId, "error", err)
		c.abortUpgrade()
		return
	}
	c.sendSignaling(c.ctx, signaling.Answer(uint64(nowMillis()), answer))
}

func (c *Connection) handleAnswer(sdp string) {
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	if wp == nil {
		return
	}
	if err := wp.SetRemoteDescription(pionwebrtc.SDPTypeAnswer, sdp); err != nil {
		c.logger.Warnw("hybrid: failed to set remote answer", "peer", c.remoteId, "error", err)
		c.abortUpgrade()
	}
}

func (c *Connection) handleIceCandidate(payload []byte) {
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	if wp == nil {
		return
	}
	candidate, sdpMid, mLineIndex, err := signaling.DecodeIceCandidatePayload(payload)
	if err != nil {
		c.logger.Debugw("hybrid: dropping malformed ice candidate payload", "peer", c.remoteId, "error", err)
		return
	}
	if err := wp.AddICECandidate(candidate, sdpMid, mLineIndex); err != nil {
		c.logger.Debugw("hybrid: failed to add remote ice candidate", "peer", c.remoteId, "error", err)
	}
}

func (c *Connection) handleReady() {
	c.mu.Lock()
	c.state = Upgraded
	c.upgradeInFlight = false
	c.mu.Unlock()
	c.logger.Infow("hybrid: connection upgraded to direct path", "peer", c.remoteId)
}

func (c *Connection) setupWebRTCPeer() error {
	wp, err := webrtcpeer.New(webrtcpeer.Config{ICEServers: c.cfg.ICEServers}, c.logger)
	if err != nil {
		return err
	}
	wp.OnLocalICECandidate(func(candidate, sdpMid string, sdpMLineIndex int32) {
		msg := signaling.IceCandidate(uint64(nowMillis()), candidate, sdpMid, sdpMLineIndex)
		if err := c.sendSignaling(c.ctx, msg); err != nil {
			c.logger.Debugw("hybrid: failed to send local ice candidate", "peer", c.remoteId, "error", err)
		}
	})
	wp.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		switch state {
		case pionwebrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			c.webrtc = wp
			c.mu.Unlock()
			c.sendSignaling(c.ctx, signaling.Ready(uint64(nowMillis())))
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			c.abortUpgrade()
		}
	})
	c.mu.Lock()
	c.webrtc = wp
	c.mu.Unlock()
	return nil
}
