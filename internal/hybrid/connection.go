// Package hybrid implements the connection and transport that sit on top
// of relaytransport and webrtcpeer, presenting one logical connection
// that starts relayed and opportunistically upgrades to a direct WebRTC
// path (spec §4.6, §4.7).
package hybrid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/demux"
	"github.com/robcohen/peervault/internal/framing"
	"github.com/robcohen/peervault/internal/relay"
	"github.com/robcohen/peervault/internal/relaytransport"
	"github.com/robcohen/peervault/internal/signaling"
	"github.com/robcohen/peervault/internal/webrtcpeer"
)

// Connection is one logical peer connection: always backed by a relay
// peer, optionally upgraded to a direct WebRTC peer. Callers see a single
// OpenStream/AcceptStream surface regardless of which path is active.
type Connection struct {
	localId   peervault.NodeId
	remoteId  peervault.NodeId
	relay     *relaytransport.Peer
	cfg       peervault.WebRTCConfig
	logger    peervault.Logger
	frameOpts framing.Options

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           UpgradeState
	webrtc          *webrtcpeer.Peer
	upgradeInFlight bool
	rejectedAt      time.Time
	closed          bool

	signalingStream framing.MessageStream
	incoming        chan framing.MessageStream
}

// NewConnection builds a Connection over an already-established
// relay.Peer and subscribes to its inbound streams and its close event. It
// does not open a signaling stream; OpenSignalingStream does that.
func NewConnection(parentCtx context.Context, localId peervault.NodeId, relayPeer *relaytransport.Peer, cfg peervault.WebRTCConfig, frameOpts framing.Options, logger peervault.Logger) *Connection {
	if logger == nil {
		logger = peervault.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		localId:   localId,
		remoteId:  relayPeer.RemoteNodeId(),
		relay:     relayPeer,
		cfg:       cfg,
		logger:    logger,
		frameOpts: frameOpts,
		ctx:       ctx,
		cancel:    cancel,
		incoming:  make(chan framing.MessageStream, 8),
	}
	relayPeer.OnStream(c.handleRelayStream)
	relayPeer.OnClose(c.handleRelayClosed)
	return c
}

// handleRelayClosed runs when the underlying relay peer dies, whether from
// an explicit Close, the relay accept loop's supervisor exhausting its
// crash budget, or the remote end going away. The relay is authoritative
// for liveness (spec §3): losing it tears the whole connection down,
// including any WebRTC upgrade in progress, regardless of upgrade state.
func (c *Connection) handleRelayClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.mu.Unlock()

	c.logger.Warnw("hybrid: relay connection lost, tearing down", "peer", c.remoteId)
	c.Close()
}

// handleRelayStream is the Peer's single stream dispatcher; it must return
// immediately so one slow-to-classify stream can never stall delivery of
// the next one, so classification itself runs on its own goroutine.
func (c *Connection) handleRelayStream(s relay.Stream) {
	go c.classifyRelayStream(s)
}

// classifyRelayStream peeks a newly opened relay stream's first message
// (spec §4.8): a stream whose first message carries the signaling magic
// prefix drives the upgrade state machine, everything else surfaces to the
// host application as an ordinary stream.
func (c *Connection) classifyRelayStream(s relay.Stream) {
	framed := framing.New(c.ctx, "relay-in-"+c.remoteId.String(), wrapRelayStream(s), c.frameOpts, c.logger)

	class, replay, err := demux.Classify(c.ctx, framed)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Debugw("hybrid: classifying inbound stream", "peer", c.remoteId, "error", err)
		}
		return
	}

	if class == demux.ClassSignaling {
		c.mu.Lock()
		hasSignaling := c.signalingStream != nil
		if !hasSignaling {
			c.signalingStream = replay
		}
		c.mu.Unlock()
		if hasSignaling {
			c.logger.Warnw("hybrid: dropping unexpected extra signaling stream", "peer", c.remoteId)
			replay.Close()
			return
		}
		go c.signalingLoop(replay)
		return
	}

	select {
	case c.incoming <- replay:
	case <-c.ctx.Done():
	}
}

// OpenSignalingStream opens the outgoing signaling stream. Called by
// whichever side initiates the relay connection; the other side recognizes
// the stream by the signaling magic prefix of its first message, not by
// its position among inbound streams.
func (c *Connection) OpenSignalingStream(ctx context.Context) error {
	c.mu.Lock()
	if c.signalingStream != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	raw, err := c.relay.OpenStream(ctx, "signaling-"+uuid.NewString())
	if err != nil {
		return err
	}
	framed := framing.New(c.ctx, "relay-out-"+c.remoteId.String(), wrapRelayStream(raw), c.frameOpts, c.logger)
	c.mu.Lock()
	c.signalingStream = framed
	c.mu.Unlock()
	go c.signalingLoop(framed)
	return nil
}

// OpenStream opens a new application stream over whichever path is
// currently active: the direct WebRTC data channel once Upgraded and
// still connected, the relay connection otherwise (spec §4.6 "stream
// routing based on upgraded+isConnected").
func (c *Connection) OpenStream(ctx context.Context) (framing.MessageStream, error) {
	if c.IsUpgraded() && c.directChannelOpen() {
		return c.openDirectStream(ctx)
	}
	raw, err := c.relay.OpenStream(ctx, "app-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	return framing.New(c.ctx, "relay-out-"+c.remoteId.String(), wrapRelayStream(raw), c.frameOpts, c.logger), nil
}

func (c *Connection) openDirectStream(ctx context.Context) (framing.MessageStream, error) {
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	if wp == nil {
		return nil, peervault.NewConnectionFailed(c.remoteId, "webrtc peer not available")
	}
	dc := wp.DataChannel()
	if dc == nil {
		return nil, peervault.NewConnectionFailed(c.remoteId, "data channel not open")
	}
	return framing.New(c.ctx, "direct-"+c.remoteId.String(), webrtcpeer.WrapDataChannel(dc), c.frameOpts, c.logger), nil
}

// AcceptStream blocks for the next inbound application stream. Only relay
// streams are delivered here, once their first message has been classified;
// streams the remote side opens over the direct WebRTC data channel are not
// surfaced through AcceptStream.
func (c *Connection) AcceptStream(ctx context.Context) (framing.MessageStream, error) {
	select {
	case s, ok := <-c.incoming:
		if !ok {
			return nil, peervault.NewConnectionClosed(c.remoteId)
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, peervault.NewConnectionClosed(c.remoteId)
	}
}

func (c *Connection) RemoteNodeId() peervault.NodeId { return c.remoteId }

func (c *Connection) State() UpgradeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) IsUpgraded() bool { return c.State() == Upgraded }

// ConnectionType reports whether this connection is currently relayed,
// direct, mixed (a TURN-relayed candidate pair on an otherwise upgraded
// path), or has no live path at all (spec §4.12, SPEC_FULL §4.12 item 3).
// It classifies the selected ICE candidate pair via webrtcpeer.GetStats
// rather than just trusting IsUpgraded, since an upgraded connection can
// still be routed through a TURN relay.
func (c *Connection) ConnectionType() peervault.ConnectionType {
	c.mu.Lock()
	state := c.state
	wp := c.webrtc
	c.mu.Unlock()

	switch state {
	case Disconnected:
		return peervault.ConnectionTypeNone
	case Upgraded:
		if wp == nil {
			return peervault.ConnectionTypeDirect
		}
		return wp.GetStats(c.ctx).ConnectionType
	default:
		return peervault.ConnectionTypeRelay
	}
}

// Stats returns a diagnostics snapshot of the connection, pulling WebRTC
// candidate-pair RTT and classification once upgraded.
func (c *Connection) Stats(ctx context.Context) peervault.ConnectionStats {
	c.mu.Lock()
	state := c.state
	wp := c.webrtc
	c.mu.Unlock()

	stats := peervault.ConnectionStats{ConnectionType: peervault.ConnectionTypeRelay}
	switch state {
	case Disconnected:
		stats.ConnectionType = peervault.ConnectionTypeNone
	case Upgraded:
		if wp != nil {
			wstats := wp.GetStats(ctx)
			stats.ConnectionType = wstats.ConnectionType
			stats.RTTMillis = wstats.RTTMillis
			stats.IsDirect = wstats.ConnectionType == peervault.ConnectionTypeDirect
		} else {
			stats.ConnectionType = peervault.ConnectionTypeDirect
			stats.IsDirect = true
		}
	}
	return stats
}

func (c *Connection) directChannelOpen() bool {
	c.mu.Lock()
	wp := c.webrtc
	c.mu.Unlock()
	if wp == nil {
		return false
	}
	dc := wp.DataChannel()
	return dc != nil
}

func (c *Connection) setState(s UpgradeState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (c *Connection) sendSignaling(ctx context.Context, msg signaling.Message) error {
	c.mu.Lock()
	stream := c.signalingStream
	c.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("hybrid: signaling stream not established yet")
	}
	wire, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return stream.Send(ctx, wire)
}

// Close tears the connection down, cancelling the signaling loop and
// closing both the relay peer and, if present, the WebRTC peer.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wp := c.webrtc
	c.mu.Unlock()

	c.cancel()
	close(c.incoming)
	if wp != nil {
		wp.Close()
	}
	return c.relay.Close()
}
