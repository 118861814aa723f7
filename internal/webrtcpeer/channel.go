package webrtcpeer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/robcohen/peervault"
)

// DataChannelStream adapts a pion DataChannel's callback-based receive
// API into the blocking Send/Receive/Close/IsOpen/BufferedAmount shape
// internal/framing and internal/demux expect, the same adaptation the
// teacher performs between its WebSocket read pump and its buffered
// audio channel.
type DataChannelStream struct {
	dc     *webrtc.DataChannel
	inbox  chan []byte
	closed chan struct{}
}

// WrapDataChannel starts draining dc's messages into an internal channel
// and returns a stream ready to use with internal/framing.
func WrapDataChannel(dc *webrtc.DataChannel) *DataChannelStream {
	s := &DataChannelStream{
		dc:     dc,
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.inbox <- msg.Data:
		case <-s.closed:
		}
	})
	dc.OnClose(func() {
		s.closeOnce()
	})
	return s
}

func (s *DataChannelStream) closeOnce() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *DataChannelStream) Send(ctx context.Context, data []byte) error {
	if s.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return peervault.NewDataChannelError(peervault.NodeId{}, fmt.Errorf("data channel not open: %s", s.dc.ReadyState()))
	}
	if err := s.dc.Send(data); err != nil {
		return peervault.NewDataChannelError(peervault.NodeId{}, err)
	}
	return nil
}

func (s *DataChannelStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbox:
		return data, nil
	case <-s.closed:
		return nil, peervault.NewStreamClosed(s.dc.Label(), nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *DataChannelStream) Close() error {
	s.closeOnce()
	return s.dc.Close()
}

func (s *DataChannelStream) IsOpen() bool {
	return s.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (s *DataChannelStream) BufferedAmount() uint64 {
	return uint64(s.dc.BufferedAmount())
}
