// Package signaling implements the binary wire codec used to carry WebRTC
// upgrade negotiation in-band over an already-established relay stream
// (spec §4.1). Every message starts with a 4-byte magic, a 1-byte kind,
// an 8-byte big-endian millisecond timestamp, and a TLV payload.
package signaling

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a signaling frame so the demultiplexer (internal/demux)
// can distinguish it from an application stream's first bytes.
var Magic = [4]byte{'P', 'V', 'W', 'S'}

// Kind enumerates the signaling message types.
type Kind byte

const (
	KindUpgradeRequest Kind = 0x30
	KindUpgradeAccept  Kind = 0x31
	KindUpgradeReject  Kind = 0x32
	KindOffer          Kind = 0x33
	KindAnswer         Kind = 0x34
	KindIceCandidate   Kind = 0x35
	KindReady          Kind = 0x36
)

func (k Kind) String() string {
	switch k {
	case KindUpgradeRequest:
		return "UpgradeRequest"
	case KindUpgradeAccept:
		return "UpgradeAccept"
	case KindUpgradeReject:
		return "UpgradeReject"
	case KindOffer:
		return "Offer"
	case KindAnswer:
		return "Answer"
	case KindIceCandidate:
		return "IceCandidate"
	case KindReady:
		return "Ready"
	default:
		return fmt.Sprintf("Kind(0x%02x)", byte(k))
	}
}

func validKind(k Kind) bool {
	switch k {
	case KindUpgradeRequest, KindUpgradeAccept, KindUpgradeReject,
		KindOffer, KindAnswer, KindIceCandidate, KindReady:
		return true
	default:
		return false
	}
}

// Message is a decoded signaling frame. Payload carries the kind-specific
// TLV body (SDP text for Offer/Answer, the nested candidate/sdpMid/
// sdpMLineIndex TLV for IceCandidate, a reason string for UpgradeReject,
// empty for the rest).
type Message struct {
	Kind            Kind
	TimestampMillis uint64
	Payload         []byte
}

const headerLen = 4 + 1 + 8 // magic + kind + timestamp

// Encode serializes msg to its wire form: magic, kind, timestamp, then a
// 4-byte big-endian length prefix and the payload bytes.
func Encode(msg Message) ([]byte, error) {
	if !validKind(msg.Kind) {
		return nil, fmt.Errorf("signaling: unknown message kind 0x%02x", byte(msg.Kind))
	}
	buf := make([]byte, headerLen+4+len(msg.Payload))
	copy(buf[0:4], Magic[:])
	buf[4] = byte(msg.Kind)
	binary.BigEndian.PutUint64(buf[5:13], msg.TimestampMillis)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(msg.Payload)))
	copy(buf[17:], msg.Payload)
	return buf, nil
}

// AbsentMLineIndex is the sentinel spec §4.1 assigns sdpMLineIndex when
// the candidate carries no m-line association.
const AbsentMLineIndex int32 = -1

// EncodeIceCandidatePayload builds the IceCandidate message's TLV payload
// per spec §4.1: a 4-byte length-prefixed candidate string, a 4-byte
// length-prefixed sdpMid string (empty means absent), then a 4-byte
// big-endian signed sdpMLineIndex (AbsentMLineIndex means absent).
func EncodeIceCandidatePayload(candidate, sdpMid string, sdpMLineIndex int32) []byte {
	buf := make([]byte, 4+len(candidate)+4+len(sdpMid)+4)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(candidate)))
	off += 4
	copy(buf[off:], candidate)
	off += len(candidate)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(sdpMid)))
	off += 4
	copy(buf[off:], sdpMid)
	off += len(sdpMid)
	binary.BigEndian.PutUint32(buf[off:], uint32(sdpMLineIndex))
	return buf
}

// DecodeIceCandidatePayload reverses EncodeIceCandidatePayload.
func DecodeIceCandidatePayload(b []byte) (candidate, sdpMid string, sdpMLineIndex int32, err error) {
	if len(b) < 4 {
		return "", "", 0, fmt.Errorf("signaling: ice candidate payload too short: %d bytes", len(b))
	}
	candLen := binary.BigEndian.Uint32(b[0:4])
	off := 4
	if uint32(len(b)-off) < candLen {
		return "", "", 0, fmt.Errorf("signaling: ice candidate payload truncated reading candidate")
	}
	candidate = string(b[off : off+int(candLen)])
	off += int(candLen)

	if len(b)-off < 4 {
		return "", "", 0, fmt.Errorf("signaling: ice candidate payload truncated reading mid length")
	}
	midLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if uint32(len(b)-off) < midLen {
		return "", "", 0, fmt.Errorf("signaling: ice candidate payload truncated reading mid")
	}
	sdpMid = string(b[off : off+int(midLen)])
	off += int(midLen)

	if len(b)-off < 4 {
		return "", "", 0, fmt.Errorf("signaling: ice candidate payload truncated reading mLineIndex")
	}
	sdpMLineIndex = int32(binary.BigEndian.Uint32(b[off : off+4]))
	return candidate, sdpMid, sdpMLineIndex, nil
}

// HasMagic reports whether b begins with the signaling magic, the first
// check the demultiplexer runs when classifying a new stream.
func HasMagic(b []byte) bool {
	return len(b) >= 4 && b[0] == Magic[0] && b[1] == Magic[1] && b[2] == Magic[2] && b[3] == Magic[3]
}

// Decode parses a wire-encoded signaling frame previously produced by
// Encode. It returns an error wrapping a reason the caller can surface as
// InvalidFrame or UnknownSignalingType.
func Decode(b []byte) (Message, error) {
	var msg Message
	if len(b) < headerLen+4 {
		return msg, fmt.Errorf("signaling: frame too short: %d bytes", len(b))
	}
	if !HasMagic(b) {
		return msg, fmt.Errorf("signaling: bad magic %x", b[0:4])
	}
	kind := Kind(b[4])
	if !validKind(kind) {
		return msg, fmt.Errorf("signaling: unknown message kind 0x%02x", byte(kind))
	}
	ts := binary.BigEndian.Uint64(b[5:13])
	n := binary.BigEndian.Uint32(b[13:17])
	if uint32(len(b)-headerLen-4) != n {
		return msg, fmt.Errorf("signaling: length mismatch: header says %d, have %d", n, len(b)-headerLen-4)
	}
	payload := make([]byte, n)
	copy(payload, b[headerLen+4:])
	msg.Kind = kind
	msg.TimestampMillis = ts
	msg.Payload = payload
	return msg, nil
}
