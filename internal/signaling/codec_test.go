package signaling

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"upgrade request", UpgradeRequest(1000)},
		{"upgrade accept", UpgradeAccept(1001)},
		{"upgrade reject", UpgradeReject(1002, "already upgraded")},
		{"offer", Offer(1003, "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n")},
		{"answer", Answer(1004, "v=0\r\no=- 2 1 IN IP4 0.0.0.0\r\n")},
		{"ice candidate", IceCandidate(1005, "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host", "0", 0)},
		{"ice candidate absent mline", IceCandidate(1005, "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host", "", AbsentMLineIndex)},
		{"ready", Ready(1006)},
		{"empty payload", Message{Kind: KindReady, TimestampMillis: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != tc.msg.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tc.msg.Kind)
			}
			if got.TimestampMillis != tc.msg.TimestampMillis {
				t.Errorf("TimestampMillis = %d, want %d", got.TimestampMillis, tc.msg.TimestampMillis)
			}
			if !bytes.Equal(got.Payload, tc.msg.Payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, tc.msg.Payload)
			}
		})
	}
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Encode(Message{Kind: Kind(0xFF)})
	if err == nil {
		t.Fatal("expected error for unknown kind, got nil")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	wire, err := Encode(Ready(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire[0] = 'X'
	if _, err := Decode(wire); err == nil {
		t.Fatal("expected error for bad magic, got nil")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	wire, err := Encode(Ready(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire[4] = 0xFF
	if _, err := Decode(wire); err == nil {
		t.Fatal("expected error for unknown kind, got nil")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	wire, err := Encode(Offer(1, "some sdp"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(wire[:len(wire)-3]); err == nil {
		t.Fatal("expected error for truncated frame, got nil")
	}
}

func TestDecodeRejectsTooShortFrame(t *testing.T) {
	if _, err := Decode([]byte{'P', 'V'}); err == nil {
		t.Fatal("expected error for too-short frame, got nil")
	}
}

func TestHasMagic(t *testing.T) {
	wire, err := Encode(Ready(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !HasMagic(wire) {
		t.Error("HasMagic = false for a valid signaling frame")
	}
	if HasMagic([]byte("application data")) {
		t.Error("HasMagic = true for non-signaling bytes")
	}
	if HasMagic([]byte{'P', 'V'}) {
		t.Error("HasMagic = true for a short prefix")
	}
}

func TestIceCandidatePayloadRoundTrip(t *testing.T) {
	msg := IceCandidate(2000, "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host", "audio", 2)
	wire, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	candidate, sdpMid, mLineIndex, err := DecodeIceCandidatePayload(got.Payload)
	if err != nil {
		t.Fatalf("DecodeIceCandidatePayload: %v", err)
	}
	if candidate != "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host" {
		t.Errorf("candidate = %q", candidate)
	}
	if sdpMid != "audio" {
		t.Errorf("sdpMid = %q, want %q", sdpMid, "audio")
	}
	if mLineIndex != 2 {
		t.Errorf("mLineIndex = %d, want 2", mLineIndex)
	}
}

func TestDecodeIceCandidatePayloadRejectsTruncated(t *testing.T) {
	payload := EncodeIceCandidatePayload("cand", "mid", 1)
	if _, _, _, err := DecodeIceCandidatePayload(payload[:len(payload)-3]); err == nil {
		t.Fatal("expected error for truncated ice candidate payload, got nil")
	}
}

func TestIceCandidatePayloadAbsentMLineIndexRoundTrip(t *testing.T) {
	payload := EncodeIceCandidatePayload("cand", "", AbsentMLineIndex)
	candidate, sdpMid, mLineIndex, err := DecodeIceCandidatePayload(payload)
	if err != nil {
		t.Fatalf("DecodeIceCandidatePayload: %v", err)
	}
	if candidate != "cand" {
		t.Errorf("candidate = %q", candidate)
	}
	if sdpMid != "" {
		t.Errorf("sdpMid = %q, want empty (absent)", sdpMid)
	}
	if mLineIndex != AbsentMLineIndex {
		t.Errorf("mLineIndex = %d, want %d", mLineIndex, AbsentMLineIndex)
	}
}

func TestKindString(t *testing.T) {
	if got := KindOffer.String(); got != "Offer" {
		t.Errorf("KindOffer.String() = %q, want %q", got, "Offer")
	}
	if got := Kind(0xAB).String(); got == "" {
		t.Errorf("Kind(0xAB).String() returned empty string")
	}
}
