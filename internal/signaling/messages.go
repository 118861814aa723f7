package signaling

// These constructors pair each Kind with the payload shape spec §4.1
// assigns it, so callers in internal/hybrid never hand-build a Message.

func UpgradeRequest(nowMillis uint64) Message {
	return Message{Kind: KindUpgradeRequest, TimestampMillis: nowMillis}
}

func UpgradeAccept(nowMillis uint64) Message {
	return Message{Kind: KindUpgradeAccept, TimestampMillis: nowMillis}
}

func UpgradeReject(nowMillis uint64, reason string) Message {
	return Message{Kind: KindUpgradeReject, TimestampMillis: nowMillis, Payload: []byte(reason)}
}

func Offer(nowMillis uint64, sdp string) Message {
	return Message{Kind: KindOffer, TimestampMillis: nowMillis, Payload: []byte(sdp)}
}

func Answer(nowMillis uint64, sdp string) Message {
	return Message{Kind: KindAnswer, TimestampMillis: nowMillis, Payload: []byte(sdp)}
}

// IceCandidate builds the wire message for one locally gathered ICE
// candidate, TLV-encoding candidate/sdpMid/sdpMLineIndex into Payload
// (spec §4.1) rather than smuggling them inside an opaque blob.
func IceCandidate(nowMillis uint64, candidate, sdpMid string, sdpMLineIndex int32) Message {
	return Message{
		Kind:            KindIceCandidate,
		TimestampMillis: nowMillis,
		Payload:         EncodeIceCandidatePayload(candidate, sdpMid, sdpMLineIndex),
	}
}

func Ready(nowMillis uint64) Message {
	return Message{Kind: KindReady, TimestampMillis: nowMillis}
}
