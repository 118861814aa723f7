package peervault

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the error cases a caller needs to branch on (§7).
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrNotInitialized
	ErrRuntimeNotReady
	ErrRuntimeMemoryExhausted
	ErrConnectionFailed
	ErrConnectionLost
	ErrConnectionClosed
	ErrStreamClosed
	ErrBackpressureTimeout
	ErrInvalidTicket
	ErrInvalidFrame
	ErrUnknownSignalingType
	ErrUpgradeRejected
	ErrUpgradeTimeout
	ErrSignalingFailed
	ErrDataChannelError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotInitialized:
		return "NotInitialized"
	case ErrRuntimeNotReady:
		return "RuntimeNotReady"
	case ErrRuntimeMemoryExhausted:
		return "RuntimeMemoryExhausted"
	case ErrConnectionFailed:
		return "ConnectionFailed"
	case ErrConnectionLost:
		return "ConnectionLost"
	case ErrConnectionClosed:
		return "ConnectionClosed"
	case ErrStreamClosed:
		return "StreamClosed"
	case ErrBackpressureTimeout:
		return "BackpressureTimeout"
	case ErrInvalidTicket:
		return "InvalidTicket"
	case ErrInvalidFrame:
		return "InvalidFrame"
	case ErrUnknownSignalingType:
		return "UnknownSignalingType"
	case ErrUpgradeRejected:
		return "UpgradeRejected"
	case ErrUpgradeTimeout:
		return "UpgradeTimeout"
	case ErrSignalingFailed:
		return "SignalingFailed"
	case ErrDataChannelError:
		return "DataChannelError"
	default:
		return "Unknown"
	}
}

// Error is the single error type surfaced by every peervault operation. It
// carries an ErrorKind a caller can switch on, plus whichever of peer id /
// stream id / reason / cause apply to that kind.
type Error struct {
	Kind     ErrorKind
	PeerId   NodeId
	StreamId string
	Reason   string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if !e.PeerId.IsZero() {
		msg = fmt.Sprintf("%s(peer=%s)", msg, e.PeerId)
	}
	if e.StreamId != "" {
		msg = fmt.Sprintf("%s(stream=%s)", msg, e.StreamId)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: X}) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind carried by err, or ErrUnknown if err does
// not wrap a *Error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

func newErr(kind ErrorKind) *Error { return &Error{Kind: kind} }

func NewConnectionFailed(peer NodeId, reason string) *Error {
	return &Error{Kind: ErrConnectionFailed, PeerId: peer, Reason: reason}
}

func NewConnectionLost(peer NodeId) *Error {
	return &Error{Kind: ErrConnectionLost, PeerId: peer}
}

func NewConnectionClosed(peer NodeId) *Error {
	return &Error{Kind: ErrConnectionClosed, PeerId: peer}
}

func NewStreamClosed(streamID string, cause error) *Error {
	return &Error{Kind: ErrStreamClosed, StreamId: streamID, Cause: cause}
}

func NewBackpressureTimeout(streamID string) *Error {
	return &Error{Kind: ErrBackpressureTimeout, StreamId: streamID}
}

func NewInvalidTicket(reason string) *Error {
	return &Error{Kind: ErrInvalidTicket, Reason: reason}
}

func NewInvalidFrame(reason string) *Error {
	return &Error{Kind: ErrInvalidFrame, Reason: reason}
}

func NewUnknownSignalingType(reason string) *Error {
	return &Error{Kind: ErrUnknownSignalingType, Reason: reason}
}

func NewUpgradeRejected(peer NodeId, reason string) *Error {
	return &Error{Kind: ErrUpgradeRejected, PeerId: peer, Reason: reason}
}

func NewUpgradeTimeout(peer NodeId) *Error {
	return &Error{Kind: ErrUpgradeTimeout, PeerId: peer}
}

func NewSignalingFailed(peer NodeId, cause error) *Error {
	return &Error{Kind: ErrSignalingFailed, PeerId: peer, Cause: cause}
}

func NewDataChannelError(peer NodeId, cause error) *Error {
	return &Error{Kind: ErrDataChannelError, PeerId: peer, Cause: cause}
}

func NewRuntimeMemoryExhausted(cause error) *Error {
	return &Error{
		Kind:   ErrRuntimeMemoryExhausted,
		Cause:  cause,
		Reason: "the relay runtime ran out of memory creating an endpoint; reduce concurrent transports per process or raise the process memory limit",
	}
}

var (
	ErrNotInitializedSentinel  = newErr(ErrNotInitialized)
	ErrRuntimeNotReadySentinel = newErr(ErrRuntimeNotReady)
)
