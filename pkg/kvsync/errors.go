package kvsync

import (
	"errors"

	"github.com/fitdis/fitdis-go/pkg/transport"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// Session errors.
var (
	ErrSessionClosed = errors.New("sync session closed")
	ErrReentrant     = errors.New("apply called from inside a sync callback")
	ErrNoHandler     = errors.New("sync handler is required")
)

// ErrorKind classifies a failure reported through Handler.OnSyncError.
type ErrorKind uint8

const (
	// ErrorKindBufferTooSmall: a dictionary did not fit the capacity it
	// was meant for (encode, merged sync state, or channel capacity).
	ErrorKindBufferTooSmall ErrorKind = iota + 1

	// ErrorKindMalformed: inbound bytes did not decode, or an outbound
	// dictionary held an invalid tuplet.
	ErrorKindMalformed

	// ErrorKindChannelBusy: a send was attempted with one in flight.
	ErrorKindChannelBusy

	// ErrorKindLinkDown: the link failed, timed out or the peer refused.
	ErrorKindLinkDown
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case ErrorKindMalformed:
		return "MALFORMED"
	case ErrorKindChannelBusy:
		return "CHANNEL_BUSY"
	case ErrorKindLinkDown:
		return "LINK_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Classify maps codec and channel errors onto an ErrorKind. Unrecognized
// errors are treated as link failures.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, wire.ErrBufferTooSmall),
		errors.Is(err, wire.ErrTooManyTuples),
		errors.Is(err, transport.ErrTooLarge),
		errors.Is(err, transport.ErrInboundOverflow):
		return ErrorKindBufferTooSmall
	case errors.Is(err, wire.ErrMalformed),
		errors.Is(err, wire.ErrInvalidTuplet),
		errors.Is(err, transport.ErrMalformedPacket):
		return ErrorKindMalformed
	case errors.Is(err, transport.ErrChannelBusy):
		return ErrorKindChannelBusy
	default:
		return ErrorKindLinkDown
	}
}
