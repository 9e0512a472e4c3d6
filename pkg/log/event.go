package log

import (
	"time"

	"github.com/fitdis/fitdis-go/pkg/wire"
)

// Event is one protocol event. Exactly one of the type-specific payloads
// is set. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the channel (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole tells whether the event was captured on the device or the host.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address when the link has one.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"`
	Dictionary  *DictionaryEvent  `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow relative to the local endpoint.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerLink is the framed byte stream.
	LayerLink Layer = 0
	// LayerChannel is the packet layer (hello/push/ack/nack).
	LayerChannel Layer = 1
	// LayerSync is the key-value sync session.
	LayerSync Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerChannel:
		return "CHANNEL"
	case LayerSync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role identifies the local endpoint.
type Role uint8

const (
	RoleDevice Role = 0
	RoleHost   Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleHost:
		return "HOST"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data on the link.
type FrameEvent struct {
	// Size is the frame payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes, truncated to MaxLogFrameDataSize.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxLogFrameDataSize bounds the bytes copied into a FrameEvent.
const MaxLogFrameDataSize = 256

// NewFrameEvent copies up to MaxLogFrameDataSize bytes of data.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// PacketEvent captures one channel packet.
type PacketEvent struct {
	// Kind is the packet kind name (HELLO, PUSH, ACK, NACK).
	Kind string `cbor:"1,keyasint"`

	// TxID correlates a PUSH with its ACK or NACK.
	TxID uint8 `cbor:"2,keyasint"`

	// Size is the packet body size.
	Size int `cbor:"3,keyasint"`
}

// TupleRecord is an owned copy of one dictionary tuple.
type TupleRecord struct {
	Key  uint32    `cbor:"1,keyasint"`
	Type wire.Type `cbor:"2,keyasint"`
	Data []byte    `cbor:"3,keyasint,omitempty"`
}

// DictionaryEvent captures a decoded dictionary.
type DictionaryEvent struct {
	Size   int           `cbor:"1,keyasint"`
	Tuples []TupleRecord `cbor:"2,keyasint,omitempty"`

	// ChangedKeys lists keys whose value changed when the dictionary was applied.
	ChangedKeys []uint32 `cbor:"3,keyasint,omitempty"`
}

// NewDictionaryEvent copies a decoded dictionary into a log payload.
func NewDictionaryEvent(dict *wire.Dictionary) *DictionaryEvent {
	de := &DictionaryEvent{Size: dict.Size()}
	for _, t := range dict.Tuples() {
		de.Tuples = append(de.Tuples, TupleRecord{
			Key:  t.Key,
			Type: t.Type,
			Data: append([]byte(nil), t.Data...),
		})
	}
	return de
}

// StateChangeEvent captures channel and session lifecycle changes.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityChannel StateEntity = 0
	StateEntitySession StateEntity = 1
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityChannel:
		return "CHANNEL"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Kind is a short classification such as MALFORMED or LINK_DOWN.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what was being done.
	Context string `cbor:"4,keyasint,omitempty"`
}
