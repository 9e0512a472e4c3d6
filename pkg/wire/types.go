package wire

import (
	"encoding/binary"
	"errors"
)

// Codec errors.
var (
	// ErrBufferTooSmall indicates the dictionary does not fit the buffer.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrMalformed indicates corrupt or truncated dictionary bytes.
	ErrMalformed = errors.New("malformed dictionary")

	// ErrDuplicateKey indicates the same key appears twice in one dictionary.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTooManyTuples indicates more tuples than the count header can hold.
	ErrTooManyTuples = errors.New("too many tuples")

	// ErrInvalidWidth indicates an integer width other than 1, 2 or 4.
	ErrInvalidWidth = errors.New("invalid integer width")

	// ErrInvalidTuplet wraps every Encode failure caused by the tuplets
	// themselves: bad tag, payload, width, length or a repeated key.
	ErrInvalidTuplet = errors.New("invalid tuplet")
)

// Format constants.
const (
	// HeaderSize is the size of the dictionary count header.
	HeaderSize = 1

	// TupleHeaderSize is the per-tuple overhead: key(4) + type(1) + length(2).
	TupleHeaderSize = 7

	// MaxTuples is the maximum number of tuples in one dictionary.
	MaxTuples = 255

	// MaxValueLength is the largest payload a single tuple can declare.
	MaxValueLength = 0xFFFF
)

// Type is the one-byte value tag on the wire.
type Type uint8

const (
	// TypeByteArray carries raw bytes.
	TypeByteArray Type = 0

	// TypeCString carries NUL-terminated text.
	TypeCString Type = 1

	// TypeUint carries an unsigned little-endian integer.
	TypeUint Type = 2

	// TypeInt carries a signed little-endian integer.
	TypeInt Type = 3
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeByteArray:
		return "BYTE_ARRAY"
	case TypeCString:
		return "CSTRING"
	case TypeUint:
		return "UINT"
	case TypeInt:
		return "INT"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true for the four defined tags.
func (t Type) Valid() bool {
	return t <= TypeInt
}

// Tuplet is an owned key/value pair to be encoded.
// Data holds the payload exactly as it appears on the wire.
type Tuplet struct {
	Key  uint32
	Type Type
	Data []byte
}

// CString creates a text tuplet. The terminator is appended.
func CString(key uint32, s string) Tuplet {
	data := make([]byte, len(s)+1)
	copy(data, s)
	return Tuplet{Key: key, Type: TypeCString, Data: data}
}

// Bytes creates a byte array tuplet. The slice is copied.
func Bytes(key uint32, b []byte) Tuplet {
	return Tuplet{Key: key, Type: TypeByteArray, Data: append([]byte(nil), b...)}
}

// Uint8 creates a one-byte unsigned tuplet.
func Uint8(key uint32, v uint8) Tuplet {
	return Tuplet{Key: key, Type: TypeUint, Data: []byte{v}}
}

// Uint16 creates a two-byte unsigned tuplet.
func Uint16(key uint32, v uint16) Tuplet {
	return Tuplet{Key: key, Type: TypeUint, Data: binary.LittleEndian.AppendUint16(nil, v)}
}

// Uint32 creates a four-byte unsigned tuplet.
func Uint32(key uint32, v uint32) Tuplet {
	return Tuplet{Key: key, Type: TypeUint, Data: binary.LittleEndian.AppendUint32(nil, v)}
}

// Int8 creates a one-byte signed tuplet.
func Int8(key uint32, v int8) Tuplet {
	return Tuplet{Key: key, Type: TypeInt, Data: []byte{byte(v)}}
}

// Int16 creates a two-byte signed tuplet.
func Int16(key uint32, v int16) Tuplet {
	return Tuplet{Key: key, Type: TypeInt, Data: binary.LittleEndian.AppendUint16(nil, uint16(v))}
}

// Int32 creates a four-byte signed tuplet.
func Int32(key uint32, v int32) Tuplet {
	return Tuplet{Key: key, Type: TypeInt, Data: binary.LittleEndian.AppendUint32(nil, uint32(v))}
}

// Size returns the serialized size of this tuplet including its header.
func (t Tuplet) Size() int {
	return TupleHeaderSize + len(t.Data)
}

// validate checks the payload against its tag.
func validatePayload(typ Type, data []byte) error {
	switch typ {
	case TypeByteArray:
		return nil
	case TypeCString:
		if len(data) == 0 || data[len(data)-1] != 0 {
			return errors.New("cstring missing terminator")
		}
		return nil
	case TypeUint, TypeInt:
		switch len(data) {
		case 1, 2, 4:
			return nil
		}
		return ErrInvalidWidth
	default:
		return errors.New("unknown type tag")
	}
}
