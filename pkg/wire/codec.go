package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Size returns the serialized size of a dictionary holding the tuplets.
func Size(tuplets []Tuplet) int {
	size := HeaderSize
	for _, t := range tuplets {
		size += t.Size()
	}
	return size
}

// Encode writes the tuplets into buf in the given order and returns the
// number of bytes written. If the dictionary does not fit, ErrBufferTooSmall
// is returned and buf is left untouched. Invalid tuplets fail with
// ErrInvalidTuplet.
func Encode(tuplets []Tuplet, buf []byte) (int, error) {
	if len(tuplets) > MaxTuples {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyTuples, len(tuplets), MaxTuples)
	}

	for i, t := range tuplets {
		if len(t.Data) > MaxValueLength {
			return 0, fmt.Errorf("%w: key %d: value length %d exceeds %d", ErrInvalidTuplet, t.Key, len(t.Data), MaxValueLength)
		}
		if err := validatePayload(t.Type, t.Data); err != nil {
			return 0, fmt.Errorf("%w: key %d: %w", ErrInvalidTuplet, t.Key, err)
		}
		for _, prev := range tuplets[:i] {
			if prev.Key == t.Key {
				return 0, fmt.Errorf("%w: %w: %d", ErrInvalidTuplet, ErrDuplicateKey, t.Key)
			}
		}
	}

	size := Size(tuplets)
	if size > len(buf) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(buf))
	}

	buf[0] = byte(len(tuplets))
	off := HeaderSize
	for _, t := range tuplets {
		binary.LittleEndian.PutUint32(buf[off:], t.Key)
		buf[off+4] = byte(t.Type)
		binary.LittleEndian.PutUint16(buf[off+5:], uint16(len(t.Data)))
		off += TupleHeaderSize
		off += copy(buf[off:], t.Data)
	}
	return off, nil
}

// EncodeToBytes encodes into a freshly allocated slice of exactly the right size.
func EncodeToBytes(tuplets []Tuplet) ([]byte, error) {
	buf := make([]byte, Size(tuplets))
	n, err := Encode(tuplets, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Tuple is a read-only view of one decoded tuple. Data aliases the
// buffer it was decoded from.
type Tuple struct {
	Key  uint32
	Type Type
	Data []byte
}

// String returns the text of a C string tuple without its terminator.
// For other types it returns a printable representation.
func (t Tuple) String() string {
	switch t.Type {
	case TypeCString:
		if i := bytes.IndexByte(t.Data, 0); i >= 0 {
			return string(t.Data[:i])
		}
		return string(t.Data)
	case TypeUint:
		return fmt.Sprintf("%d", t.Uint())
	case TypeInt:
		return fmt.Sprintf("%d", t.Int())
	default:
		return fmt.Sprintf("%x", t.Data)
	}
}

// Uint returns the value of an integer tuple read at its declared width.
func (t Tuple) Uint() uint64 {
	switch len(t.Data) {
	case 1:
		return uint64(t.Data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(t.Data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(t.Data))
	default:
		return 0
	}
}

// Int returns the value of an integer tuple, sign-extended from its width.
func (t Tuple) Int() int64 {
	switch len(t.Data) {
	case 1:
		return int64(int8(t.Data[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(t.Data)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(t.Data)))
	default:
		return 0
	}
}

// Bytes returns the raw payload. The slice aliases the decoded buffer.
func (t Tuple) Bytes() []byte {
	return t.Data
}

// Equal reports whether both tuples carry the same tag and payload.
// Keys are not compared.
func (t Tuple) Equal(other Tuple) bool {
	return t.Type == other.Type && bytes.Equal(t.Data, other.Data)
}

// Clone copies the view into an owned Tuplet.
func (t Tuple) Clone() Tuplet {
	return Tuplet{Key: t.Key, Type: t.Type, Data: append([]byte{}, t.Data...)}
}

// Dictionary is a validated, read-only view over encoded dictionary bytes.
type Dictionary struct {
	data   []byte
	tuples []Tuple
}

// Decode validates data and returns a view over it. The whole stream is
// checked before anything is returned; on error no tuples are exposed.
func Decode(data []byte) (*Dictionary, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}

	count := int(data[0])
	tuples := make([]Tuple, 0, count)
	off := HeaderSize

	for i := 0; i < count; i++ {
		if len(data)-off < TupleHeaderSize {
			return nil, fmt.Errorf("%w: tuple %d header truncated at offset %d", ErrMalformed, i, off)
		}
		key := binary.LittleEndian.Uint32(data[off:])
		typ := Type(data[off+4])
		length := int(binary.LittleEndian.Uint16(data[off+5:]))
		off += TupleHeaderSize

		if !typ.Valid() {
			return nil, fmt.Errorf("%w: key %d has unknown type %d", ErrMalformed, key, typ)
		}
		if len(data)-off < length {
			return nil, fmt.Errorf("%w: key %d declares %d bytes, %d remain", ErrMalformed, key, length, len(data)-off)
		}
		payload := data[off : off+length : off+length]
		if err := validatePayload(typ, payload); err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrMalformed, key, err)
		}
		for _, prev := range tuples {
			if prev.Key == key {
				return nil, fmt.Errorf("%w: key %d repeated", ErrMalformed, key)
			}
		}

		tuples = append(tuples, Tuple{Key: key, Type: typ, Data: payload})
		off += length
	}

	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-off)
	}

	return &Dictionary{data: data, tuples: tuples}, nil
}

// Len returns the number of tuples.
func (d *Dictionary) Len() int {
	return len(d.tuples)
}

// Size returns the encoded size in bytes.
func (d *Dictionary) Size() int {
	return len(d.data)
}

// Tuples returns the tuples in wire order. The slice must not be modified.
func (d *Dictionary) Tuples() []Tuple {
	return d.tuples
}

// Find returns the tuple for key, if present.
func (d *Dictionary) Find(key uint32) (Tuple, bool) {
	for _, t := range d.tuples {
		if t.Key == key {
			return t, true
		}
	}
	return Tuple{}, false
}

// Tuplets returns owned copies of all tuples in wire order.
func (d *Dictionary) Tuplets() []Tuplet {
	out := make([]Tuplet, len(d.tuples))
	for i, t := range d.tuples {
		out[i] = t.Clone()
	}
	return out
}
