package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestDictionaryRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tuplets []Tuplet
	}{
		{
			name:    "empty dictionary",
			tuplets: nil,
		},
		{
			name:    "heart rate seed",
			tuplets: []Tuplet{CString(0, "-")},
		},
		{
			name: "mixed types",
			tuplets: []Tuplet{
				CString(0, "72"),
				Uint8(1, 200),
				Int16(2, -300),
				Uint32(3, 0xDEADBEEF),
				Bytes(4, []byte{0x00, 0xFF}),
			},
		},
		{
			name:    "order preserved",
			tuplets: []Tuplet{Int8(9, -1), Uint16(3, 513), CString(1, "")},
		},
		{
			name:    "empty byte array",
			tuplets: []Tuplet{Bytes(7, nil)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			n, err := Encode(tt.tuplets, buf)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if n != Size(tt.tuplets) {
				t.Errorf("Encode wrote %d bytes, Size() = %d", n, Size(tt.tuplets))
			}

			dict, err := Decode(buf[:n])
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if dict.Len() != len(tt.tuplets) {
				t.Fatalf("Len() = %d, want %d", dict.Len(), len(tt.tuplets))
			}
			for i, got := range dict.Tuples() {
				want := tt.tuplets[i]
				if got.Key != want.Key || got.Type != want.Type || !bytes.Equal(got.Data, want.Data) {
					t.Errorf("tuple %d = {%d %v %x}, want {%d %v %x}",
						i, got.Key, got.Type, got.Data, want.Key, want.Type, want.Data)
				}
			}
		})
	}
}

func TestEncodeBufferTooSmallWritesNothing(t *testing.T) {
	tuplets := []Tuplet{CString(0, "a long heart rate string")}
	size := Size(tuplets)

	for capacity := 0; capacity < size; capacity++ {
		buf := bytes.Repeat([]byte{0xAA}, capacity)
		n, err := Encode(tuplets, buf)
		if !errors.Is(err, ErrBufferTooSmall) {
			t.Fatalf("capacity %d: expected ErrBufferTooSmall, got %v", capacity, err)
		}
		if n != 0 {
			t.Errorf("capacity %d: wrote %d bytes, want 0", capacity, n)
		}
		if !bytes.Equal(buf, bytes.Repeat([]byte{0xAA}, capacity)) {
			t.Errorf("capacity %d: buffer modified on failure", capacity)
		}
	}

	buf := make([]byte, size)
	if _, err := Encode(tuplets, buf); err != nil {
		t.Errorf("exact capacity: Encode failed: %v", err)
	}
}

func TestEncodeRejectsInvalidTuplets(t *testing.T) {
	tests := []struct {
		name    string
		tuplets []Tuplet
		wantErr error
	}{
		{
			name:    "duplicate key",
			tuplets: []Tuplet{CString(0, "a"), CString(0, "b")},
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "bad integer width",
			tuplets: []Tuplet{{Key: 1, Type: TypeUint, Data: []byte{1, 2, 3}}},
			wantErr: ErrInvalidWidth,
		},
		{
			name:    "too many tuples",
			tuplets: make([]Tuplet, MaxTuples+1),
			wantErr: ErrTooManyTuples,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.tuplets, make([]byte, 4096))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEncodeInvalidTupletSentinel(t *testing.T) {
	tests := []struct {
		name    string
		tuplets []Tuplet
	}{
		{"unknown type", []Tuplet{{Key: 1, Type: Type(9), Data: []byte{1}}}},
		{"cstring without terminator", []Tuplet{{Key: 1, Type: TypeCString, Data: []byte("72")}}},
		{"empty cstring payload", []Tuplet{{Key: 1, Type: TypeCString}}},
		{"bad integer width", []Tuplet{{Key: 1, Type: TypeInt, Data: []byte{1, 2, 3}}}},
		{"oversized value", []Tuplet{Bytes(1, make([]byte, MaxValueLength+1))}},
		{"duplicate key", []Tuplet{Uint8(2, 1), Uint8(2, 2)}},
	}

	for _, tt := range tests {
		buf := make([]byte, 1<<17)
		n, err := Encode(tt.tuplets, buf)
		if !errors.Is(err, ErrInvalidTuplet) {
			t.Errorf("%s: Encode() error = %v, want ErrInvalidTuplet", tt.name, err)
		}
		if n != 0 || buf[0] != 0 {
			t.Errorf("%s: Encode() wrote %d bytes on failure", tt.name, n)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := EncodeToBytes([]Tuplet{CString(0, "72"), Uint8(1, 5)})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated by one byte", data: valid[:len(valid)-1]},
		{name: "truncated header", data: valid[:4]},
		{name: "trailing bytes", data: append(append([]byte{}, valid...), 0x00)},
		{name: "count too high", data: append([]byte{3}, valid[1:]...)},
		{name: "unknown type", data: []byte{1, 0, 0, 0, 0, 9, 1, 0, 0}},
		{name: "cstring without terminator", data: []byte{1, 0, 0, 0, 0, 1, 2, 0, '7', '2'}},
		{name: "bad integer width", data: []byte{1, 0, 0, 0, 0, 2, 3, 0, 1, 2, 3}},
		{name: "repeated key", data: []byte{2, 5, 0, 0, 0, 2, 1, 0, 1, 5, 0, 0, 0, 2, 1, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict, err := Decode(tt.data)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
			if dict != nil {
				t.Error("expected nil dictionary on error")
			}
		})
	}
}

func TestDecodeWireLayout(t *testing.T) {
	// {0: "72"} is count, key(4), type, length(2), '7', '2', NUL
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x03, 0x00, '7', '2', 0x00}

	got, err := EncodeToBytes([]Tuplet{CString(0, "72")})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded = %x, want %x", got, want)
	}
}

func TestTupleAccessors(t *testing.T) {
	data, err := EncodeToBytes([]Tuplet{
		CString(0, "68"),
		Int8(1, -5),
		Int32(2, -70000),
		Uint16(3, 65535),
		Bytes(4, []byte{0xCA, 0xFE}),
	})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	dict, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	hr, ok := dict.Find(0)
	if !ok {
		t.Fatal("key 0 not found")
	}
	if hr.String() != "68" {
		t.Errorf("String() = %q, want %q", hr.String(), "68")
	}

	if v, _ := dict.Find(1); v.Int() != -5 {
		t.Errorf("Int() = %d, want -5", v.Int())
	}
	if v, _ := dict.Find(2); v.Int() != -70000 {
		t.Errorf("Int() = %d, want -70000", v.Int())
	}
	if v, _ := dict.Find(3); v.Uint() != 65535 {
		t.Errorf("Uint() = %d, want 65535", v.Uint())
	}
	if v, _ := dict.Find(4); !bytes.Equal(v.Bytes(), []byte{0xCA, 0xFE}) {
		t.Errorf("Bytes() = %x, want cafe", v.Bytes())
	}
	if _, ok := dict.Find(99); ok {
		t.Error("Find(99) should not succeed")
	}
}

func TestTupleCloneIsIndependent(t *testing.T) {
	data, _ := EncodeToBytes([]Tuplet{CString(0, "72")})
	dict, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	owned := dict.Tuples()[0].Clone()
	for i := range data {
		data[i] = 0
	}

	if string(owned.Data) != "72\x00" {
		t.Errorf("clone changed with source buffer: %q", owned.Data)
	}
}

func TestTupleEqual(t *testing.T) {
	a := Tuple{Key: 0, Type: TypeCString, Data: []byte("72\x00")}
	b := Tuple{Key: 5, Type: TypeCString, Data: []byte("72\x00")}
	c := Tuple{Key: 0, Type: TypeByteArray, Data: []byte("72\x00")}

	if !a.Equal(b) {
		t.Error("same tag and payload should be equal regardless of key")
	}
	if a.Equal(c) {
		t.Error("different tags should not be equal")
	}
}
