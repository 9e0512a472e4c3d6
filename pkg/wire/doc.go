// Package wire defines the byte-packed dictionary format used between the
// fitdis host and device.
//
// A dictionary is an ordered sequence of typed key/value tuples written into a
// caller-supplied, fixed-capacity buffer. All multi-byte fields are
// little-endian.
//
//	dictionary := count:u8 tuple*count
//	tuple      := key:u32 type:u8 length:u16 payload[length]
//
// # Value Types
//
//   - TypeByteArray: raw bytes
//   - TypeCString: text, payload includes the NUL terminator
//   - TypeUint: unsigned integer, 1, 2 or 4 bytes wide
//   - TypeInt: signed integer, 1, 2 or 4 bytes wide
//
// # Buffers
//
// Encode never performs a partial write: the total size is computed before
// any byte is touched. Decode returns a read-only view; Tuple payloads alias
// the input slice and are only valid while the caller keeps that slice
// intact. Use Tuple.Clone to keep a value beyond that window.
package wire
