// Package wire provides the little-endian byte codec primitives used to
// encode and decode the fixed-width fields of a wire message. Primitives
// never fail: bounds checking against a message object's capacity and size
// is the caller's responsibility.
package wire

import "math"

// HeaderSize is the fixed size, in bytes, of every message header: a
// 3-byte little-endian length field followed by a 1-byte type field.
const HeaderSize = 4

// MaxPacketSize is the protocol-wide cap on a single message, header
// included.
const MaxPacketSize = 10 * 1024 * 1024

// MaxStringLen is the largest byte length a length-prefixed string may
// declare (the length prefix is an unsigned 16-bit integer).
const MaxStringLen = 1<<16 - 1

// PutUint16 writes v at b[0:2], little-endian.
func PutUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// Uint16 reads a little-endian uint16 from b[0:2].
func Uint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// PutUint24 writes the low 24 bits of v at b[0:3], little-endian.
func PutUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Uint24 reads a little-endian 24-bit unsigned integer from b[0:3] and
// zero-extends it into a uint32. No sign extension is applied, for either
// the signed or unsigned accessor — this is documented wire behavior, not
// an oversight.
func Uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// PutUint32 writes v at b[0:4], little-endian.
func PutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Uint32 reads a little-endian uint32 from b[0:4].
func Uint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// PutUint64 writes v at b[0:8], little-endian.
func PutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Uint64 reads a little-endian uint64 from b[0:8].
func Uint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// PutFloat32 writes the IEEE-754 little-endian bits of v at b[0:4].
func PutFloat32(b []byte, v float32) {
	PutUint32(b, math.Float32bits(v))
}

// Float32 reads an IEEE-754 little-endian float32 from b[0:4].
func Float32(b []byte) float32 {
	return math.Float32frombits(Uint32(b))
}

// PutFloat64 writes the IEEE-754 little-endian bits of v at b[0:8].
func PutFloat64(b []byte, v float64) {
	PutUint64(b, math.Float64bits(v))
}

// Float64 reads an IEEE-754 little-endian float64 from b[0:8].
func Float64(b []byte) float64 {
	return math.Float64frombits(Uint64(b))
}
