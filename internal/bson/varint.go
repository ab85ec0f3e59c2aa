// Package bson implements the document codec described in spec.md §4.7:
// a self-describing, typed field encoding used both for stored documents
// and for b-tree keys, plus the "variable-length integer" length-prefix
// encoding the GLOSSARY defines.
package bson

import "errors"

// ErrVarintOverflow is returned when a variable-length integer's encoded
// byte span exceeds the 1-9 byte maximum.
var ErrVarintOverflow = errors.New("bson: variable-length integer overflow")

// ErrVarintTruncated is returned when a buffer ends before a variable-
// length integer's declared span is satisfied.
var ErrVarintTruncated = errors.New("bson: variable-length integer truncated")

// VLI is finch's variable-length integer format (GLOSSARY): a single
// marker byte followed by 0-8 big-endian magnitude bytes, a 1-9 byte span
// with exactly one byte of fixed overhead in the worst case. The marker's
// high bit (0x80) flags a negative value; the low 7 bits are the magnitude
// byte count N. Decoding reads N big-endian bytes as the magnitude and,
// if the sign bit is set, negates it.
//
// This resolves an Open Question in spec.md (the source names the format
// but not its bit layout) in the simplest way that satisfies every
// constraint the GLOSSARY states; see DESIGN.md.
const vliSignBit = 0x80

// PutUvarint encodes a non-negative uint64 into buf (which must have room
// for at least 9 bytes) and returns the number of bytes written.
func PutUvarint(buf []byte, x uint64) int {
	n := magnitudeLen(x)
	buf[0] = byte(n)
	v := x
	for i := n; i >= 1; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return n + 1
}

// Uvarint decodes a non-negative uint64 from buf, returning the value and
// the number of bytes consumed, or (0, -1) on a truncated/invalid buffer.
func Uvarint(buf []byte) (uint64, int) {
	if len(buf) < 1 {
		return 0, -1
	}
	marker := buf[0]
	if marker&vliSignBit != 0 {
		return 0, -1 // caller asked for unsigned, got a signed encoding
	}
	n := int(marker)
	if n > 8 || len(buf) < n+1 {
		return 0, -1
	}
	var x uint64
	for i := 1; i <= n; i++ {
		x = x<<8 | uint64(buf[i])
	}
	return x, n + 1
}

// PutVarint encodes a signed int64 into buf and returns the bytes written.
func PutVarint(buf []byte, x int64) int {
	neg := x < 0
	mag := uint64(x)
	if neg {
		mag = uint64(-x)
	}
	n := magnitudeLen(mag)
	marker := byte(n)
	if neg {
		marker |= vliSignBit
	}
	buf[0] = marker
	v := mag
	for i := n; i >= 1; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return n + 1
}

// Varint decodes a signed int64 from buf, returning the value and the
// number of bytes consumed, or (0, -1) on a truncated buffer.
func Varint(buf []byte) (int64, int) {
	if len(buf) < 1 {
		return 0, -1
	}
	marker := buf[0]
	neg := marker&vliSignBit != 0
	n := int(marker &^ vliSignBit)
	if n > 8 || len(buf) < n+1 {
		return 0, -1
	}
	var mag uint64
	for i := 1; i <= n; i++ {
		mag = mag<<8 | uint64(buf[i])
	}
	if neg {
		return -int64(mag), n + 1
	}
	return int64(mag), n + 1
}

// VarintSize returns the encoded span in bytes for a signed value.
func VarintSize(x int64) int {
	mag := uint64(x)
	if x < 0 {
		mag = uint64(-x)
	}
	return magnitudeLen(mag) + 1
}

// UvarintSize returns the encoded span in bytes for an unsigned value.
func UvarintSize(x uint64) int { return magnitudeLen(x) + 1 }

func magnitudeLen(x uint64) int {
	n := 0
	for x > 0 {
		n++
		x >>= 8
	}
	return n
}
