package bson

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidKey is returned when a field key is empty or contains an
// embedded zero byte, both of which would make the zero-terminated key
// encoding ambiguous.
var ErrInvalidKey = errors.New("bson: invalid field key")

// ErrInvalidString is returned when a string value contains an embedded
// zero byte.
var ErrInvalidString = errors.New("bson: string value contains a zero byte")

// ErrUnknownKind is returned when a value or field tag byte does not match
// any known Kind during decode.
var ErrUnknownKind = errors.New("bson: unknown value tag")

// ErrTruncated is returned when a buffer ends before a field or value's
// encoding is complete.
var ErrTruncated = errors.New("bson: truncated document")

// Encode serializes a document as a sequence of zero-terminated-key,
// typed-value pairs followed by a single zero terminator byte (spec.md
// §4.7). The "_id" field, if present, is always written first.
func Encode(d *Document) ([]byte, error) {
	buf := make([]byte, 0, 64)
	for _, f := range d.orderedFields() {
		if len(f.Key) == 0 || containsZero(f.Key) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, f.Key)
		}
		buf = append(buf, f.Key...)
		buf = append(buf, 0)
		enc, err := encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	buf = append(buf, 0)
	return buf, nil
}

// Decode parses a document previously produced by Encode. Decode(Encode(d))
// reproduces d's fields in "_id"-first order (spec.md §4.7's round-trip
// law), which is a no-op reordering for documents already in that order.
func Decode(b []byte) (*Document, error) {
	d := NewDoc()
	pos := 0
	for {
		if pos >= len(b) {
			return nil, ErrTruncated
		}
		if b[pos] == 0 {
			return d, nil
		}
		keyStart := pos
		for pos < len(b) && b[pos] != 0 {
			pos++
		}
		if pos >= len(b) {
			return nil, ErrTruncated
		}
		key := string(b[keyStart:pos])
		pos++ // skip key terminator
		if pos >= len(b) {
			return nil, ErrTruncated
		}
		v, n, err := decodeValue(Kind(b[pos]), b[pos+1:])
		if err != nil {
			return nil, err
		}
		pos += 1 + n
		d.Fields = append(d.Fields, Field{Key: key, Value: v})
	}
}

func containsZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

// encodeValue writes a value's tag byte followed by its payload.
func encodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindDouble:
		var b [9]byte
		b[0] = byte(KindDouble)
		binary.BigEndian.PutUint64(b[1:], math.Float64bits(v.Double))
		return b[:], nil

	case KindString:
		if containsZero(v.Str) {
			return nil, ErrInvalidString
		}
		buf := make([]byte, 0, len(v.Str)+2)
		buf = append(buf, byte(KindString))
		buf = append(buf, v.Str...)
		buf = append(buf, 0)
		return buf, nil

	case KindBinary:
		lenBuf := make([]byte, 9)
		n := PutUvarint(lenBuf, uint64(len(v.Bin)))
		buf := make([]byte, 0, 1+n+len(v.Bin))
		buf = append(buf, byte(KindBinary))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, v.Bin...)
		return buf, nil

	case KindObjectID:
		buf := make([]byte, 0, 13)
		buf = append(buf, byte(KindObjectID))
		buf = append(buf, v.OID[:]...)
		return buf, nil

	case KindBoolean:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(KindBoolean), b}, nil

	case KindUTCDate:
		buf := make([]byte, 10)
		buf[0] = byte(KindUTCDate)
		n := PutVarint(buf[1:], v.UTCMilli)
		return buf[:1+n], nil

	case KindNull:
		return []byte{byte(KindNull)}, nil

	case KindInt:
		buf := make([]byte, 10)
		buf[0] = byte(KindInt)
		n := PutVarint(buf[1:], v.Int)
		return buf[:1+n], nil

	case KindArray:
		var content []byte
		for _, elem := range v.Array {
			enc, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			content = append(content, enc...)
		}
		lenBuf := make([]byte, 9)
		n := PutUvarint(lenBuf, uint64(len(content)))
		buf := make([]byte, 0, 1+n+len(content))
		buf = append(buf, byte(KindArray))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, content...)
		return buf, nil

	case KindDocument:
		inner, err := Encode(v.Doc)
		if err != nil {
			return nil, err
		}
		lenBuf := make([]byte, 9)
		n := PutUvarint(lenBuf, uint64(len(inner)))
		buf := make([]byte, 0, 1+n+len(inner))
		buf = append(buf, byte(KindDocument))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, inner...)
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownKind, byte(v.Kind))
	}
}

// decodeValue reads one value's payload (the tag byte has already been
// consumed) and returns the value plus the number of payload bytes read.
func decodeValue(kind Kind, b []byte) (Value, int, error) {
	switch kind {
	case KindDouble:
		if len(b) < 8 {
			return Value{}, 0, ErrTruncated
		}
		bits := binary.BigEndian.Uint64(b[:8])
		return NewDouble(math.Float64frombits(bits)), 8, nil

	case KindString:
		end := indexZero(b)
		if end < 0 {
			return Value{}, 0, ErrTruncated
		}
		return NewString(string(b[:end])), end + 1, nil

	case KindBinary:
		l, n := Uvarint(b)
		if n < 0 || uint64(len(b)-n) < l {
			return Value{}, 0, ErrTruncated
		}
		data := make([]byte, l)
		copy(data, b[n:n+int(l)])
		return NewBinary(data), n + int(l), nil

	case KindObjectID:
		if len(b) < 12 {
			return Value{}, 0, ErrTruncated
		}
		return ObjectIDValue(ObjectIDFromBytes(b[:12])), 12, nil

	case KindBoolean:
		if len(b) < 1 {
			return Value{}, 0, ErrTruncated
		}
		return NewBool(b[0] != 0), 1, nil

	case KindUTCDate:
		v, n := Varint(b)
		if n < 0 {
			return Value{}, 0, ErrTruncated
		}
		return NewUTCDate(v), n, nil

	case KindNull:
		return NewNull(), 0, nil

	case KindInt:
		v, n := Varint(b)
		if n < 0 {
			return Value{}, 0, ErrTruncated
		}
		return NewInt(v), n, nil

	case KindArray:
		l, n := Uvarint(b)
		if n < 0 || uint64(len(b)-n) < l {
			return Value{}, 0, ErrTruncated
		}
		content := b[n : n+int(l)]
		var elems []Value
		pos := 0
		for pos < len(content) {
			ev, en, err := decodeValue(Kind(content[pos]), content[pos+1:])
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, ev)
			pos += 1 + en
		}
		return NewArray(elems), n + int(l), nil

	case KindDocument:
		l, n := Uvarint(b)
		if n < 0 || uint64(len(b)-n) < l {
			return Value{}, 0, ErrTruncated
		}
		inner, err := Decode(b[n : n+int(l)])
		if err != nil {
			return Value{}, 0, err
		}
		return NewDocument(inner), n + int(l), nil

	default:
		return Value{}, 0, fmt.Errorf("%w: %#x", ErrUnknownKind, byte(kind))
	}
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// EncodeValue serializes a single value, tag byte included. It is exported
// for internal/btree, which stores a key's tag and payload separately in
// a node item record but needs the same encoding rules bson.Encode uses
// for document fields.
func EncodeValue(v Value) ([]byte, error) { return encodeValue(v) }

// DecodeTaggedValue parses a single value's payload given its kind,
// mirroring decodeValue. Exported for internal/btree's key decoding.
func DecodeTaggedValue(kind Kind, payload []byte) (Value, int, error) {
	return decodeValue(kind, payload)
}

// ShouldExternalize reports whether an encoded byte span of length n is
// large enough that it must live on a chained large-data page rather than
// in a single data-page slot (spec.md SUPPLEMENTED FEATURES, lifted from the
// original engine's btree module: the threshold is half a page).
func ShouldExternalize(n, pageSize int) bool {
	return n > pageSize/2
}
