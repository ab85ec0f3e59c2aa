// Package btree implements the ordered primary-key index described in
// spec.md §3-§4: item-capacity derived from page size, strictly ordered
// primitive keys, split on overflow, merge/borrow on underflow, and an
// explicit path-stack cursor rather than recursion.
package btree

import (
	"bytes"
	"fmt"

	"github.com/finchdb/finch/internal/bson"
	"github.com/finchdb/finch/internal/dberr"
)

// Key is a b-tree key: one of the four ordered primitive kinds spec.md
// allows (integers, booleans, object ids, strings). Any other bson.Kind
// is rejected by NewKey.
type Key struct {
	v bson.Value
}

// NewKey validates and wraps a bson.Value as a key.
func NewKey(v bson.Value) (Key, error) {
	switch v.Kind {
	case bson.KindInt, bson.KindBoolean, bson.KindObjectID, bson.KindString:
		return Key{v: v}, nil
	default:
		return Key{}, fmt.Errorf("%w: kind %#x", dberr.NotAValidKeyType, byte(v.Kind))
	}
}

// IntKey, BoolKey, StringKey and ObjectIDKey are convenience constructors.
func IntKey(i int64) Key               { return Key{v: bson.NewInt(i)} }
func BoolKey(b bool) Key               { return Key{v: bson.NewBool(b)} }
func StringKey(s string) Key           { return Key{v: bson.NewString(s)} }
func ObjectIDKey(id bson.ObjectID) Key { return Key{v: bson.ObjectIDValue(id)} }

// Kind returns the key's underlying bson type tag.
func (k Key) Kind() bson.Kind { return k.v.Kind }

// Value returns the wrapped bson.Value.
func (k Key) Value() bson.Value { return k.v }

// Encode serializes the key's tag and payload, excluding any node-level
// ticket framing (internal/page.Item stores those separately).
func (k Key) Encode() (tag byte, payload []byte, err error) {
	enc, err := bson.EncodeValue(k.v)
	if err != nil {
		return 0, nil, err
	}
	return enc[0], enc[1:], nil
}

// DecodeKey reverses Encode.
func DecodeKey(tag byte, payload []byte) (Key, error) {
	v, _, err := bson.DecodeTaggedValue(bson.Kind(tag), payload)
	if err != nil {
		return Key{}, err
	}
	return NewKey(v)
}

// Compare orders two keys. Comparing across kinds is an error (spec.md
// §3: "cross-type comparison is an error").
func Compare(a, b Key) (int, error) {
	if a.v.Kind != b.v.Kind {
		return 0, fmt.Errorf("%w: %#x vs %#x", dberr.NotAValidKeyType, byte(a.v.Kind), byte(b.v.Kind))
	}
	switch a.v.Kind {
	case bson.KindInt:
		switch {
		case a.v.Int < b.v.Int:
			return -1, nil
		case a.v.Int > b.v.Int:
			return 1, nil
		default:
			return 0, nil
		}
	case bson.KindBoolean:
		if a.v.Bool == b.v.Bool {
			return 0, nil
		}
		if !a.v.Bool {
			return -1, nil
		}
		return 1, nil
	case bson.KindObjectID:
		return a.v.OID.Compare(b.v.OID), nil
	case bson.KindString:
		return bytes.Compare([]byte(a.v.Str), []byte(b.v.Str)), nil
	default:
		return 0, fmt.Errorf("%w: %#x", dberr.NotAValidKeyType, byte(a.v.Kind))
	}
}
