package bson

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte primary-key value: a 4-byte unix-seconds
// timestamp, a 5-byte process-random value, and a 3-byte monotonic
// counter (spec.md §4.7 / GLOSSARY "object-id"). It sorts chronologically
// as an ordered b-tree key when compared byte-for-byte.
type ObjectID [12]byte

var processRandom = func() [5]byte {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("bson: cannot seed object-id randomness: %v", err))
	}
	return b
}()

var idCounter uint32

// NewObjectID generates a fresh, time-ordered object id.
func NewObjectID() ObjectID {
	var id ObjectID
	ts := uint32(time.Now().Unix())
	id[0] = byte(ts >> 24)
	id[1] = byte(ts >> 16)
	id[2] = byte(ts >> 8)
	id[3] = byte(ts)
	copy(id[4:9], processRandom[:])
	c := atomic.AddUint32(&idCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Bytes returns the raw 12-byte form.
func (id ObjectID) Bytes() []byte { return id[:] }

// String returns the lowercase hex form.
func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// Compare orders two object ids byte-for-byte, which is also chronological
// order since the timestamp occupies the leading bytes.
func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ObjectIDFromBytes reads a 12-byte slice into an ObjectID.
func ObjectIDFromBytes(b []byte) ObjectID {
	var id ObjectID
	copy(id[:], b)
	return id
}
