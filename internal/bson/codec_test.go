package bson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 127, -127, 255, 256, -256, 1 << 20, -(1 << 20), 1<<62 - 1, -(1 << 62)}
	for _, c := range cases {
		buf := make([]byte, 10)
		n := PutVarint(buf, c)
		got, used := Varint(buf[:n])
		require.Equal(t, n, used)
		require.Equal(t, c, got)
		require.LessOrEqual(t, n, 9)
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 254, 255, 256, 1 << 32, 1<<64 - 1}
	for _, c := range cases {
		buf := make([]byte, 10)
		n := PutUvarint(buf, c)
		got, used := Uvarint(buf[:n])
		require.Equal(t, n, used)
		require.Equal(t, c, got)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	d := NewDoc()
	d.Set("name", NewString("finch"))
	d.Set("_id", ObjectIDValue(NewObjectID()))
	d.Set("age", NewInt(-7))
	d.Set("active", NewBool(true))
	d.Set("score", NewDouble(3.5))
	d.Set("tags", NewArray([]Value{NewString("a"), NewString("b")}))
	d.Set("nested", NewDocument(func() *Document {
		nd := NewDoc()
		nd.Set("x", NewInt(1))
		return nd
	}()))

	encoded, err := Encode(d)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, IDFieldName, decoded.Fields[0].Key, "_id must decode first")

	name, ok := decoded.Get("name")
	require.True(t, ok)
	require.Equal(t, "finch", name.Str)

	age, ok := decoded.Get("age")
	require.True(t, ok)
	require.Equal(t, int64(-7), age.Int)

	tags, ok := decoded.Get("tags")
	require.True(t, ok)
	require.Len(t, tags.Array, 2)

	nested, ok := decoded.Get("nested")
	require.True(t, ok)
	inner, ok := nested.Doc.Get("x")
	require.True(t, ok)
	require.Equal(t, int64(1), inner.Int)
}

func TestEmptyKeyRejected(t *testing.T) {
	d := NewDoc()
	d.Fields = append(d.Fields, Field{Key: "", Value: NewNull()})
	_, err := Encode(d)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestShouldExternalize(t *testing.T) {
	require.False(t, ShouldExternalize(100, 4096))
	require.True(t, ShouldExternalize(3000, 4096))
}
