package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchdb/finch/internal/rawpage"
)

func pageWith(v uint32) *rawpage.RawPage {
	p := rawpage.New(16)
	p.PutU32At(0, v)
	return p
}

func TestGetInsertRoundTrip(t *testing.T) {
	c := New(2)
	_, ok := c.Get(1)
	require.False(t, ok)

	c.Insert(1, pageWith(100))
	got, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, uint32(100), got.U32At(0))
}

func TestInsertReplacesInPlace(t *testing.T) {
	c := New(2)
	c.Insert(1, pageWith(1))
	c.Insert(1, pageWith(2))
	require.Equal(t, 1, c.Len())
	got, _ := c.Get(1)
	require.Equal(t, uint32(2), got.U32At(0))
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Insert(1, pageWith(1))
	c.Insert(2, pageWith(2))
	// Touch 1 so 2 becomes the least recently used entry.
	_, _ = c.Get(1)
	c.Insert(3, pageWith(3))

	_, ok := c.Get(2)
	require.False(t, ok, "page 2 should have been evicted")
	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
}

func TestClear(t *testing.T) {
	c := New(4)
	c.Insert(1, pageWith(1))
	c.Insert(2, pageWith(2))
	c.Clear()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestRemove(t *testing.T) {
	c := New(4)
	c.Insert(1, pageWith(1))
	c.Remove(1)
	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestZeroCapacityClampedToOne(t *testing.T) {
	c := New(0)
	c.Insert(1, pageWith(1))
	c.Insert(2, pageWith(2))
	require.Equal(t, 1, c.Len())
}
