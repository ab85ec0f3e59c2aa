package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeListPushPop(t *testing.T) {
	fl := NewFreeListPage(1, 256)
	accepted := fl.Push([]uint32{10, 20, 30})
	require.Equal(t, 3, accepted)
	require.Equal(t, uint32(3), fl.Count())

	id, ok := fl.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(30), id)
	require.Equal(t, uint32(2), fl.Count())
}

func TestFreeListEmpty(t *testing.T) {
	fl := NewFreeListPage(1, 256)
	require.True(t, fl.Empty())
	fl.Push([]uint32{1})
	require.False(t, fl.Empty())
	fl.Pop()
	require.True(t, fl.Empty())
}

func TestFreeListCapacityLimits(t *testing.T) {
	fl := NewFreeListPage(1, 64)
	capacity := fl.Capacity()
	ids := make([]uint32, capacity+10)
	for i := range ids {
		ids[i] = uint32(i)
	}
	accepted := fl.Push(ids)
	require.Equal(t, capacity, accepted)
	require.Equal(t, 0, fl.Room())
}

func TestFreeListNextPageIDRoundTrip(t *testing.T) {
	fl := NewFreeListPage(1, 256)
	require.Equal(t, uint32(0), fl.NextPageID())
	fl.SetNextPageID(99)
	require.Equal(t, uint32(99), fl.NextPageID())
}

func TestFreeListLoadRoundTrip(t *testing.T) {
	fl := NewFreeListPage(7, 256)
	fl.Push([]uint32{1, 2, 3})
	loaded := LoadFreeListPage(7, fl.Raw())
	require.Equal(t, uint32(3), loaded.Count())
	id, ok := loaded.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(3), id)
}
