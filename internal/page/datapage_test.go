package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataPageInsertGet(t *testing.T) {
	dp := NewDataPage(1, 256)
	slot, err := dp.Insert([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint16(0), slot)

	got, ok := dp.Get(slot)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, uint16(1), dp.RecordCount())
	require.Equal(t, uint16(1), dp.BarCount())
}

func TestDataPageDeleteKeepsTicketStable(t *testing.T) {
	dp := NewDataPage(1, 256)
	s1, _ := dp.Insert([]byte("a"))
	s2, _ := dp.Insert([]byte("b"))

	require.True(t, dp.Delete(s1))
	require.Equal(t, uint16(1), dp.RecordCount())
	require.Equal(t, uint16(2), dp.BarCount(), "bar count never shrinks")

	_, ok := dp.Get(s1)
	require.False(t, ok)
	got, ok := dp.Get(s2)
	require.True(t, ok)
	require.Equal(t, []byte("b"), got)
}

func TestDataPageDeleteTwiceFails(t *testing.T) {
	dp := NewDataPage(1, 256)
	s, _ := dp.Insert([]byte("x"))
	require.True(t, dp.Delete(s))
	require.False(t, dp.Delete(s))
}

func TestDataPageOverflowReturnsErrPageFull(t *testing.T) {
	dp := NewDataPage(1, 32)
	_, err := dp.Insert(make([]byte, 100))
	require.ErrorIs(t, err, ErrPageFull)
}

func TestDataPageEmpty(t *testing.T) {
	dp := NewDataPage(1, 256)
	require.True(t, dp.Empty())
	s, _ := dp.Insert([]byte("x"))
	require.False(t, dp.Empty())
	dp.Delete(s)
	require.True(t, dp.Empty())
}

func TestDataPageLoadRoundTrip(t *testing.T) {
	dp := NewDataPage(5, 256)
	dp.Insert([]byte("payload"))

	loaded := LoadDataPage(5, dp.Raw())
	got, ok := loaded.Get(0)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), got)
}

func TestDataPageRemainingShrinksAsRecordsAdded(t *testing.T) {
	dp := NewDataPage(1, 256)
	before := dp.Remaining()
	dp.Insert([]byte("12345"))
	after := dp.Remaining()
	require.Less(t, after, before)
}
