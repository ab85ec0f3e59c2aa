package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleItem(key string, left uint32) Item {
	return Item{
		LeftChild:     left,
		KeyType:       0x02,
		KeyBytes:      []byte(key),
		PayloadTicket: Ticket{PageID: 9, Slot: 1},
	}
}

func TestNodeIsLeaf(t *testing.T) {
	n := NewNode(1, 4096)
	n.Items = []Item{sampleItem("a", 0), sampleItem("b", 0)}
	require.True(t, n.IsLeaf())

	n.Items[0].LeftChild = 3
	require.False(t, n.IsLeaf())
}

func TestNodeIsLeafFalseWithRightChild(t *testing.T) {
	n := NewNode(1, 4096)
	n.RightChild = 7
	require.False(t, n.IsLeaf())
}

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := NewNode(1, 4096)
	n.Items = []Item{sampleItem("apple", 0), sampleItem("banana", 0)}
	n.RightChild = 0

	raw, err := n.Encode()
	require.NoError(t, err)

	decoded, err := DecodeNode(1, raw)
	require.NoError(t, err)
	require.Len(t, decoded.Items, 2)
	require.Equal(t, []byte("apple"), decoded.Items[0].KeyBytes)
	require.Equal(t, []byte("banana"), decoded.Items[1].KeyBytes)
	require.Equal(t, Ticket{PageID: 9, Slot: 1}, decoded.Items[0].PayloadTicket)
}

func TestNodeEncodeWithExternalKey(t *testing.T) {
	n := NewNode(1, 4096)
	n.Items = []Item{{
		LeftChild:     0,
		KeyType:       0x02,
		KeyExternal:   true,
		KeyTicket:     Ticket{PageID: 55, Slot: 3},
		PayloadTicket: Ticket{PageID: 9, Slot: 1},
	}}

	raw, err := n.Encode()
	require.NoError(t, err)
	decoded, err := DecodeNode(1, raw)
	require.NoError(t, err)
	require.True(t, decoded.Items[0].KeyExternal)
	require.Equal(t, Ticket{PageID: 55, Slot: 3}, decoded.Items[0].KeyTicket)
}

func TestNodeEncodeOverflowsReturnsErrPageFull(t *testing.T) {
	n := NewNode(1, 64)
	for i := 0; i < 50; i++ {
		n.Items = append(n.Items, sampleItem("some long key content here", 0))
	}
	_, err := n.Encode()
	require.ErrorIs(t, err, ErrPageFull)
}

func TestCapacityScalesWithPageSize(t *testing.T) {
	small := Capacity(512)
	large := Capacity(4096)
	require.Greater(t, large, small)
	require.Greater(t, small, 0)
}

func TestNodeRemainingShrinksAsItemsAdded(t *testing.T) {
	n := NewNode(1, 4096)
	before := n.Remaining()
	n.Items = append(n.Items, sampleItem("x", 0))
	require.Less(t, n.Remaining(), before)
}
