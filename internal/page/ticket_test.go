package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketEncodeDecodeRoundTrip(t *testing.T) {
	ticket := Ticket{PageID: 123, Slot: 5}
	decoded := DecodeTicket(ticket.Encode())
	require.Equal(t, ticket, decoded)
	require.False(t, decoded.Large())
}

func TestLargeTicket(t *testing.T) {
	ticket := LargeTicket(42)
	require.True(t, ticket.Large())
	decoded := DecodeTicket(ticket.Encode())
	require.True(t, decoded.Large())
	require.Equal(t, uint32(42), decoded.PageID)
}

func TestTicketEncodedSize(t *testing.T) {
	ticket := Ticket{PageID: 1, Slot: 1}
	require.Len(t, ticket.Encode(), EncodedTicketSize)
}
