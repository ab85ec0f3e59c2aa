package page

import "github.com/finchdb/finch/internal/rawpage"

// LargeSlot is the sentinel slot index flagging a ticket's "large" form: the
// page id is the head of a chain (large-data or overflow) rather than a
// slot within a data page (spec.md §3 "Data ticket", §6 "Ticket").
const LargeSlot uint16 = 0xFFFF

// Ticket is the opaque (page id, slot index) handle to a stored payload.
type Ticket struct {
	PageID uint32
	Slot   uint16
}

// Large reports whether this ticket addresses a chain head rather than a
// data-page slot.
func (t Ticket) Large() bool { return t.Slot == LargeSlot }

// LargeTicket builds a ticket addressing the head of a chain.
func LargeTicket(headPageID uint32) Ticket {
	return Ticket{PageID: headPageID, Slot: LargeSlot}
}

// EncodedTicketSize is the on-disk size of a ticket (4-byte page id + 2-byte
// slot index).
const EncodedTicketSize = 6

// Encode serializes the ticket to its 6-byte wire form.
func (t Ticket) Encode() []byte {
	buf := make([]byte, EncodedTicketSize)
	rp := rawpage.FromBytes(buf)
	rp.PutU32At(0, t.PageID)
	rp.PutU16At(4, t.Slot)
	return buf
}

// DecodeTicket reads a ticket from its 6-byte wire form.
func DecodeTicket(b []byte) Ticket {
	rp := rawpage.FromBytes(b)
	return Ticket{PageID: rp.U32At(0), Slot: rp.U16At(4)}
}
