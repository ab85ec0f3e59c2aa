package page

import "github.com/finchdb/finch/internal/rawpage"

// ChainPage is the shared layout behind both large-data pages and overflow
// pages (spec.md §3): 2-byte magic, 2-byte payload length, 4-byte next-page
// pid, then payload bytes. A chain terminates when next-page is 0.
//
// Large-data pages (finchDB's Kind=KindLargeData) hold document payloads
// that outgrew a single data-page slot; overflow pages (Kind=KindOverflow)
// hold b-tree key bytes that outgrew the inline key capacity. They are two
// distinct page kinds carrying the same physical layout, matching
// spec.md's description of each as a separate page type.
const (
	chOffLen  = 2
	chOffNext = 4
	chOffData = 8
)

// ChainPage is a node in a large-data or overflow chain.
type ChainPage struct {
	raw      *rawpage.RawPage
	id       uint32
	kind     Kind
	pageSize int
}

// NewChainPage initializes a fresh chain page of the given kind.
func NewChainPage(id uint32, kind Kind, pageSize int) *ChainPage {
	raw := rawpage.New(pageSize)
	WriteMagic(raw.Bytes(), kind)
	raw.PutU16At(chOffLen, 0)
	raw.PutU32At(chOffNext, 0)
	return &ChainPage{raw: raw, id: id, kind: kind, pageSize: pageSize}
}

// LoadChainPage wraps an existing chain page's raw bytes.
func LoadChainPage(id uint32, kind Kind, raw *rawpage.RawPage) *ChainPage {
	return &ChainPage{raw: raw, id: id, kind: kind, pageSize: raw.Len()}
}

func (c *ChainPage) Raw() *rawpage.RawPage { return c.raw }
func (c *ChainPage) ID() uint32            { return c.id }
func (c *ChainPage) Kind() Kind            { return c.kind }

// Capacity returns the maximum payload bytes a single chain page can hold.
func (c *ChainPage) Capacity() int { return c.pageSize - chOffData }

// PayloadLen returns the number of payload bytes stored in this page.
func (c *ChainPage) PayloadLen() int { return int(c.raw.U16At(chOffLen)) }

// NextPageID returns the next page in the chain, or 0 if this is the tail.
func (c *ChainPage) NextPageID() uint32 { return c.raw.U32At(chOffNext) }

// SetNextPageID sets the next page in the chain.
func (c *ChainPage) SetNextPageID(pid uint32) { c.raw.PutU32At(chOffNext, pid) }

// SetPayload writes up to Capacity() bytes of payload into this page.
func (c *ChainPage) SetPayload(b []byte) {
	n := len(b)
	if n > c.Capacity() {
		n = c.Capacity()
	}
	c.raw.PutU16At(chOffLen, uint16(n))
	c.raw.PutAt(chOffData, b[:n])
}

// Payload returns a copy of this page's payload bytes.
func (c *ChainPage) Payload() []byte {
	n := c.PayloadLen()
	out, _ := c.raw.GetAt(chOffData, n)
	return out
}
