package page

import (
	"github.com/finchdb/finch/internal/dberr"
	"github.com/finchdb/finch/internal/rawpage"
)

// MagicTitle is the fixed ASCII prefix of the header page's magic title
// (spec.md §6: "Magic is an ASCII identifier beginning with \"PoloDB\"").
// finch keeps the same on-disk convention under its own name.
const MagicTitle = "finchDB Format"

// Version is the 4-byte version sequence written into new header pages and
// compared byte-wise at open.
const Version uint32 = 1

// Header page field offsets (spec.md §3 "Header page (id 0)").
const (
	offTitle      = 0  // 32 bytes
	offVersion    = 32 // 4 bytes
	offPageSize   = 36 // 4 bytes
	offWatermark  = 40 // 4 bytes
	offRootMeta   = 44 // 4 bytes
	offMetaID     = 48 // 4 bytes
	offMetaVer    = 52 // 4 bytes
	titleMaxBytes = 32

	// InlineFreeListOffset is the fixed offset of the inline free-list
	// region, independent of page size (spec.md §3).
	InlineFreeListOffset = 2048
	inlineCount          = 4 // bytes: count of populated inline ids
	inlineOverflowPtr    = 4 // bytes: pointer to first chained free-list page
	inlineReserved       = inlineCount + inlineOverflowPtr
)

// InlineCapacity returns ⌊(2048-8)/4⌋ page ids, the maximum the inline free
// list can hold before a page must fit between InlineFreeListOffset and the
// end of the page. For a page size smaller than InlineFreeListOffset plus
// the reserved header, the inline list degenerates to zero capacity and
// every reclaimed id goes straight to a chained free-list page — this is an
// explicit boundary decision (see DESIGN.md) for the "minimum page size"
// scenario in spec.md §8, since the inline region's offset is fixed rather
// than scaled to page size.
func InlineCapacity(pageSize int) int {
	avail := pageSize - InlineFreeListOffset - inlineReserved
	if avail <= 0 {
		return 0
	}
	return avail / 4
}

// HeaderPage wraps a raw page with typed accessors for the header fields.
type HeaderPage struct {
	raw      *rawpage.RawPage
	pageSize int
}

// NewHeader initializes a fresh header page for a brand-new database file.
func NewHeader(pageSize int) *HeaderPage {
	raw := rawpage.New(pageSize)
	h := &HeaderPage{raw: raw, pageSize: pageSize}
	h.raw.PutAt(offTitle, paddedTitle())
	h.raw.PutU32At(offVersion, Version)
	h.raw.PutU32At(offPageSize, uint32(pageSize))
	h.raw.PutU32At(offWatermark, 1) // page 0 is the header itself
	h.raw.PutU32At(offRootMeta, 0)
	h.raw.PutU32At(offMetaID, 0)
	h.raw.PutU32At(offMetaVer, 0)
	h.raw.PutU32At(InlineFreeListOffset, 0)                  // inline count
	h.raw.PutU32At(InlineFreeListOffset+inlineCount, 0)      // overflow ptr
	return h
}

func paddedTitle() []byte {
	b := make([]byte, titleMaxBytes)
	copy(b, MagicTitle)
	return b
}

// LoadHeader parses an existing header page, validating magic and version.
func LoadHeader(raw *rawpage.RawPage) (*HeaderPage, error) {
	title, _ := raw.GetAt(offTitle, titleMaxBytes)
	trimmed := trimZero(title)
	if len(trimmed) < len(MagicTitle) || string(trimmed[:len(MagicTitle)]) != MagicTitle {
		return nil, dberr.NotAValidDatabase
	}
	ver := raw.U32At(offVersion)
	if ver != Version {
		return nil, dberr.VersionMismatch
	}
	return &HeaderPage{raw: raw, pageSize: int(raw.U32At(offPageSize))}, nil
}

func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// Raw returns the underlying raw page (for persisting to disk).
func (h *HeaderPage) Raw() *rawpage.RawPage { return h.raw }

// PageSize returns the configured page size stored in the header.
func (h *HeaderPage) PageSize() int { return h.pageSize }

// Watermark returns one past the highest ever-allocated page id.
func (h *HeaderPage) Watermark() uint32 { return h.raw.U32At(offWatermark) }

// SetWatermark updates the watermark.
func (h *HeaderPage) SetWatermark(v uint32) { h.raw.PutU32At(offWatermark, v) }

// RootMetaPageID returns the page id of the root metadata / b-tree root.
func (h *HeaderPage) RootMetaPageID() uint32 { return h.raw.U32At(offRootMeta) }

// SetRootMetaPageID sets the root metadata page id.
func (h *HeaderPage) SetRootMetaPageID(v uint32) { h.raw.PutU32At(offRootMeta, v) }

// MetaID returns the meta-id counter.
func (h *HeaderPage) MetaID() uint32 { return h.raw.U32At(offMetaID) }

// SetMetaID sets the meta-id counter.
func (h *HeaderPage) SetMetaID(v uint32) { h.raw.PutU32At(offMetaID, v) }

// MetaVersion returns the meta-version counter.
func (h *HeaderPage) MetaVersion() uint32 { return h.raw.U32At(offMetaVer) }

// SetMetaVersion sets the meta-version counter.
func (h *HeaderPage) SetMetaVersion(v uint32) { h.raw.PutU32At(offMetaVer, v) }

// --- inline free list ---

// InlineCount returns the number of page ids currently stored inline.
func (h *HeaderPage) InlineCount() uint32 { return h.raw.U32At(InlineFreeListOffset) }

func (h *HeaderPage) setInlineCount(n uint32) { h.raw.PutU32At(InlineFreeListOffset, n) }

// OverflowPageID returns the head of the chained free-list, or 0 if none.
func (h *HeaderPage) OverflowPageID() uint32 {
	return h.raw.U32At(InlineFreeListOffset + inlineCount)
}

// SetOverflowPageID sets the head of the chained free-list.
func (h *HeaderPage) SetOverflowPageID(pid uint32) {
	h.raw.PutU32At(InlineFreeListOffset+inlineCount, pid)
}

func (h *HeaderPage) inlineSlotOffset(i int) int {
	return InlineFreeListOffset + inlineReserved + i*4
}

// InlinePop removes and returns the last inline id (LIFO), plus whether the
// list was non-empty.
func (h *HeaderPage) InlinePop() (uint32, bool) {
	n := h.InlineCount()
	if n == 0 {
		return 0, false
	}
	id := h.raw.U32At(h.inlineSlotOffset(int(n - 1)))
	h.setInlineCount(n - 1)
	return id, true
}

// InlinePush appends ids to the inline list, returning how many were
// accepted before the inline capacity was exhausted.
func (h *HeaderPage) InlinePush(ids []uint32) int {
	capacity := InlineCapacity(h.pageSize)
	n := int(h.InlineCount())
	accepted := 0
	for _, id := range ids {
		if n >= capacity {
			break
		}
		h.raw.PutU32At(h.inlineSlotOffset(n), id)
		n++
		accepted++
	}
	h.setInlineCount(uint32(n))
	return accepted
}

// InlineRoom reports how many more ids the inline list can accept.
func (h *HeaderPage) InlineRoom() int {
	return InlineCapacity(h.pageSize) - int(h.InlineCount())
}
