// Package alloc implements the data-page allocator (spec.md §4.6): a
// structure keyed by remaining free bytes that picks a data page able to
// fit a requested payload, scoped to a single write transaction and
// discarded whole on rollback.
package alloc

import "sort"

// DefaultFloor is the minimum remaining-byte count a page must keep to stay
// in the allocator after a release (spec.md §4.6 default 16 bytes).
const DefaultFloor = 16

// MaxDirectoryEntries bounds how full a data page's directory may be before
// the allocator stops offering it for reuse (spec.md: "< u16::MAX/2
// entries").
const MaxDirectoryEntries = 0xFFFF / 2

// PageInfo describes one candidate data page's current free-space state.
type PageInfo struct {
	PageID        uint32
	Remaining     int
	DirectoryBarN int
}

// Allocator tracks data pages by remaining free space, so TryAllocate can
// find the first page that fits a payload without scanning every page.
// Its state lives only for the lifetime of one write transaction.
type Allocator struct {
	floor   int
	byPage  map[uint32]PageInfo
	sorted  []uint32 // page ids sorted by Remaining ascending; lazily rebuilt
	dirty   bool
}

// New creates an empty allocator for one write transaction.
func New() *Allocator {
	return &Allocator{floor: DefaultFloor, byPage: make(map[uint32]PageInfo)}
}

// Track registers (or updates) a page's free-space state with the
// allocator, making it a candidate for TryAllocate.
func (a *Allocator) Track(info PageInfo) {
	a.byPage[info.PageID] = info
	a.dirty = true
}

// Forget removes a page from consideration (e.g. it was freed).
func (a *Allocator) Forget(pageID uint32) {
	delete(a.byPage, pageID)
	a.dirty = true
}

func (a *Allocator) rebuild() {
	if !a.dirty {
		return
	}
	ids := make([]uint32, 0, len(a.byPage))
	for id := range a.byPage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return a.byPage[ids[i]].Remaining < a.byPage[ids[j]].Remaining
	})
	a.sorted = ids
	a.dirty = false
}

// TryAllocate returns the first tracked page whose remaining space is at
// least needed+2 (the two extra bytes reserve a new directory slot), or
// (0, false) if none fits — the caller should then allocate a fresh data
// page (spec.md §4.6).
func (a *Allocator) TryAllocate(needed int) (uint32, bool) {
	a.rebuild()
	want := needed + 2
	for _, id := range a.sorted {
		if a.byPage[id].Remaining >= want {
			return id, true
		}
	}
	return 0, false
}

// Release reinserts a page as a candidate after a deletion freed bytes in
// it, but only if its remaining space clears the floor and its directory
// has headroom (spec.md §4.6).
func (a *Allocator) Release(info PageInfo) {
	if info.Remaining < a.floor || info.DirectoryBarN >= MaxDirectoryEntries {
		a.Forget(info.PageID)
		return
	}
	a.Track(info)
}
