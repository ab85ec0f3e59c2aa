package page

import "github.com/finchdb/finch/internal/rawpage"

// Free-list page layout (spec.md §3): 2-byte magic, 4-byte count, 4-byte
// next-page pid, then count*4-byte reclaimed page ids.
const (
	flOffCount = 2
	flOffNext  = 6
	flOffIDs   = 10
)

// FreeListPage is a chained page of reclaimed page ids.
type FreeListPage struct {
	raw      *rawpage.RawPage
	id       uint32
	pageSize int
}

// NewFreeListPage initializes a fresh, empty free-list page.
func NewFreeListPage(id uint32, pageSize int) *FreeListPage {
	raw := rawpage.New(pageSize)
	WriteMagic(raw.Bytes(), KindFreeList)
	raw.PutU32At(flOffCount, 0)
	raw.PutU32At(flOffNext, 0)
	return &FreeListPage{raw: raw, id: id, pageSize: pageSize}
}

// LoadFreeListPage wraps an existing free-list page's raw bytes.
func LoadFreeListPage(id uint32, raw *rawpage.RawPage) *FreeListPage {
	return &FreeListPage{raw: raw, id: id, pageSize: raw.Len()}
}

func (f *FreeListPage) Raw() *rawpage.RawPage { return f.raw }
func (f *FreeListPage) ID() uint32            { return f.id }

// Count returns the number of ids currently stored.
func (f *FreeListPage) Count() uint32 { return f.raw.U32At(flOffCount) }

// NextPageID returns the next chained free-list page, or 0 if this is the
// tail of the chain.
func (f *FreeListPage) NextPageID() uint32 { return f.raw.U32At(flOffNext) }

// SetNextPageID sets the next chained free-list page.
func (f *FreeListPage) SetNextPageID(pid uint32) { f.raw.PutU32At(flOffNext, pid) }

// Capacity returns the maximum number of ids this page can hold.
func (f *FreeListPage) Capacity() int {
	return (f.pageSize - flOffIDs) / 4
}

// Room reports how many more ids this page can accept.
func (f *FreeListPage) Room() int {
	return f.Capacity() - int(f.Count())
}

// Push appends ids, returning how many were accepted before the page
// filled up.
func (f *FreeListPage) Push(ids []uint32) int {
	n := int(f.Count())
	accepted := 0
	for _, id := range ids {
		if n >= f.Capacity() {
			break
		}
		f.raw.PutU32At(flOffIDs+n*4, id)
		n++
		accepted++
	}
	f.raw.PutU32At(flOffCount, uint32(n))
	return accepted
}

// Pop removes and returns the last id, plus whether the page had any.
func (f *FreeListPage) Pop() (uint32, bool) {
	n := f.Count()
	if n == 0 {
		return 0, false
	}
	id := f.raw.U32At(flOffIDs + int(n-1)*4)
	f.raw.PutU32At(flOffCount, n-1)
	return id, true
}

// Empty reports whether the page holds no reclaimed ids.
func (f *FreeListPage) Empty() bool { return f.Count() == 0 }
