package page

import "github.com/finchdb/finch/internal/rawpage"

// Data page layout (spec.md §3): 2-byte magic, 2-byte record count, 2-byte
// bar count, 8 preserved bytes, then a top-growing directory of 2-byte
// "bars" (each the start offset of one record) and a bottom-growing array
// of record bytes. Each record stores its own 2-byte length prefix
// immediately at its bar offset, so deleting a record only needs to zero
// that length prefix in place — the directory itself is never rewritten,
// which is how "the bar count only grows within a page's lifetime" while
// the ticket (page id, bar index) stays stable until the whole page is
// freed. A record whose stored length is 0 is logically deleted: its begin
// and end offset coincide, matching spec.md's description exactly.
const (
	dpOffRecCount = 2
	dpOffBarCount = 4
	dpHeaderSize  = 14 // magic(2) + recCount(2) + barCount(2) + reserved(8)
	dpBarEntry    = 2
	dpRecLenSize  = 2
)

// DataPage stores document payloads addressed by (page id, bar index)
// tickets.
type DataPage struct {
	raw      *rawpage.RawPage
	id       uint32
	pageSize int
}

// NewDataPage initializes a fresh, empty data page.
func NewDataPage(id uint32, pageSize int) *DataPage {
	raw := rawpage.New(pageSize)
	WriteMagic(raw.Bytes(), KindData)
	raw.PutU16At(dpOffRecCount, 0)
	raw.PutU16At(dpOffBarCount, 0)
	return &DataPage{raw: raw, id: id, pageSize: pageSize}
}

// LoadDataPage wraps an existing data page's raw bytes.
func LoadDataPage(id uint32, raw *rawpage.RawPage) *DataPage {
	return &DataPage{raw: raw, id: id, pageSize: raw.Len()}
}

func (d *DataPage) Raw() *rawpage.RawPage { return d.raw }
func (d *DataPage) ID() uint32            { return d.id }

// RecordCount returns the number of live (non-deleted) records.
func (d *DataPage) RecordCount() uint16 { return d.raw.U16At(dpOffRecCount) }

// BarCount returns the number of directory slots ever allocated.
func (d *DataPage) BarCount() uint16 { return d.raw.U16At(dpOffBarCount) }

func (d *DataPage) barOffset(i int) int { return dpHeaderSize + i*dpBarEntry }

func (d *DataPage) barStart(i int) uint16 { return d.raw.U16At(d.barOffset(i)) }

// lastBar returns the smallest recorded start offset, i.e. the current
// low-water mark of allocated record bytes; pageSize if no bars exist yet.
func (d *DataPage) lastBar() uint16 {
	n := d.BarCount()
	if n == 0 {
		return uint16(d.pageSize)
	}
	return d.barStart(int(n - 1))
}

// Remaining returns the free bytes between the directory and the lowest
// allocated record, minus the 2 bytes a new directory slot would need
// (spec.md §3 "remaining = last_bar − (header + 2·bar_count) − 2").
func (d *DataPage) Remaining() int {
	directoryEnd := dpHeaderSize + int(d.BarCount())*dpBarEntry
	return int(d.lastBar()) - directoryEnd - 2
}

// Insert appends a new record, returning its bar (slot) index. The caller
// must have checked Remaining() >= len(payload)+2.
func (d *DataPage) Insert(payload []byte) (uint16, error) {
	need := dpRecLenSize + len(payload)
	if d.Remaining() < need {
		return 0, ErrPageFull
	}
	start := d.lastBar() - uint16(need)
	d.raw.PutU16At(int(start), uint16(len(payload)))
	d.raw.PutAt(int(start)+dpRecLenSize, payload)

	barIdx := d.BarCount()
	d.raw.PutU16At(d.barOffset(int(barIdx)), start)
	d.raw.PutU16At(dpOffBarCount, barIdx+1)
	d.raw.PutU16At(dpOffRecCount, d.RecordCount()+1)
	return barIdx, nil
}

// Get returns the payload stored at a bar index, or (nil, false) if that
// slot was deleted or never written.
func (d *DataPage) Get(barIdx uint16) ([]byte, bool) {
	if barIdx >= d.BarCount() {
		return nil, false
	}
	start := d.barStart(int(barIdx))
	length := d.raw.U16At(int(start))
	if length == 0 {
		return nil, false
	}
	out, _ := d.raw.GetAt(int(start)+dpRecLenSize, int(length))
	return out, true
}

// Delete logically removes the record at a bar index by zeroing its length
// prefix in place, preserving every other record's layout.
func (d *DataPage) Delete(barIdx uint16) bool {
	if barIdx >= d.BarCount() {
		return false
	}
	start := d.barStart(int(barIdx))
	length := d.raw.U16At(int(start))
	if length == 0 {
		return false
	}
	d.raw.PutU16At(int(start), 0)
	d.raw.PutU16At(dpOffRecCount, d.RecordCount()-1)
	return true
}

// Empty reports whether no live records remain (RecordCount == 0).
func (d *DataPage) Empty() bool { return d.RecordCount() == 0 }
