// Package journal implements the append-only write-ahead log described in
// spec.md §3 ("Journal file") and §4.4: page-image frames with salts and
// checksums, commit/rollback, crash recovery, checkpoint, and the
// non-blocking cross-process advisory locking spec.md §4.4 "Locking"
// requires.
package journal

import (
	"crypto/rand"
	"encoding/binary"
	"hash/crc64"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/finchdb/finch/internal/dberr"
)

// Journal header layout (spec.md §6): 32-byte ASCII title, 4-byte version,
// 4-byte page size, 4-byte salt1, 4-byte salt2, 8-byte CRC over the
// preceding 48 bytes, padded to a fixed 64-byte header.
const (
	HeaderSize = 64

	hdrOffTitle    = 0
	hdrTitleBytes  = 32
	hdrOffVersion  = 32
	hdrOffPageSize = 36
	hdrOffSalt1    = 40
	hdrOffSalt2    = 44
	hdrOffCRC      = 48
	hdrCRCSpan     = 48 // bytes covered by the header CRC

	Title   = "finchDB Journal"
	Version = uint32(1)
)

// Frame layout (spec.md §6): 24-byte frame header (page-id u32, 4 bytes
// padding, db-size u64, salt1 u32, salt2 u32), then an 8-byte header CRC,
// an 8-byte payload CRC, then the page payload.
const (
	frameHeaderSize = 24
	frameOffPageID  = 0
	frameOffDBSize  = 8
	frameOffSalt1   = 16
	frameOffSalt2   = 20
	frameCRCSize    = 8
	frameMetaSize   = frameHeaderSize + frameCRCSize*2 // 40
)

var crcTable = crc64.MakeTable(crc64.ISO)

func crc64Of(b []byte) uint64 { return crc64.Checksum(b, crcTable) }

// frameSize returns the on-disk size of one frame for a given page size.
func frameSize(pageSize int) int64 { return int64(frameMetaSize + pageSize) }

// Journal is one open journal file plus its in-memory recovery state.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	salt1    uint32
	salt2    uint32

	// committed maps a page id to the byte offset of the payload of the
	// most recent *committed* frame for that page.
	committed map[uint32]int64
	// pending overlays committed for the currently open write transaction.
	pending map[uint32]int64

	length        int64 // current end-of-file offset
	lastFrameOff  int64 // offset of the most recently appended frame's header
	dbLogicalSize uint64
	locked        bool
	exclusive     bool
}

// Open opens or creates the journal file at path for a database using the
// given page size, replaying any committed frames and truncating the tail
// at the first frame that fails validation (spec.md §4.4 "Recovery on
// open").
func Open(path string, pageSize int) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		file:      f,
		pageSize:  pageSize,
		committed: make(map[uint32]int64),
		pending:   make(map[uint32]int64),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := j.writeFreshHeader(); err != nil {
			f.Close()
			return nil, err
		}
		j.length = HeaderSize
		return j, nil
	}

	if err := j.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := j.recover(info.Size()); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

func randomSalt() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	v := binary.BigEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v
}

func (j *Journal) writeFreshHeader() error {
	j.salt1 = randomSalt()
	j.salt2 = randomSalt()
	return j.writeHeader()
}

func (j *Journal) writeHeader() error {
	buf := make([]byte, HeaderSize)
	copy(buf[hdrOffTitle:hdrOffTitle+hdrTitleBytes], []byte(Title))
	binary.BigEndian.PutUint32(buf[hdrOffVersion:], Version)
	binary.BigEndian.PutUint32(buf[hdrOffPageSize:], uint32(j.pageSize))
	binary.BigEndian.PutUint32(buf[hdrOffSalt1:], j.salt1)
	binary.BigEndian.PutUint32(buf[hdrOffSalt2:], j.salt2)
	crc := crc64Of(buf[:hdrCRCSpan])
	binary.BigEndian.PutUint64(buf[hdrOffCRC:], crc)
	_, err := j.file.WriteAt(buf, 0)
	return err
}

func (j *Journal) loadHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := j.file.ReadAt(buf, 0); err != nil {
		return err
	}
	title := string(buf[hdrOffTitle : hdrOffTitle+len(Title)])
	if title != Title {
		return dberr.NotAValidDatabase
	}
	if binary.BigEndian.Uint32(buf[hdrOffVersion:]) != Version {
		return dberr.VersionMismatch
	}
	wantCRC := binary.BigEndian.Uint64(buf[hdrOffCRC:])
	if crc64Of(buf[:hdrCRCSpan]) != wantCRC {
		return dberr.ChecksumMismatch
	}
	pageSize := int(binary.BigEndian.Uint32(buf[hdrOffPageSize:]))
	if pageSize != j.pageSize {
		return dberr.JournalPageSizeMismatch
	}
	j.salt1 = binary.BigEndian.Uint32(buf[hdrOffSalt1:])
	j.salt2 = binary.BigEndian.Uint32(buf[hdrOffSalt2:])
	return nil
}

// recover walks frames from offset 64, validating salts and checksums,
// merging committed spans into j.committed, and truncating at the first
// bad or torn frame (spec.md §4.4).
func (j *Journal) recover(fileSize int64) error {
	fsz := frameSize(j.pageSize)
	offset := int64(HeaderSize)
	pending := make(map[uint32]int64)

	for offset+fsz <= fileSize {
		hdr := make([]byte, frameHeaderSize)
		if _, err := j.file.ReadAt(hdr, offset); err != nil {
			break
		}
		pageID := binary.BigEndian.Uint32(hdr[frameOffPageID:])
		dbSize := binary.BigEndian.Uint64(hdr[frameOffDBSize:])
		s1 := binary.BigEndian.Uint32(hdr[frameOffSalt1:])
		s2 := binary.BigEndian.Uint32(hdr[frameOffSalt2:])

		crcBuf := make([]byte, frameCRCSize*2)
		if _, err := j.file.ReadAt(crcBuf, offset+frameHeaderSize); err != nil {
			break
		}
		wantHdrCRC := binary.BigEndian.Uint64(crcBuf[:frameCRCSize])
		wantPayloadCRC := binary.BigEndian.Uint64(crcBuf[frameCRCSize:])

		if s1 != j.salt1 || s2 != j.salt2 {
			break // garbage: salts don't match the journal header
		}
		if crc64Of(hdr) != wantHdrCRC {
			break
		}

		payload := make([]byte, j.pageSize)
		if _, err := j.file.ReadAt(payload, offset+frameHeaderSize+frameCRCSize*2); err != nil {
			break
		}
		if crc64Of(payload) != wantPayloadCRC {
			break
		}

		payloadOffset := offset + frameHeaderSize + frameCRCSize*2
		pending[pageID] = payloadOffset
		j.lastFrameOff = offset

		if dbSize != 0 {
			for pid, off := range pending {
				j.committed[pid] = off
			}
			pending = make(map[uint32]int64)
			j.dbLogicalSize = dbSize
		}
		offset += fsz
	}

	// Any still-pending overlay at end-of-walk is discarded; truncate the
	// file to the last fully committed boundary.
	truncateAt := offset
	if len(pending) > 0 {
		// last successful commit boundary is unknown beyond what we've
		// already folded into j.committed; re-derive it by walking back
		// to the offset right after the last frame that committed.
		truncateAt = j.lastCommittedBoundary()
	}
	if truncateAt != fileSize {
		if err := j.file.Truncate(truncateAt); err != nil {
			return err
		}
	}
	j.length = truncateAt
	return nil
}

// lastCommittedBoundary returns the offset right after the last commit
// frame, so every frame before it belongs to a committed transaction.
// Since recover() already
// folds committed spans as it walks, and we only need this when the walk
// ended mid-transaction, we recompute it by re-scanning up to the point
// where dbLogicalSize was last set. For simplicity and correctness this
// re-walks from the header once more, stopping right after the frame that
// last set dbLogicalSize.
func (j *Journal) lastCommittedBoundary() int64 {
	fsz := frameSize(j.pageSize)
	offset := int64(HeaderSize)
	boundary := offset
	for {
		hdr := make([]byte, frameHeaderSize)
		if _, err := j.file.ReadAt(hdr, offset); err != nil {
			break
		}
		s1 := binary.BigEndian.Uint32(hdr[frameOffSalt1:])
		s2 := binary.BigEndian.Uint32(hdr[frameOffSalt2:])
		if s1 != j.salt1 || s2 != j.salt2 {
			break
		}
		crcBuf := make([]byte, frameCRCSize*2)
		if _, err := j.file.ReadAt(crcBuf, offset+frameHeaderSize); err != nil {
			break
		}
		if crc64Of(hdr) != binary.BigEndian.Uint64(crcBuf[:frameCRCSize]) {
			break
		}
		dbSize := binary.BigEndian.Uint64(hdr[frameOffDBSize:])
		offset += fsz
		if dbSize != 0 {
			boundary = offset
		}
	}
	return boundary
}

// --- locking ---

// LockRead acquires a shared advisory lock on the journal file. Acquisition
// is non-blocking; on contention it returns dberr.Busy.
func (j *Journal) LockRead() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := unix.Flock(int(j.file.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return dberr.Busy
	}
	j.locked = true
	j.exclusive = false
	return nil
}

// LockWrite acquires an exclusive advisory lock on the journal file,
// non-blocking.
func (j *Journal) LockWrite() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := unix.Flock(int(j.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return dberr.Busy
	}
	j.locked = true
	j.exclusive = true
	return nil
}

// Upgrade transitions a held shared lock to exclusive without releasing it
// in between (spec.md §4.4 "upgrade transitions shared to exclusive
// without releasing").
func (j *Journal) Upgrade() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := unix.Flock(int(j.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return dberr.Busy
	}
	j.exclusive = true
	return nil
}

// Unlock releases whatever advisory lock is held.
func (j *Journal) Unlock() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.locked {
		return nil
	}
	err := unix.Flock(int(j.file.Fd()), unix.LOCK_UN)
	j.locked = false
	j.exclusive = false
	return err
}

// --- read path ---

// FrameOffset returns the payload offset to read for a page id, preferring
// the active write transaction's own pending frames (read-your-writes)
// before the committed map (spec.md §4.4 "Read-through").
func (j *Journal) FrameOffset(pageID uint32) (int64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if off, ok := j.pending[pageID]; ok {
		return off, true
	}
	off, ok := j.committed[pageID]
	return off, ok
}

// ReadPayload reads the page payload at a given frame payload offset.
func (j *Journal) ReadPayload(offset int64) ([]byte, error) {
	buf := make([]byte, j.pageSize)
	if _, err := j.file.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// DBLogicalSize returns the last committed logical file size in pages.
func (j *Journal) DBLogicalSize() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dbLogicalSize
}

// --- write path ---

// AppendFrame appends a single non-committing frame for a dirty page
// (spec.md §4.4). dbLogicalSize of 0 marks it non-committing.
func (j *Journal) AppendFrame(pageID uint32, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendFrameLocked(pageID, payload, 0)
}

func (j *Journal) appendFrameLocked(pageID uint32, payload []byte, dbSize uint64) error {
	hdr := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(hdr[frameOffPageID:], pageID)
	binary.BigEndian.PutUint64(hdr[frameOffDBSize:], dbSize)
	binary.BigEndian.PutUint32(hdr[frameOffSalt1:], j.salt1)
	binary.BigEndian.PutUint32(hdr[frameOffSalt2:], j.salt2)

	hdrCRC := crc64Of(hdr)
	payloadCRC := crc64Of(payload)

	frame := make([]byte, frameMetaSize+j.pageSize)
	copy(frame, hdr)
	binary.BigEndian.PutUint64(frame[frameHeaderSize:], hdrCRC)
	binary.BigEndian.PutUint64(frame[frameHeaderSize+frameCRCSize:], payloadCRC)
	copy(frame[frameMetaSize:], payload)

	off := j.length
	if _, err := j.file.WriteAt(frame, off); err != nil {
		return err
	}
	j.pending[pageID] = off + frameMetaSize
	j.lastFrameOff = off
	j.length += frameSize(j.pageSize)
	return nil
}

// Commit rewrites the last appended frame in place to carry the post-commit
// logical file size, recomputing its header CRC, merges the pending overlay
// into the committed map, and releases the write lock (spec.md §4.4
// "Commit").
func (j *Journal) Commit(logicalSize uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.pending) == 0 {
		// Nothing was written this transaction; still record the logical
		// size so repeated no-op commits are idempotent (spec.md §8).
		j.dbLogicalSize = logicalSize
		return j.unlockLocked()
	}

	hdr := make([]byte, frameHeaderSize)
	if _, err := j.file.ReadAt(hdr, j.lastFrameOff); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(hdr[frameOffDBSize:], logicalSize)
	hdrCRC := crc64Of(hdr)
	if _, err := j.file.WriteAt(hdr, j.lastFrameOff); err != nil {
		return err
	}
	crcBuf := make([]byte, frameCRCSize)
	binary.BigEndian.PutUint64(crcBuf, hdrCRC)
	if _, err := j.file.WriteAt(crcBuf, j.lastFrameOff+frameHeaderSize); err != nil {
		return err
	}

	for pid, off := range j.pending {
		j.committed[pid] = off
	}
	j.pending = make(map[uint32]int64)
	j.dbLogicalSize = logicalSize

	return j.unlockLocked()
}

func (j *Journal) unlockLocked() error {
	if !j.locked {
		return nil
	}
	err := unix.Flock(int(j.file.Fd()), unix.LOCK_UN)
	j.locked = false
	j.exclusive = false
	return err
}

// Rollback truncates the journal's uncommitted tail and discards the
// pending overlay (spec.md §4.4, §7).
func (j *Journal) Rollback() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return j.unlockLocked()
	}
	j.pending = make(map[uint32]int64)
	j.length = j.lastUnflushedBoundary()
	if err := j.file.Truncate(j.length); err != nil {
		return err
	}
	return j.unlockLocked()
}

// lastUnflushedBoundary is the offset right after the last frame that
// belongs to the already-committed state (i.e. before this transaction's
// frames began).
func (j *Journal) lastUnflushedBoundary() int64 {
	max := int64(HeaderSize)
	for _, off := range j.committed {
		end := off - frameMetaSize + frameSize(j.pageSize)
		if end > max {
			max = end
		}
	}
	return max
}

// Length returns the current journal file length in bytes.
func (j *Journal) Length() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.length
}

// Checkpoint copies every committed frame's payload back into the main
// file, flushes it, truncates the journal to a bare 64-byte header, and
// rotates the salts (spec.md §4.4 "Checkpoint", "Salt discipline").
// Precondition: no active transaction.
func (j *Journal) Checkpoint(mainFile *os.File, pageSize int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for pid, off := range j.committed {
		payload, err := j.ReadPayload(off)
		if err != nil {
			return err
		}
		if _, err := mainFile.WriteAt(payload, int64(pid)*int64(pageSize)); err != nil {
			return err
		}
	}
	if err := mainFile.Sync(); err != nil {
		return err
	}

	if err := j.file.Truncate(HeaderSize); err != nil {
		return err
	}
	j.salt1 = j.salt1 + 1
	if j.salt1 == 0 {
		j.salt1 = 1
	}
	j.salt2 = randomSalt()
	if err := j.writeHeader(); err != nil {
		return err
	}

	j.committed = make(map[uint32]int64)
	j.length = HeaderSize
	j.lastFrameOff = 0
	return nil
}

// Close syncs and closes the underlying file.
func (j *Journal) Close() error {
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}
