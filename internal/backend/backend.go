package backend

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/finchdb/finch/internal/alloc"
	"github.com/finchdb/finch/internal/bson"
	"github.com/finchdb/finch/internal/cache"
	"github.com/finchdb/finch/internal/dberr"
	"github.com/finchdb/finch/internal/journal"
	"github.com/finchdb/finch/internal/page"
	"github.com/finchdb/finch/internal/rawpage"
	"github.com/finchdb/finch/internal/txnstate"
)

// Backend is the mutex-guarded storage core: one shared lock protects
// every mutable field (spec.md §5 — no per-page latching). An exclusive
// OS-level advisory lock on the main file, held from Open to Close, keeps
// other processes out, and a shared/exclusive lock on the journal file
// marks each read or write transaction.
type Backend struct {
	mu sync.Mutex

	path    string
	file    *os.File
	journal *journal.Journal
	cache   *cache.Cache
	header  *page.HeaderPage
	data    *alloc.Allocator

	pageSize int
	cfg      Config
	log      zerolog.Logger
	sess     *txnstate.Session
}

// Open opens (creating if necessary) the database file at path, plus its
// companion journal at path+".journal".
func Open(path string, cfg Config) (*Backend, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", path, err)
	}

	// Whole-lifetime exclusive lock on the main file: only one process may
	// have the database open at a time (spec.md §1 non-goals "multi-writer
	// concurrency across processes is serialized by file lock", §8 S6).
	// This is distinct from the journal's per-transaction shared/exclusive
	// lock, which arbitrates read vs. write transactions within that one
	// open process.
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, dberr.DatabaseOccupied
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	var hdr *page.HeaderPage
	if info.Size() == 0 {
		pageSize := cfg.PageSize
		if pageSize <= 0 {
			pageSize = DefaultConfig().PageSize
		}
		hdr = page.NewHeader(pageSize)
		if err := hdr.Raw().SyncToFile(file, page.HeaderPageID, pageSize); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		raw, err := rawpage.ReadFromFile(file, page.HeaderPageID, peekPageSize(file, cfg))
		if err != nil {
			file.Close()
			return nil, err
		}
		hdr, err = page.LoadHeader(raw)
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	j, err := journal.Open(path+".journal", hdr.PageSize())
	if err != nil {
		file.Close()
		return nil, err
	}

	// A prior transaction may have committed a new header page without
	// ever reaching a checkpoint; the header just loaded straight from
	// the main file would then be stale, so the journal's own record of
	// page 0 — if recovery found a committed one — wins.
	if off, ok := j.FrameOffset(page.HeaderPageID); ok {
		buf, err := j.ReadPayload(off)
		if err != nil {
			file.Close()
			j.Close()
			return nil, err
		}
		hdr, err = page.LoadHeader(rawpage.FromBytes(buf))
		if err != nil {
			file.Close()
			j.Close()
			return nil, err
		}
	}

	b := &Backend{
		path:     path,
		file:     file,
		journal:  j,
		cache:    cache.New(cfg.CachePageCount),
		header:   hdr,
		data:     alloc.New(),
		pageSize: hdr.PageSize(),
		cfg:      cfg,
		log:      cfg.logger(),
		sess:     txnstate.New(),
	}
	b.log.Debug().
		Str("path", path).
		Int("page_size", b.pageSize).
		Str("session_id", b.sess.ID().String()).
		Msg("backend opened")
	return b, nil
}

// SessionID returns the correlation id of the backend's single in-process
// session, for callers that want to tag their own log lines alongside
// finch's (spec.md's ambient logging stack, per DESIGN.md).
func (b *Backend) SessionID() string { return b.sess.ID().String() }

// peekPageSize picks a byte count for the very first read of an existing
// database's header page: the page size recorded in the header's own
// page-size field (offset 36, within its fixed first 64 bytes), so the
// header is read at the file's real page size whatever cfg says. The
// configured size is only a fallback when that field cannot be read.
func peekPageSize(file *os.File, cfg Config) int {
	var b [4]byte
	if _, err := file.ReadAt(b[:], 36); err == nil {
		if n := int(binary.BigEndian.Uint32(b[:])); n > 0 {
			return n
		}
	}
	if cfg.PageSize > 0 {
		return cfg.PageSize
	}
	return DefaultConfig().PageSize
}

// PageSize implements btree.Pager.
func (b *Backend) PageSize() int { return b.pageSize }

// Close flushes no pending state (a write transaction must already have
// been committed or rolled back) and releases the file handles.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	jErr := b.journal.Close()
	_ = unix.Flock(int(b.file.Fd()), unix.LOCK_UN)
	fErr := b.file.Close()
	if jErr != nil {
		return jErr
	}
	return fErr
}

// ---- transaction control -------------------------------------------------

// BeginWrite opens an explicit, caller-visible write transaction.
func (b *Backend) BeginWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sess.BeginExplicit(txnstate.Write); err != nil {
		return err
	}
	if err := b.journal.LockWrite(); err != nil {
		b.sess.Rollback()
		return err
	}
	return nil
}

// BeginRead opens an explicit, caller-visible read transaction.
func (b *Backend) BeginRead() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sess.BeginExplicit(txnstate.Read); err != nil {
		return err
	}
	if err := b.journal.LockRead(); err != nil {
		b.sess.Rollback()
		return err
	}
	return nil
}

// EnsureWrite silently opens (or upgrades to) a write transaction for a
// single library call, per spec.md §4.9's auto-transaction rules, when
// the caller did not already start one explicitly. A fresh session opens
// its own user-auto transaction (the one a bare top-level call owns start
// to finish); a call riding on an already-open transaction instead nests
// as a library-internal db-auto, upgrading an already-open read in place
// if it needs to write.
func (b *Backend) EnsureWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sess.InTransaction() {
		if err := b.sess.BeginUserAuto(txnstate.Write); err != nil {
			return err
		}
		return b.journal.LockWrite()
	}
	wasRead := b.sess.Kind() == txnstate.Read
	if err := b.sess.EnterDBAuto(txnstate.Write); err != nil {
		return err
	}
	if wasRead {
		return b.journal.Upgrade()
	}
	return nil
}

// EnsureRead mirrors EnsureWrite for read-only calls: only a fresh
// session opens its own user-auto transaction and acquires the journal's
// shared lock; a nested call riding on an already-open transaction (of
// either kind) must not touch the lock.
func (b *Backend) EnsureRead() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sess.InTransaction() {
		if err := b.sess.BeginUserAuto(txnstate.Read); err != nil {
			return err
		}
		return b.journal.LockRead()
	}
	return b.sess.EnterDBAuto(txnstate.Read)
}

// EndAuto closes the implicit transaction a single library call opened
// with EnsureWrite/EnsureRead. Only the outermost call actually commits
// and releases the journal lock: a nested db-auto call just unwinds its
// own depth until it reaches its own opener, and a call riding along on a
// caller-started explicit transaction (spec.md §4.9, §8 S5) is a no-op
// here too — only the caller's own Commit/Rollback may end that one. A
// bare top-level call's own user-auto transaction is committed and the
// session reset to idle, exactly like an explicit Commit.
func (b *Backend) EndAuto() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.InExplicit() {
		return nil
	}
	if b.sess.DBAutoDepth() > 1 {
		b.sess.ExitDBAuto()
		return nil
	}
	if err := b.commitLocked(); err != nil {
		return err
	}
	if b.sess.DBAutoDepth() == 1 {
		b.sess.ExitDBAuto()
		return nil
	}
	return b.sess.Commit()
}

// Commit ends the caller's explicit transaction, persisting its writes.
func (b *Backend) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.commitLocked(); err != nil {
		return err
	}
	return b.sess.Commit()
}

// Rollback ends the caller's explicit transaction, discarding its writes.
func (b *Backend) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.journal.Rollback(); err != nil {
		return err
	}
	b.cache.Clear()
	b.data = alloc.New()
	return b.sess.Rollback()
}

// Checkpoint forces a checkpoint outside of the usual post-commit size
// threshold (spec.md §4.4 "Checkpoint": precondition is no active
// transaction).
func (b *Backend) Checkpoint() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.InTransaction() {
		return dberr.StartTransactionInAnotherTransaction
	}
	return b.checkpointLocked()
}

func (b *Backend) commitLocked() error {
	if err := b.journal.Commit(uint64(b.header.Watermark())); err != nil {
		return err
	}
	if b.journal.Length() > b.cfg.JournalFullSize {
		if err := b.checkpointLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) checkpointLocked() error {
	if err := b.journal.Checkpoint(b.file, b.pageSize); err != nil {
		return err
	}
	b.log.Debug().Str("session_id", b.sess.ID().String()).Msg("checkpoint complete")
	return nil
}

// RootMetaPageID returns the b-tree root page id recorded in the header,
// or 0 if no tree has been bootstrapped yet.
func (b *Backend) RootMetaPageID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header.RootMetaPageID()
}

// SetRootMetaPageID persists a new b-tree root page id to the header.
func (b *Backend) SetRootMetaPageID(id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.header.SetRootMetaPageID(id)
	return b.writeHeaderPage()
}

// RequireWrite reports whether the session currently holds a write lock,
// per spec.md §4.9.
func (b *Backend) RequireWrite() error { return b.sess.RequireWrite() }

// ---- page I/O -------------------------------------------------------------

func (b *Backend) readPage(id uint32) (*rawpage.RawPage, error) {
	if off, ok := b.journal.FrameOffset(id); ok {
		buf, err := b.journal.ReadPayload(off)
		if err != nil {
			return nil, err
		}
		return rawpage.FromBytes(buf), nil
	}
	if raw, ok := b.cache.Get(id); ok {
		return raw.Clone(), nil
	}
	raw, err := rawpage.ReadFromFile(b.file, id, b.pageSize)
	if err != nil {
		return nil, err
	}
	b.cache.Insert(id, raw.Clone())
	return raw, nil
}

func (b *Backend) writeRawPage(id uint32, raw *rawpage.RawPage) error {
	if err := b.sess.RequireWrite(); err != nil {
		return err
	}
	if err := b.journal.AppendFrame(id, raw.Bytes()); err != nil {
		return err
	}
	b.cache.Insert(id, raw.Clone())
	return nil
}

func (b *Backend) writeHeaderPage() error {
	return b.writeRawPage(page.HeaderPageID, b.header.Raw())
}

// ---- btree.Pager: node storage ---------------------------------------

// ReadNode implements btree.Pager.
func (b *Backend) ReadNode(id uint32) (*page.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, err := b.readPage(id)
	if err != nil {
		return nil, err
	}
	return page.DecodeNode(id, raw)
}

// WriteNode implements btree.Pager.
func (b *Backend) WriteNode(n *page.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n.SetPageSize(b.pageSize)
	raw, err := n.Encode()
	if err != nil {
		return err
	}
	return b.writeRawPage(n.ID, raw)
}

// AllocNode implements btree.Pager.
func (b *Backend) AllocNode() (uint32, error) {
	b.mu.Lock()
	id, err := b.allocPageIDLocked()
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n := page.NewNode(id, b.pageSize)
	if err := b.WriteNode(n); err != nil {
		return 0, err
	}
	return id, nil
}

// FreeNode implements btree.Pager.
func (b *Backend) FreeNode(id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushFreeIDsLocked([]uint32{id})
}

// ---- btree.Pager: payload storage -------------------------------------

// ReadPayload implements btree.Pager.
func (b *Backend) ReadPayload(t page.Ticket) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.Large() {
		return b.readChainLocked(t.PageID)
	}
	raw, err := b.readPage(t.PageID)
	if err != nil {
		return nil, err
	}
	dp := page.LoadDataPage(t.PageID, raw)
	data, ok := dp.Get(t.Slot)
	if !ok {
		return nil, dberr.KeyNotFound
	}
	return data, nil
}

// WritePayload implements btree.Pager, externalizing large payloads onto
// a large-data page chain (spec.md §4.7/§3).
func (b *Backend) WritePayload(data []byte) (page.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bson.ShouldExternalize(len(data), b.pageSize) {
		head, err := b.writeChainLocked(data, page.KindLargeData)
		if err != nil {
			return page.Ticket{}, err
		}
		return page.LargeTicket(head), nil
	}

	if pid, ok := b.data.TryAllocate(len(data)); ok {
		raw, err := b.readPage(pid)
		if err == nil {
			dp := page.LoadDataPage(pid, raw)
			if slot, ierr := dp.Insert(data); ierr == nil {
				if err := b.writeRawPage(pid, dp.Raw()); err != nil {
					return page.Ticket{}, err
				}
				b.data.Track(alloc.PageInfo{PageID: pid, Remaining: dp.Remaining(), DirectoryBarN: int(dp.BarCount())})
				return page.Ticket{PageID: pid, Slot: slot}, nil
			}
		}
		b.data.Forget(pid)
	}

	newID, err := b.allocPageIDLocked()
	if err != nil {
		return page.Ticket{}, err
	}
	dp := page.NewDataPage(newID, b.pageSize)
	slot, err := dp.Insert(data)
	if err != nil {
		return page.Ticket{}, err
	}
	if err := b.writeRawPage(newID, dp.Raw()); err != nil {
		return page.Ticket{}, err
	}
	b.data.Track(alloc.PageInfo{PageID: newID, Remaining: dp.Remaining(), DirectoryBarN: int(dp.BarCount())})
	return page.Ticket{PageID: newID, Slot: slot}, nil
}

// FreePayload implements btree.Pager.
func (b *Backend) FreePayload(t page.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.Large() {
		return b.freeChainLocked(t.PageID)
	}
	raw, err := b.readPage(t.PageID)
	if err != nil {
		return err
	}
	dp := page.LoadDataPage(t.PageID, raw)
	dp.Delete(t.Slot)
	if err := b.writeRawPage(t.PageID, dp.Raw()); err != nil {
		return err
	}
	b.data.Release(alloc.PageInfo{PageID: t.PageID, Remaining: dp.Remaining(), DirectoryBarN: int(dp.BarCount())})
	return nil
}

// ---- btree.Pager: key overflow storage ---------------------------------

// WriteKeyOverflow implements btree.Pager.
func (b *Backend) WriteKeyOverflow(data []byte) (page.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	head, err := b.writeChainLocked(data, page.KindOverflow)
	if err != nil {
		return page.Ticket{}, err
	}
	return page.LargeTicket(head), nil
}

// ReadKeyOverflow implements btree.Pager.
func (b *Backend) ReadKeyOverflow(t page.Ticket) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readChainLocked(t.PageID)
}

// FreeKeyOverflow implements btree.Pager.
func (b *Backend) FreeKeyOverflow(t page.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freeChainLocked(t.PageID)
}

// ---- chained large-value storage, shared by payload and key overflow --

func (b *Backend) writeChainLocked(data []byte, kind page.Kind) (uint32, error) {
	capacity := page.NewChainPage(0, kind, b.pageSize).Capacity()
	if capacity <= 0 {
		return 0, fmt.Errorf("backend: page size %d too small for chained storage", b.pageSize)
	}

	n := (len(data) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}
	ids := make([]uint32, n)
	for i := range ids {
		id, err := b.allocPageIDLocked()
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}

	pos := 0
	for i, id := range ids {
		end := pos + capacity
		if end > len(data) {
			end = len(data)
		}
		cp := page.NewChainPage(id, kind, b.pageSize)
		if i+1 < len(ids) {
			cp.SetNextPageID(ids[i+1])
		}
		cp.SetPayload(data[pos:end])
		if err := b.writeRawPage(id, cp.Raw()); err != nil {
			return 0, err
		}
		pos = end
	}
	return ids[0], nil
}

func (b *Backend) readChainLocked(headID uint32) ([]byte, error) {
	var out []byte
	id := headID
	for id != 0 {
		raw, err := b.readPage(id)
		if err != nil {
			return nil, err
		}
		cp := page.LoadChainPage(id, page.KindLargeData, raw)
		out = append(out, cp.Payload()...)
		id = cp.NextPageID()
	}
	return out, nil
}

func (b *Backend) freeChainLocked(headID uint32) error {
	var ids []uint32
	id := headID
	for id != 0 {
		raw, err := b.readPage(id)
		if err != nil {
			return err
		}
		cp := page.LoadChainPage(id, page.KindLargeData, raw)
		ids = append(ids, id)
		id = cp.NextPageID()
	}
	return b.pushFreeIDsLocked(ids)
}

// ---- page id allocation (spec.md §4.6) ---------------------------------

func (b *Backend) allocPageIDLocked() (uint32, error) {
	if id, ok := b.header.InlinePop(); ok {
		if err := b.writeHeaderPage(); err != nil {
			return 0, err
		}
		return id, nil
	}

	if ovID := b.header.OverflowPageID(); ovID != 0 {
		raw, err := b.readPage(ovID)
		if err != nil {
			return 0, err
		}
		fl := page.LoadFreeListPage(ovID, raw)
		id, ok := fl.Pop()
		if ok {
			if fl.Empty() {
				next := fl.NextPageID()
				b.header.SetOverflowPageID(next)
				b.header.InlinePush([]uint32{id})
				if err := b.writeHeaderPage(); err != nil {
					return 0, err
				}
				return ovID, nil
			}
			if err := b.writeRawPage(ovID, fl.Raw()); err != nil {
				return 0, err
			}
			return id, nil
		}
	}

	return b.growWatermarkLocked()
}

func (b *Backend) growWatermarkLocked() (uint32, error) {
	n := b.cfg.InitBlockCount
	if n < 1 {
		n = 1
	}
	wm := b.header.Watermark()
	b.header.SetWatermark(wm + uint32(n))
	if n > 1 {
		extra := make([]uint32, 0, n-1)
		for i := uint32(1); i < uint32(n); i++ {
			extra = append(extra, wm+i)
		}
		if err := b.pushFreeIDsLocked(extra); err != nil {
			return 0, err
		}
	}
	if err := b.writeHeaderPage(); err != nil {
		return 0, err
	}
	return wm, nil
}

func (b *Backend) pushFreeIDsLocked(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	accepted := b.header.InlinePush(ids)
	rest := ids[accepted:]
	if len(rest) == 0 {
		return b.writeHeaderPage()
	}

	containerID := rest[0]
	rest = rest[1:]
	fl := page.NewFreeListPage(containerID, b.pageSize)
	fl.SetNextPageID(b.header.OverflowPageID())
	fl.Push(rest)
	if err := b.writeRawPage(containerID, fl.Raw()); err != nil {
		return err
	}
	b.header.SetOverflowPageID(containerID)
	return b.writeHeaderPage()
}
