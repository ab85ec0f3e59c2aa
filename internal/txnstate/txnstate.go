// Package txnstate implements the session/transaction state machine
// described in spec.md §4.9: a session is either idle, in a user-started
// explicit transaction, in a user-started "auto" transaction (a single
// library call that opens and closes its own transaction), or inside a
// reference-counted stack of library-internal auto transactions entered
// from an idle session. A library-internal call made while a user
// transaction is open rides along on it without opening a nested one.
package txnstate

import (
	"github.com/google/uuid"

	"github.com/finchdb/finch/internal/dberr"
)

// Kind is the lock mode a transaction holds.
type Kind int

const (
	// Read transactions take a shared lock; Write transactions take an
	// exclusive one, upgrading in place if a read is already open.
	Read Kind = iota
	Write
)

// mode is the session's current shape.
type mode int

const (
	modeNone mode = iota
	modeUserExplicit
	modeUserAuto
	modeDBAuto
)

// Session tracks one connection's transaction state. It is not safe for
// concurrent use — callers serialize access to it behind the backend's
// single shared mutex (spec.md §5).
type Session struct {
	id       uuid.UUID
	mode     mode
	kind     Kind
	dbDepth  int // nesting depth while mode == modeDBAuto
}

// New returns an idle session, stamped with a fresh correlation id that
// log lines and diagnostics can key on without exposing any on-disk
// identifier (spec.md's primary-key ObjectID is a distinct, BSON-derived
// 12-byte format; this id never touches a page).
func New() *Session { return &Session{id: uuid.New()} }

// ID returns the session's correlation id, for logging/diagnostics only —
// it has no on-disk meaning.
func (s *Session) ID() uuid.UUID { return s.id }

// InTransaction reports whether any transaction, of any shape, is open.
func (s *Session) InTransaction() bool { return s.mode != modeNone }

// Kind returns the currently held lock kind. Only meaningful when
// InTransaction is true.
func (s *Session) Kind() Kind { return s.kind }

// BeginExplicit starts a user-requested transaction that must be ended by
// a matching Commit or Rollback call. It fails if one is already open.
func (s *Session) BeginExplicit(kind Kind) error {
	if s.mode != modeNone {
		return dberr.StartTransactionInAnotherTransaction
	}
	s.mode = modeUserExplicit
	s.kind = kind
	return nil
}

// BeginUserAuto starts the implicit transaction a single top-level library
// call (e.g. a bare Insert outside any explicit Begin) opens for itself.
func (s *Session) BeginUserAuto(kind Kind) error {
	if s.mode != modeNone {
		return dberr.StartTransactionInAnotherTransaction
	}
	s.mode = modeUserAuto
	s.kind = kind
	return nil
}

// EnterDBAuto starts a library-internal auto transaction of the given
// kind at depth 1 when the session is idle, or increments the depth of one
// already active. When a user transaction (explicit or auto) is open it
// only rides along: no depth is tracked, and the held lock kind is
// upgraded in place if the call needs to write.
func (s *Session) EnterDBAuto(kind Kind) error {
	switch s.mode {
	case modeNone:
		s.mode = modeDBAuto
		s.kind = kind
		s.dbDepth = 1
		return nil
	case modeDBAuto:
		if kind == Write && s.kind == Read {
			if err := s.Upgrade(); err != nil {
				return err
			}
		}
		s.dbDepth++
		return nil
	default:
		// Riding along on an already-open user transaction; upgrade its
		// lock kind in place if the nested call needs to write.
		if kind == Write && s.kind == Read {
			return s.Upgrade()
		}
		return nil
	}
}

// InExplicit reports whether the session is currently inside a
// caller-started explicit transaction. A nested EnterDBAuto call riding
// along on one must not be the one that ends it — only the caller's own
// Commit/Rollback may.
func (s *Session) InExplicit() bool { return s.mode == modeUserExplicit }

// DBAutoDepth returns the current library-internal auto-transaction
// nesting depth, or 0 if the session isn't in that mode.
func (s *Session) DBAutoDepth() int {
	if s.mode != modeDBAuto {
		return 0
	}
	return s.dbDepth
}

// ExitDBAuto undoes one EnterDBAuto call, ending the implicit transaction
// once the nesting depth returns to zero and no user transaction is
// riding along on it.
func (s *Session) ExitDBAuto() {
	if s.mode != modeDBAuto {
		return
	}
	s.dbDepth--
	if s.dbDepth <= 0 {
		s.reset()
	}
}

// Upgrade promotes a held read lock to a write lock in place, without
// dropping and reacquiring it (spec.md §5). It fails only when no
// transaction is open; lock contention with another process is reported
// by the journal's own Upgrade, not here.
func (s *Session) Upgrade() error {
	if !s.InTransaction() {
		return dberr.CannotWriteDbWithoutTransaction
	}
	s.kind = Write
	return nil
}

// Commit ends a user-visible transaction successfully.
func (s *Session) Commit() error {
	if s.mode != modeUserExplicit && s.mode != modeUserAuto {
		return dberr.RollbackNotInTransaction
	}
	s.reset()
	return nil
}

// Rollback ends any open transaction, discarding its writes.
func (s *Session) Rollback() error {
	if s.mode == modeNone {
		return dberr.RollbackNotInTransaction
	}
	s.reset()
	return nil
}

// RequireWrite returns dberr.CannotWriteDbWithoutTransaction if the
// session is not currently holding a write lock.
func (s *Session) RequireWrite() error {
	if !s.InTransaction() || s.kind != Write {
		return dberr.CannotWriteDbWithoutTransaction
	}
	return nil
}

func (s *Session) reset() {
	s.mode = modeNone
	s.kind = Read
	s.dbDepth = 0
}
