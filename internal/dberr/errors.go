// Package dberr holds the sentinel error values callers of finch see.
//
// These mirror the error taxonomy in spec.md §6/§7: I/O errors pass through
// unwrapped from the os package, everything else is one of the values below,
// wrapped with fmt.Errorf("...: %w", ...) for context at the call site.
package dberr

import "errors"

var (
	// Busy is returned when a non-blocking advisory lock acquisition loses
	// to contention (spec §4.4 Locking, §8 S6).
	Busy = errors.New("finch: database busy")

	// NotAValidDatabase is returned when the header page magic doesn't
	// start with the expected title.
	NotAValidDatabase = errors.New("finch: not a valid database file")

	// VersionMismatch is returned when the header page version does not
	// match the version this build writes.
	VersionMismatch = errors.New("finch: version mismatch")

	// ChecksumMismatch is returned when a journal frame's CRC does not
	// match its payload.
	ChecksumMismatch = errors.New("finch: checksum mismatch")

	// SaltMismatch is returned when a journal frame's salts do not match
	// the journal header's current salts.
	SaltMismatch = errors.New("finch: salt mismatch")

	// JournalPageSizeMismatch is returned when a journal header's page
	// size disagrees with the main file's.
	JournalPageSizeMismatch = errors.New("finch: journal page size mismatch")

	// DataOverflow is returned when a page cannot fit a requested payload.
	DataOverflow = errors.New("finch: data overflow")

	// ItemSizeGreaterThanExpected is returned when an encoded b-tree item
	// would exceed a node's inline item capacity.
	ItemSizeGreaterThanExpected = errors.New("finch: item size greater than expected")

	// StartTransactionInAnotherTransaction is returned by a Begin call
	// issued while any transaction is already open, and by Checkpoint
	// called inside a transaction.
	StartTransactionInAnotherTransaction = errors.New("finch: cannot start a transaction inside another transaction")

	// CannotWriteDbWithoutTransaction is returned by any mutating call
	// issued outside a write transaction.
	CannotWriteDbWithoutTransaction = errors.New("finch: cannot write to the database without a transaction")

	// RollbackNotInTransaction is returned by Rollback when no
	// transaction is active.
	RollbackNotInTransaction = errors.New("finch: rollback called outside a transaction")

	// NotAValidKeyType is returned when a document's primary key field is
	// not one of the ordered primitive key types.
	NotAValidKeyType = errors.New("finch: not a valid key type")

	// DataExist is returned by an insert that finds the key already
	// present and was not told to replace.
	DataExist = errors.New("finch: data already exists for key")

	// KeyNotFound is returned by lookup/delete when the key is absent.
	KeyNotFound = errors.New("finch: key not found")

	// DatabaseOccupied is returned by Open when another process holds the
	// exclusive file lock on the main database file (spec §8 S6).
	DatabaseOccupied = errors.New("finch: database file is occupied by another process")
)
