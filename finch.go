// Package finch is an embedded, single-file document store: a journaled,
// crash-safe paged file format with a bounded LRU page cache and an
// ordered b-tree primary-key index (see internal/backend, internal/btree,
// internal/journal, internal/page, internal/bson for the pieces this
// package assembles).
package finch

import (
	"fmt"

	"github.com/finchdb/finch/internal/backend"
	"github.com/finchdb/finch/internal/bson"
	"github.com/finchdb/finch/internal/btree"
	"github.com/finchdb/finch/internal/dberr"
)

// Re-exported sentinel errors and the document/value/object-id types
// callers need, so application code only imports this one package.
var (
	ErrBusy                  = dberr.Busy
	ErrKeyNotFound           = dberr.KeyNotFound
	ErrDataExist             = dberr.DataExist
	ErrCannotWriteWithoutTxn = dberr.CannotWriteDbWithoutTransaction
)

type (
	Document = bson.Document
	Value    = bson.Value
	ObjectID = bson.ObjectID
	Config   = backend.Config
)

// NewDoc, NewObjectID, ObjectIDValue, the bson.New* value constructors,
// and DefaultConfig are re-exported so callers never import internal/bson
// or internal/backend directly.
var (
	NewDoc        = bson.NewDoc
	NewObjectID   = bson.NewObjectID
	ObjectIDValue = bson.ObjectIDValue
	NewString     = bson.NewString
	NewInt        = bson.NewInt
	NewBool       = bson.NewBool
	NewDouble     = bson.NewDouble
	DefaultConfig = backend.DefaultConfig
)

// DB is an open database file plus its companion journal.
type DB struct {
	be   *backend.Backend
	tree *btree.Tree
}

// Open opens or creates the database file at path.
func Open(path string, cfg Config) (*DB, error) {
	be, err := backend.Open(path, cfg)
	if err != nil {
		return nil, err
	}

	rootID := be.RootMetaPageID()
	if rootID == 0 {
		if err := be.BeginWrite(); err != nil {
			be.Close()
			return nil, err
		}
		newRoot, err := be.AllocNode()
		if err != nil {
			be.Rollback()
			be.Close()
			return nil, err
		}
		if err := be.SetRootMetaPageID(newRoot); err != nil {
			be.Rollback()
			be.Close()
			return nil, err
		}
		if err := be.Commit(); err != nil {
			be.Close()
			return nil, err
		}
		rootID = newRoot
	}

	return &DB{be: be, tree: btree.Open(be, rootID)}, nil
}

// Close releases the database's file handles. Any open explicit
// transaction should be committed or rolled back first.
func (db *DB) Close() error { return db.be.Close() }

// BeginRead opens an explicit, caller-visible read transaction (spec.md
// §4.9). Every Find/All call made before the matching Commit/Rollback
// rides along on it rather than opening its own auto-transaction.
func (db *DB) BeginRead() error { return db.be.BeginRead() }

// BeginWrite opens an explicit, caller-visible write transaction.
func (db *DB) BeginWrite() error { return db.be.BeginWrite() }

// Commit ends the caller's explicit transaction, persisting its writes.
// If a read transaction was upgraded in place by an Insert/Delete/Replace
// call made while it was open (spec.md §4.9, §8 S5), the upgrade is
// committed as a write transaction.
func (db *DB) Commit() error { return db.be.Commit() }

// Rollback ends the caller's explicit transaction, discarding any writes
// made under it.
func (db *DB) Rollback() error { return db.be.Rollback() }

// Checkpoint forces the journal's committed frames back into the main
// file immediately, rather than waiting for the post-commit size
// threshold (spec.md §4.4). It fails if a transaction is currently open.
func (db *DB) Checkpoint() error { return db.be.Checkpoint() }

// SessionID returns a correlation id for this open handle's in-process
// session, useful for tagging a caller's own log lines alongside finch's.
// It has no on-disk meaning and is distinct from any document's ObjectID.
func (db *DB) SessionID() string { return db.be.SessionID() }

func idKey(d *Document) (btree.Key, bson.ObjectID, error) {
	v, ok := d.Get(bson.IDFieldName)
	if !ok {
		id := bson.NewObjectID()
		v = bson.ObjectIDValue(id)
		d.Set(bson.IDFieldName, v)
	}
	if v.Kind != bson.KindObjectID {
		return btree.Key{}, bson.ObjectID{}, fmt.Errorf("finch: _id must be an object id, got %#x", byte(v.Kind))
	}
	k, err := btree.NewKey(v)
	return k, v.OID, err
}

// Insert stores a new document, auto-generating its "_id" field as a
// fresh ObjectID if the caller didn't set one, and returns the id used.
// It opens and commits its own transaction if none is already open
// (spec.md §4.9's auto-transaction rule).
func (db *DB) Insert(d *Document) (ObjectID, error) {
	k, id, err := idKey(d)
	if err != nil {
		return ObjectID{}, err
	}
	encoded, err := bson.Encode(d)
	if err != nil {
		return ObjectID{}, err
	}

	if err := db.be.EnsureWrite(); err != nil {
		return ObjectID{}, err
	}
	ticket, err := db.be.WritePayload(encoded)
	if err != nil {
		db.be.Rollback()
		return ObjectID{}, err
	}
	if err := db.tree.Insert(k, ticket); err != nil {
		db.be.Rollback()
		return ObjectID{}, err
	}
	if db.tree.RootID != db.be.RootMetaPageID() {
		if err := db.be.SetRootMetaPageID(db.tree.RootID); err != nil {
			db.be.Rollback()
			return ObjectID{}, err
		}
	}
	if err := db.be.EndAuto(); err != nil {
		return ObjectID{}, err
	}
	return id, nil
}

// Find looks up a document by its "_id".
func (db *DB) Find(id ObjectID) (*Document, bool, error) {
	if err := db.be.EnsureRead(); err != nil {
		return nil, false, err
	}
	defer db.be.EndAuto()

	ticket, found, err := db.tree.Find(btree.ObjectIDKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	raw, err := db.be.ReadPayload(ticket)
	if err != nil {
		return nil, false, err
	}
	doc, err := bson.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Delete removes a document by its "_id". It returns ErrKeyNotFound if
// no such document exists.
func (db *DB) Delete(id ObjectID) error {
	if err := db.be.EnsureWrite(); err != nil {
		return err
	}
	k := btree.ObjectIDKey(id)
	ticket, found, err := db.tree.Find(k)
	if err != nil {
		db.be.Rollback()
		return err
	}
	if !found {
		db.be.Rollback()
		return dberr.KeyNotFound
	}
	if err := db.tree.Delete(k); err != nil {
		db.be.Rollback()
		return err
	}
	if db.tree.RootID != db.be.RootMetaPageID() {
		if err := db.be.SetRootMetaPageID(db.tree.RootID); err != nil {
			db.be.Rollback()
			return err
		}
	}
	if err := db.be.FreePayload(ticket); err != nil {
		db.be.Rollback()
		return err
	}
	return db.be.EndAuto()
}

// Replace overwrites the stored document for an existing "_id".
func (db *DB) Replace(d *Document) error {
	k, id, err := idKey(d)
	if err != nil {
		return err
	}
	encoded, err := bson.Encode(d)
	if err != nil {
		return err
	}

	if err := db.be.EnsureWrite(); err != nil {
		return err
	}
	oldTicket, found, err := db.tree.Find(k)
	if err != nil {
		db.be.Rollback()
		return err
	}
	if !found {
		db.be.Rollback()
		return fmt.Errorf("finch: replace %s: %w", id, dberr.KeyNotFound)
	}
	newTicket, err := db.be.WritePayload(encoded)
	if err != nil {
		db.be.Rollback()
		return err
	}
	if err := db.tree.Update(k, newTicket); err != nil {
		db.be.Rollback()
		return err
	}
	if err := db.be.FreePayload(oldTicket); err != nil {
		db.be.Rollback()
		return err
	}
	return db.be.EndAuto()
}

// All returns a Cursor over every document in ascending "_id" order.
func (db *DB) All() (*Cursor, error) {
	if err := db.be.EnsureRead(); err != nil {
		return nil, err
	}
	c, err := db.tree.First()
	if err != nil {
		db.be.EndAuto()
		return nil, err
	}
	return &Cursor{db: db, cur: c}, nil
}

// Cursor walks documents in ascending primary-key order.
type Cursor struct {
	db  *DB
	cur *btree.Cursor
}

// Valid reports whether the cursor currently references a document.
func (c *Cursor) Valid() bool { return c.cur.Valid() }

// Document decodes the document at the cursor's current position.
func (c *Cursor) Document() (*Document, error) {
	_, ticket, err := c.cur.Item()
	if err != nil {
		return nil, err
	}
	raw, err := c.db.be.ReadPayload(ticket)
	if err != nil {
		return nil, err
	}
	return bson.Decode(raw)
}

// Next advances the cursor.
func (c *Cursor) Next() error { return c.cur.Next() }

// Close ends the read transaction the cursor was opened under.
func (c *Cursor) Close() error { return c.db.be.EndAuto() }
