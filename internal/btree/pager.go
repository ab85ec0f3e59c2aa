package btree

import "github.com/finchdb/finch/internal/page"

// Pager is the storage dependency the tree descends and mutates through.
// internal/backend supplies the concrete implementation; tests use a
// simple in-memory stand-in (see btree_test.go).
type Pager interface {
	PageSize() int

	ReadNode(id uint32) (*page.Node, error)
	WriteNode(n *page.Node) error
	AllocNode() (uint32, error)
	FreeNode(id uint32) error

	// ReadPayload resolves a data ticket (inline or large-chain) to its
	// full byte content.
	ReadPayload(t page.Ticket) ([]byte, error)
	// WritePayload stores a byte span, externalizing to a large-data chain
	// when bson.ShouldExternalize reports it must not live inline.
	WritePayload(data []byte) (page.Ticket, error)
	FreePayload(t page.Ticket) error

	// WriteKeyOverflow and ReadKeyOverflow externalize/resolve an
	// oversized key via an overflow-page chain.
	WriteKeyOverflow(data []byte) (page.Ticket, error)
	ReadKeyOverflow(t page.Ticket) ([]byte, error)
	FreeKeyOverflow(t page.Ticket) error
}
