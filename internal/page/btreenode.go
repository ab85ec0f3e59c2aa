package page

import "github.com/finchdb/finch/internal/rawpage"

// B-tree node page layout (spec.md §3): 2-byte magic; 2-byte item count;
// 2-byte remaining bytes; 4-byte rightmost child pid; 6 preserved bytes;
// then a top-growing directory of per-item 2-byte sizes and a
// bottom-growing array of item records packed contiguously in order.
//
// Each item record holds: left-child pid (4), key-type tag (1), key-length
// (1, 255 meaning "key lives in an out-of-node overflow ticket"), key bytes
// (0-254 raw bytes, or a 6-byte ticket when the sentinel is set), and a
// 6-byte payload ticket.
//
// Because the directory stores sizes rather than offsets, finch decodes a
// node's items into an ordered Go slice once per load (Decode) and
// re-serializes the whole slice on every mutation (Encode) — this mirrors
// how the original engine operates on an in-memory item Vec rather than
// patching raw bytes in place, and keeps split/merge/insert logic in
// internal/btree working with ordinary slice operations.
const (
	nodeOffItemCount = 2
	nodeOffRemaining = 4
	nodeOffRightPtr  = 6
	nodeHeaderSize   = 16 // magic(2)+itemCount(2)+remaining(2)+rightPtr(4)+reserved(6)
	nodeDirEntry     = 2

	itemFixedSize = 4 + 1 + 1 + EncodedTicketSize // leftChild+tag+keyLen+ticket, excluding key bytes

	// KeyLenOverflowSentinel flags that an item's key lives in an
	// out-of-node overflow ticket rather than inline.
	KeyLenOverflowSentinel = 255
	// MaxInlineKeyLen is the largest key that can be stored inline.
	MaxInlineKeyLen = 254
)

// Item is one b-tree node entry, decoded from its on-disk record.
type Item struct {
	LeftChild     uint32
	KeyType       byte
	KeyBytes      []byte // present when not externalized
	KeyTicket     Ticket // present when KeyLenOverflowSentinel
	KeyExternal   bool
	PayloadTicket Ticket
}

// EncodedSize returns the on-disk size of this item's record.
func (it Item) EncodedSize() int {
	if it.KeyExternal {
		return itemFixedSize + EncodedTicketSize
	}
	return itemFixedSize + len(it.KeyBytes)
}

// IsLeaf reports whether this item has no left child (spec.md §3: "a node
// is a leaf iff every left-child is 0").
func (it Item) IsLeaf() bool { return it.LeftChild == 0 }

// Node is the decoded, in-memory form of a b-tree node page.
type Node struct {
	ID         uint32
	Items      []Item
	RightChild uint32
	pageSize   int
}

// NewNode creates a fresh, empty node.
func NewNode(id uint32, pageSize int) *Node {
	return &Node{ID: id, pageSize: pageSize}
}

// NewNodeFrom builds a node from an already-assembled item slice with its
// page size set. internal/btree does not call it: its split/merge/borrow
// code builds Node literals and relies on the pager's WriteNode to stamp
// the page size via SetPageSize.
func NewNodeFrom(id uint32, pageSize int, items []Item, rightChild uint32) *Node {
	return &Node{ID: id, Items: items, RightChild: rightChild, pageSize: pageSize}
}

// SetPageSize stamps the page size a node will be encoded at. Callers
// that build a Node literal directly (rather than via NewNode/DecodeNode)
// must call this before Encode.
func (n *Node) SetPageSize(size int) { n.pageSize = size }

// PageSize returns the page size a node will be encoded at.
func (n *Node) PageSize() int { return n.pageSize }

// IsLeaf reports whether every item's left child is 0.
func (n *Node) IsLeaf() bool {
	if n.RightChild != 0 {
		return false
	}
	for _, it := range n.Items {
		if !it.IsLeaf() {
			return false
		}
	}
	return true
}

// Capacity returns a conservative estimate of how many minimally-sized
// items (tag + empty inline key) a node of this page size can hold, used
// by split/merge to decide under/oversize thresholds (spec.md §4.8).
func Capacity(pageSize int) int {
	avail := pageSize - nodeHeaderSize
	perItem := nodeDirEntry + itemFixedSize
	if perItem == 0 {
		return 0
	}
	return avail / perItem
}

// usedBytes returns the directory + record bytes the current item set
// would occupy on disk.
func (n *Node) usedBytes() int {
	total := nodeHeaderSize
	for _, it := range n.Items {
		total += nodeDirEntry + it.EncodedSize()
	}
	return total
}

// Remaining returns the free bytes left in the page for this item set.
func (n *Node) Remaining() int {
	return n.pageSize - n.usedBytes()
}

// Encode serializes the node to a raw page.
func (n *Node) Encode() (*rawpage.RawPage, error) {
	raw := rawpage.New(n.pageSize)
	WriteMagic(raw.Bytes(), KindBTreeNode)
	raw.PutU16At(nodeOffItemCount, uint16(len(n.Items)))
	raw.PutU32At(nodeOffRightPtr, n.RightChild)

	remaining := n.Remaining()
	if remaining < 0 {
		return nil, ErrPageFull
	}
	raw.PutU16At(nodeOffRemaining, uint16(remaining))

	dirOff := nodeHeaderSize
	recOff := n.pageSize
	for _, it := range n.Items {
		size := it.EncodedSize()
		recOff -= size
		raw.PutU16At(dirOff, uint16(size))
		dirOff += nodeDirEntry

		p := recOff
		raw.PutU32At(p, it.LeftChild)
		p += 4
		raw.Bytes()[p] = it.KeyType
		p++
		if it.KeyExternal {
			raw.Bytes()[p] = KeyLenOverflowSentinel
			p++
			raw.PutAt(p, it.KeyTicket.Encode())
			p += EncodedTicketSize
		} else {
			raw.Bytes()[p] = byte(len(it.KeyBytes))
			p++
			raw.PutAt(p, it.KeyBytes)
			p += len(it.KeyBytes)
		}
		raw.PutAt(p, it.PayloadTicket.Encode())
	}
	return raw, nil
}

// DecodeNode parses a node page's raw bytes back into a Node.
func DecodeNode(id uint32, raw *rawpage.RawPage) (*Node, error) {
	n := &Node{ID: id, pageSize: raw.Len(), RightChild: raw.U32At(nodeOffRightPtr)}
	count := raw.U16At(nodeOffItemCount)

	dirOff := nodeHeaderSize
	recOff := raw.Len()
	n.Items = make([]Item, 0, count)
	for i := uint16(0); i < count; i++ {
		size := int(raw.U16At(dirOff))
		dirOff += nodeDirEntry
		recOff -= size

		p := recOff
		it := Item{}
		it.LeftChild = raw.U32At(p)
		p += 4
		it.KeyType = raw.Bytes()[p]
		p++
		keyLen := int(raw.Bytes()[p])
		p++
		if keyLen == KeyLenOverflowSentinel {
			it.KeyExternal = true
			tb, err := raw.GetAt(p, EncodedTicketSize)
			if err != nil {
				return nil, err
			}
			it.KeyTicket = DecodeTicket(tb)
			p += EncodedTicketSize
		} else {
			kb, err := raw.GetAt(p, keyLen)
			if err != nil {
				return nil, err
			}
			it.KeyBytes = kb
			p += keyLen
		}
		tb, err := raw.GetAt(p, EncodedTicketSize)
		if err != nil {
			return nil, err
		}
		it.PayloadTicket = DecodeTicket(tb)
		n.Items = append(n.Items, it)
	}
	return n, nil
}
