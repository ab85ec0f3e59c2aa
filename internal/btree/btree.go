package btree

import (
	"errors"

	"github.com/finchdb/finch/internal/dberr"
	"github.com/finchdb/finch/internal/page"
)

// Tree is an ordered index over Key -> page.Ticket, stored as a chain of
// page.Node pages reachable from RootID. Every traversal walks an
// explicit stack of (pageID, index) frames rather than recursing, so a
// cursor can suspend mid-walk and resume later (spec.md §3).
type Tree struct {
	pager  Pager
	RootID uint32
}

// Open wraps an existing root page id as a tree.
func Open(pager Pager, rootID uint32) *Tree {
	return &Tree{pager: pager, RootID: rootID}
}

type frame struct {
	id  uint32
	idx int
}

func (t *Tree) itemKey(it page.Item) (Key, error) {
	if it.KeyExternal {
		data, err := t.pager.ReadKeyOverflow(it.KeyTicket)
		if err != nil {
			return Key{}, err
		}
		return DecodeKey(it.KeyType, data)
	}
	return DecodeKey(it.KeyType, it.KeyBytes)
}

func (t *Tree) buildItem(k Key, leftChild uint32, payload page.Ticket) (page.Item, error) {
	tag, raw, err := k.Encode()
	if err != nil {
		return page.Item{}, err
	}
	it := page.Item{LeftChild: leftChild, KeyType: tag, PayloadTicket: payload}
	if len(raw) > page.MaxInlineKeyLen {
		ticket, err := t.pager.WriteKeyOverflow(raw)
		if err != nil {
			return page.Item{}, err
		}
		it.KeyExternal = true
		it.KeyTicket = ticket
	} else {
		it.KeyBytes = raw
	}
	return it, nil
}

func (t *Tree) freeItemKey(it page.Item) error {
	if it.KeyExternal {
		return t.pager.FreeKeyOverflow(it.KeyTicket)
	}
	return nil
}

// searchNode returns the index of k if present, or the index at which k
// would be inserted (which also doubles as the child pointer to descend
// into for an internal node).
func (t *Tree) searchNode(n *page.Node, k Key) (idx int, found bool, err error) {
	lo, hi := 0, len(n.Items)
	for lo < hi {
		mid := (lo + hi) / 2
		ik, err := t.itemKey(n.Items[mid])
		if err != nil {
			return 0, false, err
		}
		cmp, err := Compare(k, ik)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

func childAt(n *page.Node, idx int) uint32 {
	if idx < len(n.Items) {
		return n.Items[idx].LeftChild
	}
	return n.RightChild
}

func insertItemAt(n *page.Node, idx int, it page.Item) {
	n.Items = append(n.Items, page.Item{})
	copy(n.Items[idx+1:], n.Items[idx:])
	n.Items[idx] = it
}

func removeItemAt(n *page.Node, idx int) page.Item {
	it := n.Items[idx]
	n.Items = append(n.Items[:idx], n.Items[idx+1:]...)
	return it
}

// Find looks up a key and returns its stored payload ticket.
func (t *Tree) Find(k Key) (page.Ticket, bool, error) {
	id := t.RootID
	for {
		n, err := t.pager.ReadNode(id)
		if err != nil {
			return page.Ticket{}, false, err
		}
		idx, found, err := t.searchNode(n, k)
		if err != nil {
			return page.Ticket{}, false, err
		}
		if found {
			return n.Items[idx].PayloadTicket, true, nil
		}
		if n.IsLeaf() {
			return page.Ticket{}, false, nil
		}
		id = childAt(n, idx)
	}
}

func (t *Tree) descend(k Key) ([]frame, *page.Node, int, bool, error) {
	var stack []frame
	id := t.RootID
	for {
		n, err := t.pager.ReadNode(id)
		if err != nil {
			return nil, nil, 0, false, err
		}
		idx, found, err := t.searchNode(n, k)
		if err != nil {
			return nil, nil, 0, false, err
		}
		stack = append(stack, frame{id: id, idx: idx})
		if found || n.IsLeaf() {
			return stack, n, idx, found, nil
		}
		id = childAt(n, idx)
	}
}

// Insert adds a new key. It returns dberr.DataExist if the key is
// already present.
func (t *Tree) Insert(k Key, payload page.Ticket) error {
	stack, leaf, idx, found, err := t.descend(k)
	if err != nil {
		return err
	}
	if found {
		return dberr.DataExist
	}
	it, err := t.buildItem(k, 0, payload)
	if err != nil {
		return err
	}
	insertItemAt(leaf, idx, it)
	if err := t.pager.WriteNode(leaf); err == nil {
		return nil
	} else if !errors.Is(err, page.ErrPageFull) {
		return err
	}
	return t.splitAndPropagate(stack, leaf)
}

// Update replaces the payload ticket stored for an existing key.
func (t *Tree) Update(k Key, payload page.Ticket) error {
	_, n, idx, found, err := t.descend(k)
	if err != nil {
		return err
	}
	if !found {
		return dberr.KeyNotFound
	}
	n.Items[idx].PayloadTicket = payload
	return t.pager.WriteNode(n)
}

func (t *Tree) splitAndPropagate(stack []frame, node *page.Node) error {
	for {
		mid := len(node.Items) / 2
		promoted := node.Items[mid]
		leftItems := append([]page.Item(nil), node.Items[:mid]...)
		rightItems := append([]page.Item(nil), node.Items[mid+1:]...)

		var leftRight, rightRight uint32
		if !node.IsLeaf() {
			leftRight = promoted.LeftChild
			rightRight = node.RightChild
		}

		leftID := node.ID
		rightID, err := t.pager.AllocNode()
		if err != nil {
			return err
		}

		left := &page.Node{ID: leftID, Items: leftItems, RightChild: leftRight}
		right := &page.Node{ID: rightID, Items: rightItems, RightChild: rightRight}
		if err := t.pager.WriteNode(left); err != nil {
			return err
		}
		if err := t.pager.WriteNode(right); err != nil {
			return err
		}

		promoted.LeftChild = leftID

		if len(stack) == 1 {
			newRootID, err := t.pager.AllocNode()
			if err != nil {
				return err
			}
			newRoot := &page.Node{ID: newRootID, Items: []page.Item{promoted}, RightChild: rightID}
			if err := t.pager.WriteNode(newRoot); err != nil {
				return err
			}
			t.RootID = newRootID
			return nil
		}

		parentFrame := stack[len(stack)-2]
		stack = stack[:len(stack)-1]
		parent, err := t.pager.ReadNode(parentFrame.id)
		if err != nil {
			return err
		}
		if parentFrame.idx == len(parent.Items) {
			parent.RightChild = rightID
		} else {
			parent.Items[parentFrame.idx].LeftChild = rightID
		}
		insertItemAt(parent, parentFrame.idx, promoted)

		if err := t.pager.WriteNode(parent); err == nil {
			return nil
		} else if !errors.Is(err, page.ErrPageFull) {
			return err
		}
		node = parent
	}
}

// Delete removes a key. It returns dberr.KeyNotFound if absent.
func (t *Tree) Delete(k Key) error {
	stack, n, idx, found, err := t.descend(k)
	if err != nil {
		return err
	}
	if !found {
		return dberr.KeyNotFound
	}

	if n.IsLeaf() {
		removed := removeItemAt(n, idx)
		if err := t.freeItemKey(removed); err != nil {
			return err
		}
		if err := t.pager.WriteNode(n); err != nil {
			return err
		}
		return t.rebalance(stack)
	}

	// Internal item: substitute the in-order successor (the leftmost
	// item of the subtree to the item's right) and delete it there.
	succStack, succNode, succIdx, err := t.leftmost(childAt(n, idx+1))
	if err != nil {
		return err
	}
	succItem := succNode.Items[succIdx]
	removed := n.Items[idx]
	n.Items[idx] = page.Item{
		LeftChild:     removed.LeftChild,
		KeyType:       succItem.KeyType,
		KeyBytes:      succItem.KeyBytes,
		KeyTicket:     succItem.KeyTicket,
		KeyExternal:   succItem.KeyExternal,
		PayloadTicket: succItem.PayloadTicket,
	}
	if err := t.pager.WriteNode(n); err != nil {
		return err
	}
	removeItemAt(succNode, succIdx)
	if err := t.pager.WriteNode(succNode); err != nil {
		return err
	}
	if err := t.freeItemKey(removed); err != nil {
		return err
	}
	// stack's last frame recorded idx as n's item being deleted, but the
	// successor subtree was reached through n's child at idx+1 — fix that
	// up before splicing in succStack so rebalance reads correct parent/
	// child indices across the n -> succStack[0] boundary.
	fullStack := append(append([]frame(nil), stack...), succStack...)
	fullStack[len(stack)-1].idx = idx + 1
	return t.rebalance(fullStack)
}

func (t *Tree) leftmost(id uint32) ([]frame, *page.Node, int, error) {
	var stack []frame
	for {
		n, err := t.pager.ReadNode(id)
		if err != nil {
			return nil, nil, 0, err
		}
		stack = append(stack, frame{id: id, idx: 0})
		if n.IsLeaf() {
			return stack, n, 0, nil
		}
		id = n.Items[0].LeftChild
	}
}

// rebalance walks the descent stack bottom-up, merging or borrowing for
// any node left underfull by a deletion (spec.md §4.8).
func (t *Tree) rebalance(stack []frame) error {
	for i := len(stack) - 1; i > 0; i-- {
		child, err := t.pager.ReadNode(stack[i].id)
		if err != nil {
			return err
		}
		if !underfull(child, t.pager.PageSize()) {
			return nil
		}
		parent, err := t.pager.ReadNode(stack[i-1].id)
		if err != nil {
			return err
		}
		childIdx := stack[i-1].idx

		if ok, err := t.borrowLeft(parent, childIdx, child); err != nil {
			return err
		} else if ok {
			return nil
		}
		if ok, err := t.borrowRight(parent, childIdx, child); err != nil {
			return err
		} else if ok {
			return nil
		}
		if err := t.mergeWithSibling(parent, childIdx, child); err != nil {
			return err
		}
		// parent may now itself be underfull or (if root) collapsible;
		// continue the loop with the parent as the next child to check.
	}
	return t.collapseRoot()
}

// underfull reports whether n holds fewer items than the minimum fill
// spec.md §4.8 rule 4 and §8.3's invariant require: ⌈capacity/2⌉−1.
func underfull(n *page.Node, pageSize int) bool {
	capacity := page.Capacity(pageSize)
	if capacity <= 0 {
		return false
	}
	return len(n.Items) < (capacity+1)/2-1
}

func (t *Tree) childPageID(parent *page.Node, idx int) uint32 { return childAt(parent, idx) }

func (t *Tree) borrowLeft(parent *page.Node, childIdx int, child *page.Node) (bool, error) {
	if childIdx == 0 {
		return false, nil
	}
	leftID := t.childPageID(parent, childIdx-1)
	left, err := t.pager.ReadNode(leftID)
	if err != nil {
		return false, err
	}
	if len(left.Items) <= 1 {
		return false, nil
	}
	sep := parent.Items[childIdx-1]
	borrowed := left.Items[len(left.Items)-1]
	left.Items = left.Items[:len(left.Items)-1]

	newChildItem := page.Item{
		LeftChild: left.RightChild, KeyType: sep.KeyType, KeyBytes: sep.KeyBytes,
		KeyTicket: sep.KeyTicket, KeyExternal: sep.KeyExternal, PayloadTicket: sep.PayloadTicket,
	}
	if !child.IsLeaf() {
		left.RightChild = borrowed.LeftChild
		borrowed.LeftChild = 0
	}
	insertItemAt(child, 0, newChildItem)

	parent.Items[childIdx-1] = page.Item{
		LeftChild: sep.LeftChild, KeyType: borrowed.KeyType, KeyBytes: borrowed.KeyBytes,
		KeyTicket: borrowed.KeyTicket, KeyExternal: borrowed.KeyExternal, PayloadTicket: borrowed.PayloadTicket,
	}

	if err := t.pager.WriteNode(left); err != nil {
		return false, err
	}
	if err := t.pager.WriteNode(child); err != nil {
		return false, err
	}
	if err := t.pager.WriteNode(parent); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tree) borrowRight(parent *page.Node, childIdx int, child *page.Node) (bool, error) {
	if childIdx >= len(parent.Items) {
		return false, nil
	}
	rightID := t.childPageID(parent, childIdx+1)
	right, err := t.pager.ReadNode(rightID)
	if err != nil {
		return false, err
	}
	if len(right.Items) <= 1 {
		return false, nil
	}
	sep := parent.Items[childIdx]
	borrowed := right.Items[0]
	removeItemAt(right, 0)

	newChildItem := page.Item{
		LeftChild: child.RightChild, KeyType: sep.KeyType, KeyBytes: sep.KeyBytes,
		KeyTicket: sep.KeyTicket, KeyExternal: sep.KeyExternal, PayloadTicket: sep.PayloadTicket,
	}
	if !child.IsLeaf() {
		child.RightChild = borrowed.LeftChild
		borrowed.LeftChild = 0
	}
	child.Items = append(child.Items, newChildItem)

	parent.Items[childIdx] = page.Item{
		LeftChild: sep.LeftChild, KeyType: borrowed.KeyType, KeyBytes: borrowed.KeyBytes,
		KeyTicket: borrowed.KeyTicket, KeyExternal: borrowed.KeyExternal, PayloadTicket: borrowed.PayloadTicket,
	}

	if err := t.pager.WriteNode(right); err != nil {
		return false, err
	}
	if err := t.pager.WriteNode(child); err != nil {
		return false, err
	}
	if err := t.pager.WriteNode(parent); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tree) mergeWithSibling(parent *page.Node, childIdx int, child *page.Node) error {
	if childIdx > 0 {
		leftID := t.childPageID(parent, childIdx-1)
		left, err := t.pager.ReadNode(leftID)
		if err != nil {
			return err
		}
		return t.merge(parent, childIdx-1, left, child)
	}
	rightID := t.childPageID(parent, childIdx+1)
	right, err := t.pager.ReadNode(rightID)
	if err != nil {
		return err
	}
	return t.merge(parent, childIdx, child, right)
}

// merge combines left and right, pulling the parent's separator key at
// sepIdx down between them, and frees the right page.
func (t *Tree) merge(parent *page.Node, sepIdx int, left, right *page.Node) error {
	sep := removeItemAt(parent, sepIdx)
	if !left.IsLeaf() {
		sep.LeftChild = left.RightChild
		left.RightChild = right.RightChild
	} else {
		sep.LeftChild = 0
	}
	left.Items = append(left.Items, sep)
	left.Items = append(left.Items, right.Items...)

	if sepIdx == len(parent.Items) {
		parent.RightChild = left.ID
	} else {
		parent.Items[sepIdx].LeftChild = left.ID
	}

	if err := t.pager.WriteNode(left); err != nil {
		return err
	}
	if err := t.pager.WriteNode(parent); err != nil {
		return err
	}
	return t.pager.FreeNode(right.ID)
}

// collapseRoot replaces a root that has no items and a single child with
// that child (spec.md §4.8's root-collapse edge case).
func (t *Tree) collapseRoot() error {
	root, err := t.pager.ReadNode(t.RootID)
	if err != nil {
		return err
	}
	if len(root.Items) != 0 {
		return nil
	}
	if root.RightChild == 0 {
		return nil
	}
	oldID := t.RootID
	t.RootID = root.RightChild
	return t.pager.FreeNode(oldID)
}
