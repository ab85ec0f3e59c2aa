package btree

import "github.com/finchdb/finch/internal/page"

// Cursor walks a tree's keys in ascending order using an explicit stack
// of (node, item-index) frames, per spec.md §3 — it never recurses, so a
// caller can hold one open across other calls to the tree as long as no
// structural mutation invalidates the pages it references.
type Cursor struct {
	tree  *Tree
	stack []cursorFrame
	done  bool
}

type cursorFrame struct {
	node *page.Node
	idx  int
}

// First positions a new cursor at the smallest key.
func (t *Tree) First() (*Cursor, error) {
	c := &Cursor{tree: t}
	n, err := t.pager.ReadNode(t.RootID)
	if err != nil {
		return nil, err
	}
	if err := c.pushLeftSpine(n); err != nil {
		return nil, err
	}
	return c, nil
}

// Seek positions a new cursor at the first key >= k.
func (t *Tree) Seek(k Key) (*Cursor, error) {
	c := &Cursor{tree: t}
	id := t.RootID
	for {
		n, err := t.pager.ReadNode(id)
		if err != nil {
			return nil, err
		}
		idx, found, err := t.searchNode(n, k)
		if err != nil {
			return nil, err
		}
		c.stack = append(c.stack, cursorFrame{node: n, idx: idx})
		if found {
			return c, nil
		}
		if n.IsLeaf() {
			c.advancePastEnd()
			return c, nil
		}
		id = childAt(n, idx)
	}
}

// pushLeftSpine descends n's leftmost path, pushing a frame per level.
func (c *Cursor) pushLeftSpine(n *page.Node) error {
	for {
		c.stack = append(c.stack, cursorFrame{node: n, idx: 0})
		if n.IsLeaf() {
			return nil
		}
		child, err := c.tree.pager.ReadNode(childAt(n, 0))
		if err != nil {
			return err
		}
		n = child
	}
}

// advancePastEnd repositions a frame left at its node's item count (no
// key found >= seek target at this level) onto the next valid item.
func (c *Cursor) advancePastEnd() {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.idx < len(top.node.Items) {
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.done = true
}

// Valid reports whether the cursor currently references an item.
func (c *Cursor) Valid() bool {
	if c.done || len(c.stack) == 0 {
		return false
	}
	top := c.stack[len(c.stack)-1]
	return top.idx < len(top.node.Items)
}

// Item returns the key and payload ticket at the cursor's position.
func (c *Cursor) Item() (Key, page.Ticket, error) {
	top := c.stack[len(c.stack)-1]
	it := top.node.Items[top.idx]
	k, err := c.tree.itemKey(it)
	if err != nil {
		return Key{}, page.Ticket{}, err
	}
	return k, it.PayloadTicket, nil
}

// Next advances the cursor to the following key in ascending order.
func (c *Cursor) Next() error {
	if !c.Valid() {
		c.done = true
		return nil
	}
	top := &c.stack[len(c.stack)-1]
	node := top.node
	idx := top.idx

	if node.IsLeaf() {
		top.idx++
		c.advancePastEnd()
		return nil
	}

	// Descend into the subtree right after the current item before
	// revisiting this node's next item.
	childID := idx + 1
	var nextChild uint32
	if childID < len(node.Items) {
		nextChild = node.Items[childID].LeftChild
	} else {
		nextChild = node.RightChild
	}
	top.idx++
	n, err := c.tree.pager.ReadNode(nextChild)
	if err != nil {
		return err
	}
	return c.pushLeftSpine(n)
}
