package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchdb/finch/internal/bson"
	"github.com/finchdb/finch/internal/dberr"
	"github.com/finchdb/finch/internal/page"
)

// memPager is a minimal in-memory Pager used only to exercise Tree logic
// in isolation from internal/backend's on-disk machinery.
type memPager struct {
	pageSize int
	nextID   uint32
	nodes    map[uint32]*page.Node
	payloads map[uint32][]byte
	nextData uint32
}

func newMemPager(pageSize int) *memPager {
	return &memPager{
		pageSize: pageSize,
		nextID:   1,
		nodes:    make(map[uint32]*page.Node),
		payloads: make(map[uint32][]byte),
		nextData: 1,
	}
}

func (m *memPager) PageSize() int { return m.pageSize }

func (m *memPager) ReadNode(id uint32) (*page.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, page.ErrSlotNotFound
	}
	cp := *n
	cp.Items = append([]page.Item(nil), n.Items...)
	return &cp, nil
}

func (m *memPager) WriteNode(n *page.Node) error {
	n.SetPageSize(m.pageSize)
	if _, err := n.Encode(); err != nil {
		return err
	}
	cp := *n
	cp.Items = append([]page.Item(nil), n.Items...)
	m.nodes[n.ID] = &cp
	return nil
}

func (m *memPager) AllocNode() (uint32, error) {
	id := m.nextID
	m.nextID++
	m.nodes[id] = &page.Node{ID: id}
	return id, nil
}

func (m *memPager) FreeNode(id uint32) error {
	delete(m.nodes, id)
	return nil
}

func (m *memPager) ReadPayload(t page.Ticket) ([]byte, error) {
	return m.payloads[t.PageID], nil
}

func (m *memPager) WritePayload(data []byte) (page.Ticket, error) {
	id := m.nextData
	m.nextData++
	m.payloads[id] = append([]byte(nil), data...)
	return page.Ticket{PageID: id}, nil
}

func (m *memPager) FreePayload(t page.Ticket) error {
	delete(m.payloads, t.PageID)
	return nil
}

func (m *memPager) WriteKeyOverflow(data []byte) (page.Ticket, error) { return m.WritePayload(data) }
func (m *memPager) ReadKeyOverflow(t page.Ticket) ([]byte, error)     { return m.ReadPayload(t) }
func (m *memPager) FreeKeyOverflow(t page.Ticket) error               { return m.FreePayload(t) }

func newTestTree(t *testing.T) (*Tree, *memPager) {
	t.Helper()
	pager := newMemPager(512)
	rootID, err := pager.AllocNode()
	require.NoError(t, err)
	require.NoError(t, pager.WriteNode(&page.Node{ID: rootID}))
	return Open(pager, rootID), pager
}

func TestInsertFindRoundTrip(t *testing.T) {
	tree, pager := newTestTree(t)
	for i := int64(0); i < 200; i++ {
		ticket, err := pager.WritePayload([]byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, tree.Insert(IntKey(i), ticket))
	}
	for i := int64(0); i < 200; i++ {
		ticket, ok, err := tree.Find(IntKey(i))
		require.NoError(t, err)
		require.True(t, ok)
		got, err := pager.ReadPayload(ticket)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, got)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	tree, pager := newTestTree(t)
	ticket, err := pager.WritePayload([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, tree.Insert(IntKey(1), ticket))
	err = tree.Insert(IntKey(1), ticket)
	require.ErrorIs(t, err, dberr.DataExist)
}

func TestDeleteThenFindMisses(t *testing.T) {
	tree, pager := newTestTree(t)
	for i := int64(0); i < 100; i++ {
		ticket, err := pager.WritePayload([]byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, tree.Insert(IntKey(i), ticket))
	}
	for i := int64(0); i < 100; i += 2 {
		require.NoError(t, tree.Delete(IntKey(i)))
	}
	for i := int64(0); i < 100; i++ {
		_, ok, err := tree.Find(IntKey(i))
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, ok)
	}
}

func TestCursorAscendingOrder(t *testing.T) {
	tree, pager := newTestTree(t)
	want := []int64{5, 1, 9, 3, 7, 0, 8, 2, 6, 4}
	for _, k := range want {
		ticket, err := pager.WritePayload([]byte{byte(k)})
		require.NoError(t, err)
		require.NoError(t, tree.Insert(IntKey(k), ticket))
	}

	cur, err := tree.First()
	require.NoError(t, err)
	var got []int64
	for cur.Valid() {
		k, _, err := cur.Item()
		require.NoError(t, err)
		got = append(got, k.Value().Int)
		require.NoError(t, cur.Next())
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestCrossTypeComparisonIsError(t *testing.T) {
	_, err := Compare(IntKey(1), StringKey("1"))
	require.Error(t, err)
}

// walkNonRootNodes visits every node reachable from the root except the
// root itself, calling fn with each one.
func walkNonRootNodes(t *testing.T, tree *Tree, pager *memPager, fn func(n *page.Node)) {
	t.Helper()
	var walk func(id uint32, isRoot bool)
	walk = func(id uint32, isRoot bool) {
		n, err := pager.ReadNode(id)
		require.NoError(t, err)
		if !isRoot {
			fn(n)
		}
		if n.IsLeaf() {
			return
		}
		for i := range n.Items {
			walk(childAt(n, i), false)
		}
		walk(n.RightChild, false)
	}
	walk(tree.RootID, true)
}

// TestNodeFillStaysWithinSpecBounds is spec.md §8.3's invariant: after any
// sequence of inserts and deletes, every non-root node holds between
// ⌈capacity/2⌉−1 and capacity items (the same bound underfull checks).
func TestNodeFillStaysWithinSpecBounds(t *testing.T) {
	tree, pager := newTestTree(t)
	capacity := page.Capacity(pager.PageSize())
	minItems := (capacity+1)/2 - 1

	keys := rand.New(rand.NewSource(1)).Perm(500)
	for _, k := range keys {
		ticket, err := pager.WritePayload([]byte{byte(k)})
		require.NoError(t, err)
		require.NoError(t, tree.Insert(IntKey(int64(k)), ticket))
	}
	for i, k := range keys {
		if i%3 != 0 {
			continue
		}
		require.NoError(t, tree.Delete(IntKey(int64(k))))
	}

	walkNonRootNodes(t, tree, pager, func(n *page.Node) {
		require.GreaterOrEqual(t, len(n.Items), minItems,
			"node %d fell below the spec-mandated minimum fill", n.ID)
		require.LessOrEqual(t, len(n.Items), capacity,
			"node %d exceeded its page capacity", n.ID)
	})
}

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	k := ObjectIDKey(bson.NewObjectID())
	tag, payload, err := k.Encode()
	require.NoError(t, err)
	got, err := DecodeKey(tag, payload)
	require.NoError(t, err)
	cmp, err := Compare(k, got)
	require.NoError(t, err)
	require.Zero(t, cmp)
}
