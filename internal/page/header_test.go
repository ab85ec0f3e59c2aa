package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchdb/finch/internal/dberr"
)

func TestNewHeaderDefaults(t *testing.T) {
	h := NewHeader(4096)
	require.Equal(t, uint32(1), h.Watermark())
	require.Equal(t, uint32(0), h.RootMetaPageID())
	require.Equal(t, 4096, h.PageSize())
}

func TestLoadHeaderRoundTrip(t *testing.T) {
	h := NewHeader(4096)
	h.SetWatermark(7)
	h.SetRootMetaPageID(3)

	loaded, err := LoadHeader(h.Raw())
	require.NoError(t, err)
	require.Equal(t, uint32(7), loaded.Watermark())
	require.Equal(t, uint32(3), loaded.RootMetaPageID())
	require.Equal(t, 4096, loaded.PageSize())
}

func TestLoadHeaderRejectsBadMagic(t *testing.T) {
	h := NewHeader(4096)
	h.Raw().PutAt(0, []byte("not a finch db"))
	_, err := LoadHeader(h.Raw())
	require.ErrorIs(t, err, dberr.NotAValidDatabase)
}

func TestLoadHeaderRejectsVersionMismatch(t *testing.T) {
	h := NewHeader(4096)
	h.Raw().PutU32At(offVersion, 99)
	_, err := LoadHeader(h.Raw())
	require.ErrorIs(t, err, dberr.VersionMismatch)
}

func TestInlineFreeListPushPop(t *testing.T) {
	h := NewHeader(4096)
	accepted := h.InlinePush([]uint32{10, 11, 12})
	require.Equal(t, 3, accepted)
	require.Equal(t, uint32(3), h.InlineCount())

	id, ok := h.InlinePop()
	require.True(t, ok)
	require.Equal(t, uint32(12), id, "pop is LIFO")
	require.Equal(t, uint32(2), h.InlineCount())
}

func TestInlineFreeListPopEmpty(t *testing.T) {
	h := NewHeader(4096)
	_, ok := h.InlinePop()
	require.False(t, ok)
}

func TestInlineFreeListCapacityLimits(t *testing.T) {
	capacity := InlineCapacity(4096)
	ids := make([]uint32, capacity+5)
	for i := range ids {
		ids[i] = uint32(i + 1)
	}
	h := NewHeader(4096)
	accepted := h.InlinePush(ids)
	require.Equal(t, capacity, accepted)
	require.Equal(t, 0, h.InlineRoom())
}

func TestOverflowPageIDRoundTrip(t *testing.T) {
	h := NewHeader(4096)
	require.Equal(t, uint32(0), h.OverflowPageID())
	h.SetOverflowPageID(42)
	require.Equal(t, uint32(42), h.OverflowPageID())
}

func TestInlineCapacityDegeneratesForSmallPage(t *testing.T) {
	require.Equal(t, 0, InlineCapacity(512))
}
