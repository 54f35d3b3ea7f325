package headindex_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/storage/headindex"
)

func TestSetGetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head_index.bin")
	idx, err := headindex.Open(path)
	require.NoError(t, err)

	key := headindex.Key{Node: identity.NodeIDForFile("a.txt", 1, identity.ContentHash([]byte("a"))), FrameType: "context-w"}
	frameID := identity.FrameID{0x1}

	require.NoError(t, idx.Set(key, frameID))

	got, ok := idx.Get(key)
	require.True(t, ok)
	require.Equal(t, frameID, got)

	reopened, err := headindex.Open(path)
	require.NoError(t, err)
	got2, ok := reopened.Get(key)
	require.True(t, ok)
	require.Equal(t, frameID, got2)
}

func TestDeleteNodeRemovesAllFrameTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head_index.bin")
	idx, err := headindex.Open(path)
	require.NoError(t, err)

	node := identity.NodeIDForFile("a.txt", 1, identity.ContentHash([]byte("a")))
	k1 := headindex.Key{Node: node, FrameType: "context-w"}
	k2 := headindex.Key{Node: node, FrameType: "context-r"}
	require.NoError(t, idx.Set(k1, identity.FrameID{0x1}))
	require.NoError(t, idx.Set(k2, identity.FrameID{0x2}))

	require.NoError(t, idx.DeleteNode(node))

	_, ok := idx.Get(k1)
	require.False(t, ok)
	_, ok = idx.Get(k2)
	require.False(t, ok)
}

func TestOpenToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.bin")
	idx, err := headindex.Open(path)
	require.NoError(t, err)
	require.Empty(t, idx.Snapshot())
}
