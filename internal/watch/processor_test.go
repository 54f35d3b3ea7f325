package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func openNodeStore(t *testing.T) *nodestore.Store {
	t.Helper()
	store, err := nodestore.Open(filepath.Join(t.TempDir(), "nodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProcessorUpdatesChangedFileAndAncestors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b.go"), "package a\n")

	ignores, err := ignore.Resolve(root, filepath.Join(root, "ignore_list"))
	require.NoError(t, err)

	store := openNodeStore(t)
	ctx := context.Background()

	proc := NewProcessor(root, store, ignores, nil)
	result, err := proc.Process(ctx, []RawEvent{{Path: filepath.Join(root, "a", "b.go"), Kind: EventCreate}})
	require.NoError(t, err)
	require.Len(t, result.Updated, 3) // a/b.go, a, .

	rec, err := store.GetByPath(ctx, "a/b.go")
	require.NoError(t, err)
	require.Equal(t, "a/b.go", rec.Path)

	rootRec, err := store.GetByPath(ctx, ".")
	require.NoError(t, err)
	require.False(t, rootRec.ID.IsZero())
}

func TestProcessorIsNoOpWhenContentUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a\n")

	ignores, err := ignore.Resolve(root, filepath.Join(root, "ignore_list"))
	require.NoError(t, err)

	store := openNodeStore(t)
	ctx := context.Background()
	proc := NewProcessor(root, store, ignores, nil)

	_, err = proc.Process(ctx, []RawEvent{{Path: filepath.Join(root, "a.go"), Kind: EventCreate}})
	require.NoError(t, err)

	result, err := proc.Process(ctx, []RawEvent{{Path: filepath.Join(root, "a.go"), Kind: EventWrite}})
	require.NoError(t, err)
	require.Empty(t, result.Updated)
	require.Equal(t, 2, result.Unchanged) // a.go and .
}

func TestProcessorTombstonesRemovedFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.go")
	writeFile(t, target, "package a\n")

	ignores, err := ignore.Resolve(root, filepath.Join(root, "ignore_list"))
	require.NoError(t, err)

	store := openNodeStore(t)
	ctx := context.Background()
	proc := NewProcessor(root, store, ignores, nil)

	_, err = proc.Process(ctx, []RawEvent{{Path: target, Kind: EventCreate}})
	require.NoError(t, err)

	rec, err := store.GetByPath(ctx, "a.go")
	require.NoError(t, err)

	require.NoError(t, os.Remove(target))
	result, err := proc.Process(ctx, []RawEvent{{Path: target, Kind: EventRemove}})
	require.NoError(t, err)
	require.Contains(t, result.Removed, rec.ID)

	_, tombstoned, err := store.Exists(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, tombstoned)
}
