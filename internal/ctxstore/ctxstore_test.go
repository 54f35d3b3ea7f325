package ctxstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/query"
)

func openWorkspace(t *testing.T) (*Workspace, string) {
	t.Helper()
	root := t.TempDir()
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("package b\n"), 0o644))

	ws, err := Open(context.Background(), root, data, Deps{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })
	return ws, root
}

func TestScanPersistsEveryNodeAndIsIdempotent(t *testing.T) {
	ws, root := openWorkspace(t)
	ctx := context.Background()

	tr, err := ws.Scan(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, tr.Nodes)

	rec, err := ws.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	require.False(t, rec.Tombstoned)

	// Second scan of an unchanged tree must not tombstone anything.
	_, err = ws.Scan(ctx)
	require.NoError(t, err)
	rec2, err := ws.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	require.Equal(t, rec.ID, rec2.ID)
	require.False(t, rec2.Tombstoned)

	require.NoError(t, os.Remove(filepath.Join(root, "a.go")))
	_, err = ws.Scan(ctx)
	require.NoError(t, err)
	rec3, err := ws.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	require.True(t, rec3.Tombstoned)
}

func TestPutFrameThenGetNodeRoundTrips(t *testing.T) {
	ws, _ := openWorkspace(t)
	ctx := context.Background()

	_, err := ws.Scan(ctx)
	require.NoError(t, err)

	rec, err := ws.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)

	f := &frame.Frame{
		NodeID:    rec.ID,
		AgentID:   "summarizer",
		FrameType: "summary",
		Content:   []byte("a summary"),
		Basis:     identity.Basis{Kind: identity.BasisNodeOnly, Node: rec.ID},
		CreatedAt: time.Now(),
	}
	f.FrameID = f.ComputeID()

	require.NoError(t, ws.PutFrame(ctx, f, "summarizer"))

	nc, err := ws.GetNode(ctx, rec.ID, query.View{})
	require.NoError(t, err)
	require.Len(t, nc.Frames, 1)
	require.Equal(t, "summary", nc.Frames[0].FrameType)
	require.Equal(t, []byte("a summary"), nc.Frames[0].Content)
}

func TestPutFrameRejectsAgentMismatch(t *testing.T) {
	ws, _ := openWorkspace(t)
	ctx := context.Background()

	_, err := ws.Scan(ctx)
	require.NoError(t, err)
	rec, err := ws.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)

	f := &frame.Frame{
		NodeID:    rec.ID,
		AgentID:   "summarizer",
		FrameType: "summary",
		Content:   []byte("x"),
		Basis:     identity.Basis{Kind: identity.BasisNodeOnly, Node: rec.ID},
		CreatedAt: time.Now(),
	}
	f.FrameID = f.ComputeID()

	err = ws.PutFrame(ctx, f, "someone-else")
	require.Error(t, err)
}

func TestGetNodeByPathResolvesUnknownPath(t *testing.T) {
	ws, _ := openWorkspace(t)
	ctx := context.Background()
	_, err := ws.Scan(ctx)
	require.NoError(t, err)

	_, err = ws.GetNodeByPath(ctx, "does/not/exist.go", query.View{})
	require.Error(t, err)
}
