package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/config"
	"github.com/untoldecay/treectx/internal/ctxstore"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/providerprofile"
)

func newApp(t *testing.T) (*App, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("package b\n"), 0o644))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	cfg.DataHome = t.TempDir()
	cfg.AgentsDir = t.TempDir()
	cfg.ProvidersDir = t.TempDir()

	ws, err := ctxstore.Open(context.Background(), cfg.WorkspaceRoot, cfg.DataHome, ctxstore.Deps{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })

	app := &App{
		Config:    cfg,
		Agents:    agentprofile.Open(cfg.AgentsDir),
		Providers: providerprofile.Open(cfg.ProvidersDir),
		Workspace: ws,
	}
	return app, root
}

func putFrame(t *testing.T, app *App, nodeID identity.NodeID, agentID string) {
	t.Helper()
	f := &frame.Frame{
		NodeID:    nodeID,
		AgentID:   agentID,
		FrameType: "summary",
		Content:   []byte("summary text"),
		Basis:     identity.Basis{Kind: identity.BasisNodeOnly, Node: nodeID},
		CreatedAt: time.Now(),
	}
	f.FrameID = f.ComputeID()
	require.NoError(t, app.Workspace.PutFrame(context.Background(), f, agentID))
}

func TestStatusReportsScannedAndCoverage(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()

	empty, err := app.Status(ctx, false)
	require.NoError(t, err)
	require.False(t, empty.Scanned)

	_, err = app.Workspace.Scan(ctx)
	require.NoError(t, err)

	rec, err := app.Workspace.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	putFrame(t, app, rec.ID, "summarizer")

	writeAgentProfile(t, app.Config.AgentsDir, "summarizer")

	report, err := app.Status(ctx, true)
	require.NoError(t, err)
	require.True(t, report.Scanned)
	require.NotNil(t, report.Tree)
	require.NotEmpty(t, report.ContextCoverage)
	require.Equal(t, 1, report.ContextCoverage[0].NodesWithFrame)
}

func TestValidateCleanWorkspaceHasNoErrors(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	report, err := app.Validate(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Errors)
}

func TestDeleteNodeTombstonesSubtreeAndRemovesHeads(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	sub, err := app.Workspace.Nodes.GetByPath(ctx, "sub")
	require.NoError(t, err)
	putFrame(t, app, sub.ID, "summarizer")

	result, err := app.DeleteNode(ctx, "sub", DeleteOptions{Cascade: true, DeleteFrames: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.HeadsRemoved)
	require.Equal(t, 1, result.FramesDeleted)

	rec, err := app.Workspace.Nodes.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, rec.Tombstoned)
}

func TestDeleteNodeWithoutCascadeLeavesChildrenUntouched(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	sub, err := app.Workspace.Nodes.GetByPath(ctx, "sub")
	require.NoError(t, err)
	bGo, err := app.Workspace.Nodes.GetByPath(ctx, "sub/b.go")
	require.NoError(t, err)

	result, err := app.DeleteNode(ctx, "sub", DeleteOptions{Cascade: false, DeleteFrames: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.NodesAffected)

	rec, err := app.Workspace.Nodes.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, rec.Tombstoned)

	childRec, err := app.Workspace.Nodes.Get(ctx, bGo.ID)
	require.NoError(t, err)
	require.False(t, childRec.Tombstoned)
}

func TestDeleteNodeDryRunMutatesNothing(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	aGo, err := app.Workspace.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	putFrame(t, app, aGo.ID, "summarizer")

	result, err := app.DeleteNode(ctx, "a.go", DeleteOptions{DeleteFrames: true, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.NodesAffected)

	rec, err := app.Workspace.Nodes.Get(ctx, aGo.ID)
	require.NoError(t, err)
	require.False(t, rec.Tombstoned)
}

func TestRestoreNodeClearsTombstone(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	_, err = app.DeleteNode(ctx, "a.go", DeleteOptions{DeleteFrames: true})
	require.NoError(t, err)

	require.NoError(t, app.RestoreNode(ctx, "a.go"))

	rec, err := app.Workspace.Nodes.GetByPath(ctx, "a.go")
	require.NoError(t, err)
	require.False(t, rec.Tombstoned)
}

func TestListDeletedReturnsOnlyTombstoned(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	_, err = app.DeleteNode(ctx, "a.go", DeleteOptions{DeleteFrames: true})
	require.NoError(t, err)

	deleted, err := app.ListDeleted(ctx)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	require.Equal(t, "a.go", deleted[0].Path)
}

func TestCompactIsNoOpOnCleanStore(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()
	_, err := app.Workspace.Scan(ctx)
	require.NoError(t, err)

	result, err := app.Compact(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.DanglingPathsRemoved)
}

func TestInitScaffoldsDataAndProfileDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Init(root, false))
}

func writeAgentProfile(t *testing.T, dir, id string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system.txt"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.tmpl"), []byte("f"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dir.tmpl"), []byte("d"), 0o644))
	toml := `id = "` + id + `"
role = "writer"
provider = "anthropic-default"
system_prompt_path = "system.txt"
file_user_prompt_path = "file.tmpl"
directory_user_prompt_path = "dir.tmpl"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".toml"), []byte(toml), 0o644))
}
