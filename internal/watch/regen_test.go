package watch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/provider"
	"github.com/untoldecay/treectx/internal/queue"
	"github.com/untoldecay/treectx/internal/storage/basisindex"
	"github.com/untoldecay/treectx/internal/storage/framestore"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

type stubAgents struct{}

func (stubAgents) SystemPrompt(string) (string, error)        { return "system", nil }
func (stubAgents) FileUserPrompt(string) (string, error)      { return "review {{.Path}}", nil }
func (stubAgents) DirectoryUserPrompt(string) (string, error) { return "review dir {{.Path}}", nil }
func (stubAgents) ResponseTemplate(string) (string, bool)     { return "", false }

type stubFiles struct{}

func (stubFiles) ReadFile(string) ([]byte, error) { return []byte("hello"), nil }

type stubProvider struct{}

func (stubProvider) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (string, error) {
	return "a summary", nil
}

type regenFixture struct {
	nodes *nodestore.Store
	heads *headindex.Index
	basis *basisindex.Index
	q     *queue.Queue
}

func setupRegenFixture(t *testing.T) *regenFixture {
	t.Helper()
	dir := t.TempDir()

	nodes := openNodeStore(t)
	frames, err := framestore.Open(filepath.Join(dir, "frames"))
	require.NoError(t, err)
	heads, err := headindex.Open(filepath.Join(dir, "heads.idx"))
	require.NoError(t, err)
	basis, err := basisindex.Open(filepath.Join(dir, "basis.idx"))
	require.NoError(t, err)
	validator := frame.New(nodes, frames)

	q := queue.New(queue.Config{}, queue.Deps{
		Validator: validator, Frames: frames, Heads: heads, Basis: basis,
		Nodes: nodes, Files: stubFiles{}, Agents: stubAgents{},
		Providers: map[string]provider.Provider{"stub": stubProvider{}},
	}, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	return &regenFixture{nodes: nodes, heads: heads, basis: basis, q: q}
}

func putNode(t *testing.T, nodes *nodestore.Store, id identity.NodeID, path string) {
	t.Helper()
	require.NoError(t, nodes.PutBatch(context.Background(), []nodestore.NodeRecord{
		{ID: id, Path: path, Kind: identity.NodeFile},
	}))
}

func TestRegeneratorEnqueuesForNeverGeneratedNode(t *testing.T) {
	fx := setupRegenFixture(t)

	var id identity.NodeID
	id[0] = 0x42
	putNode(t, fx.nodes, id, "a.go")

	reg := NewRegenerator(fx.heads, fx.basis, fx.nodes, fx.q, []Binding{
		{AgentID: "a", ProviderName: "stub", FrameType: "summary"},
	}, 3)

	require.NoError(t, reg.Run(context.Background(), []identity.NodeID{id}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fx.q.WaitForDrain(ctx))

	_, ok := fx.heads.Get(headindex.Key{Node: id, FrameType: "summary"})
	require.True(t, ok)
}

func TestRegeneratorSkipsNodeWithCurrentHead(t *testing.T) {
	fx := setupRegenFixture(t)

	var id identity.NodeID
	id[0] = 0x07
	putNode(t, fx.nodes, id, "b.go")

	binding := Binding{AgentID: "a", ProviderName: "stub", FrameType: "summary"}

	reg := NewRegenerator(fx.heads, fx.basis, fx.nodes, fx.q, []Binding{binding}, 3)
	require.NoError(t, reg.Run(context.Background(), []identity.NodeID{id}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fx.q.WaitForDrain(ctx))

	frameID, ok := fx.heads.Get(headindex.Key{Node: id, FrameType: "summary"})
	require.True(t, ok)

	// Running again must not enqueue a second generation: the head's
	// recorded basis already matches the node's current identity.
	require.NoError(t, reg.Run(context.Background(), []identity.NodeID{id}))
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, fx.q.WaitForDrain(ctx2))

	frameID2, ok := fx.heads.Get(headindex.Key{Node: id, FrameType: "summary"})
	require.True(t, ok)
	require.Equal(t, frameID, frameID2)
}

func TestRegeneratorRespectsMaxDepth(t *testing.T) {
	fx := setupRegenFixture(t)

	var id1, id2 identity.NodeID
	id1[0], id2[0] = 0x01, 0x02
	putNode(t, fx.nodes, id1, "a.go")
	putNode(t, fx.nodes, id2, "b.go")

	reg := NewRegenerator(fx.heads, fx.basis, fx.nodes, fx.q, []Binding{
		{AgentID: "a", ProviderName: "stub", FrameType: "summary"},
	}, 1)

	require.NoError(t, reg.Run(context.Background(), []identity.NodeID{id1, id2}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fx.q.WaitForDrain(ctx))

	_, ok1 := fx.heads.Get(headindex.Key{Node: id1, FrameType: "summary"})
	require.True(t, ok1)
	_, ok2 := fx.heads.Get(headindex.Key{Node: id2, FrameType: "summary"})
	require.False(t, ok2)
}
