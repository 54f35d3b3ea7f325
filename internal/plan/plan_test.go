package plan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

type fakeNodes struct {
	byID   map[identity.NodeID]nodestore.NodeRecord
	byPath map[string]identity.NodeID
}

func (f fakeNodes) Get(ctx context.Context, id identity.NodeID) (nodestore.NodeRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return nodestore.NodeRecord{}, assertErr
	}
	return rec, nil
}

func (f fakeNodes) GetByPath(ctx context.Context, p string) (nodestore.NodeRecord, error) {
	id, ok := f.byPath[p]
	if !ok {
		return nodestore.NodeRecord{}, assertErr
	}
	return f.Get(ctx, id)
}

var assertErr = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

type fakeHeads struct {
	set map[headindex.Key]identity.FrameID
}

func (f fakeHeads) Get(key headindex.Key) (identity.FrameID, bool) {
	id, ok := f.set[key]
	return id, ok
}

func buildFixture() fakeNodes {
	file1 := identity.NodeIDForFile("dir/a.txt", 1, identity.ContentHash([]byte("a")))
	file2 := identity.NodeIDForFile("dir/b.txt", 1, identity.ContentHash([]byte("b")))
	dir := identity.NodeIDForDir("dir", []identity.NodeID{file1, file2})

	nodes := fakeNodes{
		byID: map[identity.NodeID]nodestore.NodeRecord{
			file1: {ID: file1, Path: "dir/a.txt", Kind: identity.NodeFile},
			file2: {ID: file2, Path: "dir/b.txt", Kind: identity.NodeFile},
			dir:   {ID: dir, Path: "dir", Kind: identity.NodeDir, Children: []identity.NodeID{file1, file2}},
		},
		byPath: map[string]identity.NodeID{
			"dir/a.txt": file1,
			"dir/b.txt": file2,
			"dir":       dir,
		},
	}
	return nodes
}

func TestBuildGroupsFilesBeforeParentDir(t *testing.T) {
	nodes := buildFixture()
	heads := fakeHeads{set: map[headindex.Key]identity.FrameID{}}

	p, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "dir"}, plan.Options{
		AgentID: "writer", FrameType: "context-w", Recursive: true,
	})
	require.NoError(t, err)
	require.Len(t, p.Levels, 2)
	require.Len(t, p.Levels[0], 2) // both files at depth 0
	require.Len(t, p.Levels[1], 1) // dir at depth 1
}

func TestBuildExcludesNodesWithExistingHead(t *testing.T) {
	nodes := buildFixture()
	file1 := identity.NodeIDForFile("dir/a.txt", 1, identity.ContentHash([]byte("a")))
	heads := fakeHeads{set: map[headindex.Key]identity.FrameID{
		{Node: file1, FrameType: "context-w"}: {0x1},
	}}

	p, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "dir"}, plan.Options{
		AgentID: "writer", FrameType: "context-w", Recursive: true,
	})
	require.NoError(t, err)

	var allPaths []string
	for _, level := range p.Levels {
		for _, item := range level {
			allPaths = append(allPaths, item.Path)
		}
	}
	require.NotContains(t, allPaths, "dir/a.txt")
	require.Contains(t, allPaths, "dir/b.txt")
}

func TestBuildForceIncludesExistingHeads(t *testing.T) {
	nodes := buildFixture()
	file1 := identity.NodeIDForFile("dir/a.txt", 1, identity.ContentHash([]byte("a")))
	heads := fakeHeads{set: map[headindex.Key]identity.FrameID{
		{Node: file1, FrameType: "context-w"}: {0x1},
	}}

	p, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "dir"}, plan.Options{
		AgentID: "writer", FrameType: "context-w", Recursive: true, Force: true,
	})
	require.NoError(t, err)

	var allPaths []string
	for _, level := range p.Levels {
		for _, item := range level {
			allPaths = append(allPaths, item.Path)
		}
	}
	require.Contains(t, allPaths, "dir/a.txt")
}

func TestBuildMissingTargetIsPathNotInTree(t *testing.T) {
	nodes := buildFixture()
	heads := fakeHeads{set: map[headindex.Key]identity.FrameID{}}

	_, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "missing"}, plan.Options{})
	var notInTree *errs.PathNotInTreeError
	require.ErrorAs(t, err, &notInTree)
}

func TestDigestDeterministic(t *testing.T) {
	nodes := buildFixture()
	heads := fakeHeads{set: map[headindex.Key]identity.FrameID{}}

	p1, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "dir"}, plan.Options{AgentID: "w", FrameType: "context-w", Recursive: true})
	require.NoError(t, err)
	p2, err := plan.Build(context.Background(), nodes, heads, plan.Target{Path: "dir"}, plan.Options{AgentID: "w", FrameType: "context-w", Recursive: true})
	require.NoError(t, err)

	require.Equal(t, p1.Digest(), p2.Digest())
}
