// Package tree builds a deterministic Merkle snapshot of a workspace's
// filesystem tree, honoring an ignore policy. See SPEC_FULL.md §4.2.
package tree

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/ignore"
)

// Node is one entry of a built Tree: a file or directory, already
// resolved to its deterministic NodeID.
type Node struct {
	ID       identity.NodeID
	Path     string // canonical, workspace-relative
	Kind     identity.NodeKind
	Size     int64             // files only
	ContentHash identity.ID    // files only
	Children []identity.NodeID // directories only, sorted by canonical path
}

// Tree is the full set of nodes produced by a single Build call, plus the
// root's NodeID.
type Tree struct {
	Root  identity.NodeID
	Nodes map[identity.NodeID]*Node
	// Failures records WalkErrors for subtrees that could not be read;
	// those subtrees are omitted from Nodes rather than hashed with a
	// placeholder.
	Failures []*errs.WalkError
}

// Build walks workspaceRoot depth-first, honoring ignores, and returns a
// deterministic Tree. Two calls against the same filesystem snapshot and
// ignore set produce byte-equal Root and Node identities.
func Build(ctx context.Context, workspaceRoot string, ignores ignore.Set) (*Tree, error) {
	t := &Tree{Nodes: make(map[identity.NodeID]*Node)}

	root, err := buildDir(ctx, workspaceRoot, ".", ignores, t)
	if err != nil {
		return nil, err
	}
	t.Root = root.ID
	return t, nil
}

func buildDir(ctx context.Context, workspaceRoot, relPath string, ignores ignore.Set, t *Tree) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	absPath := path.Join(workspaceRoot, relPath)
	entries, err := os.ReadDir(absPath)
	if err != nil {
		we := &errs.WalkError{Path: relPath, Cause: err}
		t.Failures = append(t.Failures, we)
		return nil, we
	}

	type childEntry struct {
		path string
		id   identity.NodeID
	}
	var children []childEntry

	for _, entry := range entries {
		childRel := path.Join(relPath, entry.Name())
		if childRel == "." {
			childRel = entry.Name()
		}
		canonicalChild, err := identity.CanonicalizePath(workspaceRoot, path.Join(workspaceRoot, childRel))
		if err != nil {
			return nil, err
		}

		info, err := entry.Info()
		if err != nil {
			t.Failures = append(t.Failures, &errs.WalkError{Path: childRel, Cause: err})
			continue
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			// Symlinks are not followed; this defends against loops by
			// construction rather than tracking a visited-inode set.
			continue
		}

		if ignores.Match(canonicalChild, entry.IsDir()) {
			continue
		}

		if entry.IsDir() {
			childNode, err := buildDir(ctx, workspaceRoot, childRel, ignores, t)
			if err != nil {
				var we *errs.WalkError
				if asWalkError(err, &we) {
					// Subtree failure already recorded; skip this child
					// but keep building sibling entries.
					continue
				}
				return nil, err
			}
			children = append(children, childEntry{path: canonicalChild, id: childNode.ID})
			continue
		}

		fileNode, err := buildFile(workspaceRoot, childRel, canonicalChild, info, t)
		if err != nil {
			continue
		}
		children = append(children, childEntry{path: canonicalChild, id: fileNode.ID})
	}

	sort.Slice(children, func(i, j int) bool {
		if children[i].path != children[j].path {
			return children[i].path < children[j].path
		}
		return children[i].id.String() < children[j].id.String()
	})

	childIDs := make([]identity.NodeID, len(children))
	for i, c := range children {
		childIDs[i] = c.id
	}

	canonicalSelf, err := identity.CanonicalizePath(workspaceRoot, absPath)
	if err != nil {
		return nil, err
	}

	id := identity.NodeIDForDir(canonicalSelf, childIDs)
	node := &Node{ID: id, Path: canonicalSelf, Kind: identity.NodeDir, Children: childIDs}
	t.Nodes[id] = node
	return node, nil
}

func buildFile(workspaceRoot, relPath, canonicalPath string, info fs.FileInfo, t *Tree) (*Node, error) {
	f, err := os.Open(path.Join(workspaceRoot, relPath))
	if err != nil {
		we := &errs.WalkError{Path: relPath, Cause: err}
		t.Failures = append(t.Failures, we)
		return nil, we
	}
	defer f.Close()

	h := identity.NewContentHasher()
	size, err := io.Copy(h, f)
	if err != nil {
		we := &errs.WalkError{Path: relPath, Cause: err}
		t.Failures = append(t.Failures, we)
		return nil, we
	}

	var contentHash identity.ID
	copy(contentHash[:], h.Sum(nil))

	id := identity.NodeIDForFile(canonicalPath, size, contentHash)
	node := &Node{ID: id, Path: canonicalPath, Kind: identity.NodeFile, Size: size, ContentHash: contentHash}
	t.Nodes[id] = node
	return node, nil
}

func asWalkError(err error, target **errs.WalkError) bool {
	we, ok := err.(*errs.WalkError)
	if ok {
		*target = we
	}
	return ok
}
