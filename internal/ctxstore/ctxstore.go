// Package ctxstore is the single entry point that wires the storage
// layer, the generation pipeline, and the read path into one cohesive
// workspace handle. See SPEC_FULL.md §4.15 and §9 ("the queue, node
// store, and indices are process-wide singletons per workspace"),
// grounded on the teacher's internal/beads package, which plays the
// same role for BeadsLog's SQLite storage.
package ctxstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/executor"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/provider"
	"github.com/untoldecay/treectx/internal/query"
	"github.com/untoldecay/treectx/internal/queue"
	"github.com/untoldecay/treectx/internal/storage/basisindex"
	"github.com/untoldecay/treectx/internal/storage/framestore"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
	"github.com/untoldecay/treectx/internal/telemetry"
	"github.com/untoldecay/treectx/internal/tree"
)

// On-disk layout under a workspace's data directory (spec.md §6).
const (
	nodeStoreDir   = "node_store"
	framesDir      = "frames"
	headIndexFile  = "head_index.bin"
	basisIndexFile = "basis_index.bin"
	ignoreListFile = "ignore_list"
)

// Deps bundles the collaborators a Workspace needs beyond its own
// storage layer.
type Deps struct {
	Agents    queue.AgentPrompts
	Providers map[string]provider.Provider
	Bus       telemetry.Bus
	Workers   int
}

// Workspace is the process-wide handle for one workspace's tree, frame
// history, and generation pipeline.
type Workspace struct {
	root    string
	dataDir string

	Nodes     *nodestore.Store
	Frames    *framestore.Store
	Heads     *headindex.Index
	Basis     *basisindex.Index
	Validator *frame.Validator
	Queue     *queue.Queue
	Bus       telemetry.Bus

	ignoreListPath string
	ignores        ignore.Set
}

// Open constructs a Workspace rooted at workspaceRoot, persisting state
// under dataDir (a per-workspace directory derived from an XDG-like
// data home; resolving that path is internal/config's job, not this
// package's).
func Open(ctx context.Context, workspaceRoot, dataDir string, deps Deps) (*Workspace, error) {
	nodes, err := nodestore.Open(filepath.Join(dataDir, nodeStoreDir, "nodes.db"))
	if err != nil {
		return nil, fmt.Errorf("open node store: %w", err)
	}
	frames, err := framestore.Open(filepath.Join(dataDir, framesDir))
	if err != nil {
		return nil, fmt.Errorf("open frame store: %w", err)
	}
	heads, err := headindex.Open(filepath.Join(dataDir, headIndexFile))
	if err != nil {
		return nil, fmt.Errorf("open head index: %w", err)
	}
	basis, err := basisindex.Open(filepath.Join(dataDir, basisIndexFile))
	if err != nil {
		return nil, fmt.Errorf("open basis index: %w", err)
	}

	ignoreListPath := filepath.Join(dataDir, ignoreListFile)
	ignores, err := ignore.Resolve(workspaceRoot, ignoreListPath)
	if err != nil {
		return nil, fmt.Errorf("resolve ignore policy: %w", err)
	}

	validator := frame.New(nodes, frames)

	bus := deps.Bus
	if bus == nil {
		bus = telemetry.NopBus{}
	}

	q := queue.New(queue.Config{}, queue.Deps{
		Validator: validator,
		Frames:    frames,
		Heads:     heads,
		Basis:     basis,
		Nodes:     nodes,
		Files:     queue.WorkspaceFileReader{Root: workspaceRoot},
		Agents:    deps.Agents,
		Providers: deps.Providers,
		Bus:       bus,
	}, deps.Workers)

	return &Workspace{
		root: workspaceRoot, dataDir: dataDir,
		Nodes: nodes, Frames: frames, Heads: heads, Basis: basis,
		Validator: validator, Queue: q, Bus: bus,
		ignoreListPath: ignoreListPath, ignores: ignores,
	}, nil
}

// IgnoreListPath returns the absolute path to this workspace's ignore
// list file, for callers (orchestrate's delete cascade) that append to
// it directly.
func (w *Workspace) IgnoreListPath() string {
	return w.ignoreListPath
}

// Close shuts down the queue and releases storage handles.
func (w *Workspace) Close(ctx context.Context) error {
	if err := w.Queue.Stop(ctx); err != nil {
		return err
	}
	return w.Nodes.Close()
}

// Scan rebuilds the full Merkle tree and persists it to the node store:
// every surviving node is written, every node present before the scan
// but absent now is tombstoned.
func (w *Workspace) Scan(ctx context.Context) (*tree.Tree, error) {
	w.Bus.Emit(telemetry.Event{Type: telemetry.ScanStarted})

	t, err := tree.Build(ctx, w.root, w.ignores)
	if err != nil {
		return nil, err
	}

	var before []nodestore.NodeRecord
	_ = w.Nodes.IterActive(ctx, func(rec nodestore.NodeRecord) error {
		before = append(before, rec)
		return nil
	})

	after := make(map[string]bool, len(t.Nodes))
	records := make([]nodestore.NodeRecord, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		after[n.Path] = true
		records = append(records, nodestore.NodeRecord{
			ID: n.ID, Path: n.Path, Kind: n.Kind,
			Size: n.Size, ContentHash: n.ContentHash, Children: n.Children,
		})
	}

	if err := w.Nodes.PutBatch(ctx, records); err != nil {
		return nil, err
	}
	for _, rec := range before {
		if !after[rec.Path] {
			if err := w.Nodes.Tombstone(ctx, rec.ID); err != nil {
				return nil, err
			}
		}
	}

	w.Bus.Emit(telemetry.Event{Type: telemetry.ScanCompleted})
	return t, nil
}

// GetNode is the bounded/filtered/ordered read path (spec.md §4.14).
func (w *Workspace) GetNode(ctx context.Context, nodeID identity.NodeID, view query.View) (*query.NodeContext, error) {
	return query.Get(ctx, w.Nodes, w.Heads, w.Frames, nodeID, view)
}

// GetNodeByPath resolves path to a node before running GetNode.
func (w *Workspace) GetNodeByPath(ctx context.Context, canonicalPath string, view query.View) (*query.NodeContext, error) {
	rec, err := w.Nodes.GetByPath(ctx, canonicalPath)
	if err != nil {
		return nil, &errs.PathNotInTreeError{Path: canonicalPath}
	}
	return w.GetNode(ctx, rec.ID, view)
}

// Generate builds a plan for target and executes it against the queue.
func (w *Workspace) Generate(ctx context.Context, target plan.Target, opts plan.Options) (*executor.GenerationResult, error) {
	p, err := plan.Build(ctx, w.Nodes, w.Heads, target, opts)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, w.Queue, p, w.Bus), nil
}

// PutFrame is the direct (non-queue) write path: every write, queued or
// direct, passes through the same validator choke point (spec.md §8,
// "Validator choke point").
func (w *Workspace) PutFrame(ctx context.Context, f *frame.Frame, agent string) error {
	if err := w.Validator.Validate(ctx, frame.WriteRequest{Frame: f, Agent: agent}); err != nil {
		return err
	}
	if err := w.Frames.Put(ctx, f); err != nil {
		return err
	}
	if err := w.Basis.Set(f.FrameID, f.Basis); err != nil {
		return err
	}
	return w.Heads.Set(headindex.Key{Node: f.NodeID, FrameType: f.FrameType}, f.FrameID)
}
