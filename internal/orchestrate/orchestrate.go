// Package orchestrate wires a config.Config, an agentprofile.Registry,
// a providerprofile.Registry, and a ctxstore.Workspace into the
// operations cmd/tx's command tree calls directly: status, validate,
// init, and the delete/restore/compact workspace-lifecycle group. See
// SPEC_FULL.md §4.15 and §6, grounded on the teacher's own
// cmd/bd/daemon_event_loop.go read-only health-check pattern and
// internal/beads workspace-facade shape.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/untoldecay/treectx/internal/agentprofile"
	"github.com/untoldecay/treectx/internal/config"
	"github.com/untoldecay/treectx/internal/ctxstore"
	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/providerprofile"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
	"github.com/untoldecay/treectx/internal/telemetry"
	"github.com/untoldecay/treectx/internal/tree"
)

// App bundles one workspace's resolved collaborators. Command handlers
// in cmd/tx hold exactly one App per invocation.
type App struct {
	Config    *config.Config
	Agents    *agentprofile.Registry
	Providers *providerprofile.Registry
	Workspace *ctxstore.Workspace
}

// Open resolves configuration, opens the agent/provider registries, and
// opens the ctxstore.Workspace for workspaceRoot, ready for any App
// method.
func Open(ctx context.Context, workspaceRoot string, bus telemetry.Bus) (*App, error) {
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	agents := agentprofile.Open(cfg.AgentsDir)
	providers := providerprofile.Open(cfg.ProvidersDir)

	liveProviders, _ := providers.All()
	ws, err := ctxstore.Open(ctx, cfg.WorkspaceRoot, cfg.DataHome, ctxstore.Deps{
		Agents:    agents,
		Providers: liveProviders,
		Bus:       bus,
		Workers:   cfg.ExecutorWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	return &App{Config: cfg, Agents: agents, Providers: providers, Workspace: ws}, nil
}

// Close releases the underlying workspace.
func (a *App) Close(ctx context.Context) error {
	return a.Workspace.Close(ctx)
}

// --- status -----------------------------------------------------------

// TreeSummary is the `tree` field of a workspace status report.
type TreeSummary struct {
	RootHash   string            `json:"root_hash"`
	TotalNodes int               `json:"total_nodes"`
	Breakdown  []PathNodeCount   `json:"breakdown,omitempty"`
}

// AgentCoverage is one entry of `context_coverage`.
type AgentCoverage struct {
	AgentID         string  `json:"agent_id"`
	NodesWithFrame  int     `json:"nodes_with_frame"`
	NodesWithoutFrame int   `json:"nodes_without_frame"`
	CoveragePct     float64 `json:"coverage_pct"`
}

// PathNodeCount is one entry of `top_paths_by_node_count`.
type PathNodeCount struct {
	Path  string `json:"path"`
	Nodes int    `json:"nodes"`
}

// StatusReport is the JSON shape spec.md §6 assigns `tx status`
// (workspace portion) and `tx workspace status`.
type StatusReport struct {
	Scanned              bool            `json:"scanned"`
	Tree                 *TreeSummary    `json:"tree,omitempty"`
	ContextCoverage      []AgentCoverage `json:"context_coverage"`
	TopPathsByNodeCount  []PathNodeCount `json:"top_paths_by_node_count"`
}

// Status summarizes the persisted node store (it does not rebuild the
// tree) and reports coverage against every configured agent.
func (a *App) Status(ctx context.Context, breakdown bool) (*StatusReport, error) {
	report := &StatusReport{}

	var nodeCount int
	pathCounts := map[string]int{}
	var anyNode bool
	err := a.Workspace.Nodes.IterActive(ctx, func(rec nodestore.NodeRecord) error {
		anyNode = true
		nodeCount++
		dir := filepath.Dir(rec.Path)
		if dir == "." {
			dir = "/"
		}
		pathCounts[dir]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Scanned = anyNode

	if anyNode {
		root, err := a.Workspace.Nodes.GetByPath(ctx, ".")
		rootHash := ""
		if err == nil {
			rootHash = root.ID.String()
		}
		summary := &TreeSummary{RootHash: rootHash, TotalNodes: nodeCount}
		if breakdown {
			summary.Breakdown = topPaths(pathCounts, 0)
		}
		report.Tree = summary
	}

	agents, _ := a.Agents.List()
	for _, ag := range agents {
		withFrame, withoutFrame := 0, 0
		_ = a.Workspace.Nodes.IterActive(ctx, func(rec nodestore.NodeRecord) error {
			heads := a.Workspace.Heads.ForNode(rec.ID)
			found := false
			for _, frameID := range heads {
				f, err := a.Workspace.Frames.Get(ctx, frameID)
				if err == nil && f.AgentID == ag.ID {
					found = true
					break
				}
			}
			if found {
				withFrame++
			} else {
				withoutFrame++
			}
			return nil
		})
		total := withFrame + withoutFrame
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(withFrame) / float64(total)
		}
		report.ContextCoverage = append(report.ContextCoverage, AgentCoverage{
			AgentID: ag.ID, NodesWithFrame: withFrame, NodesWithoutFrame: withoutFrame, CoveragePct: pct,
		})
	}

	report.TopPathsByNodeCount = topPaths(pathCounts, 10)
	return report, nil
}

func topPaths(counts map[string]int, limit int) []PathNodeCount {
	out := make([]PathNodeCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, PathNodeCount{Path: p, Nodes: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nodes != out[j].Nodes {
			return out[i].Nodes > out[j].Nodes
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- validate -----------------------------------------------------------

// Report is the read-only result of Validate.
type Report struct {
	Errors   []string
	Warnings []string
}

// Validate recomputes the workspace root via the tree builder and cross
// checks every head/basis reference against storage, never mutating
// anything (spec.md §4.15).
func (a *App) Validate(ctx context.Context) (*Report, error) {
	report := &Report{}

	ignores, err := ignore.Resolve(a.Config.WorkspaceRoot, a.Workspace.IgnoreListPath())
	if err != nil {
		return nil, fmt.Errorf("resolve ignore policy: %w", err)
	}
	t, err := tree.Build(ctx, a.Config.WorkspaceRoot, ignores)
	if err != nil {
		return nil, fmt.Errorf("rebuild tree: %w", err)
	}

	if len(t.Nodes) > 0 {
		if _, err := a.Workspace.Nodes.GetByPath(ctx, "."); err != nil {
			report.Warnings = append(report.Warnings, "root record missing from node store; run scan")
		}
	}

	for _, head := range a.Workspace.Heads.Snapshot() {
		if _, err := a.Workspace.Frames.Get(ctx, head); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("head frame %s unreadable: %v", head, err))
		}
	}

	for frameID, basis := range a.Workspace.Basis.Snapshot() {
		switch basis.Kind {
		case identity.BasisNodeOnly, identity.BasisNodeAndPrev:
			if _, err := a.Workspace.Nodes.Get(ctx, basis.Node); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("frame %s basis references missing node %s", frameID, basis.Node))
			}
		}
		switch basis.Kind {
		case identity.BasisPreviousFrame, identity.BasisNodeAndPrev:
			if _, err := a.Workspace.Frames.Get(ctx, basis.PrevFrame); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("frame %s basis references missing prior frame %s", frameID, basis.PrevFrame))
			}
		}
	}

	return report, nil
}

// --- init -----------------------------------------------------------

// Init creates the workspace's data directory and the agents and
// providers directories, and writes a default provider profile stub; no
// agent profile is written. It is idempotent unless force is set, in
// which case an existing provider stub is overwritten.
func Init(workspaceRoot string, force bool) error {
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.DataHome, cfg.AgentsDir, cfg.ProvidersDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &errs.StorageIOError{Op: "mkdir", Path: dir, Cause: err}
		}
	}

	defaultProvider := filepath.Join(cfg.ProvidersDir, "anthropic-default.toml")
	if force || !exists(defaultProvider) {
		stub := "name = \"anthropic-default\"\nkind = \"anthropic\"\nmodel = \"claude-3-5-haiku-20241022\"\napi_key_env = \"ANTHROPIC_API_KEY\"\n"
		if err := os.WriteFile(defaultProvider, []byte(stub), 0o644); err != nil {
			return &errs.StorageIOError{Op: "write", Path: defaultProvider, Cause: err}
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// --- delete / restore / compact -----------------------------------------------------------

// DeleteOptions configures DeleteNode (spec.md §4.15).
type DeleteOptions struct {
	Cascade      bool
	DeleteFrames bool
	DryRun       bool
	NoIgnore     bool
	Permanent    bool
}

// DeleteResult reports what DeleteNode did (or, under DryRun, would do).
type DeleteResult struct {
	NodesAffected  int
	FramesDeleted  int
	HeadsRemoved   int
	BasisRemoved   int
}

// DeleteNode resolves target (a workspace-relative path or a NodeID
// string), walks its subtree bottom-up, and removes head/basis entries
// and (optionally) frame blobs and node records. Each head and basis
// removal is committed to its index file as it is made (spec.md §4.15
// steps 1-4).
func (a *App) DeleteNode(ctx context.Context, target string, opts DeleteOptions) (*DeleteResult, error) {
	root, err := a.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	var subtree []nodestore.NodeRecord
	if opts.Cascade {
		subtree, err = a.collectSubtree(ctx, root)
		if err != nil {
			return nil, err
		}
	} else {
		subtree = []nodestore.NodeRecord{root}
	}

	result := &DeleteResult{}
	for i := len(subtree) - 1; i >= 0; i-- {
		rec := subtree[i]
		result.NodesAffected++

		heads := a.Workspace.Heads.ForNode(rec.ID)
		for frameType, frameID := range heads {
			result.HeadsRemoved++
			if _, ok := a.Workspace.Basis.Get(frameID); ok {
				result.BasisRemoved++
			}
			if opts.DryRun {
				continue
			}
			if err := a.Workspace.Heads.Delete(headindex.Key{Node: rec.ID, FrameType: frameType}); err != nil {
				return nil, err
			}
			if err := a.Workspace.Basis.Delete(frameID); err != nil {
				return nil, err
			}
			if opts.DeleteFrames {
				if err := a.Workspace.Frames.Delete(ctx, frameID); err != nil {
					return nil, err
				}
				result.FramesDeleted++
			}
		}

		if opts.DryRun {
			continue
		}
		if opts.Permanent {
			if err := a.Workspace.Nodes.DeletePermanent(ctx, rec.ID); err != nil {
				return nil, err
			}
		} else {
			if err := a.Workspace.Nodes.Tombstone(ctx, rec.ID); err != nil {
				return nil, err
			}
		}
	}

	if !opts.DryRun && !opts.NoIgnore {
		if err := ignore.Add(a.Workspace.IgnoreListPath(), root.Path); err != nil {
			return nil, fmt.Errorf("append ignore entry: %w", err)
		}
	}

	return result, nil
}

// RestoreNode clears the tombstone on target (path or NodeID string).
func (a *App) RestoreNode(ctx context.Context, target string) error {
	rec, err := a.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	return a.Workspace.Nodes.Restore(ctx, rec.ID)
}

// ListDeleted returns every tombstoned node record, for `tx workspace
// list-deleted`.
func (a *App) ListDeleted(ctx context.Context) ([]nodestore.NodeRecord, error) {
	var out []nodestore.NodeRecord
	err := a.Workspace.Nodes.IterTombstoned(ctx, func(rec nodestore.NodeRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CompactResult reports `tx workspace compact`'s effect.
type CompactResult struct {
	DanglingPathsRemoved int
}

// Compact sweeps dangling path keys left behind by a crash between the
// node store's two-key writes (spec.md §4.3).
func (a *App) Compact(ctx context.Context) (*CompactResult, error) {
	n, err := a.Workspace.Nodes.CompactDanglingPaths(ctx)
	if err != nil {
		return nil, err
	}
	return &CompactResult{DanglingPathsRemoved: n}, nil
}

// resolveTarget accepts either a canonical workspace-relative path or a
// hex-encoded NodeID string.
func (a *App) resolveTarget(ctx context.Context, target string) (nodestore.NodeRecord, error) {
	if id, err := identity.ParseNodeID(target); err == nil {
		return a.Workspace.Nodes.Get(ctx, id)
	}
	canonical, err := identity.CanonicalizePath(a.Config.WorkspaceRoot, target)
	if err != nil {
		return nodestore.NodeRecord{}, err
	}
	return a.Workspace.Nodes.GetByPath(ctx, canonical)
}

// collectSubtree walks root's children DAG and returns every descendant
// in top-down order (root first), deduplicated via a visited set to
// defend against the DAG's shared-child structure (SPEC_FULL.md §9
// cycle defense).
func (a *App) collectSubtree(ctx context.Context, root nodestore.NodeRecord) ([]nodestore.NodeRecord, error) {
	visited := map[identity.NodeID]bool{}
	var out []nodestore.NodeRecord

	var walk func(rec nodestore.NodeRecord) error
	walk = func(rec nodestore.NodeRecord) error {
		if visited[rec.ID] {
			return nil
		}
		visited[rec.ID] = true
		out = append(out, rec)
		for _, childID := range rec.Children {
			child, err := a.Workspace.Nodes.Get(ctx, childID)
			if err != nil {
				if errors.Is(err, errs.ErrNodeNotFound) {
					continue
				}
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}
