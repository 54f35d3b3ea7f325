// Package plan resolves a target path or node into a depth-grouped
// GenerationPlan, filtering out nodes that already have a head frame
// unless force is set. See SPEC_FULL.md §4.8, grounded on
// other_examples' BuildIncrementalPlan topological-leveling shape.
package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

// FailurePolicy governs how the executor reacts to an item failure
// within a level.
type FailurePolicy string

const (
	StopOnLevelFailure FailurePolicy = "StopOnLevelFailure"
	Continue           FailurePolicy = "Continue"
	FailImmediately    FailurePolicy = "FailImmediately"
)

// Priority orders items within the queue's scheduling decisions.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Item is one unit of generation work.
type Item struct {
	NodeID       identity.NodeID
	Path         string
	NodeKind     identity.NodeKind
	AgentID      string
	ProviderName string
	FrameType    string
}

// Plan is an in-memory generation plan: levels execute in order, items
// within a level run concurrently.
type Plan struct {
	PlanID        string
	SessionID     string
	Source        string
	Levels        [][]Item
	Priority      Priority
	FailurePolicy FailurePolicy
}

// Options configures Build.
type Options struct {
	AgentID      string
	ProviderName string
	FrameType    string
	Recursive    bool // ignored for file targets; false plans only the target directory itself
	Force        bool
	PlanID       string
	SessionID    string
	Source       string
	Priority     Priority
	FailurePolicy FailurePolicy
}

// NodeSource is the minimal node-store contract Build needs.
type NodeSource interface {
	Get(ctx context.Context, id identity.NodeID) (nodestore.NodeRecord, error)
	GetByPath(ctx context.Context, canonicalPath string) (nodestore.NodeRecord, error)
}

// HeadSource is the minimal head-index contract Build needs.
type HeadSource interface {
	Get(key headindex.Key) (identity.FrameID, bool)
}

// Target names either a node directly or a workspace-relative path;
// exactly one must be set.
type Target struct {
	NodeID identity.NodeID
	Path   string
}

// MissingHeadsError is returned in single-node (non-recursive) mode when
// descendant heads are required but absent.
type MissingHeadsError struct {
	Missing []identity.NodeID
}

func (e *MissingHeadsError) Error() string {
	return fmt.Sprintf("%d descendant node(s) missing a head frame", len(e.Missing))
}

// Build resolves target and produces a depth-grouped plan.
func Build(ctx context.Context, nodes NodeSource, heads HeadSource, target Target, opts Options) (*Plan, error) {
	root, err := resolveTarget(ctx, nodes, target)
	if err != nil {
		return nil, err
	}

	recursive := opts.Recursive || root.Kind == identity.NodeFile
	var subtree []nodestore.NodeRecord
	if recursive {
		subtree, err = collectSubtree(ctx, nodes, root)
		if err != nil {
			return nil, err
		}
	} else {
		subtree, err = checkDescendantHeads(ctx, nodes, heads, root, opts.FrameType)
		if err != nil {
			return nil, err
		}
	}

	byDepth, err := groupByDepth(ctx, nodes, subtree)
	if err != nil {
		return nil, err
	}

	levels := make([][]Item, 0, len(byDepth))
	for depth := 0; depth < len(byDepth); depth++ {
		recs := byDepth[depth]
		if len(recs) == 0 {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })

		var level []Item
		for _, rec := range recs {
			if !opts.Force {
				if _, ok := heads.Get(headindex.Key{Node: rec.ID, FrameType: opts.FrameType}); ok {
					continue
				}
			}
			level = append(level, Item{
				NodeID: rec.ID, Path: rec.Path, NodeKind: rec.Kind,
				AgentID: opts.AgentID, ProviderName: opts.ProviderName, FrameType: opts.FrameType,
			})
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
	}

	failurePolicy := opts.FailurePolicy
	if failurePolicy == "" {
		failurePolicy = StopOnLevelFailure
	}

	return &Plan{
		PlanID: opts.PlanID, SessionID: opts.SessionID, Source: opts.Source,
		Levels: levels, Priority: opts.Priority, FailurePolicy: failurePolicy,
	}, nil
}

func resolveTarget(ctx context.Context, nodes NodeSource, target Target) (nodestore.NodeRecord, error) {
	if !target.NodeID.IsZero() {
		rec, err := nodes.Get(ctx, target.NodeID)
		if err != nil {
			return nodestore.NodeRecord{}, &errs.PathNotInTreeError{Path: target.NodeID.String()}
		}
		return rec, nil
	}
	rec, err := nodes.GetByPath(ctx, target.Path)
	if err != nil {
		return nodestore.NodeRecord{}, &errs.PathNotInTreeError{Path: target.Path}
	}
	return rec, nil
}

// collectSubtree walks NodeRecord.Children depth-first, rejecting
// cycles via a visited set (spec.md §4.8).
func collectSubtree(ctx context.Context, nodes NodeSource, root nodestore.NodeRecord) ([]nodestore.NodeRecord, error) {
	visited := make(map[identity.NodeID]bool)
	var out []nodestore.NodeRecord

	var walk func(rec nodestore.NodeRecord) error
	walk = func(rec nodestore.NodeRecord) error {
		if visited[rec.ID] {
			return nil
		}
		visited[rec.ID] = true
		out = append(out, rec)

		for _, childID := range rec.Children {
			child, err := nodes.Get(ctx, childID)
			if err != nil {
				continue // child gone (tombstoned/deleted); skip
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

// checkDescendantHeads implements the single-node-mode verification path:
// for a directory target, every descendant must already have a head for
// frameType, or the plan is rejected with MissingHeadsError. The plan
// that results contains only the target itself.
func checkDescendantHeads(ctx context.Context, nodes NodeSource, heads HeadSource, root nodestore.NodeRecord, frameType string) ([]nodestore.NodeRecord, error) {
	if root.Kind != identity.NodeDir {
		return []nodestore.NodeRecord{root}, nil
	}

	subtree, err := collectSubtree(ctx, nodes, root)
	if err != nil {
		return nil, err
	}

	var missing []identity.NodeID
	for _, rec := range subtree {
		if rec.ID == root.ID {
			continue
		}
		if _, ok := heads.Get(headindex.Key{Node: rec.ID, FrameType: frameType}); !ok {
			missing = append(missing, rec.ID)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingHeadsError{Missing: missing}
	}
	return []nodestore.NodeRecord{root}, nil
}

// groupByDepth buckets records by their distance from the deepest leaf
// in the subtree so level 0 is the deepest (children generate before
// their parents).
func groupByDepth(ctx context.Context, nodes NodeSource, recs []nodestore.NodeRecord) (map[int][]nodestore.NodeRecord, error) {
	byID := make(map[identity.NodeID]nodestore.NodeRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}

	memo := make(map[identity.NodeID]int)
	var depthOf func(id identity.NodeID) int
	depthOf = func(id identity.NodeID) int {
		if d, ok := memo[id]; ok {
			return d
		}
		rec, ok := byID[id]
		if !ok || len(rec.Children) == 0 {
			memo[id] = 0
			return 0
		}
		max := 0
		for _, c := range rec.Children {
			if _, inSet := byID[c]; !inSet {
				continue
			}
			if d := depthOf(c) + 1; d > max {
				max = d
			}
		}
		memo[id] = max
		return max
	}

	out := make(map[int][]nodestore.NodeRecord)
	for _, r := range recs {
		d := depthOf(r.ID)
		out[d] = append(out[d], r)
	}
	return out, nil
}
