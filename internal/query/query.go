// Package query implements the bounded, filtered, ordered read path
// over a node's frames. See spec.md §4.14 and SPEC_FULL.md §4.14.
// Grounded on the teacher's internal/storage read-side query shaping
// (filter/order/truncate composed in that fixed order) generalized from
// issue-list queries to a single node's frame set.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

// Ordering selects how the candidate frame set is sorted before
// truncation.
type Ordering int

const (
	Recency Ordering = iota
	Deterministic
)

// View parameterizes a single get_node read.
type View struct {
	MaxFrames      int // 0 means unbounded
	Ordering       Ordering
	ByAgent        string // empty disables the filter
	ByType         string // empty disables the filter
	ExcludeDeleted bool   // default true; set explicitly by callers
}

// FrameResult is one frame surfaced by a query, content included.
type FrameResult struct {
	FrameID   identity.FrameID
	AgentID   string
	FrameType string
	Content   []byte
	CreatedAt int64 // unix nanos, for deterministic comparisons in tests
}

// NodeContext is the result of get_node.
type NodeContext struct {
	NodeID identity.NodeID
	Path   string
	Frames []FrameResult
}

// NodeSource is the minimal node-store contract Get needs.
type NodeSource interface {
	Get(ctx context.Context, id identity.NodeID) (nodestore.NodeRecord, error)
}

// HeadSource is the minimal head-index contract Get needs.
type HeadSource interface {
	ForNode(node identity.NodeID) map[string]identity.FrameID
}

// FrameSource is the minimal frame-store contract Get needs.
type FrameSource interface {
	Get(ctx context.Context, id identity.FrameID) (*frame.Frame, error)
}

// Get resolves nodeID against view, per spec.md §4.14's six-step
// algorithm: lookup, candidate assembly (heads only — historical frame
// lookups are out of scope for this read path), filter, order,
// truncate, then load content.
func Get(ctx context.Context, nodes NodeSource, heads HeadSource, frames FrameSource, nodeID identity.NodeID, view View) (*NodeContext, error) {
	rec, err := nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("get_node %s: %w", nodeID, err)
	}

	headsByType := heads.ForNode(nodeID)
	var candidates []*frame.Frame
	for frameType, frameID := range headsByType {
		if view.ByType != "" && frameType != view.ByType {
			continue
		}
		f, err := frames.Get(ctx, frameID)
		if err != nil {
			if errors.Is(err, errs.ErrFrameNotFound) {
				continue // head points at a missing blob; validate() reports this
			}
			return nil, err
		}
		if view.ByAgent != "" && f.AgentID != view.ByAgent {
			continue
		}
		if view.ExcludeDeleted && f.IsTombstoned() {
			continue
		}
		candidates = append(candidates, f)
	}

	switch view.Ordering {
	case Deterministic:
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.FrameType != b.FrameType {
				return a.FrameType < b.FrameType
			}
			if a.AgentID != b.AgentID {
				return a.AgentID < b.AgentID
			}
			return a.FrameID.String() < b.FrameID.String()
		})
	default: // Recency
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.FrameID.String() < b.FrameID.String()
		})
	}

	if view.MaxFrames > 0 && len(candidates) > view.MaxFrames {
		candidates = candidates[:view.MaxFrames]
	}

	out := &NodeContext{NodeID: rec.ID, Path: rec.Path}
	for _, f := range candidates {
		out.Frames = append(out.Frames, FrameResult{
			FrameID: f.FrameID, AgentID: f.AgentID, FrameType: f.FrameType,
			Content: f.Content, CreatedAt: f.CreatedAt.UnixNano(),
		})
	}
	return out, nil
}
