// Package treectx provides a minimal public API for extending tx with
// custom orchestration.
//
// Most extensions should use a Workspace directly against a workspace's
// data directory. This package exports only the essential types and
// functions needed for Go-based extensions that want to use tx's
// storage layer programmatically.
package treectx

import (
	"context"

	"github.com/untoldecay/treectx/internal/ctxstore"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/query"
)

// Workspace is the handle for one workspace's tree, frame history, and
// generation pipeline.
type Workspace = ctxstore.Workspace

// Deps bundles the collaborators a Workspace needs beyond its own
// storage layer.
type Deps = ctxstore.Deps

// Open constructs a Workspace rooted at workspaceRoot, persisting state
// under dataDir.
func Open(ctx context.Context, workspaceRoot, dataDir string, deps Deps) (*Workspace, error) {
	return ctxstore.Open(ctx, workspaceRoot, dataDir, deps)
}

// Core identity types.
type (
	NodeID  = identity.NodeID
	FrameID = identity.FrameID
	NodeKind = identity.NodeKind
	Basis   = identity.Basis
	BasisKind = identity.BasisKind
)

// Basis kind constants.
const (
	BasisNodeOnly      = identity.BasisNodeOnly
	BasisPreviousFrame = identity.BasisPreviousFrame
	BasisNodeAndPrev   = identity.BasisNodeAndPrev
)

// Frame and read-path types.
type (
	Frame       = frame.Frame
	View        = query.View
	NodeContext = query.NodeContext
	FrameResult = query.FrameResult
	Ordering    = query.Ordering
)

// Ordering constants.
const (
	Recency       = query.Recency
	Deterministic = query.Deterministic
)

// Generation pipeline types.
type (
	Target        = plan.Target
	PlanOptions   = plan.Options
	Plan          = plan.Plan
	FailurePolicy = plan.FailurePolicy
	Priority      = plan.Priority
)

// FailurePolicy constants.
const (
	StopOnLevelFailure = plan.StopOnLevelFailure
	Continue           = plan.Continue
	FailImmediately    = plan.FailImmediately
)

// Priority constants.
const (
	PriorityNormal = plan.PriorityNormal
	PriorityHigh   = plan.PriorityHigh
)
