package frame

import (
	"context"
	"fmt"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
)

// NodeChecker is the minimal node-store contract the validator needs.
// It is satisfied by internal/storage/nodestore.Store.
type NodeChecker interface {
	Exists(ctx context.Context, id identity.NodeID) (exists bool, tombstoned bool, err error)
}

// FrameChecker is the minimal frame-store contract the validator needs.
// It is satisfied by internal/storage/framestore.Store.
type FrameChecker interface {
	Exists(ctx context.Context, id identity.FrameID) (bool, error)
}

// WriteRequest is the inbound write, before it is known to be valid.
type WriteRequest struct {
	Frame    *Frame
	Agent    string // the identity making the request; must equal Frame.AgentID
}

// Validator is the single choke point every frame write — direct or via
// the queue — must pass through (spec.md §4.7).
type Validator struct {
	Nodes  NodeChecker
	Frames FrameChecker
}

// New constructs a Validator.
func New(nodes NodeChecker, frames FrameChecker) *Validator {
	return &Validator{Nodes: nodes, Frames: frames}
}

// Validate runs the five checks in spec.md §4.7 order and returns the
// first failure.
func (v *Validator) Validate(ctx context.Context, req WriteRequest) error {
	f := req.Frame
	if f == nil {
		return fmt.Errorf("%w: nil frame", errs.ErrInvalidBasis)
	}

	if err := v.checkBasis(ctx, f.Basis); err != nil {
		return err
	}

	if req.Agent != f.AgentID {
		return fmt.Errorf("%w: request agent %q != frame agent %q", errs.ErrAgentMismatch, req.Agent, f.AgentID)
	}

	if err := v.checkMetadata(f.Metadata); err != nil {
		return err
	}

	computed := f.ComputeID()
	if computed != f.FrameID {
		return fmt.Errorf("%w: computed %s != submitted %s", errs.ErrFrameIDMismatch, computed, f.FrameID)
	}

	return nil
}

func (v *Validator) checkBasis(ctx context.Context, basis identity.Basis) error {
	switch basis.Kind {
	case identity.BasisNodeOnly:
		exists, tombstoned, err := v.Nodes.Exists(ctx, basis.Node)
		if err != nil {
			return err
		}
		if !exists || tombstoned {
			return fmt.Errorf("%w: node_only basis node %s missing or tombstoned", errs.ErrInvalidBasis, basis.Node)
		}
	case identity.BasisPreviousFrame:
		ok, err := v.Frames.Exists(ctx, basis.PrevFrame)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: previous_frame basis %s not found", errs.ErrInvalidBasis, basis.PrevFrame)
		}
	case identity.BasisNodeAndPrev:
		exists, tombstoned, err := v.Nodes.Exists(ctx, basis.Node)
		if err != nil {
			return err
		}
		if !exists || tombstoned {
			return fmt.Errorf("%w: node_and_prev basis node %s missing or tombstoned", errs.ErrInvalidBasis, basis.Node)
		}
		ok, err := v.Frames.Exists(ctx, basis.PrevFrame)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: node_and_prev basis frame %s not found", errs.ErrInvalidBasis, basis.PrevFrame)
		}
	default:
		return fmt.Errorf("%w: unknown basis kind %d", errs.ErrInvalidBasis, basis.Kind)
	}
	return nil
}

func (v *Validator) checkMetadata(metadata map[string]string) error {
	total := 0
	for k, val := range metadata {
		if !MetadataAllowList[k] {
			return fmt.Errorf("%w: %q", errs.ErrForbiddenMetadataKey, k)
		}
		if len(k)+len(val) > MaxMetadataKeyBytes {
			return fmt.Errorf("%w: key %q exceeds per-key budget of %d bytes", errs.ErrMetadataBudgetExceeded, k, MaxMetadataKeyBytes)
		}
		total += len(k) + len(val)
	}
	if total > MaxMetadataTotalBytes {
		return fmt.Errorf("%w: total %d bytes exceeds budget of %d", errs.ErrMetadataBudgetExceeded, total, MaxMetadataTotalBytes)
	}
	return nil
}
