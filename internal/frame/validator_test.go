package frame_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
)

type fakeNodes struct {
	exists     bool
	tombstoned bool
}

func (f fakeNodes) Exists(ctx context.Context, id identity.NodeID) (bool, bool, error) {
	return f.exists, f.tombstoned, nil
}

type fakeFrames struct{ exists bool }

func (f fakeFrames) Exists(ctx context.Context, id identity.FrameID) (bool, error) {
	return f.exists, nil
}

func mkFrame(node identity.NodeID) *frame.Frame {
	basis := identity.Basis{Kind: identity.BasisNodeOnly, Node: node}
	f := &frame.Frame{
		Basis:     basis,
		NodeID:    node,
		AgentID:   "writer",
		FrameType: "context-w",
		Content:   []byte("OK"),
	}
	f.FrameID = f.ComputeID()
	return f
}

func TestValidatePasses(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true}, fakeFrames{exists: true})

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: mkFrame(node), Agent: "writer"})
	require.NoError(t, err)
}

func TestValidateRejectsAgentMismatch(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true}, fakeFrames{exists: true})

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: mkFrame(node), Agent: "someone-else"})
	require.ErrorIs(t, err, errs.ErrAgentMismatch)
}

func TestValidateRejectsMissingNode(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: false}, fakeFrames{exists: true})

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: mkFrame(node), Agent: "writer"})
	require.ErrorIs(t, err, errs.ErrInvalidBasis)
}

func TestValidateRejectsTombstonedNode(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true, tombstoned: true}, fakeFrames{exists: true})

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: mkFrame(node), Agent: "writer"})
	require.ErrorIs(t, err, errs.ErrInvalidBasis)
}

func TestValidateRejectsForbiddenMetadataKey(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true}, fakeFrames{exists: true})

	f := mkFrame(node)
	f.Metadata = map[string]string{"raw_prompt": "do the thing"}

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: f, Agent: "writer"})
	require.ErrorIs(t, err, errs.ErrForbiddenMetadataKey)
}

func TestValidateRejectsMetadataBudget(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true}, fakeFrames{exists: true})

	f := mkFrame(node)
	big := make([]byte, frame.MaxMetadataKeyBytes+1)
	f.Metadata = map[string]string{"source": string(big)}

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: f, Agent: "writer"})
	require.ErrorIs(t, err, errs.ErrMetadataBudgetExceeded)
}

func TestValidateRejectsFrameIDMismatch(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	v := frame.New(fakeNodes{exists: true}, fakeFrames{exists: true})

	f := mkFrame(node)
	f.Content = []byte("tampered")

	err := v.Validate(context.Background(), frame.WriteRequest{Frame: f, Agent: "writer"})
	require.ErrorIs(t, err, errs.ErrFrameIDMismatch)
}

// Structural identity independence: metadata never participates in the id.
func TestFrameIDInvariantUnderMetadata(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	f := mkFrame(node)
	id1 := f.ComputeID()
	f.Metadata = map[string]string{"source": "watch-regen"}
	id2 := f.ComputeID()
	require.Equal(t, id1, id2)
}
