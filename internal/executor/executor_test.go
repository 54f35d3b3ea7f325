package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/queue"
)

// fakeSubmitter resolves every Enqueue immediately according to a
// per-node outcome table, so level barriers can be exercised without a
// real provider or storage layer.
type fakeSubmitter struct {
	outcomes   map[identity.NodeID]queue.Outcome
	activePlan string
}

func (f *fakeSubmitter) SetActivePlan(planID string) { f.activePlan = planID }
func (f *fakeSubmitter) ClearActivePlan()            { f.activePlan = "" }

func (f *fakeSubmitter) Enqueue(req queue.Request) (<-chan queue.Outcome, error) {
	ch := make(chan queue.Outcome, 1)
	out, ok := f.outcomes[req.NodeID]
	if !ok {
		out = queue.Outcome{FrameID: identity.FrameID{0x01}}
	}
	ch <- out
	return ch, nil
}

func node(b byte) identity.NodeID {
	var id identity.NodeID
	id[0] = b
	return id
}

func TestExecuteAllSucceedContinuesAllLevels(t *testing.T) {
	sub := &fakeSubmitter{outcomes: map[identity.NodeID]queue.Outcome{}}
	p := &plan.Plan{
		PlanID: "p1",
		Levels: [][]plan.Item{
			{{NodeID: node(1), Path: "a/b.go"}},
			{{NodeID: node(2), Path: "a"}},
		},
		FailurePolicy: plan.StopOnLevelFailure,
	}

	result := Execute(context.Background(), sub, p, nil)

	require.False(t, result.Stopped)
	require.Equal(t, 2, result.TotalSucceeded)
	require.Equal(t, 0, result.TotalFailed)
	require.Len(t, result.PerLevelSummary, 2)
}

func TestExecuteStopOnLevelFailureHaltsBeforeNextLevel(t *testing.T) {
	failing := node(1)
	sub := &fakeSubmitter{outcomes: map[identity.NodeID]queue.Outcome{
		failing: {Err: errors.New("provider down")},
	}}
	p := &plan.Plan{
		PlanID: "p1",
		Levels: [][]plan.Item{
			{{NodeID: failing, Path: "a/b.go"}},
			{{NodeID: node(2), Path: "a"}},
		},
		FailurePolicy: plan.StopOnLevelFailure,
	}

	result := Execute(context.Background(), sub, p, nil)

	require.True(t, result.Stopped)
	require.Len(t, result.PerLevelSummary, 1)
	require.Equal(t, 1, result.TotalFailed)
	require.Contains(t, result.Failures, failing)
}

func TestExecuteContinueRunsAllLevelsDespiteFailure(t *testing.T) {
	failing := node(1)
	sub := &fakeSubmitter{outcomes: map[identity.NodeID]queue.Outcome{
		failing: {Err: errors.New("provider down")},
	}}
	p := &plan.Plan{
		PlanID: "p1",
		Levels: [][]plan.Item{
			{{NodeID: failing, Path: "a/b.go"}},
			{{NodeID: node(2), Path: "a"}},
		},
		FailurePolicy: plan.Continue,
	}

	result := Execute(context.Background(), sub, p, nil)

	require.False(t, result.Stopped)
	require.Len(t, result.PerLevelSummary, 2)
	require.Equal(t, 1, result.TotalFailed)
	require.Equal(t, 1, result.TotalSucceeded)
}

func TestExecuteSetsAndClearsActivePlan(t *testing.T) {
	sub := &fakeSubmitter{outcomes: map[identity.NodeID]queue.Outcome{}}
	p := &plan.Plan{
		PlanID:        "p1",
		Levels:        [][]plan.Item{{{NodeID: node(1), Path: "a/b.go"}}},
		FailurePolicy: plan.StopOnLevelFailure,
	}

	Execute(context.Background(), sub, p, nil)

	require.Equal(t, "", sub.activePlan)
}
