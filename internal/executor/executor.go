// Package executor drives a plan.Plan level-by-level against a queue,
// applying the plan's failure policy and aggregating a GenerationResult.
// See spec.md §4.10 and SPEC_FULL.md §4.10, grounded on the teacher's
// internal/compact/compactor.go (CompactTier1Batch's worker-pool/
// sync.WaitGroup barrier, generalized to one barrier per level).
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/plan"
	"github.com/untoldecay/treectx/internal/queue"
	"github.com/untoldecay/treectx/internal/telemetry"
)

// LevelSummary reports one level's outcome.
type LevelSummary struct {
	Index      int
	Attempted  int
	Succeeded  int
	Failed     int
	DurationMS int64
}

// GenerationResult aggregates the outcome of executing a whole plan.
type GenerationResult struct {
	PlanID          string
	Successes       map[identity.NodeID]identity.FrameID
	Failures        map[identity.NodeID]error
	PerLevelSummary []LevelSummary
	TotalAttempted  int
	TotalSucceeded  int
	TotalFailed     int
	Stopped         bool // true if failure policy halted before all levels ran
}

// Submitter is the minimal queue contract Execute needs.
type Submitter interface {
	SetActivePlan(planID string)
	ClearActivePlan()
	Enqueue(req queue.Request) (<-chan queue.Outcome, error)
}

// Execute runs p level-by-level against q, honoring p.FailurePolicy. It
// holds no state about trees or providers; every decision is made from
// p and the per-item outcomes the queue returns.
func Execute(ctx context.Context, q Submitter, p *plan.Plan, bus telemetry.Bus) *GenerationResult {
	if bus == nil {
		bus = telemetry.NopBus{}
	}

	result := &GenerationResult{
		PlanID:    p.PlanID,
		Successes: make(map[identity.NodeID]identity.FrameID),
		Failures:  make(map[identity.NodeID]error),
	}

	bus.Emit(telemetry.Event{Type: telemetry.PlanConstructed, PlanID: p.PlanID, At: timeNow()})

	q.SetActivePlan(p.PlanID)
	defer q.ClearActivePlan()

	for i, level := range p.Levels {
		summary := runLevel(ctx, q, p, i, level, result, bus)
		result.PerLevelSummary = append(result.PerLevelSummary, summary)
		result.TotalAttempted += summary.Attempted
		result.TotalSucceeded += summary.Succeeded
		result.TotalFailed += summary.Failed

		if summary.Failed == 0 {
			continue
		}
		switch p.FailurePolicy {
		case plan.StopOnLevelFailure:
			result.Stopped = true
			bus.Emit(telemetry.Event{Type: telemetry.PlanFailed, PlanID: p.PlanID, At: timeNow()})
			return result
		case plan.FailImmediately:
			// runLevel already abandoned outstanding items in this level;
			// stop before starting the next one.
			result.Stopped = true
			bus.Emit(telemetry.Event{Type: telemetry.PlanFailed, PlanID: p.PlanID, At: timeNow()})
			return result
		case plan.Continue:
			// fall through to the next level regardless.
		}
	}

	if result.TotalFailed > 0 {
		bus.Emit(telemetry.Event{Type: telemetry.PlanFailed, PlanID: p.PlanID, At: timeNow()})
	} else {
		bus.Emit(telemetry.Event{Type: telemetry.PlanCompleted, PlanID: p.PlanID, At: timeNow()})
	}
	return result
}

// runLevel submits every item in a level concurrently and waits for all
// of them to reach a terminal state, unless the plan's failure policy is
// FailImmediately, in which case the first failure cancels the wait for
// the rest of the level.
func runLevel(ctx context.Context, q Submitter, p *plan.Plan, index int, level []plan.Item, result *GenerationResult, bus telemetry.Bus) LevelSummary {
	start := timeNow()
	bus.Emit(telemetry.Event{Type: telemetry.LevelStarted, PlanID: p.PlanID, At: start})

	summary := LevelSummary{Index: index, Attempted: len(level)}

	type itemOutcome struct {
		item plan.Item
		out  queue.Outcome
	}
	results := make(chan itemOutcome, len(level))

	var wg sync.WaitGroup
	for _, item := range level {
		req := queue.Request{
			NodeID: item.NodeID, Path: item.Path, NodeKind: item.NodeKind,
			AgentID: item.AgentID, ProviderName: item.ProviderName, FrameType: item.FrameType,
			Priority: queue.Priority(p.Priority), PlanID: p.PlanID,
		}

		bus.Emit(telemetry.Event{Type: telemetry.NodeGenerationStarted, PlanID: p.PlanID, NodeID: item.NodeID, Path: item.Path, AgentID: item.AgentID, FrameType: item.FrameType})

		ch, err := q.Enqueue(req)
		if err != nil {
			results <- itemOutcome{item: item, out: queue.Outcome{Err: err}}
			continue
		}

		wg.Add(1)
		go func(item plan.Item, ch <-chan queue.Outcome) {
			defer wg.Done()
			select {
			case out := <-ch:
				results <- itemOutcome{item: item, out: out}
			case <-ctx.Done():
				results <- itemOutcome{item: item, out: queue.Outcome{Err: ctx.Err()}}
			}
		}(item, ch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	received := 0
	for r := range results {
		received++
		if r.out.Err != nil {
			summary.Failed++
			result.Failures[r.item.NodeID] = r.out.Err
			bus.Emit(telemetry.Event{Type: telemetry.NodeGenerationFailed, PlanID: p.PlanID, NodeID: r.item.NodeID, Path: r.item.Path, AgentID: r.item.AgentID, FrameType: r.item.FrameType, Err: r.out.Err})
			if p.FailurePolicy == plan.FailImmediately {
				// Abandon the rest of the level: results is buffered to
				// len(level), so the still-running goroutines above never
				// block sending their outcome even though nobody reads it.
				break
			}
			continue
		}
		summary.Succeeded++
		result.Successes[r.item.NodeID] = r.out.FrameID
		bus.Emit(telemetry.Event{Type: telemetry.NodeGenerationCompleted, PlanID: p.PlanID, NodeID: r.item.NodeID, Path: r.item.Path, AgentID: r.item.AgentID, FrameType: r.item.FrameType, FrameID: r.out.FrameID})
		if received == len(level) {
			break
		}
	}

	summary.DurationMS = timeNow().Sub(start).Milliseconds()
	bus.Emit(telemetry.Event{Type: telemetry.LevelCompleted, PlanID: p.PlanID, At: timeNow()})
	return summary
}

// timeNow is a seam for tests; production always uses the wall clock.
var timeNow = time.Now
