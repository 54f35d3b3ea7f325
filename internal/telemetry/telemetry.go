// Package telemetry is the typed event bus the generation pipeline and
// watch runtime emit through. Sessions are rotated JSONL files under
// sessions/, written via zerolog + lumberjack. See spec.md §4.13 and
// SPEC_FULL.md §4.13, grounded on the teacher's internal/audit append-
// only JSONL convention and internal/rpc's mutation-event channel.
package telemetry

import (
	"time"

	"github.com/untoldecay/treectx/internal/identity"
)

// Type discriminates the event kinds spec.md §4.13 enumerates.
type Type string

const (
	SessionStarted Type = "session_started"
	SessionEnded   Type = "session_ended"

	ScanStarted   Type = "scan_started"
	ScanProgress  Type = "scan_progress"
	ScanCompleted Type = "scan_completed"

	PlanConstructed Type = "plan_constructed"
	LevelStarted    Type = "level_started"
	LevelCompleted  Type = "level_completed"
	PlanCompleted   Type = "plan_completed"
	PlanFailed      Type = "plan_failed"

	NodeGenerationStarted   Type = "node_generation_started"
	NodeGenerationCompleted Type = "node_generation_completed"
	NodeGenerationFailed    Type = "node_generation_failed"

	RequestEnqueued     Type = "request_enqueued"
	RequestDeduplicated Type = "request_deduplicated"
	RequestProcessing   Type = "request_processing"
	RequestSucceeded    Type = "request_succeeded"
	RequestFailed       Type = "request_failed"
	QueueStats          Type = "queue_stats"

	WatchStarted     Type = "watch_started"
	FileChanged      Type = "file_changed"
	BatchProcessed   Type = "batch_processed"
	WatchTreeUpdated Type = "watch_tree_updated"
)

// Event is a single emission. Fields not relevant to Type are left
// zero; consumers key off Type.
type Event struct {
	Type      Type
	SessionID string

	NodeID    identity.NodeID
	Path      string
	AgentID   string
	FrameType string
	PlanID    string
	FrameID   identity.FrameID

	Err        error
	DurationMS int64
	At         time.Time
}

// Bus is the opaque handle the core emits events through. Emission must
// be cheap when no sink is attached; implementations must never block
// command completion on a sink failure (spec.md §4.13, §7).
type Bus interface {
	Emit(ev Event)
}

// NopBus discards every event. It is the zero-cost default when no
// session is active.
type NopBus struct{}

func (NopBus) Emit(Event) {}
