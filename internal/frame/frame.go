// Package frame defines the immutable Frame record and the single
// validation choke point every frame write must pass through. See
// SPEC_FULL.md §4.7 and spec.md §3.
package frame

import (
	"time"

	"github.com/untoldecay/treectx/internal/identity"
)

// MetadataAllowList are the only metadata keys a frame may carry. Raw
// prompt payloads or anything resembling them are deliberately excluded
// (spec.md §4.7 rationale).
var MetadataAllowList = map[string]bool{
	"tombstone":   true, // "true" marks a frame logically superseded for query filtering
	"source":      true, // free-text provenance note, e.g. "watch-regen"
	"session_id":  true,
	"duration_ms": true,
}

const (
	// MaxMetadataKeyBytes bounds a single metadata entry: key length
	// plus value length.
	MaxMetadataKeyBytes = 256
	// MaxMetadataTotalBytes bounds the whole metadata map.
	MaxMetadataTotalBytes = 4096
)

// Frame is an immutable artifact attached to a node. FrameID is computed
// solely from Basis, NodeID, AgentID, FrameType, and Content — Metadata
// never participates (spec.md §3, §9).
type Frame struct {
	FrameID   identity.FrameID
	Basis     identity.Basis
	NodeID    identity.NodeID
	AgentID   string
	FrameType string
	Content   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// ComputeID returns the structural FrameID for f's current fields,
// independent of f.Metadata and f.CreatedAt.
func (f *Frame) ComputeID() identity.FrameID {
	return identity.FrameIDOf(f.Basis, f.NodeID, f.AgentID, f.FrameType, f.Content)
}

// IsTombstoned reports whether f's metadata marks it as logically
// deleted, used by the ExcludeDeleted query filter (spec.md §4.14).
func (f *Frame) IsTombstoned() bool {
	return f.Metadata["tombstone"] == "true"
}
