package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Session is a Bus backed by a single rotated JSONL file at
// sessions/<session_id>.jsonl. Sink failures are swallowed: zerolog
// writes best-effort and never returns an error to the caller, matching
// spec.md's "sink failures never block command completion".
type Session struct {
	id     string
	logger zerolog.Logger
	writer *lumberjack.Logger
}

// NewSessionID returns a random hex session identifier.
func NewSessionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewSession opens (creating if absent) a rotated session log under
// sessionsDir and returns a Bus writing to it.
func NewSession(sessionsDir, sessionID string) *Session {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(sessionsDir, sessionID+".jsonl"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger := zerolog.New(w).With().Timestamp().Str("session_id", sessionID).Logger()
	return &Session{id: sessionID, logger: logger, writer: w}
}

// Emit writes ev as one JSONL record. It never returns an error and
// never panics on a write failure; zerolog's writer swallows those.
func (s *Session) Emit(ev Event) {
	evt := s.logger.Info().Str("type", string(ev.Type))

	if !ev.NodeID.IsZero() {
		evt = evt.Str("node_id", ev.NodeID.String())
	}
	if ev.Path != "" {
		evt = evt.Str("path", ev.Path)
	}
	if ev.AgentID != "" {
		evt = evt.Str("agent_id", ev.AgentID)
	}
	if ev.FrameType != "" {
		evt = evt.Str("frame_type", ev.FrameType)
	}
	if ev.PlanID != "" {
		evt = evt.Str("plan_id", ev.PlanID)
	}
	if !ev.FrameID.IsZero() {
		evt = evt.Str("frame_id", ev.FrameID.String())
	}
	if ev.DurationMS > 0 {
		evt = evt.Int64("duration_ms", ev.DurationMS)
	}
	if ev.Err != nil {
		evt = evt.Str("error", ev.Err.Error())
	}

	evt.Msg(string(ev.Type))
}

// Close flushes and closes the underlying rotated file.
func (s *Session) Close() error {
	return s.writer.Close()
}
