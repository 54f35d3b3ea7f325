// Package framestore persists frame content as content-addressed
// blobs, one file per frame, fsynced on write. See SPEC_FULL.md §4.4.
package framestore

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/lockutil"
)

// onDisk is the gob-serialized form written to each frame's blob file.
type onDisk struct {
	FrameID   identity.FrameID
	Basis     identity.Basis
	NodeID    identity.NodeID
	AgentID   string
	FrameType string
	Content   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// Store is a content-addressed, file-per-frame blob store rooted at
// Dir. Writes to the same FrameID are serialized via an in-process
// keyed mutex; writes to different FrameIDs proceed concurrently.
type Store struct {
	dir    string
	writes *lockutil.KeyedMutex
}

// Open ensures dir exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &errs.StorageIOError{Op: "mkdir", Path: dir, Cause: err}
	}
	return &Store{dir: dir, writes: lockutil.NewKeyedMutex()}, nil
}

func (s *Store) path(id identity.FrameID) string {
	hex := id.String()
	// two-level fan-out, same idea as git's object store, keeps any
	// single directory from holding an unbounded number of entries.
	return filepath.Join(s.dir, hex[:2], hex[2:])
}

// Exists satisfies frame.FrameChecker.
func (s *Store) Exists(ctx context.Context, id identity.FrameID) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &errs.StorageIOError{Op: "stat", Path: s.path(id), Cause: err}
}

// Put writes f's blob if it does not already exist. Frame blobs are
// immutable and content-addressed, so an existing blob for the same
// FrameID is byte-identical and Put is a safe no-op in that case.
func (s *Store) Put(ctx context.Context, f *frame.Frame) error {
	unlock := s.writes.Lock(f.FrameID.String())
	defer unlock()

	exists, err := s.Exists(ctx, f.FrameID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	target := s.path(f.FrameID)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return &errs.StorageIOError{Op: "mkdir", Path: filepath.Dir(target), Cause: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "frame-*.tmp")
	if err != nil {
		return &errs.StorageIOError{Op: "create-temp", Path: target, Cause: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	rec := onDisk{
		FrameID: f.FrameID, Basis: f.Basis, NodeID: f.NodeID,
		AgentID: f.AgentID, FrameType: f.FrameType, Content: f.Content,
		Metadata: f.Metadata, CreatedAt: f.CreatedAt,
	}
	if err := gob.NewEncoder(tmp).Encode(rec); err != nil {
		tmp.Close()
		return &errs.StorageIOError{Op: "encode", Path: target, Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.StorageIOError{Op: "fsync", Path: target, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.StorageIOError{Op: "close", Path: target, Cause: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return &errs.StorageIOError{Op: "rename", Path: target, Cause: err}
	}
	return nil
}

// Get reads and decodes the frame with the given id.
func (s *Store) Get(ctx context.Context, id identity.FrameID) (*frame.Frame, error) {
	raw, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrFrameNotFound
		}
		return nil, &errs.StorageIOError{Op: "open", Path: s.path(id), Cause: err}
	}
	defer raw.Close()

	var rec onDisk
	if err := gob.NewDecoder(raw).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: frame %s: %w", errs.ErrCorruptFrame, id, err)
	}

	f := &frame.Frame{
		FrameID: rec.FrameID, Basis: rec.Basis, NodeID: rec.NodeID,
		AgentID: rec.AgentID, FrameType: rec.FrameType, Content: rec.Content,
		Metadata: rec.Metadata, CreatedAt: rec.CreatedAt,
	}
	if f.ComputeID() != f.FrameID {
		return nil, fmt.Errorf("%w: frame %s content hash mismatch on read", errs.ErrCorruptFrame, id)
	}
	return f, nil
}

// Delete removes a frame blob. Used only for tombstone/compaction paths;
// ordinary deletes go through the node store's Tombstone, which leaves
// frames in place.
func (s *Store) Delete(ctx context.Context, id identity.FrameID) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return &errs.StorageIOError{Op: "remove", Path: s.path(id), Cause: err}
	}
	return nil
}
