// Package headindex persists the latest frame per (node_id, frame_type)
// as a single full-rewrite file, matching the teacher's
// internal/daemon/registry.go atomic-registry convention. See
// SPEC_FULL.md §4.5.
package headindex

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
)

// formatVersion is written as a header so a future incompatible encoding
// change can be detected instead of silently misparsed.
const formatVersion uint32 = 1

// Key identifies one head slot.
type Key struct {
	Node      identity.NodeID
	FrameType string
}

// Index is the in-memory, file-backed head map. One Index should be
// shared per workspace process; cross-process coordination goes through
// the file lock at lockPath.
type Index struct {
	path     string
	lockPath string

	mu      sync.RWMutex // in-process: many readers, one writer
	entries map[Key]identity.FrameID
}

// Open loads path (tolerating a missing file — an empty index) and
// returns an Index ready for use.
func Open(path string) (*Index, error) {
	idx := &Index{
		path:     path,
		lockPath: path + ".lock",
		entries:  make(map[Key]identity.FrameID),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load() error {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &errs.StorageIOError{Op: "read", Path: idx.path, Cause: err}
	}
	if len(data) < 4 {
		return fmt.Errorf("%w: head index %s: truncated header", errs.ErrStorageCorruption, idx.path)
	}
	version := binary.BigEndian.Uint32(data[:4])
	if version != formatVersion {
		return fmt.Errorf("%w: head index %s: format version %d, want %d", errs.ErrStorageCorruption, idx.path, version, formatVersion)
	}

	entries := make(map[Key]identity.FrameID)
	if err := gob.NewDecoder(bytes.NewReader(data[4:])).Decode(&entries); err != nil {
		return fmt.Errorf("%w: head index %s: %w", errs.ErrStorageCorruption, idx.path, err)
	}
	idx.entries = entries
	return nil
}

// withFileLock serializes the read-modify-write across processes,
// matching the teacher's withFileLock shape exactly.
func (idx *Index) withFileLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(idx.lockPath), 0o750); err != nil {
		return &errs.StorageIOError{Op: "mkdir", Path: filepath.Dir(idx.lockPath), Cause: err}
	}
	fl := flock.New(idx.lockPath)
	if err := fl.Lock(); err != nil {
		return &errs.StorageIOError{Op: "flock", Path: idx.lockPath, Cause: err}
	}
	defer fl.Unlock()
	return fn()
}

func (idx *Index) commitLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(idx.entries); err != nil {
		return &errs.StorageIOError{Op: "encode", Path: idx.path, Cause: err}
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &errs.StorageIOError{Op: "mkdir", Path: dir, Cause: err}
	}
	tmp, err := os.CreateTemp(dir, "head-index-*.tmp")
	if err != nil {
		return &errs.StorageIOError{Op: "create-temp", Path: idx.path, Cause: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], formatVersion)
	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		return &errs.StorageIOError{Op: "write", Path: idx.path, Cause: err}
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return &errs.StorageIOError{Op: "write", Path: idx.path, Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.StorageIOError{Op: "fsync", Path: idx.path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.StorageIOError{Op: "close", Path: idx.path, Cause: err}
	}
	if err := os.Rename(tmpPath, idx.path); err != nil {
		return &errs.StorageIOError{Op: "rename", Path: idx.path, Cause: err}
	}
	return nil
}

// Get returns the current head for key, if any.
func (idx *Index) Get(key Key) (identity.FrameID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.entries[key]
	return id, ok
}

// ForNode returns every current head keyed by frame_type for node,
// without cloning the whole index (internal/query's read path is keyed
// off a single node, not the whole workspace).
func (idx *Index) ForNode(node identity.NodeID) map[string]identity.FrameID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]identity.FrameID)
	for k, v := range idx.entries {
		if k.Node == node {
			out[k.FrameType] = v
		}
	}
	return out
}

// Set records frameID as the head for key and commits to disk under the
// cross-process file lock.
func (idx *Index) Set(key Key, frameID identity.FrameID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.withFileLock(func() error {
		// Re-read under lock so a concurrent external process's commit
		// isn't clobbered by our in-memory view.
		if err := idx.load(); err != nil {
			return err
		}
		idx.entries[key] = frameID
		return idx.commitLocked()
	})
}

// Delete removes the head entry for key, if present. Used by node
// deletion's cascade (spec.md §4.13 step 3).
func (idx *Index) Delete(key Key) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.withFileLock(func() error {
		if err := idx.load(); err != nil {
			return err
		}
		delete(idx.entries, key)
		return idx.commitLocked()
	})
}

// DeleteNode removes every head entry for node, across all frame types.
func (idx *Index) DeleteNode(node identity.NodeID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.withFileLock(func() error {
		if err := idx.load(); err != nil {
			return err
		}
		for k := range idx.entries {
			if k.Node == node {
				delete(idx.entries, k)
			}
		}
		return idx.commitLocked()
	})
}

// Snapshot returns a copy of all current entries, for validate() and
// the watch regenerator.
func (idx *Index) Snapshot() map[Key]identity.FrameID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[Key]identity.FrameID, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}
