// Package basisindex persists frame_id -> basis descriptor, used to
// detect when a frame's inputs have drifted since it was generated. Same
// full-rewrite-under-lock convention as headindex. See SPEC_FULL.md §4.5.
package basisindex

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

const formatVersion uint32 = 1

// Index is the file-backed frame_id -> basis map.
type Index struct {
	path     string
	lockPath string

	mu      sync.RWMutex
	entries map[identity.FrameID]identity.Basis
}

// Open loads path, tolerating a missing file.
func Open(path string) (*Index, error) {
	idx := &Index{
		path:     path,
		lockPath: path + ".lock",
		entries:  make(map[identity.FrameID]identity.Basis),
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
		return fmt.Errorf("%w: basis index %s: truncated header", errs.ErrStorageCorruption, idx.path)
	}
	version := binary.BigEndian.Uint32(data[:4])
	if version != formatVersion {
		return fmt.Errorf("%w: basis index %s: format version %d, want %d", errs.ErrStorageCorruption, idx.path, version, formatVersion)
	}

	entries := make(map[identity.FrameID]identity.Basis)
	if err := gob.NewDecoder(bytes.NewReader(data[4:])).Decode(&entries); err != nil {
		return fmt.Errorf("%w: basis index %s: %w", errs.ErrStorageCorruption, idx.path, err)
	}
	idx.entries = entries
	return nil
}

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
	tmp, err := os.CreateTemp(dir, "basis-index-*.tmp")
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

// Get returns the stored basis for frameID, if any.
func (idx *Index) Get(frameID identity.FrameID) (identity.Basis, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.entries[frameID]
	return b, ok
}

// Set records basis for frameID and commits to disk.
func (idx *Index) Set(frameID identity.FrameID, basis identity.Basis) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.withFileLock(func() error {
		if err := idx.load(); err != nil {
			return err
		}
		idx.entries[frameID] = basis
		return idx.commitLocked()
	})
}

// Delete removes the basis entry for frameID.
func (idx *Index) Delete(frameID identity.FrameID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.withFileLock(func() error {
		if err := idx.load(); err != nil {
			return err
		}
		delete(idx.entries, frameID)
		return idx.commitLocked()
	})
}

// Snapshot returns a copy of all current entries.
func (idx *Index) Snapshot() map[identity.FrameID]identity.Basis {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[identity.FrameID]identity.Basis, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}
