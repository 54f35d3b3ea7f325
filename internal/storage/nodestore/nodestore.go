// Package nodestore persists the Merkle snapshot: node_id -> NodeRecord
// and path -> node_id, in a single bbolt database file. See
// SPEC_FULL.md §4.3 and DESIGN.md's "Node store" entry.
package nodestore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/identity"
)

var (
	bucketNodes = []byte("nodes") // node_id (raw 32 bytes) -> gob(NodeRecord)
	bucketPaths = []byte("paths") // canonical path -> node_id (raw 32 bytes)
)

// NodeRecord is the persisted form of a tree.Node, plus tombstone state.
type NodeRecord struct {
	ID          identity.NodeID
	Path        string
	Kind        identity.NodeKind
	Size        int64
	ContentHash identity.ID
	Children    []identity.NodeID
	Tombstoned  bool
	UpdatedAt   time.Time
}

// Store is a bbolt-backed node store. The zero value is not usable; call
// Open.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &errs.StorageIOError{Op: "open", Path: path, Cause: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPaths); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &errs.StorageIOError{Op: "init-buckets", Path: path, Cause: err}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists satisfies frame.NodeChecker: it reports whether id is known and
// whether it is currently tombstoned.
func (s *Store) Exists(ctx context.Context, id identity.NodeID) (exists bool, tombstoned bool, err error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNodeNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, rec.Tombstoned, nil
}

// Get returns the record for id, or errs.ErrNodeNotFound.
func (s *Store) Get(ctx context.Context, id identity.NodeID) (NodeRecord, error) {
	var rec NodeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketNodes).Get(id[:])
		if raw == nil {
			return errs.ErrNodeNotFound
		}
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
	})
	if err != nil {
		if errors.Is(err, errs.ErrNodeNotFound) {
			return NodeRecord{}, err
		}
		return NodeRecord{}, &errs.StorageIOError{Op: "get", Path: id.String(), Cause: err}
	}
	return rec, nil
}

// GetByPath resolves a canonical workspace-relative path to its current
// node record.
func (s *Store) GetByPath(ctx context.Context, canonicalPath string) (NodeRecord, error) {
	var id identity.NodeID
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPaths).Get([]byte(canonicalPath))
		if raw == nil {
			return errs.ErrNodeNotFound
		}
		copy(id[:], raw)
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrNodeNotFound) {
			return NodeRecord{}, err
		}
		return NodeRecord{}, &errs.StorageIOError{Op: "get-by-path", Path: canonicalPath, Cause: err}
	}
	return s.Get(ctx, id)
}

// PutBatch atomically writes all records in a single bbolt transaction,
// matching the teacher's RunInTransaction all-or-nothing discipline.
func (s *Store) PutBatch(ctx context.Context, records []NodeRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodes := tx.Bucket(bucketNodes)
		paths := tx.Bucket(bucketPaths)
		for _, rec := range records {
			rec.UpdatedAt = timeNow()
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
				return err
			}
			if err := nodes.Put(rec.ID[:], buf.Bytes()); err != nil {
				return err
			}
			if err := paths.Put([]byte(rec.Path), rec.ID[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &errs.StorageIOError{Op: "put-batch", Cause: err}
	}
	return nil
}

// Tombstone marks id as logically deleted without removing its record,
// so historical frames whose basis references it remain resolvable.
func (s *Store) Tombstone(ctx context.Context, id identity.NodeID) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Tombstoned = true
	return s.PutBatch(ctx, []NodeRecord{rec})
}

// Restore clears a node's tombstone flag, unless the node's path is
// currently occupied by a different live node (SPEC_FULL.md §4.3).
func (s *Store) Restore(ctx context.Context, id identity.NodeID) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	occupant, err := s.GetByPath(ctx, rec.Path)
	if err != nil && !errors.Is(err, errs.ErrNodeNotFound) {
		return err
	}
	if err == nil && occupant.ID != rec.ID && !occupant.Tombstoned {
		return fmt.Errorf("%w: %q", errs.ErrPathOccupied, rec.Path)
	}

	rec.Tombstoned = false
	return s.PutBatch(ctx, []NodeRecord{rec})
}

// IterActive calls fn for every non-tombstoned node, stopping early if
// fn returns an error.
func (s *Store) IterActive(ctx context.Context, fn func(NodeRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, raw []byte) error {
			var rec NodeRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
				return fmt.Errorf("decode node record: %w", err)
			}
			if rec.Tombstoned {
				return nil
			}
			return fn(rec)
		})
	})
}

// IterTombstoned calls fn for every tombstoned node, for `workspace
// list-deleted` and `workspace restore`.
func (s *Store) IterTombstoned(ctx context.Context, fn func(NodeRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, raw []byte) error {
			var rec NodeRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
				return fmt.Errorf("decode node record: %w", err)
			}
			if !rec.Tombstoned {
				return nil
			}
			return fn(rec)
		})
	})
}

// DeletePermanent removes id's record and its path key in one
// transaction (spec.md §4.3's delete_permanent).
func (s *Store) DeletePermanent(ctx context.Context, id identity.NodeID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodes := tx.Bucket(bucketNodes)
		paths := tx.Bucket(bucketPaths)

		raw := nodes.Get(id[:])
		if raw == nil {
			return nil // already gone
		}
		var rec NodeRecord
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
			return fmt.Errorf("decode node record: %w", err)
		}
		if err := nodes.Delete(id[:]); err != nil {
			return err
		}
		// Only drop the path key if it still points at this node; a
		// newer live node may have reclaimed the same path since.
		if pathRaw := paths.Get([]byte(rec.Path)); pathRaw != nil {
			var current identity.NodeID
			copy(current[:], pathRaw)
			if current == id {
				if err := paths.Delete([]byte(rec.Path)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return &errs.StorageIOError{Op: "delete-permanent", Path: id.String(), Cause: err}
	}
	return nil
}

// CompactDanglingPaths removes every path key whose target node_id is
// absent from the nodes bucket: a writer can crash between the two key
// writes spec.md §4.3 requires, and reads treat node records as
// authoritative, so these dangling path keys are tolerated until swept
// here. Returns the count removed.
func (s *Store) CompactDanglingPaths(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nodes := tx.Bucket(bucketNodes)
		paths := tx.Bucket(bucketPaths)

		var dangling [][]byte
		err := paths.ForEach(func(k, v []byte) error {
			if nodes.Get(v) == nil {
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				dangling = append(dangling, keyCopy)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range dangling {
			if err := paths.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, &errs.StorageIOError{Op: "compact-dangling-paths", Cause: err}
	}
	return removed, nil
}

// timeNow is a seam so tests could substitute a fixed clock; production
// code always uses the real wall clock.
var timeNow = time.Now
