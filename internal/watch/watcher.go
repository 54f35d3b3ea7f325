package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher recursively monitors a workspace root for create/modify/
// remove/rename events, forwarding each as a RawEvent. Grounded on the
// teacher's cmd/bd/daemon_watcher.go FileWatcher: fsnotify with a
// polling fallback, generalized from a single JSONL+git-refs watch to an
// arbitrary directory tree.
type FileWatcher struct {
	root         string
	watcher      *fsnotify.Watcher
	pollingMode  bool
	pollInterval time.Duration
	onEvent      func(RawEvent)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileWatcher constructs a watcher over root. If fsnotify cannot be
// initialized or the tree cannot be watched, it falls back to polling
// rather than failing outright, matching the teacher's fallback
// behavior (overridable via the fallbackDisabled argument).
func NewFileWatcher(root string, fallbackDisabled bool, onEvent func(RawEvent)) (*FileWatcher, error) {
	fw := &FileWatcher{
		root:         root,
		pollInterval: 5 * time.Second,
		onEvent:      onEvent,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, fmt.Errorf("fsnotify.NewWatcher failed and fallback disabled: %w", err)
		}
		fw.pollingMode = true
		return fw, nil
	}

	if err := addTreeRecursive(watcher, root); err != nil {
		_ = watcher.Close()
		if fallbackDisabled {
			return nil, fmt.Errorf("failed to watch %s and fallback disabled: %w", root, err)
		}
		fw.pollingMode = true
		return fw, nil
	}

	fw.watcher = watcher
	return fw, nil
}

func addTreeRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

// Start begins monitoring in a background goroutine until ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	fw.cancel = cancel

	if fw.pollingMode {
		fw.startPolling(ctx)
		return
	}

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for {
			select {
			case event, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				fw.handleFsnotifyEvent(event)
			case _, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	var kind EventKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = EventCreate
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fw.watcher.Add(event.Name)
		}
	case event.Op&fsnotify.Remove != 0:
		kind = EventRemove
	case event.Op&fsnotify.Rename != 0:
		kind = EventRename
	case event.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		kind = EventWrite
	default:
		return
	}
	fw.onEvent(RawEvent{Path: event.Name, Kind: kind})
}

// startPolling periodically walks the tree comparing mtimes, used only
// when fsnotify is unavailable.
func (fw *FileWatcher) startPolling(ctx context.Context) {
	lastMod := make(map[string]time.Time)
	ticker := time.NewTicker(fw.pollInterval)
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				seen := make(map[string]bool)
				_ = filepath.Walk(fw.root, func(p string, info os.FileInfo, err error) error {
					if err != nil || info.IsDir() {
						return nil
					}
					seen[p] = true
					mt := info.ModTime()
					if prev, ok := lastMod[p]; !ok {
						lastMod[p] = mt
						fw.onEvent(RawEvent{Path: p, Kind: EventCreate})
					} else if !prev.Equal(mt) {
						lastMod[p] = mt
						fw.onEvent(RawEvent{Path: p, Kind: EventWrite})
					}
					return nil
				})
				for p := range lastMod {
					if !seen[p] {
						delete(lastMod, p)
						fw.onEvent(RawEvent{Path: p, Kind: EventRemove})
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the watcher and releases resources.
func (fw *FileWatcher) Close() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	fw.wg.Wait()
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}
