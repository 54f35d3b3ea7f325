// Package watch drives the file-watcher → debouncer → batcher →
// change-processor → regenerator pipeline described in SPEC_FULL.md
// §4.12. Grounded on the teacher's cmd/bd/daemon_watcher.go
// (FileWatcher) and cmd/bd/daemon_event_loop.go (debounce/batch/signal
// handling idiom), generalized from a single JSONL file's lifecycle to
// an arbitrary workspace tree's Merkle snapshot.
package watch

import (
	"context"
	"path"
	"sort"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
	"github.com/untoldecay/treectx/internal/telemetry"
	"github.com/untoldecay/treectx/internal/tree"
)

// TreeBuilder is the minimal contract the change processor needs. It
// exists so tests can substitute a stub rather than walking real files.
type TreeBuilder interface {
	Build(ctx context.Context, workspaceRoot string, ignores ignore.Set) (*tree.Tree, error)
}

type defaultTreeBuilder struct{}

func (defaultTreeBuilder) Build(ctx context.Context, workspaceRoot string, ignores ignore.Set) (*tree.Tree, error) {
	return tree.Build(ctx, workspaceRoot, ignores)
}

// ProcessResult reports what one batch's rebuild changed.
type ProcessResult struct {
	Updated   []identity.NodeID
	Removed   []identity.NodeID
	Unchanged int
}

// Processor maps a batch of raw filesystem events to the set of
// affected nodes (each changed path plus its full ancestor chain to the
// workspace root), rebuilds the whole tree, and persists only the
// affected records in one atomic batch.
type Processor struct {
	workspaceRoot string
	nodes         *nodestore.Store
	ignores       ignore.Set
	builder       TreeBuilder
	bus           telemetry.Bus
}

// NewProcessor constructs a Processor. bus may be nil.
func NewProcessor(workspaceRoot string, nodes *nodestore.Store, ignores ignore.Set, bus telemetry.Bus) *Processor {
	if bus == nil {
		bus = telemetry.NopBus{}
	}
	return &Processor{workspaceRoot: workspaceRoot, nodes: nodes, ignores: ignores, builder: defaultTreeBuilder{}, bus: bus}
}

// Process handles one flushed batch.
func (p *Processor) Process(ctx context.Context, batch []RawEvent) (*ProcessResult, error) {
	affected := make(map[string]bool)
	for _, ev := range batch {
		canonical, err := identity.CanonicalizePath(p.workspaceRoot, ev.Path)
		if err != nil {
			continue // outside the workspace root; ignore
		}
		for _, a := range ancestorChain(canonical) {
			affected[a] = true
		}
	}
	if len(affected) == 0 {
		return &ProcessResult{}, nil
	}

	t, err := p.builder.Build(ctx, p.workspaceRoot, p.ignores)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*tree.Node, len(t.Nodes))
	for _, n := range t.Nodes {
		byPath[n.Path] = n
	}

	result := &ProcessResult{}
	var records []nodestore.NodeRecord
	var removed []identity.NodeID

	for canonicalPath := range affected {
		newNode, stillPresent := byPath[canonicalPath]
		oldRec, hadOld, _ := p.lookupOld(ctx, canonicalPath)

		switch {
		case stillPresent && hadOld && newNode.ID == oldRec.ID:
			result.Unchanged++
		case stillPresent:
			records = append(records, nodestore.NodeRecord{
				ID: newNode.ID, Path: newNode.Path, Kind: newNode.Kind,
				Size: newNode.Size, ContentHash: newNode.ContentHash, Children: newNode.Children,
			})
		case hadOld:
			removed = append(removed, oldRec.ID)
		}
	}

	// Deepest paths first, so changed nodes precede their ancestors.
	sort.SliceStable(records, func(i, j int) bool {
		return len(ancestorChain(records[i].Path)) > len(ancestorChain(records[j].Path))
	})
	for _, rec := range records {
		result.Updated = append(result.Updated, rec.ID)
	}

	if len(records) > 0 {
		if err := p.nodes.PutBatch(ctx, records); err != nil {
			return nil, err
		}
	}
	for _, id := range removed {
		if err := p.nodes.Tombstone(ctx, id); err != nil {
			return nil, err
		}
	}
	result.Removed = removed

	p.bus.Emit(telemetry.Event{Type: telemetry.WatchTreeUpdated})
	return result, nil
}

func (p *Processor) lookupOld(ctx context.Context, canonicalPath string) (nodestore.NodeRecord, bool, error) {
	rec, err := p.nodes.GetByPath(ctx, canonicalPath)
	if err != nil {
		return nodestore.NodeRecord{}, false, nil
	}
	return rec, true, nil
}

// ancestorChain returns canonicalPath plus every ancestor directory up
// to and including the workspace root (".").
func ancestorChain(canonicalPath string) []string {
	chain := []string{canonicalPath}
	for canonicalPath != "." {
		canonicalPath = path.Dir(canonicalPath)
		chain = append(chain, canonicalPath)
	}
	return chain
}
