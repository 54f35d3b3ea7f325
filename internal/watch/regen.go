package watch

import (
	"context"

	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/queue"
	"github.com/untoldecay/treectx/internal/storage/basisindex"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
)

// defaultMaxRegenDepth caps how many of one batch's updated nodes get
// re-examined for regeneration, taken from the front of the list (the
// deepest paths first, as Processor orders them), preventing a single
// deep edit from cascading to the workspace root every time (spec.md
// §4.12: "recursion depth is capped").
const defaultMaxRegenDepth = 3

// Binding names one agent/provider/frame-type combination the
// regenerator keeps current as nodes change.
type Binding struct {
	AgentID      string
	ProviderName string
	FrameType    string
}

// Regenerator enqueues a regeneration request for any updated node
// whose current identity no longer matches the basis its existing head
// frame was generated from.
type Regenerator struct {
	heads    *headindex.Index
	basis    *basisindex.Index
	nodes    *nodestore.Store
	q        *queue.Queue
	bindings []Binding
	maxDepth int
}

// NewRegenerator constructs a Regenerator. maxDepth <= 0 uses the
// default of 3.
func NewRegenerator(heads *headindex.Index, basis *basisindex.Index, nodes *nodestore.Store, q *queue.Queue, bindings []Binding, maxDepth int) *Regenerator {
	if maxDepth <= 0 {
		maxDepth = defaultMaxRegenDepth
	}
	return &Regenerator{heads: heads, basis: basis, nodes: nodes, q: q, bindings: bindings, maxDepth: maxDepth}
}

// Run examines the first maxDepth entries of updated, in the order given
// (Processor reports the deepest paths first), and enqueues a High-priority regeneration request for any binding
// whose head frame's recorded basis no longer matches the node's
// current identity.
func (r *Regenerator) Run(ctx context.Context, updated []identity.NodeID) error {
	for depth, id := range updated {
		if depth >= r.maxDepth {
			break
		}
		rec, err := r.nodes.Get(ctx, id)
		if err != nil {
			continue // gone already; nothing to regenerate
		}
		for _, b := range r.bindings {
			if r.isStale(rec, b) {
				_, err := r.q.Enqueue(queue.Request{
					NodeID: rec.ID, Path: rec.Path, NodeKind: rec.Kind,
					AgentID: b.AgentID, ProviderName: b.ProviderName, FrameType: b.FrameType,
					Priority: queue.PriorityHigh, Force: true,
				})
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Regenerator) isStale(rec nodestore.NodeRecord, b Binding) bool {
	frameID, ok := r.heads.Get(headindex.Key{Node: rec.ID, FrameType: b.FrameType})
	if !ok {
		return true // never generated
	}
	recordedBasis, ok := r.basis.Get(frameID)
	if !ok {
		return true // basis entry missing; treat as stale
	}
	return recordedBasis.Node != rec.ID
}
