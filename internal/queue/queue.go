// Package queue is the single path to a provider: rate-limiting, retry,
// deduplication, head short-circuit, and active-plan-first scheduling.
// See spec.md §4.9 and SPEC_FULL.md §4.9, grounded on the teacher's
// internal/compact/haiku.go (callWithRetry/isRetryable) and
// internal/compact/compactor.go (CompactTier1Batch's worker pool).
package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/untoldecay/treectx/internal/errs"
	"github.com/untoldecay/treectx/internal/frame"
	"github.com/untoldecay/treectx/internal/identity"
	"github.com/untoldecay/treectx/internal/provider"
	"github.com/untoldecay/treectx/internal/storage/basisindex"
	"github.com/untoldecay/treectx/internal/storage/framestore"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
	"github.com/untoldecay/treectx/internal/telemetry"
)

// Priority orders dispatch within the queue; it does not bypass the
// active-plan precedence rule.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Key is the request identity: provider_name deliberately is not part
// of it, so two submissions for the same node/agent/frame-type coalesce
// to a single provider call regardless of which provider each named.
type Key struct {
	NodeID    identity.NodeID
	AgentID   string
	FrameType string
}

// Request is one submission to the queue.
type Request struct {
	NodeID       identity.NodeID
	Path         string
	NodeKind     identity.NodeKind
	AgentID      string
	ProviderName string
	FrameType    string
	Priority     Priority
	PlanID       string // empty if not part of a plan
	Force        bool
}

func (r Request) key() Key {
	return Key{NodeID: r.NodeID, AgentID: r.AgentID, FrameType: r.FrameType}
}

// Outcome is the terminal state of a request.
type Outcome struct {
	FrameID identity.FrameID
	Err     error
}

// Config tunes retry/backoff/capacity/rate-limits. Zero values fall
// back to the defaults below.
type Config struct {
	Capacity       int
	MaxRetries     int
	InitialBackoff time.Duration
	RatePerSecond  float64 // per-agent token-bucket refill rate
	RateBurst      int
}

const (
	defaultCapacity       = 1024
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	defaultRatePerSecond  = 2.0
	defaultRateBurst      = 4
)

// AgentPrompts is the minimal agent-profile contract payload assembly
// needs (internal/agentprofile.Registry satisfies this).
type AgentPrompts interface {
	SystemPrompt(agentID string) (string, error)
	FileUserPrompt(agentID string) (string, error)
	DirectoryUserPrompt(agentID string) (string, error)
	ResponseTemplate(agentID string) (string, bool)
}

// ChildHeadsSource resolves a directory node's current child nodes, for
// directory payload assembly (§4.11).
type ChildHeadsSource interface {
	Get(ctx context.Context, id identity.NodeID) (nodestore.NodeRecord, error)
}

// FileReader reads a workspace-relative file's current bytes for file
// payload assembly. Content is never stored in the node store (only its
// hash), so the queue reads it fresh at generation time.
type FileReader interface {
	ReadFile(canonicalPath string) ([]byte, error)
}

type inflight struct {
	completions []chan Outcome
}

// Queue is the generation pipeline's scheduler and only path to a
// provider.
type Queue struct {
	cfg Config

	validator *frame.Validator
	frames    *framestore.Store
	heads     *headindex.Index
	basis     *basisindex.Index
	nodes     ChildHeadsSource
	files     FileReader
	agents    AgentPrompts
	providers map[string]provider.Provider
	bus       telemetry.Bus

	planCh    chan *dispatchItem
	ambientCh chan *dispatchItem

	mu          sync.Mutex
	pending     map[Key]*inflight
	limiters    map[string]*rate.Limiter
	activePlan  string
	wg          sync.WaitGroup
	workerCount int
	stopOnce    sync.Once
	stopCh      chan struct{}
}

type dispatchItem struct {
	req Request
}

// Deps bundles the Queue's collaborators.
type Deps struct {
	Validator *frame.Validator
	Frames    *framestore.Store
	Heads     *headindex.Index
	Basis     *basisindex.Index
	Nodes     ChildHeadsSource
	Files     FileReader
	Agents    AgentPrompts
	Providers map[string]provider.Provider
	Bus       telemetry.Bus
}

// New constructs a Queue and starts its worker pool. Workers is the
// concurrency limit for provider calls; Stop must be called to release
// them.
func New(cfg Config, deps Deps, workers int) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if workers <= 0 {
		workers = 4
	}

	q := &Queue{
		cfg:       cfg,
		validator: deps.Validator,
		frames:    deps.Frames,
		heads:     deps.Heads,
		basis:     deps.Basis,
		nodes:     deps.Nodes,
		files:     deps.Files,
		agents:    deps.Agents,
		providers: deps.Providers,
		bus:       deps.Bus,
		planCh:    make(chan *dispatchItem, cfg.Capacity),
		ambientCh: make(chan *dispatchItem, cfg.Capacity),
		pending:   make(map[Key]*inflight),
		limiters:  make(map[string]*rate.Limiter),
		stopCh:    make(chan struct{}),
	}

	q.workerCount = workers
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Stop signals the workers to stop and waits for them to finish, up to
// the caller's context deadline. Workers process the items already
// queued before they exit.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stopCh) })
	done := make(chan struct{})
	go func() { q.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetActivePlan marks planID as active; its items take scheduling
// precedence until ClearActivePlan. Exactly one plan is active at a
// time (spec.md §4.9).
func (q *Queue) SetActivePlan(planID string) {
	q.mu.Lock()
	q.activePlan = planID
	q.mu.Unlock()
}

// ClearActivePlan unmarks the active plan.
func (q *Queue) ClearActivePlan() {
	q.mu.Lock()
	q.activePlan = ""
	q.mu.Unlock()
}

func (q *Queue) limiterFor(agentID string) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(q.cfg.RatePerSecond), q.cfg.RateBurst)
		q.limiters[agentID] = l
	}
	return l
}

// Enqueue submits req and returns a channel that receives its terminal
// Outcome exactly once. It never blocks: a full queue returns
// errs.ErrQueueFull immediately.
func (q *Queue) Enqueue(req Request) (<-chan Outcome, error) {
	ch := make(chan Outcome, 1)

	if !req.Force {
		if frameID, ok := q.heads.Get(headindex.Key{Node: req.NodeID, FrameType: req.FrameType}); ok {
			q.emit(telemetry.Event{Type: telemetry.RequestDeduplicated, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType})
			ch <- Outcome{FrameID: frameID}
			return ch, nil
		}
	}

	key := req.key()
	q.mu.Lock()
	if existing, ok := q.pending[key]; ok {
		existing.completions = append(existing.completions, ch)
		q.mu.Unlock()
		q.emit(telemetry.Event{Type: telemetry.RequestDeduplicated, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType})
		return ch, nil
	}
	q.pending[key] = &inflight{completions: []chan Outcome{ch}}
	q.mu.Unlock()

	item := &dispatchItem{req: req}
	target := q.ambientCh
	q.mu.Lock()
	isActivePlanItem := req.PlanID != "" && req.PlanID == q.activePlan
	q.mu.Unlock()
	if isActivePlanItem {
		target = q.planCh
	}

	select {
	case target <- item:
		q.emit(telemetry.Event{Type: telemetry.RequestEnqueued, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType})
		return ch, nil
	default:
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
		return nil, errs.ErrQueueFull
	}
}

// EnqueueAndWait submits req and blocks until it reaches a terminal
// state or ctx is done.
func (q *Queue) EnqueueAndWait(ctx context.Context, req Request) (identity.FrameID, error) {
	ch, err := q.Enqueue(req)
	if err != nil {
		return identity.FrameID{}, err
	}
	select {
	case outcome := <-ch:
		return outcome.FrameID, outcome.Err
	case <-ctx.Done():
		return identity.FrameID{}, errs.ErrCancelled
	}
}

// EnqueueBatch submits every request in reqs, returning one channel per
// request in the same order.
func (q *Queue) EnqueueBatch(reqs []Request) ([]<-chan Outcome, error) {
	out := make([]<-chan Outcome, 0, len(reqs))
	for _, r := range reqs {
		ch, err := q.Enqueue(r)
		if err != nil {
			return out, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Stats reports a point-in-time snapshot of queue depth.
type Stats struct {
	Pending int
	Plan    int
	Ambient int
}

// Stats returns current queue depth.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()
	return Stats{Pending: pending, Plan: len(q.planCh), Ambient: len(q.ambientCh)}
}

// WaitForDrain blocks until no requests are pending, or ctx is done.
func (q *Queue) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.Stats().Pending == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		item := q.next()
		if item == nil {
			return
		}
		q.process(item.req)
	}
}

// next prefers an active-plan item over an ambient one, and blocks on
// either when both are empty, until Stop is signalled.
func (q *Queue) next() *dispatchItem {
	select {
	case item := <-q.planCh:
		return item
	default:
	}

	select {
	case item := <-q.planCh:
		return item
	case item := <-q.ambientCh:
		return item
	case <-q.stopCh:
		// Drain whatever is already queued before exiting.
		select {
		case item := <-q.planCh:
			return item
		case item := <-q.ambientCh:
			return item
		default:
			return nil
		}
	}
}

func (q *Queue) process(req Request) {
	key := req.key()
	ctx := context.Background()

	q.emit(telemetry.Event{Type: telemetry.RequestProcessing, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType})

	frameID, err := q.runWithRetry(ctx, req)

	q.mu.Lock()
	entry := q.pending[key]
	delete(q.pending, key)
	q.mu.Unlock()

	outcome := Outcome{FrameID: frameID, Err: err}
	if err != nil {
		q.emit(telemetry.Event{Type: telemetry.RequestFailed, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType, Err: err})
	} else {
		q.emit(telemetry.Event{Type: telemetry.RequestSucceeded, NodeID: req.NodeID, AgentID: req.AgentID, FrameType: req.FrameType, FrameID: frameID})
	}

	if entry != nil {
		for _, ch := range entry.completions {
			ch <- outcome
		}
	}
}

// runWithRetry classifies provider errors as transient/permanent and
// retries only transient ones with exponential backoff, matching the
// teacher's callWithRetry shape exactly.
func (q *Queue) runWithRetry(ctx context.Context, req Request) (identity.FrameID, error) {
	limiter := q.limiterFor(req.AgentID)

	var lastErr error
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.cfg.InitialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return identity.FrameID{}, errs.ErrCancelled
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return identity.FrameID{}, errs.ErrCancelled
		}

		frameID, err := q.runOnce(ctx, req)
		if err == nil {
			return frameID, nil
		}
		lastErr = err

		var perr *errs.ProviderError
		if !asProviderError(err, &perr) || !perr.Transient {
			return identity.FrameID{}, err
		}
	}
	return identity.FrameID{}, fmt.Errorf("failed after %d attempts: %w", q.cfg.MaxRetries+1, lastErr)
}

func asProviderError(err error, target **errs.ProviderError) bool {
	pe, ok := err.(*errs.ProviderError)
	if ok {
		*target = pe
	}
	return ok
}

// runOnce performs one full attempt: assemble payload, call provider,
// validate, persist to frame store, update basis index, update head
// index, in that order (spec.md §4.9 post-success pipeline). A provider
// error keeps the transient/permanent classification the provider gave
// it; every other failure (payload assembly, validation, a storage
// write) is permanent — a retry of the whole pipeline is runWithRetry's
// job, not a partial resume here.
func (q *Queue) runOnce(ctx context.Context, req Request) (identity.FrameID, error) {
	prov, ok := q.providers[req.ProviderName]
	if !ok {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: fmt.Sprintf("provider %q not configured", req.ProviderName)}
	}

	messages, err := q.buildMessages(ctx, req)
	if err != nil {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: "failed to assemble payload", Cause: err}
	}

	text, err := prov.Complete(ctx, messages, provider.Options{})
	if err != nil {
		return identity.FrameID{}, err // already a classified *errs.ProviderError
	}

	basis := identity.Basis{Kind: identity.BasisNodeOnly, Node: req.NodeID}
	f := &frame.Frame{
		Basis: basis, NodeID: req.NodeID, AgentID: req.AgentID,
		FrameType: req.FrameType, Content: []byte(text), CreatedAt: timeNow(),
	}
	f.FrameID = f.ComputeID()

	if err := q.validator.Validate(ctx, frame.WriteRequest{Frame: f, Agent: req.AgentID}); err != nil {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: "validation failed", Cause: err}
	}
	if err := q.frames.Put(ctx, f); err != nil {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: "frame store write failed", Cause: err}
	}
	if err := q.basis.Set(f.FrameID, basis); err != nil {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: "basis index write failed", Cause: err}
	}
	if err := q.heads.Set(headindex.Key{Node: req.NodeID, FrameType: req.FrameType}, f.FrameID); err != nil {
		return identity.FrameID{}, &errs.ProviderError{Transient: false, Message: "head index write failed", Cause: err}
	}

	return f.FrameID, nil
}

func (q *Queue) emit(ev telemetry.Event) {
	if q.bus == nil {
		return
	}
	q.bus.Emit(ev)
}

// timeNow is a seam for tests; production always uses the wall clock.
var timeNow = time.Now
