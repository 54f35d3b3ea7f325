package watch

import (
	"context"
	"time"

	"github.com/untoldecay/treectx/internal/ignore"
	"github.com/untoldecay/treectx/internal/queue"
	"github.com/untoldecay/treectx/internal/storage/basisindex"
	"github.com/untoldecay/treectx/internal/storage/headindex"
	"github.com/untoldecay/treectx/internal/storage/nodestore"
	"github.com/untoldecay/treectx/internal/telemetry"
)

// Config tunes the debounce/batch windows and regeneration behavior.
// Zero values fall back to spec.md §4.12's defaults.
type Config struct {
	DebounceWindow   time.Duration // default 100ms
	BatchWindow      time.Duration // default 50ms
	BatchSize        int           // default 100
	PIDFilePath      string        // required
	Regenerate       bool
	Bindings         []Binding
	MaxRegenDepth    int
	ShutdownTimeout  time.Duration // default 30s
	FallbackDisabled bool
}

const (
	defaultDebounceWindow  = 100 * time.Millisecond
	defaultBatchWindow     = 50 * time.Millisecond
	defaultBatchSize       = 100
	defaultShutdownTimeout = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounceWindow
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = defaultBatchWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// Runtime wires FileWatcher → Debouncer → Batcher → Processor →
// Regenerator into one supervised pipeline, with a PID guard enforcing
// single-instance and graceful shutdown on Stop.
type Runtime struct {
	cfg    Config
	guard  *PIDGuard
	fw     *FileWatcher
	deb    *Debouncer
	bat    *Batcher
	proc   *Processor
	regen  *Regenerator
	q      *queue.Queue
	bus    telemetry.Bus
	cancel context.CancelFunc
	done   chan struct{}
	fwErr  error
}

// New constructs a Runtime. q and regen.bindings may be nil/empty when
// Config.Regenerate is false.
func New(workspaceRoot string, nodes *nodestore.Store, heads *headindex.Index, basis *basisindex.Index, q *queue.Queue, ignores ignore.Set, bus telemetry.Bus, cfg Config) *Runtime {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = telemetry.NopBus{}
	}

	rt := &Runtime{
		cfg:   cfg,
		guard: NewPIDGuard(cfg.PIDFilePath),
		proc:  NewProcessor(workspaceRoot, nodes, ignores, bus),
		q:     q,
		bus:   bus,
		done:  make(chan struct{}),
	}
	if cfg.Regenerate {
		rt.regen = NewRegenerator(heads, basis, nodes, q, cfg.Bindings, cfg.MaxRegenDepth)
	}

	rt.bat = NewBatcher(cfg.BatchWindow, cfg.BatchSize, rt.handleBatch)
	rt.deb = NewDebouncer(cfg.DebounceWindow, func(ev RawEvent) {
		bus.Emit(telemetry.Event{Type: telemetry.FileChanged, Path: ev.Path})
		rt.bat.Add(ev)
	})

	fw, err := NewFileWatcher(workspaceRoot, cfg.FallbackDisabled, rt.deb.Trigger)
	rt.fw = fw
	rt.fwErr = err

	return rt
}

// Start acquires the PID guard and begins watching. ctx's cancellation
// (or a call to Stop) triggers graceful shutdown: stop accepting new
// events, flush the debouncer/batcher, and drain the queue up to
// Config.ShutdownTimeout.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.fwErr != nil {
		return rt.fwErr
	}
	if err := rt.guard.Acquire(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	rt.bus.Emit(telemetry.Event{Type: telemetry.WatchStarted})
	rt.fw.Start(runCtx)

	go func() {
		<-runCtx.Done()
		rt.shutdown()
		close(rt.done)
	}()

	return nil
}

func (rt *Runtime) handleBatch(batch []RawEvent) {
	rt.bus.Emit(telemetry.Event{Type: telemetry.BatchProcessed})

	ctx := context.Background()
	result, err := rt.proc.Process(ctx, batch)
	if err != nil || result == nil {
		return
	}
	if rt.regen != nil && len(result.Updated) > 0 {
		_ = rt.regen.Run(ctx, result.Updated)
	}
}

// Stop requests graceful shutdown and blocks until it completes or
// Config.ShutdownTimeout elapses.
func (rt *Runtime) Stop() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	select {
	case <-rt.done:
		return nil
	case <-time.After(rt.cfg.ShutdownTimeout):
		return context.DeadlineExceeded
	}
}

func (rt *Runtime) shutdown() {
	if rt.fw != nil {
		_ = rt.fw.Close()
	}
	// Hand pending debounced events to the batcher before it flushes.
	rt.deb.mu.Lock()
	pending := rt.deb.pending
	for _, t := range rt.deb.timers {
		t.Stop()
	}
	rt.deb.timers = make(map[string]*time.Timer)
	rt.deb.pending = make(map[string]RawEvent)
	rt.deb.mu.Unlock()
	for _, ev := range pending {
		rt.deb.onFire(ev)
	}
	rt.bat.Stop()
	if rt.q != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
		defer cancel()
		_ = rt.q.WaitForDrain(ctx)
	}
	_ = rt.guard.Release()
}
