package service

import (
	"context"
	"log"
	"sync"
	"time"

	"martstock-api/internal/cache"
	"martstock-api/internal/model"
	"martstock-api/internal/repository"
)

// LoadState describes the engine's load lifecycle.
type LoadState string

const (
	// StateInitializing means the first full load has not completed yet.
	StateInitializing LoadState = "initializing"
	// StateLoaded means the cache holds a complete view of the store.
	StateLoaded LoadState = "loaded"
	// StateLoadError means the initial load failed; retryable via RetryLoad.
	StateLoadError LoadState = "load_error"
)

// Connectivity is the engine's view of the change-channel monitor.
type Connectivity interface {
	Online() bool
	Transitions() <-chan bool
}

// ChangePublisher broadcasts confirmed store writes to other engine instances.
type ChangePublisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
}

// Engine is the inventory facade: it owns the cache, consumes the change
// stream, executes scan transactions, and exposes the aggregations. All cache
// writes funnel through its single apply loop, so mutations never interleave
// inconsistently; readers always see fully-applied snapshots.
type Engine struct {
	store     repository.Store
	publisher ChangePublisher
	monitor   Connectivity
	events    <-chan model.ChangeEvent

	cache       *cache.Cache
	confirmCh   chan model.ChangeEvent
	loadTimeout time.Duration

	mu        sync.RWMutex
	loadState LoadState
	online    bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// EngineOptions wires an Engine's collaborators.
type EngineOptions struct {
	Store       repository.Store
	Publisher   ChangePublisher
	Monitor     Connectivity
	Events      <-chan model.ChangeEvent
	QueueSize   int
	LoadTimeout time.Duration
}

// NewEngine creates an engine in the Initializing state.
func NewEngine(opts EngineOptions) *Engine {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}
	return &Engine{
		store:       opts.Store,
		publisher:   opts.Publisher,
		monitor:     opts.Monitor,
		events:      opts.Events,
		cache:       cache.New(),
		confirmCh:   make(chan model.ChangeEvent, queueSize),
		loadTimeout: loadTimeout,
		loadState:   StateInitializing,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start performs the initial full load and launches the apply loop. A failed
// initial load leaves the engine running in the LoadError state (retryable);
// the error is returned for logging but does not stop the engine.
func (e *Engine) Start(ctx context.Context) error {
	err := e.load(ctx)
	if err != nil {
		e.setLoadState(StateLoadError)
		e.setOnline(false)
		log.Printf("[Engine] Initial load failed: %v", err)
	} else {
		e.setLoadState(StateLoaded)
		e.setOnline(e.monitor.Online())
		log.Printf("[Engine] Initial load complete")
	}

	go e.run()
	return err
}

// run is the single serialization point for cache writes: stream events,
// transaction confirmations, and connectivity transitions all land here.
func (e *Engine) run() {
	defer close(e.done)

	for {
		select {
		case event, ok := <-e.events:
			if !ok {
				return
			}
			e.apply(event)

		case event := <-e.confirmCh:
			e.apply(event)

		case online := <-e.monitor.Transitions():
			if online {
				e.resync()
			} else {
				e.setOnline(false)
			}

		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) apply(event model.ChangeEvent) {
	if err := e.cache.Apply(event); err != nil {
		log.Printf("[Engine] Failed to apply %s/%s event: %v", event.Table, event.Op, err)
	}
}

// resync runs a fresh full load after a reconnect. Events missed during the
// outage cannot be replayed from the channel, so only a reload makes the
// cache trustworthy again; scans stay rejected until it succeeds.
func (e *Engine) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), e.loadTimeout)
	defer cancel()

	if err := e.load(ctx); err != nil {
		log.Printf("[Engine] Resync failed, staying offline: %v", err)
		e.setOnline(false)
		return
	}

	// Anything still queued was buffered before or during the outage window
	// and may predate the rows the load just read; applying it would regress
	// the cache. The load supersedes the backlog, so discard it.
	e.drainEvents()

	e.setLoadState(StateLoaded)
	e.setOnline(true)
	log.Printf("[Engine] Resync complete")
}

// drainEvents discards everything currently buffered on the event queue.
func (e *Engine) drainEvents() {
	for {
		select {
		case _, ok := <-e.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// load replaces the cache with a consistent full read of the store.
func (e *Engine) load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()

	products, err := e.store.LoadProducts(ctx)
	if err != nil {
		return err
	}
	batches, err := e.store.LoadBatches(ctx)
	if err != nil {
		return err
	}
	auditLogs, err := e.store.LoadAuditLogs(ctx, 0)
	if err != nil {
		return err
	}

	e.cache.Reset(products, batches, auditLogs)
	return nil
}

// RetryLoad re-attempts the initial load after a LoadError. No partial cache
// is ever exposed: until a load succeeds the state stays LoadError.
func (e *Engine) RetryLoad(ctx context.Context) error {
	if err := e.load(ctx); err != nil {
		e.setLoadState(StateLoadError)
		return err
	}
	e.setLoadState(StateLoaded)
	e.setOnline(e.monitor.Online())
	return nil
}

// Resync forces a full reload; used by the periodic resync scheduler as a
// safety net against silently missed notifications.
func (e *Engine) Resync(ctx context.Context) error {
	if e.State() != StateLoaded {
		return e.RetryLoad(ctx)
	}
	return e.load(ctx)
}

// State returns the current load state.
func (e *Engine) State() LoadState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadState
}

// IsOnline reports whether the engine currently accepts scan operations.
func (e *Engine) IsOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online && e.loadState == StateLoaded
}

// Snapshot returns the current fully-applied read-only view of the cache.
func (e *Engine) Snapshot() *cache.Snapshot {
	return e.cache.Snapshot()
}

// Close stops the apply loop and waits for it to drain.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.done
}

func (e *Engine) setLoadState(state LoadState) {
	e.mu.Lock()
	e.loadState = state
	e.mu.Unlock()
}

func (e *Engine) setOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()

	if changed {
		if online {
			log.Printf("[Engine] Online - accepting scans")
		} else {
			log.Printf("[Engine] Offline - scans suspended")
		}
	}
}

// confirm funnels a locally confirmed store row into the apply loop and
// broadcasts it to other instances. The local apply and the published
// round-trip are both idempotent upserts, so applying twice converges.
func (e *Engine) confirm(ctx context.Context, event model.ChangeEvent) {
	select {
	case e.confirmCh <- event:
	case <-e.stopCh:
		return
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		// Other instances recover on their next resync.
		log.Printf("[Engine] Failed to publish %s/%s event: %v", event.Table, event.Op, err)
	}
}
