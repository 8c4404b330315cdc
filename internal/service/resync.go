package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// ResyncConfig holds configuration for the resync scheduler.
type ResyncConfig struct {
	// Interval is how often a full reload runs. Default: 15 minutes.
	Interval time.Duration

	// Timeout bounds a single resync run.
	Timeout time.Duration
}

// DefaultResyncConfig returns default resync configuration.
func DefaultResyncConfig() ResyncConfig {
	return ResyncConfig{
		Interval: 15 * time.Minute,
		Timeout:  time.Minute,
	}
}

// ResyncScheduler periodically reloads the cache from the store. Reconnect
// already forces a reload; this is the additional safety net against a
// notification lost while the channel looked healthy.
type ResyncScheduler struct {
	resync    func(ctx context.Context) error
	config    ResyncConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewResyncScheduler creates a new resync scheduler around the engine's
// Resync entry point.
func NewResyncScheduler(resync func(ctx context.Context) error, config ResyncConfig) *ResyncScheduler {
	if config.Interval == 0 {
		config.Interval = 15 * time.Minute
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}

	return &ResyncScheduler{
		resync: resync,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the resync scheduler.
func (s *ResyncScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Printf("[ResyncScheduler] Started - Interval: %v", s.config.Interval)

	go s.run()
}

// run is the main scheduler loop.
func (s *ResyncScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runResync()
		case <-s.stopCh:
			log.Printf("[ResyncScheduler] Stopped")
			return
		}
	}
}

// runResync performs one full reload.
func (s *ResyncScheduler) runResync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	if err := s.resync(ctx); err != nil {
		log.Printf("[ResyncScheduler] Resync failed: %v", err)
		return
	}
	log.Printf("[ResyncScheduler] Resync complete")
}

// Stop stops the resync scheduler.
func (s *ResyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate resync.
func (s *ResyncScheduler) RunNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	return s.resync(ctx)
}
