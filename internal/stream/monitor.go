package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger reports whether the change channel's transport is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger adapts a Redis client to the Pinger interface.
type RedisPinger struct {
	Client *redis.Client
}

// Ping checks the Redis connection.
func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// Monitor tracks reachability of the change channel and emits a transition
// event on each flip. Loss of the channel is not an error to callers; it
// degrades the engine to offline and pauses outbound transactions.
type Monitor struct {
	pinger   Pinger
	interval time.Duration

	mu     sync.RWMutex
	online bool

	transitions chan bool
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMonitor creates a monitor that starts in the offline state; the first
// successful ping or subscription attach brings it online.
func NewMonitor(pinger Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		pinger:      pinger,
		interval:    interval,
		transitions: make(chan bool, 16),
		stopCh:      make(chan struct{}),
	}
}

// Online returns the current reachability of the change channel.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Transitions returns the channel of online/offline flips. Only transitions
// are emitted, never repeats of the current state.
func (m *Monitor) Transitions() <-chan bool {
	return m.transitions
}

// SetOnline records the current reachability, emitting a transition on flip.
// Called by the ping loop and by the subscriber on attach/detach.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if online {
		log.Printf("[Monitor] Change channel reachable")
	} else {
		log.Printf("[Monitor] Change channel lost")
	}

	select {
	case m.transitions <- online:
	case <-m.stopCh:
	}
}

// CheckNow pings immediately and records the result. Used at startup so the
// engine does not wait a full ping interval for its first status.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	err := m.pinger.Ping(ctx)
	m.SetOnline(err == nil)
	return err == nil
}

// Start begins the periodic ping loop.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			err := m.pinger.Ping(ctx)
			cancel()
			m.SetOnline(err == nil)
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the ping loop.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
