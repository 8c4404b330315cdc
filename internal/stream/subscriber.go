package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"martstock-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// Subscriber listens on the Redis change channel and forwards events in
// arrival order. It never reorders or coalesces; the engine's apply loop is
// the single consumer. Missed events during an outage are unrecoverable from
// the channel itself, which is why the engine performs a full reload on every
// offline-to-online transition.
type Subscriber struct {
	client  *redis.Client
	channel string
	monitor *Monitor

	events   chan model.ChangeEvent
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSubscriber creates a subscriber feeding a buffered event queue.
func NewSubscriber(client *redis.Client, channel string, monitor *Monitor, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Subscriber{
		client:  client,
		channel: channel,
		monitor: monitor,
		events:  make(chan model.ChangeEvent, queueSize),
		stopCh:  make(chan struct{}),
	}
}

// Events returns the ordered queue of incoming change events.
func (s *Subscriber) Events() <-chan model.ChangeEvent {
	return s.events
}

// Start begins receiving in a background goroutine.
func (s *Subscriber) Start() {
	go s.run()
}

func (s *Subscriber) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-s.stopCh
		cancel()
	}()

	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	log.Printf("[Subscriber] Listening on channel %s", s.channel)

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}

			// Connection trouble: flag offline and keep trying. The pubsub
			// reattaches transparently, but anything published meanwhile is
			// gone, so the engine must reload before trusting the stream again.
			s.monitor.SetOnline(false)
			time.Sleep(time.Second)
			continue
		}

		s.monitor.SetOnline(true)

		var event model.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Printf("[Subscriber] Dropping malformed event: %v", err)
			continue
		}

		select {
		case s.events <- event:
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the subscriber.
func (s *Subscriber) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}
