package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"martstock-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// Publisher broadcasts row-level change events on the Redis change channel.
// Every confirmed store write is published so that all running engine
// instances converge on the same cache state.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher creates a publisher on the given channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Publish sends one change event. A publish failure does not undo the store
// write it describes; subscribers recover via their next full reload.
func (p *Publisher) Publish(ctx context.Context, event model.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize change event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// NewEvent builds a ChangeEvent carrying the full row.
func NewEvent(table, op string, row interface{}) (model.ChangeEvent, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to serialize row: %w", err)
	}
	return model.ChangeEvent{Table: table, Op: op, Row: raw}, nil
}
