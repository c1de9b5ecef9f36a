package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"car-marketplace/internal/domain"

	"github.com/go-redis/redis/v8"
)

type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (r *EventPublisher) Publish(ctx context.Context, event *domain.ChangeEvent) error {
	if event.Topic == "" {
		event.Topic = domain.ListingTopic(event.ListingID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	return r.client.Publish(ctx, event.Topic, data).Err()
}
