package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"car-marketplace/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxPayloadLen is the default NOTIFY payload limit.
const maxPayloadLen = 8000

type EventPublisher struct {
	pool *pgxpool.Pool
}

func NewEventPublisher(pool *pgxpool.Pool) *EventPublisher {
	return &EventPublisher{pool: pool}
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.ChangeEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelName(event.Topic), payload)
	return err
}

func encodeEvent(event *domain.ChangeEvent) (string, error) {
	if event.Topic == "" {
		event.Topic = domain.ListingTopic(event.ListingID)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if len(data) >= maxPayloadLen {
		return "", fmt.Errorf("encode %s event: payload of %d bytes exceeds notify limit", event.Type, len(data))
	}
	return string(data), nil
}

func decodeEvent(payload string) (*domain.ChangeEvent, error) {
	var event domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
