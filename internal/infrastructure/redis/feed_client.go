package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// FeedClient subscribes to listing topics over Redis pub/sub. Every
// Subscribe opens its own PubSub connection so that one dropped topic
// never takes the others with it.
type FeedClient struct {
	client *redis.Client
	log    logger.Logger
}

func NewFeedClient(client *redis.Client, log logger.Logger) *FeedClient {
	return &FeedClient{
		client: client,
		log:    log,
	}
}

type subscription struct {
	topic   string
	pubsub  *redis.PubSub
	handler domain.ChangeHandler
	onClose func(error)

	unsubscribed atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
}

func (s *subscription) Topic() string {
	return s.topic
}

func (r *FeedClient) Subscribe(ctx context.Context, topic string, handler domain.ChangeHandler, onClose func(error)) (domain.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topic)

	// Wait for the server to confirm before reporting success.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &subscription{
		topic:   topic,
		pubsub:  pubsub,
		handler: handler,
		onClose: onClose,
		done:    make(chan struct{}),
	}
	go r.receive(ctx, sub)

	r.log.Debug("Subscribed to feed topic", "topic", topic)
	return sub, nil
}

func (r *FeedClient) Unsubscribe(ctx context.Context, handle domain.Subscription) error {
	sub, ok := handle.(*subscription)
	if !ok {
		return fmt.Errorf("unsubscribe: foreign subscription handle %T", handle)
	}
	if sub.unsubscribed.Swap(true) {
		return nil
	}

	err := sub.pubsub.Close()

	select {
	case <-sub.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Debug("Unsubscribed from feed topic", "topic", sub.topic)
	return err
}

func (r *FeedClient) receive(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if sub.unsubscribed.Load() || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("Feed subscription lost", "topic", sub.topic, "error", err)
			sub.closeOnce.Do(func() {
				if sub.onClose != nil {
					sub.onClose(err)
				}
			})
			return
		}

		var event domain.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.log.Error("Failed to parse event", "topic", sub.topic, "payload", msg.Payload, "error", err)
			continue
		}
		if event.Topic == "" {
			event.Topic = msg.Channel
		}
		if sub.handler != nil {
			sub.handler(&event)
		}
	}
}
