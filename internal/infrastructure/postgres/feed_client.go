// Package postgres carries listing change events over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxIdentifierLen is NAMEDATALEN - 1.
const maxIdentifierLen = 63

const releaseTimeout = 3 * time.Second

// ChannelName maps a topic to a NOTIFY channel: lower case, anything other
// than letters, digits and '_' replaced by '_'. A topic that is not already
// a valid channel gets a hash of the original appended, so two topics never
// share a channel ("listing:a-b" and "listing:a_b").
func ChannelName(topic string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(topic) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	if name == topic && len(name) <= maxIdentifierLen {
		return name
	}

	suffix := fmt.Sprintf("_%016x", xxhash.Sum64String(topic))
	if keep := maxIdentifierLen - len(suffix); len(name) > keep {
		name = name[:keep]
	}
	return name + suffix
}

// FeedClient holds one pooled connection per subscription, blocked in
// WaitForNotification.
type FeedClient struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

func NewFeedClient(pool *pgxpool.Pool, log logger.Logger) *FeedClient {
	return &FeedClient{
		pool: pool,
		log:  log,
	}
}

type subscription struct {
	topic   string
	channel string
	conn    *pgxpool.Conn
	cancel  context.CancelFunc

	unsubscribed atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
}

func (s *subscription) Topic() string {
	return s.topic
}

func (c *FeedClient) Subscribe(ctx context.Context, topic string, handler domain.ChangeHandler, onClose func(error)) (domain.Subscription, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	channel := ChannelName(topic)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		topic:   topic,
		channel: channel,
		conn:    conn,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.receive(readCtx, sub, handler, onClose)

	c.log.Debug("Listening on channel", "topic", topic, "channel", channel)
	return sub, nil
}

func (c *FeedClient) Unsubscribe(ctx context.Context, handle domain.Subscription) error {
	sub, ok := handle.(*subscription)
	if !ok {
		return fmt.Errorf("unsubscribe: foreign subscription handle %T", handle)
	}
	if sub.unsubscribed.Swap(true) {
		return nil
	}

	sub.cancel()
	select {
	case <-sub.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// A cancelled wait leaves the connection closed; the pool discards it.
	var err error
	if !sub.conn.Conn().IsClosed() {
		unlistenCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
		_, err = sub.conn.Exec(unlistenCtx, "UNLISTEN "+pgx.Identifier{sub.channel}.Sanitize())
		cancel()
	}
	sub.conn.Release()

	c.log.Debug("Stopped listening on channel", "topic", sub.topic, "channel", sub.channel)
	return err
}

func (c *FeedClient) receive(ctx context.Context, sub *subscription, handler domain.ChangeHandler, onClose func(error)) {
	defer close(sub.done)

	for {
		notification, err := sub.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if sub.unsubscribed.Load() || errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			c.log.Warn("Listen connection lost", "channel", sub.channel, "error", err)
			sub.closeOnce.Do(func() {
				if onClose != nil {
					onClose(err)
				}
			})
			return
		}

		event, err := decodeEvent(notification.Payload)
		if err != nil {
			c.log.Error("Failed to parse event", "channel", sub.channel, "payload", notification.Payload, "error", err)
			continue
		}
		if event.Topic == "" {
			event.Topic = sub.topic
		}
		if handler != nil {
			handler(event)
		}
	}
}
