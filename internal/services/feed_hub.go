package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/observability"
	"car-marketplace/internal/realtime"
	"car-marketplace/pkg/logger"
)

const ConnectionFailedMessage = "could not reconnect, please refresh"

var ErrRoomNotFound = errors.New("no live room for listing")

// FeedHubConfig is the retry policy applied to every room's subscription.
type FeedHubConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// FeedHub keeps one realtime.Manager per listing with live watchers and
// fans the feed out to them.
type FeedHub struct {
	feed        domain.FeedClient
	broadcaster domain.ListingBroadcaster
	cfg         FeedHubConfig
	opts        []realtime.Option
	metrics     *observability.Metrics
	log         logger.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	manager  *realtime.Manager
	watchers int
	stop     func()
}

// NewFeedHub builds a hub. opts are passed to every Manager it creates.
func NewFeedHub(feed domain.FeedClient, broadcaster domain.ListingBroadcaster, cfg FeedHubConfig,
	metrics *observability.Metrics, log logger.Logger, opts ...realtime.Option) *FeedHub {
	return &FeedHub{
		feed:        feed,
		broadcaster: broadcaster,
		cfg:         cfg,
		opts:        opts,
		metrics:     metrics,
		log:         log,
		rooms:       make(map[string]*room),
	}
}

// Join adds a watcher to the listing's room, opening the subscription for
// the first one. It returns the room's connection state after the attempt.
func (h *FeedHub) Join(listingID string) (realtime.State, error) {
	h.mu.Lock()
	r, exists := h.rooms[listingID]
	if !exists {
		var err error
		r, err = h.newRoom(listingID)
		if err != nil {
			h.mu.Unlock()
			return realtime.Disconnected, err
		}
		h.rooms[listingID] = r
		h.updateRoomGauge()
	}
	r.watchers++
	h.mu.Unlock()

	// The session outlives the request that opened it; Leave and Close end it.
	if err := r.manager.Connect(context.Background()); err != nil {
		return r.manager.State(), err
	}
	return r.manager.State(), nil
}

// Leave removes a watcher; the last one out closes the subscription.
func (h *FeedHub) Leave(listingID string) {
	h.mu.Lock()
	r, exists := h.rooms[listingID]
	if !exists {
		h.mu.Unlock()
		return
	}
	r.watchers--
	if r.watchers > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, listingID)
	h.updateRoomGauge()
	h.mu.Unlock()

	h.closeRoom(listingID, r)
}

// Retry is the manual retry of a failed room.
func (h *FeedHub) Retry(listingID string) (realtime.State, error) {
	h.mu.Lock()
	r, exists := h.rooms[listingID]
	h.mu.Unlock()
	if !exists {
		return realtime.Disconnected, ErrRoomNotFound
	}

	if r.manager.State() == realtime.Failed {
		if err := r.manager.Reset(); err != nil && !errors.Is(err, realtime.ErrNotFailed) {
			return r.manager.State(), err
		}
	}
	if err := r.manager.Connect(context.Background()); err != nil {
		return r.manager.State(), err
	}
	return r.manager.State(), nil
}

// State reports the subscription state of a listing's room.
func (h *FeedHub) State(listingID string) (realtime.State, bool) {
	h.mu.Lock()
	r, exists := h.rooms[listingID]
	h.mu.Unlock()
	if !exists {
		return realtime.Disconnected, false
	}
	return r.manager.State(), true
}

// Close tears down every room.
func (h *FeedHub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.updateRoomGauge()
	h.mu.Unlock()

	for listingID, r := range rooms {
		h.closeRoom(listingID, r)
	}
}

func (h *FeedHub) newRoom(listingID string) (*room, error) {
	opts := append([]realtime.Option{
		realtime.WithLogger(h.log),
		realtime.WithFailureNotifier(h),
	}, h.opts...)

	manager, err := realtime.NewManager(h.feed, h.forward(listingID), realtime.Config{
		Topic:       domain.ListingTopic(listingID),
		MaxAttempts: h.cfg.MaxAttempts,
		BackoffBase: h.cfg.BackoffBase,
		MaxBackoff:  h.cfg.MaxBackoff,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", listingID, err)
	}

	stop := manager.OnStateChange(func(change realtime.StateChange) {
		h.broadcast(listingID, ConnectionStateMessage(listingID, change))
	})
	return &room{manager: manager, stop: stop}, nil
}

func (h *FeedHub) closeRoom(listingID string, r *room) {
	r.stop()
	if err := r.manager.Disconnect(); err != nil {
		h.log.Warn("Room disconnect failed", "listing_id", listingID, "error", err)
	}
	h.log.Info("Room closed", "listing_id", listingID)
}

func (h *FeedHub) updateRoomGauge() {
	if h.metrics != nil {
		h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
}

// NotifyConnectionFailed implements realtime.FailureNotifier.
func (h *FeedHub) NotifyConnectionFailed(topic string, attempts int, lastErr error) {
	listingID := listingFromTopic(topic)
	h.log.Error("Live updates lost for listing", "listing_id", listingID, "attempts", attempts, "error", lastErr)
	h.broadcast(listingID, map[string]interface{}{
		"type":       "connection_failed",
		"listing_id": listingID,
		"attempts":   attempts,
		"message":    ConnectionFailedMessage,
	})
}

func (h *FeedHub) forward(listingID string) domain.ChangeHandler {
	return func(event *domain.ChangeEvent) {
		switch event.Type {
		case domain.BidAccepted:
			var p domain.BidAcceptedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				h.log.Error("Malformed bid event", "listing_id", listingID, "error", err)
				return
			}
			h.broadcast(listingID, map[string]interface{}{
				"type":        "bid_update",
				"listing_id":  listingID,
				"bid_id":      p.BidID,
				"current_bid": p.Amount,
				"dealer_id":   p.DealerID,
				"timestamp":   event.Timestamp,
			})

		case domain.StatusChanged:
			var p domain.StatusChangedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				h.log.Error("Malformed status event", "listing_id", listingID, "error", err)
				return
			}
			h.broadcast(listingID, map[string]interface{}{
				"type":       "status_changed",
				"listing_id": listingID,
				"from":       p.From,
				"status":     p.To,
				"timestamp":  event.Timestamp,
			})
			if p.To == domain.ListingSold || p.To == domain.ListingWithdrawn {
				if err := h.broadcaster.CloseListing(context.Background(), listingID); err != nil {
					h.log.Error("Failed to close listing connections", "listing_id", listingID, "error", err)
				}
			}

		case domain.PriceChanged:
			var p domain.PriceChangedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				h.log.Error("Malformed price event", "listing_id", listingID, "error", err)
				return
			}
			h.broadcast(listingID, map[string]interface{}{
				"type":       "price_changed",
				"listing_id": listingID,
				"price":      p.Price,
				"timestamp":  event.Timestamp,
			})

		default:
			h.log.Warn("Unknown event type", "listing_id", listingID, "type", event.Type)
		}
	}
}

func (h *FeedHub) broadcast(listingID string, message interface{}) {
	if err := h.broadcaster.BroadcastToListing(context.Background(), listingID, message); err != nil {
		h.log.Error("Broadcast failed", "listing_id", listingID, "error", err)
	}
}

// ConnectionStateMessage is the watcher-facing form of a state change.
func ConnectionStateMessage(listingID string, change realtime.StateChange) map[string]interface{} {
	msg := map[string]interface{}{
		"type":       "connection_state",
		"listing_id": listingID,
		"state":      change.To.String(),
	}
	if change.To == realtime.Reconnecting {
		msg["attempt"] = change.Attempt
		msg["retry_in_ms"] = change.Delay.Milliseconds()
	}
	return msg
}

func listingFromTopic(topic string) string {
	return strings.TrimPrefix(topic, domain.ListingTopic(""))
}
