package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/realtime"
	"car-marketplace/internal/services"
	"car-marketplace/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const bidTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type ListingReader interface {
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)
}

type BidPlacer interface {
	PlaceBid(ctx context.Context, listingID, dealerID string, amount float64) (*domain.Bid, error)
}

// RoomHub owns the live feed subscription of each watched listing.
type RoomHub interface {
	Join(listingID string) (realtime.State, error)
	Leave(listingID string)
	Retry(listingID string) (realtime.State, error)
}

type WebSocketHandler struct {
	listings    ListingReader
	bids        BidPlacer
	hub         RoomHub
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(listings ListingReader, bids BidPlacer, hub RoomHub,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		listings:    listings,
		bids:        bids,
		hub:         hub,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["listingID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	listing, err := h.listings.GetListing(r.Context(), listingID)
	if err != nil {
		if errors.Is(err, domain.ErrListingNotFound) {
			http.Error(w, "listing not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load listing", "listing_id", listingID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if listing.Status == domain.ListingSold || listing.Status == domain.ListingWithdrawn {
		http.Error(w, "listing is closed", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewConnection(conn, userID, listingID)
	if err := h.connManager.RegisterConnection(wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		wsConn.Close()
		return
	}

	h.join(wsConn)
	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) join(conn *Connection) {
	state, err := h.hub.Join(conn.ListingID())
	h.sendState(conn, state, err)
}

func (h *WebSocketHandler) handleMessages(conn *Connection) {
	defer func() {
		h.connManager.UnregisterConnection(conn)
		h.hub.Leave(conn.ListingID())
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Connection read failed", "user_id", conn.UserID(), "error", err)
			}
			return
		}

		msgType, ok := msg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bid":
			h.handleBidMessage(conn, msg)
		case "retry":
			state, err := h.hub.Retry(conn.ListingID())
			h.sendState(conn, state, err)
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		default:
			conn.Send(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *Connection, msg map[string]interface{}) {
	amount, ok := parseAmount(msg["amount"])
	if !ok {
		conn.Send(map[string]string{"type": "error", "message": "invalid amount"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()

	bid, err := h.bids.PlaceBid(ctx, conn.ListingID(), conn.UserID(), amount)
	if err != nil {
		conn.Send(map[string]interface{}{
			"type":   "bid_rejected",
			"reason": rejectionReason(err),
			"amount": amount,
		})
		return
	}

	conn.Send(map[string]interface{}{
		"type":   "bid_placed",
		"bid_id": bid.ID,
		"amount": bid.Amount,
	})
}

func (h *WebSocketHandler) sendState(conn *Connection, state realtime.State, err error) {
	if errors.Is(err, realtime.ErrFailed) || state == realtime.Failed {
		conn.Send(map[string]interface{}{
			"type":       "connection_failed",
			"listing_id": conn.ListingID(),
			"message":    services.ConnectionFailedMessage,
		})
		return
	}
	if err != nil {
		h.log.Error("Room operation failed", "listing_id", conn.ListingID(), "error", err)
		conn.Send(map[string]string{"type": "error", "message": "live updates unavailable"})
		return
	}
	conn.Send(map[string]interface{}{
		"type":       "connection_state",
		"listing_id": conn.ListingID(),
		"state":      state.String(),
	})
}

func parseAmount(v interface{}) (float64, bool) {
	switch amount := v.(type) {
	case float64:
		return amount, true
	case string:
		parsed, err := strconv.ParseFloat(amount, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrBidTooLow):
		return "insufficient_increment"
	case errors.Is(err, domain.ErrAuctionNotActive):
		return "auction_not_active"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal_error"
	}
}
