package handlers

import (
	"net/http"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/infrastructure/websocket"
	"car-marketplace/pkg/logger"

	"github.com/gorilla/mux"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(listings websocket.ListingReader, bids websocket.BidPlacer, hub websocket.RoomHub,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(listings, bids, hub, connManager, log),
	}
}

func (h *WebSocketHandlers) Register(router *mux.Router) {
	router.HandleFunc("/ws/listings/{listingID}", h.HandleConnection).Methods(http.MethodGet)
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
