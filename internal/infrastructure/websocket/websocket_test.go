package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/realtime"
	"car-marketplace/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubListings map[string]*domain.Listing

func (s stubListings) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	if l, ok := s[id]; ok {
		return l, nil
	}
	return nil, domain.ErrListingNotFound
}

type stubBids struct{}

func (stubBids) PlaceBid(_ context.Context, listingID, dealerID string, amount float64) (*domain.Bid, error) {
	if amount < 1000 {
		return nil, domain.ErrBidTooLow
	}
	return &domain.Bid{ID: "bid_1", ListingID: listingID, DealerID: dealerID, Amount: amount}, nil
}

type stubHub struct {
	mu     sync.Mutex
	state  realtime.State
	joins  int
	leaves int
}

func (h *stubHub) Join(string) (realtime.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins++
	if h.state == realtime.Failed {
		return h.state, realtime.ErrFailed
	}
	return h.state, nil
}

func (h *stubHub) Leave(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves++
}

func (h *stubHub) Retry(string) (realtime.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = realtime.Connected
	return h.state, nil
}

func (h *stubHub) leaveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaves
}

func newTestServer(t *testing.T, hub *stubHub) (*httptest.Server, *ConnectionManager) {
	t.Helper()
	connManager := NewConnectionManager(logger.NewNop())
	handler := NewWebSocketHandler(stubListings{
		"l1":   {ID: "l1", Status: domain.ListingInAuction},
		"sold": {ID: "sold", Status: domain.ListingSold},
	}, stubBids{}, hub, connManager, logger.NewNop())

	router := mux.NewRouter()
	router.HandleFunc("/ws/listings/{listingID}", handler.HandleConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, connManager
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandlerSessionFlow(t *testing.T) {
	hub := &stubHub{state: realtime.Connected}
	server, connManager := newTestServer(t, hub)

	conn := dial(t, server, "/ws/listings/l1?user_id=dealer-1")

	msg := readMessage(t, conn)
	assert.Equal(t, "connection_state", msg["type"])
	assert.Equal(t, "connected", msg["state"])
	assert.Len(t, connManager.GetConnectionsForListing("l1"), 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "place_bid", "amount": 500}))
	msg = readMessage(t, conn)
	assert.Equal(t, "bid_rejected", msg["type"])
	assert.Equal(t, "insufficient_increment", msg["reason"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "place_bid", "amount": "1500"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "bid_placed", msg["type"])
	assert.Equal(t, 1500.0, msg["amount"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "place_bid", "amount": true}))
	assert.Equal(t, "error", readMessage(t, conn)["type"])

	require.NoError(t, connManager.BroadcastToListing("l1", map[string]string{"type": "bid_update"}))
	assert.Equal(t, "bid_update", readMessage(t, conn)["type"])

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.leaveCount() == 1 && len(connManager.GetConnectionsForListing("l1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerFailedRoomAndRetry(t *testing.T) {
	hub := &stubHub{state: realtime.Failed}
	server, _ := newTestServer(t, hub)

	conn := dial(t, server, "/ws/listings/l1?user_id=dealer-1")

	msg := readMessage(t, conn)
	assert.Equal(t, "connection_failed", msg["type"])
	assert.Equal(t, "could not reconnect, please refresh", msg["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "retry"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "connection_state", msg["type"])
	assert.Equal(t, "connected", msg["state"])
}

func TestHandlerRejectsBeforeUpgrade(t *testing.T) {
	server, _ := newTestServer(t, &stubHub{})
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	tests := []struct {
		path string
		code int
	}{
		{"/ws/listings/l1", 400},
		{"/ws/listings/missing?user_id=u", 404},
		{"/ws/listings/sold?user_id=u", 403},
	}
	for _, tt := range tests {
		_, resp, err := websocket.DefaultDialer.Dial(url+tt.path, nil)
		require.Error(t, err, tt.path)
		require.NotNil(t, resp, tt.path)
		assert.Equal(t, tt.code, resp.StatusCode, tt.path)
		resp.Body.Close()
	}
}

type fakeConn struct {
	userID, listingID string
	mu                sync.Mutex
	sent              []interface{}
	closed            bool
}

func (c *fakeConn) Send(m interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) UserID() string    { return c.userID }
func (c *fakeConn) ListingID() string { return c.listingID }

func TestConnectionManagerIndexes(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	tabA := &fakeConn{userID: "u1", listingID: "l1"}
	tabB := &fakeConn{userID: "u1", listingID: "l1"}
	other := &fakeConn{userID: "u2", listingID: "l2"}

	for _, c := range []*fakeConn{tabA, tabB, other} {
		require.NoError(t, cm.RegisterConnection(c))
	}
	assert.Len(t, cm.GetConnectionsForListing("l1"), 2)

	require.NoError(t, cm.UnregisterConnection(tabA))
	assert.Len(t, cm.GetConnectionsForListing("l1"), 1, "second tab stays registered")

	notifier := NewWebSocketNotifier(cm)
	require.NoError(t, notifier.NotifyUser(context.Background(), "u1", "hello"))
	assert.Equal(t, []interface{}{"hello"}, tabB.sent)
	assert.Empty(t, tabA.sent)

	require.NoError(t, notifier.CloseListing(context.Background(), "l1"))
	assert.True(t, tabB.closed)
	assert.Empty(t, cm.GetConnectionsForListing("l1"))
	assert.Empty(t, cm.GetConnectionsForUser("u1"))
	assert.Len(t, cm.GetConnectionsForUser("u2"), 1)
}
