package websocket

import (
	"sync"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"
)

type connSet map[domain.WebSocketConnection]struct{}

type ConnectionManager struct {
	connections map[string]connSet // listingID -> connections
	userConns   map[string]connSet // userID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]connSet),
		userConns:   make(map[string]connSet),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	add(cm.connections, conn.ListingID(), conn)
	add(cm.userConns, conn.UserID(), conn)

	cm.log.Info("Connection registered", "user_id", conn.UserID(), "listing_id", conn.ListingID())
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	remove(cm.connections, conn.ListingID(), conn)
	remove(cm.userConns, conn.UserID(), conn)

	cm.log.Info("Connection unregistered", "user_id", conn.UserID(), "listing_id", conn.ListingID())
	return nil
}

func (cm *ConnectionManager) CloseAndUnregisterConnections(listingID string) error {
	cm.mutex.Lock()
	conns := cm.connections[listingID]
	delete(cm.connections, listingID)
	for conn := range conns {
		remove(cm.userConns, conn.UserID(), conn)
	}
	cm.mutex.Unlock()

	for conn := range conns {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "user_id", conn.UserID(),
				"listing_id", listingID, "error", err)
		}
	}

	cm.log.Info("Connections closed for listing", "listing_id", listingID, "count", len(conns))
	return nil
}

func (cm *ConnectionManager) GetConnectionsForListing(listingID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return list(cm.connections[listingID])
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return list(cm.userConns[userID])
}

func (cm *ConnectionManager) BroadcastToListing(listingID string, message interface{}) error {
	connections := cm.GetConnectionsForListing(listingID)
	cm.log.Debug("Broadcasting to listing", "listing_id", listingID, "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(),
				"listing_id", listingID, "error", err)
			// Continue to other connections
		}
	}

	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	for _, conn := range cm.GetConnectionsForUser(userID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}

	return nil
}

func add(index map[string]connSet, key string, conn domain.WebSocketConnection) {
	if index[key] == nil {
		index[key] = make(connSet)
	}
	index[key][conn] = struct{}{}
}

func remove(index map[string]connSet, key string, conn domain.WebSocketConnection) {
	if set, exists := index[key]; exists {
		delete(set, conn)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func list(set connSet) []domain.WebSocketConnection {
	connections := make([]domain.WebSocketConnection, 0, len(set))
	for conn := range set {
		connections = append(connections, conn)
	}
	return connections
}
