package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Connection serializes writes to one gorilla connection.
type Connection struct {
	conn      *websocket.Conn
	userID    string
	listingID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConnection(conn *websocket.Conn, userID, listingID string) *Connection {
	return &Connection{
		conn:      conn,
		userID:    userID,
		listingID: listingID,
	}
}

func (c *Connection) Send(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(message)
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Connection) ReadJSON(v interface{}) error {
	return c.conn.ReadJSON(v)
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) ListingID() string {
	return c.listingID
}
