package stub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the room broadcast payload
type Message struct {
	Content  string `json:"content"`
	Username string `json:"username"`
	RoomID   int32  `json:"roomId"`
}

// Connection wraps one joined member socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every write
// goes through writeCh to the single writer goroutine
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	username  string
	roomID    int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn for username in roomID and starts its writer
func NewConnection(conn *websocket.Conn, username string, roomID int32) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:     conn,
		writeCh:  make(chan []byte, 100),
		username: username,
		roomID:   roomID,
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Connection) Username() string { return c.username }

func (c *Connection) RoomID() int32 { return c.roomID }

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer, waiting at most 5 seconds for buffer space
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithReason sends a close frame and then closes the socket
func (c *Connection) CloseWithReason(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.Close()
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
