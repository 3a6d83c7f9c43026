package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 64 // outgoing frame channel capacity per client
)

// client is one registered participant. All writes go through writeLoop.
type client struct {
	id     string
	room   string
	connID string
	conn   *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, id, room string) *client {
	return &client{
		id:     id,
		room:   room,
		connID: uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. A client that cannot keep up
// loses the frame.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		util.Stats.AddDropped()
		util.LogWarning("send buffer full for %s, dropping message", c.id)
	}
}

// readLoop hands every text frame to handle until the socket fails.
func (c *client) readLoop(limit int64, handle func([]byte)) {
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("read from %s: %v", c.id, err)
			}
			return
		}
		util.Stats.AddIn(len(data))
		if kind != websocket.TextMessage {
			util.Stats.AddDropped()
			continue
		}
		handle(data)
	}
}

// writeLoop is the single writer for the socket. It also keeps the
// connection alive with pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogDebug("write to %s: %v", c.id, err)
				c.conn.Close()
				return
			}
			util.Stats.AddOut(len(data))
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close sends a close frame and releases the socket. Safe to call multiple
// times.
func (c *client) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.conn.Close()
	})
}
