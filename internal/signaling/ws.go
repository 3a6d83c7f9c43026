package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	inboundBufSize = 64
)

// Compile-time interface check.
var _ Conn = (*WSConn)(nil)

// WSConn is a Conn over a WebSocket to the signaling relay. Each frame
// carries one JSON-encoded message.
type WSConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex // serializes writes
	inbound chan protocol.Message
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the relay at rawURL, registering as id in room. The
// query parameters are added to whatever rawURL already carries, e.g.:
//
//	wss://relay.example.org/ws?id=alice&room=lobby
func Dial(ctx context.Context, rawURL, id, room string) (*WSConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set("id", id)
	if room != "" {
		q.Set("room", room)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return NewWSConn(conn), nil
}

// NewWSConn wraps an established WebSocket and starts its reader.
func NewWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
		conn:    conn,
		inbound: make(chan protocol.Message, inboundBufSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop decodes frames until the socket fails. Malformed messages are
// dropped without closing the connection.
func (c *WSConn) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				util.LogDebug("relay connection closed: %v", err)
			}
			return
		}

		m, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("dropping message from relay: %v", err)
			continue
		}

		select {
		case c.inbound <- m:
		case <-c.done:
			return
		}
	}
}

// Send encodes m and writes it as one text frame.
func (c *WSConn) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Inbound returns the decoded message stream.
func (c *WSConn) Inbound() <-chan protocol.Message {
	return c.inbound
}

// Close sends a close frame and tears the socket down. Safe to call multiple
// times.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
