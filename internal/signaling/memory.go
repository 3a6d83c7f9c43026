package signaling

import (
	"fmt"
	"slices"
	"sync"

	"github.com/1ureka/peercall/internal/protocol"
)

// Compile-time interface check.
var _ Conn = (*MemoryConn)(nil)

// MemoryHub is an in-process signaling network. It routes the way the relay
// does: by participant id, with an empty To broadcasting to everyone else,
// From overwritten with the sender's id and call-error "peer offline" for
// unknown targets. Messages go through the wire codec so that anything a
// real transport would reject is rejected here too.
type MemoryHub struct {
	mu      sync.Mutex
	conns   map[string]*MemoryConn
	servers []protocol.ICEServer
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{conns: make(map[string]*MemoryConn)}
}

// Join registers id and returns its connection. If ICE servers were pushed
// earlier the new connection receives them first.
func (h *MemoryHub) Join(id string) (*MemoryConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id == "" {
		return nil, fmt.Errorf("memory hub: empty participant id")
	}
	if _, taken := h.conns[id]; taken {
		return nil, fmt.Errorf("memory hub: participant %q already connected", id)
	}

	c := &MemoryConn{
		hub:     h,
		id:      id,
		inbound: make(chan protocol.Message),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	h.conns[id] = c
	go c.pump()

	if h.servers != nil {
		c.deliver(protocol.ICEServers{Servers: slices.Clone(h.servers)})
	}
	return c, nil
}

// PushICEServers sends servers to every connected participant and to those
// joining later.
func (h *MemoryHub) PushICEServers(servers []protocol.ICEServer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.servers = slices.Clone(servers)
	for _, c := range h.conns {
		c.deliver(protocol.ICEServers{Servers: slices.Clone(servers)})
	}
}

func (h *MemoryHub) route(from string, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	decoded, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	hdr := decoded.Route()
	hdr.From = from
	decoded = protocol.WithRoute(decoded, hdr)

	if hdr.To == "" {
		for id, c := range h.conns {
			if id != from {
				c.deliver(decoded)
			}
		}
		return nil
	}

	target, ok := h.conns[hdr.To]
	if !ok {
		if sender, ok := h.conns[from]; ok && hdr.SessionID != "" {
			sender.deliver(protocol.CallError{
				Header: protocol.Header{SessionID: hdr.SessionID, From: hdr.To, To: from},
				Error:  "peer offline",
			})
		}
		return nil
	}
	target.deliver(decoded)
	return nil
}

func (h *MemoryHub) leave(c *MemoryConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
}

// MemoryConn is one participant's connection to a MemoryHub. Delivery never
// blocks the sender; messages queue until the owner reads them.
type MemoryConn struct {
	hub *MemoryHub
	id  string

	mu      sync.Mutex
	queue   []protocol.Message
	notify  chan struct{}
	inbound chan protocol.Message
	done    chan struct{}
	once    sync.Once
}

// ID returns the participant id the connection registered with.
func (c *MemoryConn) ID() string { return c.id }

func (c *MemoryConn) Send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	return c.hub.route(c.id, m)
}

func (c *MemoryConn) Inbound() <-chan protocol.Message {
	return c.inbound
}

// Close leaves the hub. Safe to call multiple times.
func (c *MemoryConn) Close() error {
	c.once.Do(func() {
		c.hub.leave(c)
		close(c.done)
	})
	return nil
}

func (c *MemoryConn) deliver(m protocol.Message) {
	c.mu.Lock()
	c.queue = append(c.queue, m)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pump moves queued messages to the inbound channel in order.
func (c *MemoryConn) pump() {
	defer close(c.inbound)
	for {
		c.mu.Lock()
		var next protocol.Message
		if len(c.queue) > 0 {
			next = c.queue[0]
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()

		if next == nil {
			select {
			case <-c.notify:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.inbound <- next:
		case <-c.done:
			return
		}
	}
}
