// Package relay implements the signaling relay: a WebSocket server that
// routes call messages between participants by id and pushes the ICE server
// list to every client.
package relay

import (
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

// Options configures a Server.
type Options struct {
	// ICEServers is pushed to every client when it connects.
	ICEServers []protocol.ICEServer

	// MaxMessageSize bounds a single inbound frame. Zero selects 64 KiB.
	MaxMessageSize int64
}

const defaultMaxMessageSize = 64 * 1024

// Server is the signaling relay. Clients register at /ws?id=<id>&room=<room>;
// /healthz reports liveness.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*client // route table: participant id → connection
	servers  []protocol.ICEServer
	listener net.Listener
}

// NewServer creates a relay. Nothing listens until Start, or until Handler
// is mounted elsewhere.
func NewServer(opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		servers: slices.Clone(opts.ICEServers),
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", s.Online())
	})
	return mux
}

// Start begins listening on addr. Returns the bound address, which matters
// when addr asks for a random port.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		_ = http.Serve(listener, s.Handler())
	}()

	return listener.Addr(), nil
}

// Close stops listening and disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	listener := s.listener
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "relay shutting down")
	}
}

// Online returns the number of registered clients.
func (s *Server) Online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PushICEServers replaces the ICE server list and sends it to every
// connected client.
func (s *Server) PushICEServers(servers []protocol.ICEServer) error {
	data, err := protocol.Encode(protocol.ICEServers{Servers: servers})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.servers = slices.Clone(servers)
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.enqueue(data)
	}
	util.LogInfo("pushed %d ICE servers to %d clients", len(servers), len(clients))
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	room := r.URL.Query().Get("room")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if s.lookup(id) != nil {
		http.Error(w, "id already connected", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn, id, room)
	if !s.register(c) {
		// Lost a race with another connection for the same id.
		c.close(websocket.ClosePolicyViolation, "id already connected")
		return
	}
	util.Stats.AddConn()
	util.LogInfo("client %s joined room %q (conn %s)", id, room, c.connID)

	go c.writeLoop()

	if data := s.iceServersMessage(); data != nil {
		c.enqueue(data)
	}

	c.readLoop(s.opts.MaxMessageSize, func(data []byte) { s.route(c, data) })

	s.unregister(c)
	c.close(websocket.CloseNormalClosure, "")
	util.Stats.RemoveConn()
	util.LogInfo("client %s left (conn %s)", id, c.connID)
}

func (s *Server) iceServersMessage() []byte {
	s.mu.Lock()
	servers := s.servers
	s.mu.Unlock()
	if servers == nil {
		return nil
	}
	data, err := protocol.Encode(protocol.ICEServers{Servers: servers})
	if err != nil {
		util.LogError("encoding ICE servers: %v", err)
		return nil
	}
	return data
}

// ---------------------------------------------------------------------------
// Route table
// ---------------------------------------------------------------------------

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.clients[c.id]; taken {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
}

func (s *Server) lookup(id string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

func (s *Server) roomMembers(room, except string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client
	for id, c := range s.clients {
		if id != except && c.room == room {
			out = append(out, c)
		}
	}
	return out
}

// route validates one inbound frame from c and forwards it. The sender's
// registered id replaces whatever From the client claimed.
func (s *Server) route(c *client, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddDropped()
		util.LogWarning("dropping message from %s: %v", c.id, err)
		return
	}
	if m.Kind() == protocol.TypeICEServers {
		util.Stats.AddDropped()
		util.LogWarning("dropping ice-servers sent by client %s", c.id)
		return
	}

	h := m.Route()
	h.From = c.id
	out, err := protocol.Encode(protocol.WithRoute(m, h))
	if err != nil {
		util.Stats.AddDropped()
		util.LogWarning("re-encoding message from %s: %v", c.id, err)
		return
	}

	if h.To == "" {
		members := s.roomMembers(c.room, c.id)
		for _, peer := range members {
			peer.enqueue(out)
		}
		if len(members) > 0 {
			util.Stats.AddRouted()
		}
		util.LogDebug("%s from %s broadcast to %d in room %q", m.Kind(), c.id, len(members), c.room)
		return
	}

	target := s.lookup(h.To)
	if target == nil {
		util.Stats.AddDropped()
		util.LogDebug("%s from %s: %s is offline", m.Kind(), c.id, h.To)
		if m.Kind() != protocol.TypeCallError {
			s.replyOffline(c, h)
		}
		return
	}
	target.enqueue(out)
	util.Stats.AddRouted()
	util.LogDebug("%s %s → %s (session %s)", m.Kind(), c.id, h.To, h.SessionID)
}

// replyOffline tells the sender its target is not connected.
func (s *Server) replyOffline(c *client, h protocol.Header) {
	if h.SessionID == "" {
		return
	}
	data, err := protocol.Encode(protocol.CallError{
		Header: protocol.Header{SessionID: h.SessionID, From: h.To, To: c.id},
		Error:  "peer offline",
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
