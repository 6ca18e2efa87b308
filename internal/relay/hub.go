package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket connection tuning.
const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// No authentication at this layer: the relay trusts the local network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubClient is one connected browser listening for broadcasts.
// Clients are receive-only; the read pump exists to detect disconnection.
type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	ip   string
}

// Hub fans broadcast frames out to every connected WebSocket client.
// Delivery is best-effort: a client whose connection is gone or whose send
// buffer is full is dropped from that broadcast without failing the others.
type Hub struct {
	logger  *slog.Logger
	tracker *ConnectionTracker

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates an empty broadcast hub. The tracker caps concurrent
// connections per client IP.
func NewHub(logger *slog.Logger, tracker *ConnectionTracker) *Hub {
	return &Hub{
		logger:  logger,
		tracker: tracker,
		clients: make(map[*hubClient]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals the frame and queues it for every connected client.
// It returns the number of clients the frame was handed to.
func (h *Hub) Broadcast(frame interface{}) int {
	data, err := json.Marshal(frame)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("Failed to marshal broadcast frame", "error", err)
		}
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	notified := 0
	for client := range h.clients {
		select {
		case client.send <- data:
			notified++
		default:
			// Client too slow, skip
		}
	}
	return notified
}

// CloseAll closes every client connection, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
// The connection confirmation frame is sent immediately after the upgrade.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if h.tracker != nil && !h.tracker.TryAdd(ip) {
		if h.logger != nil {
			h.logger.Warn("WebSocket rejected: too many connections", "remote", r.RemoteAddr)
		}
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.tracker != nil {
			h.tracker.Remove(ip)
		}
		if h.logger != nil {
			h.logger.Error("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		}
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		ip:   ip,
	}

	h.register(client)
	if h.logger != nil {
		h.logger.Info("WebSocket client connected", "remote", r.RemoteAddr, "clients", h.ClientCount())
	}

	go client.writePump()
	go client.readPump()

	client.enqueue(NewConnectionFrame())
}

// enqueue marshals and queues a frame for this client only.
func (c *hubClient) enqueue(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		if c.hub.tracker != nil {
			c.hub.tracker.Remove(c.ip)
		}
		close(c.done)
		c.conn.Close()
		if c.hub.logger != nil {
			c.hub.logger.Info("WebSocket client disconnected", "clients", c.hub.ClientCount())
		}
	}()

	// Clients never send frames as part of the contract; reading only
	// detects disconnection.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
