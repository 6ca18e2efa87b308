// Package relay implements the webhook-to-WebSocket relay: it accepts
// one-shot completion callbacks from the code-generation job runner over
// HTTP and fans them out to connected browser clients over WebSocket.
//
// Delivery is best-effort, last-value-wins. There is no durable queue and no
// replay: a client that is offline at broadcast time misses that event, and
// only the most recent payload per session stays retrievable (for a bounded
// time) through the diagnostic latest endpoint.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds the relay server configuration.
type Config struct {
	// APIPrefix is the URL prefix for HTTP endpoints (default "/api").
	APIPrefix string
	// HTTPPort and WebSocketPort are reported by the health endpoint.
	HTTPPort      int
	WebSocketPort int
	// CacheTTL bounds how long a stored payload stays retrievable.
	CacheTTL time.Duration
	// SweepInterval is how often expired payloads are purged.
	SweepInterval time.Duration
	// RateLimit bounds webhook ingress per client IP. Zero fields use the
	// defaults from DefaultRateLimitConfig.
	RateLimit RateLimitConfig
	// MaxConnectionsPerIP caps concurrent WebSocket connections per client
	// IP (default 10).
	MaxConnectionsPerIP int
	// Logger receives relay events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Server is the relay server: an HTTP API for the job runner plus a
// WebSocket hub for browsers, on separate ports.
type Server struct {
	config    Config
	logger    *slog.Logger
	hub       *Hub
	cache     *Cache
	limiter   *RateLimiter
	startedAt time.Time

	httpServer *http.Server
	wsServer   *http.Server

	mu       sync.Mutex
	shutdown bool
}

// NewServer creates a relay server. It does not start listening; use Serve
// or the Handler accessors.
func NewServer(config Config) *Server {
	if config.APIPrefix == "" {
		config.APIPrefix = "/api"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if config.MaxConnectionsPerIP <= 0 {
		config.MaxConnectionsPerIP = 10
	}

	s := &Server{
		config:    config,
		logger:    config.Logger,
		hub:       NewHub(config.Logger, NewConnectionTracker(config.MaxConnectionsPerIP)),
		cache:     NewCache(config.CacheTTL),
		limiter:   NewRateLimiter(config.RateLimit),
		startedAt: time.Now(),
	}
	s.cache.StartSweeper(config.SweepInterval)

	mux := http.NewServeMux()
	mux.HandleFunc(config.APIPrefix+"/health", s.handleHealth)
	// The health probe stays unlimited; clients poll it before submitting.
	mux.Handle(config.APIPrefix+"/sessions/", s.limiter.Middleware(http.HandlerFunc(s.handleSessionRoutes)))
	s.httpServer = &http.Server{Handler: mux}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", s.hub.HandleWebSocket)
	wsMux.HandleFunc("/", s.hub.HandleWebSocket)
	s.wsServer = &http.Server{Handler: wsMux}

	return s
}

// Handler returns the HTTP API handler (webhook ingress and diagnostics).
// Useful for testing with httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// WebSocketHandler returns the broadcast WebSocket handler.
func (s *Server) WebSocketHandler() http.Handler {
	return s.wsServer.Handler
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve runs the HTTP API and the WebSocket hub on the given listeners,
// blocking until both stop. The first non-shutdown error wins.
func (s *Server) Serve(httpLn, wsLn net.Listener) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.httpServer.Serve(httpLn) }()
	go func() { errCh <- s.wsServer.Serve(wsLn) }()

	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) || s.IsShutdown() {
		return nil
	}
	return err
}

// Shutdown closes all WebSocket connections, then the HTTP servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.hub.CloseAll()
	s.cache.Close()
	s.limiter.Close()

	wsErr := s.wsServer.Shutdown(ctx)
	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		return httpErr
	}
	return wsErr
}

// IsShutdown returns whether Shutdown has been called.
func (s *Server) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// handleHealth handles GET {prefix}/health. Always 200 while serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	writeJSONOK(w, map[string]interface{}{
		"success":          true,
		"message":          "relay server running",
		"httpPort":         s.config.HTTPPort,
		"websocketPort":    s.config.WebSocketPort,
		"uptime":           time.Since(s.startedAt).Seconds(),
		"connectedClients": s.hub.ClientCount(),
		"activeWebhooks":   s.cache.Len(),
	})
}

// handleSessionRoutes dispatches {prefix}/sessions/{id}/... paths:
//
//	POST {prefix}/sessions/{id}/webhook/generation-complete
//	POST {prefix}/sessions/{id}/webhook/progress
//	GET  {prefix}/sessions/{id}/latest
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, s.config.APIPrefix+"/sessions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 3 && parts[1] == "webhook" && parts[2] == "generation-complete":
		s.handleGenerationComplete(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "webhook" && parts[2] == "progress":
		s.handleProgress(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "latest":
		s.handleLatest(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

// handleGenerationComplete accepts a completion callback, stores it and
// broadcasts it. The response succeeds whenever the payload was structurally
// acceptable, no matter how many clients (if any) were listening.
//
// The relay deliberately accepts payloads for session ids it has never seen:
// it stays stateless with respect to the session store.
func (s *Server) handleGenerationComplete(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	payload, err := ParseWebhookPayload(sessionID, body)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("Rejected malformed webhook payload",
				"session_id", sessionID, "error", err)
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	s.cache.Put(payload)
	notified := s.hub.Broadcast(payload.Frame())

	if s.logger != nil {
		s.logger.Info("Webhook received and broadcast",
			"session_id", sessionID,
			"success", payload.Success,
			"clients_notified", notified)
	}

	writeJSONOK(w, map[string]interface{}{
		"success":         true,
		"message":         "webhook received",
		"sessionId":       sessionID,
		"clientsNotified": notified,
	})
}

// handleProgress accepts a progress update and broadcasts it without caching.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	frame, err := ParseProgressFrame(sessionID, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	notified := s.hub.Broadcast(frame)

	if s.logger != nil {
		s.logger.Debug("Progress broadcast",
			"session_id", sessionID, "stage", frame.Stage, "clients_notified", notified)
	}

	writeJSONOK(w, map[string]interface{}{
		"success":         true,
		"message":         "progress broadcast",
		"sessionId":       sessionID,
		"clientsNotified": notified,
	})
}

// handleLatest returns the most recently stored payload for the session.
// Diagnostic side channel only; the primary flow is the WebSocket broadcast.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	payload, ok := s.cache.Latest(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "no stored webhook for session " + sessionID,
		})
		return
	}

	writeJSONOK(w, map[string]interface{}{
		"success":   true,
		"sessionId": sessionID,
		"data": map[string]interface{}{
			"success":        payload.Success,
			"data":           payload.Data,
			"error":          payload.Error,
			"processingTime": payload.ProcessingTime,
			"receivedAt":     payload.ReceivedAt.UTC().Format(time.RFC3339),
		},
	})
}
