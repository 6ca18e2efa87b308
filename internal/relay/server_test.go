package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{
		HTTPPort:      5174,
		WebSocketPort: 8080,
		CacheTTL:      10 * time.Minute,
		SweepInterval: 10 * time.Minute,
	})
	t.Cleanup(func() {
		s.cache.Close()
		s.limiter.Close()
	})
	return s
}

// dialWS connects a test WebSocket client and consumes the connection frame.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ConnectionFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read connection frame: %v", err)
	}
	if frame.Type != FrameTypeConnection {
		t.Fatalf("first frame type = %q, want %q", frame.Type, FrameTypeConnection)
	}
	return conn
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Success          bool    `json:"success"`
		HTTPPort         int     `json:"httpPort"`
		WebsocketPort    int     `json:"websocketPort"`
		Uptime           float64 `json:"uptime"`
		ConnectedClients int     `json:"connectedClients"`
		ActiveWebhooks   int     `json:"activeWebhooks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if !body.Success {
		t.Error("health success should be true")
	}
	if body.HTTPPort != 5174 || body.WebsocketPort != 8080 {
		t.Errorf("ports = %d/%d, want 5174/8080", body.HTTPPort, body.WebsocketPort)
	}
	if body.ConnectedClients != 0 {
		t.Errorf("connectedClients = %d, want 0", body.ConnectedClients)
	}
}

func TestWebhookStoresAndResponds(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := `{"success": true, "data": {"bestImplementation": {"code": "class X {}"}}}`
	resp, err := http.Post(ts.URL+"/api/sessions/abc/webhook/generation-complete",
		"application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("webhook POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Success         bool   `json:"success"`
		SessionID       string `json:"sessionId"`
		ClientsNotified int    `json:"clientsNotified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Success {
		t.Error("response success should be true")
	}
	if out.SessionID != "abc" {
		t.Errorf("sessionId = %q, want abc", out.SessionID)
	}
	// No clients connected: delivery is fire-and-forget, POST still succeeds.
	if out.ClientsNotified != 0 {
		t.Errorf("clientsNotified = %d, want 0", out.ClientsNotified)
	}

	// End-to-end scenario: never subscribed, but latest returns the payload.
	latest, err := http.Get(ts.URL + "/api/sessions/abc/latest")
	if err != nil {
		t.Fatalf("latest GET failed: %v", err)
	}
	defer latest.Body.Close()
	if latest.StatusCode != http.StatusOK {
		t.Fatalf("latest status = %d, want 200", latest.StatusCode)
	}
	var stored struct {
		Success bool `json:"success"`
		Data    struct {
			Success bool `json:"success"`
		} `json:"data"`
	}
	if err := json.NewDecoder(latest.Body).Decode(&stored); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	if !stored.Success || !stored.Data.Success {
		t.Errorf("latest payload = %+v, want stored success payload", stored)
	}
}

func TestWebhookRejectsMalformedWith400(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	tests := []string{
		`not json at all`,
		`{"data": {}}`,
		`{"success": true}`,
		`{"success": false}`,
	}

	for _, body := range tests {
		resp, err := http.Post(ts.URL+"/api/sessions/abc/webhook/generation-complete",
			"application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}

	// A rejected payload must not be stored.
	resp, err := http.Get(ts.URL + "/api/sessions/abc/latest")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("latest after rejected payloads: status = %d, want 404", resp.StatusCode)
	}
}

func TestLatestNotFoundAndExpiry(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/unknown/latest")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	// An expired payload is indistinguishable from a missing one.
	s.cache.Put(&WebhookPayload{
		SessionID:  "expired",
		Success:    false,
		Error:      "old",
		ReceivedAt: time.Now().Add(-11 * time.Minute),
	})
	resp, err = http.Get(ts.URL + "/api/sessions/expired/latest")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expired payload: status = %d, want 404", resp.StatusCode)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	s := newTestServer(t)
	api := httptest.NewServer(s.Handler())
	defer api.Close()
	ws := httptest.NewServer(s.WebSocketHandler())
	defer ws.Close()

	wsURL := "ws" + strings.TrimPrefix(ws.URL, "http")

	const n = 3
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dialWS(t, wsURL)
	}

	// Wait for all registrations to land in the hub.
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", s.Hub().ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	body := `{"success": true, "data": {"backendAnswer": "done"}, "processingTime": 3}`
	resp, err := http.Post(api.URL+"/api/sessions/abc/webhook/generation-complete",
		"application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("webhook POST failed: %v", err)
	}
	var out struct {
		ClientsNotified int `json:"clientsNotified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	if out.ClientsNotified != n {
		t.Errorf("clientsNotified = %d, want %d", out.ClientsNotified, n)
	}

	// Each connection receives exactly one matching frame.
	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame CompleteFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("client %d: read frame: %v", i, err)
		}
		if frame.Type != FrameTypeComplete || frame.SessionID != "abc" || !frame.Success {
			t.Errorf("client %d: unexpected frame %+v", i, frame)
		}
		if frame.Data == nil || frame.Data.BackendAnswer != "done" {
			t.Errorf("client %d: frame data not forwarded: %+v", i, frame.Data)
		}
	}
}

func TestBroadcastSurvivesGoneClient(t *testing.T) {
	s := newTestServer(t)
	api := httptest.NewServer(s.Handler())
	defer api.Close()
	ws := httptest.NewServer(s.WebSocketHandler())
	defer ws.Close()

	wsURL := "ws" + strings.TrimPrefix(ws.URL, "http")
	gone := dialWS(t, wsURL)
	alive := dialWS(t, wsURL)

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("clients did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Drop one client; the hub notices through its read pump.
	gone.Close()
	deadline = time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() > 1 {
		if time.Now().After(deadline) {
			t.Fatal("hub did not drop the closed client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body := `{"success": false, "error": "boom"}`
	resp, err := http.Post(api.URL+"/api/sessions/xyz/webhook/generation-complete",
		"application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("webhook POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (one bad client must not fail the broadcast)", resp.StatusCode)
	}
	resp.Body.Close()

	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame CompleteFrame
	if err := alive.ReadJSON(&frame); err != nil {
		t.Fatalf("surviving client: read frame: %v", err)
	}
	if frame.SessionID != "xyz" || frame.Success || frame.Error != "boom" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestProgressEndpointBroadcastsWithoutCaching(t *testing.T) {
	s := newTestServer(t)
	api := httptest.NewServer(s.Handler())
	defer api.Close()
	ws := httptest.NewServer(s.WebSocketHandler())
	defer ws.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(ws.URL, "http"))
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("client did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(api.URL+"/api/sessions/abc/webhook/progress",
		"application/json", strings.NewReader(`{"stage": "search", "message": "querying repositories"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ProgressFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read progress frame: %v", err)
	}
	if frame.Type != FrameTypeProgress || frame.Stage != "search" {
		t.Errorf("unexpected frame: %+v", frame)
	}

	// Progress is never retrievable through the latest side channel.
	latest, err := http.Get(api.URL + "/api/sessions/abc/latest")
	if err != nil {
		t.Fatal(err)
	}
	latest.Body.Close()
	if latest.StatusCode != http.StatusNotFound {
		t.Errorf("latest after progress: status = %d, want 404", latest.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/abc/webhook/generation-complete")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET webhook: status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/health", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST health: status = %d, want 405", resp.StatusCode)
	}
}
