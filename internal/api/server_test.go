package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/relay"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine, *anchor.Engine) {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	engine := anchor.NewEngine("autumn-7431", bus)
	client := relay.NewClient(cfg, engine, bus)

	s := NewServer(cfg, bus, client, engine, nil)
	return s, s.buildRouter(), engine
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/api/ping", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["service"] != "paceline" || resp["status"] != "ok" {
		t.Fatalf("unexpected ping response: %v", resp)
	}
}

func TestStatusReportsSessionState(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["session"] != "CONNECTING" {
		t.Fatalf("expected CONNECTING session, got %v", resp["session"])
	}
	if resp["anchored"] != true {
		t.Fatalf("expected anchored true, got %v", resp["anchored"])
	}
}

func TestParticipantRoutes(t *testing.T) {
	_, router, engine := newTestServer(t)
	ctx := context.Background()

	rec := doRequest(router, http.MethodGet, "/api/participants", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("expected empty registry, got %d", resp.Count)
	}

	engine.OnClientUpdate(ctx, 3, protocol.ClientData{"fileNum": float64(255), "seed": "autumn-7431"})

	rec = doRequest(router, http.MethodGet, "/api/participants/3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known participant, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/api/participants/99", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown participant, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/api/participants/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestResetWithoutSession(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodPost, "/api/reset/4", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 without relay session, got %d", rec.Code)
	}
}

func TestMessageValidation(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodPost, "/api/message/4", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodPost, "/api/message/abc", `{"message":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestAnchorToggle(t *testing.T) {
	_, router, engine := newTestServer(t)

	rec := doRequest(router, http.MethodPost, "/api/anchor", `{"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if engine.Anchored() {
		t.Fatal("expected anchor disabled")
	}

	rec = doRequest(router, http.MethodPost, "/api/anchor", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing field, got %d", rec.Code)
	}
}

func TestHistoryWithoutJournal(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without journal, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "paceline_participants") {
		t.Fatal("expected paceline metrics in exposition")
	}
}

func TestUnknownRoute(t *testing.T) {
	_, router, _ := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	s, router, _ := newTestServer(t)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	waitForStreamClients(t, s.stream, 1)

	if err := s.eventBus.EmitSync(context.Background(), events.Event{
		Type:    events.EventServerNotice,
		Source:  "relay_client",
		Payload: events.NoticePayload{From: 2, Message: "three laps to go"},
	}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var evt StreamEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal stream event: %v", err)
	}
	if evt.Type != string(events.EventServerNotice) {
		t.Fatalf("expected %s event, got %s", events.EventServerNotice, evt.Type)
	}
	payload, ok := evt.Payload.(map[string]any)
	if !ok || payload["Message"] != "three laps to go" {
		t.Fatalf("unexpected payload: %#v", evt.Payload)
	}

	// Dropping the connection unregisters the client.
	conn.Close()
	waitForStreamClients(t, s.stream, 0)
}

func waitForStreamClients(t *testing.T, es *EventStream, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if es.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stream client count never reached %d", want)
}
