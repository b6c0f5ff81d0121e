package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/paceline-project/paceline/internal/events"
)

// StreamEvent is the JSON frame pushed to websocket subscribers for every
// bus event the stream relays.
type StreamEvent struct {
	Type    string      `json:"type"`
	Source  string      `json:"source,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

// streamedEvents lists the bus events forwarded to websocket subscribers.
var streamedEvents = []events.EventType{
	events.EventRelayConnected,
	events.EventRelayDisconnected,
	events.EventParticipantJoined,
	events.EventParticipantUpdated,
	events.EventCorrectionIssued,
	events.EventAnchorChanged,
	events.EventResetOrdered,
	events.EventServerNotice,
	events.EventSaveStateRequested,
	events.EventSaveStatePushed,
	events.EventConfigChanged,
}

// EventStream fans bus events out to websocket connections.
type EventStream struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader

	// Bus handlers run concurrently; gorilla allows one writer per
	// connection, so broadcasts are serialized.
	writeMu sync.Mutex
}

// NewEventStream creates the stream and subscribes it to the event bus.
func NewEventStream(bus *events.EventBus) *EventStream {
	es := &EventStream{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced at the router level
			},
		},
	}

	if bus != nil {
		for _, t := range streamedEvents {
			bus.Subscribe(t, "api_stream", func(ctx context.Context, e events.Event) error {
				es.broadcast(StreamEvent{
					Type:    string(e.Type),
					Source:  e.Source,
					Payload: e.Payload,
					Time:    time.Now().UTC(),
				})
				return nil
			})
		}
	}

	return es
}

// Handle upgrades the request and holds the connection open until the
// client disconnects.
func (es *EventStream) Handle(c *gin.Context) {
	conn, err := es.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	es.mu.Lock()
	es.clients[conn] = true
	es.mu.Unlock()

	// Drain inbound frames until the client goes away; the stream is
	// one-directional.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	es.mu.Lock()
	delete(es.clients, conn)
	es.mu.Unlock()
	conn.Close()
}

// broadcast sends an event to all connected clients, dropping clients
// whose writes fail.
func (es *EventStream) broadcast(evt StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	es.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(es.clients))
	for client := range es.clients {
		clients = append(clients, client)
	}
	es.mu.RUnlock()

	es.writeMu.Lock()
	defer es.writeMu.Unlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			es.mu.Lock()
			delete(es.clients, client)
			es.mu.Unlock()
			client.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (es *EventStream) ClientCount() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.clients)
}

// Close closes all client connections.
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()

	for client := range es.clients {
		client.Close()
		delete(es.clients, client)
	}
}
