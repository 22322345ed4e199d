// Package websocket pushes server-side events to browser connections. Each
// client is bound to one topic when it connects and cannot change it, so a
// connection only ever sees events for the session that opened it.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Event is one message sent to a client.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event for topic.
func NewEvent(eventType, topic string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// Client is a single connection bound to a topic.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
	done  chan struct{}
}

func newClient(topic string) *Client {
	return &Client{
		ID:    uuid.NewString(),
		Topic: topic,
		Send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
}

// Done is closed once the client is unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Hub tracks connected clients by topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.Topic] == nil {
		h.clients[client.Topic] = make(map[*Client]struct{})
	}
	h.clients[client.Topic][client] = struct{}{}
}

// Unregister removes the client and closes its Send and Done channels.
// Calling it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
	close(client.done)
}

// Send queues event for client. A client whose buffer is full misses the
// event; an unregistered client is skipped.
func (h *Hub) Send(client *Client, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client.Topic][client]; !ok {
		return nil
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn().Str("client_id", client.ID).Msg("client buffer full, dropping event")
	}
	return nil
}

// CloseTopic unregisters every client on topic.
func (h *Hub) CloseTopic(topic string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[topic]))
	for c := range h.clients[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Upgrader turns requests into hub clients.
type Upgrader struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewUpgrader accepts connections whose Origin is in allowedOrigins. An empty
// list accepts only same-host requests.
func NewUpgrader(hub *Hub, allowedOrigins []string) *Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	u := gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowed) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")] || allowed["*"]
		}
	}
	return &Upgrader{hub: hub, upgrader: u}
}

// Connect upgrades the request, registers a client on topic, writes first
// when it is non-nil, and starts the pumps. The returned client is done once
// the connection closes.
func (u *Upgrader) Connect(c echo.Context, topic string, first *Event) (*Client, error) {
	ws, err := u.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil, err
	}

	client := newClient(topic)
	if first != nil {
		data, err := json.Marshal(first)
		if err != nil {
			ws.Close()
			return nil, err
		}
		client.Send <- data
	}
	u.hub.Register(client)

	go u.writePump(client, ws)
	go u.readPump(client, ws)
	return client, nil
}

// readPump discards inbound messages and unregisters the client when the
// peer goes away.
func (u *Upgrader) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		u.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (u *Upgrader) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				u.hub.Unregister(client)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				u.hub.Unregister(client)
				return
			}
		}
	}
}
