package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// EventHub manages websocket connections and broadcasts compaction reports
// and other store events to connected clients.
type EventHub struct {
	clients    map[*hubClient]bool
	broadcast  chan any
	register   chan *hubClient
	unregister chan *hubClient
	log        zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an event hub. Run must be called for broadcasts to be
// delivered.
func NewEventHub(log zerolog.Logger) *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan any, 64),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes register, unregister, and broadcast events until Stop.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.Error().Err(err).Msg("failed to marshal websocket message")
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer; drop the connection rather than block.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and closes all client connections.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues a message for delivery to all connected clients. Never
// blocks; messages are dropped when the queue is full.
func (h *EventHub) Broadcast(message any) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Msg("websocket broadcast channel full, dropping message")
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// with the hub. Auth and rate limiting have already run in middleware.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The server binds to loopback and the endpoint sits behind the
		// bearer-token middleware, so cross-origin checks add nothing here.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, 64)}
	h.register <- client

	go client.writePump(h)
	go client.readPump(h)
}

// writePump sends queued messages to the websocket connection.
func (c *hubClient) writePump(h *EventHub) {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains incoming frames to detect disconnection.
func (c *hubClient) readPump(h *EventHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
