// Package realtime adapts the teacher's single-broadcaster WebSocket hub
// (control_plane/ws_hub.go) into a push channel a caller wires to a
// resource's realtimeUpdate fetch type: instead of periodically polling
// and broadcasting dashboard metrics to every client, Hub broadcasts
// (key, priority) invalidation events to whichever handler the caller
// registers, and the caller's handler is expected to call
// ScheduleFetch(RealtimeUpdate, ...) on the matching resource.
package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/fluxquery/orchestrator"
)

const maxConnections = 200

// InvalidateMessage is what a connected client sends to push a realtime
// update for one resource key.
type InvalidateMessage struct {
	Key      string                 `json:"key"`
	Priority orchestrator.FetchType `json:"priority"`
}

type registration struct {
	conn *websocket.Conn
}

// Hub manages WebSocket connections and fans out realtime invalidations
// from clients to a caller-supplied handler, and from the server back out
// to all clients (so multiple consumers of the same connection converge
// on the same view) — same single-broadcaster-goroutine shape as
// MetricsHub.Run, generalized from "push metrics out" to "relay
// invalidations both ways".
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan registration
	unregister chan *websocket.Conn
	broadcast  chan InvalidateMessage
	mu         sync.RWMutex

	onInvalidate func(InvalidateMessage)
}

// NewHub creates a Hub. onInvalidate is called for every message received
// from any connected client; it is expected to route the key back to the
// appropriate store's ScheduleFetch(RealtimeUpdate, ...) call.
func NewHub(onInvalidate func(InvalidateMessage)) *Hub {
	return &Hub{
		clients:      make(map[*websocket.Conn]struct{}),
		register:     make(chan registration),
		unregister:   make(chan *websocket.Conn),
		broadcast:    make(chan InvalidateMessage, 64),
		onInvalidate: onInvalidate,
	}
}

// Run drives the hub until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("realtime: connection rejected, max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[reg.conn] = struct{}{}
			log.Printf("realtime: client registered, total %d", len(h.clients))
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastAll(msg)
		}
	}
}

// Broadcast pushes msg out to every connected client, and to the
// registered onInvalidate handler so a server-originated invalidation
// (e.g. relayed from invalidate.RedisBus) reaches local stores too.
func (h *Hub) Broadcast(msg InvalidateMessage) {
	if h.onInvalidate != nil {
		h.onInvalidate(msg)
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("realtime: broadcast buffer full, dropping invalidation for %q", msg.Key)
	}
}

func (h *Hub) broadcastAll(msg InvalidateMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("realtime: write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a new client connection, reading InvalidateMessages from
// it until the connection closes or ctx is canceled.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) {
	h.register <- registration{conn: conn}
	go h.readPump(ctx, conn)
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn) {
	defer h.Unregister(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var msg InvalidateMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if h.onInvalidate != nil {
			h.onInvalidate(msg)
		}
	}
}
