// Package notify provides a WebSocket progress stream for broadcasting
// live metrics and consolidation-pass updates to connected clients.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// ProgressHub broadcasts small JSON payloads — reranker metrics snapshots,
// consolidation-pass progress — to connected WebSocket clients. Grounded on
// the teacher's web/handlers/websocket.go WebSocketHub, generalized from a
// web-UI-specific hub into a standalone collaborator endpoint: any tool that
// wants a live view of get_reranker_metrics or a running consolidation pass
// connects here instead of polling the MCP methods.
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[*progressClient]bool

	broadcast  chan interface{}
	register   chan *progressClient
	unregister chan *progressClient

	ctx    context.Context
	cancel context.CancelFunc
}

type progressClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewProgressHub builds a hub. Call Run in its own goroutine and Stop on
// shutdown.
func NewProgressHub() *ProgressHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressHub{
		clients:    make(map[*progressClient]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *progressClient),
		unregister: make(chan *progressClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *ProgressHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("notify: failed to marshal progress message: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop closes every connected client and stops Run.
func (h *ProgressHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*progressClient]bool)
	h.mu.Unlock()
}

// Broadcast queues msg for delivery to every connected client. Never
// blocks: a full queue drops the message rather than stalling the caller
// (e.g. a consolidation pass mid-run).
func (h *ProgressHub) Broadcast(msg interface{}) {
	select {
	case h.broadcast <- msg:
	default:
		log.Println("notify: progress broadcast channel full, dropping message")
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams broadcast
// messages to it until the client disconnects or the hub stops.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("notify: websocket accept failed: %v", err)
		return
	}

	client := &progressClient{conn: conn, send: make(chan []byte, 16)}
	h.register <- client

	defer func() {
		h.unregister <- client
	}()

	ctx := r.Context()
	for data := range client.send {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}
}
