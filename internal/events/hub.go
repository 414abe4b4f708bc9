// Package events pushes run and job updates to websocket clients.
package events

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message types sent to clients.
const (
	TypeJob         = "job"
	TypeRunStarted  = "run_started"
	TypeRunChunk    = "run_chunk"
	TypeRunFinished = "run_finished"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans messages out to every connected client. Each client has its own
// write pump; a client that cannot keep up is dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub accepts connections from the given origins. "*" or an empty list
// accepts any origin.
func NewHub(origins []string) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(origins) == 0 || slices.Contains(origins, "*") {
			return true
		}
		return slices.Contains(origins, r.Header.Get("Origin"))
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for every client without blocking.
func (h *Hub) Broadcast(msgType string, data any) {
	msg := Message{Type: msgType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("[events] Client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection until the client
// leaves. Clients only receive; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[events] Upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("[events] Write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
