package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hordegraphy/internal/metrics"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the stream is read-only and public
	},
}

// Message is one frame on the snapshot stream.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans store snapshots out to every connected stream client.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// Broadcast sends msg to every client. Clients that cannot keep up miss it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("encode stream message")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("stream client is slow, dropping message")
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serve upgrades the request and streams until the client goes away. first
// is written before any broadcast.
func (h *Hub) serve(c *gin.Context, first Message) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, send: make(chan []byte, 16)}
	if data, err := json.Marshal(first); err == nil {
		cl.send <- data
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.Inc()

	done := make(chan struct{})
	go h.writeLoop(cl, done)

	// Inbound frames are ignored; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, cl)
	close(cl.send)
	h.mu.Unlock()
	metrics.StreamClients.Dec()
	<-done
}

func (h *Hub) writeLoop(cl *client, done chan<- struct{}) {
	defer close(done)
	for data := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).Debug("stream write failed")
			_ = cl.conn.Close()
			for range cl.send {
			}
			return
		}
	}
}
