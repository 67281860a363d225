package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Hub streams events to websocket subscribers grouped by topic.
type Hub struct {
	mu       sync.Mutex
	topics   map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *Hub) Add(topic string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[topic]
	if group == nil {
		group = make(map[*websocket.Conn]struct{})
		h.topics[topic] = group
	}
	group[conn] = struct{}{}
}

func (h *Hub) Remove(topic string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[topic]
	if group == nil {
		return
	}
	delete(group, conn)
	_ = conn.Close()
	if len(group) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribers reports how many connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event.Public())
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, topic := range event.Topics() {
		for _, conn := range h.snapshot(topic) {
			_ = conn.SetWriteDeadline(deadline)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("ws write failed", zap.String("topic", topic), zap.Error(err))
				h.Remove(topic, conn)
			}
		}
	}
	return nil
}

func (h *Hub) snapshot(topic string) []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[topic]
	conns := make([]*websocket.Conn, 0, len(group))
	for conn := range group {
		conns = append(conns, conn)
	}
	return conns
}

// Serve upgrades the request and keeps the connection subscribed to topic
// until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.logger.Info("ws connected", zap.String("topic", topic), zap.String("remote", r.RemoteAddr))
	h.Add(topic, conn)
	go h.read(topic, conn)
}

func (h *Hub) read(topic string, conn *websocket.Conn) {
	defer h.Remove(topic, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Info("ws disconnected", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
}
