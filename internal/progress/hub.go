package progress

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub fans progress out to in-process observers and connected WebSocket clients.
type Hub struct {
	mu        sync.RWMutex
	observers map[int]Func
	nextID    int
	clients   map[*Client]struct{}
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[int]Func),
		clients:   make(map[*Client]struct{}),
		logger:    logger,
	}
}

// Subscribe registers fn and returns a function that removes it again.
func (h *Hub) Subscribe(fn Func) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

func (h *Hub) Publish(p Progress) {
	h.mu.RLock()
	observers := make([]Func, 0, len(h.observers))
	for _, fn := range h.observers {
		observers = append(observers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range observers {
		fn(p)
	}

	h.broadcast(p)
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(p Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		h.logger.Error("marshal progress", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, drop the update
		}
	}
}
