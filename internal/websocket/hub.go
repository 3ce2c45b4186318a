package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/feedcal/internal/model"
)

// RunStatus is the live-tail message pushed to dashboard clients whenever a
// sync run finishes.
type RunStatus struct {
	Type          string    `json:"type"`
	FunctionKey   string    `json:"function_key"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	EventsCreated int       `json:"events_created"`
	EventsDeleted int       `json:"events_deleted"`
	At            time.Time `json:"at"`
}

// NewRunStatus converts an execution log record into its broadcast form.
func NewRunStatus(rec model.RunRecord) RunStatus {
	return RunStatus{
		Type:          "run_status",
		FunctionKey:   rec.FunctionKey,
		Status:        rec.Status,
		Message:       rec.Message,
		EventsCreated: rec.EventsCreated,
		EventsDeleted: rec.EventsDeleted,
		At:            rec.CreatedAt,
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts run
// outcomes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
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

// BroadcastRun sends a run outcome to all connected clients.
func (h *Hub) BroadcastRun(rec model.RunRecord) {
	h.broadcast(NewRunStatus(rec))
}

func (h *Hub) broadcast(msg RunStatus) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
