package sse

import (
	"encoding/json"
	"sync"

	"github.com/factorypulse/pulse/internal/rfq/realtime"
	"go.uber.org/zap"
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID     string
	UserID string
	OrgID  string
	Events chan Event
}

// Hub manages all SSE client connections, scoped by organization.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Info("SSE client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Info("SSE client unregistered",
			zap.String("client_id", clientID),
			zap.Int("total", len(h.clients)))
	}
}

// BroadcastToOrg sends an event to every client of one organization.
func (h *Hub) BroadcastToOrg(orgID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.OrgID != orgID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("SSE client buffer full, skipping event",
				zap.String("client_id", client.ID))
		}
	}
}

// SendToUser sends an event to one user's connections only.
func (h *Hub) SendToUser(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("SSE client buffer full, skipping user event",
				zap.String("client_id", client.ID))
		}
	}
}

// NotifyChange implements realtime.Notifier: applied change events are
// re-broadcast to the affected organization's clients.
func (h *Hub) NotifyChange(orgID string, event realtime.ChangeEvent) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      event.Type,
		"record_id": event.RecordID(),
	})
	if err != nil {
		return
	}
	h.BroadcastToOrg(orgID, Event{
		EventType: "project_update",
		Data:      string(payload),
	})
}
