// Package ws pushes transcript events to operator dashboards over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Nemu-x/botlab/core/logger"
)

const component = "ws"

// ReadMarker handles read receipts sent by operators.
type ReadMarker interface {
	MarkRead(ctx context.Context, clientID int64) (int64, error)
}

// Event is a message pushed to operator sessions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub keeps the connected sessions and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	marker     ReadMarker
}

// NewHub creates a hub; call Run to start it.
func NewHub(marker ReadMarker) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		marker:     marker,
	}
}

// Run is the hub event loop. It returns when ctx is done and closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug(ctx, component, "ws.register", slog.String("session", client.name))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warn(ctx, component, "ws.encode_failed", slog.String("type", event.Type), slog.String("err", err.Error()))
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for every session. It never blocks; events are dropped when the queue is full.
func (h *Hub) Publish(kind string, payload any) {
	select {
	case h.broadcast <- &Event{Type: kind, Data: payload}:
	default:
		logger.Warn(logger.Background(), component, "ws.dropped", slog.String("type", kind))
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleClientMessage dispatches a message received from an operator session.
func (h *Hub) HandleClientMessage(ctx context.Context, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		logger.Warn(ctx, component, "ws.client_message.invalid", slog.String("err", err.Error()))
		return
	}

	switch event.Type {
	case "mark_read":
		var data struct {
			ClientID int64 `json:"clientId"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ClientID == 0 {
			logger.Warn(ctx, component, "ws.mark_read.invalid")
			return
		}
		if h.marker == nil {
			return
		}
		n, err := h.marker.MarkRead(ctx, data.ClientID)
		if err != nil {
			logger.Error(ctx, component, "ws.mark_read.failed",
				slog.Int64("client_id", data.ClientID),
				slog.String("err", err.Error()),
			)
			return
		}
		h.Publish("messages.read", map[string]int64{"clientId": data.ClientID, "count": n})
	}
}
