package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/speedwagon-io/vmc/internal/model"
)

const (
	MessageSnapshot = "snapshot"
	MessageHistory  = "history"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func Encode(msgType string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Payload: payload})
}

// Hub tracks connected clients and fans out broadcasts to them.
// A client whose send queue is full is dropped.
type Hub struct {
	log       *slog.Logger
	clients   map[*Client]struct{}
	broadcast chan []byte
	done      chan struct{}
	mu        sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:       log,
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn("websocket client too slow, dropping", slog.String("remote", client.remote))
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.log.Debug("websocket client unregistered", slog.String("remote", client.remote))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client registered", slog.String("remote", client.remote))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	h.remove(client)
	h.mu.Unlock()
}

// SendTo queues a message for a single registered client. It reports false
// when the client is gone or its queue is full.
func (h *Hub) SendTo(client *Client, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string {
	return "websocket"
}

// Consume broadcasts the snapshot to every connected client.
func (h *Hub) Consume(ctx context.Context, snapshot *model.Snapshot) error {
	message, err := Encode(MessageSnapshot, snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
