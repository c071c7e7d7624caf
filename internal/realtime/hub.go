package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/logging"
)

type Client struct {
	ID     string
	UserID uuid.UUID
	Conn   *WebSocketConn
	Send   chan []byte
}

// Hub tracks live websocket clients and fans notifications out to them.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// RegisterClient reports false once the hub has stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastJSON queues v for every client; it drops when the queue is full.
func (h *Hub) BroadcastJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- b:
		return nil
	default:
		return fmt.Errorf("hub broadcast queue full")
	}
}

// SendToUser delivers to every connection of userID and reports how many
// connections accepted the message.
func (h *Hub) SendToUser(userID uuid.UUID, data any) (int, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.clients {
		if client.UserID == userID {
			select {
			case client.Send <- payload:
				n++
			default:
				// slow consumer, skip
			}
		}
	}
	return n, nil
}

func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// Run owns client registration; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug("ws client registered", "action", "ws_registered", "client_id", client.ID, "user_id", client.UserID.String())

		case client := <-h.unregister:
			h.mu.Lock()
			if old, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(old.Send)
				h.log.Debug("ws client unregistered", "action", "ws_unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HubSink delivers events to live websocket connections.
type HubSink struct {
	hub *Hub
}

func NewHubSink(h *Hub) *HubSink { return &HubSink{hub: h} }

func (s *HubSink) Name() string { return "hub" }

func (s *HubSink) Publish(_ context.Context, e Event) error {
	if e.Broadcast() {
		return s.hub.BroadcastJSON(e)
	}
	uid, err := uuid.Parse(*e.TargetUserID)
	if err != nil {
		return fmt.Errorf("hub sink: bad target %q: %w", *e.TargetUserID, err)
	}
	_, err = s.hub.SendToUser(uid, e)
	return err
}
