// Package hub fans queue events out to realtime subscribers grouped by topic.
// Delivery is best effort: a subscriber whose buffer is full misses the event.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qms/walkin-queue/internal/models"

	"github.com/rs/zerolog"
)

// PublicDisplayTopic is open to every subscriber. All other topics are
// service names.
const PublicDisplayTopic = "public_display"

type Event struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Subscriber is who is asking to join a topic. Anonymous display screens
// carry the zero value.
type Subscriber struct {
	StaffID     string
	Role        string
	ServiceName string
}

type Client struct {
	ID         string
	Send       chan []byte
	Subscriber Subscriber
	topics     map[string]struct{}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func NewClient(id string, subscriber Subscriber, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		ID:         id,
		Send:       make(chan []byte, buffer),
		Subscriber: subscriber,
		topics:     make(map[string]struct{}),
	}
}

// Authorize decides whether subscriber may join topic.
func Authorize(topic string, subscriber Subscriber) bool {
	if topic == PublicDisplayTopic {
		return true
	}
	if topic == "" || subscriber.StaffID == "" {
		return false
	}
	return subscriber.Role == models.RoleStaff && subscriber.ServiceName == topic
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Join adds topic to the client's subscriptions. It returns false, leaving
// the client unchanged, when the subscriber may not join.
func (h *Hub) Join(client *Client, topic string) bool {
	if !Authorize(topic, client.Subscriber) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client.topics[topic] = struct{}{}
	return true
}

func (h *Hub) Leave(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.topics, topic)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers the event to local subscribers. It never blocks on a
// slow client and only fails if the event cannot be encoded.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(event.Topic, payload)
	return nil
}

func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if _, ok := client.topics[topic]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("drop message for slow client")
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Topic == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
