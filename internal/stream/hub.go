package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
)

// Message is the JSON frame pushed to subscribers.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// AlertPayload is the body of an "alert" frame.
type AlertPayload struct {
	Event      *models.AlertEvent `json:"event"`
	RuleName   string             `json:"rule_name,omitempty"`
	BuildingID int64              `json:"building_id"`
}

type broadcast struct {
	orgID int64
	data  []byte
}

// Hub tracks connected subscribers and fans alerts out to the ones of the
// alert's organization.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	log := logger.WithComponent("stream")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.count = 0
			h.mu.Unlock()
			metrics.StreamClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.count = len(h.clients)
			h.mu.Unlock()
			metrics.StreamClients.Inc()
			log.Debug().
				Str("client_id", c.id).
				Int64("organization_id", c.orgID).
				Msg("stream client registered")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for c := range h.clients {
				if c.orgID != msg.orgID {
					continue
				}
				select {
				case c.send <- msg.data:
					metrics.StreamMessagesTotal.WithLabelValues("sent").Inc()
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range slow {
				metrics.StreamMessagesTotal.WithLabelValues("dropped").Inc()
				log.Warn().Str("client_id", c.id).Msg("stream client too slow, disconnecting")
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.count = len(h.clients)
		metrics.StreamClients.Dec()
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// PublishAlert queues env for the subscribers of its organization. It never
// blocks; alerts are dropped when the hub is saturated.
func (h *Hub) PublishAlert(env *models.AlertEnvelope) {
	if env == nil || env.Event == nil {
		return
	}
	data, err := json.Marshal(Message{
		Type: "alert",
		Payload: AlertPayload{
			Event:      env.Event,
			RuleName:   env.RuleName,
			BuildingID: env.BuildingID,
		},
	})
	if err != nil {
		logger.WithComponent("stream").Error().Err(err).Msg("marshal alert frame")
		return
	}

	select {
	case h.broadcast <- broadcast{orgID: env.OrganizationID, data: data}:
	default:
		metrics.StreamMessagesTotal.WithLabelValues("dropped").Inc()
	}
}

func newClientID() string {
	return uuid.NewString()
}
