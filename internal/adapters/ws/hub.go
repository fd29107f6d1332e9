package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

// Message — событие, рассылаемое подписчикам комнаты.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Room      string    `json:"room"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub ведёт учёт подключённых клиентов и их подписок на комнаты.
// Медленный клиент, не успевающий вычитывать буфер, отключается.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	log zerolog.Logger
}

var _ domain.Broadcaster = (*Hub)(nil)

// NewHub создаёт пустой хаб.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		log:        log,
	}
}

// Run обслуживает регистрацию клиентов и рассылку до отмены контекста.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.log.Debug().Str("client_id", client.id.String()).Msg("ws: клиент подключился")
		case client := <-h.unregister:
			h.drop(client)
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

// Broadcast реализует domain.Broadcaster. Переполненный хаб сообщение
// отбрасывает, не блокируя конвейер твитов.
func (h *Hub) Broadcast(room, event string, payload any) {
	msg := Message{
		ID:        uuid.New(),
		Room:      room,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
		metrics.BroadcastTotal.WithLabelValues("ws").Inc()
	default:
		h.log.Warn().Str("room", room).Msg("ws: буфер рассылки переполнен, сообщение отброшено")
	}
}

func (h *Hub) fanout(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("room", msg.Room).Msg("ws: не удалось сериализовать сообщение")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.subscribed(msg.Room) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn().Str("client_id", client.id.String()).Msg("ws: клиент не успевает, отключаем")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]struct{})
}
