package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client — одно websocket-подключение с набором подписок на комнаты.
type Client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// subscription — команда клиента на подписку или отписку.
type subscription struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

func (c *Client) subscribed(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("client_id", c.id.String()).Msg("ws: клиент оборвал подключение")
			}
			return
		}
		var sub subscription
		if err := json.Unmarshal(data, &sub); err != nil || sub.Room == "" {
			continue
		}
		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			c.rooms[sub.Room] = struct{}{}
		case "unsubscribe":
			delete(c.rooms, sub.Room)
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP-запрос до websocket и запускает обслуживание
// клиента. Новый клиент не подписан ни на одну комнату.
func ServeWS(hub *Hub, log zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws: не удалось установить websocket")
		return
	}
	client := &Client{
		id:    uuid.New(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		log:   log,
		rooms: make(map[string]struct{}),
	}
	hub.register <- client
	go client.writePump()
	go client.readPump()
}
