package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

const publishTimeout = 5 * time.Second

// envelope — формат сообщения в обменнике.
type envelope struct {
	Room      string    `json:"room"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher зеркалирует рассылку комнат в topic-обменник RabbitMQ,
// ключ маршрутизации совпадает с именем комнаты. Сбой публикации
// логируется и не мешает остальным получателям.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

var _ domain.Broadcaster = (*Publisher)(nil)

// NewPublisher подключается к брокеру и объявляет обменник.
func NewPublisher(amqpURL, exchange string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("объявление обменника: %w", err)
	}
	return &Publisher{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

// Broadcast реализует domain.Broadcaster.
func (p *Publisher) Broadcast(room, event string, payload any) {
	body, err := json.Marshal(envelope{
		Room:      room,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("room", room).Msg("events: не удалось сериализовать сообщение")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	start := time.Now()
	err = p.channel.PublishWithContext(ctx, p.exchange, room, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		p.log.Warn().Err(err).Str("room", room).Msg("events: публикация не удалась")
		return
	}
	metrics.BroadcastTotal.WithLabelValues("amqp").Inc()
}

// Close закрывает канал и подключение.
func (p *Publisher) Close() {
	if err := p.channel.Close(); err != nil {
		p.log.Warn().Err(err).Msg("events: закрытие канала")
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warn().Err(err).Msg("events: закрытие подключения")
	}
}
