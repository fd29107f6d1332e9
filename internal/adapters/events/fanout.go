package events

import "tweetwatch/internal/domain"

// Fanout рассылает событие во все настроенные каналы доставки.
type Fanout []domain.Broadcaster

var _ domain.Broadcaster = (Fanout)(nil)

// Broadcast реализует domain.Broadcaster.
func (f Fanout) Broadcast(room, event string, payload any) {
	for _, b := range f {
		b.Broadcast(room, event, payload)
	}
}
