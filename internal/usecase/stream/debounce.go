package stream

import (
	"sync"
	"time"
)

// reconnectScheduler — одноместный отложенный запуск: пока таймер
// взведён, новые запросы ничего не добавляют. Любое число мутаций
// фильтра внутри окна даёт ровно одно переподключение.
type reconnectScheduler struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	fire   func()
}

func newReconnectScheduler(window time.Duration, fire func()) *reconnectScheduler {
	return &reconnectScheduler{window: window, fire: fire}
}

// Schedule взводит таймер, если он ещё не взведён.
func (s *reconnectScheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		s.fire()
	})
}

// Stop снимает взведённый таймер.
func (s *reconnectScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
