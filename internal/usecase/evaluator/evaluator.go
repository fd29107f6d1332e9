package evaluator

import (
	"context"

	"github.com/rs/zerolog"
)

// Predicate проверяет условие на общем контексте цепочки.
type Predicate[C any] func(*C) bool

// Not инвертирует предикат.
func Not[C any](p Predicate[C]) Predicate[C] {
	return func(c *C) bool { return !p(c) }
}

// Rule описывает одно правило: набор условий и действие.
// Действие напрямую дописывает факты в контекст.
type Rule[C any] struct {
	Description string
	Match       []Predicate[C]
	Action      func(context.Context, *C) error
}

func (r Rule[C]) matches(c *C) bool {
	for _, cond := range r.Match {
		if !cond(c) {
			return false
		}
	}
	return true
}

// Evaluator выполняет правила строго в порядке регистрации над одним
// изменяемым контекстом. Несработавшее условие пропускает правило,
// ошибка действия глушится: сбой одного правила никогда не прерывает
// цепочку, контекст переходит к следующему правилу как есть.
type Evaluator[C any] struct {
	rules []Rule[C]
	log   zerolog.Logger
}

// New создаёт пустую цепочку правил.
func New[C any](log zerolog.Logger) *Evaluator[C] {
	return &Evaluator[C]{log: log}
}

// AddRule добавляет правило в конец цепочки.
func (e *Evaluator[C]) AddRule(rule Rule[C]) {
	e.rules = append(e.rules, rule)
}

// Run прогоняет контекст через все правила. Цепочка всегда доходит до
// конца: новых правил во время прогона не появляется.
func (e *Evaluator[C]) Run(ctx context.Context, c *C) {
	for _, rule := range e.rules {
		if !rule.matches(c) {
			continue
		}
		if err := rule.Action(ctx, c); err != nil {
			e.log.Debug().Err(err).Str("rule", rule.Description).Msg("evaluator: правило пропущено из-за ошибки")
		}
	}
}
