package topics

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
)

// Токены: ссылки, упоминания, хэштеги, простые смайлы и слова.
var tokenRe = regexp.MustCompile(`https?://[^\s]+|@\w+|#\w+|[:;=8][-o*']?[)\](\[dDpP/]|[\p{L}\p{N}_']+`)

// Tokenize разбивает текст твита на нормализованные токены.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// Matcher сопоставляет твиты темам по ключевым словам. Индекс держится
// в памяти и перечитывается хуками при изменении тем.
type Matcher struct {
	mu    sync.RWMutex
	store map[int64]map[string]struct{}

	topics domain.TopicRepo
	tweets domain.TweetRepo
	log    zerolog.Logger
}

// NewMatcher создаёт матчер с пустым индексом.
func NewMatcher(topics domain.TopicRepo, tweets domain.TweetRepo, log zerolog.Logger) *Matcher {
	return &Matcher{
		store:  make(map[int64]map[string]struct{}),
		topics: topics,
		tweets: tweets,
		log:    log,
	}
}

// Init загружает ключевые слова всех тем. Ошибка не фатальна: сервис
// стартует с пустым индексом и пополняется хуками.
func (m *Matcher) Init(ctx context.Context) {
	topics, err := m.topics.ListTopicsWithKeywords(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("topics: не удалось загрузить темы, индекс пуст")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, topic := range topics {
		m.store[topic.ID] = keywordSet(topic.Keywords)
	}
	m.log.Info().Int("topics", len(topics)).Msg("topics: индекс загружен")
}

// Created добавляет тему в индекс.
func (m *Matcher) Created(topic domain.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[topic.ID] = keywordSet(topic.Keywords)
}

// Removed убирает тему из индекса.
func (m *Matcher) Removed(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, id)
}

// Keywords возвращает все различные ключевые слова индекса.
func (m *Matcher) Keywords() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, set := range m.store {
		for kw := range set {
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

// Match возвращает отсортированные id тем, у которых хотя бы одно
// ключевое слово встретилось среди токенов.
func (m *Matcher) Match(tokens []string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]int64, 0)
	for id, set := range m.store {
		for _, token := range tokens {
			if _, ok := set[token]; ok {
				matched = append(matched, id)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched
}

// Process находит темы твита и сохраняет связи. Повторная привязка
// той же пары не считается ошибкой.
func (m *Matcher) Process(ctx context.Context, tweet domain.Tweet) ([]int64, error) {
	matched := m.Match(Tokenize(tweet.Text))
	if len(matched) == 0 {
		return matched, nil
	}
	if err := m.tweets.AttachTopics(ctx, tweet.ID, matched); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return nil, err
	}
	return matched, nil
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		set[strings.ToLower(strings.TrimSpace(kw))] = struct{}{}
	}
	return set
}
