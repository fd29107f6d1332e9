package stream

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
	"tweetwatch/internal/usecase/contribution"
	"tweetwatch/internal/usecase/topics"
)

// Limits задаёт ограничения провайдера на фильтр стрима.
type Limits struct {
	TrackKeywords   int
	FollowAccounts  int
	ReconnectWindow time.Duration
}

// TweetEvent — полезная нагрузка рассылки по комнатам.
type TweetEvent struct {
	Tweet        domain.Tweet         `json:"tweet"`
	Topics       []int64              `json:"topics"`
	Contribution *domain.Contribution `json:"contribution,omitempty"`
}

// Service владеет фильтром живого стрима и конвейером обработки
// каждого твита. Мутации фильтра не пересоздают подключение сразу:
// переподключение откладывается и склеивается в одно.
type Service struct {
	transport   domain.StreamTransport
	tweets      domain.TweetRepo
	handles     domain.HandleRepo
	matcher     *topics.Matcher
	detector    *contribution.Detector
	broadcaster domain.Broadcaster
	log         zerolog.Logger

	mu          sync.Mutex
	tracked     []string
	trackedSet  map[string]struct{}
	followed    []string
	followedSet map[string]struct{}
	limits      Limits

	reconnect *reconnectScheduler
}

// NewService собирает сервис стрима.
func NewService(
	transport domain.StreamTransport,
	tweets domain.TweetRepo,
	handles domain.HandleRepo,
	matcher *topics.Matcher,
	detector *contribution.Detector,
	broadcaster domain.Broadcaster,
	limits Limits,
	log zerolog.Logger,
) *Service {
	s := &Service{
		transport:   transport,
		tweets:      tweets,
		handles:     handles,
		matcher:     matcher,
		detector:    detector,
		broadcaster: broadcaster,
		trackedSet:  make(map[string]struct{}),
		followedSet: make(map[string]struct{}),
		limits:      limits,
		log:         log,
	}
	s.reconnect = newReconnectScheduler(limits.ReconnectWindow, func() {
		metrics.StreamReconnectsTotal.Inc()
		s.log.Info().Msg("stream: переподключение после изменения фильтра")
		s.transport.Reconnect()
	})
	return s
}

// Init засевает фильтр ключевыми словами тем и отслеживаемыми
// аккаунтами, затем выполняет одно подключение. Индексы тем и лагерей
// должны быть загружены до вызова.
func (s *Service) Init(ctx context.Context) error {
	s.addTracked(s.matcher.Keywords())

	handles, err := s.handles.ListHandlesWithCamp(ctx)
	if err != nil {
		return err
	}
	var follow, selfMentions []string
	for _, h := range handles {
		follow = append(follow, h.ID)
		selfMentions = append(selfMentions, "@"+h.Username)
	}
	s.addFollowed(follow)
	s.addTracked(selfMentions)

	s.log.Info().
		Int("keywords", len(s.tracked)).
		Int("follows", len(s.followed)).
		Msg("stream: фильтр засеян, подключаемся")
	s.transport.Reconnect()
	return nil
}

// Track добавляет ключевые слова в фильтр и возвращает число реально
// добавленных. Лишние сверх лимита молча отбрасываются.
func (s *Service) Track(keywords []string) int {
	added := s.addTracked(keywords)
	if added > 0 {
		s.reconnect.Schedule()
	}
	return added
}

// Untrack убирает ключевые слова и возвращает число реально убранных.
func (s *Service) Untrack(keywords []string) int {
	s.mu.Lock()
	var removed []string
	for _, kw := range keywords {
		if _, ok := s.trackedSet[kw]; ok {
			delete(s.trackedSet, kw)
			removed = append(removed, kw)
		}
	}
	if len(removed) > 0 {
		s.tracked = withoutAll(s.tracked, removed)
		metrics.WatchlistKeywords.Set(float64(len(s.tracked)))
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.transport.Untrack(removed)
		s.reconnect.Schedule()
	}
	return len(removed)
}

// Follow добавляет аккаунты в фильтр и возвращает число реально
// добавленных.
func (s *Service) Follow(ids []string) int {
	added := s.addFollowed(ids)
	if added > 0 {
		s.reconnect.Schedule()
	}
	return added
}

// Unfollow убирает аккаунты и возвращает число реально убранных.
func (s *Service) Unfollow(ids []string) int {
	s.mu.Lock()
	var removed []string
	for _, id := range ids {
		if _, ok := s.followedSet[id]; ok {
			delete(s.followedSet, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.followed = withoutAll(s.followed, removed)
		metrics.WatchlistFollows.Set(float64(len(s.followed)))
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.transport.Unfollow(removed)
		s.reconnect.Schedule()
	}
	return len(removed)
}

// Close снимает отложенное переподключение.
func (s *Service) Close() {
	s.reconnect.Stop()
}

func (s *Service) addTracked(keywords []string) int {
	s.mu.Lock()
	fresh := dedupNew(keywords, s.trackedSet)
	capacity := s.limits.TrackKeywords - len(s.tracked)
	if capacity < 0 {
		capacity = 0
	}
	if len(fresh) > capacity {
		s.log.Warn().
			Int("dropped", len(fresh)-capacity).
			Msg("stream: лимит ключевых слов исчерпан, лишние отброшены")
		fresh = fresh[:capacity]
	}
	for _, kw := range fresh {
		s.trackedSet[kw] = struct{}{}
	}
	s.tracked = append(s.tracked, fresh...)
	metrics.WatchlistKeywords.Set(float64(len(s.tracked)))
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.transport.Track(fresh)
	}
	return len(fresh)
}

func (s *Service) addFollowed(ids []string) int {
	s.mu.Lock()
	fresh := dedupNew(ids, s.followedSet)
	capacity := s.limits.FollowAccounts - len(s.followed)
	if capacity < 0 {
		capacity = 0
	}
	if len(fresh) > capacity {
		s.log.Warn().
			Int("dropped", len(fresh)-capacity).
			Msg("stream: лимит аккаунтов исчерпан, лишние отброшены")
		fresh = fresh[:capacity]
	}
	for _, id := range fresh {
		s.followedSet[id] = struct{}{}
	}
	s.followed = append(s.followed, fresh...)
	metrics.WatchlistFollows.Set(float64(len(s.followed)))
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.transport.Follow(fresh)
	}
	return len(fresh)
}

// HandleTweet обрабатывает одно событие стрима: сохранение, темы и
// вклад параллельно, рассылка по комнатам. Сбой обработки одного твита
// логируется и никогда не валит подключение.
func (s *Service) HandleTweet(ctx context.Context, raw domain.RawTweet) {
	start := time.Now()
	metrics.StreamTweetsTotal.Inc()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	tweet := Transform(raw)
	if tweet.ID == "" {
		metrics.PipelineErrors.Inc()
		s.log.Warn().Msg("stream: событие без id твита отброшено")
		return
	}

	if err := s.tweets.InsertTweet(ctx, tweet); err != nil {
		metrics.PipelineErrors.Inc()
		if errors.Is(err, domain.ErrDuplicate) {
			s.log.Warn().Str("tweet_id", tweet.ID).Msg("stream: повторный твит пропущен")
		} else {
			s.log.Error().Err(err).Str("tweet_id", tweet.ID).Msg("stream: не удалось сохранить твит")
		}
		return
	}

	var (
		wg        sync.WaitGroup
		matched   []int64
		matchErr  error
		contrib   *domain.Contribution
		detectErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		matched, matchErr = s.matcher.Process(ctx, tweet)
	}()
	go func() {
		defer wg.Done()
		contrib, detectErr = s.detector.Process(ctx, tweet)
	}()
	wg.Wait()

	if matchErr != nil {
		metrics.PipelineErrors.Inc()
		s.log.Error().Err(matchErr).Str("tweet_id", tweet.ID).Msg("stream: ошибка сопоставления тем")
	}
	if detectErr != nil {
		metrics.PipelineErrors.Inc()
		s.log.Error().Err(detectErr).Str("tweet_id", tweet.ID).Msg("stream: ошибка обнаружения вклада")
	}
	if contrib != nil {
		tweet.ContributionID = &contrib.ID
	}

	event := TweetEvent{Tweet: tweet, Topics: matched, Contribution: contrib}
	s.broadcaster.Broadcast("timeline", "tweets:new", event)
	s.broadcaster.Broadcast("handle:"+tweet.UserID, "tweets:new", event)
	for _, topicID := range matched {
		s.broadcaster.Broadcast("topic:"+strconv.FormatInt(topicID, 10), "tweets:new", event)
	}
	if contrib != nil {
		s.broadcaster.Broadcast("contribution:"+strconv.FormatInt(contrib.ID, 10), "tweets:new", event)
	}
}

// HandleTransportEvent логирует служебные события транспорта. Сами по
// себе они переподключения не вызывают.
func (s *Service) HandleTransportEvent(kind string, err error) {
	metrics.StreamEventsTotal.WithLabelValues(kind).Inc()
	s.log.Warn().Err(err).Str("kind", kind).Msg("stream: событие транспорта")
}

// dedupNew возвращает новые элементы с сохранением порядка первого
// появления.
func dedupNew(items []string, known map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(items))
	var fresh []string
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := known[item]; ok {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh
}

func withoutAll(list, removed []string) []string {
	drop := make(map[string]struct{}, len(removed))
	for _, item := range removed {
		drop[item] = struct{}{}
	}
	kept := list[:0]
	for _, item := range list {
		if _, ok := drop[item]; !ok {
			kept = append(kept, item)
		}
	}
	return kept
}
