package handles

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

// createConcurrency ограничивает параллельное заведение аккаунтов,
// чтобы не упираться в лимиты внешнего API.
const createConcurrency = 3

const syncLockKey = "handles:list-sync"

// Fanout — шаги, которые нужно выполнить после заведения аккаунта.
type Fanout interface {
	HandleCreated(ctx context.Context, handle domain.Handle)
}

// Sync периодически вычитывает членство внешних списков и заводит
// неизвестные аккаунты в соответствующий лагерь.
type Sync struct {
	api      domain.TwitterAPI
	repo     domain.HandleRepo
	fanout   Fanout
	cache    domain.Cache
	lists    map[domain.Camp]string
	interval time.Duration
	log      zerolog.Logger
}

// NewSync собирает синхронизатор списков.
func NewSync(
	api domain.TwitterAPI,
	repo domain.HandleRepo,
	fanout Fanout,
	cache domain.Cache,
	lists map[domain.Camp]string,
	interval time.Duration,
	log zerolog.Logger,
) *Sync {
	return &Sync{
		api:      api,
		repo:     repo,
		fanout:   fanout,
		cache:    cache,
		lists:    lists,
		interval: interval,
		log:      log,
	}
}

// Run крутит таймер до отмены контекста. Распределённая блокировка
// не даёт нескольким экземплярам синхронизировать один тик дважды.
func (s *Sync) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.cache.Once(syncLockKey, s.interval, func() error {
				s.tick(ctx)
				return nil
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("handles: тик синхронизации пропущен")
			}
		}
	}
}

// tick синхронизирует каждый настроенный список независимо: сбой
// одного лагеря не трогает другой.
func (s *Sync) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for camp, listID := range s.lists {
		if listID == "" {
			continue
		}
		wg.Add(1)
		go func(camp domain.Camp, listID string) {
			defer wg.Done()
			if err := s.syncList(ctx, camp, listID); err != nil {
				metrics.ListSyncErrors.Inc()
				s.log.Error().Err(err).
					Int64("camp", int64(camp)).
					Str("list_id", listID).
					Msg("handles: синхронизация списка не удалась")
			}
		}(camp, listID)
	}
	wg.Wait()
}

func (s *Sync) syncList(ctx context.Context, camp domain.Camp, listID string) error {
	members, err := s.api.ListMembers(ctx, listID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(members))
	byID := make(map[string]domain.Profile, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}

	known, err := s.repo.FilterKnownHandleIDs(ctx, ids)
	if err != nil {
		return err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	sem := make(chan struct{}, createConcurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		if _, ok := knownSet[id]; ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(profile domain.Profile) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.create(ctx, camp, profile); err != nil {
				s.log.Warn().Err(err).
					Str("handle_id", profile.ID).
					Msg("handles: не удалось завести аккаунт из списка")
			}
		}(byID[id])
	}
	wg.Wait()
	return nil
}

// create заводит аккаунт и раскатывает его по индексам и фильтру.
// Гонка с параллельным заведением того же аккаунта не ошибка.
func (s *Sync) create(ctx context.Context, camp domain.Camp, profile domain.Profile) error {
	handle, err := s.repo.InsertHandle(ctx, domain.Handle{
		ID:       profile.ID,
		Username: profile.ScreenName,
		Name:     profile.Name,
		Profile:  domain.HandleProfile{Description: profile.Description},
		CampID:   &camp,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil
		}
		return err
	}
	s.fanout.HandleCreated(ctx, handle)
	s.log.Info().
		Str("handle_id", handle.ID).
		Str("username", handle.Username).
		Int64("camp", int64(camp)).
		Msg("handles: заведён аккаунт из списка")
	return nil
}

// EnsureBroker гарантирует, что аккаунт-брокер существует: если его
// нет, он восстанавливается из учётных данных подключения.
func (s *Sync) EnsureBroker(ctx context.Context) error {
	_, err := s.repo.FindHandleByCamp(ctx, domain.CampBroker)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	profile, err := s.api.VerifyCredentials(ctx)
	if err != nil {
		return err
	}
	return s.create(ctx, domain.CampBroker, profile)
}
