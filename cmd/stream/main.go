package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tweetwatch/internal/adapters/api"
	"tweetwatch/internal/adapters/events"
	"tweetwatch/internal/adapters/repo"
	"tweetwatch/internal/adapters/twitterapi"
	"tweetwatch/internal/adapters/twitterstream"
	"tweetwatch/internal/adapters/ws"
	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/cache"
	"tweetwatch/internal/infra/config"
	"tweetwatch/internal/infra/db"
	httpinfra "tweetwatch/internal/infra/http"
	applog "tweetwatch/internal/infra/log"
	"tweetwatch/internal/infra/metrics"
	"tweetwatch/internal/usecase/admin"
	"tweetwatch/internal/usecase/contribution"
	"tweetwatch/internal/usecase/handles"
	"tweetwatch/internal/usecase/stream"
	"tweetwatch/internal/usecase/topics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("stream: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("stream: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	if cfg.Twitter.BearerToken == "" {
		logger.Fatal().Msg("stream: не указан токен провайдера (TWITTER_BEARER_TOKEN)")
	}
	apiClient := twitterapi.NewClient(cfg.Twitter.APIBaseURL, cfg.Twitter.BearerToken, cfg.Twitter.Timeout)
	transport := twitterstream.NewClient(cfg.Twitter.StreamURL, cfg.Twitter.BearerToken,
		logger.With().Str("component", "twitterstream").Logger())

	hub := ws.NewHub(logger.With().Str("component", "ws").Logger())
	go hub.Run(ctx)

	broadcasters := events.Fanout{hub}
	if cfg.RabbitURL != "" {
		publisher, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange,
			logger.With().Str("component", "events").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("stream: не удалось подключиться к RabbitMQ")
		}
		defer publisher.Close()
		broadcasters = append(broadcasters, publisher)
	}

	matcher := topics.NewMatcher(repoAdapter, repoAdapter, logger.With().Str("component", "topics").Logger())
	registry := contribution.NewRegistry(repoAdapter, logger.With().Str("component", "registry").Logger())
	detector := contribution.NewDetector(repoAdapter, repoAdapter, registry,
		logger.With().Str("component", "contribution").Logger())

	streamService := stream.NewService(
		transport,
		repoAdapter,
		repoAdapter,
		matcher,
		detector,
		broadcasters,
		stream.Limits{
			TrackKeywords:   cfg.Stream.TrackLimit,
			FollowAccounts:  cfg.Stream.FollowLimit,
			ReconnectWindow: cfg.Stream.ReconnectWindow,
		},
		logger.With().Str("component", "stream").Logger(),
	)
	defer streamService.Close()

	transport.OnTweet(streamService.HandleTweet)
	transport.OnEvent(streamService.HandleTransportEvent)

	// Индексы прогреваются до первого подключения к стриму.
	matcher.Init(ctx)
	registry.Init(ctx)
	if err := streamService.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("stream: не удалось засеять фильтр")
	}
	go transport.Run(ctx)

	lists := map[domain.Camp]string{
		domain.CampPolicyMaker: cfg.Lists.PolicyMakers,
		domain.CampYouth:       cfg.Lists.Youth,
	}
	hooks := admin.NewHooks(matcher, registry, streamService, apiClient, lists,
		logger.With().Str("component", "admin").Logger())

	syncService := handles.NewSync(apiClient, repoAdapter, hooks, redisCache, lists,
		cfg.Lists.SyncInterval, logger.With().Str("component", "handles").Logger())
	if err := syncService.EnsureBroker(ctx); err != nil {
		logger.Warn().Err(err).Msg("stream: аккаунт-брокер не восстановлен")
	}
	go syncService.Run(ctx)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	api.NewHandler(hooks, hub, logger.With().Str("component", "api").Logger()).Register(server.Router)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("stream: HTTP сервер остановился")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("stream: не удалось корректно остановить HTTP сервер")
	}
	logger.Info().Msg("stream: остановлен")
}
