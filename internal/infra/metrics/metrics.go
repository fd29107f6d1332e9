package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	StreamTweetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_tweets_total",
		Help: "Количество принятых из стрима твитов",
	})
	StreamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_total",
		Help: "Служебные события транспорта стрима",
	}, []string{"kind"})
	StreamReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_reconnects_total",
		Help: "Количество переподключений стрима",
	})
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tweet_pipeline_seconds",
		Help:    "Время обработки одного твита",
		Buckets: prometheus.DefBuckets,
	})
	PipelineErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tweet_pipeline_errors_total",
		Help: "Ошибки обработки твитов",
	})
	ContributionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contributions_total",
		Help: "Обнаруженные вклады",
	}, []string{"kind"})
	BroadcastTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_messages_total",
		Help: "Сообщения, разосланные в комнаты",
	}, []string{"backend"})
	WatchlistKeywords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchlist_keywords",
		Help: "Размер набора отслеживаемых ключевых слов",
	})
	WatchlistFollows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchlist_follows",
		Help: "Размер набора отслеживаемых аккаунтов",
	})
	ListSyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "list_sync_errors_total",
		Help: "Ошибки периодической синхронизации списков",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		StreamTweetsTotal,
		StreamEventsTotal,
		StreamReconnectsTotal,
		PipelineDuration,
		PipelineErrors,
		ContributionsTotal,
		BroadcastTotal,
		WatchlistKeywords,
		WatchlistFollows,
		ListSyncErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
