package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Twitter struct {
		StreamURL   string        `envconfig:"TWITTER_STREAM_URL" default:"https://stream.twitter.com/1.1/statuses/filter.json"`
		APIBaseURL  string        `envconfig:"TWITTER_API_BASE_URL" default:"https://api.twitter.com/1.1"`
		BearerToken string        `envconfig:"TWITTER_BEARER_TOKEN"`
		Timeout     time.Duration `envconfig:"TWITTER_API_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Stream struct {
		TrackLimit      int           `envconfig:"STREAM_TRACK_LIMIT" default:"400"`
		FollowLimit     int           `envconfig:"STREAM_FOLLOW_LIMIT" default:"5000"`
		ReconnectWindow time.Duration `envconfig:"STREAM_RECONNECT_WINDOW" default:"30s"`
	} `envconfig:""`

	Lists struct {
		Youth        string        `envconfig:"YOUTH_LIST_ID"`
		PolicyMakers string        `envconfig:"POLICY_MAKERS_LIST_ID"`
		SyncInterval time.Duration `envconfig:"LIST_SYNC_INTERVAL" default:"60s"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL      string `envconfig:"RABBITMQ_URL"`
	RabbitExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"tweetwatch.events"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
