package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается репозиториями, когда запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// ErrDuplicate возвращается при нарушении уникальности вставки.
var ErrDuplicate = errors.New("запись уже существует")

// TweetRepo управляет твитами.
type TweetRepo interface {
	InsertTweet(ctx context.Context, tweet Tweet) error
	GetTweet(ctx context.Context, id string) (Tweet, error)
	AttachTopics(ctx context.Context, tweetID string, topicIDs []int64) error
}

// TopicRepo управляет темами.
type TopicRepo interface {
	ListTopicsWithKeywords(ctx context.Context) ([]Topic, error)
}

// HandleRepo управляет отслеживаемыми аккаунтами.
type HandleRepo interface {
	InsertHandle(ctx context.Context, handle Handle) (Handle, error)
	ListHandlesWithCamp(ctx context.Context) ([]Handle, error)
	FilterKnownHandleIDs(ctx context.Context, ids []string) ([]string, error)
	FindHandleByCamp(ctx context.Context, camp Camp) (Handle, error)
	DeleteHandle(ctx context.Context, id string) error
}

// ContributionRepo управляет вкладами.
type ContributionRepo interface {
	InsertContribution(ctx context.Context, c Contribution) (Contribution, error)
	GetContribution(ctx context.Context, id int64) (Contribution, error)
	// SaveAttribution атомарно привязывает твит к вкладу и сохраняет
	// обновлённые счётчики: либо обе записи, либо ни одной.
	SaveAttribution(ctx context.Context, tweetID string, c Contribution) error
}

// Broadcaster рассылает события подписчикам комнат.
type Broadcaster interface {
	Broadcast(room, event string, payload any)
}

// StreamTransport описывает живое подключение к стриму провайдера.
// Мутации фильтра не пересоздают подключение: это делает Reconnect.
type StreamTransport interface {
	Track(keywords []string)
	Untrack(keywords []string)
	Follow(ids []string)
	Unfollow(ids []string)
	Reconnect()
}

// TwitterAPI описывает REST API профилей и списков.
type TwitterAPI interface {
	VerifyCredentials(ctx context.Context) (Profile, error)
	GetUserProfile(ctx context.Context, username string) (Profile, error)
	ListMembers(ctx context.Context, listID string) ([]Profile, error)
	ListAddMember(ctx context.Context, listID, userID string) error
	ListRemoveMember(ctx context.Context, listID, userID string) error
}

// Cache используется для простых TTL-хранилищ и блокировок.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
