package twitterstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

const (
	maxLineSize    = 1 << 20
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Client держит единственное живое подключение к фильтрованному стриму
// провайдера. Мутации фильтра копятся в памяти и применяются только при
// переподключении: само переподключение инициирует вызывающая сторона.
type Client struct {
	httpClient *http.Client
	streamURL  string
	token      string
	log        zerolog.Logger

	mu     sync.Mutex
	track  map[string]struct{}
	follow map[string]struct{}
	cancel context.CancelFunc

	onTweet func(context.Context, domain.RawTweet)
	onEvent func(kind string, err error)
}

var _ domain.StreamTransport = (*Client)(nil)

// NewClient создаёт транспорт стрима.
func NewClient(streamURL, token string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		streamURL:  streamURL,
		token:      token,
		log:        log,
		track:      make(map[string]struct{}),
		follow:     make(map[string]struct{}),
		onTweet:    func(context.Context, domain.RawTweet) {},
		onEvent:    func(string, error) {},
	}
}

// OnTweet регистрирует обработчик твитов. Вызывается до Run.
func (c *Client) OnTweet(fn func(context.Context, domain.RawTweet)) {
	c.onTweet = fn
}

// OnEvent регистрирует обработчик служебных событий. Вызывается до Run.
func (c *Client) OnEvent(fn func(kind string, err error)) {
	c.onEvent = fn
}

// Track реализует domain.StreamTransport.
func (c *Client) Track(keywords []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kw := range keywords {
		c.track[kw] = struct{}{}
	}
}

// Untrack реализует domain.StreamTransport.
func (c *Client) Untrack(keywords []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kw := range keywords {
		delete(c.track, kw)
	}
}

// Follow реализует domain.StreamTransport.
func (c *Client) Follow(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.follow[id] = struct{}{}
	}
}

// Unfollow реализует domain.StreamTransport.
func (c *Client) Unfollow(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.follow, id)
	}
}

// Reconnect обрывает текущее подключение; цикл Run переподключится с
// актуальным фильтром.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Run крутит цикл подключения до отмены контекста. Ошибки подключения
// гасятся экспоненциальной паузой.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		track, follow := c.snapshot()
		if len(track) == 0 && len(follow) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(initialBackoff):
			}
			continue
		}

		connCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()

		err := c.consume(connCtx, track, follow)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil && connCtx.Err() == nil {
			c.onEvent("error", err)
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("twitterstream: подключение оборвалось")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff
	}
}

func (c *Client) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	track := make([]string, 0, len(c.track))
	for kw := range c.track {
		track = append(track, kw)
	}
	follow := make([]string, 0, len(c.follow))
	for id := range c.follow {
		follow = append(follow, id)
	}
	return track, follow
}

// controlEvent — служебное сообщение стрима без твита.
type controlEvent struct {
	Limit      json.RawMessage `json:"limit"`
	Disconnect json.RawMessage `json:"disconnect"`
	Warning    json.RawMessage `json:"warning"`
}

func (c *Client) consume(ctx context.Context, track, follow []string) error {
	form := url.Values{}
	if len(track) > 0 {
		form.Set("track", strings.Join(track, ","))
	}
	if len(follow) > 0 {
		form.Set("follow", strings.Join(follow, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("twitter", "stream_connect", "statuses_filter", start, err)
	if err != nil {
		return fmt.Errorf("подключение к стриму: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("стрим отверг подключение: статус %d", resp.StatusCode)
	}
	c.log.Info().
		Int("track", len(track)).
		Int("follow", len(follow)).
		Msg("twitterstream: подключение установлено")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// Пустая строка — keep-alive провайдера.
			continue
		}
		c.dispatch(ctx, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("чтение стрима: %w", err)
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, line []byte) {
	var raw domain.RawTweet
	if err := json.Unmarshal(line, &raw); err == nil && raw.IDStr != "" {
		c.onTweet(ctx, raw)
		return
	}

	var control controlEvent
	if err := json.Unmarshal(line, &control); err != nil {
		c.log.Warn().Err(err).Msg("twitterstream: неразборчивое сообщение стрима")
		return
	}
	switch {
	case control.Limit != nil:
		c.onEvent("limit", fmt.Errorf("twitterstream: %s", control.Limit))
	case control.Disconnect != nil:
		c.onEvent("disconnect", fmt.Errorf("twitterstream: %s", control.Disconnect))
	case control.Warning != nil:
		c.onEvent("warning", fmt.Errorf("twitterstream: %s", control.Warning))
	default:
		c.log.Debug().Msg("twitterstream: неизвестное сообщение стрима")
	}
}
