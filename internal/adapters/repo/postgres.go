package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.TweetRepo        = (*Postgres)(nil)
	_ domain.TopicRepo        = (*Postgres)(nil)
	_ domain.HandleRepo       = (*Postgres)(nil)
	_ domain.ContributionRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// InsertTweet реализует domain.TweetRepo. Повторная вставка того же id
// возвращает domain.ErrDuplicate.
func (p *Postgres) InsertTweet(ctx context.Context, tweet domain.Tweet) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	userSnapshot, err := json.Marshal(tweet.User)
	if err != nil {
		return fmt.Errorf("сериализация автора: %w", err)
	}
	entities, err := json.Marshal(tweet.Entities)
	if err != nil {
		return fmt.Errorf("сериализация сущностей: %w", err)
	}

	var parentID sql.NullString
	if tweet.ParentID != nil {
		parentID = sql.NullString{String: *tweet.ParentID, Valid: true}
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO tweets (id, text, lang, user_id, user_snapshot, favorited, retweeted, entities,
                    parent_id, in_reply_to_user_id, in_reply_to_screen_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, tweet.ID, tweet.Text, tweet.Lang, tweet.UserID, userSnapshot, tweet.Favorited, tweet.Retweeted,
		entities, parentID, tweet.InReplyToUserID, tweet.InReplyToScreenName, tweet.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "tweets_insert", "tweets", start, err)
	if isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	return err
}

// GetTweet реализует domain.TweetRepo.
func (p *Postgres) GetTweet(ctx context.Context, id string) (domain.Tweet, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		tweet        domain.Tweet
		userSnapshot []byte
		entities     []byte
		parentID     sql.NullString
		contribution sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, text, lang, user_id, user_snapshot, favorited, retweeted, entities,
       parent_id, in_reply_to_user_id, in_reply_to_screen_name, contribution_id, created_at
FROM tweets
WHERE id = $1
`, id).Scan(&tweet.ID, &tweet.Text, &tweet.Lang, &tweet.UserID, &userSnapshot, &tweet.Favorited,
		&tweet.Retweeted, &entities, &parentID, &tweet.InReplyToUserID, &tweet.InReplyToScreenName,
		&contribution, &tweet.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "tweets_get", "tweets", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tweet{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Tweet{}, err
	}
	if err := json.Unmarshal(userSnapshot, &tweet.User); err != nil {
		return domain.Tweet{}, fmt.Errorf("десериализация автора: %w", err)
	}
	if err := json.Unmarshal(entities, &tweet.Entities); err != nil {
		return domain.Tweet{}, fmt.Errorf("десериализация сущностей: %w", err)
	}
	if parentID.Valid {
		tweet.ParentID = &parentID.String
	}
	if contribution.Valid {
		tweet.ContributionID = &contribution.Int64
	}
	return tweet, nil
}

// AttachTopics реализует domain.TweetRepo. Повторная привязка пары
// твит-тема возвращает domain.ErrDuplicate.
func (p *Postgres) AttachTopics(ctx context.Context, tweetID string, topicIDs []int64) error {
	if len(topicIDs) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var batch pgx.Batch
	for _, topicID := range topicIDs {
		batch.Queue(`INSERT INTO tweet_topics (tweet_id, topic_id) VALUES ($1, $2)`, tweetID, topicID)
	}
	err := p.pool.SendBatch(ctx, &batch).Close()
	metrics.ObserveNetworkRequest("postgres", "tweet_topics_insert", "tweet_topics", start, err)
	if isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	return err
}

// ListTopicsWithKeywords реализует domain.TopicRepo: возвращаются
// только темы с непустым набором ключевых слов.
func (p *Postgres) ListTopicsWithKeywords(ctx context.Context) ([]domain.Topic, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, COALESCE(description, ''), keywords, created_at, updated_at
FROM topics
WHERE cardinality(keywords) > 0
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "topics_list", "topics", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []domain.Topic
	for rows.Next() {
		var topic domain.Topic
		if err := rows.Scan(&topic.ID, &topic.Name, &topic.Description, &topic.Keywords,
			&topic.CreatedAt, &topic.UpdatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// InsertHandle реализует domain.HandleRepo.
func (p *Postgres) InsertHandle(ctx context.Context, handle domain.Handle) (domain.Handle, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	profile, err := json.Marshal(handle.Profile)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("сериализация профиля: %w", err)
	}
	var campID sql.NullInt64
	if handle.CampID != nil {
		campID = sql.NullInt64{Int64: int64(*handle.CampID), Valid: true}
	}
	var klout sql.NullFloat64
	if handle.KloutScore != nil {
		klout = sql.NullFloat64{Float64: *handle.KloutScore, Valid: true}
	}

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO handles (id, username, name, profile, camp_id, klout_score)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at
`, handle.ID, handle.Username, handle.Name, profile, campID, klout).Scan(&handle.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "handles_insert", "handles", start, err)
	if isUniqueViolation(err) {
		return domain.Handle{}, domain.ErrDuplicate
	}
	if err != nil {
		return domain.Handle{}, err
	}
	return handle, nil
}

// ListHandlesWithCamp реализует domain.HandleRepo: возвращаются только
// аккаунты с назначенным лагерем.
func (p *Postgres) ListHandlesWithCamp(ctx context.Context) ([]domain.Handle, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, username, name, profile, camp_id, klout_score, created_at
FROM handles
WHERE camp_id IS NOT NULL
ORDER BY created_at
`)
	metrics.ObserveNetworkRequest("postgres", "handles_list", "handles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []domain.Handle
	for rows.Next() {
		var (
			handle  domain.Handle
			profile []byte
			campID  sql.NullInt64
			klout   sql.NullFloat64
		)
		if err := rows.Scan(&handle.ID, &handle.Username, &handle.Name, &profile, &campID,
			&klout, &handle.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(profile, &handle.Profile); err != nil {
			return nil, fmt.Errorf("десериализация профиля: %w", err)
		}
		if campID.Valid {
			camp := domain.Camp(campID.Int64)
			handle.CampID = &camp
		}
		if klout.Valid {
			handle.KloutScore = &klout.Float64
		}
		handles = append(handles, handle)
	}
	return handles, rows.Err()
}

// FilterKnownHandleIDs реализует domain.HandleRepo: из переданных id
// возвращаются уже существующие.
func (p *Postgres) FilterKnownHandleIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id FROM handles WHERE id = ANY($1)`, ids)
	metrics.ObserveNetworkRequest("postgres", "handles_filter_known", "handles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var known []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known = append(known, id)
	}
	return known, rows.Err()
}

// FindHandleByCamp реализует domain.HandleRepo.
func (p *Postgres) FindHandleByCamp(ctx context.Context, camp domain.Camp) (domain.Handle, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		handle  domain.Handle
		profile []byte
		klout   sql.NullFloat64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, username, name, profile, klout_score, created_at
FROM handles
WHERE camp_id = $1
ORDER BY created_at
LIMIT 1
`, int64(camp)).Scan(&handle.ID, &handle.Username, &handle.Name, &profile, &klout, &handle.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "handles_find_by_camp", "handles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Handle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Handle{}, err
	}
	if err := json.Unmarshal(profile, &handle.Profile); err != nil {
		return domain.Handle{}, fmt.Errorf("десериализация профиля: %w", err)
	}
	handle.CampID = &camp
	if klout.Valid {
		handle.KloutScore = &klout.Float64
	}
	return handle, nil
}

// DeleteHandle реализует domain.HandleRepo.
func (p *Postgres) DeleteHandle(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM handles WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "handles_delete", "handles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertContribution реализует domain.ContributionRepo.
func (p *Postgres) InsertContribution(ctx context.Context, c domain.Contribution) (domain.Contribution, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var campID sql.NullInt64
	if c.CampID != nil {
		campID = sql.NullInt64{Int64: int64(*c.CampID), Valid: true}
	}
	var topicID sql.NullInt64
	if c.TopicID != nil {
		topicID = sql.NullInt64{Int64: *c.TopicID, Valid: true}
	}
	contributors := c.Contributors
	if contributors == nil {
		contributors = []string{}
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO contributions (tweet_id, topic_id, camp_id, involves_policy_maker, involves_youth, tweets, contributors)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at
`, c.TweetID, topicID, campID, c.InvolvesPolicyMaker, c.InvolvesYouth, c.Tweets, contributors).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "contributions_insert", "contributions", start, err)
	if err != nil {
		return domain.Contribution{}, err
	}
	c.Contributors = contributors
	return c, nil
}

// GetContribution реализует domain.ContributionRepo.
func (p *Postgres) GetContribution(ctx context.Context, id int64) (domain.Contribution, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		c       domain.Contribution
		campID  sql.NullInt64
		topicID sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tweet_id, topic_id, camp_id, involves_policy_maker, involves_youth, tweets, contributors, created_at, updated_at
FROM contributions
WHERE id = $1
`, id).Scan(&c.ID, &c.TweetID, &topicID, &campID, &c.InvolvesPolicyMaker, &c.InvolvesYouth,
		&c.Tweets, &c.Contributors, &c.CreatedAt, &c.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "contributions_get", "contributions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Contribution{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Contribution{}, err
	}
	if topicID.Valid {
		c.TopicID = &topicID.Int64
	}
	if campID.Valid {
		camp := domain.Camp(campID.Int64)
		c.CampID = &camp
	}
	return c, nil
}

// SaveAttribution реализует domain.ContributionRepo: привязка твита и
// обновление счётчиков вклада выполняются в одной транзакции.
func (p *Postgres) SaveAttribution(ctx context.Context, tweetID string, c domain.Contribution) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "contributions", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE tweets SET contribution_id = $1 WHERE id = $2`, c.ID, tweetID)
	metrics.ObserveNetworkRequest("postgres", "tweets_set_contribution", "tweets", start, err)
	if err != nil {
		return err
	}

	contributors := c.Contributors
	if contributors == nil {
		contributors = []string{}
	}
	start = time.Now()
	tag, err := tx.Exec(ctx, `
UPDATE contributions
SET tweets = $1, contributors = $2, involves_policy_maker = $3, involves_youth = $4, updated_at = now()
WHERE id = $5
`, c.Tweets, contributors, c.InvolvesPolicyMaker, c.InvolvesYouth, c.ID)
	metrics.ObserveNetworkRequest("postgres", "contributions_update", "contributions", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "contributions", start, err)
	return err
}
