package domain

import "time"

// Camp обозначает лагерь отслеживаемого аккаунта.
type Camp int64

const (
	// CampBroker — единственный аккаунт владельца дашборда.
	CampBroker Camp = 1
	// CampPolicyMaker — аккаунты политиков.
	CampPolicyMaker Camp = 2
	// CampYouth — молодёжные аккаунты.
	CampYouth Camp = 3
)

// Valid сообщает, известен ли лагерь.
func (c Camp) Valid() bool {
	return c == CampBroker || c == CampPolicyMaker || c == CampYouth
}

// TweetUser хранит снимок автора твита на момент приёма.
type TweetUser struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ScreenName       string    `json:"screen_name"`
	Location         string    `json:"location,omitempty"`
	URL              string    `json:"url,omitempty"`
	Description      string    `json:"description,omitempty"`
	ProfileImageURL  string    `json:"profile_image_url"`
	ProfileAvatarURL string    `json:"profile_avatar_url"`
	Verified         bool      `json:"verified"`
	CreatedAt        time.Time `json:"created_at"`
}

// Mention описывает упомянутый в твите аккаунт.
type Mention struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// Entities содержит разобранные сущности твита.
type Entities struct {
	UserMentions []Mention `json:"user_mentions"`
}

// Tweet представляет принятый из стрима твит. После вставки запись
// неизменяема, кроме contribution_id и счётчиков вовлечённости.
type Tweet struct {
	ID                  string
	Text                string
	Lang                string
	UserID              string
	User                TweetUser
	Favorited           bool
	Retweeted           bool
	Entities            Entities
	ParentID            *string
	InReplyToUserID     string
	InReplyToScreenName string
	ContributionID      *int64
	CreatedAt           time.Time
}

// Topic описывает тему с набором ключевых слов.
type Topic struct {
	ID          int64
	Name        string
	Description string
	Keywords    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HandleProfile хранит метаданные профиля аккаунта.
type HandleProfile struct {
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

// Handle описывает отслеживаемый аккаунт.
type Handle struct {
	ID         string
	Username   string
	Name       string
	Profile    HandleProfile
	CampID     *Camp
	KloutScore *float64
	CreatedAt  time.Time
}

// Contribution представляет обнаруженный трёхсторонний диалог.
// Инвариант: Tweets равен числу твитов, ссылающихся на contribution.
type Contribution struct {
	ID                  int64
	TweetID             string
	TopicID             *int64
	CampID              *Camp
	InvolvesPolicyMaker bool
	InvolvesYouth       bool
	Tweets              int
	Contributors        []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile описывает профиль аккаунта во внешнем API.
type Profile struct {
	ID          string
	ScreenName  string
	Name        string
	Description string
}

// RawUser — автор твита в формате провайдера.
type RawUser struct {
	IDStr       string `json:"id_str"`
	Name        string `json:"name"`
	ScreenName  string `json:"screen_name"`
	Location    string `json:"location"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Verified    bool   `json:"verified"`
	CreatedAt   string `json:"created_at"`
}

// RawMention — упоминание в формате провайдера.
type RawMention struct {
	IDStr      string `json:"id_str"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// RawEntities — сущности твита в формате провайдера.
type RawEntities struct {
	UserMentions []RawMention `json:"user_mentions"`
}

// RawTweet — событие стрима в формате провайдера до трансформации.
type RawTweet struct {
	IDStr                string      `json:"id_str"`
	Text                 string      `json:"text"`
	Lang                 string      `json:"lang"`
	User                 RawUser     `json:"user"`
	Favorited            bool        `json:"favorited"`
	Retweeted            bool        `json:"retweeted"`
	Entities             RawEntities `json:"entities"`
	InReplyToStatusIDStr string      `json:"in_reply_to_status_id_str"`
	InReplyToUserIDStr   string      `json:"in_reply_to_user_id_str"`
	InReplyToScreenName  string      `json:"in_reply_to_screen_name"`
	CreatedAt            string      `json:"created_at"`
}
