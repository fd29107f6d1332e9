package stream

import (
	"fmt"
	"time"

	"tweetwatch/internal/domain"
)

// Формат времени провайдера, например "Wed Aug 27 13:08:45 +0000 2008".
const twitterTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Transform приводит сырое событие стрима к внутреннему виду: автор
// разворачивается в снимок, упоминания нормализуются, время приводится
// к UTC. Неразборчивое время заменяется моментом приёма.
func Transform(raw domain.RawTweet) domain.Tweet {
	tweet := domain.Tweet{
		ID:        raw.IDStr,
		Text:      raw.Text,
		Lang:      raw.Lang,
		UserID:    raw.User.IDStr,
		Favorited: raw.Favorited,
		Retweeted: raw.Retweeted,
		User: domain.TweetUser{
			ID:               raw.User.IDStr,
			Name:             raw.User.Name,
			ScreenName:       raw.User.ScreenName,
			Location:         raw.User.Location,
			URL:              raw.User.URL,
			Description:      raw.User.Description,
			ProfileImageURL:  profileImageURL(raw.User.ScreenName, "original"),
			ProfileAvatarURL: profileImageURL(raw.User.ScreenName, "normal"),
			Verified:         raw.User.Verified,
			CreatedAt:        parseTwitterTime(raw.User.CreatedAt),
		},
		InReplyToUserID:     raw.InReplyToUserIDStr,
		InReplyToScreenName: raw.InReplyToScreenName,
		CreatedAt:           parseTwitterTime(raw.CreatedAt),
	}
	if raw.InReplyToStatusIDStr != "" {
		parentID := raw.InReplyToStatusIDStr
		tweet.ParentID = &parentID
	}
	for _, m := range raw.Entities.UserMentions {
		tweet.Entities.UserMentions = append(tweet.Entities.UserMentions, domain.Mention{
			ID:         m.IDStr,
			Name:       m.Name,
			ScreenName: m.ScreenName,
		})
	}
	return tweet
}

func profileImageURL(screenName, size string) string {
	return fmt.Sprintf("https://twitter.com/%s/profile_image?size=%s", screenName, size)
}

func parseTwitterTime(value string) time.Time {
	parsed, err := time.Parse(twitterTimeLayout, value)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}
