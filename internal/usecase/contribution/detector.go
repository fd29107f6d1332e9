package contribution

import (
	"context"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
	"tweetwatch/internal/usecase/evaluator"
)

// facts накапливает промежуточные выводы цепочки правил по одному твиту.
type facts struct {
	tweet        domain.Tweet
	parent       *domain.Tweet
	contribution *domain.Contribution

	authorCamp    domain.Camp
	hasAuthorCamp bool
	mentionCamps  []domain.Camp

	authorBroker      bool
	authorPolicyMaker bool
	authorYouth       bool

	mentionsBroker      bool
	mentionsPolicyMaker bool
	mentionsYouth       bool

	newContribution bool
}

// Detector решает, начинает твит новый вклад или продолжает существующий.
// Сама цепочка работает в режиме "лучшее из возможного": сбой правила
// пропускается. Финальная запись в хранилище вынесена за цепочку, её
// ошибка видна вызывающему.
type Detector struct {
	tweets        domain.TweetRepo
	contributions domain.ContributionRepo
	registry      *Registry
	engine        *evaluator.Evaluator[facts]
	log           zerolog.Logger
}

// NewDetector собирает цепочку правил обнаружения вкладов.
func NewDetector(tweets domain.TweetRepo, contributions domain.ContributionRepo, registry *Registry, log zerolog.Logger) *Detector {
	d := &Detector{
		tweets:        tweets,
		contributions: contributions,
		registry:      registry,
		engine:        evaluator.New[facts](log),
		log:           log,
	}
	d.registerRules()
	return d
}

func (d *Detector) registerRules() {
	hasParentRef := func(f *facts) bool { return f.tweet.ParentID != nil }
	parentInContribution := func(f *facts) bool { return f.parent != nil && f.parent.ContributionID != nil }
	inContribution := func(f *facts) bool { return f.contribution != nil }

	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "загрузить родительский твит",
		Match:       []evaluator.Predicate[facts]{hasParentRef},
		Action: func(ctx context.Context, f *facts) error {
			parent, err := d.tweets.GetTweet(ctx, *f.tweet.ParentID)
			if err != nil {
				return err
			}
			f.parent = &parent
			return nil
		},
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "загрузить вклад родителя",
		Match:       []evaluator.Predicate[facts]{parentInContribution},
		Action: func(ctx context.Context, f *facts) error {
			c, err := d.contributions.GetContribution(ctx, *f.parent.ContributionID)
			if err != nil {
				return err
			}
			f.contribution = &c
			return nil
		},
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "определить лагерь автора",
		Action: func(_ context.Context, f *facts) error {
			if camp, ok := d.registry.Camp(f.tweet.UserID); ok {
				f.authorCamp = camp
				f.hasAuthorCamp = true
			}
			return nil
		},
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "определить лагеря упоминаний",
		Match:       []evaluator.Predicate[facts]{evaluator.Not(inContribution)},
		Action: func(_ context.Context, f *facts) error {
			for _, mention := range f.tweet.Entities.UserMentions {
				if camp, ok := d.registry.Camp(mention.ID); ok {
					f.mentionCamps = append(f.mentionCamps, camp)
				}
			}
			return nil
		},
	})

	authorIs := func(camp domain.Camp) evaluator.Predicate[facts] {
		return func(f *facts) bool { return f.hasAuthorCamp && f.authorCamp == camp }
	}
	mentions := func(camp domain.Camp) evaluator.Predicate[facts] {
		return func(f *facts) bool {
			for _, c := range f.mentionCamps {
				if c == camp {
					return true
				}
			}
			return false
		}
	}

	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "автор брокер",
		Match:       []evaluator.Predicate[facts]{authorIs(domain.CampBroker)},
		Action:      func(_ context.Context, f *facts) error { f.authorBroker = true; return nil },
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "автор политик",
		Match:       []evaluator.Predicate[facts]{authorIs(domain.CampPolicyMaker)},
		Action:      func(_ context.Context, f *facts) error { f.authorPolicyMaker = true; return nil },
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "автор из молодёжи",
		Match:       []evaluator.Predicate[facts]{authorIs(domain.CampYouth)},
		Action:      func(_ context.Context, f *facts) error { f.authorYouth = true; return nil },
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "упомянут брокер",
		Match:       []evaluator.Predicate[facts]{mentions(domain.CampBroker)},
		Action:      func(_ context.Context, f *facts) error { f.mentionsBroker = true; return nil },
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "упомянут политик",
		Match:       []evaluator.Predicate[facts]{mentions(domain.CampPolicyMaker)},
		Action:      func(_ context.Context, f *facts) error { f.mentionsPolicyMaker = true; return nil },
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "упомянута молодёжь",
		Match:       []evaluator.Predicate[facts]{mentions(domain.CampYouth)},
		Action:      func(_ context.Context, f *facts) error { f.mentionsYouth = true; return nil },
	})

	// Новый вклад начинается, когда автор и упоминания вместе покрывают
	// все три лагеря.
	markNew := func(_ context.Context, f *facts) error { f.newContribution = true; return nil }
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "триада: брокер упоминает политика и молодёжь",
		Match: []evaluator.Predicate[facts]{
			func(f *facts) bool { return f.authorBroker },
			func(f *facts) bool { return f.mentionsPolicyMaker },
			func(f *facts) bool { return f.mentionsYouth },
		},
		Action: markNew,
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "триада: политик упоминает брокера и молодёжь",
		Match: []evaluator.Predicate[facts]{
			func(f *facts) bool { return f.authorPolicyMaker },
			func(f *facts) bool { return f.mentionsBroker },
			func(f *facts) bool { return f.mentionsYouth },
		},
		Action: markNew,
	})
	d.engine.AddRule(evaluator.Rule[facts]{
		Description: "триада: молодёжь упоминает брокера и политика",
		Match: []evaluator.Predicate[facts]{
			func(f *facts) bool { return f.authorYouth },
			func(f *facts) bool { return f.mentionsBroker },
			func(f *facts) bool { return f.mentionsPolicyMaker },
		},
		Action: markNew,
	})
}

// Process прогоняет твит через цепочку и фиксирует результат.
// Возвращает nil без ошибки, если твит не относится ни к какому вкладу.
func (d *Detector) Process(ctx context.Context, tweet domain.Tweet) (*domain.Contribution, error) {
	f := facts{tweet: tweet}
	d.engine.Run(ctx, &f)

	switch {
	case f.contribution != nil:
		return d.continueContribution(ctx, &f)
	case f.newContribution:
		return d.createContribution(ctx, &f)
	default:
		return nil, nil
	}
}

// continueContribution привязывает ответ к найденному вкладу: имя автора
// попадает в список участников, счётчик растёт, флаги вовлечённости
// дополняются лагерем автора.
func (d *Detector) continueContribution(ctx context.Context, f *facts) (*domain.Contribution, error) {
	c := *f.contribution
	c.Contributors = appendDistinct(c.Contributors, f.tweet.User.ScreenName)
	c.Tweets++
	if f.hasAuthorCamp {
		switch f.authorCamp {
		case domain.CampPolicyMaker:
			c.InvolvesPolicyMaker = true
		case domain.CampYouth:
			c.InvolvesYouth = true
		}
	}
	if err := d.contributions.SaveAttribution(ctx, f.tweet.ID, c); err != nil {
		return nil, err
	}
	metrics.ContributionsTotal.WithLabelValues("continued").Inc()
	d.log.Info().Str("tweet_id", f.tweet.ID).Int64("contribution_id", c.ID).Msg("contribution: твит продолжил вклад")
	return &c, nil
}

// createContribution заводит новый вклад и связывает с ним исходный твит.
// Счётчик и список участников стартуют пустыми: они учитывают только
// последующие ответы.
func (d *Detector) createContribution(ctx context.Context, f *facts) (*domain.Contribution, error) {
	camp := f.authorCamp
	created, err := d.contributions.InsertContribution(ctx, domain.Contribution{
		TweetID:             f.tweet.ID,
		CampID:              &camp,
		InvolvesPolicyMaker: f.authorPolicyMaker,
		InvolvesYouth:       f.authorYouth,
		Tweets:              0,
		Contributors:        []string{},
	})
	if err != nil {
		return nil, err
	}
	if err := d.contributions.SaveAttribution(ctx, f.tweet.ID, created); err != nil {
		return nil, err
	}
	metrics.ContributionsTotal.WithLabelValues("new").Inc()
	d.log.Info().Str("tweet_id", f.tweet.ID).Int64("contribution_id", created.ID).Msg("contribution: обнаружен новый вклад")
	return &created, nil
}

func appendDistinct(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
