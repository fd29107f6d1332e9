package contribution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
)

type stubTweetRepo struct {
	tweets map[string]domain.Tweet
}

func (s *stubTweetRepo) InsertTweet(_ context.Context, t domain.Tweet) error {
	if s.tweets == nil {
		s.tweets = make(map[string]domain.Tweet)
	}
	s.tweets[t.ID] = t
	return nil
}

func (s *stubTweetRepo) GetTweet(_ context.Context, id string) (domain.Tweet, error) {
	t, ok := s.tweets[id]
	if !ok {
		return domain.Tweet{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *stubTweetRepo) AttachTopics(context.Context, string, []int64) error { return nil }

type stubContributionRepo struct {
	nextID        int64
	contributions map[int64]domain.Contribution
	attributed    map[string]int64
	saveErr       error
	insertErr     error
}

func newStubContributionRepo() *stubContributionRepo {
	return &stubContributionRepo{
		contributions: make(map[int64]domain.Contribution),
		attributed:    make(map[string]int64),
	}
}

func (s *stubContributionRepo) InsertContribution(_ context.Context, c domain.Contribution) (domain.Contribution, error) {
	if s.insertErr != nil {
		return domain.Contribution{}, s.insertErr
	}
	s.nextID++
	c.ID = s.nextID
	s.contributions[c.ID] = c
	return c, nil
}

func (s *stubContributionRepo) GetContribution(_ context.Context, id int64) (domain.Contribution, error) {
	c, ok := s.contributions[id]
	if !ok {
		return domain.Contribution{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *stubContributionRepo) SaveAttribution(_ context.Context, tweetID string, c domain.Contribution) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.contributions[c.ID] = c
	s.attributed[tweetID] = c.ID
	return nil
}

type stubHandleRepo struct {
	handles []domain.Handle
	err     error
}

func (s *stubHandleRepo) InsertHandle(_ context.Context, h domain.Handle) (domain.Handle, error) {
	return h, nil
}
func (s *stubHandleRepo) ListHandlesWithCamp(context.Context) ([]domain.Handle, error) {
	return s.handles, s.err
}
func (s *stubHandleRepo) FilterKnownHandleIDs(context.Context, []string) ([]string, error) {
	return nil, nil
}
func (s *stubHandleRepo) FindHandleByCamp(context.Context, domain.Camp) (domain.Handle, error) {
	return domain.Handle{}, domain.ErrNotFound
}
func (s *stubHandleRepo) DeleteHandle(context.Context, string) error { return nil }

const (
	brokerID = "b1"
	pmID     = "p1"
	youthID  = "y1"
)

func testRegistry() *Registry {
	r := NewRegistry(&stubHandleRepo{}, zerolog.Nop())
	r.Add(domain.CampBroker, brokerID)
	r.Add(domain.CampPolicyMaker, pmID)
	r.Add(domain.CampYouth, youthID)
	return r
}

func mentionsOf(camps ...domain.Camp) domain.Entities {
	ids := map[domain.Camp]string{
		domain.CampBroker:      brokerID,
		domain.CampPolicyMaker: pmID,
		domain.CampYouth:       youthID,
	}
	var e domain.Entities
	for _, camp := range camps {
		e.UserMentions = append(e.UserMentions, domain.Mention{ID: ids[camp]})
	}
	return e
}

func TestRegistryCampLookup(t *testing.T) {
	r := testRegistry()
	if camp, ok := r.Camp(pmID); !ok || camp != domain.CampPolicyMaker {
		t.Fatalf("неверный лагерь: %v %v", camp, ok)
	}
	if r.Has("stranger") {
		t.Fatal("неизвестный аккаунт не должен находиться в реестре")
	}
	r.Delete(domain.CampPolicyMaker, pmID)
	if r.Has(pmID) {
		t.Fatal("удалённый аккаунт не должен находиться в реестре")
	}
}

func TestRegistryInit(t *testing.T) {
	pm := domain.CampPolicyMaker
	bad := domain.Camp(9)
	repo := &stubHandleRepo{handles: []domain.Handle{
		{ID: "h1", CampID: &pm},
		{ID: "h2"},
		{ID: "h3", CampID: &bad},
	}}
	r := NewRegistry(repo, zerolog.Nop())
	r.Init(context.Background())

	if !r.Has("h1") {
		t.Fatal("аккаунт с лагерем должен загрузиться")
	}
	if r.Has("h2") || r.Has("h3") {
		t.Fatal("аккаунты без валидного лагеря не должны загружаться")
	}
}

func TestRegistryInitErrorStartsEmpty(t *testing.T) {
	r := NewRegistry(&stubHandleRepo{err: errors.New("db down")}, zerolog.Nop())
	r.Init(context.Background())
	if r.Has(brokerID) {
		t.Fatal("после ошибки загрузки реестр должен быть пуст")
	}
}

func TestTriadTable(t *testing.T) {
	authors := map[string]string{
		"broker":  brokerID,
		"pm":      pmID,
		"youth":   youthID,
		"unknown": "stranger",
	}
	allSubsets := [][]domain.Camp{
		{},
		{domain.CampBroker},
		{domain.CampPolicyMaker},
		{domain.CampYouth},
		{domain.CampBroker, domain.CampPolicyMaker},
		{domain.CampBroker, domain.CampYouth},
		{domain.CampPolicyMaker, domain.CampYouth},
		{domain.CampBroker, domain.CampPolicyMaker, domain.CampYouth},
	}
	contains := func(set []domain.Camp, camp domain.Camp) bool {
		for _, c := range set {
			if c == camp {
				return true
			}
		}
		return false
	}
	wantNew := func(author string, set []domain.Camp) bool {
		switch author {
		case "broker":
			return contains(set, domain.CampPolicyMaker) && contains(set, domain.CampYouth)
		case "pm":
			return contains(set, domain.CampBroker) && contains(set, domain.CampYouth)
		case "youth":
			return contains(set, domain.CampBroker) && contains(set, domain.CampPolicyMaker)
		default:
			return false
		}
	}

	for author, authorID := range authors {
		for i, set := range allSubsets {
			name := fmt.Sprintf("%s/subset%d", author, i)
			t.Run(name, func(t *testing.T) {
				contributions := newStubContributionRepo()
				d := NewDetector(&stubTweetRepo{}, contributions, testRegistry(), zerolog.Nop())

				got, err := d.Process(context.Background(), domain.Tweet{
					ID:       "t-" + name,
					UserID:   authorID,
					Entities: mentionsOf(set...),
				})
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				if want := wantNew(author, set); want != (got != nil) {
					t.Fatalf("автор %s, упоминания %v: ожидали новый вклад = %v, получили %v", author, set, want, got)
				}
			})
		}
	}
}

func TestNewContributionStartsEmpty(t *testing.T) {
	contributions := newStubContributionRepo()
	d := NewDetector(&stubTweetRepo{}, contributions, testRegistry(), zerolog.Nop())

	got, err := d.Process(context.Background(), domain.Tweet{
		ID:       "t1",
		UserID:   brokerID,
		User:     domain.TweetUser{ScreenName: "broker"},
		Entities: mentionsOf(domain.CampPolicyMaker, domain.CampYouth),
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got == nil {
		t.Fatal("ожидали новый вклад")
	}
	if got.Tweets != 0 || len(got.Contributors) != 0 {
		t.Fatalf("новый вклад должен стартовать пустым: %+v", got)
	}
	if got.InvolvesPolicyMaker || got.InvolvesYouth {
		t.Fatalf("флаги вовлечённости задаются только лагерем автора: %+v", got)
	}
	if contributions.attributed["t1"] != got.ID {
		t.Fatal("исходный твит должен быть связан со вкладом")
	}
}

func TestContinuationOverridesClassification(t *testing.T) {
	contributions := newStubContributionRepo()
	tweets := &stubTweetRepo{}
	d := NewDetector(tweets, contributions, testRegistry(), zerolog.Nop())

	created, _ := contributions.InsertContribution(context.Background(), domain.Contribution{TweetID: "root"})
	parentID := "root"
	tweets.InsertTweet(context.Background(), domain.Tweet{ID: parentID, ContributionID: &created.ID})

	// Ответ без единого известного лагеря всё равно продолжает вклад.
	got, err := d.Process(context.Background(), domain.Tweet{
		ID:       "reply1",
		UserID:   "stranger",
		User:     domain.TweetUser{ScreenName: "stranger"},
		ParentID: &parentID,
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("ответ должен присоединиться к вкладу родителя: %+v", got)
	}
	if got.Tweets != 1 {
		t.Fatalf("счётчик должен вырасти ровно на 1: %d", got.Tweets)
	}
	if diff := cmp.Diff([]string{"stranger"}, got.Contributors); diff != "" {
		t.Fatalf("неверный список участников (-want +got):\n%s", diff)
	}
}

func TestContributorDedup(t *testing.T) {
	contributions := newStubContributionRepo()
	tweets := &stubTweetRepo{}
	d := NewDetector(tweets, contributions, testRegistry(), zerolog.Nop())

	created, _ := contributions.InsertContribution(context.Background(), domain.Contribution{TweetID: "root"})
	parentID := "root"
	tweets.InsertTweet(context.Background(), domain.Tweet{ID: parentID, ContributionID: &created.ID})

	for i := 0; i < 3; i++ {
		_, err := d.Process(context.Background(), domain.Tweet{
			ID:       fmt.Sprintf("reply%d", i),
			UserID:   youthID,
			User:     domain.TweetUser{ScreenName: "young_one"},
			ParentID: &parentID,
		})
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}

	final := contributions.contributions[created.ID]
	if diff := cmp.Diff([]string{"young_one"}, final.Contributors); diff != "" {
		t.Fatalf("участники должны быть без повторов (-want +got):\n%s", diff)
	}
	if final.Tweets != 3 {
		t.Fatalf("счётчик должен учитывать каждый ответ: %d", final.Tweets)
	}
}

func TestBrokerThenYouthReply(t *testing.T) {
	contributions := newStubContributionRepo()
	tweets := &stubTweetRepo{}
	d := NewDetector(tweets, contributions, testRegistry(), zerolog.Nop())

	root := domain.Tweet{
		ID:       "root",
		UserID:   brokerID,
		User:     domain.TweetUser{ScreenName: "broker"},
		Entities: mentionsOf(domain.CampPolicyMaker, domain.CampYouth),
	}
	tweets.InsertTweet(context.Background(), root)
	created, err := d.Process(context.Background(), root)
	if err != nil || created == nil {
		t.Fatalf("ожидали новый вклад: %v %v", created, err)
	}
	if created.Tweets != 0 || len(created.Contributors) != 0 || created.InvolvesYouth {
		t.Fatalf("новый вклад должен стартовать пустым: %+v", created)
	}

	// Повторяем привязку твита так, как это делает пишущий слой.
	linkedRoot := root
	linkedRoot.ContributionID = &created.ID
	tweets.InsertTweet(context.Background(), linkedRoot)

	parentID := root.ID
	updated, err := d.Process(context.Background(), domain.Tweet{
		ID:       "reply",
		UserID:   youthID,
		User:     domain.TweetUser{ScreenName: "young_one"},
		ParentID: &parentID,
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if updated == nil || updated.ID != created.ID {
		t.Fatalf("ответ должен присоединиться к вкладу: %+v", updated)
	}
	if updated.Tweets != 1 || !updated.InvolvesYouth {
		t.Fatalf("ответ молодёжи должен отметиться во вкладе: %+v", updated)
	}
	if diff := cmp.Diff([]string{"young_one"}, updated.Contributors); diff != "" {
		t.Fatalf("неверный список участников (-want +got):\n%s", diff)
	}
}

func TestUnknownAuthorWithoutParent(t *testing.T) {
	d := NewDetector(&stubTweetRepo{}, newStubContributionRepo(), testRegistry(), zerolog.Nop())
	got, err := d.Process(context.Background(), domain.Tweet{
		ID:       "t1",
		UserID:   "stranger",
		Entities: mentionsOf(domain.CampBroker, domain.CampPolicyMaker, domain.CampYouth),
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != nil {
		t.Fatalf("неизвестный автор не может начать вклад: %+v", got)
	}
}

func TestPersistenceErrorPropagates(t *testing.T) {
	contributions := newStubContributionRepo()
	contributions.saveErr = errors.New("db down")
	d := NewDetector(&stubTweetRepo{}, contributions, testRegistry(), zerolog.Nop())

	_, err := d.Process(context.Background(), domain.Tweet{
		ID:       "t1",
		UserID:   brokerID,
		Entities: mentionsOf(domain.CampPolicyMaker, domain.CampYouth),
	})
	if err == nil {
		t.Fatal("ошибка финальной записи должна доходить до вызывающего")
	}
}

func TestMissingParentIsNotFatal(t *testing.T) {
	d := NewDetector(&stubTweetRepo{}, newStubContributionRepo(), testRegistry(), zerolog.Nop())
	parentID := "ghost"
	got, err := d.Process(context.Background(), domain.Tweet{
		ID:       "t1",
		UserID:   "stranger",
		ParentID: &parentID,
	})
	if err != nil {
		t.Fatalf("отсутствующий родитель не должен быть ошибкой: %v", err)
	}
	if got != nil {
		t.Fatalf("без родителя и триады вклада нет: %+v", got)
	}
}
