package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/usecase/contribution"
	"tweetwatch/internal/usecase/stream"
	"tweetwatch/internal/usecase/topics"
)

type fakeTransport struct {
	mu         sync.Mutex
	tracked    []string
	untracked  []string
	followed   []string
	unfollowed []string
}

func (f *fakeTransport) Track(keywords []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, keywords...)
}
func (f *fakeTransport) Untrack(keywords []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked = append(f.untracked, keywords...)
}
func (f *fakeTransport) Follow(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followed = append(f.followed, ids...)
}
func (f *fakeTransport) Unfollow(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unfollowed = append(f.unfollowed, ids...)
}
func (f *fakeTransport) Reconnect() {}

type stubTweetRepo struct{}

func (stubTweetRepo) InsertTweet(context.Context, domain.Tweet) error { return nil }
func (stubTweetRepo) GetTweet(context.Context, string) (domain.Tweet, error) {
	return domain.Tweet{}, domain.ErrNotFound
}
func (stubTweetRepo) AttachTopics(context.Context, string, []int64) error { return nil }

type stubTopicRepo struct{}

func (stubTopicRepo) ListTopicsWithKeywords(context.Context) ([]domain.Topic, error) {
	return nil, nil
}

type stubHandleRepo struct{}

func (stubHandleRepo) InsertHandle(_ context.Context, h domain.Handle) (domain.Handle, error) {
	return h, nil
}
func (stubHandleRepo) ListHandlesWithCamp(context.Context) ([]domain.Handle, error) {
	return nil, nil
}
func (stubHandleRepo) FilterKnownHandleIDs(context.Context, []string) ([]string, error) {
	return nil, nil
}
func (stubHandleRepo) FindHandleByCamp(context.Context, domain.Camp) (domain.Handle, error) {
	return domain.Handle{}, domain.ErrNotFound
}
func (stubHandleRepo) DeleteHandle(context.Context, string) error { return nil }

type stubContributionRepo struct{}

func (stubContributionRepo) InsertContribution(_ context.Context, c domain.Contribution) (domain.Contribution, error) {
	return c, nil
}
func (stubContributionRepo) GetContribution(context.Context, int64) (domain.Contribution, error) {
	return domain.Contribution{}, domain.ErrNotFound
}
func (stubContributionRepo) SaveAttribution(context.Context, string, domain.Contribution) error {
	return nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, string, any) {}

type listAPI struct {
	mu      sync.Mutex
	added   []string
	removed []string
	err     error
}

func (l *listAPI) VerifyCredentials(context.Context) (domain.Profile, error) {
	return domain.Profile{}, nil
}
func (l *listAPI) GetUserProfile(context.Context, string) (domain.Profile, error) {
	return domain.Profile{}, nil
}
func (l *listAPI) ListMembers(context.Context, string) ([]domain.Profile, error) {
	return nil, nil
}
func (l *listAPI) ListAddMember(_ context.Context, listID, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, listID+":"+userID)
	return l.err
}
func (l *listAPI) ListRemoveMember(_ context.Context, listID, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, listID+":"+userID)
	return l.err
}

func newTestHooks(t *testing.T, api *listAPI, lists map[domain.Camp]string) (*Hooks, *fakeTransport, *topics.Matcher, *contribution.Registry) {
	t.Helper()
	transport := &fakeTransport{}
	matcher := topics.NewMatcher(stubTopicRepo{}, stubTweetRepo{}, zerolog.Nop())
	registry := contribution.NewRegistry(stubHandleRepo{}, zerolog.Nop())
	detector := contribution.NewDetector(stubTweetRepo{}, stubContributionRepo{}, registry, zerolog.Nop())
	svc := stream.NewService(
		transport, stubTweetRepo{}, stubHandleRepo{}, matcher, detector, noopBroadcaster{},
		stream.Limits{TrackKeywords: 400, FollowAccounts: 5000, ReconnectWindow: time.Hour},
		zerolog.Nop(),
	)
	t.Cleanup(svc.Close)
	return NewHooks(matcher, registry, svc, api, lists, zerolog.Nop()), transport, matcher, registry
}

func TestTopicLifecycle(t *testing.T) {
	hooks, transport, matcher, _ := newTestHooks(t, &listAPI{}, nil)

	hooks.TopicCreated(domain.Topic{ID: 1, Keywords: []string{"climate", "policy"}})
	if got := matcher.Match([]string{"climate"}); len(got) != 1 {
		t.Fatalf("тема должна матчиться после создания: %v", got)
	}

	hooks.TopicUpdated(
		domain.Topic{ID: 1, Keywords: []string{"climate", "policy"}},
		domain.Topic{ID: 1, Keywords: []string{"policy", "youth"}},
	)
	if got := matcher.Match([]string{"climate"}); len(got) != 0 {
		t.Fatalf("убранное ключевое слово не должно матчиться: %v", got)
	}
	if diff := cmp.Diff([]string{"climate"}, transport.untracked); diff != "" {
		t.Fatalf("неверная разница при обновлении (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"climate", "policy", "youth"}, transport.tracked); diff != "" {
		t.Fatalf("неверный набор отслеживаемого (-want +got):\n%s", diff)
	}

	hooks.TopicRemoved(domain.Topic{ID: 1, Keywords: []string{"policy", "youth"}})
	if got := matcher.Match([]string{"policy"}); len(got) != 0 {
		t.Fatalf("удалённая тема не должна матчиться: %v", got)
	}
}

func TestHandleCreatedFanout(t *testing.T) {
	api := &listAPI{}
	youth := domain.CampYouth
	hooks, transport, _, registry := newTestHooks(t, api, map[domain.Camp]string{
		domain.CampYouth: "list-youth",
	})

	hooks.HandleCreated(context.Background(), domain.Handle{
		ID:       "42",
		Username: "young_one",
		CampID:   &youth,
	})

	if !registry.Has("42") {
		t.Fatal("аккаунт должен попасть в реестр")
	}
	if diff := cmp.Diff([]string{"42"}, transport.followed); diff != "" {
		t.Fatalf("аккаунт должен попасть в фильтр (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"@young_one"}, transport.tracked); diff != "" {
		t.Fatalf("самоупоминание должно отслеживаться (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"list-youth:42"}, api.added); diff != "" {
		t.Fatalf("аккаунт должен попасть во внешний список (-want +got):\n%s", diff)
	}
}

func TestHandleRemovedReversesCreation(t *testing.T) {
	api := &listAPI{}
	youth := domain.CampYouth
	hooks, transport, _, registry := newTestHooks(t, api, map[domain.Camp]string{
		domain.CampYouth: "list-youth",
	})

	handle := domain.Handle{ID: "42", Username: "young_one", CampID: &youth}
	hooks.HandleCreated(context.Background(), handle)
	hooks.HandleRemoved(context.Background(), handle)

	if registry.Has("42") {
		t.Fatal("аккаунт должен уйти из реестра")
	}
	if diff := cmp.Diff([]string{"42"}, transport.unfollowed); diff != "" {
		t.Fatalf("аккаунт должен уйти из фильтра (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"list-youth:42"}, api.removed); diff != "" {
		t.Fatalf("аккаунт должен уйти из внешнего списка (-want +got):\n%s", diff)
	}
}

func TestHandleWithoutCampSkipsList(t *testing.T) {
	api := &listAPI{}
	hooks, _, _, registry := newTestHooks(t, api, map[domain.Camp]string{
		domain.CampYouth: "list-youth",
	})

	hooks.HandleCreated(context.Background(), domain.Handle{ID: "7", Username: "neutral"})
	if registry.Has("7") {
		t.Fatal("аккаунт без лагеря не попадает в реестр")
	}
	if len(api.added) != 0 {
		t.Fatalf("аккаунт без лагеря не попадает в списки: %v", api.added)
	}
}
