package handles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
)

type stubAPI struct {
	members   map[string][]domain.Profile
	listErr   map[string]error
	self      domain.Profile
	verifyErr error
}

func (s *stubAPI) VerifyCredentials(context.Context) (domain.Profile, error) {
	return s.self, s.verifyErr
}
func (s *stubAPI) GetUserProfile(_ context.Context, username string) (domain.Profile, error) {
	return domain.Profile{ScreenName: username}, nil
}
func (s *stubAPI) ListMembers(_ context.Context, listID string) ([]domain.Profile, error) {
	if err := s.listErr[listID]; err != nil {
		return nil, err
	}
	return s.members[listID], nil
}
func (s *stubAPI) ListAddMember(context.Context, string, string) error    { return nil }
func (s *stubAPI) ListRemoveMember(context.Context, string, string) error { return nil }

type stubRepo struct {
	mu        sync.Mutex
	known     map[string]domain.Handle
	insertErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{known: make(map[string]domain.Handle)}
}

func (s *stubRepo) InsertHandle(_ context.Context, h domain.Handle) (domain.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return domain.Handle{}, s.insertErr
	}
	if _, ok := s.known[h.ID]; ok {
		return domain.Handle{}, domain.ErrDuplicate
	}
	s.known[h.ID] = h
	return h, nil
}

func (s *stubRepo) ListHandlesWithCamp(context.Context) ([]domain.Handle, error) { return nil, nil }

func (s *stubRepo) FilterKnownHandleIDs(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := s.known[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *stubRepo) FindHandleByCamp(_ context.Context, camp domain.Camp) (domain.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.known {
		if h.CampID != nil && *h.CampID == camp {
			return h, nil
		}
	}
	return domain.Handle{}, domain.ErrNotFound
}

func (s *stubRepo) DeleteHandle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, id)
	return nil
}

type stubFanout struct {
	mu      sync.Mutex
	created []domain.Handle
}

func (s *stubFanout) HandleCreated(_ context.Context, h domain.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, h)
}

type passCache struct{}

func (passCache) Once(_ string, _ time.Duration, fn func() error) error { return fn() }
func (passCache) Set(string, []byte, time.Duration) error               { return nil }
func (passCache) Get(string) ([]byte, error)                            { return nil, domain.ErrNotFound }

func newTestSync(api *stubAPI, repo *stubRepo, fanout *stubFanout, lists map[domain.Camp]string) *Sync {
	return NewSync(api, repo, fanout, passCache{}, lists, time.Minute, zerolog.Nop())
}

func TestTickCreatesUnknownMembers(t *testing.T) {
	pm := domain.CampPolicyMaker
	repo := newStubRepo()
	repo.known["known"] = domain.Handle{ID: "known", CampID: &pm}
	api := &stubAPI{members: map[string][]domain.Profile{
		"list-pm": {
			{ID: "known", ScreenName: "old_pm"},
			{ID: "fresh", ScreenName: "new_pm", Name: "New PM"},
		},
	}}
	fanout := &stubFanout{}
	s := newTestSync(api, repo, fanout, map[domain.Camp]string{domain.CampPolicyMaker: "list-pm"})

	s.tick(context.Background())

	created, ok := repo.known["fresh"]
	if !ok {
		t.Fatal("неизвестный участник списка должен завестись")
	}
	if created.CampID == nil || *created.CampID != domain.CampPolicyMaker {
		t.Fatalf("неверный лагерь: %+v", created.CampID)
	}
	if len(fanout.created) != 1 || fanout.created[0].ID != "fresh" {
		t.Fatalf("фан-аут должен получить только новый аккаунт: %+v", fanout.created)
	}
}

func TestTickIsolatesCampFailures(t *testing.T) {
	repo := newStubRepo()
	api := &stubAPI{
		members: map[string][]domain.Profile{
			"list-youth": {{ID: "y1", ScreenName: "young_one"}},
		},
		listErr: map[string]error{"list-pm": errors.New("api down")},
	}
	s := newTestSync(api, repo, &stubFanout{}, map[domain.Camp]string{
		domain.CampPolicyMaker: "list-pm",
		domain.CampYouth:       "list-youth",
	})

	s.tick(context.Background())

	if _, ok := repo.known["y1"]; !ok {
		t.Fatal("сбой одного списка не должен мешать другому")
	}
}

func TestTickSkipsEmptyListID(t *testing.T) {
	api := &stubAPI{}
	s := newTestSync(api, newStubRepo(), &stubFanout{}, map[domain.Camp]string{
		domain.CampYouth: "",
	})
	s.tick(context.Background())
}

func TestCreateTolerantToDuplicate(t *testing.T) {
	pm := domain.CampPolicyMaker
	repo := newStubRepo()
	repo.known["h1"] = domain.Handle{ID: "h1", CampID: &pm}
	fanout := &stubFanout{}
	s := newTestSync(&stubAPI{}, repo, fanout, nil)

	if err := s.create(context.Background(), domain.CampPolicyMaker, domain.Profile{ID: "h1"}); err != nil {
		t.Fatalf("гонка заведения не должна быть ошибкой: %v", err)
	}
	if len(fanout.created) != 0 {
		t.Fatalf("дубликат не должен попадать в фан-аут: %+v", fanout.created)
	}
}

func TestEnsureBrokerCreatesMissing(t *testing.T) {
	repo := newStubRepo()
	fanout := &stubFanout{}
	api := &stubAPI{self: domain.Profile{ID: "b1", ScreenName: "broker"}}
	s := newTestSync(api, repo, fanout, nil)

	if err := s.EnsureBroker(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	created, ok := repo.known["b1"]
	if !ok || created.CampID == nil || *created.CampID != domain.CampBroker {
		t.Fatalf("брокер должен завестись из учётных данных: %+v", created)
	}
	if len(fanout.created) != 1 {
		t.Fatalf("брокер должен попасть в фан-аут: %+v", fanout.created)
	}
}

func TestEnsureBrokerNoopWhenPresent(t *testing.T) {
	broker := domain.CampBroker
	repo := newStubRepo()
	repo.known["b1"] = domain.Handle{ID: "b1", CampID: &broker}
	api := &stubAPI{verifyErr: errors.New("не должен вызываться")}
	s := newTestSync(api, repo, &stubFanout{}, nil)

	if err := s.EnsureBroker(context.Background()); err != nil {
		t.Fatalf("существующий брокер не требует действий: %v", err)
	}
}
