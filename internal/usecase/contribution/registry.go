package contribution

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
)

// Registry хранит в памяти распределение аккаунтов по лагерям.
// Используется цепочкой правил для быстрых проверок без походов в базу.
type Registry struct {
	mu    sync.RWMutex
	store map[domain.Camp]map[string]struct{}

	handles domain.HandleRepo
	log     zerolog.Logger
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(handles domain.HandleRepo, log zerolog.Logger) *Registry {
	return &Registry{
		store: map[domain.Camp]map[string]struct{}{
			domain.CampBroker:      {},
			domain.CampPolicyMaker: {},
			domain.CampYouth:       {},
		},
		handles: handles,
		log:     log,
	}
}

// Init загружает аккаунты с лагерями. Ошибка не фатальна: реестр
// пополнится хуками и синхронизацией списков.
func (r *Registry) Init(ctx context.Context) {
	handles, err := r.handles.ListHandlesWithCamp(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("registry: не удалось загрузить аккаунты, реестр пуст")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		if h.CampID == nil || !h.CampID.Valid() {
			continue
		}
		r.store[*h.CampID][h.ID] = struct{}{}
	}
	r.log.Info().Int("handles", len(handles)).Msg("registry: реестр загружен")
}

// Add помещает аккаунт в лагерь.
func (r *Registry) Add(camp domain.Camp, id string) {
	if !camp.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[camp][id] = struct{}{}
}

// Delete убирает аккаунт из лагеря.
func (r *Registry) Delete(camp domain.Camp, id string) {
	if !camp.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store[camp], id)
}

// Has сообщает, отслеживается ли аккаунт хоть в одном лагере.
func (r *Registry) Has(id string) bool {
	_, ok := r.Camp(id)
	return ok
}

// Camp возвращает лагерь аккаунта.
func (r *Registry) Camp(id string) (domain.Camp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for camp, set := range r.store {
		if _, ok := set[id]; ok {
			return camp, true
		}
	}
	return 0, false
}
