package admin

import (
	"context"

	"github.com/rs/zerolog"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/usecase/contribution"
	"tweetwatch/internal/usecase/stream"
	"tweetwatch/internal/usecase/topics"
)

// Hooks — синхронные уведомления от административного слоя. CRUD
// вызывает их сразу после своего коммита, чтобы индексы в памяти и
// фильтр стрима не расходились с базой.
type Hooks struct {
	matcher  *topics.Matcher
	registry *contribution.Registry
	stream   *stream.Service
	api      domain.TwitterAPI
	lists    map[domain.Camp]string
	log      zerolog.Logger
}

// NewHooks собирает обработчики административных событий.
func NewHooks(
	matcher *topics.Matcher,
	registry *contribution.Registry,
	streamSvc *stream.Service,
	api domain.TwitterAPI,
	lists map[domain.Camp]string,
	log zerolog.Logger,
) *Hooks {
	return &Hooks{
		matcher:  matcher,
		registry: registry,
		stream:   streamSvc,
		api:      api,
		lists:    lists,
		log:      log,
	}
}

// TopicCreated регистрирует тему в матчере и фильтре стрима.
func (h *Hooks) TopicCreated(topic domain.Topic) {
	h.matcher.Created(topic)
	h.stream.Track(topic.Keywords)
}

// TopicUpdated применяет разницу наборов ключевых слов.
func (h *Hooks) TopicUpdated(old, updated domain.Topic) {
	h.matcher.Removed(old.ID)
	h.matcher.Created(updated)
	h.stream.Untrack(diff(old.Keywords, updated.Keywords))
	h.stream.Track(diff(updated.Keywords, old.Keywords))
}

// TopicRemoved убирает тему из матчера и фильтра стрима.
func (h *Hooks) TopicRemoved(topic domain.Topic) {
	h.matcher.Removed(topic.ID)
	h.stream.Untrack(topic.Keywords)
}

// HandleCreated регистрирует аккаунт в реестре лагерей, фильтре стрима
// и, если для лагеря настроен внешний список, в нём. Ошибка списка не
// мешает остальным шагам.
func (h *Hooks) HandleCreated(ctx context.Context, handle domain.Handle) {
	if handle.CampID != nil {
		h.registry.Add(*handle.CampID, handle.ID)
	}
	h.stream.Follow([]string{handle.ID})
	h.stream.Track([]string{"@" + handle.Username})

	if listID := h.listFor(handle.CampID); listID != "" {
		if err := h.api.ListAddMember(ctx, listID, handle.ID); err != nil {
			h.log.Warn().Err(err).Str("handle_id", handle.ID).Msg("admin: не удалось добавить аккаунт в список")
		}
	}
}

// HandleRemoved откатывает все шаги HandleCreated.
func (h *Hooks) HandleRemoved(ctx context.Context, handle domain.Handle) {
	if handle.CampID != nil {
		h.registry.Delete(*handle.CampID, handle.ID)
	}
	h.stream.Unfollow([]string{handle.ID})
	h.stream.Untrack([]string{"@" + handle.Username})

	if listID := h.listFor(handle.CampID); listID != "" {
		if err := h.api.ListRemoveMember(ctx, listID, handle.ID); err != nil {
			h.log.Warn().Err(err).Str("handle_id", handle.ID).Msg("admin: не удалось убрать аккаунт из списка")
		}
	}
}

func (h *Hooks) listFor(camp *domain.Camp) string {
	if camp == nil {
		return ""
	}
	return h.lists[*camp]
}

// diff возвращает элементы a, которых нет в b.
func diff(a, b []string) []string {
	known := make(map[string]struct{}, len(b))
	for _, item := range b {
		known[item] = struct{}{}
	}
	var out []string
	for _, item := range a {
		if _, ok := known[item]; !ok {
			out = append(out, item)
		}
	}
	return out
}
