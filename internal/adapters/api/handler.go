package api

import (
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tweetwatch/internal/adapters/ws"
	"tweetwatch/internal/domain"
	"tweetwatch/internal/usecase/admin"
)

// Handler принимает административные уведомления от CRUD-слоя и
// обслуживает websocket-подписки клиентов.
type Handler struct {
	hooks *admin.Hooks
	hub   *ws.Hub
	log   zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(hooks *admin.Hooks, hub *ws.Hub, log zerolog.Logger) *Handler {
	return &Handler{hooks: hooks, hub: hub, log: log}
}

// Register вешает маршруты на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/internal", func(r chi.Router) {
		r.Post("/topics/created", h.topicCreated)
		r.Post("/topics/updated", h.topicUpdated)
		r.Post("/topics/removed", h.topicRemoved)
		r.Post("/handles/created", h.handleCreated)
		r.Post("/handles/removed", h.handleRemoved)
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(h.hub, h.log, w, r)
	})
}

type topicPayload struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

func (p topicPayload) toDomain() domain.Topic {
	return domain.Topic{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Keywords:    p.Keywords,
	}
}

type handlePayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	CampID   *int64 `json:"camp_id"`
}

func (p handlePayload) toDomain() domain.Handle {
	handle := domain.Handle{
		ID:       p.ID,
		Username: p.Username,
		Name:     p.Name,
	}
	if p.CampID != nil {
		camp := domain.Camp(*p.CampID)
		handle.CampID = &camp
	}
	return handle
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("api: неразборчивое тело запроса")
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) topicCreated(w http.ResponseWriter, r *http.Request) {
	var payload topicPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.hooks.TopicCreated(payload.toDomain())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) topicUpdated(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Old topicPayload `json:"old"`
		New topicPayload `json:"new"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.hooks.TopicUpdated(payload.Old.toDomain(), payload.New.toDomain())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) topicRemoved(w http.ResponseWriter, r *http.Request) {
	var payload topicPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.hooks.TopicRemoved(payload.toDomain())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreated(w http.ResponseWriter, r *http.Request) {
	var payload handlePayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.hooks.HandleCreated(r.Context(), payload.toDomain())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoved(w http.ResponseWriter, r *http.Request) {
	var payload handlePayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.hooks.HandleRemoved(r.Context(), payload.toDomain())
	w.WriteHeader(http.StatusNoContent)
}
