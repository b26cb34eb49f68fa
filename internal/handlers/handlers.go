package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/chat"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/session"
	"github.com/snappy-loop/storytime/internal/story"
)

// Sessions is the session store the handlers serve.
type Sessions interface {
	Create(ctx context.Context) *session.Session
	Get(id string) (*session.Session, error)
	Delete(id string) error
	Len() int
}

// Handler contains all HTTP handlers
type Handler struct {
	sessions Sessions
	hub      *events.Hub
}

// NewHandler creates a new handler. hub may be nil, in which case the events endpoint is unavailable.
func NewHandler(sessions Sessions, hub *events.Hub) *Handler {
	return &Handler{sessions: sessions, hub: hub}
}

// Register mounts every route on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.Handle("/sessions/{id}", h.withSession(h.DeleteSession)).Methods("DELETE")
	api.Handle("/sessions/{id}/gate", h.withSession(h.GetGate)).Methods("GET")
	api.Handle("/sessions/{id}/gate/select", h.withSession(h.SelectKey)).Methods("POST")
	api.Handle("/sessions/{id}/events", h.withSession(h.Events)).Methods("GET")

	api.Handle("/sessions/{id}/story", h.gated(h.CreateStory)).Methods("POST")
	api.Handle("/sessions/{id}/story", h.gated(h.GetStory)).Methods("GET")
	api.Handle("/sessions/{id}/story", h.gated(h.ResetStory)).Methods("DELETE")
	api.Handle("/sessions/{id}/story/pages/{index}/narration", h.gated(h.Narrate)).Methods("POST")
	api.Handle("/sessions/{id}/chat", h.gated(h.SendChat)).Methods("POST")
	api.Handle("/sessions/{id}/chat", h.gated(h.GetChat)).Methods("GET")
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeError maps domain errors to status codes. Alerts carry their user-facing message.
func writeError(w http.ResponseWriter, err error) {
	var alert *story.Alert
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, credential.ErrCredentialMissing):
		writeJSONError(w, http.StatusForbidden, "api key required")
	case errors.Is(err, story.ErrNoStory):
		writeJSONError(w, http.StatusConflict, "no story to narrate")
	case errors.Is(err, story.ErrPageOutOfRange):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, story.ErrSuperseded):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrBusy):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &alert):
		writeJSONError(w, http.StatusBadGateway, alert.Message)
	default:
		log.Error().Err(err).Msg("Unhandled request error")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
