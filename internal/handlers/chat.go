package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/snappy-loop/storytime/internal/models"
)

// SendChat handles POST /v1/sessions/{id}/chat
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req models.SendChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.Chat.Send(r.Context(), req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{Messages: s.Chat.Transcript(), Typing: s.Chat.Typing()})
}

// GetChat handles GET /v1/sessions/{id}/chat
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{Messages: s.Chat.Transcript(), Typing: s.Chat.Typing()})
}
