package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/models"
)

// keyOfferer is a credential capability that accepts a key typed in by the user.
type keyOfferer interface {
	Offer(key credential.Key)
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: s.ID,
		Gate:      gateResponse(s.Gate),
		CreatedAt: s.CreatedAt,
	})
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.sessions.Delete(s.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGate handles GET /v1/sessions/{id}/gate
func (h *Handler) GetGate(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gateResponse(s.Gate))
}

// SelectKey handles POST /v1/sessions/{id}/gate/select
func (h *Handler) SelectKey(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req models.SelectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey != "" {
		if offerer, ok := s.Provider().(keyOfferer); ok {
			offerer.Offer(credential.Key(req.APIKey))
		}
	}

	if _, err := s.Gate.Select(r.Context()); err != nil {
		if errors.Is(err, credential.ErrEntityNotFound) {
			writeJSON(w, http.StatusForbidden, gateResponse(s.Gate))
			return
		}
		log.Error().Err(err).Str("session_id", s.ID).Msg("Key selection failed")
		writeJSONError(w, http.StatusBadGateway, "key selection failed")
		return
	}
	writeJSON(w, http.StatusOK, gateResponse(s.Gate))
}

func gateResponse(g *credential.Gate) models.GateResponse {
	return models.GateResponse{State: string(g.State()), Alert: g.Alert()}
}
