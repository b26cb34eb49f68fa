package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/snappy-loop/storytime/internal/models"
	"github.com/snappy-loop/storytime/internal/story"
)

// CreateStory handles POST /v1/sessions/{id}/story
func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req models.CreateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := models.ParseImageSize(req.ImageSize)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.Story.Generate(r.Context(), req.Topic, size); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storyResponse(s.Story.Snapshot()))
}

// GetStory handles GET /v1/sessions/{id}/story
func (h *Handler) GetStory(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, storyResponse(s.Story.Snapshot()))
}

// ResetStory handles DELETE /v1/sessions/{id}/story
func (h *Handler) ResetStory(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Story.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Narrate handles POST /v1/sessions/{id}/story/pages/{index}/narration and returns audio/wav
func (h *Handler) Narrate(w http.ResponseWriter, r *http.Request) {
	s, err := GetSession(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid page index")
		return
	}

	audio, err := s.Story.Narrate(r.Context(), index)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func storyResponse(snap story.Snapshot) models.StoryResponse {
	return models.StoryResponse{
		Phase:        string(snap.Phase),
		Step:         snap.Step,
		Story:        snap.Story,
		AudioPages:   snap.AudioPages,
		LoadingAudio: snap.LoadingAudio,
	}
}
