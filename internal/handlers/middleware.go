package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/snappy-loop/storytime/internal/session"
)

// ContextKey is the type for context keys
type ContextKey string

// SessionKey is the context key for the resolved session
const SessionKey ContextKey = "session"

// withSession resolves {id} to a session and stores it in the request context.
func (h *Handler) withSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := h.sessions.Get(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), SessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// gated is withSession plus the credential gate: locked sessions get 403.
func (h *Handler) gated(next http.HandlerFunc) http.Handler {
	return h.withSession(func(w http.ResponseWriter, r *http.Request) {
		s, err := GetSession(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !s.Gate.Unlocked() {
			writeJSONError(w, http.StatusForbidden, "api key required: select a key first")
			return
		}
		next(w, r)
	})
}

// GetSession returns the session stored by withSession.
func GetSession(ctx context.Context) (*session.Session, error) {
	s, ok := ctx.Value(SessionKey).(*session.Session)
	if !ok || s == nil {
		return nil, errors.New("session not found in context")
	}
	return s, nil
}
