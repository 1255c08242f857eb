package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/finquery/finquery/internal/session"
)

// SessionResponse describes one session. ExpiresAt is derived from the last
// activity, so it moves forward as the session is used.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// SessionDeleteResponse confirms a deletion.
type SessionDeleteResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type sessionHandler struct {
	sessions *session.Store
	logger   *slog.Logger
}

func (h *sessionHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.create)
	mux.HandleFunc("GET /api/session/{id}", h.get)
	mux.HandleFunc("DELETE /api/session/{id}", h.delete)
}

func (h *sessionHandler) create(w http.ResponseWriter, _ *http.Request) {
	sess := h.sessions.Create("")
	h.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, newSessionResponse(sess, h.sessions.Timeout()))
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.sessions.Get(id)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess, h.sessions.Timeout()))
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.sessions.Delete(id); err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.logger.Info("session deleted", "session_id", id)
	writeJSON(w, http.StatusOK, SessionDeleteResponse{
		Message:   "Session deleted successfully",
		SessionID: id,
	})
}

// writeSessionError maps store errors onto the wire. Expired sessions are
// gone for every practical purpose, so both cases are 404; the code tells
// clients whether a new session is needed because of expiry.
func (h *sessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusNotFound, answerSessionExpired, codeSessionExpired, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, answerSessionNotFound, codeSessionNotFound, err.Error())
	default:
		h.logger.Error("session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, answerInternal, codeInternalError, err.Error())
	}
}

func newSessionResponse(sess *session.Session, ttl time.Duration) SessionResponse {
	return SessionResponse{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: sess.LastActivity.Add(ttl).UTC().Format(time.RFC3339),
	}
}
