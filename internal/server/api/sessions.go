// Package api provides the HTTP handlers for stored decode sessions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/chromatape/internal/store"
)

// DefaultListLimit caps GET /api/sessions without a limit parameter.
const DefaultListLimit = 50

// SessionHandler handles HTTP requests for session resources.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// Register mounts the session routes on r.
func (h *SessionHandler) Register(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/program", h.program)
		r.Delete("/{id}", h.delete)
	})
}

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
	Total    int              `json:"total"`
}

type sessionResponse struct {
	*store.Session
	TokenList []store.Token `json:"token_list"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/sessions?limit=N, newest first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions, Total: len(sessions)})
}

// get handles GET /api/sessions/{id} and includes the stored tokens.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := h.store.Sessions()

	sess, err := repo.Get(id)
	if err != nil {
		h.fail(w, err, "Failed to get session")
		return
	}

	tokens, err := repo.Tokens(id)
	if err != nil {
		h.fail(w, err, "Failed to get session tokens")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, TokenList: tokens})
}

// program handles GET /api/sessions/{id}/program and returns the bare
// program text.
func (h *SessionHandler) program(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Sessions().Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "Failed to get session")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(sess.Program))
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Sessions().Delete(chi.URLParam(r, "id")); err != nil {
		h.fail(w, err, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) fail(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}
