package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func newRouter(s *store.Store) http.Handler {
	r := chi.NewRouter()
	NewSessionHandler(s).Register(r)
	return r
}

// finishedSession stores a session that decoded program.
func finishedSession(t *testing.T, s *store.Store, program string) *store.Session {
	t.Helper()

	repo := s.Sessions()
	sess := &store.Session{Source: "0"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := repo.SetPalette(sess.ID, []palette.Entry{{Symbol: '+', Color: chroma.BGR(0, 0, 200)}}); err != nil {
		t.Fatalf("failed to set palette: %v", err)
	}
	for i, r := range program {
		if err := repo.AppendToken(sess.ID, i, palette.Symbol(r)); err != nil {
			t.Fatalf("failed to append token: %v", err)
		}
	}
	if err := repo.Finish(sess.ID, program); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}
	return sess
}

func TestSessionHandler_List(t *testing.T) {
	s := newTestStore(t)
	finishedSession(t, s, "+")
	finishedSession(t, s, "++")
	finishedSession(t, s, "+++")
	router := newRouter(s)

	tests := []struct {
		name   string
		query  string
		status int
		total  int
	}{
		{"default limit", "", http.StatusOK, 3},
		{"limited", "?limit=2", http.StatusOK, 2},
		{"zero means all", "?limit=0", http.StatusOK, 3},
		{"not a number", "?limit=abc", http.StatusBadRequest, 0},
		{"negative", "?limit=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions"+tt.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var response listSessionsResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Total != tt.total || len(response.Sessions) != tt.total {
				t.Errorf("expected %d sessions, got total=%d len=%d", tt.total, response.Total, len(response.Sessions))
			}
		})
	}
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	router := newRouter(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if sessions, ok := response["sessions"].([]any); !ok || len(sessions) != 0 {
		t.Errorf("expected an empty sessions array, got %v", response["sessions"])
	}
}

func TestSessionHandler_Get(t *testing.T) {
	s := newTestStore(t)
	sess := finishedSession(t, s, "+-")
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		ID        string          `json:"id"`
		Status    string          `json:"status"`
		Program   string          `json:"program"`
		Tokens    int             `json:"tokens"`
		Palette   []palette.Entry `json:"palette"`
		TokenList []store.Token   `json:"token_list"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.ID != sess.ID || response.Status != "finished" || response.Program != "+-" {
		t.Errorf("unexpected session %+v", response)
	}
	if response.Tokens != 2 || len(response.TokenList) != 2 {
		t.Fatalf("expected 2 tokens, got %d / %d", response.Tokens, len(response.TokenList))
	}
	if response.TokenList[0].Symbol != "+" || response.TokenList[1].Symbol != "-" {
		t.Errorf("unexpected tokens %+v", response.TokenList)
	}
	if len(response.Palette) != 1 || response.Palette[0].Symbol != '+' {
		t.Errorf("unexpected palette %+v", response.Palette)
	}
}

func TestSessionHandler_Program(t *testing.T) {
	s := newTestStore(t)
	sess := finishedSession(t, s, "+[>,]")
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/program", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "+[>,]" {
		t.Errorf("expected program %q, got %q", "+[>,]", got)
	}
}

func TestSessionHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	sess := finishedSession(t, s, "+")
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if _, err := s.Sessions().Get(sess.ID); err == nil {
		t.Error("expected session to be deleted")
	}
}

func TestSessionHandler_NotFound(t *testing.T) {
	router := newRouter(newTestStore(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/sessions/missing"},
		{http.MethodGet, "/api/sessions/missing/program"},
		{http.MethodDelete, "/api/sessions/missing"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected status 404, got %d", rec.Code)
			}

			var response errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Error != "Session not found" {
				t.Errorf("unexpected error %q", response.Error)
			}
		})
	}
}
