// Package server provides the HTTP surface of the decoder: health, status,
// a live preview, the token stream and the session history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ayusman/chromatape/internal/app"
	"github.com/ayusman/chromatape/internal/server/api"
	"github.com/ayusman/chromatape/internal/store"
)

// Decoder is the part of app.Decoder the server reads.
type Decoder interface {
	Status() app.Status
	Snapshot() ([]byte, error)
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Decoder   Decoder
	Hub       *Hub
	Logger    *slog.Logger
}

// Server is the HTTP server of the application.
type Server struct {
	config Config
	router *chi.Mux
	logger *slog.Logger
	start  time.Time
}

// New creates a new Server with the given configuration. Routes whose
// dependency is missing from config are not registered.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		router: chi.NewRouter(),
		logger: logger,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	if s.config.Decoder != nil {
		r.Get("/api/status", s.handleStatus)
		r.Method(http.MethodGet, "/api/stream", NewStreamHandler(s.config.Decoder, s.logger))
	}

	if s.config.Hub != nil {
		r.Method(http.MethodGet, "/api/tokens", s.config.Hub)
	}

	if s.config.Store != nil {
		api.NewSessionHandler(s.config.Store).Register(r)
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Decoder.Status())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
