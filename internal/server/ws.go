package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/sink"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin accepts clients without an Origin header, pages served by
// this server and pages served from the local machine.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Hub broadcasts decoder events to WebSocket clients. It is a sink.Sink,
// sink.Observer and sink.Failer, so it can be added to the decoder's
// sink.Multi. Clients that cannot keep up are dropped; a slow client
// never fails the decoder.
type Hub struct {
	run    string
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	position int
}

// NewHub creates a Hub tagging every message with run.
func NewHub(run string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		run:     run,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("token client connected", "remote", r.RemoteAddr, "clients", n)

	defer h.drop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) Append(_ context.Context, sym palette.Symbol) error {
	h.mu.Lock()
	pos := h.position
	h.position++
	h.mu.Unlock()

	h.broadcast(sink.Message{Kind: sink.KindToken, Position: pos, Symbol: sym.String()})
	return nil
}

func (h *Hub) Finish(_ context.Context, program string) error {
	h.broadcast(sink.Message{Kind: sink.KindProgram, Program: program})
	return nil
}

func (h *Hub) Calibrated(_ context.Context, entries []palette.Entry) error {
	h.broadcast(sink.Message{Kind: sink.KindPalette, Palette: entries})
	return nil
}

func (h *Hub) SeparatorLearned(_ context.Context, c chroma.Color) error {
	h.broadcast(sink.Message{Kind: sink.KindSeparator, Separator: &c})
	return nil
}

func (h *Hub) Fail(cause error) error {
	msg := sink.Message{Kind: sink.KindError}
	if cause != nil {
		msg.Error = cause.Error()
	}
	h.broadcast(msg)
	return nil
}

func (h *Hub) broadcast(msg sink.Message) {
	msg.Run = h.run
	msg.Time = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("marshal token message", "kind", msg.Kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("dropping token client", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}
