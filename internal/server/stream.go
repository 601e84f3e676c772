package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/chromatape/internal/app"
)

// Snapshotter returns the latest preview frame as JPEG.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// StreamHandler serves the decoder preview as MJPEG.
type StreamHandler struct {
	source   Snapshotter
	logger   *slog.Logger
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler pushing about 15 frames per
// second.
func NewStreamHandler(source Snapshotter, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		source:   source,
		logger:   logger,
		interval: 66 * time.Millisecond,
	}
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		jpeg, err := h.source.Snapshot()
		switch {
		case errors.Is(err, app.ErrNoFrame):
		case err != nil:
			h.logger.Debug("preview frame unavailable", "error", err)
		default:
			if err := writePart(w, jpeg); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
