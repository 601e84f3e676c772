package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/sink"
)

var (
	// ErrUnsupportedAction is returned when the consumer does not declare
	// the consume action.
	ErrUnsupportedAction = errors.New("plugin does not support action")
	// ErrPluginFailed is returned when the consumer replies with success=false.
	ErrPluginFailed = errors.New("plugin reported failure")
)

var (
	_ sink.Sink     = (*Sink)(nil)
	_ sink.Observer = (*Sink)(nil)
)

// SinkConfig selects the consumer plugin and what it is sent.
type SinkConfig struct {
	Consumer string
	Session  string
	Config   json.RawMessage
	Logger   *slog.Logger
}

// Sink hands the finished program to a consumer plugin. Symbols are not
// forwarded one by one; the consumer runs once, on Finish.
type Sink struct {
	plugin   *Plugin
	executor *Executor
	cfg      SinkConfig
	logger   *slog.Logger

	mu       sync.Mutex
	entries  []palette.Entry
	response *Response
}

// NewSink resolves the consumer in m and returns a sink running it with e.
func NewSink(m *Manager, e *Executor, cfg SinkConfig) (*Sink, error) {
	p, err := m.Get(cfg.Consumer)
	if err != nil {
		return nil, fmt.Errorf("consumer %q: %w", cfg.Consumer, err)
	}
	if !p.Manifest.Supports(ActionConsume) {
		return nil, fmt.Errorf("consumer %q: %w %q", cfg.Consumer, ErrUnsupportedAction, ActionConsume)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{plugin: p, executor: e, cfg: cfg, logger: logger}, nil
}

// SetSession sets the session ID sent with the program.
func (s *Sink) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Session = id
}

func (s *Sink) Append(context.Context, palette.Symbol) error {
	return nil
}

func (s *Sink) Calibrated(_ context.Context, entries []palette.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]palette.Entry(nil), entries...)
	return nil
}

func (s *Sink) SeparatorLearned(context.Context, chroma.Color) error {
	return nil
}

// Finish runs the consumer with the program.
func (s *Sink) Finish(ctx context.Context, program string) error {
	s.mu.Lock()
	req := &Request{
		Action:  ActionConsume,
		Program: program,
		Session: s.cfg.Session,
		Palette: s.entries,
		Config:  s.cfg.Config,
	}
	s.mu.Unlock()

	resp, err := s.executor.Execute(ctx, s.plugin, req)
	if err != nil {
		return fmt.Errorf("consumer %q: %w", s.plugin.Manifest.Name, err)
	}

	s.mu.Lock()
	s.response = resp
	s.mu.Unlock()

	if !resp.Success {
		return fmt.Errorf("consumer %q: %w: %s", s.plugin.Manifest.Name, ErrPluginFailed, resp.Error)
	}

	s.logger.Info("program handed to consumer", "plugin", s.plugin.Manifest.Name, "length", len(program))
	return nil
}

// Response returns the consumer's last reply, or nil before Finish.
func (s *Sink) Response() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}
