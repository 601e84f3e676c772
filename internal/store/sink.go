package store

import (
	"context"
	"sync"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// SessionSink records a decode run as a session. It implements sink.Sink
// and sink.Observer.
type SessionSink struct {
	repo *SessionRepository
	id   string

	mu       sync.Mutex
	position int
}

// NewSessionSink creates a running session and returns a sink writing to it.
func NewSessionSink(repo *SessionRepository, source, mode string) (*SessionSink, error) {
	sess := &Session{Source: source, Mode: mode}
	if err := repo.Create(sess); err != nil {
		return nil, err
	}
	return &SessionSink{repo: repo, id: sess.ID}, nil
}

// ID returns the session ID.
func (s *SessionSink) ID() string {
	return s.id
}

func (s *SessionSink) Append(_ context.Context, sym palette.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.AppendToken(s.id, s.position, sym); err != nil {
		return err
	}
	s.position++
	return nil
}

func (s *SessionSink) Finish(_ context.Context, program string) error {
	return s.repo.Finish(s.id, program)
}

func (s *SessionSink) Calibrated(_ context.Context, entries []palette.Entry) error {
	return s.repo.SetPalette(s.id, entries)
}

func (s *SessionSink) SeparatorLearned(_ context.Context, c chroma.Color) error {
	return s.repo.SetSeparator(s.id, c)
}

// Fail marks the session failed.
func (s *SessionSink) Fail(cause error) error {
	return s.repo.Fail(s.id, cause)
}
