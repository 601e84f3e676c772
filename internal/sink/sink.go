// Package sink defines where decoded tokens go.
//
// A Sink receives each symbol as soon as it is emitted and the complete
// program when decoding ends. Sinks that also care about calibration
// implement Observer.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// Sink consumes the token stream.
type Sink interface {
	// Append is called once per emitted symbol, in emission order.
	Append(ctx context.Context, sym palette.Symbol) error
	// Finish is called once with the full program when decoding ends.
	Finish(ctx context.Context, program string) error
}

// Observer is implemented by sinks that record calibration results.
type Observer interface {
	Calibrated(ctx context.Context, entries []palette.Entry) error
	SeparatorLearned(ctx context.Context, c chroma.Color) error
}

// Failer is implemented by sinks that record a decode run ending in error.
type Failer interface {
	Fail(cause error) error
}

// Multi fans every call out to several sinks. All sinks are called even if
// one fails; the errors are joined.
type Multi []Sink

func (m Multi) Append(ctx context.Context, sym palette.Symbol) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, sym); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Finish(ctx context.Context, program string) error {
	var errs []error
	for _, s := range m {
		if err := s.Finish(ctx, program); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Calibrated forwards to every sink that is an Observer.
func (m Multi) Calibrated(ctx context.Context, entries []palette.Entry) error {
	var errs []error
	for _, s := range m {
		if o, ok := s.(Observer); ok {
			if err := o.Calibrated(ctx, entries); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SeparatorLearned forwards to every sink that is an Observer.
func (m Multi) SeparatorLearned(ctx context.Context, c chroma.Color) error {
	var errs []error
	for _, s := range m {
		if o, ok := s.(Observer); ok {
			if err := o.SeparatorLearned(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Fail forwards to every sink that is a Failer.
func (m Multi) Fail(cause error) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(Failer); ok {
			if err := f.Fail(cause); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Writer streams symbols to an io.Writer and ends the program with a newline.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer sink over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Append(_ context.Context, sym palette.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write([]byte{byte(sym)}); err != nil {
		return fmt.Errorf("write symbol: %w", err)
	}
	return nil
}

func (s *Writer) Finish(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, "\n"); err != nil {
		return fmt.Errorf("write program end: %w", err)
	}
	return nil
}
