package sink

import (
	"context"
	"sync"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// Recorder keeps everything it receives in memory. It is used by tests and
// by the status endpoint.
type Recorder struct {
	mu        sync.Mutex
	symbols   []palette.Symbol
	program   string
	finished  bool
	entries   []palette.Entry
	separator *chroma.Color
	failure   error
	err       error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every later call return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Append(_ context.Context, sym palette.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.symbols = append(r.symbols, sym)
	return nil
}

func (r *Recorder) Finish(_ context.Context, program string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.program = program
	r.finished = true
	return nil
}

func (r *Recorder) Calibrated(_ context.Context, entries []palette.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append([]palette.Entry(nil), entries...)
	return nil
}

func (r *Recorder) SeparatorLearned(_ context.Context, c chroma.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.separator = &c
	return nil
}

// Fail records that the run ended with cause.
func (r *Recorder) Fail(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = cause
	return nil
}

// Failure returns the cause passed to Fail.
func (r *Recorder) Failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Symbols returns the appended symbols as a string.
func (r *Recorder) Symbols() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, len(r.symbols))
	for i, s := range r.symbols {
		b[i] = byte(s)
	}
	return string(b)
}

// Program returns the program passed to Finish and whether Finish was called.
func (r *Recorder) Program() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.program, r.finished
}

// Entries returns the calibrated palette entries.
func (r *Recorder) Entries() []palette.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]palette.Entry(nil), r.entries...)
}

// Separator returns the learned separator color.
func (r *Recorder) Separator() (chroma.Color, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.separator == nil {
		return chroma.Color{}, false
	}
	return *r.separator, true
}
