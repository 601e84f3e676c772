// Package tokenizer turns per-frame body color samples into opcode symbols.
//
// The Tokenizer owns all decoding state: the frozen palette, the learned
// separator color, the current phase and the token stream. Each frame
// produces at most one transition, and a transition depends only on the
// current state, the sample, the palette and the separator.
package tokenizer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// State is a phase of the decoding state machine.
type State int

const (
	// LocatingHeader waits for a frame in which both header markers resolve.
	LocatingHeader State = iota
	// Calibrating learns the palette from the frame that resolved the header.
	Calibrating
	// LearningSeparator takes the first accepted body sample as the separator.
	LearningSeparator
	// AwaitingInstruction waits for a body sample matching a palette color.
	AwaitingInstruction
	// AwaitingSeparator waits for the body to return to the separator color.
	AwaitingSeparator
)

func (s State) String() string {
	switch s {
	case LocatingHeader:
		return "LOCATING_HEADER"
	case Calibrating:
		return "CALIBRATING"
	case LearningSeparator:
		return "LEARNING_SEPARATOR"
	case AwaitingInstruction:
		return "AWAITING_INSTRUCTION"
	case AwaitingSeparator:
		return "AWAITING_SEPARATOR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Calibrated reports whether the palette has been frozen in this state.
func (s State) Calibrated() bool {
	return s >= LearningSeparator
}

var (
	// ErrNotCalibrating is returned by Calibrate outside the Calibrating state.
	ErrNotCalibrating = errors.New("tokenizer is not calibrating")
	// ErrCalibrated is returned by BeginCalibration once the palette is frozen.
	ErrCalibrated = errors.New("tokenizer is already calibrated")
)

// DebugMarker is the overlay color that separator learning ignores.
var DebugMarker = chroma.BGR(0, 255, 255)

// Config holds the tokenizer settings.
type Config struct {
	// Threshold is the squared BGR distance under which two colors match.
	Threshold int

	// DebugMarker is a color never accepted as the separator.
	DebugMarker chroma.Color

	// RejectDebugMarker enables the DebugMarker rule.
	RejectDebugMarker bool

	Logger *slog.Logger
}

// DefaultConfig returns the tokenizer defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         chroma.DefaultThreshold,
		DebugMarker:       DebugMarker,
		RejectDebugMarker: true,
	}
}

// Event describes the outcome of one Step.
type Event struct {
	From    State
	To      State
	Sample  chroma.Color
	Symbol  palette.Symbol
	Emitted bool
	// Changed is false for an ambiguous or ignored sample.
	Changed bool
}

// Tokenizer is the body state machine. It is not safe for concurrent use.
type Tokenizer struct {
	cfg    Config
	logger *slog.Logger

	state     State
	palette   *palette.Palette
	separator chroma.Color
	learned   bool
	program   strings.Builder
}

// New creates a Tokenizer in the LocatingHeader state.
func New(cfg Config) *Tokenizer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = chroma.DefaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tokenizer{cfg: cfg, logger: logger, state: LocatingHeader}
}

// State returns the current phase.
func (t *Tokenizer) State() State {
	return t.state
}

// Palette returns the frozen palette, or nil before calibration.
func (t *Tokenizer) Palette() *palette.Palette {
	return t.palette
}

// Separator returns the learned separator color.
func (t *Tokenizer) Separator() (chroma.Color, bool) {
	return t.separator, t.learned
}

// Program returns every symbol emitted so far.
func (t *Tokenizer) Program() string {
	return t.program.String()
}

// Len returns the number of emitted symbols.
func (t *Tokenizer) Len() int {
	return t.program.Len()
}

// BeginCalibration enters Calibrating after the header has been resolved.
// Calling it again while calibrating is a no-op.
func (t *Tokenizer) BeginCalibration() error {
	switch t.state {
	case LocatingHeader:
		t.transition(Calibrating)
		return nil
	case Calibrating:
		return nil
	default:
		return ErrCalibrated
	}
}

// AbortCalibration returns to LocatingHeader when the header frame could
// not produce a complete palette.
func (t *Tokenizer) AbortCalibration() {
	if t.state == Calibrating {
		t.transition(LocatingHeader)
	}
}

// Calibrate freezes p and moves on to separator learning.
func (t *Tokenizer) Calibrate(p *palette.Palette) error {
	if t.state != Calibrating {
		return fmt.Errorf("%w: state is %s", ErrNotCalibrating, t.state)
	}
	if !p.Frozen() {
		if err := p.Freeze(); err != nil {
			return err
		}
	}

	t.palette = p
	t.transition(LearningSeparator)
	return nil
}

// Step feeds one body sample to the state machine. Samples before
// calibration are ignored.
func (t *Tokenizer) Step(sample chroma.Color) Event {
	ev := Event{From: t.state, To: t.state, Sample: sample}

	switch t.state {
	case LearningSeparator:
		if t.cfg.RejectDebugMarker && chroma.Similar(sample, t.cfg.DebugMarker, t.cfg.Threshold) {
			t.logger.Debug("debug marker sample ignored", "sample", sample.String())
			return ev
		}
		t.separator = sample
		t.learned = true
		t.logger.Info("separator learned", "color", sample.String())
		ev.To = AwaitingInstruction

	case AwaitingInstruction:
		e, dist, ok := t.palette.Nearest(sample)
		t.logger.Debug("instruction sample",
			"sample", sample.String(),
			"nearest", e.Symbol.String(),
			"distance", dist)
		if !ok || dist >= t.cfg.Threshold {
			return ev
		}
		t.program.WriteByte(byte(e.Symbol))
		ev.Symbol = e.Symbol
		ev.Emitted = true
		ev.To = AwaitingSeparator
		t.logger.Info("token", "symbol", e.Symbol.String(), "position", t.program.Len()-1)

	case AwaitingSeparator:
		dist := chroma.SquaredDistance(sample, t.separator)
		t.logger.Debug("separator sample", "sample", sample.String(), "distance", dist)
		if dist >= t.cfg.Threshold {
			return ev
		}
		ev.To = AwaitingInstruction

	default:
		return ev
	}

	ev.Changed = true
	t.transition(ev.To)
	return ev
}

func (t *Tokenizer) transition(to State) {
	if to == t.state {
		return
	}
	t.logger.Debug("state transition", "from", t.state.String(), "to", to.String())
	t.state = to
}
