// Package app wires the decoding pipeline: it reads frames from a camera,
// finds and calibrates the header, runs the body tokenizer and feeds the
// resulting symbols to a sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/capture"
	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/classifier"
	"github.com/ayusman/chromatape/internal/detector"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/sink"
	"github.com/ayusman/chromatape/internal/tokenizer"
)

// Pipeline defaults.
const (
	// DefaultSearchSize is the side of the centered search window.
	DefaultSearchSize = 512
	// DefaultMinHeaderHeight lets every header slot span at least one row.
	DefaultMinHeaderHeight = palette.Size
	// DefaultMaxStaticFrames bounds how long static frames go unsearched.
	DefaultMaxStaticFrames = 15
	// DefaultSinkQueue is the number of sink deliveries that may be pending.
	DefaultSinkQueue = 256
)

var (
	// ErrCapture wraps every frame source failure. It is fatal.
	ErrCapture = errors.New("capture failed")
	// ErrDone is returned by ProcessFrame once decoding has ended.
	ErrDone = errors.New("decoding finished")
	// ErrNoFrame is returned by Snapshot before the first frame.
	ErrNoFrame = errors.New("no frame captured yet")
	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrMissingDependency is returned by NewDecoder for an incomplete Deps.
	ErrMissingDependency = errors.New("missing decoder dependency")
)

// Mode selects how much the decoder reports and when it stops.
type Mode string

const (
	// ModeDecode decodes quietly until stopped or an end marker shows up.
	ModeDecode Mode = "decode"
	// ModeVerbose also logs every sample and annotates the preview.
	ModeVerbose Mode = "verbose"
	// ModeHeaderCheck stops as soon as the palette is learned.
	ModeHeaderCheck Mode = "header-check"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDecode, ModeVerbose, ModeHeaderCheck:
		return m, nil
	case "":
		return ModeDecode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Config holds the decoder settings.
type Config struct {
	Mode      Mode
	Order     palette.Order
	Tokenizer tokenizer.Config
	Body      detector.BodyConfig

	SearchWidth     int
	SearchHeight    int
	HeaderWidth     int
	MinHeaderHeight int

	Adjust capture.Adjustment

	// MaxStaticFrames is the longest run of frames skipped by the motion
	// detector; the frame after it is searched anyway.
	MaxStaticFrames int

	// SinkQueue is the capacity of the sink delivery queue.
	SinkQueue int

	// Preview keeps a copy of the last frame for Snapshot.
	Preview bool

	Logger *slog.Logger
}

// DefaultConfig returns a Config with the standard geometry.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeDecode,
		Order:           palette.DefaultOrder(),
		Tokenizer:       tokenizer.DefaultConfig(),
		Body:            detector.DefaultBodyConfig(),
		SearchWidth:     DefaultSearchSize,
		SearchHeight:    DefaultSearchSize,
		HeaderWidth:     detector.DefaultHeaderWidth,
		MinHeaderHeight: DefaultMinHeaderHeight,
		Adjust:          capture.NoAdjustment(),
		MaxStaticFrames: DefaultMaxStaticFrames,
		SinkQueue:       DefaultSinkQueue,
	}
}

// Deps are the collaborators of a Decoder.
type Deps struct {
	Camera     capture.Camera
	Locator    detector.Detector
	Header     *detector.Library // must hold header_start and header_end
	End        *detector.Library // optional end-of-body markers
	Classifier classifier.Classifier
	Sink       sink.Sink               // optional
	Motion     *capture.MotionDetector // optional; skips static frames while locating
}

// Status is a point-in-time view of the decoder.
type Status struct {
	Mode      Mode            `json:"mode"`
	State     string          `json:"state"`
	Running   bool            `json:"running"`
	Paused    bool            `json:"paused"`
	Done      bool            `json:"done"`
	Frames    int             `json:"frames"`
	Skipped   int             `json:"skipped"`
	Tokens    int             `json:"tokens"`
	Program   string          `json:"program"`
	Palette   []palette.Entry `json:"palette,omitempty"`
	Separator *chroma.Color   `json:"separator,omitempty"`
	SinkErrs  int             `json:"sink_errors"`
	Error     string          `json:"error,omitempty"`
}

// Decoder runs one decode session. ProcessFrame is the single pipeline step;
// Run and Start drive it from the camera.
type Decoder struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	calibrator     *palette.Calibrator
	headerTemplate []*detector.Template
	endTemplates   []*detector.Template

	// Owned by the frame loop; read by Status under mu.
	mu       sync.RWMutex
	tok      *tokenizer.Tokenizer
	header   detector.Header
	body     image.Rectangle
	frames   int
	skipped  int
	static   int // consecutive skipped frames
	sinkErrs int
	done     bool
	running  bool
	runErr   error
	paused   bool
	snapshot gocv.Mat

	cancel  context.CancelFunc
	stopped chan struct{}

	// Delivers to deps.Sink off the frame loop; nil without a sink.
	out *dispatcher
}

// NewDecoder validates deps and builds a Decoder in the LOCATING_HEADER
// state.
func NewDecoder(cfg Config, deps Deps) (*Decoder, error) {
	if deps.Camera == nil || deps.Locator == nil || deps.Header == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("%w: camera, locator, header templates and classifier are required", ErrMissingDependency)
	}

	headerTemplates := deps.Header.Select(detector.HeaderStart, detector.HeaderEnd)
	if len(headerTemplates) != 2 {
		return nil, fmt.Errorf("%w: header library needs %s and %s", detector.ErrMissingTemplate, detector.HeaderStart, detector.HeaderEnd)
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeDecode
	}
	if cfg.Order == (palette.Order{}) {
		cfg.Order = palette.DefaultOrder()
	}
	if cfg.SearchWidth <= 0 {
		cfg.SearchWidth = DefaultSearchSize
	}
	if cfg.SearchHeight <= 0 {
		cfg.SearchHeight = DefaultSearchSize
	}
	if cfg.HeaderWidth <= 0 {
		cfg.HeaderWidth = detector.DefaultHeaderWidth
	}
	if cfg.MinHeaderHeight <= 0 {
		cfg.MinHeaderHeight = DefaultMinHeaderHeight
	}
	if cfg.MaxStaticFrames <= 0 {
		cfg.MaxStaticFrames = DefaultMaxStaticFrames
	}
	if cfg.SinkQueue <= 0 {
		cfg.SinkQueue = DefaultSinkQueue
	}
	if cfg.Adjust == (capture.Adjustment{}) {
		cfg.Adjust = capture.NoAdjustment()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tokenizer.Logger == nil {
		cfg.Tokenizer.Logger = logger
	}

	d := &Decoder{
		cfg:            cfg,
		deps:           deps,
		logger:         logger,
		calibrator:     palette.NewCalibrator(cfg.Order, deps.Classifier, logger),
		headerTemplate: headerTemplates,
		tok:            tokenizer.New(cfg.Tokenizer),
		snapshot:       gocv.NewMat(),
	}
	if deps.End != nil {
		d.endTemplates = deps.End.All()
	}
	if deps.Sink != nil {
		d.out = newDispatcher(cfg.SinkQueue)
	}

	return d, nil
}

// Mode returns the configured mode.
func (d *Decoder) Mode() Mode {
	return d.cfg.Mode
}

// SetPaused suspends or resumes processing. Frames are still read while
// paused so the preview stays live.
func (d *Decoder) SetPaused(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused != paused {
		d.logger.Info("decoder paused", "paused", paused)
	}
	d.paused = paused
}

// Paused reports whether processing is suspended.
func (d *Decoder) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

// Status returns the current decoder status.
func (d *Decoder) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Mode:     d.cfg.Mode,
		State:    d.tok.State().String(),
		Running:  d.running || d.stopped != nil,
		Paused:   d.paused,
		Done:     d.done,
		Frames:   d.frames,
		Skipped:  d.skipped,
		Tokens:   d.tok.Len(),
		Program:  d.tok.Program(),
		SinkErrs: d.sinkErrs,
	}
	if p := d.tok.Palette(); p != nil {
		st.Palette = p.Entries()
	}
	if c, ok := d.tok.Separator(); ok {
		st.Separator = &c
	}
	if d.runErr != nil {
		st.Error = d.runErr.Error()
	}
	return st
}

// Program returns the symbols decoded so far.
func (d *Decoder) Program() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tok.Program()
}

// State returns the tokenizer state.
func (d *Decoder) State() tokenizer.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tok.State()
}

// Start runs the decoder in the background until Stop, ctx cancellation,
// an end marker or a capture failure. Starting a running decoder is a
// no-op.
func (d *Decoder) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped != nil {
		return nil
	}
	if d.done {
		return ErrDone
	}

	if !d.deps.Camera.IsOpen() {
		if err := d.deps.Camera.Open(); err != nil {
			return fmt.Errorf("%w: %w", ErrCapture, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	d.cancel = cancel
	d.stopped = stopped

	go func() {
		defer close(stopped)
		err := d.Run(ctx)

		d.mu.Lock()
		d.runErr = err
		d.stopped = nil
		d.cancel = nil
		d.mu.Unlock()

		if err != nil {
			d.logger.Error("decoder stopped", "error", err)
		}
	}()

	d.logger.Info("decoder started", "mode", string(d.cfg.Mode))
	return nil
}

// Stop cancels a running decoder, waits for it and returns the error Run
// ended with.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	cancel, stopped := d.cancel, d.stopped
	d.mu.Unlock()

	if stopped != nil {
		cancel()
		<-stopped
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runErr
}

// Wait blocks until a started decoder finishes on its own or is stopped.
func (d *Decoder) Wait() error {
	d.mu.RLock()
	stopped := d.stopped
	d.mu.RUnlock()

	if stopped != nil {
		<-stopped
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runErr
}

// Flush waits until every sink delivery queued so far has completed.
func (d *Decoder) Flush() {
	if d.out != nil {
		d.out.flush()
	}
}

// Close delivers pending sink calls and releases the camera, the motion
// detector and the preview frame.
func (d *Decoder) Close() error {
	err := d.Stop()

	if d.out != nil {
		d.out.close()
	}

	if cerr := d.deps.Camera.Close(); cerr != nil {
		d.logger.Warn("closing camera", "error", cerr)
	}
	if d.deps.Motion != nil {
		d.deps.Motion.Close()
	}

	d.mu.Lock()
	d.snapshot.Close()
	d.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
