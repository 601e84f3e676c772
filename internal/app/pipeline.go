package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/detector"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/sink"
	"github.com/ayusman/chromatape/internal/tokenizer"
)

// FrameResult describes what one pipeline step did.
type FrameResult struct {
	State tokenizer.State

	// Skipped is set when a static frame was not searched for the header.
	Skipped bool

	// Calibrated is set on the frame whose header produced the palette.
	Calibrated bool

	// Event is the tokenizer outcome for frames past calibration.
	Event tokenizer.Event

	// EndMarker is set when an end-of-body template was found.
	EndMarker bool

	// Done is set when decoding ended on this frame.
	Done bool
}

// Run reads frames until ctx is cancelled, an end marker is found, the
// header-check mode has its palette, or the camera fails. The program is
// handed to the sink in every case but a camera failure, which is returned
// wrapped in ErrCapture after the camera is released.
func (d *Decoder) Run(ctx context.Context) error {
	cam := d.deps.Camera

	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return ErrDone
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if !cam.IsOpen() {
		if err := cam.Open(); err != nil {
			return d.fail(fmt.Errorf("%w: %w", ErrCapture, err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stop requested", "state", d.State().String())
			d.Finish(context.WithoutCancel(ctx))
			return nil
		default:
		}

		frame, err := cam.ReadFrame()
		if err != nil {
			if cerr := cam.Close(); cerr != nil {
				d.logger.Warn("closing camera", "error", cerr)
			}
			return d.fail(fmt.Errorf("%w: %w", ErrCapture, err))
		}

		if d.Paused() {
			d.keepSnapshot(*frame)
			frame.Close()
			continue
		}

		res, err := d.ProcessFrame(ctx, *frame)
		frame.Close()
		if errors.Is(err, ErrDone) || res.Done {
			return nil
		}
	}
}

// ProcessFrame runs one pipeline step on frame. Before calibration it looks
// for the header and learns the palette from it; afterwards it checks for
// an end marker and feeds the body sample to the tokenizer. The configured
// brightness/contrast adjustment is applied to frame in place.
func (d *Decoder) ProcessFrame(ctx context.Context, frame gocv.Mat) (FrameResult, error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return FrameResult{}, ErrDone
	}
	d.frames++
	state := d.tok.State()
	d.mu.Unlock()

	d.cfg.Adjust.Apply(&frame)

	bounds := chroma.Bounds(frame.Rows(), frame.Cols())
	window := chroma.Clamp(chroma.Centered(bounds, d.cfg.SearchWidth, d.cfg.SearchHeight), bounds)

	var res FrameResult
	if state.Calibrated() {
		res = d.stepBody(ctx, frame, window)
	} else {
		res = d.locate(ctx, frame, window, bounds)
	}

	d.keepSnapshot(frame)
	return res, nil
}

func (d *Decoder) locate(ctx context.Context, frame gocv.Mat, window, bounds image.Rectangle) FrameResult {
	res := FrameResult{State: tokenizer.LocatingHeader}

	if d.deps.Motion != nil {
		moved, pct := d.deps.Motion.Detect(frame, window)
		d.mu.Lock()
		skip := !moved && d.static < d.cfg.MaxStaticFrames
		if skip {
			d.static++
			d.skipped++
		} else {
			d.static = 0
		}
		d.mu.Unlock()

		if skip {
			d.verbose("static frame skipped", "changed_pct", pct)
			res.Skipped = true
			return res
		}
		if !moved {
			// Searched anyway; later frames compare against this one.
			d.deps.Motion.Rebase(frame, window)
			d.verbose("static frame searched", "changed_pct", pct)
		}
	}

	results := d.deps.Locator.Locate(frame, window, d.headerTemplate)
	hdr, ok := detector.ResolveHeader(results, d.cfg.HeaderWidth, d.cfg.MinHeaderHeight, bounds)
	if !ok {
		return res
	}

	body, ok := detector.BodyRegion(hdr.BodyAnchor(), d.cfg.Body, bounds)
	if !ok {
		d.logger.Warn("header found but body region leaves the frame", "header", hdr.Rect.String())
		return res
	}

	d.mu.Lock()
	if err := d.tok.BeginCalibration(); err != nil {
		d.mu.Unlock()
		return res
	}
	d.mu.Unlock()

	p, err := d.calibrator.Calibrate(frame, hdr)

	d.mu.Lock()
	if err == nil {
		err = d.tok.Calibrate(p)
	}
	if err != nil {
		d.tok.AbortCalibration()
		d.mu.Unlock()
		d.logger.Warn("calibration failed", "header", hdr.Rect.String(), "error", err)
		return res
	}
	d.header, d.body = hdr, body
	res.State = d.tok.State()
	d.mu.Unlock()

	res.Calibrated = true
	entries := p.Entries()
	d.logger.Info("palette calibrated",
		"header", hdr.Rect.String(),
		"body", body.String(),
		"palette", formatEntries(entries))

	d.observe(ctx, "calibrated", func(ctx context.Context, o sink.Observer) error {
		return o.Calibrated(ctx, entries)
	})

	if d.cfg.Mode == ModeHeaderCheck {
		d.Finish(ctx)
		res.Done = true
	}
	return res
}

func (d *Decoder) stepBody(ctx context.Context, frame gocv.Mat, window image.Rectangle) FrameResult {
	if len(d.endTemplates) > 0 {
		results := d.deps.Locator.Locate(frame, window, d.endTemplates)
		if hit, ok := detector.AnyHit(results); ok {
			d.logger.Info("end marker found", "template", hit.Name, "score", hit.Score)
			d.Finish(ctx)
			return FrameResult{State: d.State(), EndMarker: true, Done: true}
		}
	}

	d.mu.RLock()
	body := d.body
	d.mu.RUnlock()

	region := frame.Region(body)
	sample, err := d.deps.Classifier.Dominant(region)
	region.Close()
	if err != nil {
		d.logger.Warn("body sample failed", "body", body.String(), "error", err)
		return FrameResult{State: d.State()}
	}

	d.mu.Lock()
	ev := d.tok.Step(sample)
	d.mu.Unlock()

	d.verbose("body sample",
		"sample", sample.String(),
		"from", ev.From.String(),
		"to", ev.To.String(),
		"changed", ev.Changed)

	if ev.Emitted {
		d.deliver(ctx, "append", func(ctx context.Context, s sink.Sink) error {
			return s.Append(ctx, ev.Symbol)
		})
	}
	if ev.Changed && ev.From == tokenizer.LearningSeparator {
		d.observe(ctx, "separator", func(ctx context.Context, o sink.Observer) error {
			return o.SeparatorLearned(ctx, ev.Sample)
		})
	}

	return FrameResult{State: ev.To, Event: ev}
}

// Finish ends decoding and hands the program to the sink once every
// earlier delivery has been made. Only the first call reaches the sink.
func (d *Decoder) Finish(ctx context.Context) error {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return nil
	}
	d.done = true
	program := d.tok.Program()
	d.mu.Unlock()

	d.logger.Info("decoding finished", "program", program, "tokens", len(program))

	s := d.deps.Sink
	if s == nil {
		return nil
	}
	err := d.out.call(func() error {
		return s.Finish(ctx, program)
	})
	if err != nil {
		d.sinkError("finish", err)
	}
	return err
}

// fail ends decoding after a fatal error and reports it to the sink once
// every earlier delivery has been made.
func (d *Decoder) fail(err error) error {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()

	if f, ok := d.deps.Sink.(sink.Failer); ok {
		if ferr := d.out.call(func() error { return f.Fail(err) }); ferr != nil {
			d.sinkError("fail", ferr)
		}
	}
	return err
}

// deliver queues a sink call. Queued calls outlive ctx cancellation so a
// stop request never loses symbols already emitted.
func (d *Decoder) deliver(ctx context.Context, op string, call func(context.Context, sink.Sink) error) {
	s := d.deps.Sink
	if s == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.out.send(func() {
		if err := call(ctx, s); err != nil {
			d.sinkError(op, err)
		}
	})
}

func (d *Decoder) observe(ctx context.Context, what string, call func(context.Context, sink.Observer) error) {
	if _, ok := d.deps.Sink.(sink.Observer); !ok {
		return
	}
	d.deliver(ctx, what, func(ctx context.Context, s sink.Sink) error {
		return call(ctx, s.(sink.Observer))
	})
}

func (d *Decoder) sinkError(op string, err error) {
	d.mu.Lock()
	d.sinkErrs++
	d.mu.Unlock()
	d.logger.Warn("sink failed", "op", op, "error", err)
}

func (d *Decoder) verbose(msg string, args ...any) {
	if d.cfg.Mode == ModeVerbose {
		d.logger.Info(msg, args...)
		return
	}
	d.logger.Debug(msg, args...)
}

// keepSnapshot copies frame for Snapshot. In verbose mode the copy is
// annotated; frame itself is never drawn on.
func (d *Decoder) keepSnapshot(frame gocv.Mat) {
	if !d.cfg.Preview || frame.Empty() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	frame.CopyTo(&d.snapshot)
	if d.cfg.Mode == ModeVerbose {
		d.drawOverlay(&d.snapshot)
	}
}

var (
	windowColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	headerColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// drawOverlay marks the search window, header, slots and body region.
// Callers hold d.mu.
func (d *Decoder) drawOverlay(img *gocv.Mat) {
	bounds := chroma.Bounds(img.Rows(), img.Cols())
	window := chroma.Clamp(chroma.Centered(bounds, d.cfg.SearchWidth, d.cfg.SearchHeight), bounds)
	gocv.Rectangle(img, window, windowColor, 1)

	if !d.tok.State().Calibrated() {
		return
	}

	gocv.Rectangle(img, d.header.Rect, headerColor, 1)
	if p := d.tok.Palette(); p != nil {
		for i, slot := range d.header.Slots(palette.Size) {
			if c, ok := p.Color(p.Order()[i]); ok {
				gocv.Rectangle(img, slot.Inset(-2), c.RGBA(), 1)
			}
		}
	}
	gocv.Rectangle(img, d.body, d.cfg.Tokenizer.DebugMarker.RGBA(), 2)
}

// Snapshot returns the last processed frame as JPEG.
func (d *Decoder) Snapshot() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.snapshot.Empty() {
		return nil, ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, d.snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func formatEntries(entries []palette.Entry) string {
	b := make([]byte, 0, len(entries)*12)
	for i, e := range entries {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, byte(e.Symbol), '=')
		b = append(b, e.Color.Hex()...)
	}
	return string(b)
}
