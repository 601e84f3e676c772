package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ayusman/chromatape/internal/capture"
	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/classifier"
	"github.com/ayusman/chromatape/internal/detector"
	"github.com/ayusman/chromatape/internal/palette"
	"github.com/ayusman/chromatape/internal/tokenizer"
)

// Validate checks every field and returns an ErrInvalid-wrapped error for
// the first bad one.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return invalid("camera size %dx%d must be positive", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return invalid("camera.fps %d must be positive", c.Camera.FPS)
	}
	if c.Templates.HeaderDir == "" {
		return invalid("templates.header_dir is required")
	}
	if c.Search.Width <= 0 || c.Search.Height <= 0 {
		return invalid("search window %dx%d must be positive", c.Search.Width, c.Search.Height)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return invalid("match_threshold %g must be in (0, 1]", c.MatchThreshold)
	}
	if c.Header.Width <= 0 {
		return invalid("header.width %d must be positive", c.Header.Width)
	}
	if c.Body.Width <= 0 || c.Body.Height <= 0 {
		return invalid("body size %dx%d must be positive", c.Body.Width, c.Body.Height)
	}
	if c.Body.OffsetY < 0 {
		return invalid("body.offset_y %d must not be negative", c.Body.OffsetY)
	}
	if c.Color.Threshold <= 0 {
		return invalid("color.threshold %d must be positive", c.Color.Threshold)
	}
	for i, v := range c.Color.DebugMarker {
		if v < 0 || v > 255 {
			return invalid("color.debug_marker[%d] = %d is outside 0-255", i, v)
		}
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if _, err := palette.ParseOrder(c.Symbols); err != nil {
		return invalid("symbols: %v", err)
	}
	switch c.Mode {
	case ModeDecode, ModeVerbose, ModeHeaderCheck:
	default:
		return invalid("mode %q must be one of %s, %s, %s", c.Mode, ModeDecode, ModeVerbose, ModeHeaderCheck)
	}
	if c.Adjust.Contrast <= 0 || c.Adjust.Brightness < 0 {
		return invalid("adjust brightness %g / contrast %g out of range", c.Adjust.Brightness, c.Adjust.Contrast)
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 100 {
		return invalid("motion_threshold %g must be a percentage", c.MotionThreshold)
	}
	if c.SkipStaticFrames && c.MaxStaticFrames <= 0 {
		return invalid("max_static_frames %d must be positive", c.MaxStaticFrames)
	}
	if c.MQTT.QoS > 2 {
		return invalid("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return invalid("mqtt.topic is required when mqtt.broker is set")
	}
	if c.Plugins.Consumer != "" && c.Plugins.TimeoutMS <= 0 {
		return invalid("plugins.timeout_ms %d must be positive", c.Plugins.TimeoutMS)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateClassifier() error {
	cc := c.Classifier
	switch cc.Method {
	case classifier.MethodKMeans, classifier.MethodOpenCVKMeans, classifier.MethodHistogram:
	default:
		return invalid("classifier.method %q is unknown", cc.Method)
	}
	if cc.K < 1 || cc.MaxIterations < 1 || cc.Attempts < 1 {
		return invalid("classifier k, max_iterations and attempts must be at least 1")
	}
	if cc.Epsilon < 0 {
		return invalid("classifier.epsilon %g must not be negative", cc.Epsilon)
	}
	if cc.Bins < 1 || cc.Bins > 256 {
		return invalid("classifier.bins %d must be in 1-256", cc.Bins)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return l, invalid("log_level %q: %v", c.LogLevel, err)
	}
	return l, nil
}

// CameraConfig returns the capture settings.
func (c *Config) CameraConfig() capture.CameraConfig {
	return capture.CameraConfig{
		Device: c.Camera.Device,
		Width:  c.Camera.Width,
		Height: c.Camera.Height,
		FPS:    c.Camera.FPS,
	}
}

// ClassifierConfig returns the classifier settings.
func (c *Config) ClassifierConfig() classifier.Config {
	return classifier.Config{
		Method:        c.Classifier.Method,
		K:             c.Classifier.K,
		MaxIterations: c.Classifier.MaxIterations,
		Epsilon:       c.Classifier.Epsilon,
		Attempts:      c.Classifier.Attempts,
		Seed:          c.Classifier.Seed,
		Bins:          c.Classifier.Bins,
	}
}

// BodyConfig returns the body region geometry.
func (c *Config) BodyConfig() detector.BodyConfig {
	return detector.BodyConfig{
		X:       c.Body.X,
		OffsetY: c.Body.OffsetY,
		Width:   c.Body.Width,
		Height:  c.Body.Height,
	}
}

// TokenizerConfig returns the state machine settings.
func (c *Config) TokenizerConfig(logger *slog.Logger) tokenizer.Config {
	m := c.Color.DebugMarker
	return tokenizer.Config{
		Threshold:         c.Color.Threshold,
		DebugMarker:       chroma.BGR(uint8(m[0]), uint8(m[1]), uint8(m[2])),
		RejectDebugMarker: c.Color.RejectDebugMarker,
		Logger:            logger,
	}
}

// Order returns the parsed symbol order. Call after Validate.
func (c *Config) Order() palette.Order {
	o, err := palette.ParseOrder(c.Symbols)
	if err != nil {
		return palette.DefaultOrder()
	}
	return o
}

// Adjustment returns the per-frame correction.
func (c *Config) Adjustment() capture.Adjustment {
	return capture.Adjustment{Brightness: c.Adjust.Brightness, Contrast: c.Adjust.Contrast}
}
