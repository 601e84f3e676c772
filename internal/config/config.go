// Package config loads the decoder configuration from YAML, .env files and
// CHROMATAPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Decoder modes.
const (
	ModeDecode      = "decode"
	ModeVerbose     = "verbose"
	ModeHeaderCheck = "header-check"
)

// Config is the complete decoder configuration.
type Config struct {
	Camera           CameraConfig     `yaml:"camera"`
	Templates        TemplatesConfig  `yaml:"templates"`
	Search           SizeConfig       `yaml:"search"`
	MatchThreshold   float64          `yaml:"match_threshold"`
	Header           HeaderConfig     `yaml:"header"`
	Body             BodyConfig       `yaml:"body"`
	Color            ColorConfig      `yaml:"color"`
	Classifier       ClassifierConfig `yaml:"classifier"`
	Symbols          string           `yaml:"symbols"`
	Mode             string           `yaml:"mode"`
	Adjust           AdjustConfig     `yaml:"adjust"`
	SkipStaticFrames bool             `yaml:"skip_static_frames"`
	MotionThreshold  float64          `yaml:"motion_threshold"` // percent of search-window pixels
	MaxStaticFrames  int              `yaml:"max_static_frames"`
	Store            StoreConfig      `yaml:"store"`
	Server           ServerConfig     `yaml:"server"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	Plugins          PluginsConfig    `yaml:"plugins"`
	Tray             bool             `yaml:"tray"`
	LogLevel         string           `yaml:"log_level"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device string `yaml:"device"` // index ("0") or video file / stream URL
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// TemplatesConfig points at the marker image directories.
type TemplatesConfig struct {
	HeaderDir string `yaml:"header_dir"`
	EndDir    string `yaml:"end_dir"` // optional end-of-body markers
}

// SizeConfig is a width × height pair.
type SizeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// HeaderConfig sizes the palette strip.
type HeaderConfig struct {
	Width int `yaml:"width"`
}

// BodyConfig places the body region below header_end.
type BodyConfig struct {
	X       int `yaml:"x"` // -1 centers on the frame
	OffsetY int `yaml:"offset_y"`
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
}

// ColorConfig holds the similarity settings.
type ColorConfig struct {
	Threshold         int    `yaml:"threshold"`    // squared BGR distance
	DebugMarker       [3]int `yaml:"debug_marker"` // B, G, R
	RejectDebugMarker bool   `yaml:"reject_debug_marker"`
}

// ClassifierConfig selects and tunes the dominant-color strategy.
type ClassifierConfig struct {
	Method        string  `yaml:"method"`
	K             int     `yaml:"k"`
	MaxIterations int     `yaml:"max_iterations"`
	Epsilon       float64 `yaml:"epsilon"`
	Attempts      int     `yaml:"attempts"`
	Seed          int64   `yaml:"seed"`
	Bins          int     `yaml:"bins"`
}

// AdjustConfig is the per-frame brightness/contrast correction.
type AdjustConfig struct {
	Brightness float64 `yaml:"brightness"`
	Contrast   float64 `yaml:"contrast"`
}

// StoreConfig locates the session database. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig enables the HTTP surface when Addr is set.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig enables the MQTT publisher when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

// PluginsConfig selects the consumer plugin that receives each program.
type PluginsConfig struct {
	Dir       string `yaml:"dir"`
	Consumer  string `yaml:"consumer"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device: "0",
			Width:  1920,
			Height: 1080,
			FPS:    30,
		},
		Templates: TemplatesConfig{
			HeaderDir: "templates/header",
			EndDir:    "templates/body",
		},
		Search:         SizeConfig{Width: 512, Height: 512},
		MatchThreshold: 0.8,
		Header:         HeaderConfig{Width: 120},
		Body: BodyConfig{
			X:       -1,
			OffsetY: 16,
			Width:   64,
			Height:  16,
		},
		Color: ColorConfig{
			Threshold:         500,
			DebugMarker:       [3]int{0, 255, 255},
			RejectDebugMarker: true,
		},
		Classifier: ClassifierConfig{
			Method:        "kmeans",
			K:             3,
			MaxIterations: 100,
			Epsilon:       0.2,
			Attempts:      10,
			Seed:          1,
			Bins:          32,
		},
		Symbols:          "+-<>[].,",
		Mode:             ModeDecode,
		Adjust:           AdjustConfig{Brightness: 1, Contrast: 1},
		SkipStaticFrames: true,
		MotionThreshold:  0.5,
		MaxStaticFrames:  15,
		Store:            StoreConfig{Path: filepath.Join("~", ".chromatape", "chromatape.db")},
		MQTT: MQTTConfig{
			Topic:    "chromatape/tokens",
			ClientID: "chromatape",
		},
		Plugins: PluginsConfig{
			Dir:       "plugins",
			TimeoutMS: 5000,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from CHROMATAPE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"CHROMATAPE_CAMERA_DEVICE", &c.Camera.Device},
		{"CHROMATAPE_STORE_PATH", &c.Store.Path},
		{"CHROMATAPE_SERVER_ADDR", &c.Server.Addr},
		{"CHROMATAPE_MQTT_BROKER", &c.MQTT.Broker},
		{"CHROMATAPE_MODE", &c.Mode},
		{"CHROMATAPE_LOG_LEVEL", &c.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok {
			*o.dst = strings.TrimSpace(v)
		}
	}
}

// StorePath expands a leading "~" in Store.Path.
func (c *Config) StorePath() (string, error) {
	p := c.Store.Path
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p, nil
}
