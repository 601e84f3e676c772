// Package capture provides the frame source: an OpenCV camera (or video
// file), a playback mock, and helpers applied to frames before decoding.
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFrame is returned when the device delivers no frame.
	ErrReadFrame = errors.New("failed to read frame from camera")
	// ErrEmptyFrame is returned when the device delivers an empty frame.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	// Device is a device index ("0") or a video file / stream URL.
	Device string
	Width  int
	Height int
	FPS    int
}

// DefaultCameraConfig returns the first camera at 1920x1080, 30 fps.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Device: "0",
		Width:  DefaultWidth,
		Height: DefaultHeight,
		FPS:    DefaultFPS,
	}
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	cfg     CameraConfig
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

// NewCamera creates a Camera for cfg. Zero sizes fall back to the defaults.
func NewCamera(cfg CameraConfig) Camera {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &cameraImpl{cfg: cfg}
}

// device converts numeric device names to an index so OpenCV opens the
// camera rather than a file called "0".
func (c *cameraImpl) device() interface{} {
	if id, err := strconv.Atoi(c.cfg.Device); err == nil {
		return id
	}
	return c.cfg.Device
}

// Open opens the device and requests the configured resolution and rate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.device())
	if err != nil {
		return fmt.Errorf("open camera %q: %w", c.cfg.Device, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame blocks until the device delivers the next frame.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrReadFrame
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.FPS = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.FPS
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
