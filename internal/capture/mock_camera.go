package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoMoreFrames is returned once a non-looping MockCamera is exhausted.
var ErrNoMoreFrames = errors.New("no more frames")

// MockCamera plays back a fixed frame sequence. It never closes the frames
// it was given; every ReadFrame returns a clone the caller must close.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	reads   int
	loop    bool
	mu      sync.Mutex
	running bool
	failAt  int
	failErr error
}

// NewMockCamera creates a MockCamera over frames. With loop set, playback
// restarts after the last frame instead of returning ErrNoMoreFrames.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		failAt: -1,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if c.reads == c.failAt {
		c.reads++
		return nil, c.failErr
	}

	if len(c.frames) == 0 {
		return nil, ErrNoMoreFrames
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoMoreFrames
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	c.reads++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// FailAt makes the n-th read (zero based) return err.
func (c *MockCamera) FailAt(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAt = n
	c.failErr = err
}

// Reads returns how many reads were served, failed ones included.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}
