// Package tray provides a system tray control for a running decoder.
package tray

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

// Status is what the tray shows about the decoder.
type Status struct {
	State  string
	Tokens int
	Paused bool
	Done   bool
}

// Tray represents the system tray application.
type Tray struct {
	onPause   func(paused bool)
	onPreview func()
	onQuit    func()
	status    func() Status
	paused    bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuPause  *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New creates a new Tray instance. The decoder starts unpaused.
func New() *Tray {
	return &Tray{}
}

// OnPause sets the callback called when decoding is paused or resumed.
func (t *Tray) OnPause(fn func(paused bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPause = fn
}

// OnPreview sets the callback called when the preview menu item is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback called when the quit menu item is clicked. It is
// the explicit stop signal of a decode run.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// StatusFrom sets the function polled by Watch for the status line.
func (t *Tray) StatusFrom(fn func() Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("chromatape")
	systray.SetTooltip("chromatape color marker decoder")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(StatusLine(Status{State: "LOCATING_HEADER"}), "Decoder state")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuPause = systray.AddMenuItem(pauseTitle(false), "Pause or resume decoding")
	t.mu.Unlock()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Stop and Quit", "Finish decoding and quit")

	go func() {
		for {
			select {
			case <-t.menuPause.ClickedCh:
				t.handlePause()
			case <-menuPreview.ClickedCh:
				t.handlePreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handlePause() {
	t.mu.Lock()
	t.paused = !t.paused
	paused := t.paused
	if t.menuPause != nil {
		t.menuPause.SetTitle(pauseTitle(paused))
	}
	callback := t.onPause
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(paused)
	}
}

func (t *Tray) handlePreview() {
	t.mu.RLock()
	callback := t.onPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Watch refreshes the status line every interval until ctx is done.
func (t *Tray) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status == nil || t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(StatusLine(t.status()))
}

// IsPaused returns the current paused state.
func (t *Tray) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// StatusLine renders st for the status menu item.
func StatusLine(st Status) string {
	switch {
	case st.Done:
		return fmt.Sprintf("Done: %d tokens", st.Tokens)
	case st.Paused:
		return fmt.Sprintf("Paused (%s): %d tokens", st.State, st.Tokens)
	default:
		return fmt.Sprintf("%s: %d tokens", st.State, st.Tokens)
	}
}

func pauseTitle(paused bool) string {
	if paused {
		return "○ Paused"
	}
	return "● Decoding"
}
