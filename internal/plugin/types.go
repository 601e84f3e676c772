// Package plugin hands decoded programs to external consumer executables.
package plugin

import (
	"encoding/json"

	"github.com/ayusman/chromatape/internal/palette"
)

// ActionConsume is the action sent with a finished program.
const ActionConsume = "consume"

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Supports reports whether the plugin declares action.
func (m Manifest) Supports(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Request is written to the plugin's stdin.
type Request struct {
	Action  string          `json:"action"`
	Program string          `json:"program"`
	Session string          `json:"session,omitempty"`
	Palette []palette.Entry `json:"palette,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Response is read from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
