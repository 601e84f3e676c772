// Package main provides the archive consumer plugin.
// It writes each decoded program to a file and replies with its path.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request is the input from the plugin executor.
type Request struct {
	Action  string          `json:"action"`
	Program string          `json:"program"`
	Session string          `json:"session"`
	Config  json.RawMessage `json:"config"`
}

// Response is the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config controls where programs are written.
type Config struct {
	Dir       string `json:"dir"`
	Extension string `json:"extension"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Action != "consume" {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	cfg, err := parseConfig(req.Config)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}

	path, err := archive(cfg, req, time.Now())
	if err != nil {
		writeErrorResponse(fmt.Sprintf("archive failed: %v", err))
		return
	}

	data, _ := json.Marshal(map[string]any{"path": path, "length": len(req.Program)})
	writeSuccessResponse(data)
}

// parseConfig applies defaults to the optional plugin config.
func parseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{Dir: "programs", Extension: ".bf"}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Dir == "" {
		cfg.Dir = "programs"
	}
	if cfg.Extension != "" && !strings.HasPrefix(cfg.Extension, ".") {
		cfg.Extension = "." + cfg.Extension
	}
	return cfg, nil
}

// archive writes the program and returns the file path. Files are named
// after the session, or the time when there is none.
func archive(cfg Config, req Request, now time.Time) (string, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return "", err
	}

	name := filepath.Base(req.Session)
	if req.Session == "" || name == "." || name == string(filepath.Separator) {
		name = now.UTC().Format("20060102T150405.000Z")
	}

	path := filepath.Join(cfg.Dir, name+cfg.Extension)
	if err := os.WriteFile(path, []byte(req.Program+"\n"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{
		Success: false,
		Error:   errMsg,
	})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data json.RawMessage) {
	json.NewEncoder(os.Stdout).Encode(Response{
		Success: true,
		Data:    data,
	})
}
