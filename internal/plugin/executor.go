package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a plugin runs past the executor's timeout.
var ErrTimeout = errors.New("plugin execution timeout")

const waitDelay = time.Second

// Executor runs plugins with a timeout.
type Executor struct {
	timeoutMs int
}

// NewExecutor creates an Executor with the given timeout in milliseconds.
func NewExecutor(timeoutMs int) *Executor {
	return &Executor{
		timeoutMs: timeoutMs,
	}
}

// Execute runs plugin with req as JSON on stdin and parses its stdout as a
// Response. The run is bounded by both ctx and the executor's timeout.
func (e *Executor) Execute(ctx context.Context, plugin *Plugin, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.timeoutMs)*time.Millisecond)
	defer cancel()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, plugin.Executable)
	cmd.Dir = plugin.Path
	cmd.Stdin = bytes.NewReader(reqJSON)
	// Children of a killed plugin may hold stdout open.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %dms", ErrTimeout, e.timeoutMs)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("plugin execution failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("plugin execution failed: %w", err)
	}

	var response Response
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse plugin response: %w, stdout: %s", err, stdout.String())
	}

	return &response, nil
}
