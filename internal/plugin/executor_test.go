package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// scriptPlugin writes a shell script plugin supporting the consume action.
func scriptPlugin(t *testing.T, name, script string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, name+".sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	return &Plugin{
		Manifest: Manifest{
			Name:       name,
			Version:    "1.0.0",
			Executable: name + ".sh",
			Actions:    []string{ActionConsume},
		},
		Path:       dir,
		Executable: path,
	}
}

func TestExecutor_Execute(t *testing.T) {
	plugin := scriptPlugin(t, "hello", `#!/bin/sh
echo '{"success":true,"data":{"message":"hello world"}}'
`)

	response, err := NewExecutor(5000).Execute(context.Background(), plugin, &Request{
		Action:  ActionConsume,
		Program: "+.",
	})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if !response.Success {
		t.Errorf("expected success=true, got false")
	}
	if response.Error != "" {
		t.Errorf("expected empty error, got %q", response.Error)
	}

	var data map[string]any
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "hello world" {
		t.Errorf("expected message 'hello world', got %v", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	plugin := scriptPlugin(t, "echo", `#!/bin/sh
INPUT=$(cat)
echo "{\"success\":true,\"data\":{\"received\":$INPUT}}"
`)

	request := &Request{
		Action:  ActionConsume,
		Program: "++[>+<-]",
		Session: "abc",
		Palette: []palette.Entry{{Symbol: '+', Color: chroma.BGR(0, 0, 255)}},
	}

	response, err := NewExecutor(5000).Execute(context.Background(), plugin, request)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var data struct {
		Received Request `json:"received"`
	}
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}

	got := data.Received
	if got.Action != ActionConsume || got.Program != "++[>+<-]" || got.Session != "abc" {
		t.Errorf("received %+v", got)
	}
	if len(got.Palette) != 1 || got.Palette[0] != request.Palette[0] {
		t.Errorf("received palette %+v, want %+v", got.Palette, request.Palette)
	}
}

func TestExecutor_Execute_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"invalid JSON", "#!/bin/sh\necho 'not valid json'\n"},
		{"non-zero exit", "#!/bin/sh\necho 'Error: something failed' >&2\nexit 1\n"},
		{"no output", "#!/bin/sh\nexit 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := scriptPlugin(t, "bad", tt.script)
			_, err := NewExecutor(5000).Execute(context.Background(), plugin, &Request{Action: ActionConsume})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestExecutor_Execute_ErrorResponse(t *testing.T) {
	plugin := scriptPlugin(t, "error", `#!/bin/sh
echo '{"success":false,"error":"something went wrong"}'
`)

	response, err := NewExecutor(5000).Execute(context.Background(), plugin, &Request{Action: ActionConsume})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if response.Success {
		t.Errorf("expected success=false, got true")
	}
	if response.Error != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got %q", response.Error)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	plugin := scriptPlugin(t, "slow", `#!/bin/sh
sleep 10
echo '{"success":true}'
`)

	start := time.Now()
	_, err := NewExecutor(100).Execute(context.Background(), plugin, &Request{Action: ActionConsume})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute() took %v, want it cut short", elapsed)
	}
}

func TestExecutor_ContextCancelled(t *testing.T) {
	plugin := scriptPlugin(t, "slow", `#!/bin/sh
sleep 10
echo '{"success":true}'
`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewExecutor(5000).Execute(ctx, plugin, &Request{Action: ActionConsume})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(3000)
	if executor.timeoutMs != 3000 {
		t.Errorf("expected timeoutMs=3000, got %d", executor.timeoutMs)
	}
}
