package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// discover writes plugin as a discoverable manifest next to its script.
func discover(t *testing.T, plugin *Plugin) *Manager {
	t.Helper()

	manifestBytes, err := json.Marshal(plugin.Manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(plugin.Path, "plugin.json"), manifestBytes, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	manager := NewManager(filepath.Dir(plugin.Path), nil)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return manager
}

func TestSink_Finish(t *testing.T) {
	plugin := scriptPlugin(t, "capture", `#!/bin/sh
cat > request.json
echo '{"success":true}'
`)
	manager := discover(t, plugin)

	sk, err := NewSink(manager, NewExecutor(5000), SinkConfig{
		Consumer: "capture",
		Config:   json.RawMessage(`{"dir":"out"}`),
	})
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	ctx := context.Background()
	entries := []palette.Entry{{Symbol: '.', Color: chroma.BGR(10, 20, 30)}}
	sk.Calibrated(ctx, entries)
	sk.SeparatorLearned(ctx, chroma.BGR(40, 40, 40))
	sk.SetSession("run-1")
	for _, sym := range []palette.Symbol{'+', '.'} {
		if err := sk.Append(ctx, sym); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if sk.Response() != nil {
		t.Error("Response() before Finish should be nil")
	}
	if err := sk.Finish(ctx, "+."); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if resp := sk.Response(); resp == nil || !resp.Success {
		t.Errorf("Response() = %+v", resp)
	}

	data, err := os.ReadFile(filepath.Join(plugin.Path, "request.json"))
	if err != nil {
		t.Fatalf("consumer did not record its request: %v", err)
	}
	var got Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("request is not JSON: %v", err)
	}
	if got.Action != ActionConsume || got.Program != "+." || got.Session != "run-1" {
		t.Errorf("request = %+v", got)
	}
	if len(got.Palette) != 1 || got.Palette[0] != entries[0] {
		t.Errorf("request palette = %+v", got.Palette)
	}
	if string(got.Config) != `{"dir":"out"}` {
		t.Errorf("request config = %s", got.Config)
	}
}

func TestSink_FinishFailure(t *testing.T) {
	plugin := scriptPlugin(t, "grumpy", `#!/bin/sh
cat > /dev/null
echo '{"success":false,"error":"disk full"}'
`)
	sk, err := NewSink(discover(t, plugin), NewExecutor(5000), SinkConfig{Consumer: "grumpy"})
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	err = sk.Finish(context.Background(), "+")
	if !errors.Is(err, ErrPluginFailed) {
		t.Errorf("Finish() error = %v, want ErrPluginFailed", err)
	}
}

func TestNewSink_Errors(t *testing.T) {
	plugin := scriptPlugin(t, "other", "#!/bin/sh\n")
	plugin.Manifest.Actions = []string{"notify"}
	manager := discover(t, plugin)

	tests := []struct {
		name     string
		consumer string
		want     error
	}{
		{"missing", "nope", ErrPluginNotFound},
		{"unsupported", "other", ErrUnsupportedAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSink(manager, NewExecutor(5000), SinkConfig{Consumer: tt.consumer})
			if !errors.Is(err, tt.want) {
				t.Errorf("NewSink() error = %v, want %v", err, tt.want)
			}
		})
	}
}
