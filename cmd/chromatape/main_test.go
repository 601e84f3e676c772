package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ayusman/chromatape/internal/store"
)

func TestPrintSessions(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	repo := st.Sessions()
	ok := &store.Session{Source: "0"}
	if err := repo.Create(ok); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	long := strings.Repeat("+", 60)
	if err := repo.Finish(ok.ID, long); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	bad := &store.Session{Source: "1", Mode: "verbose"}
	if err := repo.Create(bad); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Fail(bad.ID, errors.New("camera unplugged")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	var out strings.Builder
	if err := printSessions(&out, st, 10); err != nil {
		t.Fatalf("printSessions() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(out.String(), "error: camera unplugged") {
		t.Errorf("failed session not shown:\n%s", out.String())
	}
	if !strings.Contains(out.String(), strings.Repeat("+", 37)+"...") {
		t.Errorf("long program not truncated:\n%s", out.String())
	}
}

func TestLoadEndTemplates_Optional(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"disabled", func(*testing.T) string { return "" }},
		{"missing directory", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{"no images", func(t *testing.T) string {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, "README"), []byte("markers go here"), 0644)
			return dir
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, err := loadEndTemplates(tt.dir(t), logger)
			if err != nil {
				t.Fatalf("loadEndTemplates() error = %v", err)
			}
			if lib != nil {
				t.Errorf("expected no library, got %v", lib.Names())
			}
		})
	}
}

func TestPreviewHost(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "localhost:8080"},
		{"127.0.0.1:9000", "127.0.0.1:9000"},
	}

	for _, tt := range tests {
		if got := previewHost(tt.addr); got != tt.want {
			t.Errorf("previewHost(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
