package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

func TestSessionRepository_Create(t *testing.T) {
	repo := newTestStore(t).Sessions()

	sess := &Session{Source: "/videos/hello.mp4", Mode: "verbose"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := uuid.Parse(sess.ID); err != nil {
		t.Errorf("Create() assigned ID %q, want a UUID", sess.ID)
	}

	got, err := repo.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Source != sess.Source || got.Mode != "verbose" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if len(got.Palette) != 0 || got.Separator != nil || got.FinishedAt != nil {
		t.Errorf("new session has calibration data: %+v", got)
	}
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	repo := newTestStore(t).Sessions()

	sess := &Session{Source: "0"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	entries := []palette.Entry{
		{Symbol: '+', Color: chroma.BGR(0, 0, 200)},
		{Symbol: '-', Color: chroma.BGR(0, 100, 200)},
	}
	if err := repo.SetPalette(sess.ID, entries); err != nil {
		t.Fatalf("SetPalette() error = %v", err)
	}
	if err := repo.SetSeparator(sess.ID, chroma.BGR(40, 40, 40)); err != nil {
		t.Fatalf("SetSeparator() error = %v", err)
	}
	for i, sym := range []palette.Symbol{'+', '+', '-'} {
		if err := repo.AppendToken(sess.ID, i, sym); err != nil {
			t.Fatalf("AppendToken(%d) error = %v", i, err)
		}
	}
	if err := repo.Finish(sess.ID, "++-"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusFinished || got.Program != "++-" || got.FinishedAt == nil {
		t.Errorf("finished session = %+v", got)
	}
	if got.Tokens != 3 {
		t.Errorf("Tokens = %d, want 3", got.Tokens)
	}
	if len(got.Palette) != 2 || got.Palette[1] != entries[1] {
		t.Errorf("Palette = %+v, want %+v", got.Palette, entries)
	}
	if got.Separator == nil || *got.Separator != chroma.BGR(40, 40, 40) {
		t.Errorf("Separator = %v, want 40, 40, 40", got.Separator)
	}

	tokens, err := repo.Tokens(sess.ID)
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	var program string
	for i, tok := range tokens {
		if tok.Position != i {
			t.Errorf("token %d position = %d", i, tok.Position)
		}
		program += tok.Symbol
	}
	if program != "++-" {
		t.Errorf("stored tokens = %q, want ++-", program)
	}
}

func TestSessionRepository_DuplicatePosition(t *testing.T) {
	repo := newTestStore(t).Sessions()
	sess := &Session{}
	repo.Create(sess)

	if err := repo.AppendToken(sess.ID, 0, '+'); err != nil {
		t.Fatalf("AppendToken() error = %v", err)
	}
	if err := repo.AppendToken(sess.ID, 0, '-'); err == nil {
		t.Error("AppendToken() at an existing position should fail")
	}
}

func TestSessionRepository_Fail(t *testing.T) {
	repo := newTestStore(t).Sessions()
	sess := &Session{}
	repo.Create(sess)

	if err := repo.Fail(sess.ID, errors.New("camera unplugged")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	got, _ := repo.Get(sess.ID)
	if got.Status != StatusFailed || got.Error != "camera unplugged" {
		t.Errorf("failed session = %+v", got)
	}
}

func TestSessionRepository_List(t *testing.T) {
	repo := newTestStore(t).Sessions()

	var ids []string
	for i := 0; i < 3; i++ {
		sess := &Session{}
		if err := repo.Create(sess); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, sess.ID)
		time.Sleep(5 * time.Millisecond)
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(List(0)) = %d, want 3", len(all))
	}
	if all[0].ID != ids[2] {
		t.Errorf("List()[0] = %s, want most recent %s", all[0].ID, ids[2])
	}

	limited, _ := repo.List(2)
	if len(limited) != 2 {
		t.Errorf("len(List(2)) = %d, want 2", len(limited))
	}
}

func TestSessionRepository_NotFound(t *testing.T) {
	repo := newTestStore(t).Sessions()
	missing := uuid.New().String()

	tests := []struct {
		name string
		call func() error
	}{
		{"Get", func() error { _, err := repo.Get(missing); return err }},
		{"Tokens", func() error { _, err := repo.Tokens(missing); return err }},
		{"AppendToken", func() error { return repo.AppendToken(missing, 0, '+') }},
		{"SetPalette", func() error { return repo.SetPalette(missing, nil) }},
		{"SetSeparator", func() error { return repo.SetSeparator(missing, chroma.Color{}) }},
		{"Finish", func() error { return repo.Finish(missing, "") }},
		{"Delete", func() error { return repo.Delete(missing) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotFound) {
				t.Errorf("%s() error = %v, want ErrNotFound", tt.name, err)
			}
		})
	}
}

func TestSessionRepository_DeleteCascades(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()
	sess := &Session{}
	repo.Create(sess)
	repo.AppendToken(sess.ID, 0, '.')

	if err := repo.Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	s.DB().QueryRow("SELECT COUNT(*) FROM tokens WHERE session_id = ?", sess.ID).Scan(&n)
	if n != 0 {
		t.Errorf("%d tokens survived session delete", n)
	}
}

func TestSessionSink(t *testing.T) {
	repo := newTestStore(t).Sessions()
	ctx := context.Background()

	sk, err := NewSessionSink(repo, "0", "decode")
	if err != nil {
		t.Fatalf("NewSessionSink() error = %v", err)
	}

	sk.Calibrated(ctx, []palette.Entry{{Symbol: '[', Color: chroma.BGR(1, 2, 3)}})
	sk.SeparatorLearned(ctx, chroma.BGR(9, 8, 7))
	for _, sym := range []palette.Symbol{'[', '-', ']'} {
		if err := sk.Append(ctx, sym); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := sk.Finish(ctx, "[-]"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get(sk.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Program != "[-]" || got.Tokens != 3 || got.Status != StatusFinished {
		t.Errorf("session = %+v", got)
	}
	if got.Separator == nil || *got.Separator != chroma.BGR(9, 8, 7) {
		t.Errorf("Separator = %v", got.Separator)
	}
}
