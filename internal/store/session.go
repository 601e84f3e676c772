package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Session is one decode run.
type Session struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Mode       string          `json:"mode"`
	Status     Status          `json:"status"`
	Palette    []palette.Entry `json:"palette"`
	Separator  *chroma.Color   `json:"separator,omitempty"`
	Program    string          `json:"program"`
	Error      string          `json:"error,omitempty"`
	Tokens     int             `json:"tokens"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Token is one stored symbol.
type Token struct {
	Position  int       `json:"position"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRepository provides access to sessions and their tokens.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a running session. An empty ID is replaced by a new UUID.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Mode == "" {
		sess.Mode = "decode"
	}
	sess.Status = StatusRunning
	sess.StartedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Source, sess.Mode, string(sess.Status), sess.StartedAt,
	)
	return err
}

// AppendToken stores the symbol at position.
func (r *SessionRepository) AppendToken(id string, position int, sym palette.Symbol) error {
	_, err := r.db.Exec(
		`INSERT INTO tokens (session_id, position, symbol, created_at) VALUES (?, ?, ?, ?)`,
		id, position, sym.String(), time.Now().UTC(),
	)
	if err != nil {
		if exists, _ := r.exists(id); !exists {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// SetPalette records the calibrated palette.
func (r *SessionRepository) SetPalette(id string, entries []palette.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal palette: %w", err)
	}
	return r.update(`UPDATE sessions SET palette = ? WHERE id = ?`, string(data), id)
}

// SetSeparator records the learned separator color.
func (r *SessionRepository) SetSeparator(id string, c chroma.Color) error {
	return r.update(`UPDATE sessions SET separator = ? WHERE id = ?`, c.Hex(), id)
}

// Finish marks the session finished with its final program.
func (r *SessionRepository) Finish(id, program string) error {
	return r.update(
		`UPDATE sessions SET status = ?, program = ?, finished_at = ? WHERE id = ?`,
		string(StatusFinished), program, time.Now().UTC(), id,
	)
}

// Fail marks the session failed.
func (r *SessionRepository) Fail(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.update(
		`UPDATE sessions SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(StatusFailed), msg, time.Now().UTC(), id,
	)
}

const sessionColumns = `s.id, s.source, s.mode, s.status, s.palette, s.separator, s.program, s.error,
	s.started_at, s.finished_at, (SELECT COUNT(*) FROM tokens t WHERE t.session_id = s.id)`

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns the most recent sessions first. limit <= 0 returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Tokens returns the stored symbols of a session in order.
func (r *SessionRepository) Tokens(id string) ([]Token, error) {
	if exists, err := r.exists(id); err != nil {
		return nil, err
	} else if !exists {
		return nil, ErrNotFound
	}

	rows, err := r.db.Query(
		`SELECT position, symbol, created_at FROM tokens WHERE session_id = ? ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []Token{}
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.Position, &t.Symbol, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Delete removes a session and its tokens.
func (r *SessionRepository) Delete(id string) error {
	return r.update(`DELETE FROM sessions WHERE id = ?`, id)
}

func (r *SessionRepository) update(query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *SessionRepository) exists(id string) (bool, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess       Session
		status     string
		paletteRaw string
		separator  sql.NullString
		finishedAt sql.NullTime
	)

	err := row.Scan(&sess.ID, &sess.Source, &sess.Mode, &status, &paletteRaw, &separator,
		&sess.Program, &sess.Error, &sess.StartedAt, &finishedAt, &sess.Tokens)
	if err != nil {
		return nil, err
	}

	sess.Status = Status(status)
	if err := json.Unmarshal([]byte(paletteRaw), &sess.Palette); err != nil {
		return nil, fmt.Errorf("decode palette of session %s: %w", sess.ID, err)
	}
	if separator.Valid {
		var c chroma.Color
		if err := c.UnmarshalText([]byte(separator.String)); err != nil {
			return nil, fmt.Errorf("decode separator of session %s: %w", sess.ID, err)
		}
		sess.Separator = &c
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		sess.FinishedAt = &t
	}

	return &sess, nil
}
