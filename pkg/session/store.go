package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoSession indicates no session has been persisted yet.
var ErrNoSession = errors.New("no saved session")

// Session is the persisted connection configuration. The core treats it
// as opaque beyond round-tripping it at connect time.
type Session struct {
	Endpoint  string
	Token     string
	Transport string
	UpdatedAt time.Time
}

// SaveSession upserts the single resumable session row. It satisfies the
// hub's SessionSaver interface.
func (db *DB) SaveSession(ctx context.Context, endpoint, token string, kind string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, endpoint, token, transport, updated_at)
		VALUES (1, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			token = excluded.token,
			transport = excluded.transport,
			updated_at = excluded.updated_at
	`, endpoint, token, kind)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, or ErrNoSession.
func (db *DB) LoadSession(ctx context.Context) (*Session, error) {
	s := &Session{}
	var updatedAt string
	err := db.QueryRowContext(ctx, `
		SELECT endpoint, token, transport, updated_at FROM sessions WHERE id = 1
	`).Scan(&s.Endpoint, &s.Token, &s.Transport, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return s, nil
}

// ClearSession removes the persisted session, if any.
func (db *DB) ClearSession(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
