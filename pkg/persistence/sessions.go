package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when no row exists for an identity.
var ErrSessionNotFound = errors.New("session not found")

// SessionRow is the stored form of a conversational session. Data is the
// JSON encoding of the slot record for Family.
type SessionRow struct {
	Identity  string
	State     string
	Family    string
	DataJSON  string
	UpdatedAt time.Time
}

// GetSession loads the row for identity.
func (s *Store) GetSession(ctx context.Context, identity string) (*SessionRow, error) {
	var (
		row       SessionRow
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, state, family, data_json, updated_at
		FROM sessions WHERE identity = ?`, identity,
	).Scan(&row.Identity, &row.State, &row.Family, &row.DataJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", identity, err)
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &row, nil
}

// PutSession writes the full row, replacing any previous value.
func (s *Store) PutSession(ctx context.Context, row *SessionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (identity, state, family, data_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			state = excluded.state,
			family = excluded.family,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at`,
		row.Identity, row.State, row.Family, row.DataJSON, formatTime(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", row.Identity, err)
	}
	return nil
}
