package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLinkNotFound is returned when a magic-link record does not exist.
var ErrLinkNotFound = errors.New("magic link not found")

// LinkRecord is the server-side half of a magic link.
type LinkRecord struct {
	ID           string
	Digest       string // hex SHA-256 of the issued token
	ResourceType string
	ResourceID   string
	PayloadJSON  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// InsertLink persists a newly minted link.
func (s *Store) InsertLink(ctx context.Context, rec *LinkRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO magic_links (id, digest, resource_type, resource_id, payload_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Digest, rec.ResourceType, rec.ResourceID, rec.PayloadJSON,
		formatTime(rec.CreatedAt), formatTime(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert magic link %s: %w", rec.ID, err)
	}
	return nil
}

// GetLink loads a link record by id.
func (s *Store) GetLink(ctx context.Context, id string) (*LinkRecord, error) {
	var (
		rec                  LinkRecord
		createdAt, expiresAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, digest, resource_type, resource_id, payload_json, created_at, expires_at
		FROM magic_links WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Digest, &rec.ResourceType, &rec.ResourceID, &rec.PayloadJSON, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query magic link %s: %w", id, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeExpiredLinks deletes records that expired before now and reports how many.
func (s *Store) PurgeExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM magic_links WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge magic links: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
