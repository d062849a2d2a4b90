package persistence

import (
	"context"
	"fmt"
	"time"
)

// MarkDelivery records an inbound delivery key. It reports false when the key
// was already recorded and has not expired, meaning the delivery is a replay.
func (s *Store) MarkDelivery(ctx context.Context, key, identity string, ttl time.Duration) (bool, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delivery tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// An expired key is forgotten so a much later redelivery is processed again.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM deliveries WHERE delivery_key = ? AND expires_at < ?`, key, formatTime(now)); err != nil {
		return false, fmt.Errorf("failed to expire delivery %s: %w", key, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO deliveries (delivery_key, identity, received_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		key, identity, formatTime(now), formatTime(now.Add(ttl)))
	if err != nil {
		return false, fmt.Errorf("failed to record delivery %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delivery result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delivery %s: %w", key, err)
	}
	return n == 1, nil
}

// PurgeDeliveries removes expired delivery keys.
func (s *Store) PurgeDeliveries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE expires_at < ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
