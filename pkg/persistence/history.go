package persistence

import (
	"context"
	"fmt"
)

// Turn is one stored utterance of a conversation window.
type Turn struct {
	Role    string
	Content string
}

// AppendTurns adds turns for identity and keeps only the newest keep rows.
func (s *Store) AppendTurns(ctx context.Context, identity string, keep int, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := formatTime(s.now())
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (identity, role, content, created_at) VALUES (?, ?, ?, ?)`,
			identity, t.Role, t.Content, at); err != nil {
			return fmt.Errorf("failed to append turn for %s: %w", identity, err)
		}
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM conversation_turns
			WHERE identity = ? AND seq NOT IN (
				SELECT seq FROM conversation_turns WHERE identity = ? ORDER BY seq DESC LIMIT ?
			)`, identity, identity, keep); err != nil {
			return fmt.Errorf("failed to trim history for %s: %w", identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for %s: %w", identity, err)
	}
	return nil
}

// RecentTurns returns at most limit turns for identity, oldest first.
func (s *Store) RecentTurns(ctx context.Context, identity string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT seq, role, content FROM conversation_turns
			WHERE identity = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", identity, err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows error: %w", err)
	}
	return turns, nil
}

// ClearTurns forgets the window for identity.
func (s *Store) ClearTurns(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to clear history for %s: %w", identity, err)
	}
	return nil
}
