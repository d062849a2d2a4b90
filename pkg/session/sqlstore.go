package session

import (
	"context"
	"errors"
	"time"

	"sgi/pkg/logx"
	"sgi/pkg/persistence"
)

// SQLStore persists sessions in the SQLite sessions table.
type SQLStore struct {
	store  *persistence.Store
	logger *logx.Logger
	now    func() time.Time
}

// NewSQLStore wraps a persistence store.
func NewSQLStore(store *persistence.Store) *SQLStore {
	return &SQLStore{store: store, logger: logx.NewLogger("session"), now: time.Now}
}

// Get returns the stored session or an IDLE default. Read and decode
// failures are logged and also yield the default.
func (s *SQLStore) Get(ctx context.Context, identity string) *Session {
	row, err := s.store.GetSession(ctx, identity)
	if errors.Is(err, persistence.ErrSessionNotFound) {
		return idle(identity)
	}
	if err != nil {
		s.logger.WithIdentity(identity).Error("session read failed, using IDLE: %v", err)
		return idle(identity)
	}

	data, err := DecodeSlots(Family(row.Family), row.DataJSON)
	if err != nil {
		s.logger.WithIdentity(identity).Error("session data unreadable, using IDLE: %v", err)
		return idle(identity)
	}
	return &Session{Identity: identity, State: State(row.State), Data: data, UpdatedAt: row.UpdatedAt}
}

func (s *SQLStore) Update(ctx context.Context, identity string, state State, partial Slots) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	current := s.Get(ctx, identity)
	merged, err := Merge(current.Data, partial)
	if err != nil {
		return err
	}
	return s.write(ctx, identity, state, merged)
}

func (s *SQLStore) Clear(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	return s.write(ctx, identity, StateIdle, nil)
}

func (s *SQLStore) write(ctx context.Context, identity string, state State, data Slots) error {
	family, raw, err := EncodeSlots(data)
	if err != nil {
		return err
	}
	return s.store.PutSession(ctx, &persistence.SessionRow{
		Identity:  identity,
		State:     string(state),
		Family:    string(family),
		DataJSON:  raw,
		UpdatedAt: s.now().UTC(),
	})
}
