// Package session stores per-identity conversational state: the current
// workflow state and the slot record collected so far.
//
// Get never fails: a missing or unreadable session reads as IDLE with no
// slots. Update merges (see Merge) and stamps UpdatedAt. Clear resets the
// identity to IDLE with no slots.
//
// Updates are read-merge-write and are not serialized across processes.
// Callers that can receive concurrent messages for one identity should
// dedupe deliveries and keep each step's write narrow.
package session

import (
	"context"
	"errors"
	"time"
)

// State is a workflow state name.
type State string

// StateIdle is the initial state and the universal fallback.
const StateIdle State = "IDLE"

// ErrEmptyIdentity is returned when a write is attempted without an identity.
var ErrEmptyIdentity = errors.New("session identity is required")

// Session is the conversational state of one identity.
type Session struct {
	Identity  string    `json:"identity"`
	State     State     `json:"state"`
	Data      Slots     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsIdle reports whether no workflow is in progress.
func (s *Session) IsIdle() bool {
	return s.State == StateIdle || s.State == ""
}

// Family returns the family of the held slots, if any.
func (s *Session) Family() Family {
	if s.Data == nil {
		return FamilyNone
	}
	return s.Data.Family()
}

// Store persists sessions keyed by identity.
type Store interface {
	Get(ctx context.Context, identity string) *Session
	Update(ctx context.Context, identity string, state State, partial Slots) error
	Clear(ctx context.Context, identity string) error
}

func idle(identity string) *Session {
	return &Session{Identity: identity, State: StateIdle}
}
