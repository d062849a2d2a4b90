package orchestrator

import (
	"context"
	"sync"
)

// identityLocks serializes turns of one identity inside this process.
type identityLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{slots: make(map[string]*lockSlot)}
}

// acquire blocks until identity is free or ctx is done.
func (l *identityLocks) acquire(ctx context.Context, identity string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[identity]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[identity] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.unref(identity, s)
		}, nil
	case <-ctx.Done():
		l.unref(identity, s)
		return nil, ctx.Err()
	}
}

func (l *identityLocks) unref(identity string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, identity)
	}
}

func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
