package mocks

import (
	"context"
	"sync"

	"sgi/pkg/proto"
)

// Delivery is one reply handed to MockSender.
type Delivery struct {
	To  string
	Out proto.Outbound
}

// MockSender records replies instead of sending them.
type MockSender struct {
	// Err, when set, is returned by every Send.
	Err error

	mu         sync.Mutex
	deliveries []Delivery
	notify     chan struct{}
}

// NewMockSender creates an empty sender.
func NewMockSender() *MockSender {
	return &MockSender{notify: make(chan struct{}, 64)}
}

// Send implements the channel sender.
func (m *MockSender) Send(_ context.Context, to string, out proto.Outbound) error {
	m.mu.Lock()
	m.deliveries = append(m.deliveries, Delivery{To: to, Out: out})
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return m.Err
}

// Deliveries returns a copy of every recorded reply.
func (m *MockSender) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

// Sent returns a channel signalled after each Send.
func (m *MockSender) Sent() <-chan struct{} {
	return m.notify
}
