package feed

import (
	"context"
	"sync"

	"bookview/internal/order"
)

// ---------- Test/mock feed (handy for integration tests & demos) ----------

type MockFeed struct {
	events chan Event

	mu      sync.Mutex
	running bool
	closed  bool
	done    chan struct{}
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (m *MockFeed) Run(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

func (m *MockFeed) Events() <-chan Event { return m.events }

func (m *MockFeed) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Helpers for tests

func (m *MockFeed) Send(ev Event) { m.events <- ev }
func (m *MockFeed) SendConnected() { m.Send(Event{Kind: Connected}) }
func (m *MockFeed) SendDisconnected() { m.Send(Event{Kind: Disconnected}) }
func (m *MockFeed) SendBook(recs []order.Record) { m.Send(Event{Kind: OrderBook, Records: recs}) }

func (m *MockFeed) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MockFeed) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
