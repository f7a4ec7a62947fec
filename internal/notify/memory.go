package notify

import (
	"context"
	"sync"
)

// Memory records notifications for test assertions.
type Memory struct {
	mu    sync.Mutex
	items []Notification
}

func (m *Memory) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *Memory) All() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.items))
	copy(out, m.items)
	return out
}

// Codes returns the codes in delivery order.
func (m *Memory) Codes() []Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Code, 0, len(m.items))
	for _, n := range m.items {
		out = append(out, n.Code)
	}
	return out
}

// Count returns how many notifications carried code.
func (m *Memory) Count(code Code) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Code == code {
			n++
		}
	}
	return n
}
