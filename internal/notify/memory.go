package notify

import (
	"context"
	"slices"
	"sync"
)

const subscriberBuffer = 64

type memorySub struct {
	queues []string
	out    chan string
}

// Memory is an in-process hub for the standalone binary and tests
type Memory struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

// NewMemory creates an in-process hub
func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySub]struct{})}
}

// Notify wakes every subscriber of queue
func (m *Memory) Notify(_ context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		if slices.Contains(sub.queues, queue) {
			offer(sub.out, queue)
		}
	}
	return nil
}

// Subscribe registers for hints on queues until ctx is done
func (m *Memory) Subscribe(ctx context.Context, queues []string) (<-chan string, error) {
	sub := &memorySub{queues: slices.Clone(queues), out: make(chan string, subscriberBuffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.out)
		return sub.out, nil
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.out)
		}
	}()
	return sub.out, nil
}

// Close ends every subscription
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for sub := range m.subs {
		delete(m.subs, sub)
		close(sub.out)
	}
	return nil
}
