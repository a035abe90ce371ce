package scheduler

import "sync"

// Mailbox is a single-slot, latest-wins hand-off between one producer
// and one consumer. Put overwrites any value the consumer has not taken
// yet, so the consumer only ever sees the newest one.
type Mailbox[T any] struct {
	mu    sync.Mutex
	val   T
	full  bool
	ready chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, replacing an unread value. It reports whether a previous
// value was dropped. Put never blocks.
func (m *Mailbox[T]) Put(v T) (dropped bool) {
	m.mu.Lock()
	dropped = m.full
	m.val = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Take reads and clears the stored value.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	v, ok := m.val, m.full
	m.val = zero
	m.full = false
	return v, ok
}

// Ready fires after a Put. A wake-up can be stale, so callers must check
// the ok result of Take.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}
