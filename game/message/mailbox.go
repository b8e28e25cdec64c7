package message

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Send after the mailbox was closed.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded multi-producer queue drained by a single consumer.
// Send never blocks, so a slow consumer grows the queue instead of stalling
// the producer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	ready  chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues v.
func (m *Mailbox[T]) Send(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.q.Add(v)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return nil
}

// TryRecv dequeues the oldest message, if any.
func (m *Mailbox[T]) TryRecv() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if m.q.Length() == 0 {
		return zero, false
	}
	v := m.q.Peek().(T)
	m.q.Remove()
	return v, true
}

// Drain dequeues every message currently queued.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for m.q.Length() > 0 {
		out = append(out, m.q.Peek().(T))
		m.q.Remove()
	}
	return out
}

// Len returns the number of queued messages.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Ready is signalled after a Send. A consumer may use it to wake before its
// next tick; the signal is coalesced so it carries no count.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Close rejects further sends. Queued messages can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
