package driver

import "sync"

// EventHandle is a channel-backed Handle. Signal is edge-triggered and never
// blocks: a signal raised while one is already pending coalesces, matching
// auto-reset event semantics.
type EventHandle struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

// NewEventHandle creates an unsignaled handle.
func NewEventHandle() *EventHandle {
	return &EventHandle{ch: make(chan struct{}, 1)}
}

// Signal marks the handle signaled. Fails only on a closed handle.
func (h *EventHandle) Signal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	select {
	case h.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wait returns the channel a client blocks on. It is closed when the handle
// is released, so waiters drain on teardown instead of hanging.
func (h *EventHandle) Wait() <-chan struct{} {
	return h.ch
}

// Close releases the handle. Idempotent.
func (h *EventHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
	return nil
}
