package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared by every handler derived through WithAttrs/WithGroup.
type asyncState struct {
	ch      chan slog.Record
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

// AsyncHandler queues records on a buffered channel drained by a fixed set of
// workers. Records are dropped rather than blocking when the queue is full.
type AsyncHandler struct {
	inner slog.Handler
	st    *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan slog.Record, chanSize)}
	h := &AsyncHandler{inner: inner, st: st}
	for range max(workers, 1) {
		st.wg.Add(1)
		go h.drain()
	}
	return h
}

func (h *AsyncHandler) drain() {
	defer h.st.wg.Done()
	for rec := range h.st.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Records arriving after Close or while the
// queue is full are counted as dropped.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.st.mu.RLock()
	defer h.st.mu.RUnlock()
	if h.st.closed {
		h.st.dropped.Add(1)
		return nil
	}
	select {
	case h.st.ch <- rec.Clone():
	default:
		h.st.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the queue but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), st: h.st}
}

// WithGroup returns a handler sharing the queue but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), st: h.st}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.st.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain. Safe to
// call more than once.
func (h *AsyncHandler) Close() {
	h.st.once.Do(func() {
		h.st.mu.Lock()
		h.st.closed = true
		close(h.st.ch)
		h.st.mu.Unlock()
		h.st.wg.Wait()
	})
}
