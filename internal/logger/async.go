package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler that buffers records.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler state (attrs, groups) it was
// logged under, so derived handlers format their own records.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler decouples log emission from formatting: Handle enqueues,
// a worker pool formats. Records are dropped rather than blocking the
// caller when the buffer is full.
type AsyncHandler struct {
	inner slog.Handler
	queue chan entry
	wg    *sync.WaitGroup

	dropped *atomic.Int64
	once    *sync.Once
}

// NewAsyncHandler starts workers goroutines draining a buffer of the
// given size.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		queue:   make(chan entry, size),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
		once:    &sync.Once{},
	}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for e := range h.queue {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return h
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- entry{h: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := *h
	d.inner = h.inner.WithAttrs(attrs)
	return &d
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	d := *h
	d.inner = h.inner.WithGroup(name)
	return &d
}

// Dropped reports how many records were discarded on a full buffer.
func (h *AsyncHandler) Dropped() int64 {
	return h.dropped.Load()
}

// Close drains buffered records and stops the workers. Safe to call from
// any handler derived via WithAttrs/WithGroup, and more than once.
func (h *AsyncHandler) Close() {
	h.once.Do(func() {
		close(h.queue)
		h.wg.Wait()
	})
}
