package analytics

import (
	"context"
	"log/slog"
	"sync"
)

// defaultBufferSize is how many events accumulate before a flush.
const defaultBufferSize = 100

// Collector batches routing events in memory and writes them to storage when
// the buffer fills, when a reader needs fresh data, or on shutdown.
type Collector struct {
	mu      sync.Mutex
	buf     []Event
	bufSize int
	storage *Storage
	logger  *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithBufferSize overrides the flush threshold.
func WithBufferSize(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// NewCollector wraps storage with a write-behind buffer.
func NewCollector(storage *Storage, logger *slog.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{bufSize: defaultBufferSize, storage: storage, logger: logger}
	for _, o := range opts {
		o(c)
	}
	c.buf = make([]Event, 0, c.bufSize)
	return c
}

// Record buffers one event, flushing synchronously when the buffer is full.
// A failed flush keeps the events buffered for the next attempt.
func (c *Collector) Record(ctx context.Context, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, e)
	if len(c.buf) >= c.bufSize {
		if err := c.flushLocked(ctx); err != nil {
			c.logger.Error("flushing routing events failed", "buffered", len(c.buf), "error", err)
		}
	}
}

// Flush writes all buffered events now. Readers call this before querying so
// summaries include the tail of the buffer.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Collector) flushLocked(ctx context.Context) error {
	if len(c.buf) == 0 {
		return nil
	}
	if err := c.storage.InsertEvents(ctx, c.buf); err != nil {
		return err
	}
	c.buf = c.buf[:0]
	return nil
}

// Pending returns how many events await flushing.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Close flushes whatever remains. Called during shutdown.
func (c *Collector) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
