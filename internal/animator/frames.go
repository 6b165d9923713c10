package animator

import (
	"context"
	"sync"
	"time"

	"cardscene/internal/clock"
)

// FrameFunc runs once on the frame it was requested for.
type FrameFunc func(now time.Time)

// FrameQueue is a requestAnimationFrame-style scheduler: callbacks requested
// now run on the next Flush, and callbacks requested during a Flush wait for
// the one after.
type FrameQueue struct {
	mu      sync.Mutex
	pending []FrameFunc
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{}
}

// Request queues fn for the next frame.
func (q *FrameQueue) Request(fn FrameFunc) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Flush runs every callback queued before the call and returns how many ran.
func (q *FrameQueue) Flush(now time.Time) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn(now)
	}
	return len(batch)
}

// Len reports how many callbacks wait for the next frame.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Driver paces a FrameQueue at the display frame rate.
type Driver struct {
	queue    *FrameQueue
	clock    clock.Clock
	interval time.Duration
}

// NewDriver returns a Driver flushing queue fps times per second.
func NewDriver(queue *FrameQueue, clk clock.Clock, fps int) *Driver {
	if fps <= 0 {
		fps = 60
	}
	return &Driver{
		queue:    queue,
		clock:    clk,
		interval: time.Second / time.Duration(fps),
	}
}

// Run flushes frames until ctx is done. Idle frames cost one empty swap.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.queue.Flush(d.clock.Now())
		}
	}
}
