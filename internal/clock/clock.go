package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock supplies "now" and one-shot timers to the scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Real reads the system clock. Times carry Go's monotonic reading, so
// frame deltas are immune to wall-clock adjustments.
type Real struct {
	// Location, if set, is applied to every reading.
	Location *time.Location
}

// NewReal returns a Real clock reporting times in loc (time.Local if nil).
func NewReal(loc *time.Location) *Real {
	if loc == nil {
		loc = time.Local
	}
	return &Real{Location: loc}
}

func (c *Real) Now() time.Time {
	now := time.Now()
	if c.Location != nil {
		// In keeps the monotonic reading.
		now = now.In(c.Location)
	}
	return now
}

func (c *Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual only moves when told to. Timers fire synchronously inside Advance
// and Set, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	owner    *Manual
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Manual) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{owner: c, deadline: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set jumps the clock to t. Moving backwards is allowed and fires nothing.
func (c *Manual) Set(t time.Time) {
	for {
		c.mu.Lock()
		due := c.nextDueLocked(t)
		if due == nil {
			c.now = t
			c.mu.Unlock()
			return
		}
		if due.deadline.After(c.now) {
			c.now = due.deadline
		}
		due.stopped = true
		c.mu.Unlock()

		// Run outside the lock: the callback may read Now or add timers.
		due.fn()
	}
}

// Pending reports how many timers have not fired or been stopped.
func (c *Manual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *Manual) nextDueLocked(limit time.Time) *manualTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(limit) {
		return nil
	}
	return c.timers[0]
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
