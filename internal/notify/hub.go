package notify

import (
	"sync"

	"cardscene/internal/model"
)

// Hub fans scene snapshots out to subscribers. Slow subscribers lose
// intermediate snapshots, never the most recent one.
type Hub struct {
	mu     sync.Mutex
	latest model.Snapshot
	subs   map[int]chan model.Snapshot
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan model.Snapshot)}
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() model.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe registers a new observer. The channel immediately holds the
// current snapshot. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan model.Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan model.Snapshot, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	ch <- h.latest
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish stores s as the latest snapshot and offers it to every subscriber
// without blocking.
func (h *Hub) Publish(s model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = s
	for _, ch := range h.subs {
		offer(ch, s)
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// offer sends s, evicting the oldest queued snapshot if the buffer is full.
// Only Publish sends, under h.mu, so one eviction always makes room.
func offer(ch chan model.Snapshot, s model.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
