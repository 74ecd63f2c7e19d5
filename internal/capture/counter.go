package capture

import "sync"

// PendingCounter tracks in-flight uploads and proxy fetches across all
// surfaces. It never goes negative: a settlement without a matching start is
// absorbed and reported through the callback instead of corrupting the count.
type PendingCounter struct {
	mu       sync.Mutex
	value    int
	onUnderflow func()
}

// NewPendingCounter builds a counter. onUnderflow may be nil.
func NewPendingCounter(onUnderflow func()) *PendingCounter {
	return &PendingCounter{onUnderflow: onUnderflow}
}

// Add records the start of one unit of pending work.
func (c *PendingCounter) Add() {
	c.mu.Lock()
	c.value++
	c.mu.Unlock()
}

// Done records the settlement of one unit, success or failure alike.
func (c *PendingCounter) Done() {
	c.mu.Lock()
	if c.value == 0 {
		cb := c.onUnderflow
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	c.value--
	c.mu.Unlock()
}

// Value returns the current count.
func (c *PendingCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
