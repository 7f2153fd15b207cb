// Package progress counts rows handed to the target and forwards the running
// total to reporting collaborators.
package progress

import "sync"

// Counter is the shared row total. Workers call Advance after a batch
// insert succeeds; reporters read Total. The zero value is ready to use.
type Counter struct {
	mu    sync.Mutex
	total int64
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter { return &Counter{} }

// Advance adds n to the total and returns the new value.
func (c *Counter) Advance(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
	return c.total
}

// Reset sets the total back to zero.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
}

// Total returns the current total.
func (c *Counter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
