// Package admission bounds how many render jobs run at once. Callers that
// find every slot taken are turned away immediately; nothing is queued.
package admission

import (
	"sync"
	"sync/atomic"
)

// Controller hands out at most max concurrent slots.
type Controller struct {
	max    int64
	active atomic.Int64
}

// New returns a controller with max slots. max below 1 is treated as 1.
func New(max int) *Controller {
	if max < 1 {
		max = 1
	}
	return &Controller{max: int64(max)}
}

// TryAcquire takes a slot if one is free. It never blocks.
func (c *Controller) TryAcquire() (*Slot, bool) {
	for {
		cur := c.active.Load()
		if cur >= c.max {
			return nil, false
		}
		if c.active.CompareAndSwap(cur, cur+1) {
			return &Slot{c: c}, true
		}
	}
}

// Active reports the number of slots currently held.
func (c *Controller) Active() int {
	return int(c.active.Load())
}

// Max reports the configured bound.
func (c *Controller) Max() int {
	return int(c.max)
}

// Slot is one admission ticket. Release may be called any number of times;
// only the first call gives the slot back.
type Slot struct {
	c    *Controller
	once sync.Once
}

func (s *Slot) Release() {
	s.once.Do(func() {
		s.c.active.Add(-1)
	})
}
