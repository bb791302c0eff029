// Package clock counts a session down to its expiry.
package clock

import (
	"sync"
	"time"
)

// DefaultInterval is the countdown cadence.
const DefaultInterval = time.Second

// Clock fires a tick immediately and then every interval until the
// deadline passes, at which point it fires expiry once and stops itself.
// At most one countdown runs per Clock.
type Clock struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
}

// New creates a Clock. A zero interval means DefaultInterval; a nil now means time.Now.
func New(interval time.Duration, now func() time.Time) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{interval: interval, now: now}
}

// Start begins a countdown to expiresAt, cancelling any running one.
// Callbacks run on the clock's goroutine.
func (c *Clock) Start(expiresAt time.Time, onTick func(remaining time.Duration), onExpire func()) {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go c.run(stop, expiresAt, onTick, onExpire)
}

// Stop cancels the running countdown, if any. It does not wait for a
// callback that is already executing.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Running reports whether a countdown is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Clock) run(stop chan struct{}, expiresAt time.Time, onTick func(time.Duration), onExpire func()) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if stopped(stop) {
			return
		}
		remaining := max(expiresAt.Sub(c.now()), 0)
		if onTick != nil {
			onTick(remaining)
		}

		if remaining <= 0 {
			if stopped(stop) {
				return
			}
			c.release(stop)
			if onExpire != nil {
				onExpire()
			}
			return
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// release clears the clock's stop channel if it still belongs to this run.
func (c *Clock) release(stop chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == stop {
		close(c.stop)
		c.stop = nil
	}
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Seconds rounds remaining up to whole seconds for display.
func Seconds(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}
