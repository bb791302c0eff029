package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	ticks   []time.Duration
	expired atomic.Int32
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 4)}
}

func (r *recorder) onTick(d time.Duration) {
	r.mu.Lock()
	r.ticks = append(r.ticks, d)
	r.mu.Unlock()
}

func (r *recorder) onExpire() {
	r.expired.Add(1)
	r.done <- struct{}{}
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func TestStart_TicksImmediatelyThenExpiresOnce(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	r := newRecorder()

	c.Start(time.Now().Add(35*time.Millisecond), r.onTick, r.onExpire)

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("expected expiry")
	}

	ticks := r.tickCount()
	if ticks < 2 {
		t.Errorf("expected at least 2 ticks, got %d", ticks)
	}
	r.mu.Lock()
	last := r.ticks[len(r.ticks)-1]
	r.mu.Unlock()
	if last != 0 {
		t.Errorf("expected final tick to report 0, got %s", last)
	}

	time.Sleep(50 * time.Millisecond)
	if got := r.expired.Load(); got != 1 {
		t.Errorf("expected exactly one expiry, got %d", got)
	}
	if got := r.tickCount(); got != ticks {
		t.Errorf("expected no ticks after expiry, got %d more", got-ticks)
	}
	if c.Running() {
		t.Error("expected clock to stop itself after expiry")
	}
}

func TestStart_PastDeadlineExpiresImmediately(t *testing.T) {
	c := New(time.Hour, nil)
	r := newRecorder()

	c.Start(time.Now().Add(-time.Second), r.onTick, r.onExpire)

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("expected immediate expiry")
	}
	if got := r.tickCount(); got != 1 {
		t.Errorf("expected one tick, got %d", got)
	}
}

func TestStop_HaltsTicks(t *testing.T) {
	c := New(5*time.Millisecond, nil)
	r := newRecorder()

	c.Start(time.Now().Add(time.Hour), r.onTick, r.onExpire)
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	time.Sleep(10 * time.Millisecond)

	before := r.tickCount()
	time.Sleep(30 * time.Millisecond)
	if got := r.tickCount(); got != before {
		t.Errorf("expected no ticks after Stop, got %d more", got-before)
	}
	if r.expired.Load() != 0 {
		t.Error("expected no expiry after Stop")
	}
	c.Stop() // idempotent
}

func TestStart_ReplacesPreviousCountdown(t *testing.T) {
	c := New(5*time.Millisecond, nil)
	first := newRecorder()
	second := newRecorder()

	c.Start(time.Now().Add(time.Hour), first.onTick, first.onExpire)
	time.Sleep(15 * time.Millisecond)
	c.Start(time.Now().Add(20*time.Millisecond), second.onTick, second.onExpire)
	time.Sleep(10 * time.Millisecond)

	before := first.tickCount()
	select {
	case <-second.done:
	case <-time.After(time.Second):
		t.Fatal("expected second countdown to expire")
	}
	if got := first.tickCount(); got != before {
		t.Errorf("expected first countdown to stop, got %d more ticks", got-before)
	}
	if first.expired.Load() != 0 {
		t.Error("expected first countdown never to expire")
	}
}

func TestSeconds_RoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		-time.Second:            0,
		0:                       0,
		time.Millisecond:        1,
		999 * time.Millisecond:  1,
		time.Second:             1,
		4001 * time.Millisecond: 5,
		5 * time.Second:         5,
	}
	for in, want := range cases {
		if got := Seconds(in); got != want {
			t.Errorf("Seconds(%s) = %d, want %d", in, got, want)
		}
	}
}
