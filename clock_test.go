package vigil

import (
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test helpers: fake clock, timer and ticker for deterministic tests
// ---------------------------------------------------------------------------

// fakeTimer fires immediately and records nothing; the fake clock records
// the requested durations so tests can assert computed delays.
type fakeTimer struct {
	ch chan time.Time
}

func newFakeTimer(fire bool) *fakeTimer {
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	if fire {
		t.ch <- time.Time{}
	}

	return t
}

func (t *fakeTimer) C() <-chan time.Time      { return t.ch }
func (t *fakeTimer) Stop() bool               { return true }
func (t *fakeTimer) Reset(time.Duration) bool { return false }

// fakeTicker delivers ticks only when the test fires them.
type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func (t *fakeTicker) tick() {
	t.ch <- time.Time{}
}

// fakeClock is a manually advanced clock whose timers fire immediately.
// It records every timer duration so backoff sleeps can be asserted.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	durations []time.Duration
	tickers   []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	c.durations = append(c.durations, d)
	c.mu.Unlock()

	return newFakeTimer(true)
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time)}

	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()

	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) timerDurations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, len(c.durations))
	copy(out, c.durations)

	return out
}

func (c *fakeClock) ticker(i int) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tickers[i]
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tickers)
}

// ---------------------------------------------------------------------------
// Tests: RealClock
// ---------------------------------------------------------------------------

func TestRealClockNow(t *testing.T) {
	t.Parallel()

	var clk RealClock

	before := time.Now()
	got := clk.Now()

	if got.Before(before) {
		t.Fatalf("Now() = %v, want >= %v", got, before)
	}
}

func TestRealClockTimerFires(t *testing.T) {
	t.Parallel()

	var clk RealClock

	timer := clk.NewTimer(time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestRealClockTickerTicks(t *testing.T) {
	t.Parallel()

	var clk RealClock

	ticker := clk.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not tick")
	}
}
