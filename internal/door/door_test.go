package door

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// recorder collects close transitions.
type recorder struct {
	mu     sync.Mutex
	closes []time.Time
	opens  int
}

func (r *recorder) observe(tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case tr.To == Closed:
		r.closes = append(r.closes, tr.At)
	case tr.From == Closed:
		r.opens++
	}
}

func (r *recorder) closeTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.closes...)
}

// countingClock tracks close timers that are armed and have neither fired
// nor been stopped.
type countingClock struct {
	*clockwork.FakeClock
	live atomic.Int32
}

func (c *countingClock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	c.live.Add(1)
	ct := &countedTimer{clock: c}
	ct.Timer = c.FakeClock.AfterFunc(d, func() {
		ct.settle()
		f()
	})
	return ct
}

type countedTimer struct {
	clockwork.Timer
	clock *countingClock
	done  atomic.Bool
}

func (t *countedTimer) settle() {
	if t.done.CompareAndSwap(false, true) {
		t.clock.live.Add(-1)
	}
}

func (t *countedTimer) Stop() bool {
	stopped := t.Timer.Stop()
	if stopped {
		t.settle()
	}
	return stopped
}

func newTestDoor(t *testing.T) (*Door, *countingClock, *recorder) {
	t.Helper()
	fake := &countingClock{FakeClock: clockwork.NewFakeClockAt(epoch)}
	rec := &recorder{}
	return New(0, DefaultHoldOpen, WithClock(fake), WithObserver(rec.observe)), fake, rec
}

func waitClosed(t *testing.T, d *Door) {
	t.Helper()
	require.Eventually(t, func() bool { return !d.IsOpen() }, time.Second, time.Millisecond)
}

func TestDoor_StartsClosed(t *testing.T) {
	d, _, _ := newTestDoor(t)
	assert.False(t, d.IsOpen())
	assert.Equal(t, Closed, d.State())

	_, open := d.Deadline()
	assert.False(t, open)
}

func TestDoor_OpenThenAutoClose(t *testing.T) {
	d, fake, rec := newTestDoor(t)

	assert.True(t, d.Open())
	assert.True(t, d.IsOpen())

	deadline, open := d.Deadline()
	require.True(t, open)
	assert.Equal(t, epoch.Add(10*time.Second), deadline)

	fake.Advance(9*time.Second + 999*time.Millisecond)
	assert.True(t, d.IsOpen())

	fake.Advance(time.Millisecond)
	waitClosed(t, d)
	assert.Equal(t, []time.Time{epoch.Add(10 * time.Second)}, rec.closeTimes())
	assert.Zero(t, fake.live.Load())
}

func TestDoor_RefreshDoesNotStack(t *testing.T) {
	d, fake, rec := newTestDoor(t)

	d.Open()
	fake.Advance(4 * time.Second)
	assert.False(t, d.Open(), "second signal should refresh, not re-open")
	assert.Equal(t, int32(1), fake.live.Load(), "more than one close timer is live")

	// The first arming would have closed at t=10s.
	fake.Advance(6 * time.Second)
	assert.True(t, d.IsOpen())

	fake.Advance(4 * time.Second)
	waitClosed(t, d)
	assert.Equal(t, []time.Time{epoch.Add(14 * time.Second)}, rec.closeTimes())

	fake.Advance(time.Minute)
	assert.Never(t, func() bool { return len(rec.closeTimes()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDoor_StaysOpenWhileSignalsArrive(t *testing.T) {
	d, fake, rec := newTestDoor(t)

	d.Open()
	for i := 0; i < 10; i++ {
		fake.Advance(9 * time.Second)
		require.True(t, d.IsOpen(), "door closed during signal %d", i)
		d.Open()
	}

	lastSignal := fake.Now()
	fake.Advance(10 * time.Second)
	waitClosed(t, d)
	assert.Equal(t, []time.Time{lastSignal.Add(10 * time.Second)}, rec.closeTimes())
	assert.Equal(t, 1, rec.opens)
}

func TestDoor_SupersededDeadlineIgnored(t *testing.T) {
	d, _, _ := newTestDoor(t)

	d.Open()
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()

	d.Open()
	// Simulate the first timer's callback arriving after it was replaced.
	d.expire(stale)
	assert.True(t, d.IsOpen())
}

func TestDoor_ForcedClose(t *testing.T) {
	d, fake, rec := newTestDoor(t)

	d.Open()
	d.Close()
	assert.False(t, d.IsOpen())
	assert.Zero(t, fake.live.Load())

	d.Close()
	fake.Advance(time.Minute)
	assert.Never(t, func() bool { return len(rec.closeTimes()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDoor_ConcurrentSignals(t *testing.T) {
	var closes int
	var mu sync.Mutex
	d := New(3, 50*time.Millisecond, WithObserver(func(tr Transition) {
		if tr.To == Closed {
			mu.Lock()
			closes++
			mu.Unlock()
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Open()
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return !d.IsOpen() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closes)
}
