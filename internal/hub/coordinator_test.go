package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

var epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu        sync.Mutex
	envelopes []framecodec.Envelope
	err       error
}

func (s *fakeSink) Ingest(ctx context.Context, env framecodec.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.envelopes = append(s.envelopes, env)
	return nil
}

type fakeTrigger struct {
	mu      sync.Mutex
	doorIDs []int
	sink    *fakeSink
	sawSink []int
}

func (f *fakeTrigger) Trigger(ctx context.Context, doorID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doorIDs = append(f.doorIDs, doorID)
	if f.sink != nil {
		f.sink.mu.Lock()
		f.sawSink = append(f.sawSink, len(f.sink.envelopes))
		f.sink.mu.Unlock()
	}
	return nil
}

type scriptedDecisions struct {
	mu      sync.Mutex
	answers []int // -1 means "no decision"
	calls   int
}

func (s *scriptedDecisions) NextDecision(ctx context.Context) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.answers) == 0 {
		return 0, false, nil
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	if next < 0 {
		return 0, false, nil
	}
	return next, true, nil
}

func (s *scriptedDecisions) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countNotifier struct {
	mu     sync.Mutex
	counts []int
}

func (n *countNotifier) NotifyDoorCount(ctx context.Context, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counts = append(n.counts, count)
	return errors.New("backend unreachable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_RequiresSink(t *testing.T) {
	_, err := NewCoordinator(Config{}, Dependencies{})
	assert.Error(t, err)
}

func TestCoordinator_RegisterNotifiesDoorCount(t *testing.T) {
	notifier := &countNotifier{}
	c, err := NewCoordinator(Config{}, Dependencies{Sink: &fakeSink{}, Notifier: notifier, Logger: testLogger()})
	require.NoError(t, err)

	events, cancel := c.Subscribe(8)
	defer cancel()

	first := c.Register(context.Background(), "10.0.0.5:4100")
	second := c.Register(context.Background(), "10.0.0.6:4100")

	assert.Equal(t, 0, first.Identity)
	assert.Equal(t, 1, second.Identity)
	assert.Equal(t, []int{1, 2}, notifier.counts, "notification failure must not block registration")

	ev := <-events
	assert.Equal(t, EventRegistered, ev.Type)
	assert.Equal(t, "10.0.0.5:4100", ev.Detail)
}

func TestCoordinator_DoorCountNeverDecreases(t *testing.T) {
	notifier := &countNotifier{}
	c, err := NewCoordinator(Config{}, Dependencies{Sink: &fakeSink{}, Notifier: notifier, Logger: testLogger()})
	require.NoError(t, err)

	const doors = 50
	var wg sync.WaitGroup
	for i := 0; i < doors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Register(context.Background(), "door")
		}()
	}
	wg.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.counts, doors)
	assert.IsNonDecreasing(t, notifier.counts)
	assert.Equal(t, doors, notifier.counts[doors-1])
}

func TestCoordinator_RelayFrameForwardsThenTriggers(t *testing.T) {
	fake := clockwork.NewFakeClockAt(epoch)
	sink := &fakeSink{}
	trigger := &fakeTrigger{sink: sink}
	c, err := NewCoordinator(Config{}, Dependencies{Sink: sink, Trigger: trigger, Clock: fake, Logger: testLogger()})
	require.NoError(t, err)

	id := c.Register(context.Background(), "door").Identity
	require.NoError(t, c.RelayFrame(context.Background(), id, "0A0B0C"))

	require.Len(t, sink.envelopes, 1)
	assert.Equal(t, framecodec.Envelope{DoorID: 0, Payload: "0A0B0C", CapturedAt: epoch}, sink.envelopes[0])
	assert.Equal(t, []int{0}, trigger.doorIDs)
	assert.Equal(t, []int{1}, trigger.sawSink, "trigger ran before the frame reached the sink")
}

func TestCoordinator_RelayFrameErrors(t *testing.T) {
	sink := &fakeSink{}
	trigger := &fakeTrigger{}
	c, err := NewCoordinator(Config{}, Dependencies{Sink: sink, Trigger: trigger, Logger: testLogger()})
	require.NoError(t, err)

	t.Run("unknown_door", func(t *testing.T) {
		err := c.RelayFrame(context.Background(), 3, "")
		assert.ErrorIs(t, err, ErrUnknownIdentity)
	})

	t.Run("sink_failure_skips_trigger", func(t *testing.T) {
		id := c.Register(context.Background(), "door").Identity
		sink.err = errors.New("connection refused")
		defer func() { sink.err = nil }()

		err := c.RelayFrame(context.Background(), id, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forward frame for door 0")
		assert.Empty(t, trigger.doorIDs)
	})
}

func TestCoordinator_ShouldOpenCoalesces(t *testing.T) {
	c, err := NewCoordinator(Config{}, Dependencies{Sink: &fakeSink{}, Logger: testLogger()})
	require.NoError(t, err)
	id := c.Register(context.Background(), "door").Identity

	require.NoError(t, c.RequestOpen(id))
	require.NoError(t, c.RequestOpen(id))

	open, err := c.ShouldOpen(id)
	require.NoError(t, err)
	assert.True(t, open)

	open, err = c.ShouldOpen(id)
	require.NoError(t, err)
	assert.False(t, open)

	entry, _ := c.Registry().Get(id)
	assert.False(t, entry.PendingOpen)
}

func TestCoordinator_DecisionLoop(t *testing.T) {
	fake := clockwork.NewFakeClockAt(epoch)
	decisions := &scriptedDecisions{answers: []int{0, 7, -1, 0}}
	c, err := NewCoordinator(Config{}, Dependencies{
		Sink:      &fakeSink{},
		Decisions: decisions,
		Clock:     fake,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	id := c.Register(context.Background(), "door").Identity

	events, unsubscribe := c.Subscribe(16)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunDecisionLoop(ctx)
	}()

	// First poll runs immediately and names door 0.
	require.NoError(t, fake.BlockUntilContext(testContext(t), 1))
	require.Eventually(t, func() bool {
		entry, _ := c.Registry().Get(id)
		return entry.PendingOpen
	}, time.Second, 5*time.Millisecond)

	// Second poll names a door that does not exist.
	fake.Advance(time.Second)
	require.Eventually(t, func() bool { return decisions.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	var sawUnknown bool
	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			if ev.Type == EventUnknownDoor && ev.DoorID == 7 {
				sawUnknown = true
			}
		default:
		}
		return sawUnknown
	}, time.Second, 5*time.Millisecond)

	open, err := c.ShouldOpen(id)
	require.NoError(t, err)
	assert.True(t, open)

	cancel()
	fake.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("decision loop did not stop")
	}
}

func TestCoordinator_DecisionLoopDisabled(t *testing.T) {
	c, err := NewCoordinator(Config{}, Dependencies{Sink: &fakeSink{}, Logger: testLogger()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.RunDecisionLoop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop without a decision source should return immediately")
	}
}
