package nodeagent

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

	"github.com/rmacdonaldsmith/facegate/internal/door"
	"github.com/rmacdonaldsmith/facegate/internal/framesource"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

type fakeHub struct {
	mu          sync.Mutex
	identity    int
	registerErr error
	relays      []string
	relayGate   chan struct{}
	openAnswers []bool
	pollErr     error
	polls       int
}

func (h *fakeHub) Register(ctx context.Context) (int, error) {
	return h.identity, h.registerErr
}

func (h *fakeHub) RelayFrame(ctx context.Context, doorID int, payload string) error {
	if h.relayGate != nil {
		select {
		case <-h.relayGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relays = append(h.relays, payload)
	return nil
}

func (h *fakeHub) ShouldOpen(ctx context.Context, doorID int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	if h.pollErr != nil {
		return false, h.pollErr
	}
	if len(h.openAnswers) == 0 {
		return false, nil
	}
	next := h.openAnswers[0]
	h.openAnswers = h.openAnswers[1:]
	return next, nil
}

func (h *fakeHub) relayed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.relays...)
}

func (h *fakeHub) pollCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

// sliceSource yields fixed frames and then reports exhaustion, or blocks
// until ctx ends when hold is set.
type sliceSource struct {
	mu     sync.Mutex
	frames []framecodec.Grid
	hold   bool
	err    error
	reads  int
}

func (s *sliceSource) Next(ctx context.Context) (framecodec.Grid, error) {
	s.mu.Lock()
	s.reads++
	if len(s.frames) > 0 {
		next := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return next, nil
	}
	hold, err := s.hold, s.err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, framesource.ErrExhausted
}

func (s *sliceSource) Close() error { return nil }

// numbered returns n 8x8 frames whose top-left pixel carries the frame
// number, starting at 1.
func numbered(n int) []framecodec.Grid {
	frames := make([]framecodec.Grid, n)
	for i := range frames {
		g := make(framecodec.Grid, 8)
		for y := range g {
			g[y] = make([]framecodec.Pixel, 8)
		}
		g[0][0] = framecodec.Pixel{uint8(i + 1), 0, 0}
		frames[i] = g
	}
	return frames
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Dependencies{Source: &sliceSource{}})
	assert.Error(t, err)
	_, err = New(Config{}, Dependencies{Hub: &fakeHub{}})
	assert.Error(t, err)
}

func TestConfig_SetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, Config{
		RelayEvery:   6,
		Downscale:    4,
		RelayWorkers: 4,
		RelayQueue:   16,
		PollInterval: time.Second,
		HoldOpen:     10 * time.Second,
	}, c)
}

func TestAgent_RegistrationFailure(t *testing.T) {
	source := &sliceSource{frames: numbered(3)}
	agent, err := New(Config{}, Dependencies{
		Hub:    &fakeHub{registerErr: errors.New("connection refused")},
		Source: source,
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	err = agent.Run(context.Background())
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, source.reads)
	assert.Nil(t, agent.Door())
	assert.Equal(t, -1, agent.Stats().Identity)
}

func TestAgent_RelaysEverySixthFrameDownscaled(t *testing.T) {
	hub := &fakeHub{identity: 3}
	agent, err := New(Config{}, Dependencies{
		Hub:    hub,
		Source: &sliceSource{frames: numbered(20)},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, agent.Run(context.Background()))

	relays := hub.relayed()
	require.Len(t, relays, 3)
	got := map[uint8]bool{}
	for _, payload := range relays {
		grid, err := framecodec.Decode(payload)
		require.NoError(t, err)
		rows, cols := grid.Dims()
		assert.Equal(t, 2, rows)
		assert.Equal(t, 2, cols)
		got[grid[0][0][0]] = true
	}
	assert.Equal(t, map[uint8]bool{6: true, 12: true, 18: true}, got)

	stats := agent.Stats()
	assert.Equal(t, 3, stats.Identity)
	assert.Equal(t, uint64(20), stats.Captured)
	assert.Equal(t, uint64(3), stats.Relayed)
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestAgent_DropsWhenRelayQueueIsFull(t *testing.T) {
	hub := &fakeHub{relayGate: make(chan struct{})}
	agent, err := New(Config{RelayEvery: 1, RelayWorkers: 1, RelayQueue: 1}, Dependencies{
		Hub:    hub,
		Source: &sliceSource{frames: numbered(10)},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return agent.Stats().Captured == 10
	}, time.Second, time.Millisecond)

	stats := agent.Stats()
	assert.Equal(t, uint64(10), stats.Queued+stats.Dropped)
	assert.LessOrEqual(t, stats.Queued, uint64(2), "one in flight plus one buffered")
	assert.GreaterOrEqual(t, stats.Dropped, uint64(8))

	close(hub.relayGate)
	require.NoError(t, <-done)
	assert.Equal(t, agent.Stats().Queued, agent.Stats().Relayed)
}

func TestAgent_PollOpensAndTimerCloses(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := &fakeHub{identity: 1, openAnswers: []bool{true}}

	var mu sync.Mutex
	var transitions []door.Transition
	agent, err := New(Config{}, Dependencies{
		Hub:    hub,
		Source: &sliceSource{hold: true},
		Clock:  fake,
		Logger: quietLogger(),
		Observer: func(tr door.Transition) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, tr)
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	<-agent.Registered()
	require.NoError(t, fake.BlockUntilContext(testContext(t), 1))
	fake.Advance(time.Second)

	require.Eventually(t, func() bool { return agent.Door().IsOpen() }, time.Second, time.Millisecond)
	deadline, ok := agent.Door().Deadline()
	require.True(t, ok)
	assert.Equal(t, fake.Now().Add(10*time.Second), deadline)

	fake.Advance(9 * time.Second)
	require.Eventually(t, func() bool { return hub.pollCount() >= 2 }, time.Second, time.Millisecond)
	assert.True(t, agent.Door().IsOpen())

	fake.Advance(time.Second)
	require.Eventually(t, func() bool { return !agent.Door().IsOpen() }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 2)
	assert.Equal(t, door.Open, transitions[0].To)
	assert.Equal(t, door.Closed, transitions[1].To)
	assert.Equal(t, uint64(1), agent.Stats().OpenSignals)
}

func TestAgent_PollFailuresAreNotFatal(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := &fakeHub{pollErr: errors.New("hub unreachable")}
	agent, err := New(Config{}, Dependencies{
		Hub:    hub,
		Source: &sliceSource{hold: true},
		Clock:  fake,
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	<-agent.Registered()
	for i := 1; i <= 3; i++ {
		require.NoError(t, fake.BlockUntilContext(testContext(t), 1))
		fake.Advance(time.Second)
		want := uint64(i)
		require.Eventually(t, func() bool { return agent.Stats().PollFailed == want }, time.Second, time.Millisecond)
	}
	assert.False(t, agent.Door().IsOpen())

	cancel()
	require.NoError(t, <-done)
}

func TestAgent_SourceFailureEndsRun(t *testing.T) {
	agent, err := New(Config{}, Dependencies{
		Hub:    &fakeHub{},
		Source: &sliceSource{frames: numbered(2), err: errors.New("camera unplugged")},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	err = agent.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera unplugged")
	assert.False(t, agent.Door().IsOpen())
}
