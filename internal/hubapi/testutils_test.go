package hubapi

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
)

// recordingTrigger stands in for the recognition bridge.
type recordingTrigger struct {
	mu    sync.Mutex
	doors []int
	err   error
}

func (r *recordingTrigger) Trigger(ctx context.Context, doorID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doors = append(r.doors, doorID)
	return r.err
}

func (r *recordingTrigger) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingTrigger) triggered() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.doors...)
}

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Clock       *clockwork.FakeClock
	Frames      *framestore.Store
	Trigger     *recordingTrigger
	Coordinator *hub.Coordinator
	Server      *Server
	HTTP        *httptest.Server
}

// NewTestServerSetup wires a coordinator with an embedded frame buffer
// behind an httptest server.
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	frames, err := framestore.New()
	require.NoError(t, err)

	trigger := &recordingTrigger{}
	coordinator, err := hub.NewCoordinator(hub.Config{}, hub.Dependencies{
		Sink:    frames,
		Trigger: trigger,
		Clock:   fake,
		Logger:  logger,
	})
	require.NoError(t, err)

	server := NewServer(coordinator, frames, Config{}, logger)
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		server.handlers.shutdown()
		ts.Close()
		frames.Close()
	})

	return &TestServerSetup{
		Clock:       fake,
		Frames:      frames,
		Trigger:     trigger,
		Coordinator: coordinator,
		Server:      server,
		HTTP:        ts,
	}
}
