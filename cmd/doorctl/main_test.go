package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
	"github.com/rmacdonaldsmith/facegate/internal/hubapi"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
	"github.com/rmacdonaldsmith/facegate/pkg/hubclient"
)

type testHub struct {
	coordinator *hub.Coordinator
	url         string
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	frames, err := framestore.New()
	require.NoError(t, err)
	coordinator, err := hub.NewCoordinator(hub.Config{}, hub.Dependencies{Sink: frames, Logger: logger})
	require.NoError(t, err)

	server := hubapi.NewServer(coordinator, frames, hubapi.Config{}, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		frames.Close()
	})
	return &testHub{coordinator: coordinator, url: ts.URL}
}

// runCLI executes doorctl with args and returns what it printed.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDoorCommands(t *testing.T) {
	h := newTestHub(t)

	out, err := runCLI(t, "", "--hub", h.url, "register")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered as door 0")

	payload := framecodec.Encode(framecodec.Grid{{{1, 2, 3}, {4, 5, 6}}})
	out, err = runCLI(t, payload+"\n", "--hub", h.url, "relay", "--door", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Frame relayed for door 0")

	_, err = runCLI(t, "zz", "--hub", h.url, "relay", "--door", "0")
	assert.ErrorIs(t, err, framecodec.ErrFormat)

	out, err = runCLI(t, "", "--hub", h.url, "poll", "--door", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "no open signal")

	require.NoError(t, h.coordinator.RequestOpen(0))
	out, err = runCLI(t, "", "--hub", h.url, "poll", "--door", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Door 0 should open")

	_, err = runCLI(t, "", "--hub", h.url, "poll")
	assert.Error(t, err, "door is required")
}

func TestStatusCommands(t *testing.T) {
	h := newTestHub(t)

	out, err := runCLI(t, "", "--hub", h.url, "doors")
	require.NoError(t, err)
	assert.Contains(t, out, "No doors registered")

	_, err = runCLI(t, "", "--hub", h.url, "register")
	require.NoError(t, err)
	_, err = runCLI(t, "000000", "--hub", h.url, "relay", "--door", "0")
	require.NoError(t, err)

	out, err = runCLI(t, "", "--hub", h.url, "doors")
	require.NoError(t, err)
	assert.Contains(t, out, "DOOR")
	assert.Contains(t, out, "never")

	out, err = runCLI(t, "", "--hub", h.url, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Hub is healthy")
	assert.Contains(t, out, "Doors: 1")
	assert.Contains(t, out, "Door 0 frames: received=1")
}

func TestWatchCommand(t *testing.T) {
	h := newTestHub(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := runCLI(t, "", "--hub", h.url, "watch", "--json", "--count", "1")
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool {
		return h.coordinator.Subscribers() == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.coordinator.Register(testContext(t), "10.0.0.7:4000")

	select {
	case r := <-done:
		require.NoError(t, r.err)
		var ev hubclient.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(r.out)), &ev))
		assert.Equal(t, "door.registered", ev.Type)
		assert.Equal(t, 0, ev.DoorID)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return")
	}
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "face.fgcap")
	grid := framecodec.Grid{
		{{10, 0, 0}, {11, 0, 0}, {12, 0, 0}, {13, 0, 0}},
		{{20, 0, 0}, {21, 0, 0}, {22, 0, 0}, {23, 0, 0}},
	}
	payload := framecodec.Encode(grid)

	out, err := runCLI(t, payload, "decode", "--capture", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "Rows: 2")
	assert.Contains(t, out, "Cols: 4")
	assert.Contains(t, out, "Rectangular: true")

	out, err = runCLI(t, "", "encode", "--capture", capture)
	require.NoError(t, err)
	assert.Equal(t, payload, strings.TrimSpace(out))

	out, err = runCLI(t, "", "encode", "--capture", capture, "--downscale", "2")
	require.NoError(t, err)
	assert.Equal(t, framecodec.Encode(framecodec.Downscale(grid, 2)), strings.TrimSpace(out))

	_, err = runCLI(t, "", "encode", "--capture", capture, "--frame", "1")
	assert.Error(t, err)

	_, err = runCLI(t, "0000000;000000", "decode", "--capture", filepath.Join(dir, "bad.fgcap"))
	assert.Error(t, err)
}
