package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/facegate/internal/config"
	"github.com/rmacdonaldsmith/facegate/internal/framesource"
	"github.com/rmacdonaldsmith/facegate/internal/nodeagent"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

func TestVersionFlag(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "facegate-doornode v0.1.0")
}

func TestParseFlags(t *testing.T) {
	t.Run("hub is required", func(t *testing.T) {
		_, _, err := parseFlags(nil, io.Discard)
		assert.ErrorIs(t, err, config.ErrMissingHubURL)
	})

	t.Run("hub from the command line completes a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "node.yaml")
		require.NoError(t, os.WriteFile(path, []byte("hold_open: 4s\nrelay:\n  every: 3\n"), 0o644))

		cfg, _, err := parseFlags([]string{"--config", path, "--hub", "http://hub:8080", "--poll-interval", "500ms"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "http://hub:8080", cfg.HubURL)
		assert.Equal(t, 3, cfg.Relay.Every)
		assert.Equal(t, 4*time.Second, cfg.HoldOpen.Duration)
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval.Duration)
	})

	t.Run("replay needs a capture", func(t *testing.T) {
		_, _, err := parseFlags([]string{"--hub", "http://hub:8080", "--source", "replay"}, io.Discard)
		assert.Error(t, err)
	})
}

func TestCentered(t *testing.T) {
	face := make(framecodec.Grid, 10)
	for i := range face {
		face[i] = make([]framecodec.Pixel, 6)
	}
	top, left := centered(face, 480, 640, 4)
	assert.Equal(t, 232, top)
	assert.Equal(t, 316, left)
	assert.Zero(t, top%4)
	assert.Zero(t, left%4)
}

func TestOpenSource_RecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	face := framecodec.Grid{
		{{200, 10, 10}, {200, 20, 20}},
		{{200, 30, 30}, {200, 40, 40}},
	}
	visitorPath := filepath.Join(dir, "visitor.txt")
	require.NoError(t, os.WriteFile(visitorPath, []byte(framecodec.Encode(face)+"\n"), 0o644))
	capturePath := filepath.Join(dir, "door.fgcap")

	cfg := config.DefaultNode()
	cfg.HubURL = "http://hub:8080"
	cfg.Source.Rows, cfg.Source.Cols, cfg.Source.FPS = 8, 8, 1000
	cfg.Source.VisitorFile = visitorPath
	cfg.Source.Record = capturePath

	source, closeSource, err := openSource(cfg)
	require.NoError(t, err)
	var recorded []framecodec.Grid
	for i := 0; i < 3; i++ {
		grid, err := source.Next(context.Background())
		require.NoError(t, err)
		recorded = append(recorded, grid)
	}
	require.NoError(t, closeSource())

	cfg.Source = config.SourceConfig{Kind: config.SourceReplay, Path: capturePath}
	replay, closeReplay, err := openSource(cfg)
	require.NoError(t, err)
	defer closeReplay()

	for _, want := range recorded {
		got, err := replay.Next(context.Background())
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
	}
	_, err = replay.Next(context.Background())
	assert.ErrorIs(t, err, framesource.ErrExhausted)
}

func TestRun_RegistrationFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"Internal Server Error","message":"no","code":500}`, http.StatusInternalServerError)
			},
		},
		{
			name: "reply_without_index",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{}`))
			},
		},
		{
			name: "no_content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var polls atomic.Int32
			hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/hub/should_open" {
					polls.Add(1)
				}
				tt.handler(w, r)
			}))
			defer hub.Close()

			err := run([]string{"--hub", hub.URL, "--fps", "1000"}, io.Discard, io.Discard)
			var regErr *nodeagent.RegistrationError
			assert.ErrorAs(t, err, &regErr)
			assert.Zero(t, polls.Load(), "a node without an identity must not poll")
		})
	}
}
