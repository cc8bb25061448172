package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersionFlag(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "facegate-hub v0.1.0")
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults are standalone", func(t *testing.T) {
		cfg, _, err := parseFlags(nil, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Listen)
		assert.True(t, cfg.Standalone())
	})

	t.Run("flags override the file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "hub.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
backend_url: http://backend:8080
gallery:
  - name: ada
    file: faces/ada.txt
`), 0o644))

		cfg, _, err := parseFlags([]string{"--config", path, "--listen", ":9100", "--log-level", "debug"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, ":9100", cfg.Listen)
		assert.Equal(t, "http://backend:8080", cfg.BackendURL)
		assert.Equal(t, "debug", cfg.Log.Level)
		require.Len(t, cfg.Gallery, 1)
		assert.Equal(t, filepath.Join(dir, "faces/ada.txt"), cfg.Gallery[0].File)
	})

	t.Run("invalid combination", func(t *testing.T) {
		_, _, err := parseFlags([]string{"--recognizer", "http://r:5000"}, io.Discard)
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := parseFlags([]string{"--bogus"}, io.Discard)
		assert.Error(t, err)
	})
}

func TestStandaloneHub(t *testing.T) {
	cfg, _, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)

	app, err := newHubApp(cfg, quietLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.frames)
	assert.NotNil(t, app.bridge)

	ts := httptest.NewServer(app.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/hub/get_index")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var index struct {
		Index int `json:"index"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&index))
	assert.Equal(t, 0, index.Index)
}

func TestBackendHub_NotifiesDoorCount(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	backendTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/doors/number-of-doors-to-open" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var body struct {
			Count int `json:"nrOfDoors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		counts = append(counts, body.Count)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer backendTS.Close()

	cfg, _, err := parseFlags([]string{"--backend", backendTS.URL, "--notify-door-count"}, io.Discard)
	require.NoError(t, err)

	app, err := newHubApp(cfg, quietLogger())
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.frames)

	ts := httptest.NewServer(app.server.Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/hub/get_index")
		require.NoError(t, err)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, counts)
}
