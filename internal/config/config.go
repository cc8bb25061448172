// Package config holds the file-backed configuration of the facegate
// daemons. Files are YAML, or JSON with comments when the name ends in
// .json or .jsonc. Values read from a file sit on top of the defaults;
// command-line flags are applied by the caller afterwards.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/facegate/internal/recognition"
)

var (
	// ErrMissingHubURL is returned when a door node has no hub to talk to
	ErrMissingHubURL = errors.New("hub URL cannot be empty")
	// ErrMissingListen is returned when a daemon has no listen address
	ErrMissingListen = errors.New("listen address cannot be empty")
	// ErrMissingFrames is returned when the recognizer has nowhere to fetch frames from
	ErrMissingFrames = errors.New("backend URL or frames URL is required")
	// ErrInvalidSource is returned for an unknown frame source kind
	ErrInvalidSource = errors.New("frame source must be \"synthetic\" or \"replay\"")
	// ErrInvalidLog is returned for an unknown log level or format
	ErrInvalidLog = errors.New("invalid log settings")
)

// Duration is a time.Duration written as "1s", "250ms" and so on.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// LogConfig selects the slog handler a daemon logs through.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
}

func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LogConfig) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("%w: level %q", ErrInvalidLog, c.Level)
	}
	switch c.Format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("%w: format %q", ErrInvalidLog, c.Format)
}

// NewLogger builds the configured logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// GalleryRef names a file holding one encoded reference photo.
type GalleryRef struct {
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

// ReadGalleryFiles reads every reference file.
func ReadGalleryFiles(refs []GalleryRef) ([]recognition.Reference, error) {
	out := make([]recognition.Reference, 0, len(refs))
	for _, ref := range refs {
		if ref.Name == "" {
			return nil, fmt.Errorf("gallery entry for %q has no name", ref.File)
		}
		data, err := os.ReadFile(ref.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference photo for %s: %w", ref.Name, err)
		}
		out = append(out, recognition.Reference{Name: ref.Name, Payload: strings.TrimSpace(string(data))})
	}
	return out, nil
}

// resolveGallery makes reference paths relative to dir.
func resolveGallery(dir string, refs []GalleryRef) {
	for i := range refs {
		if refs[i].File != "" && !filepath.IsAbs(refs[i].File) {
			refs[i].File = filepath.Join(dir, refs[i].File)
		}
	}
}

// decodeFile reads path into v, rejecting unknown keys.
func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}
