package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// RecognizerConfig configures cmd/recognizer.
type RecognizerConfig struct {
	Listen          string   `yaml:"listen" json:"listen"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CallTimeout     Duration `yaml:"call_timeout" json:"call_timeout"`

	// BackendURL receives results and serves the gallery. FramesURL
	// defaults to it; point it at a hub to read the hub's embedded buffer.
	BackendURL string `yaml:"backend_url" json:"backend_url"`
	FramesURL  string `yaml:"frames_url" json:"frames_url"`

	// MatcherAddress is a gRPC matcher; empty uses the in-process one.
	// ServeMatcher, when set, exposes the in-process matcher over gRPC.
	MatcherAddress string `yaml:"matcher_address" json:"matcher_address"`
	ServeMatcher   string `yaml:"serve_matcher" json:"serve_matcher"`

	Gallery []GalleryRef `yaml:"gallery" json:"gallery"`
	Log     LogConfig    `yaml:"log" json:"log"`
}

// DefaultRecognizer returns the recognizer defaults.
func DefaultRecognizer() *RecognizerConfig {
	c := &RecognizerConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *RecognizerConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":5000"
	}
	if c.ShutdownTimeout.Duration <= 0 {
		c.ShutdownTimeout = D(5 * time.Second)
	}
	if c.CallTimeout.Duration <= 0 {
		c.CallTimeout = D(5 * time.Second)
	}
	if c.FramesURL == "" {
		c.FramesURL = c.BackendURL
	}
	c.Log.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *RecognizerConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.FramesURL == "" {
		return ErrMissingFrames
	}
	return c.Log.Validate()
}

// ReadRecognizerFile reads a recognizer configuration file over the defaults without
// validating it, so command-line flags can still fill in required values.
func ReadRecognizerFile(path string) (*RecognizerConfig, error) {
	c := DefaultRecognizer()
	if err := decodeFile(path, c); err != nil {
		return nil, err
	}
	resolveGallery(filepath.Dir(path), c.Gallery)
	c.SetDefaults()
	return c, nil
}

// LoadRecognizerFile reads and validates a recognizer configuration file.
func LoadRecognizerFile(path string) (*RecognizerConfig, error) {
	c, err := ReadRecognizerFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
