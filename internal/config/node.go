package config

import (
	"fmt"
	"time"
)

// Frame source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceReplay    = "replay"
)

// NodeConfig configures cmd/doornode.
type NodeConfig struct {
	HubURL       string   `yaml:"hub_url" json:"hub_url"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	RelayTimeout Duration `yaml:"relay_timeout" json:"relay_timeout"`

	Relay        RelayConfig `yaml:"relay" json:"relay"`
	PollInterval Duration    `yaml:"poll_interval" json:"poll_interval"`
	HoldOpen     Duration    `yaml:"hold_open" json:"hold_open"`

	Source SourceConfig `yaml:"source" json:"source"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// RelayConfig controls which frames leave the node and how many relays
// may be outstanding.
type RelayConfig struct {
	Every     int `yaml:"every" json:"every"`
	Downscale int `yaml:"downscale" json:"downscale"`
	Workers   int `yaml:"workers" json:"workers"`
	Queue     int `yaml:"queue" json:"queue"`
}

// SourceConfig selects the camera stand-in.
type SourceConfig struct {
	Kind string `yaml:"kind" json:"kind"`

	// Synthetic
	FPS         int    `yaml:"fps" json:"fps"`
	Rows        int    `yaml:"rows" json:"rows"`
	Cols        int    `yaml:"cols" json:"cols"`
	VisitorFile string `yaml:"visitor_file" json:"visitor_file"`

	// Replay
	Path  string `yaml:"path" json:"path"`
	Loop  bool   `yaml:"loop" json:"loop"`
	Paced bool   `yaml:"paced" json:"paced"`

	// Record, when set, writes every captured frame to a capture file.
	Record string `yaml:"record" json:"record"`
}

// DefaultNode returns the door node defaults.
func DefaultNode() *NodeConfig {
	c := &NodeConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *NodeConfig) SetDefaults() {
	if c.Timeout.Duration <= 0 {
		c.Timeout = D(5 * time.Second)
	}
	if c.RelayTimeout.Duration <= 0 {
		c.RelayTimeout = D(30 * time.Second)
	}
	if c.Relay.Every <= 0 {
		c.Relay.Every = 6
	}
	if c.Relay.Downscale <= 0 {
		c.Relay.Downscale = 4
	}
	if c.Relay.Workers <= 0 {
		c.Relay.Workers = 4
	}
	if c.Relay.Queue <= 0 {
		c.Relay.Queue = 16
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval = D(time.Second)
	}
	if c.HoldOpen.Duration <= 0 {
		c.HoldOpen = D(10 * time.Second)
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceSynthetic
	}
	if c.Source.FPS <= 0 {
		c.Source.FPS = 30
	}
	if c.Source.Rows <= 0 {
		c.Source.Rows = 480
	}
	if c.Source.Cols <= 0 {
		c.Source.Cols = 640
	}
	c.Log.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *NodeConfig) Validate() error {
	if c.HubURL == "" {
		return ErrMissingHubURL
	}
	switch c.Source.Kind {
	case SourceSynthetic:
	case SourceReplay:
		if c.Source.Path == "" {
			return fmt.Errorf("replay source needs a capture file path")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSource, c.Source.Kind)
	}
	return c.Log.Validate()
}

// ReadNodeFile reads a door node configuration file over the defaults without
// validating it, so command-line flags can still fill in required values.
func ReadNodeFile(path string) (*NodeConfig, error) {
	c := DefaultNode()
	if err := decodeFile(path, c); err != nil {
		return nil, err
	}
	c.SetDefaults()
	return c, nil
}

// LoadNodeFile reads and validates a door node configuration file.
func LoadNodeFile(path string) (*NodeConfig, error) {
	c, err := ReadNodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
