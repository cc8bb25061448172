package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// HubConfig configures cmd/hub.
//
// With no backend URL the hub runs standalone: frames go to the embedded
// frame buffer, recognition runs in process and open decisions come from
// the recognition streak. With a backend URL, frames, decisions and door
// counts go through the backend, and recognition is triggered on the
// recognizer at RecognizerURL if one is set.
type HubConfig struct {
	Listen          string   `yaml:"listen" json:"listen"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	BackendURL      string `yaml:"backend_url" json:"backend_url"`
	RecognizerURL   string `yaml:"recognizer_url" json:"recognizer_url"`
	NotifyDoorCount bool   `yaml:"notify_door_count" json:"notify_door_count"`

	DecisionInterval Duration `yaml:"decision_interval" json:"decision_interval"`
	CallTimeout      Duration `yaml:"call_timeout" json:"call_timeout"`
	TriggerTimeout   Duration `yaml:"trigger_timeout" json:"trigger_timeout"`

	// In-process recognition only.
	MatcherAddress    string       `yaml:"matcher_address" json:"matcher_address"`
	DecisionThreshold int          `yaml:"decision_threshold" json:"decision_threshold"`
	Gallery           []GalleryRef `yaml:"gallery" json:"gallery"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultHub returns the hub defaults.
func DefaultHub() *HubConfig {
	c := &HubConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *HubConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.ShutdownTimeout.Duration <= 0 {
		c.ShutdownTimeout = D(5 * time.Second)
	}
	if c.DecisionInterval.Duration <= 0 {
		c.DecisionInterval = D(time.Second)
	}
	if c.CallTimeout.Duration <= 0 {
		c.CallTimeout = D(5 * time.Second)
	}
	if c.TriggerTimeout.Duration <= 0 {
		c.TriggerTimeout = D(30 * time.Second)
	}
	if c.DecisionThreshold <= 0 {
		c.DecisionThreshold = 1
	}
	c.Log.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *HubConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.RecognizerURL != "" && c.BackendURL == "" {
		return fmt.Errorf("recognizer_url requires backend_url")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// Standalone reports whether the hub runs without an external backend.
func (c *HubConfig) Standalone() bool {
	return c.BackendURL == ""
}

// ReadHubFile reads a hub configuration file over the defaults without
// validating it, so command-line flags can still fill in required values.
func ReadHubFile(path string) (*HubConfig, error) {
	c := DefaultHub()
	if err := decodeFile(path, c); err != nil {
		return nil, err
	}
	resolveGallery(filepath.Dir(path), c.Gallery)
	c.SetDefaults()
	return c, nil
}

// LoadHubFile reads and validates a hub configuration file.
func LoadHubFile(path string) (*HubConfig, error) {
	c, err := ReadHubFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
