// Package config handles capture-client configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Baseline policies for messages already on the page when capture starts.
const (
	BaselineSkip = "skip" // treat pre-existing messages as already seen
	BaselineEmit = "emit" // emit pre-existing messages as new
)

// Config is the top-level capture-client configuration.
type Config struct {
	// Endpoint is the browser remote-debugging endpoint.
	Endpoint string `yaml:"endpoint"`
	// OutputFile is the JSONL append log path.
	OutputFile string `yaml:"output_file"`
	// Interval between scan cycles.
	Interval time.Duration `yaml:"interval"`
	// TargetURL is the chat page to select or open.
	TargetURL string `yaml:"target_url"`
	// AutoNavigate opens/navigates to TargetURL without prompting.
	AutoNavigate bool `yaml:"auto_navigate"`
	// AutoStart begins capturing without the readiness prompt.
	AutoStart bool `yaml:"auto_start"`
	// Baseline controls pre-existing message handling: skip | emit.
	Baseline string `yaml:"baseline"`

	Selectors SelectorConfig `yaml:"selectors"`
	Ask       AskConfig      `yaml:"ask"`
	SelfTest  SelfTestConfig `yaml:"self_test"`
	Sinks     []SinkConfig   `yaml:"sinks"`
}

// SelectorConfig overrides the built-in DOM selector lists.
type SelectorConfig struct {
	User    []string `yaml:"user"`
	AI      []string `yaml:"ai"`
	Textbox []string `yaml:"textbox"`
	Loading string   `yaml:"loading"`
	Stop    []string `yaml:"stop"`
}

// AskConfig tunes the send-and-wait loop.
type AskConfig struct {
	// Timeout for one ask/stream round trip.
	Timeout time.Duration `yaml:"timeout"`
	// StablePolls is how many unchanged polls mean the reply settled.
	StablePolls int `yaml:"stable_polls"`
	// Interval between polls while waiting for the reply.
	Interval time.Duration `yaml:"interval"`
}

// SelfTestConfig controls the startup round-trip check.
type SelfTestConfig struct {
	Enabled bool          `yaml:"enabled"`
	Message string        `yaml:"message"`
	Timeout time.Duration `yaml:"timeout"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // jsonl | stdout | webhook | archive
	Path string `yaml:"path"` // for jsonl, archive
	URL  string `yaml:"url"`  // for webhook
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if cfg.Baseline != BaselineSkip && cfg.Baseline != BaselineEmit {
		return nil, fmt.Errorf("config: baseline must be %q or %q, got %q",
			BaselineSkip, BaselineEmit, cfg.Baseline)
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "http://127.0.0.1:9222"
	}
	if c.OutputFile == "" {
		c.OutputFile = "chat_capture.jsonl"
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.TargetURL == "" {
		c.TargetURL = "https://m365.cloud.microsoft/chat/"
	}
	if c.Baseline == "" {
		c.Baseline = BaselineSkip
	}
	if c.Ask.Timeout <= 0 {
		c.Ask.Timeout = 180 * time.Second
	}
	if c.Ask.StablePolls <= 0 {
		c.Ask.StablePolls = 6
	}
	if c.Ask.Interval <= 0 {
		c.Ask.Interval = 150 * time.Millisecond
	}
	if c.SelfTest.Message == "" {
		c.SelfTest.Message = "Please reply with a short greeting for capture test."
	}
	if c.SelfTest.Timeout <= 0 {
		c.SelfTest.Timeout = 60 * time.Second
	}
}
