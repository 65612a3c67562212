package capture

import "github.com/hazyhaar/chatwatch/capture/internal/config"

// Configuration types re-exported for callers.
type (
	Config         = config.Config
	SelectorConfig = config.SelectorConfig
	AskConfig      = config.AskConfig
	SelfTestConfig = config.SelfTestConfig
	SinkConfig     = config.SinkConfig
)

const (
	BaselineSkip = config.BaselineSkip
	BaselineEmit = config.BaselineEmit
)

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }
