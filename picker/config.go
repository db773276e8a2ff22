package picker

import (
	"github.com/hazyhaar/blockshot/picker/internal/config"
)

// Config is the top-level blockshot configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// PageConfig selects the tab.
type PageConfig = config.PageConfig

// PickerConfig controls element discovery.
type PickerConfig = config.PickerConfig

// HighlightConfig sets the hover look.
type HighlightConfig = config.HighlightConfig

// CaptureConfig controls rendering and file naming.
type CaptureConfig = config.CaptureConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
