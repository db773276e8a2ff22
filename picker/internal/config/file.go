// Package config handles blockshot configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/blockshot/horosafe"
)

// Config is the top-level blockshot configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Page      PageConfig      `yaml:"page"`
	Picker    PickerConfig    `yaml:"picker"`
	Highlight HighlightConfig `yaml:"highlight"`
	Capture   CaptureConfig   `yaml:"capture"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	History   HistoryConfig   `yaml:"history"`
	Control   ControlConfig   `yaml:"control"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`
	Mode        string `yaml:"mode"` // headful | xvfb | headless
	Bin         string `yaml:"bin"`
	XvfbDisplay string `yaml:"xvfb_display"`
	Stealth     bool   `yaml:"stealth"`
}

// PageConfig selects the tab to pick from.
type PageConfig struct {
	URL string `yaml:"url"`
}

// PickerConfig controls element discovery and the tool's own surfaces.
type PickerConfig struct {
	Selectors []string `yaml:"selectors"`
	UIPrefix  string   `yaml:"ui_prefix"`
	MinWidth  float64  `yaml:"min_width"`
	MinHeight float64  `yaml:"min_height"`
	// Repeat re-activates a new session when one ends.
	Repeat bool `yaml:"repeat"`
}

// HighlightConfig sets the hover look.
type HighlightConfig struct {
	Color        string `yaml:"color"`
	Opacity      string `yaml:"opacity"`
	OutlineWidth string `yaml:"outline_width"`
}

// CaptureConfig controls rendering and file naming.
type CaptureConfig struct {
	Scale          float64       `yaml:"scale"`
	Background     string        `yaml:"background"`
	Padding        int           `yaml:"padding"`
	Radius         int           `yaml:"radius"`
	FilenamePrefix string        `yaml:"filename_prefix"`
	Rasterizer     string        `yaml:"rasterizer"` // html2canvas | cdp
	ScriptURL      string        `yaml:"script_url"`
	ScriptPath     string        `yaml:"script_path"` // local html2canvas served in place of ScriptURL
	SuccessDelay   time.Duration `yaml:"success_delay"`
	FailureDelay   time.Duration `yaml:"failure_delay"`
}

// SinkConfig defines where exported files go.
type SinkConfig struct {
	Type string `yaml:"type"` // dir | webhook | stdout
	Dir  string `yaml:"dir"`  // for dir
	URL  string `yaml:"url"`  // for webhook
}

// HistoryConfig enables the SQLite export log.
type HistoryConfig struct {
	DB string `yaml:"db"`
}

// ControlConfig enables the HTTP control API.
type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headful"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if len(c.Picker.Selectors) == 0 {
		c.Picker.Selectors = []string{"pre", "code", "article", "section", "div"}
	}
	if c.Picker.UIPrefix == "" {
		c.Picker.UIPrefix = "blockshot-"
	}
	if c.Picker.MinWidth <= 0 {
		c.Picker.MinWidth = 50
	}
	if c.Picker.MinHeight <= 0 {
		c.Picker.MinHeight = 20
	}
	if c.Capture.Scale <= 0 {
		c.Capture.Scale = 2
	}
	if c.Capture.Background == "" {
		c.Capture.Background = "#ffffff"
	}
	if c.Capture.Padding <= 0 {
		c.Capture.Padding = 24
	}
	if c.Capture.Radius <= 0 {
		c.Capture.Radius = 8
	}
	if c.Capture.FilenamePrefix == "" {
		c.Capture.FilenamePrefix = "block"
	}
	if c.Capture.Rasterizer == "" {
		c.Capture.Rasterizer = "html2canvas"
	}
	if c.Capture.SuccessDelay <= 0 {
		c.Capture.SuccessDelay = 1500 * time.Millisecond
	}
	if c.Capture.FailureDelay <= 0 {
		c.Capture.FailureDelay = 2500 * time.Millisecond
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "dir", Dir: "."}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "dir" && c.Sinks[i].Dir == "" {
			c.Sinks[i].Dir = "."
		}
	}
}

// Validate rejects values the picker cannot run with.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headful", "xvfb", "headless":
	default:
		return fmt.Errorf("config: browser.mode %q: want headful, xvfb or headless", c.Browser.Mode)
	}
	switch c.Capture.Rasterizer {
	case "html2canvas", "cdp":
	default:
		return fmt.Errorf("config: capture.rasterizer %q: want html2canvas or cdp", c.Capture.Rasterizer)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "dir", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
			if err := horosafe.CheckHTTPURL(s.URL); err != nil {
				return fmt.Errorf("config: sinks[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
