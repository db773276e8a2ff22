package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headful" || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if got := cfg.Picker.Selectors; len(got) != 5 || got[0] != "pre" || got[4] != "div" {
		t.Errorf("selectors: %v", got)
	}
	if cfg.Picker.UIPrefix != "blockshot-" || cfg.Picker.MinWidth != 50 || cfg.Picker.MinHeight != 20 {
		t.Errorf("picker: %+v", cfg.Picker)
	}
	c := cfg.Capture
	if c.Scale != 2 || c.Background != "#ffffff" || c.Padding != 24 || c.Radius != 8 {
		t.Errorf("capture: %+v", c)
	}
	if c.SuccessDelay != 1500*time.Millisecond || c.FailureDelay != 2500*time.Millisecond {
		t.Errorf("delays: %v %v", c.SuccessDelay, c.FailureDelay)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "dir" || cfg.Sinks[0].Dir != "." {
		t.Errorf("sinks: %+v", cfg.Sinks)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockshot.yaml")
	yml := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  mode: headless
page:
  url: https://example.com/docs
picker:
  selectors: [pre, table]
capture:
  scale: 3
  rasterizer: cdp
  success_delay: 500ms
sinks:
  - type: dir
    dir: /tmp/shots
  - type: webhook
    url: http://localhost:8080/hook
history:
  db: blockshot.db
control:
  listen: 127.0.0.1:7777
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headless" || cfg.Page.URL != "https://example.com/docs" {
		t.Errorf("browser/page: %+v %+v", cfg.Browser, cfg.Page)
	}
	if len(cfg.Picker.Selectors) != 2 || cfg.Picker.Selectors[1] != "table" {
		t.Errorf("selectors: %v", cfg.Picker.Selectors)
	}
	if cfg.Capture.Scale != 3 || cfg.Capture.Rasterizer != "cdp" || cfg.Capture.SuccessDelay != 500*time.Millisecond {
		t.Errorf("capture: %+v", cfg.Capture)
	}
	if cfg.Capture.FailureDelay != 2500*time.Millisecond {
		t.Errorf("failure delay default: %v", cfg.Capture.FailureDelay)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].URL != "http://localhost:8080/hook" {
		t.Errorf("sinks: %+v", cfg.Sinks)
	}
	if cfg.History.DB != "blockshot.db" || cfg.Control.Listen != "127.0.0.1:7777" {
		t.Errorf("history/control: %+v %+v", cfg.History, cfg.Control)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error")
	}
}

func TestParse_Invalid(t *testing.T) {
	for name, yml := range map[string]string{
		"mode":       "browser: {mode: fullscreen}",
		"rasterizer": "capture: {rasterizer: svg}",
		"webhook":    "sinks: [{type: webhook}]",
		"scheme":     "sinks: [{type: webhook, url: 'file:///etc/passwd'}]",
		"sink type":  "sinks: [{type: s3}]",
		"syntax":     "browser: [",
	} {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Default()
	before := *cfg
	cfg.ApplyDefaults()
	if cfg.Capture != before.Capture || cfg.Picker.UIPrefix != before.Picker.UIPrefix || len(cfg.Sinks) != 1 {
		t.Errorf("second ApplyDefaults changed config")
	}
}
