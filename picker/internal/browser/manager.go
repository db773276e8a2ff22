// Package browser drives Chrome for the picker: launch or connect, open
// or attach to the target tab, inject the page bridge and rasterize
// staged elements.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is run.
type Mode int

const (
	ModeHeadful  Mode = iota // visible window, the normal interactive mode
	ModeXvfb                 // headful inside an Xvfb display
	ModeHeadless             // no window, for remote control through the API
)

// ParseMode maps a config string to a Mode. Empty means headful.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "headful":
		return ModeHeadful, nil
	case "xvfb":
		return ModeXvfb, nil
	case "headless":
		return ModeHeadless, nil
	}
	return ModeHeadful, fmt.Errorf("browser: unknown mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeXvfb:
		return "xvfb"
	case ModeHeadless:
		return "headless"
	}
	return "headful"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty = launch a local Chrome.
	RemoteURL string

	Mode Mode

	// Bin is the Chrome binary. Empty = let the launcher find or download one.
	Bin string

	// XvfbDisplay for ModeXvfb. Default: ":99".
	XvfbDisplay string

	// Stealth applies go-rod/stealth evasions to new tabs.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome or connects to the remote instance.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current rod browser, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Remote reports whether the manager is attached to an external Chrome.
func (m *Manager) Remote() bool { return m.cfg.RemoteURL != "" }

// Close shuts down Chrome and Xvfb. A remote browser is disconnected, not
// closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if m.cfg.Mode == ModeXvfb {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}

		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		switch m.cfg.Mode {
		case ModeHeadless:
			l = l.Headless(true)
		case ModeXvfb:
			l = l.Headless(false).Env("DISPLAY=" + m.cfg.XvfbDisplay)
		default:
			l = l.Headless(false)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
