package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is the page the picker runs on.
type Tab struct {
	Page *rod.Page
	// URL is the address the tab had when opened.
	URL string

	// owned is false for a pre-existing tab of a remote browser; Close
	// leaves those open.
	owned  bool
	logger *slog.Logger
}

// OpenTab returns the tab to pick from. On a remote browser an open tab
// whose URL starts with pageURL is reused; otherwise a new tab is created
// (with stealth evasions when configured) and navigated to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	if mgr.Remote() {
		if p := findPage(b, pageURL); p != nil {
			info, _ := p.Info()
			u := pageURL
			if info != nil {
				u = info.URL
			}
			log.Info("browser: attached to open tab", "url", u)
			return &Tab{Page: p, URL: u, logger: log}, nil
		}
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	tab := &Tab{Page: page, URL: pageURL, owned: true, logger: log}
	if pageURL == "" {
		return tab, nil
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return tab, nil
}

func findPage(b *rod.Browser, prefix string) *rod.Page {
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if prefix == "" || strings.HasPrefix(info.URL, prefix) {
			return p
		}
	}
	return nil
}

// WatchNavigation calls fn with the new URL every time the main frame
// commits a navigation. It blocks until ctx is done.
func (t *Tab) WatchNavigation(ctx context.Context, fn func(url string)) {
	t.Page.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		fn(e.Frame.URL)
	})()
}

// MirrorConsole copies page console warnings, errors and uncaught
// exceptions to the logger at debug level. It blocks until ctx is done.
func (t *Tab) MirrorConsole(ctx context.Context) {
	t.Page.Context(ctx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type != proto.RuntimeConsoleAPICalledTypeWarning && e.Type != proto.RuntimeConsoleAPICalledTypeError {
				return
			}
			parts := make([]string, 0, len(e.Args))
			for _, a := range e.Args {
				if s := a.Value.Str(); s != "" {
					parts = append(parts, s)
				} else {
					parts = append(parts, a.Description)
				}
			}
			t.logger.Debug("browser: console", "type", e.Type, "text", strings.Join(parts, " "))
		},
		func(e *proto.RuntimeExceptionThrown) {
			if d := e.ExceptionDetails; d != nil {
				t.logger.Debug("browser: page exception", "text", d.Text, "line", d.LineNumber)
			}
		},
	)()
}

// Close closes the tab if it was opened by OpenTab.
func (t *Tab) Close() error {
	if t.Page == nil || !t.owned {
		return nil
	}
	return t.Page.Close()
}
