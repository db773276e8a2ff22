// Package highlight applies and restores the hover emphasis on the element
// under the cursor. It keeps the element's prior inline style so the page
// is left exactly as it was.
package highlight

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// Appearance configures the highlight look.
type Appearance struct {
	Color        string // outline color. Default: #6366f1.
	Tint         string // background rgb triplet. Default: "99, 102, 241".
	Opacity      string // background alpha. Default: "0.08".
	OutlineWidth string // Default: "2px".
}

func (a *Appearance) defaults() {
	if a.Color == "" {
		a.Color = "#6366f1"
	}
	if a.Tint == "" {
		a.Tint = "99, 102, 241"
	}
	if a.Opacity == "" {
		a.Opacity = "0.08"
	}
	if a.OutlineWidth == "" {
		a.OutlineWidth = "2px"
	}
}

// Style returns the inline style applied to a highlighted element.
func (a Appearance) Style() dom.Style {
	a.defaults()
	return dom.Style{
		Outline:         a.OutlineWidth + " solid " + a.Color,
		BackgroundColor: "rgba(" + a.Tint + ", " + a.Opacity + ")",
		Cursor:          "pointer",
		BoxShadow:       "0 0 0 4px rgba(" + a.Tint + ", 0.1)",
	}
}

// Indicator is the feedback shown while something is highlighted.
type Indicator interface {
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
}

// Manager tracks the current hover target. It is not safe for concurrent
// use; the session controller serialises calls.
type Manager struct {
	doc    dom.Document
	tip    Indicator
	look   dom.Style
	logger *slog.Logger

	current dom.Handle
	saved   map[dom.Handle]dom.Style
}

// New creates a Manager. tip may be nil.
func New(doc dom.Document, tip Indicator, look Appearance, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		doc:    doc,
		tip:    tip,
		look:   look.Style(),
		logger: logger,
		saved:  make(map[dom.Handle]dom.Style),
	}
}

// Current returns the highlighted element, or dom.None.
func (m *Manager) Current() dom.Handle { return m.current }

// Saved returns the number of outstanding style records.
func (m *Manager) Saved() int { return len(m.saved) }

// Set moves the highlight to h. Setting the current target again is a no-op.
// dom.None clears the highlight and hides the indicator.
func (m *Manager) Set(ctx context.Context, h dom.Handle) error {
	if h == m.current {
		return nil
	}

	m.restore(ctx)
	m.current = h

	if h == dom.None {
		return m.hide(ctx)
	}

	prev, err := m.doc.InlineStyle(ctx, h)
	if err != nil {
		m.current = dom.None
		m.hideQuietly(ctx)
		return fmt.Errorf("highlight: read style: %w", err)
	}
	m.saved[h] = prev

	if err := m.doc.SetInlineStyle(ctx, h, m.look); err != nil {
		// Nothing was applied; drop the record.
		delete(m.saved, h)
		m.current = dom.None
		m.hideQuietly(ctx)
		return fmt.Errorf("highlight: apply style: %w", err)
	}
	if m.tip != nil {
		if err := m.tip.Show(ctx); err != nil {
			m.logger.Debug("highlight: show indicator", "error", err)
		}
	}
	return nil
}

// Reset restores the current target and forgets every record.
func (m *Manager) Reset(ctx context.Context) {
	m.restore(ctx)
	m.current = dom.None
	clear(m.saved)
}

// restore puts back the current target's saved style and drops its record.
// The record is dropped even when the element has left the document.
func (m *Manager) restore(ctx context.Context) {
	if m.current == dom.None {
		return
	}
	prev, ok := m.saved[m.current]
	if !ok {
		return
	}
	delete(m.saved, m.current)
	if err := m.doc.SetInlineStyle(ctx, m.current, prev); err != nil {
		m.logger.Warn("highlight: restore style", "handle", m.current, "error", err)
	}
}

func (m *Manager) hide(ctx context.Context) error {
	if m.tip == nil {
		return nil
	}
	if err := m.tip.Hide(ctx); err != nil {
		return fmt.Errorf("highlight: hide indicator: %w", err)
	}
	return nil
}

// hideQuietly hides the indicator on a path already returning an error.
func (m *Manager) hideQuietly(ctx context.Context) {
	if err := m.hide(ctx); err != nil {
		m.logger.Debug("highlight: hide indicator", "error", err)
	}
}
