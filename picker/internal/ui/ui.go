// Package ui renders the picker's own chrome: a full-page overlay and a
// tooltip that follows the cursor and reports export progress.
package ui

import (
	"context"
	"fmt"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// State is the tooltip's message.
type State int

const (
	Hint State = iota
	Rendering
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case Hint:
		return "hint"
	case Rendering:
		return "rendering"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Text is the label shown for s.
func (s State) Text() string {
	switch s {
	case Rendering:
		return "⏳ Rendering..."
	case Success:
		return "✅ Downloaded!"
	case Failure:
		return "❌ Export failed"
	}
	return "📸 Click to export · Esc to cancel"
}

// Background is the CSS gradient for s.
func (s State) Background() string {
	switch s {
	case Rendering:
		return "linear-gradient(135deg, #8b5cf6 0%, #6366f1 100%)"
	case Success:
		return "linear-gradient(135deg, #10b981 0%, #059669 100%)"
	case Failure:
		return "linear-gradient(135deg, #ef4444 0%, #dc2626 100%)"
	}
	return "linear-gradient(135deg, #6366f1 0%, #4f46e5 100%)"
}

const overlayCSS = `position: fixed; top: 0; left: 0; width: 100%; height: 100%;` +
	` background: rgba(0, 0, 0, 0.02); z-index: 999998; cursor: crosshair;` +
	` backdrop-filter: blur(1px);`

const tooltipCSS = `position: fixed; color: white; padding: 12px 20px; border-radius: 12px;` +
	` font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;` +
	` font-size: 14px; font-weight: 600; z-index: 1000000; pointer-events: none;` +
	` box-shadow: 0 8px 24px rgba(99, 102, 241, 0.4); display: none;` +
	` white-space: nowrap; transition: all 0.2s ease;`

// CursorOffset is the gap between the cursor and the tooltip.
const CursorOffset = 20

// Chrome owns the overlay and tooltip surfaces of one session.
type Chrome struct {
	s         dom.Surfaces
	overlayID string
	tooltipID string

	mounted bool
	visible bool
	state   State
}

// New returns unmounted chrome whose surface ids start with prefix.
func New(s dom.Surfaces, prefix string) *Chrome {
	return &Chrome{
		s:         s,
		overlayID: prefix + "overlay",
		tooltipID: prefix + "tooltip",
	}
}

// Mounted reports whether the surfaces are attached.
func (c *Chrome) Mounted() bool { return c.mounted }

// Visible reports whether the tooltip is shown.
func (c *Chrome) Visible() bool { return c.visible }

// State returns the tooltip state.
func (c *Chrome) State() State { return c.state }

// Mount attaches the overlay and a hidden tooltip in the Hint state.
func (c *Chrome) Mount(ctx context.Context) error {
	if c.mounted {
		return nil
	}
	if err := c.s.Mount(ctx, c.overlayID, overlayCSS, ""); err != nil {
		return fmt.Errorf("ui: mount overlay: %w", err)
	}
	css := tooltipCSS + " background: " + Hint.Background() + ";"
	if err := c.s.Mount(ctx, c.tooltipID, css, Hint.Text()); err != nil {
		c.s.Unmount(ctx, c.overlayID)
		return fmt.Errorf("ui: mount tooltip: %w", err)
	}
	c.mounted = true
	c.visible = false
	c.state = Hint
	return nil
}

// Unmount removes both surfaces. Safe to call more than once.
func (c *Chrome) Unmount(ctx context.Context) error {
	if !c.mounted {
		return nil
	}
	c.mounted = false
	c.visible = false
	err1 := c.s.Unmount(ctx, c.overlayID)
	err2 := c.s.Unmount(ctx, c.tooltipID)
	if err1 != nil {
		return fmt.Errorf("ui: unmount overlay: %w", err1)
	}
	if err2 != nil {
		return fmt.Errorf("ui: unmount tooltip: %w", err2)
	}
	return nil
}

// Show displays the tooltip.
func (c *Chrome) Show(ctx context.Context) error {
	if !c.mounted {
		return nil
	}
	if err := c.s.Restyle(ctx, c.tooltipID, map[string]string{"display": "block"}); err != nil {
		return fmt.Errorf("ui: show tooltip: %w", err)
	}
	c.visible = true
	return nil
}

// Hide hides the tooltip.
func (c *Chrome) Hide(ctx context.Context) error {
	if !c.mounted {
		return nil
	}
	if err := c.s.Restyle(ctx, c.tooltipID, map[string]string{"display": "none"}); err != nil {
		return fmt.Errorf("ui: hide tooltip: %w", err)
	}
	c.visible = false
	return nil
}

// SetState switches the tooltip label and color and makes it visible.
func (c *Chrome) SetState(ctx context.Context, s State) error {
	if !c.mounted {
		return nil
	}
	if err := c.s.SetText(ctx, c.tooltipID, s.Text()); err != nil {
		return fmt.Errorf("ui: tooltip text: %w", err)
	}
	props := map[string]string{"background": s.Background(), "display": "block"}
	if err := c.s.Restyle(ctx, c.tooltipID, props); err != nil {
		return fmt.Errorf("ui: tooltip style: %w", err)
	}
	c.state = s
	c.visible = true
	return nil
}

// Follow moves the tooltip next to the cursor, keeping it on screen.
func (c *Chrome) Follow(ctx context.Context, cursor dom.Point) error {
	if !c.mounted {
		return nil
	}
	box, err := c.s.Measure(ctx, c.tooltipID)
	if err != nil {
		return fmt.Errorf("ui: measure tooltip: %w", err)
	}
	view, err := c.s.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("ui: viewport: %w", err)
	}
	at := Place(cursor, dom.Size{Width: box.Width, Height: box.Height}, view)
	return c.s.Restyle(ctx, c.tooltipID, map[string]string{
		"left": fmt.Sprintf("%gpx", at.X),
		"top":  fmt.Sprintf("%gpx", at.Y),
	})
}

// Place returns the tooltip's top-left corner: below-right of the cursor,
// flipped to the left or above when it would overflow the viewport.
func Place(cursor dom.Point, tip, view dom.Size) dom.Point {
	left := cursor.X + CursorOffset
	top := cursor.Y + CursorOffset
	if left+tip.Width > view.Width {
		left = cursor.X - tip.Width - CursorOffset
	}
	if top+tip.Height > view.Height {
		top = cursor.Y - tip.Height - CursorOffset
	}
	return dom.Point{X: left, Y: top}
}
