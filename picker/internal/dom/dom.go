// Package dom defines the page model shared by the picker components:
// element handles, geometry, inline styles, the tool's own surfaces and
// the event stream coming back from the page.
//
// The interfaces are implemented over CDP by the browser package and in
// memory by domtest.
package dom

import (
	"context"
	"fmt"
)

// Handle is a page-assigned element reference. Zero means "no element".
type Handle int64

// None is the zero Handle.
const None Handle = 0

// Rect is a viewport-relative bounding box in CSS pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }
func (r Rect) Area() float64   { return r.Width * r.Height }

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right() && y >= r.Top && y <= r.Bottom()
}

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node is what the page reports about one element matching a selector.
type Node struct {
	Handle     Handle `json:"handle"`
	ID         string `json:"id"`
	Rect       Rect   `json:"rect"`
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	Opacity    string `json:"opacity"`
	// Rendered is false when the element has no layout box.
	Rendered bool `json:"rendered"`
}

// Style holds the four inline properties the highlight touches.
type Style struct {
	Outline         string `json:"outline"`
	BackgroundColor string `json:"backgroundColor"`
	Cursor          string `json:"cursor"`
	BoxShadow       string `json:"boxShadow"`
}

// Frame describes the off-screen container a capture clone is staged in.
type Frame struct {
	ID         string
	Background string
	Padding    int
	Radius     int
	// Offset is how far off the viewport (top and left) the container sits.
	Offset int
}

// CSS renders the container style. The container is positioned off-screen
// but stays displayed so the rasterizer can measure and paint it.
func (f Frame) CSS() string {
	return fmt.Sprintf(
		"position: fixed; left: -%dpx; top: -%dpx; background: %s; padding: %dpx; border-radius: %dpx;",
		f.Offset, f.Offset, f.Background, f.Padding, f.Radius)
}

// EventKind identifies a page event forwarded to the controller.
type EventKind string

const (
	PointerMove EventKind = "move"
	Click       EventKind = "click"
	KeyDown     EventKind = "key"
)

// Event is a single user input forwarded from the page.
type Event struct {
	Kind EventKind `json:"kind"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Key  string    `json:"key,omitempty"`
}

// Document is the live document as seen by the catalog and the highlight
// manager.
type Document interface {
	// QueryAll returns every element currently matching selector.
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	InlineStyle(ctx context.Context, h Handle) (Style, error)
	SetInlineStyle(ctx context.Context, h Handle, s Style) error
}

// Surfaces mounts and updates the tool's own UI elements, addressed by id.
type Surfaces interface {
	Mount(ctx context.Context, id, css, text string) error
	Restyle(ctx context.Context, id string, props map[string]string) error
	SetText(ctx context.Context, id, text string) error
	Measure(ctx context.Context, id string) (Rect, error)
	Unmount(ctx context.Context, id string) error
	Viewport(ctx context.Context) (Size, error)
}

// Stager clones an element into an off-screen container for capture.
type Stager interface {
	// Stage deep-clones target, clears the highlight properties on the clone
	// and appends it to a new container described by f.
	Stage(ctx context.Context, target Handle, f Frame) error
	// Unstage removes the container with the given id.
	Unstage(ctx context.Context, id string) error
}

// Events is the page-side input subscription.
type Events interface {
	// Listen installs the page listeners; fn is called for every event until
	// stop is called.
	Listen(ctx context.Context, fn func(Event)) (stop func() error, err error)
	// Arm tells the page whether clicks should be swallowed.
	Arm(ctx context.Context, armed bool) error
}

// Page is everything a picker session needs from a tab.
type Page interface {
	Document
	Surfaces
	Stager
	Events
}
