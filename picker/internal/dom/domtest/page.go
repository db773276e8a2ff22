// Package domtest provides an in-memory dom.Page for tests.
package domtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// Element is a fake DOM element.
type Element struct {
	Tag        string
	ID         string
	Rect       dom.Rect
	Display    string
	Visibility string
	Opacity    string
	Hidden     bool // no layout box
	Style      dom.Style
}

// Surface is a mounted UI element.
type Surface struct {
	ID    string
	CSS   string
	Text  string
	Props map[string]string
}

// Staged is a capture container currently attached to the fake document.
type Staged struct {
	Target dom.Handle
	Frame  dom.Frame
	// Source is the live element's inline style when it was cloned.
	Source dom.Style
	// Clone is the inline style of the cloned element.
	Clone dom.Style
}

// Page is a thread-safe in-memory dom.Page.
type Page struct {
	mu       sync.Mutex
	next     dom.Handle
	elems    map[dom.Handle]*Element
	surfaces map[string]*Surface
	staged   map[string]Staged
	listener func(dom.Event)
	armed    bool

	view        dom.Size
	tooltipSize dom.Size
	styleWrites int
	stageCount  int

	// Failure injection.
	QueryErr error
	StageErr error
	MountErr error
}

// New returns an empty page with a 1280x800 viewport.
func New() *Page {
	return &Page{
		elems:       make(map[dom.Handle]*Element),
		surfaces:    make(map[string]*Surface),
		staged:      make(map[string]Staged),
		view:        dom.Size{Width: 1280, Height: 800},
		tooltipSize: dom.Size{Width: 240, Height: 44},
	}
}

// SetViewport changes the reported viewport size.
func (p *Page) SetViewport(s dom.Size) {
	p.mu.Lock()
	p.view = s
	p.mu.Unlock()
}

// Add inserts an element and returns its handle. Empty display, visibility
// and opacity default to a visible block.
func (p *Page) Add(e Element) dom.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.Display == "" {
		e.Display = "block"
	}
	if e.Visibility == "" {
		e.Visibility = "visible"
	}
	if e.Opacity == "" {
		e.Opacity = "1"
	}
	p.next++
	el := e
	p.elems[p.next] = &el
	return p.next
}

// Remove detaches an element.
func (p *Page) Remove(h dom.Handle) {
	p.mu.Lock()
	delete(p.elems, h)
	p.mu.Unlock()
}

// Element returns a copy of the element behind h.
func (p *Page) Element(h dom.Handle) Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elems[h]; ok {
		return *el
	}
	return Element{}
}

// StyleWrites counts SetInlineStyle calls.
func (p *Page) StyleWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.styleWrites
}

// HasSurface reports whether a surface with id is mounted.
func (p *Page) HasSurface(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.surfaces[id]
	return ok
}

// Surface returns a copy of a mounted surface.
func (p *Page) Surface(id string) (Surface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[id]
	if !ok {
		return Surface{}, false
	}
	cp := *s
	cp.Props = make(map[string]string, len(s.Props))
	for k, v := range s.Props {
		cp.Props[k] = v
	}
	return cp, true
}

// SurfaceIDs lists mounted surfaces, sorted.
func (p *Page) SurfaceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.surfaces))
	for id := range p.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StagedContainers returns the containers still attached.
func (p *Page) StagedContainers() map[string]Staged {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Staged, len(p.staged))
	for k, v := range p.staged {
		out[k] = v
	}
	return out
}

// StageCount counts Stage calls.
func (p *Page) StageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stageCount
}

// Listening reports whether page listeners are installed.
func (p *Page) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener != nil
}

// Armed reports the page-side click guard.
func (p *Page) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Emit delivers ev to the installed listener synchronously. It reports
// whether a listener received it.
func (p *Page) Emit(ev dom.Event) bool {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

func (p *Page) QueryAll(_ context.Context, selector string) ([]dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	handles := make([]dom.Handle, 0, len(p.elems))
	for h, el := range p.elems {
		if el.Tag == selector {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	nodes := make([]dom.Node, 0, len(handles))
	for _, h := range handles {
		el := p.elems[h]
		nodes = append(nodes, dom.Node{
			Handle:     h,
			ID:         el.ID,
			Rect:       el.Rect,
			Display:    el.Display,
			Visibility: el.Visibility,
			Opacity:    el.Opacity,
			Rendered:   !el.Hidden,
		})
	}
	return nodes, nil
}

func (p *Page) InlineStyle(_ context.Context, h dom.Handle) (dom.Style, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elems[h]
	if !ok {
		return dom.Style{}, fmt.Errorf("domtest: no element %d", h)
	}
	return el.Style, nil
}

func (p *Page) SetInlineStyle(_ context.Context, h dom.Handle, s dom.Style) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.styleWrites++
	el, ok := p.elems[h]
	if !ok {
		return fmt.Errorf("domtest: no element %d", h)
	}
	el.Style = s
	return nil
}

func (p *Page) Mount(_ context.Context, id, css, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MountErr != nil {
		return p.MountErr
	}
	p.surfaces[id] = &Surface{ID: id, CSS: css, Text: text, Props: map[string]string{}}
	return nil
}

func (p *Page) Restyle(_ context.Context, id string, props map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[id]
	if !ok {
		return fmt.Errorf("domtest: no surface %q", id)
	}
	for k, v := range props {
		s.Props[k] = v
	}
	return nil
}

func (p *Page) SetText(_ context.Context, id, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[id]
	if !ok {
		return fmt.Errorf("domtest: no surface %q", id)
	}
	s.Text = text
	return nil
}

func (p *Page) Measure(_ context.Context, id string) (dom.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.surfaces[id]; !ok {
		return dom.Rect{}, fmt.Errorf("domtest: no surface %q", id)
	}
	return dom.Rect{Width: p.tooltipSize.Width, Height: p.tooltipSize.Height}, nil
}

func (p *Page) Unmount(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.surfaces, id)
	return nil
}

func (p *Page) Viewport(context.Context) (dom.Size, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view, nil
}

func (p *Page) Stage(_ context.Context, target dom.Handle, f dom.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stageCount++
	if p.StageErr != nil {
		return p.StageErr
	}
	e, ok := p.elems[target]
	if !ok {
		return fmt.Errorf("domtest: no element %d", target)
	}
	// Style only holds highlight properties, all of which the clone drops.
	p.staged[f.ID] = Staged{Target: target, Frame: f, Source: e.Style, Clone: dom.Style{}}
	return nil
}

func (p *Page) Unstage(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.staged, id)
	return nil
}

func (p *Page) Listen(_ context.Context, fn func(dom.Event)) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
	return func() error {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
		return nil
	}, nil
}

func (p *Page) Arm(_ context.Context, armed bool) error {
	p.mu.Lock()
	p.armed = armed
	p.mu.Unlock()
	return nil
}

var _ dom.Page = (*Page)(nil)
