// Package catalog enumerates the elements a user can pick and resolves a
// cursor position to the single best one.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// DefaultSelectors is the tag-family list, most specific first.
var DefaultSelectors = []string{"pre", "code", "article", "section", "div"}

// Candidate is an element eligible for selection. Priority is the index of
// the tag family it matched (lower is more specific).
type Candidate struct {
	Node     dom.Node
	Priority int
	Area     float64
}

// Config for a Catalog.
type Config struct {
	// Selectors is the ordered tag-family list. Default: DefaultSelectors.
	Selectors []string
	// ExcludePrefix skips elements whose id starts with it (the tool's own UI).
	ExcludePrefix string
	// MinWidth and MinHeight drop elements too small to be a block.
	// Defaults: 50 and 20.
	MinWidth  float64
	MinHeight float64
}

func (c *Config) defaults() {
	if len(c.Selectors) == 0 {
		c.Selectors = DefaultSelectors
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 50
	}
	if c.MinHeight <= 0 {
		c.MinHeight = 20
	}
}

// Catalog lists candidates from a live document.
type Catalog struct {
	doc dom.Document
	cfg Config
}

// New creates a Catalog over doc.
func New(doc dom.Document, cfg Config) *Catalog {
	cfg.defaults()
	sels := make([]string, len(cfg.Selectors))
	copy(sels, cfg.Selectors)
	cfg.Selectors = sels
	return &Catalog{doc: doc, cfg: cfg}
}

// List queries every tag family and returns the surviving candidates. An
// element matching several families appears once per family.
func (c *Catalog) List(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	for prio, sel := range c.cfg.Selectors {
		nodes, err := c.doc.QueryAll(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("catalog: query %q: %w", sel, err)
		}
		for _, n := range nodes {
			if !c.keep(n) {
				continue
			}
			out = append(out, Candidate{Node: n, Priority: prio, Area: n.Rect.Area()})
		}
	}
	return out, nil
}

// keep applies the filters in order: own UI, size, computed style, layout.
func (c *Catalog) keep(n dom.Node) bool {
	if c.cfg.ExcludePrefix != "" && strings.HasPrefix(n.ID, c.cfg.ExcludePrefix) {
		return false
	}
	if n.Rect.Width < c.cfg.MinWidth || n.Rect.Height < c.cfg.MinHeight {
		return false
	}
	if n.Display == "none" || n.Visibility == "hidden" || transparent(n.Opacity) {
		return false
	}
	return n.Rendered
}

func transparent(opacity string) bool {
	if opacity == "" {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(opacity), 64)
	if err != nil {
		return false
	}
	return v == 0
}
