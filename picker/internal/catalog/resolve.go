package catalog

import (
	"context"
	"sort"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// Resolve returns the best candidate under (x, y), or dom.None.
func (c *Catalog) Resolve(ctx context.Context, x, y float64) (dom.Handle, error) {
	cands, err := c.List(ctx)
	if err != nil {
		return dom.None, err
	}
	best, ok := Best(cands, x, y)
	if !ok {
		return dom.None, nil
	}
	return best.Node.Handle, nil
}

// Best picks among the candidates whose box contains (x, y): lowest
// priority first, then smallest area. Ties keep catalog order.
func Best(cands []Candidate, x, y float64) (Candidate, bool) {
	hits := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Node.Rect.Contains(x, y) {
			hits = append(hits, c)
		}
	}
	if len(hits) == 0 {
		return Candidate{}, false
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority < hits[j].Priority
		}
		return hits[i].Area < hits[j].Area
	})
	return hits[0], true
}
