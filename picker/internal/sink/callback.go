package sink

import (
	"context"

	"github.com/hazyhaar/blockshot/picker/export"
)

// SaveFunc is called for each artifact.
type SaveFunc func(ctx context.Context, a export.Artifact) error

// Callback hands artifacts to a Go function in the same process.
type Callback struct {
	fn SaveFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn SaveFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Save(ctx context.Context, a export.Artifact) error {
	if c.fn != nil {
		return c.fn(ctx, a)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
