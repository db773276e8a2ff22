// Package sink defines output backends for exported images.
package sink

import (
	"context"

	"github.com/hazyhaar/blockshot/picker/export"
)

// Sink delivers an artifact somewhere: a directory, a webhook, an
// in-process callback. Artifact.Data is only valid during Save.
type Sink interface {
	Save(ctx context.Context, a export.Artifact) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
