// Package export defines the artifacts produced by a picker session.
// Sinks and history consumers import this package to receive exports.
package export

import "time"

// Artifact is one exported image. Data is only valid for the duration of
// the Save call that receives it; sinks that keep it must copy.
type Artifact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PageURL   string    `json:"page_url,omitempty"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"` // "png"
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the result of one export attempt, successful or not.
type Outcome struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	PageURL   string        `json:"page_url,omitempty"`
	Filename  string        `json:"filename,omitempty"`
	Bytes     int           `json:"bytes"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	At        time.Time     `json:"at"`
}

// Meta returns the artifact without its pixel data, for logs and webhooks.
func (a Artifact) Meta() Artifact {
	a.Data = nil
	return a
}
