package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/blockshot/horosafe"
	"github.com/hazyhaar/blockshot/picker/export"
)

// Dir writes each artifact as a file in a directory, the way a browser
// download would. An existing file is never overwritten: "name.png"
// becomes "name (1).png", "name (2).png", ...
type Dir struct {
	dir string
}

// NewDir creates a Dir sink, creating the directory if needed.
func NewDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dir sink: %w", err)
	}
	return &Dir{dir: dir}, nil
}

// Path returns the directory.
func (d *Dir) Path() string { return d.dir }

func (d *Dir) Save(_ context.Context, a export.Artifact) error {
	name, err := horosafe.SafeName(a.Filename)
	if err != nil {
		return fmt.Errorf("dir sink: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(d.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dir sink: %w", err)
		}
		if _, err := f.Write(a.Data); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("dir sink: write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return fmt.Errorf("dir sink: close %s: %w", candidate, err)
		}
		return nil
	}
	return fmt.Errorf("dir sink: no free name for %s", name)
}

func (d *Dir) Close() error { return nil }
