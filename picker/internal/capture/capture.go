// Package capture turns a picked element into a PNG file: clone it into an
// off-screen frame, rasterize the frame, encode and hand the bytes to the
// save collaborator.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/blockshot/idgen"
	"github.com/hazyhaar/blockshot/kit"
	"github.com/hazyhaar/blockshot/picker/export"
	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// ErrRasterizerUnavailable wraps every rasterizer load failure.
var ErrRasterizerUnavailable = errors.New("capture: rasterizer unavailable")

// RenderOptions are passed to the rasterizer.
type RenderOptions struct {
	Scale      float64
	Background string
	// UseCORS attempts to include cross-origin images.
	UseCORS bool
	// ImageTimeout bounds sub-resource loading. Zero waits forever.
	ImageTimeout time.Duration
}

// Rasterizer converts a mounted container into pixels.
type Rasterizer interface {
	// Load makes the rasterizer available in the page.
	Load(ctx context.Context) error
	// Render paints the container with the given id.
	Render(ctx context.Context, containerID string, opts RenderOptions) (image.Image, error)
}

// Saver is the file-save collaborator. Save hands the artifact off and
// returns; delivery problems are the saver's to report. a.Data is only
// valid during the call.
type Saver interface {
	Save(ctx context.Context, a export.Artifact)
}

// Config for a Pipeline.
type Config struct {
	Scale          float64 // Default: 2.
	Background     string  // Default: #ffffff.
	Padding        int     // Default: 24.
	Radius         int     // Default: 8.
	Offset         int     // off-screen distance. Default: 99999.
	FilenamePrefix string  // Default: "block".
	// IDPrefix names staging containers so the catalog ignores them.
	IDPrefix string
	UseCORS  bool
	PageURL  string
}

func (c *Config) defaults() {
	if c.Scale <= 0 {
		c.Scale = 2
	}
	if c.Background == "" {
		c.Background = "#ffffff"
	}
	if c.Padding <= 0 {
		c.Padding = 24
	}
	if c.Radius <= 0 {
		c.Radius = 8
	}
	if c.Offset <= 0 {
		c.Offset = 99999
	}
	if c.FilenamePrefix == "" {
		c.FilenamePrefix = "block"
	}
}

// Pipeline runs exports. Load state is shared across exports; each Export
// call is otherwise independent.
type Pipeline struct {
	stager dom.Stager
	raster Rasterizer
	saver  Saver
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  idgen.Generator

	mu      sync.Mutex
	loaded  bool
	pageURL string
	seq     atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the wall clock used for filenames.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithIDGenerator sets the artifact id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(p *Pipeline) { p.newID = gen }
}

// New creates a Pipeline.
func New(stager dom.Stager, raster Rasterizer, saver Saver, cfg Config, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		stager: stager,
		raster: raster,
		saver:  saver,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		newID:  idgen.Prefixed("exp_", idgen.Default),
	}
	p.pageURL = cfg.PageURL
	for _, o := range opts {
		o(p)
	}
	return p
}

// Invalidate forgets the loaded rasterizer, e.g. after the page navigated.
func (p *Pipeline) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

// SetPageURL changes the address recorded on later exports.
func (p *Pipeline) SetPageURL(u string) {
	p.mu.Lock()
	p.pageURL = u
	p.mu.Unlock()
}

func (p *Pipeline) currentPageURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageURL
}

// Job is an export whose clone is already staged. Run finishes it.
type Job struct {
	p     *Pipeline
	frame dom.Frame
	start time.Time
	out   *export.Outcome
	err   error
}

// Stage clones target into a new off-screen frame right away, so the image
// shows the element as it was when picked. The session id is read from ctx
// (kit.WithSessionID). A staging failure is reported by Run.
func (p *Pipeline) Stage(ctx context.Context, target dom.Handle) *Job {
	start := p.now()
	j := &Job{
		p:     p,
		start: start,
		frame: dom.Frame{
			ID:         fmt.Sprintf("%sstage-%d", p.cfg.IDPrefix, p.seq.Add(1)),
			Background: p.cfg.Background,
			Padding:    p.cfg.Padding,
			Radius:     p.cfg.Radius,
			Offset:     p.cfg.Offset,
		},
		out: &export.Outcome{
			ID:        p.newID(),
			SessionID: kit.GetSessionID(ctx),
			PageURL:   p.currentPageURL(),
			At:        start,
		},
	}
	if err := p.stager.Stage(ctx, target, j.frame); err != nil {
		// Stage may have attached the container before failing.
		p.unstage(j.frame.ID)
		j.err = fmt.Errorf("capture: stage: %w", err)
	}
	return j
}

// Run rasterizes the staged frame, removes it, encodes the image and hands
// it to the saver. Call it once. On error nothing stays attached to the
// document.
func (j *Job) Run(ctx context.Context) (*export.Outcome, error) {
	err := j.err
	if err == nil {
		err = j.p.finish(ctx, j.frame, j.out)
	}
	out := j.out
	out.Elapsed = j.p.now().Sub(j.start)
	if err != nil {
		out.Error = err.Error()
		return out, err
	}
	out.Success = true
	return out, nil
}

// Export stages target and runs the export in one go.
func (p *Pipeline) Export(ctx context.Context, target dom.Handle) (*export.Outcome, error) {
	return p.Stage(ctx, target).Run(ctx)
}

func (p *Pipeline) finish(ctx context.Context, frame dom.Frame, out *export.Outcome) error {
	staged := true
	defer func() {
		if staged {
			p.unstage(frame.ID)
		}
	}()

	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}

	img, err := p.raster.Render(ctx, frame.ID, RenderOptions{
		Scale:      p.cfg.Scale,
		Background: p.cfg.Background,
		UseCORS:    p.cfg.UseCORS,
	})
	staged = false
	p.unstage(frame.ID)
	if err != nil {
		return fmt.Errorf("capture: render: %w", err)
	}

	filename := Filename(p.cfg.FilenamePrefix, p.now())
	b := img.Bounds()
	out.Filename = filename
	out.Width = b.Dx()
	out.Height = b.Dy()

	buf := getBuffer()
	defer putBuffer(buf)
	if err := png.Encode(buf, img); err != nil {
		return fmt.Errorf("capture: encode: %w", err)
	}
	out.Bytes = buf.Len()

	p.saver.Save(ctx, export.Artifact{
		ID:        out.ID,
		SessionID: out.SessionID,
		PageURL:   out.PageURL,
		Filename:  filename,
		Format:    "png",
		Width:     out.Width,
		Height:    out.Height,
		Data:      buf.Bytes(),
		CreatedAt: p.now(),
	})

	p.logger.Info("capture: exported",
		"filename", filename, "bytes", out.Bytes, "width", out.Width, "height", out.Height)
	return nil
}

// ensureLoaded loads the rasterizer once. Failures are not cached.
func (p *Pipeline) ensureLoaded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if err := p.raster.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRasterizerUnavailable, err)
	}
	p.loaded = true
	return nil
}

// unstage runs detached from the export context so a cancelled export
// still removes its container.
func (p *Pipeline) unstage(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.stager.Unstage(ctx, id); err != nil {
		p.logger.Warn("capture: unstage", "id", id, "error", err)
	}
}

// Filename returns "<prefix>-YYYY-MM-DDTHH-MM-SS.png" for t in UTC,
// truncated to whole seconds.
func Filename(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Truncate(time.Second).Format("2006-01-02T15-04-05") + ".png"
}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func getBuffer() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

func putBuffer(b *bytes.Buffer) {
	b.Reset()
	bufPool.Put(b)
}
