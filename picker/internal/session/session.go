// Package session owns the picker lifecycle: activation, page event
// handling, export dispatch and cleanup.
//
// A Controller runs at most one session at a time. Page events are handled
// one by one under the controller lock; an export runs in its own goroutine
// and reports back under the same lock, tagged with the generation of the
// session that started it so a late completion never touches a newer (or
// ended) session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/blockshot/idgen"
	"github.com/hazyhaar/blockshot/kit"
	"github.com/hazyhaar/blockshot/picker/export"
	"github.com/hazyhaar/blockshot/picker/internal/capture"
	"github.com/hazyhaar/blockshot/picker/internal/catalog"
	"github.com/hazyhaar/blockshot/picker/internal/dom"
	"github.com/hazyhaar/blockshot/picker/internal/highlight"
	"github.com/hazyhaar/blockshot/picker/internal/ui"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonCancelled   Reason = "cancelled"   // Escape
	ReasonExported    Reason = "exported"    // export succeeded
	ReasonFailed      Reason = "failed"      // export failed
	ReasonDeactivated Reason = "deactivated" // external request
)

// End describes a finished session.
type End struct {
	SessionID string
	Reason    Reason
	Duration  time.Duration
}

// Exporter starts the capture pipeline for one element. Stage runs in the
// click handler; the returned job runs in its own goroutine.
type Exporter interface {
	Stage(ctx context.Context, target dom.Handle) *capture.Job
}

// Config for a Controller. Values are fixed for the controller's lifetime.
type Config struct {
	// Prefix names the tool's own surfaces. Default: "blockshot-".
	Prefix    string
	Catalog   catalog.Config
	Highlight highlight.Appearance

	// SuccessDelay and FailureDelay keep the result visible before cleanup.
	// Defaults: 1.5s and 2.5s.
	SuccessDelay time.Duration
	FailureDelay time.Duration

	// OnStart is called with the new session id while the controller lock
	// is held. It must not block or call back into the controller.
	OnStart func(sessionID string)
	// OnExport receives every export outcome, including those finishing
	// after their session ended.
	OnExport func(export.Outcome)
	// OnEnd is called, in its own goroutine, after each cleanup. Wait
	// blocks until pending calls return.
	OnEnd func(End)

	NewID  idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "blockshot-"
	}
	if c.Catalog.ExcludePrefix == "" {
		c.Catalog.ExcludePrefix = c.Prefix
	}
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = 1500 * time.Millisecond
	}
	if c.FailureDelay <= 0 {
		c.FailureDelay = 2500 * time.Millisecond
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("ses_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	Active      bool       `json:"active"`
	SessionID   string     `json:"session_id,omitempty"`
	Target      dom.Handle `json:"target,omitempty"`
	Exporting   bool       `json:"exporting"`
	SavedStyles int        `json:"saved_styles"`
	Generation  uint64     `json:"generation"`
}

// Controller drives picker sessions on one page.
type Controller struct {
	page   dom.Page
	exp    Exporter
	cfg    Config
	cat    *catalog.Catalog
	logger *slog.Logger

	active atomic.Bool

	mu        sync.Mutex
	gen       uint64
	sessionID string
	ctx       context.Context
	started   time.Time
	chrome    *ui.Chrome
	hl        *highlight.Manager
	stop      func() error
	armed     bool
	exporting bool
	// finishing is set once the export completed; the session only waits
	// for its cleanup timer.
	finishing bool
	timer     *time.Timer

	callbacks sync.WaitGroup
}

// New creates an inactive Controller.
func New(page dom.Page, exp Exporter, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		page:   page,
		exp:    exp,
		cfg:    cfg,
		cat:    catalog.New(page, cfg.Catalog),
		logger: cfg.Logger,
	}
}

// Active reports whether a session is running.
func (c *Controller) Active() bool { return c.active.Load() }

// Status returns the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Active:     c.active.Load(),
		Exporting:  c.exporting,
		Generation: c.gen,
	}
	if st.Active {
		st.SessionID = c.sessionID
	}
	if c.hl != nil {
		st.Target = c.hl.Current()
		st.SavedStyles = c.hl.Saved()
	}
	return st
}

// Activate starts a session. It returns started=false without error when a
// session is already running. The session outlives ctx's cancellation; only
// its values are kept.
func (c *Controller) Activate(ctx context.Context) (started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Load() {
		c.logger.Info("session: already active", "session", c.sessionID)
		return false, nil
	}

	c.gen++
	gen := c.gen
	id := c.cfg.NewID()
	sctx := kit.WithSessionID(context.WithoutCancel(ctx), id)

	chrome := ui.New(c.page, c.cfg.Prefix)
	if err := chrome.Mount(sctx); err != nil {
		return false, fmt.Errorf("session: activate: %w", err)
	}

	stop, err := c.page.Listen(sctx, func(ev dom.Event) { c.handle(gen, ev) })
	if err != nil {
		chrome.Unmount(sctx)
		return false, fmt.Errorf("session: listen: %w", err)
	}

	c.sessionID = id
	c.ctx = sctx
	c.started = time.Now()
	c.chrome = chrome
	c.hl = highlight.New(c.page, chrome, c.cfg.Highlight, c.logger)
	c.stop = stop
	c.armed = false
	c.exporting = false
	c.finishing = false
	c.active.Store(true)

	c.logger.Info("session: activated", "session", id, "generation", gen)
	if c.cfg.OnStart != nil {
		c.cfg.OnStart(id)
	}
	return true, nil
}

// Deactivate ends the running session, if any. It reports whether a
// session was running.
func (c *Controller) Deactivate(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(ReasonDeactivated)
}

// Wait blocks until every OnEnd call started so far has returned.
func (c *Controller) Wait() {
	c.callbacks.Wait()
}

func (c *Controller) handle(gen uint64, ev dom.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() || gen != c.gen {
		return
	}

	switch ev.Kind {
	case dom.PointerMove:
		c.onMove(ev)
	case dom.Click:
		c.onClick(gen)
	case dom.KeyDown:
		if ev.Key == "Escape" {
			c.cleanupLocked(ReasonCancelled)
		}
	}
}

func (c *Controller) onMove(ev dom.Event) {
	ctx := c.ctx
	target, err := c.cat.Resolve(ctx, ev.X, ev.Y)
	if err != nil {
		c.logger.Warn("session: resolve", "x", ev.X, "y", ev.Y, "error", err)
		return
	}
	if err := c.hl.Set(ctx, target); err != nil {
		c.logger.Warn("session: highlight", "target", target, "error", err)
	}

	current := c.hl.Current()
	c.arm(current != dom.None)
	if current == dom.None {
		return
	}
	if err := c.chrome.Follow(ctx, dom.Point{X: ev.X, Y: ev.Y}); err != nil {
		c.logger.Debug("session: move tooltip", "error", err)
	}
}

func (c *Controller) onClick(gen uint64) {
	target := c.hl.Current()
	if target == dom.None {
		return
	}
	if c.exporting || c.finishing {
		c.logger.Info("session: export in flight, click ignored", "session", c.sessionID)
		return
	}
	c.exporting = true

	if err := c.chrome.SetState(c.ctx, ui.Rendering); err != nil {
		c.logger.Debug("session: tooltip", "error", err)
	}
	// Clone now, while the highlight is still on target.
	job := c.exp.Stage(c.ctx, target)
	go c.runExport(gen, c.ctx, job)
}

// runExport is the single error boundary around the capture pipeline.
func (c *Controller) runExport(gen uint64, ctx context.Context, job *capture.Job) {
	out, err := job.Run(ctx)
	if out != nil && c.cfg.OnExport != nil {
		c.cfg.OnExport(*out)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.active.Load() {
		c.logger.Debug("session: export finished after session ended",
			"session", kit.GetSessionID(ctx), "error", err)
		return
	}
	c.exporting = false
	c.finishing = true

	if err != nil {
		c.logger.Error("session: export failed", "session", c.sessionID, "error", err)
		if uerr := c.chrome.SetState(ctx, ui.Failure); uerr != nil {
			c.logger.Debug("session: tooltip", "error", uerr)
		}
		c.schedule(gen, c.cfg.FailureDelay, ReasonFailed)
		return
	}

	if uerr := c.chrome.SetState(ctx, ui.Success); uerr != nil {
		c.logger.Debug("session: tooltip", "error", uerr)
	}
	c.schedule(gen, c.cfg.SuccessDelay, ReasonExported)
}

func (c *Controller) schedule(gen uint64, d time.Duration, reason Reason) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.cleanupLocked(reason)
	})
}

func (c *Controller) arm(on bool) {
	if on == c.armed {
		return
	}
	if err := c.page.Arm(c.ctx, on); err != nil {
		c.logger.Warn("session: arm click guard", "error", err)
		return
	}
	c.armed = on
}

// cleanupLocked tears the session down. Safe to call on an inactive
// controller.
func (c *Controller) cleanupLocked(reason Reason) bool {
	if !c.active.Load() {
		return false
	}
	ctx := c.ctx

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	c.hl.Reset(ctx)
	if err := c.chrome.Unmount(ctx); err != nil {
		c.logger.Warn("session: remove surfaces", "error", err)
	}
	if c.stop != nil {
		if err := c.stop(); err != nil {
			c.logger.Warn("session: remove listeners", "error", err)
		}
		c.stop = nil
	}
	if c.armed {
		if err := c.page.Arm(ctx, false); err != nil {
			c.logger.Debug("session: disarm", "error", err)
		}
		c.armed = false
	}
	c.exporting = false
	c.finishing = false
	c.active.Store(false)

	end := End{SessionID: c.sessionID, Reason: reason, Duration: time.Since(c.started)}
	c.logger.Info("session: deactivated", "session", end.SessionID, "reason", reason)
	if c.cfg.OnEnd != nil {
		c.callbacks.Add(1)
		go func() {
			defer c.callbacks.Done()
			c.cfg.OnEnd(end)
		}()
	}
	return true
}
