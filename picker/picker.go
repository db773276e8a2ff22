// Package picker is the blockshot host: it drives one Chrome tab, lets the
// user hover a block of the page and exports the clicked block as a PNG.
//
// The picker owns the browser, the page bridge, the capture pipeline and
// the session controller. Exported files go to sinks (directory, webhook,
// stdout, callback); every attempt can be logged to a SQLite history.
// Sessions are started from the CLI, the HTTP control API or MCP tools.
package picker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/blockshot/history"
	"github.com/hazyhaar/blockshot/picker/export"
	"github.com/hazyhaar/blockshot/picker/internal/browser"
	"github.com/hazyhaar/blockshot/picker/internal/capture"
	"github.com/hazyhaar/blockshot/picker/internal/catalog"
	"github.com/hazyhaar/blockshot/picker/internal/config"
	"github.com/hazyhaar/blockshot/picker/internal/highlight"
	"github.com/hazyhaar/blockshot/picker/internal/session"
	"github.com/hazyhaar/blockshot/picker/internal/sink"
)

var (
	// ErrNoPage is returned when the picker has no tab to work on.
	ErrNoPage = errors.New("picker: no page")
	// ErrNoHistory is returned by history queries when no database is
	// configured.
	ErrNoHistory = errors.New("picker: history disabled")
)

// Status is the picker state exposed over HTTP and MCP.
type Status struct {
	session.Status
	Running bool   `json:"running"`
	PageURL string `json:"page_url,omitempty"`
	History bool   `json:"history"`
	Sinks   int    `json:"sinks"`
}

// Picker is the top-level orchestrator. Create one per tab.
type Picker struct {
	cfg    *config.Config
	sinkR  *sink.Router
	logger *slog.Logger

	records chan func(context.Context) error
	wg      sync.WaitGroup

	mu         sync.Mutex
	mgr        *browser.Manager
	tab        *browser.Tab
	doc        *browser.Document
	pipeline   *capture.Pipeline
	ctrl       *session.Controller
	hist       *history.Store
	ownHist    bool
	stopScript func() error
	cancel     context.CancelFunc
	pageURL    string
	stopping   bool
}

// New creates a Picker from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger, sinks ...sink.Sink) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Picker{
		cfg:     cfg,
		sinkR:   sink.NewRouter(logger, sinks...),
		logger:  logger,
		records: make(chan func(context.Context) error, 64),
	}
	p.sinkR.OnError(p.onDeliveryFailure)
	return p
}

// UseHistory makes the picker log to an already opened store instead of
// opening history.db from the configuration. Call before Start.
func (p *Picker) UseHistory(h *history.Store) {
	p.mu.Lock()
	p.hist = h
	p.ownHist = false
	p.mu.Unlock()
}

// Start launches (or attaches to) Chrome, opens the configured page and
// installs the page bridge. The picker stays inactive until Activate.
func (p *Picker) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctrl != nil {
		return fmt.Errorf("picker: already started")
	}
	p.stopping = false
	if p.sinkR.Len() == 0 {
		p.logger.Warn("picker: no sinks configured, exports will be discarded")
	}

	mode, err := browser.ParseMode(p.cfg.Browser.Mode)
	if err != nil {
		return fmt.Errorf("picker: %w", err)
	}
	p.mgr = browser.NewManager(browser.Config{
		RemoteURL:   p.cfg.Browser.Remote,
		Mode:        mode,
		Bin:         p.cfg.Browser.Bin,
		XvfbDisplay: p.cfg.Browser.XvfbDisplay,
		Stealth:     p.cfg.Browser.Stealth,
		Logger:      p.logger,
	})
	if _, err := p.mgr.Start(ctx); err != nil {
		return fmt.Errorf("picker: start browser: %w", err)
	}

	if err := p.startLocked(ctx); err != nil {
		p.teardownLocked()
		return err
	}
	p.logger.Info("picker: ready", "url", p.pageURL, "rasterizer", p.cfg.Capture.Rasterizer)
	return nil
}

func (p *Picker) startLocked(ctx context.Context) error {
	tab, err := browser.OpenTab(ctx, p.mgr, p.cfg.Page.URL)
	if err != nil {
		return fmt.Errorf("picker: open tab: %w", err)
	}
	p.tab = tab
	p.pageURL = tab.URL

	scriptURL := p.cfg.Capture.ScriptURL
	if scriptURL == "" {
		scriptURL = browser.DefaultScriptURL
	}
	if p.cfg.Capture.ScriptPath != "" {
		stop, err := browser.ServeScript(tab.Page, scriptURL, p.cfg.Capture.ScriptPath)
		if err != nil {
			return fmt.Errorf("picker: %w", err)
		}
		p.stopScript = stop
	}

	doc, err := browser.NewDocument(ctx, tab.Page, p.logger)
	if err != nil {
		return fmt.Errorf("picker: %w", err)
	}
	p.doc = doc

	raster, err := browser.NewRasterizer(p.cfg.Capture.Rasterizer, doc, scriptURL)
	if err != nil {
		return fmt.Errorf("picker: %w", err)
	}

	if p.hist == nil && p.cfg.History.DB != "" {
		h, err := history.Open(p.cfg.History.DB)
		if err != nil {
			return fmt.Errorf("picker: %w", err)
		}
		p.hist = h
		p.ownHist = true
	}

	p.pipeline = capture.New(doc, raster, p.sinkR, capture.Config{
		Scale:          p.cfg.Capture.Scale,
		Background:     p.cfg.Capture.Background,
		Padding:        p.cfg.Capture.Padding,
		Radius:         p.cfg.Capture.Radius,
		FilenamePrefix: p.cfg.Capture.FilenamePrefix,
		IDPrefix:       p.cfg.Picker.UIPrefix,
		UseCORS:        true,
		PageURL:        p.pageURL,
	}, capture.WithLogger(p.logger))

	p.ctrl = session.New(doc, p.pipeline, session.Config{
		Prefix: p.cfg.Picker.UIPrefix,
		Catalog: catalog.Config{
			Selectors: p.cfg.Picker.Selectors,
			MinWidth:  p.cfg.Picker.MinWidth,
			MinHeight: p.cfg.Picker.MinHeight,
		},
		Highlight: highlight.Appearance{
			Color:        p.cfg.Highlight.Color,
			Opacity:      p.cfg.Highlight.Opacity,
			OutlineWidth: p.cfg.Highlight.OutlineWidth,
		},
		SuccessDelay: p.cfg.Capture.SuccessDelay,
		FailureDelay: p.cfg.Capture.FailureDelay,
		OnStart:      p.onStart,
		OnExport:     p.onExport,
		OnEnd:        p.onEnd,
		Logger:       p.logger,
	})

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runRecorder(wctx)
	}()
	go tab.WatchNavigation(wctx, p.onNavigate)
	go tab.MirrorConsole(wctx)
	return nil
}

// Activate starts a picking session. started is false when one is already
// running.
func (p *Picker) Activate(ctx context.Context) (started bool, err error) {
	ctrl := p.controller()
	if ctrl == nil {
		return false, ErrNoPage
	}
	return ctrl.Activate(ctx)
}

// Deactivate ends the running session and restores the page. It reports
// whether a session was running.
func (p *Picker) Deactivate(ctx context.Context) bool {
	ctrl := p.controller()
	if ctrl == nil {
		return false
	}
	return ctrl.Deactivate(ctx)
}

// Status returns the current state.
func (p *Picker) Status() Status {
	p.mu.Lock()
	st := Status{
		Running: p.ctrl != nil,
		PageURL: p.pageURL,
		History: p.hist != nil,
		Sinks:   p.sinkR.Len(),
	}
	ctrl := p.ctrl
	p.mu.Unlock()

	if ctrl != nil {
		st.Status = ctrl.Status()
	}
	return st
}

// Recent returns the latest export attempts from the history database.
func (p *Picker) Recent(ctx context.Context, limit int) ([]export.Outcome, error) {
	h := p.history()
	if h == nil {
		return nil, ErrNoHistory
	}
	return h.Recent(ctx, limit)
}

// Stats summarises the history database.
func (p *Picker) Stats(ctx context.Context) (history.Stats, error) {
	h := p.history()
	if h == nil {
		return history.Stats{}, ErrNoHistory
	}
	return h.Stats(ctx)
}

// Stop ends the session, waits for deliveries in flight, then closes the
// tab (when the picker opened it), the sinks and the browser. The sinks
// are not reopened by a later Start.
func (p *Picker) Stop() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	if ctrl := p.controller(); ctrl != nil {
		// The session end is recorded by onEnd. A repeat activation may
		// have raced the first Deactivate, hence the second one.
		for range 2 {
			ctrl.Deactivate(context.Background())
			ctrl.Wait()
		}
	}
	// Delivery failures reach the recorder before it drains.
	if err := p.sinkR.Close(); err != nil {
		p.logger.Warn("picker: close sinks", "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.logger.Info("picker: stopped")
}

// teardownLocked releases everything Start acquired.
func (p *Picker) teardownLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()

	if p.doc != nil {
		p.doc.Close()
		p.doc = nil
	}
	if p.stopScript != nil {
		if err := p.stopScript(); err != nil {
			p.logger.Debug("picker: stop script hijack", "error", err)
		}
		p.stopScript = nil
	}
	if p.tab != nil {
		if err := p.tab.Close(); err != nil {
			p.logger.Debug("picker: close tab", "error", err)
		}
		p.tab = nil
	}
	if p.mgr != nil {
		p.mgr.Close()
		p.mgr = nil
	}
	if p.hist != nil && p.ownHist {
		p.hist.Close()
		p.hist = nil
		p.ownHist = false
	}
	p.ctrl = nil
	p.pipeline = nil
}

func (p *Picker) controller() *session.Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl
}

func (p *Picker) history() *history.Store {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hist
}

// onNavigate runs when the tab's main frame commits a new document: the
// old document's surfaces and handles are gone, and so is the rasterizer.
func (p *Picker) onNavigate(url string) {
	p.mu.Lock()
	p.pageURL = url
	ctrl, pipe := p.ctrl, p.pipeline
	p.mu.Unlock()
	if ctrl == nil {
		return
	}

	p.logger.Info("picker: page navigated", "url", url)
	ctrl.Deactivate(context.Background())
	pipe.Invalidate()
	pipe.SetPageURL(url)
}

// onStart runs under the controller lock; it only reads picker state.
func (p *Picker) onStart(id string) {
	p.mu.Lock()
	url, h := p.pageURL, p.hist
	p.mu.Unlock()
	p.enqueue(h, "session started", func(ctx context.Context, h *history.Store) error {
		return h.SessionStarted(ctx, id, url)
	})
}

func (p *Picker) onExport(o export.Outcome) {
	p.enqueue(p.history(), "export", func(ctx context.Context, h *history.Store) error {
		return h.RecordOutcome(ctx, o)
	})
}

func (p *Picker) onEnd(e session.End) {
	p.enqueue(p.history(), "session ended", func(ctx context.Context, h *history.Store) error {
		return h.SessionEnded(ctx, e.SessionID, string(e.Reason))
	})

	if !p.cfg.Picker.Repeat || p.isStopping() {
		return
	}
	// Escape and external deactivation stop repeat mode.
	if e.Reason != session.ReasonExported && e.Reason != session.ReasonFailed {
		return
	}
	if _, err := p.Activate(context.Background()); err != nil {
		p.logger.Warn("picker: repeat activation failed", "error", err)
	}
}

// onDeliveryFailure runs on the sink router's goroutine once a sink has
// refused an exported artifact.
func (p *Picker) onDeliveryFailure(a export.Artifact, err error) {
	p.enqueue(p.history(), "delivery failure", func(ctx context.Context, h *history.Store) error {
		return h.DeliveryFailed(ctx, a, err)
	})
}

func (p *Picker) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// enqueue hands a history write to the recorder goroutine. Writes are
// applied in order; they are dropped when history is disabled or the
// queue is full.
func (p *Picker) enqueue(h *history.Store, op string, fn func(context.Context, *history.Store) error) {
	if h == nil {
		return
	}
	select {
	case p.records <- func(ctx context.Context) error { return fn(ctx, h) }:
	default:
		p.logger.Warn("picker: history queue full, dropped", "op", op)
	}
}

// runRecorder applies queued history writes until ctx is done, then
// drains what is left.
func (p *Picker) runRecorder(ctx context.Context) {
	apply := func(ctx context.Context, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			p.logger.Warn("picker: history write", "error", err)
		}
	}
	for {
		select {
		case fn := <-p.records:
			apply(ctx, fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-p.records:
					apply(context.Background(), fn)
				default:
					return
				}
			}
		}
	}
}
