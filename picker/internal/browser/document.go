package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

//go:embed picker.js
var pickerJS string

// bindingName is the JS -> Go channel installed with Runtime.addBinding.
const bindingName = "__blockshot_emit"

// Document implements dom.Page on a live rod page. Element handles and
// surfaces live in the page-side window.__blockshot registry; user input
// comes back through a CDP binding.
type Document struct {
	page   *rod.Page
	logger *slog.Logger

	events chan dom.Event
	cancel context.CancelFunc

	mu sync.Mutex
	fn func(dom.Event)
}

// NewDocument injects the page bridge into the current document and every
// future one, and starts relaying binding calls.
func NewDocument(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := page.EvalOnNewDocument("(" + pickerJS + ")()"); err != nil {
		return nil, fmt.Errorf("browser: register bridge: %w", err)
	}
	if _, err := page.Context(ctx).Eval(pickerJS); err != nil {
		return nil, fmt.Errorf("browser: inject bridge: %w", err)
	}

	if err := (proto.RuntimeEnable{}).Call(page); err != nil {
		logger.Warn("browser: runtime enable failed", "error", err)
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	d := &Document{
		page:   page,
		logger: logger,
		events: make(chan dom.Event, 64),
		cancel: cancel,
	}
	go d.listenBinding(lctx)
	go d.dispatch(lctx)
	return d, nil
}

// Close stops relaying events.
func (d *Document) Close() {
	d.cancel()
}

// listenBinding decodes binding calls and queues them. Moves are dropped
// when the queue is full; the next one supersedes them anyway.
func (d *Document) listenBinding(ctx context.Context) {
	d.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var ev dom.Event
		if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
			d.logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		if ev.Kind == dom.PointerMove {
			select {
			case d.events <- ev:
			default:
			}
			return
		}
		select {
		case d.events <- ev:
		case <-ctx.Done():
		}
	})()
}

// dispatch delivers events one at a time so page calls made by the
// handler never block rod's event loop.
func (d *Document) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.mu.Lock()
			fn := d.fn
			d.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
}

// call invokes window.__blockshot[method](args...).
func (d *Document) call(ctx context.Context, method string, args ...any) (*proto.RuntimeRemoteObject, error) {
	res, err := d.page.Context(ctx).Eval(`(m, ...a) => window.__blockshot[m](...a)`, append([]any{method}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("browser: %s: %w", method, err)
	}
	return res, nil
}

// callJSON decodes a JSON string returned by method into v.
func (d *Document) callJSON(ctx context.Context, v any, method string, args ...any) error {
	res, err := d.call(ctx, method, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), v); err != nil {
		return fmt.Errorf("browser: %s: decode: %w", method, err)
	}
	return nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	var nodes []dom.Node
	if err := d.callJSON(ctx, &nodes, "query", selector); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (d *Document) InlineStyle(ctx context.Context, h dom.Handle) (dom.Style, error) {
	var s dom.Style
	err := d.callJSON(ctx, &s, "style", int64(h))
	return s, err
}

func (d *Document) SetInlineStyle(ctx context.Context, h dom.Handle, s dom.Style) error {
	_, err := d.call(ctx, "setStyle", int64(h), s)
	return err
}

func (d *Document) Mount(ctx context.Context, id, css, text string) error {
	_, err := d.call(ctx, "mount", id, css, text)
	return err
}

func (d *Document) Restyle(ctx context.Context, id string, props map[string]string) error {
	_, err := d.call(ctx, "restyle", id, props)
	return err
}

func (d *Document) SetText(ctx context.Context, id, text string) error {
	_, err := d.call(ctx, "text", id, text)
	return err
}

func (d *Document) Measure(ctx context.Context, id string) (dom.Rect, error) {
	var r dom.Rect
	err := d.callJSON(ctx, &r, "measure", id)
	return r, err
}

func (d *Document) Unmount(ctx context.Context, id string) error {
	_, err := d.call(ctx, "unmount", id)
	return err
}

func (d *Document) Viewport(ctx context.Context) (dom.Size, error) {
	var s dom.Size
	err := d.callJSON(ctx, &s, "viewport")
	return s, err
}

func (d *Document) Stage(ctx context.Context, target dom.Handle, f dom.Frame) error {
	_, err := d.call(ctx, "stage", int64(target), f.ID, f.CSS())
	return err
}

func (d *Document) Unstage(ctx context.Context, id string) error {
	_, err := d.call(ctx, "unstage", id)
	return err
}

// Listen installs the page listeners. Only one subscriber is kept; a new
// Listen replaces the previous handler.
func (d *Document) Listen(ctx context.Context, fn func(dom.Event)) (func() error, error) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()

	if _, err := d.call(ctx, "listen"); err != nil {
		d.mu.Lock()
		d.fn = nil
		d.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() {
			d.mu.Lock()
			d.fn = nil
			d.mu.Unlock()
			_, err = d.call(context.Background(), "unlisten")
		})
		return err
	}
	return stop, nil
}

func (d *Document) Arm(ctx context.Context, armed bool) error {
	_, err := d.call(ctx, "arm", armed)
	return err
}

var _ dom.Page = (*Document)(nil)
