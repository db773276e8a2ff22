package browser

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const fixture = `<!doctype html>
<html><head><style>
body { margin: 0 }
pre { width: 300px; height: 100px; margin: 0 }
#ghost { visibility: hidden; width: 120px; height: 60px }
#link { display: block; width: 200px; height: 40px }
</style></head><body>
<pre id="code">func main() {}</pre>
<div id="gone" style="display: none">hidden</div>
<div id="ghost">invisible</div>
<a id="link" href="#next">next</a>
<script>
window.hits = 0;
document.getElementById('link').addEventListener('click', () => window.hits++);
</script>
</body></html>`

// openDocument launches headless Chrome on the fixture and installs the
// page bridge.
func openDocument(t *testing.T) (*Document, *rod.Page) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Chrome test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("Chrome not found")
	}

	ctx := context.Background()
	mgr := NewManager(Config{Mode: ModeHeadless, Bin: bin, Logger: quiet})
	if _, err := mgr.Start(ctx); err != nil {
		t.Fatalf("start chrome: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	tab, err := OpenTab(ctx, mgr, "data:text/html,"+url.PathEscape(fixture))
	if err != nil {
		t.Fatalf("open tab: %v", err)
	}
	doc, err := NewDocument(ctx, tab.Page, quiet)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	t.Cleanup(doc.Close)
	return doc, tab.Page
}

func evalStr(t *testing.T, page *rod.Page, js string) string {
	t.Helper()
	res, err := page.Eval(js)
	if err != nil {
		t.Fatalf("eval %s: %v", js, err)
	}
	return res.Value.Str()
}

func evalInt(t *testing.T, page *rod.Page, js string) int {
	t.Helper()
	res, err := page.Eval(js)
	if err != nil {
		t.Fatalf("eval %s: %v", js, err)
	}
	return res.Value.Int()
}

func nodeByID(t *testing.T, doc *Document, selector, id string) dom.Node {
	t.Helper()
	nodes, err := doc.QueryAll(context.Background(), selector)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("%s#%s not found in %+v", selector, id, nodes)
	return dom.Node{}
}

func TestDocument_StageClonesWithoutHighlight(t *testing.T) {
	doc, page := openDocument(t)
	ctx := context.Background()
	h := nodeByID(t, doc, "pre", "code").Handle

	look := dom.Style{
		Outline:         "2px solid rgb(37, 99, 235)",
		BackgroundColor: "rgba(37, 99, 235, 0.1)",
		Cursor:          "pointer",
	}
	if err := doc.SetInlineStyle(ctx, h, look); err != nil {
		t.Fatal(err)
	}
	live, err := doc.InlineStyle(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if live.Outline == "" || live.Cursor != "pointer" {
		t.Fatalf("highlight not applied: %+v", live)
	}

	frame := dom.Frame{ID: "blockshot-stage-1", Background: "#ffffff", Padding: 16, Offset: 10000}
	if err := doc.Stage(ctx, h, frame); err != nil {
		t.Fatal(err)
	}
	if css := evalStr(t, page, `() => document.getElementById('blockshot-stage-1').firstElementChild.style.cssText`); css != "" {
		t.Errorf("clone inline style: %q", css)
	}
	if tag := evalStr(t, page, `() => document.getElementById('blockshot-stage-1').firstElementChild.tagName`); tag != "PRE" {
		t.Errorf("clone tag: %q", tag)
	}
	after, err := doc.InlineStyle(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if after != live {
		t.Errorf("live element changed by Stage: %+v, want %+v", after, live)
	}

	if err := doc.Unstage(ctx, frame.ID); err != nil {
		t.Fatal(err)
	}
	if n := evalInt(t, page, `() => document.querySelectorAll('#blockshot-stage-1').length`); n != 0 {
		t.Errorf("container left after Unstage: %d", n)
	}
}

func TestDocument_QueryReportsRendering(t *testing.T) {
	doc, _ := openDocument(t)

	code := nodeByID(t, doc, "pre", "code")
	if !code.Rendered || code.Display != "block" || code.Rect.Width != 300 || code.Rect.Height != 100 {
		t.Errorf("pre: %+v", code)
	}
	gone := nodeByID(t, doc, "div", "gone")
	if gone.Rendered || gone.Display != "none" {
		t.Errorf("display none: %+v", gone)
	}
	ghost := nodeByID(t, doc, "div", "ghost")
	if !ghost.Rendered || ghost.Visibility != "hidden" {
		t.Errorf("visibility hidden: %+v", ghost)
	}
}

func TestDocument_ArmedClickIsSwallowed(t *testing.T) {
	doc, page := openDocument(t)
	ctx := context.Background()

	events := make(chan dom.Event, 16)
	stop, err := doc.Listen(ctx, func(ev dom.Event) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Arm(ctx, true); err != nil {
		t.Fatal(err)
	}

	click := `() => document.getElementById('link').click()`
	if _, err := page.Eval(click); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		if ev.Kind != dom.Click {
			t.Errorf("event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("click not relayed")
	}
	if n := evalInt(t, page, `() => window.hits`); n != 0 {
		t.Errorf("page handler ran %d times while armed", n)
	}
	if hash := evalStr(t, page, `() => location.hash`); hash != "" {
		t.Errorf("link followed while armed: %q", hash)
	}

	if err := stop(); err != nil {
		t.Fatal(err)
	}
	// Re-arm behind the bridge's back: with the listener gone it has
	// nothing to swallow.
	if _, err := page.Eval(`() => window.__blockshot.arm(true)`); err != nil {
		t.Fatal(err)
	}
	if _, err := page.Eval(click); err != nil {
		t.Fatal(err)
	}
	if n := evalInt(t, page, `() => window.hits`); n != 1 {
		t.Errorf("page handler after unlisten: %d", n)
	}
	if hash := evalStr(t, page, `() => location.hash`); hash != "#next" {
		t.Errorf("link not followed after unlisten: %q", hash)
	}
	select {
	case ev := <-events:
		t.Errorf("event after unlisten: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
