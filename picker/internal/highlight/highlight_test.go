package highlight

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/blockshot/picker/internal/dom"
	"github.com/hazyhaar/blockshot/picker/internal/dom/domtest"
)

type fakeIndicator struct {
	shown   bool
	shows   int
	hides   int
	hideErr error
}

func (f *fakeIndicator) Show(context.Context) error { f.shown = true; f.shows++; return nil }
func (f *fakeIndicator) Hide(context.Context) error {
	f.hides++
	if f.hideErr != nil {
		return f.hideErr
	}
	f.shown = false
	return nil
}

func setup(t *testing.T) (*domtest.Page, *fakeIndicator, *Manager) {
	t.Helper()
	page := domtest.New()
	tip := &fakeIndicator{}
	return page, tip, New(page, tip, Appearance{}, nil)
}

var original = dom.Style{
	Outline:         "1px dashed red",
	BackgroundColor: "yellow",
	Cursor:          "text",
	BoxShadow:       "",
}

func TestAppearance_Defaults(t *testing.T) {
	got := Appearance{}.Style()
	want := dom.Style{
		Outline:         "2px solid #6366f1",
		BackgroundColor: "rgba(99, 102, 241, 0.08)",
		Cursor:          "pointer",
		BoxShadow:       "0 0 0 4px rgba(99, 102, 241, 0.1)",
	}
	if got != want {
		t.Errorf("Style:\n got %+v\nwant %+v", got, want)
	}
}

func TestSet_AppliesAndShows(t *testing.T) {
	page, tip, m := setup(t)
	h := page.Add(domtest.Element{Tag: "pre", Style: original})

	if err := m.Set(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	if got := page.Element(h).Style; got != (Appearance{}).Style() {
		t.Errorf("style after Set: %+v", got)
	}
	if !tip.shown {
		t.Error("indicator not shown")
	}
	if m.Current() != h || m.Saved() != 1 {
		t.Errorf("Current=%d Saved=%d", m.Current(), m.Saved())
	}
}

func TestSet_Idempotent(t *testing.T) {
	page, tip, m := setup(t)
	h := page.Add(domtest.Element{Tag: "pre", Style: original})
	ctx := context.Background()

	if err := m.Set(ctx, h); err != nil {
		t.Fatal(err)
	}
	writes := page.StyleWrites()
	if err := m.Set(ctx, h); err != nil {
		t.Fatal(err)
	}
	if page.StyleWrites() != writes {
		t.Errorf("second Set wrote styles: %d -> %d", writes, page.StyleWrites())
	}
	if tip.shows != 1 {
		t.Errorf("indicator shown %d times", tip.shows)
	}
}

func TestSet_RestoresExactly(t *testing.T) {
	page, tip, m := setup(t)
	h := page.Add(domtest.Element{Tag: "pre", Style: original})
	ctx := context.Background()

	if err := m.Set(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, dom.None); err != nil {
		t.Fatal(err)
	}
	if got := page.Element(h).Style; got != original {
		t.Errorf("restored style:\n got %+v\nwant %+v", got, original)
	}
	if m.Saved() != 0 {
		t.Errorf("Saved: got %d, want 0", m.Saved())
	}
	if tip.shown {
		t.Error("indicator still shown")
	}
}

func TestSet_MovingKeepsOneRecord(t *testing.T) {
	page, _, m := setup(t)
	a := page.Add(domtest.Element{Tag: "pre", Style: original})
	b := page.Add(domtest.Element{Tag: "div"})
	ctx := context.Background()

	for _, h := range []dom.Handle{a, b, a, b} {
		if err := m.Set(ctx, h); err != nil {
			t.Fatal(err)
		}
		if m.Saved() != 1 {
			t.Fatalf("Saved after Set(%d): %d", h, m.Saved())
		}
	}
	if got := page.Element(a).Style; got != original {
		t.Errorf("a not restored: %+v", got)
	}
	if got := page.Element(b).Style; got != (Appearance{}).Style() {
		t.Errorf("b not highlighted: %+v", got)
	}
}

func TestSet_ElementGoneOnRead(t *testing.T) {
	page, _, m := setup(t)
	h := page.Add(domtest.Element{Tag: "pre"})
	page.Remove(h)

	if err := m.Set(context.Background(), h); err == nil {
		t.Fatal("Set on a detached element: want error")
	}
	if m.Current() != dom.None || m.Saved() != 0 {
		t.Errorf("Current=%d Saved=%d", m.Current(), m.Saved())
	}
}

func TestSet_FailedReadLogsHideError(t *testing.T) {
	var logs bytes.Buffer
	page := domtest.New()
	tip := &fakeIndicator{hideErr: errors.New("tooltip detached")}
	m := New(page, tip, Appearance{}, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	h := page.Add(domtest.Element{Tag: "pre"})
	page.Remove(h)

	err := m.Set(context.Background(), h)
	if err == nil || !strings.Contains(err.Error(), "read style") {
		t.Fatalf("Set: %v", err)
	}
	if tip.hides != 1 {
		t.Errorf("hides: %d", tip.hides)
	}
	if !strings.Contains(logs.String(), "tooltip detached") {
		t.Errorf("hide error not logged: %q", logs.String())
	}
}

func TestSet_RestoreOfDetachedElementDropsRecord(t *testing.T) {
	page, _, m := setup(t)
	a := page.Add(domtest.Element{Tag: "pre"})
	b := page.Add(domtest.Element{Tag: "pre"})
	ctx := context.Background()

	if err := m.Set(ctx, a); err != nil {
		t.Fatal(err)
	}
	page.Remove(a)
	if err := m.Set(ctx, b); err != nil {
		t.Fatal(err)
	}
	if m.Saved() != 1 || m.Current() != b {
		t.Errorf("Current=%d Saved=%d", m.Current(), m.Saved())
	}
}

func TestReset(t *testing.T) {
	page, _, m := setup(t)
	h := page.Add(domtest.Element{Tag: "pre", Style: original})
	ctx := context.Background()

	if err := m.Set(ctx, h); err != nil {
		t.Fatal(err)
	}
	m.Reset(ctx)
	m.Reset(ctx)

	if got := page.Element(h).Style; got != original {
		t.Errorf("style after Reset: %+v", got)
	}
	if m.Current() != dom.None || m.Saved() != 0 {
		t.Errorf("Current=%d Saved=%d", m.Current(), m.Saved())
	}
}
