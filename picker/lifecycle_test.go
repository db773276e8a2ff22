package picker

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/blockshot/dbopen"
	"github.com/hazyhaar/blockshot/history"
	"github.com/hazyhaar/blockshot/idgen"
	"github.com/hazyhaar/blockshot/picker/export"
	"github.com/hazyhaar/blockshot/picker/internal/capture"
	"github.com/hazyhaar/blockshot/picker/internal/dom"
	"github.com/hazyhaar/blockshot/picker/internal/dom/domtest"
	"github.com/hazyhaar/blockshot/picker/internal/session"
)

// countingRaster renders a small image and counts loads.
type countingRaster struct {
	loads atomic.Int32
}

func (r *countingRaster) Load(context.Context) error {
	r.loads.Add(1)
	return nil
}

func (r *countingRaster) Render(context.Context, string, capture.RenderOptions) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 40, 20)), nil
}

type wired struct {
	p      *Picker
	page   *domtest.Page
	raster *countingRaster
	hist   *history.Store
	saved  chan export.Artifact
}

// wirePicker builds a started Picker over an in-memory page, the way
// startLocked does over a Chrome tab. sinkErr makes the only sink fail.
func wirePicker(t *testing.T, repeat bool, sinkErr error) *wired {
	t.Helper()
	w := &wired{
		page:   domtest.New(),
		raster: &countingRaster{},
		hist:   history.New(dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema))),
		saved:  make(chan export.Artifact, 8),
	}
	cfg := DefaultConfig()
	cfg.Picker.Repeat = repeat
	w.p = New(cfg, quiet, NewCallbackSink(func(_ context.Context, a export.Artifact) error {
		w.saved <- a
		return sinkErr
	}))
	w.p.UseHistory(w.hist)

	p := w.p
	p.pageURL = "https://example.com/a"
	p.pipeline = capture.New(w.page, w.raster, p.sinkR, capture.Config{
		IDPrefix: "blockshot-",
		PageURL:  p.pageURL,
	}, capture.WithLogger(quiet))
	p.ctrl = session.New(w.page, p.pipeline, session.Config{
		SuccessDelay: 10 * time.Millisecond,
		FailureDelay: 10 * time.Millisecond,
		OnStart:      p.onStart,
		OnExport:     p.onExport,
		OnEnd:        p.onEnd,
		NewID:        idgen.Sequence("ses_"),
		Logger:       quiet,
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runRecorder(ctx)
	}()
	t.Cleanup(p.Stop)

	w.page.Add(domtest.Element{Tag: "pre", Rect: dom.Rect{Width: 300, Height: 100}})
	return w
}

func (w *wired) pick() {
	w.page.Emit(dom.Event{Kind: dom.PointerMove, X: 10, Y: 10})
	w.page.Emit(dom.Event{Kind: dom.Click})
}

func (w *wired) artifact(t *testing.T) export.Artifact {
	t.Helper()
	select {
	case a := <-w.saved:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("nothing delivered")
		return export.Artifact{}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func endReasons(t *testing.T, h *history.Store) map[string]string {
	t.Helper()
	sessions, err := h.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(sessions))
	for _, s := range sessions {
		out[s.ID] = s.EndReason
	}
	return out
}

func TestRepeat_ReactivatesAfterExport(t *testing.T) {
	w := wirePicker(t, true, nil)
	ctx := context.Background()
	if started, err := w.p.Activate(ctx); err != nil || !started {
		t.Fatalf("Activate: started=%v err=%v", started, err)
	}

	w.pick()
	if a := w.artifact(t); a.SessionID != "ses_1" {
		t.Errorf("artifact session: %q", a.SessionID)
	}
	eventually(t, func() bool {
		st := w.p.Status()
		return st.Active && st.SessionID == "ses_2"
	})

	w.page.Emit(dom.Event{Kind: dom.KeyDown, Key: "Escape"})
	eventually(t, func() bool { return !w.p.Status().Active })
	w.p.ctrl.Wait()
	if st := w.p.Status(); st.Active {
		t.Errorf("Escape did not stop repeat mode: %+v", st)
	}

	w.p.Stop()
	got := endReasons(t, w.hist)
	if len(got) != 2 || got["ses_1"] != "exported" || got["ses_2"] != "cancelled" {
		t.Errorf("sessions: %v", got)
	}
}

func TestRepeat_OffEndsAfterExport(t *testing.T) {
	w := wirePicker(t, false, nil)
	w.p.Activate(context.Background())
	w.pick()
	w.artifact(t)
	eventually(t, func() bool { return !w.p.Status().Active })
	w.p.ctrl.Wait()
	if st := w.p.Status(); st.Active {
		t.Errorf("session restarted without repeat: %+v", st)
	}
}

func TestStop_RecordsSessionEndOnce(t *testing.T) {
	w := wirePicker(t, true, nil)
	w.p.Activate(context.Background())

	w.p.Stop()
	if w.p.Status().Running {
		t.Error("still running after Stop")
	}
	got := endReasons(t, w.hist)
	if len(got) != 1 || got["ses_1"] != "deactivated" {
		t.Errorf("sessions: %v", got)
	}
	if w.page.Listening() || len(w.page.SurfaceIDs()) != 0 {
		t.Error("page not restored")
	}
}

func TestNavigate_EndsSessionAndReloadsRasterizer(t *testing.T) {
	w := wirePicker(t, false, nil)
	ctx := context.Background()

	w.p.Activate(ctx)
	w.pick()
	if a := w.artifact(t); a.PageURL != "https://example.com/a" {
		t.Errorf("first page url: %q", a.PageURL)
	}
	eventually(t, func() bool { return !w.p.Status().Active })
	if n := w.raster.loads.Load(); n != 1 {
		t.Fatalf("loads: %d", n)
	}

	w.p.Activate(ctx)
	w.p.onNavigate("https://example.com/b")
	st := w.p.Status()
	if st.Active {
		t.Error("navigation left the session running")
	}
	if st.PageURL != "https://example.com/b" {
		t.Errorf("page url: %q", st.PageURL)
	}
	if w.page.Listening() || len(w.page.SurfaceIDs()) != 0 {
		t.Error("navigation left page surfaces")
	}

	w.p.Activate(ctx)
	w.pick()
	if a := w.artifact(t); a.PageURL != "https://example.com/b" {
		t.Errorf("second page url: %q", a.PageURL)
	}
	if n := w.raster.loads.Load(); n != 2 {
		t.Errorf("rasterizer not reloaded after navigation: %d loads", n)
	}

	w.p.Stop()
	got := endReasons(t, w.hist)
	if got["ses_2"] != "deactivated" {
		t.Errorf("sessions: %v", got)
	}
}

func TestDeliveryFailure_Recorded(t *testing.T) {
	w := wirePicker(t, false, errors.New("webhook: status 502"))
	w.p.Activate(context.Background())
	w.pick()
	w.artifact(t)
	eventually(t, func() bool { return !w.p.Status().Active })
	w.p.ctrl.Wait()

	w.p.Stop()
	st, err := w.hist.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Exports != 1 || st.Failures != 0 || st.DeliveryFailures != 1 {
		t.Errorf("stats: %+v", st)
	}
	if got := endReasons(t, w.hist); got["ses_1"] != "exported" {
		t.Errorf("delivery failure changed the session end: %v", got)
	}
}
