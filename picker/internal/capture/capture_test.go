package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/blockshot/idgen"
	"github.com/hazyhaar/blockshot/kit"
	"github.com/hazyhaar/blockshot/picker/export"
	"github.com/hazyhaar/blockshot/picker/internal/dom"
	"github.com/hazyhaar/blockshot/picker/internal/dom/domtest"
)

type fakeRaster struct {
	mu        sync.Mutex
	loads     int
	loadErr   error
	renderErr error
	opts      RenderOptions
	staged    func() map[string]domtest.Staged
	sawStage  bool
}

func (f *fakeRaster) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeRaster) Render(_ context.Context, id string, opts RenderOptions) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	if f.staged != nil {
		_, f.sawStage = f.staged()[id]
	}
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 496, 248))
	img.Set(1, 1, color.RGBA{R: 99, G: 102, B: 241, A: 255})
	return img, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []export.Artifact
	data  [][]byte
}

func (f *fakeSaver) Save(_ context.Context, a export.Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, a.Meta())
	f.data = append(f.data, bytes.Clone(a.Data))
}

var fixed = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func newPipeline(page *domtest.Page, r *fakeRaster, s *fakeSaver) *Pipeline {
	r.staged = page.StagedContainers
	return New(page, r, s, Config{IDPrefix: "blockshot-", UseCORS: true},
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(idgen.Sequence("exp_")))
}

func TestFilename(t *testing.T) {
	got := Filename("block", fixed)
	if got != "block-2026-03-14T09-26-53.png" {
		t.Fatalf("Filename: got %q", got)
	}
	if strings.Contains(got, ":") {
		t.Fatalf("Filename contains a colon: %q", got)
	}
}

func TestFilename_UTC(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	got := Filename("block", time.Date(2026, 1, 2, 0, 30, 0, 0, paris))
	if got != "block-2026-01-01T23-30-00.png" {
		t.Fatalf("Filename: got %q", got)
	}
}

func TestFilename_Pattern(t *testing.T) {
	re := regexp.MustCompile(`^block-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.png$`)
	if name := Filename("block", time.Now()); !re.MatchString(name) {
		t.Fatalf("Filename: %q does not match %s", name, re)
	}
}

func TestExport_Success(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre", Rect: dom.Rect{Width: 200, Height: 100}})
	r, s := &fakeRaster{}, &fakeSaver{}
	p := newPipeline(page, r, s)

	ctx := kit.WithSessionID(context.Background(), "ses_1")
	out, err := p.Export(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Filename != "block-2026-03-14T09-26-53.png" {
		t.Errorf("outcome: %+v", out)
	}
	if out.Width != 496 || out.Height != 248 || out.SessionID != "ses_1" || out.ID != "exp_1" {
		t.Errorf("outcome: %+v", out)
	}
	if !r.sawStage {
		t.Error("container was not attached while rendering")
	}
	if len(page.StagedContainers()) != 0 {
		t.Errorf("containers left: %v", page.StagedContainers())
	}
	if r.opts.Scale != 2 || r.opts.Background != "#ffffff" || !r.opts.UseCORS || r.opts.ImageTimeout != 0 {
		t.Errorf("render options: %+v", r.opts)
	}

	if len(s.saved) != 1 {
		t.Fatalf("saved %d artifacts", len(s.saved))
	}
	if s.saved[0].Filename != out.Filename || s.saved[0].Format != "png" {
		t.Errorf("artifact: %+v", s.saved[0])
	}
	img, err := png.Decode(bytes.NewReader(s.data[0]))
	if err != nil {
		t.Fatalf("saved bytes are not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 496 {
		t.Errorf("decoded width: %d", img.Bounds().Dx())
	}
	if out.Bytes != len(s.data[0]) {
		t.Errorf("Bytes: got %d, want %d", out.Bytes, len(s.data[0]))
	}
}

func TestExport_FrameConfig(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre"})
	var seen dom.Frame
	r := &fakeRaster{}
	p := New(page, r, &fakeSaver{}, Config{IDPrefix: "blockshot-"})
	r.staged = func() map[string]domtest.Staged {
		m := page.StagedContainers()
		for _, st := range m {
			seen = st.Frame
		}
		return m
	}

	if _, err := p.Export(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	want := dom.Frame{ID: "blockshot-stage-1", Background: "#ffffff", Padding: 24, Radius: 8, Offset: 99999}
	if seen != want {
		t.Errorf("frame:\n got %+v\nwant %+v", seen, want)
	}
}

func TestExport_RenderFailureCleansUp(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre"})
	errTaint := errors.New("tainted canvas")
	r, s := &fakeRaster{renderErr: errTaint}, &fakeSaver{}
	p := newPipeline(page, r, s)

	out, err := p.Export(context.Background(), target)
	if !errors.Is(err, errTaint) {
		t.Fatalf("err: got %v", err)
	}
	if out.Success || out.Error == "" {
		t.Errorf("outcome: %+v", out)
	}
	if len(page.StagedContainers()) != 0 {
		t.Errorf("containers left: %v", page.StagedContainers())
	}
	if len(s.saved) != 0 {
		t.Errorf("saved after failure: %d", len(s.saved))
	}
}

func TestExport_LoadMemoized(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre"})
	r := &fakeRaster{}
	p := newPipeline(page, r, &fakeSaver{})

	for i := 0; i < 3; i++ {
		if _, err := p.Export(context.Background(), target); err != nil {
			t.Fatal(err)
		}
	}
	if r.loads != 1 {
		t.Fatalf("Load called %d times, want 1", r.loads)
	}

	p.Invalidate()
	if _, err := p.Export(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	if r.loads != 2 {
		t.Fatalf("Load after Invalidate: %d calls, want 2", r.loads)
	}
}

func TestExport_LoadFailureNotCached(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre"})
	r := &fakeRaster{loadErr: errors.New("cdn unreachable")}
	p := newPipeline(page, r, &fakeSaver{})

	_, err := p.Export(context.Background(), target)
	if !errors.Is(err, ErrRasterizerUnavailable) || !errors.Is(err, r.loadErr) {
		t.Fatalf("err: got %v", err)
	}
	if len(page.StagedContainers()) != 0 {
		t.Errorf("containers left: %v", page.StagedContainers())
	}

	r.loadErr = nil
	if _, err := p.Export(context.Background(), target); err != nil {
		t.Fatalf("retry after load failure: %v", err)
	}
	if r.loads != 2 {
		t.Fatalf("Load called %d times, want 2", r.loads)
	}
}

func TestExport_StageFailure(t *testing.T) {
	page := domtest.New()
	page.StageErr = errors.New("clone failed")
	r := &fakeRaster{}
	p := newPipeline(page, r, &fakeSaver{})

	_, err := p.Export(context.Background(), 42)
	if !errors.Is(err, page.StageErr) {
		t.Fatalf("err: got %v", err)
	}
	if r.loads != 0 {
		t.Errorf("rasterizer loaded after stage failure")
	}
}

func TestStage_AttachesBeforeRun(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre", Rect: dom.Rect{Width: 200, Height: 100}})
	r, s := &fakeRaster{}, &fakeSaver{}
	p := newPipeline(page, r, s)

	job := p.Stage(kit.WithSessionID(context.Background(), "ses_1"), target)
	staged := page.StagedContainers()
	if len(staged) != 1 || staged["blockshot-stage-1"].Target != target {
		t.Fatalf("staged after Stage: %v", staged)
	}
	if r.loads != 0 || len(s.saved) != 0 {
		t.Fatal("Stage went past cloning")
	}

	out, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.SessionID != "ses_1" || len(s.saved) != 1 {
		t.Errorf("outcome: %+v, saved %d", out, len(s.saved))
	}
	if len(page.StagedContainers()) != 0 {
		t.Errorf("containers left: %v", page.StagedContainers())
	}
}

func TestStage_FailureReportedByRun(t *testing.T) {
	page := domtest.New()
	page.StageErr = errors.New("clone failed")
	r, s := &fakeRaster{}, &fakeSaver{}
	p := newPipeline(page, r, s)

	job := p.Stage(context.Background(), 42)
	out, err := job.Run(context.Background())
	if !errors.Is(err, page.StageErr) || out.Success || out.Error == "" {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
	if r.loads != 0 || len(s.saved) != 0 {
		t.Error("export continued after stage failure")
	}
}

func TestExport_PageURLFollowsNavigation(t *testing.T) {
	page := domtest.New()
	target := page.Add(domtest.Element{Tag: "pre", Rect: dom.Rect{Width: 200, Height: 100}})
	s := &fakeSaver{}
	p := New(page, &fakeRaster{}, s, Config{PageURL: "https://a.example/"})

	if _, err := p.Export(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	p.SetPageURL("https://b.example/docs")
	out, err := p.Export(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if out.PageURL != "https://b.example/docs" || s.saved[0].PageURL != "https://a.example/" || s.saved[1].PageURL != out.PageURL {
		t.Errorf("page urls: first=%q second=%q", s.saved[0].PageURL, out.PageURL)
	}
}
