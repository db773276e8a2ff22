package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/blockshot/picker/internal/capture"
	"github.com/hazyhaar/blockshot/picker/internal/dom"
)

// DefaultScriptURL is where html2canvas is fetched from when the page does
// not already provide it.
const DefaultScriptURL = "https://cdnjs.cloudflare.com/ajax/libs/html2canvas/1.4.1/html2canvas.min.js"

// HTML2Canvas rasterizes staged containers in the page with html2canvas.
type HTML2Canvas struct {
	doc       *Document
	scriptURL string
}

// NewHTML2Canvas returns a rasterizer that loads html2canvas from
// scriptURL (DefaultScriptURL when empty).
func NewHTML2Canvas(doc *Document, scriptURL string) *HTML2Canvas {
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	return &HTML2Canvas{doc: doc, scriptURL: scriptURL}
}

// Load injects the script tag unless window.html2canvas already exists.
func (h *HTML2Canvas) Load(ctx context.Context) error {
	_, err := h.doc.call(ctx, "loadScript", h.scriptURL)
	return err
}

func (h *HTML2Canvas) Render(ctx context.Context, containerID string, opts capture.RenderOptions) (image.Image, error) {
	res, err := h.doc.call(ctx, "render", containerID, map[string]any{
		"scale":        opts.Scale,
		"background":   opts.Background,
		"useCORS":      opts.UseCORS,
		"imageTimeout": opts.ImageTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return decodeDataURL(res.Value.Str())
}

// decodeDataURL decodes a "data:image/png;base64,..." string.
func decodeDataURL(s string) (image.Image, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(s, prefix) {
		if s == "data:," {
			return nil, fmt.Errorf("browser: empty canvas")
		}
		return nil, fmt.Errorf("browser: unexpected data url %.32q", s)
	}
	raw, err := base64.StdEncoding.DecodeString(s[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("browser: decode data url: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("browser: decode png: %w", err)
	}
	return img, nil
}

// Screenshot rasterizes with the browser compositor: the container is
// brought on screen and captured with a clipped Page.captureScreenshot.
// It needs no page-side library and works on pages whose CSP blocks the
// html2canvas script.
type Screenshot struct {
	doc *Document
}

// NewScreenshot returns a CDP screenshot rasterizer.
func NewScreenshot(doc *Document) *Screenshot {
	return &Screenshot{doc: doc}
}

func (s *Screenshot) Load(context.Context) error { return nil }

func (s *Screenshot) Render(ctx context.Context, containerID string, opts capture.RenderOptions) (image.Image, error) {
	res, err := s.doc.call(ctx, "reveal", containerID)
	if err != nil {
		return nil, err
	}
	var r dom.Rect
	if err := json.Unmarshal([]byte(res.Value.Str()), &r); err != nil {
		return nil, fmt.Errorf("browser: reveal: decode: %w", err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("browser: container %s has no size", containerID)
	}

	shot, err := proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      r.Left,
			Y:      r.Top,
			Width:  r.Width,
			Height: r.Height,
			Scale:  opts.Scale,
		},
		CaptureBeyondViewport: true,
	}.Call(s.doc.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(shot.Data))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return img, nil
}

// NewRasterizer picks a rasterizer by name: "html2canvas" (default) or
// "cdp".
func NewRasterizer(name string, doc *Document, scriptURL string) (capture.Rasterizer, error) {
	switch name {
	case "", "html2canvas":
		return NewHTML2Canvas(doc, scriptURL), nil
	case "cdp", "screenshot":
		return NewScreenshot(doc), nil
	}
	return nil, fmt.Errorf("browser: unknown rasterizer %q", name)
}
