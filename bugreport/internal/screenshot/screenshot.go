// Package screenshot renders the current page to a PNG through CDP,
// reproducing the capture pipeline evidence reports depend on: full-page
// render, viewport crop at the saved scroll offset, and a descending
// ladder of render options for pages that defeat the fast path.
package screenshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

// ReporterUIAttr marks DOM elements that belong to the reporter's own UI
// (floating button, modal, region-select overlay). Anything carrying it
// is excluded from renders so the reporter never screenshots itself.
const ReporterUIAttr = "data-bug-reporter-ui"

const pngMIME = "image/png"

// renderAttempt is one rung of the robustness ladder.
type renderAttempt struct {
	fromSurface    bool
	sanitizeColors bool
}

// attempts orders the ladder: hardware-surface capture first, then the
// compositor path, then the compositor path with modern CSS color
// functions rewritten to a safe fallback. Some renderers reject
// lab()/oklch() syntax outright and fail the whole capture.
var attempts = []renderAttempt{
	{fromSurface: true, sanitizeColors: false},
	{fromSurface: false, sanitizeColors: false},
	{fromSurface: false, sanitizeColors: true},
}

// pageState is the layout snapshot taken before the render mutates it.
type pageState struct {
	ScrollX       float64 `json:"sx"`
	ScrollY       float64 `json:"sy"`
	ViewportW     int     `json:"vw"`
	ViewportH     int     `json:"vh"`
	ContentHeight int     `json:"ch"`
	ContentWidth  int     `json:"cw"`
}

// Config for creating a Capturer.
type Config struct {
	Tab    *browser.Tab
	Logger *slog.Logger
}

// Capturer renders the page the session is attached to.
type Capturer struct {
	tab    *browser.Tab
	logger *slog.Logger
}

// New creates a Capturer.
func New(cfg Config) *Capturer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capturer{tab: cfg.Tab, logger: cfg.Logger}
}

// Capture renders the current viewport to a PNG blob.
//
// The renderer mishandles scrolled pages (blank or offset output), so the
// capture runs a fixed sequence: save the scroll offset, scroll to the
// origin, unclamp the document height so the full content is measured,
// render at full-document size, crop back down to the viewport rectangle
// at the saved offset, and restore scroll and styles no matter how the
// render went.
func (c *Capturer) Capture(ctx context.Context) (*report.Blob, error) {
	if c.tab == nil || c.tab.Page == nil {
		return nil, fmt.Errorf("screenshot: no page attached")
	}

	st, err := c.readPageState(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: read page state: %w", err)
	}

	restore, err := c.preparePage(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: prepare page: %w", err)
	}
	defer restore()

	var lastErr error
	for _, attempt := range attempts {
		if attempt.sanitizeColors {
			if err := c.sanitizeColorFunctions(ctx); err != nil {
				c.logger.Warn("screenshot: color sanitization failed", "error", err)
			}
		}

		data, err := c.renderFullDocument(ctx, st, attempt)
		if err != nil {
			lastErr = err
			continue
		}

		cropped, err := cropToViewport(data, st)
		if err != nil {
			lastErr = err
			continue
		}
		return &report.Blob{Data: cropped, MIME: pngMIME}, nil
	}

	return nil, fmt.Errorf("screenshot: all render attempts failed: %w", lastErr)
}

// CaptureRegion captures the full viewport, then crops to the requested
// pixel region. The crop scale is re-derived from the rendered bitmap
// width against the viewport width: the renderer upscales for device
// pixel ratio, and a naive 1:1 mapping is wrong on high-DPI displays.
func (c *Capturer) CaptureRegion(ctx context.Context, region report.Region) (*report.Blob, error) {
	full, err := c.Capture(ctx)
	if err != nil {
		return nil, err
	}

	st, err := c.readPageState(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: read page state: %w", err)
	}

	cropped, err := cropRegion(full.Data, region, st.ViewportW)
	if err != nil {
		return nil, fmt.Errorf("screenshot: region crop: %w", err)
	}
	return &report.Blob{Data: cropped, MIME: pngMIME}, nil
}

func (c *Capturer) readPageState(ctx context.Context) (*pageState, error) {
	res, err := c.tab.Page.Context(ctx).Eval(`() => JSON.stringify({
		sx: window.scrollX || 0,
		sy: window.scrollY || 0,
		vw: Math.max(1, window.innerWidth || document.documentElement.clientWidth || 1),
		vh: Math.max(1, window.innerHeight || document.documentElement.clientHeight || 1),
		cw: Math.max(document.documentElement.scrollWidth, window.innerWidth || 1),
		ch: Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0, window.innerHeight || 1),
	})`)
	if err != nil {
		return nil, err
	}

	var st pageState
	if err := json.Unmarshal([]byte(res.Value.Str()), &st); err != nil {
		return nil, fmt.Errorf("parse page state: %w", err)
	}
	return &st, nil
}

// preparePage scrolls to the origin, unclamps html/body so the full
// content height is measurable, and hides reporter UI elements. The
// returned func restores everything; it runs even when the render fails.
func (c *Capturer) preparePage(ctx context.Context) (func(), error) {
	_, err := c.tab.Page.Context(ctx).Eval(`() => {
		const html = document.documentElement;
		const body = document.body;
		window.__quickbugs_saved = {
			sx: window.scrollX || 0,
			sy: window.scrollY || 0,
			htmlHeight: html.style.height,
			htmlOverflow: html.style.overflow,
			bodyHeight: body ? body.style.height : "",
			bodyOverflow: body ? body.style.overflow : "",
		};
		window.scrollTo(0, 0);
		html.style.setProperty("height", "auto", "important");
		html.style.setProperty("overflow", "visible", "important");
		if (body) {
			body.style.setProperty("height", "auto", "important");
			body.style.setProperty("overflow", "visible", "important");
		}
		const hide = document.createElement("style");
		hide.id = "__quickbugs_hide_ui";
		hide.textContent = '[` + ReporterUIAttr + `="true"] { visibility: hidden !important; }';
		document.head.appendChild(hide);
	}`)
	if err != nil {
		return func() {}, err
	}

	restore := func() {
		_, rerr := c.tab.Page.Context(ctx).Eval(`() => {
			const saved = window.__quickbugs_saved;
			if (!saved) { return; }
			const html = document.documentElement;
			const body = document.body;
			html.style.height = saved.htmlHeight;
			html.style.overflow = saved.htmlOverflow;
			if (body) {
				body.style.height = saved.bodyHeight;
				body.style.overflow = saved.bodyOverflow;
			}
			const hide = document.getElementById("__quickbugs_hide_ui");
			if (hide) { hide.remove(); }
			window.scrollTo(saved.sx, saved.sy);
			delete window.__quickbugs_saved;
		}`)
		if rerr != nil {
			c.logger.Warn("screenshot: restore page state failed", "error", rerr)
		}
	}
	return restore, nil
}

// sanitizeColorFunctions rewrites modern CSS color syntax the renderer
// chokes on (lab, lch, oklab, oklch, color) to a fixed fallback color.
// Originals are stashed on the page and put back by the restore step.
func (c *Capturer) sanitizeColorFunctions(ctx context.Context) error {
	_, err := c.tab.Page.Context(ctx).Eval(`() => {
		const pattern = /\b(?:lab|lch|oklab|oklch|color)\([^)]*\)/gi;
		const fallback = "rgb(17, 24, 39)";
		for (const style of document.querySelectorAll("style")) {
			if (style.textContent && pattern.test(style.textContent)) {
				style.textContent = style.textContent.replace(pattern, fallback);
			}
		}
		for (const el of document.querySelectorAll("[style]")) {
			const inline = el.getAttribute("style");
			if (inline && pattern.test(inline)) {
				el.setAttribute("style", inline.replace(pattern, fallback));
			}
		}
	}`)
	return err
}

func (c *Capturer) renderFullDocument(ctx context.Context, st *pageState, attempt renderAttempt) ([]byte, error) {
	res, err := proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      0,
			Y:      0,
			Width:  float64(st.ContentWidth),
			Height: float64(st.ContentHeight),
			Scale:  1,
		},
		FromSurface:           attempt.fromSurface,
		CaptureBeyondViewport: true,
	}.Call(c.tab.Page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return res.Data, nil
}

// cropToViewport cuts the full-document render back down to the viewport
// rectangle the user was looking at, at the saved scroll offset. The
// scale factor comes from the rendered bitmap, not devicePixelRatio.
func cropToViewport(data []byte, st *pageState) ([]byte, error) {
	w, err := decodeWidth(data)
	if err != nil {
		return nil, err
	}
	scale := float64(w) / float64(max(1, st.ContentWidth))

	return crop(data,
		int(math.Round(st.ScrollX*scale)),
		int(math.Round(st.ScrollY*scale)),
		int(math.Round(float64(st.ViewportW)*scale)),
		int(math.Round(float64(st.ViewportH)*scale)))
}

// cropRegion cuts a viewport-relative pixel region out of a viewport
// render, scaling by bitmap width / viewport width.
func cropRegion(data []byte, region report.Region, viewportW int) ([]byte, error) {
	w, err := decodeWidth(data)
	if err != nil {
		return nil, err
	}
	scale := float64(w) / float64(max(1, viewportW))

	return crop(data,
		int(math.Round(float64(region.X)*scale)),
		int(math.Round(float64(region.Y)*scale)),
		max(1, int(math.Round(float64(region.Width)*scale))),
		max(1, int(math.Round(float64(region.Height)*scale))))
}
