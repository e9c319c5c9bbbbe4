package render

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ChromiumPDFRenderer prints the HTML layout to PDF through a headless
// Chromium instance. It is the primary PDF engine; when the browser
// runtime is missing or misbehaves the dispatcher falls through to the
// next engine.
type ChromiumPDFRenderer struct {
	html    *HTMLRenderer
	timeout time.Duration
}

func NewChromiumPDFRenderer(html *HTMLRenderer) *ChromiumPDFRenderer {
	return &ChromiumPDFRenderer{html: html, timeout: 60 * time.Second}
}

func (r *ChromiumPDFRenderer) Name() string { return "chromium-pdf" }

func (r *ChromiumPDFRenderer) Render(ctx context.Context, in Input) ([]byte, error) {
	doc, err := r.html.Render(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("build html: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	l := launcher.New().Headless(true)
	defer l.Cleanup()
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetDocumentContent(string(doc)); err != nil {
		return nil, fmt.Errorf("set document: %w", err)
	}

	printBackground := true
	stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: printBackground})
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	pdf, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read pdf stream: %w", err)
	}
	return pdf, nil
}

// HTMLFallbackRenderer is the secondary PDF engine: it emits the HTML
// document bytes so a missing browser runtime degrades the artifact
// instead of failing the report.
type HTMLFallbackRenderer struct {
	html *HTMLRenderer
}

func NewHTMLFallbackRenderer(html *HTMLRenderer) *HTMLFallbackRenderer {
	return &HTMLFallbackRenderer{html: html}
}

func (r *HTMLFallbackRenderer) Name() string { return "html-fallback" }

func (r *HTMLFallbackRenderer) Render(ctx context.Context, in Input) ([]byte, error) {
	return r.html.Render(ctx, in)
}
