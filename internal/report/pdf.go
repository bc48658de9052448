package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PageSetup is the printed page layout, in inches.
type PageSetup struct {
	Landscape    bool
	Width        float64
	Height       float64
	MarginTop    float64
	MarginBottom float64
	// Footer is a Chromium footer template; empty disables header and footer.
	Footer string
}

const pageNumberFooter = `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
	`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`

// A4Landscape fits the company summary table on one page width.
func A4Landscape() PageSetup {
	return PageSetup{Landscape: true, Width: 8.27, Height: 11.69, MarginTop: 0.5, MarginBottom: 0.75, Footer: pageNumberFooter}
}

func (s PageSetup) params() *page.PrintToPDFParams {
	p := page.PrintToPDF().
		WithPrintBackground(true).
		WithLandscape(s.Landscape).
		WithPaperWidth(s.Width).
		WithPaperHeight(s.Height).
		WithMarginTop(s.MarginTop).
		WithMarginBottom(s.MarginBottom)
	if s.Footer != "" {
		p = p.WithDisplayHeaderFooter(true).
			WithHeaderTemplate(`<div></div>`).
			WithFooterTemplate(s.Footer)
	}
	return p
}

// PDFRenderer prints the HTML summary through headless Chromium.
type PDFRenderer struct {
	ChromePath string
	Timeout    time.Duration
	Page       PageSetup
}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{ChromePath: DetectChromePath(), Timeout: 30 * time.Second, Page: A4Landscape()}
}

func (r *PDFRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.ChromePath))
	}
	return opts
}

func (r *PDFRenderer) Render(ctx context.Context, markdown string) ([]byte, error) {
	doc, err := HTML(markdown)
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	ctx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()
	ctx, cancelTab := chromedp.NewContext(ctx)
	defer cancelTab()

	var pdf []byte
	printParams := r.Page.params()
	err = chromedp.Run(ctx,
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString([]byte(doc))),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = printParams.Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// WriteFile renders markdown and writes the PDF to path.
func (r *PDFRenderer) WriteFile(ctx context.Context, path, markdown string) error {
	pdf, err := r.Render(ctx, markdown)
	if err != nil {
		return err
	}
	return writeAtomic(path, pdf)
}

func DetectChromePath() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
