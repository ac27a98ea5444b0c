// Package browser wraps a headless Chrome process behind the handful of
// primitives the scraping pipeline needs: navigation, script evaluation,
// cookie snapshot/restore and diagnostic screenshots.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/browser")

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

type Options struct {
	Headless bool
	// defaults to a desktop Chrome UA, the remote service serves a
	// different page skeleton to obvious bots
	UserAgent string
	// directory for failure screenshots, disabled when empty
	ScreenshotDir string
	// per-action deadline, defaults to 30s
	Timeout time.Duration
}

type Browser struct {
	ctx           context.Context
	cancelTab     context.CancelFunc
	cancelAlloc   context.CancelFunc
	screenshotDir string
	timeout       time.Duration
}

func New(ctx context.Context, opts Options) (*Browser, error) {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(ua),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// start the process eagerly so Close always has something to release
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	if opts.ScreenshotDir != "" {
		if err := os.MkdirAll(opts.ScreenshotDir, 0755); err != nil {
			slog.Warn("failed to create screenshot dir", "dir", opts.ScreenshotDir, "err", err)
			opts.ScreenshotDir = ""
		}
	}

	return &Browser{
		ctx:           tabCtx,
		cancelTab:     cancelTab,
		cancelAlloc:   cancelAlloc,
		screenshotDir: opts.ScreenshotDir,
		timeout:       timeout,
	}, nil
}

// Close releases the tab and the underlying chrome process. it must run
// on every exit path or scheduled runs leak browser processes.
func (b *Browser) Close() {
	b.cancelTab()
	b.cancelAlloc()
}

func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	ctx, span := tracer.Start(ctx, "browser:Navigate")
	defer span.End()

	err := b.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Eval runs a javascript expression in the page and unmarshals its
// result into out. fire-and-forget expressions should still yield a
// value (`; true` suffix) so chromedp has something to decode.
func (b *Browser) Eval(ctx context.Context, expr string, out any) error {
	return b.run(ctx, chromedp.Evaluate(expr, out))
}

// Location reports the page's current URL, which is how login redirects
// and post-submit settling are detected.
func (b *Browser) Location(ctx context.Context) (string, error) {
	var loc string
	err := b.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (b *Browser) Sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// SetValue assigns a value to the first element matching sel using
// chromedp's native DOM manipulation.
func (b *Browser) SetValue(ctx context.Context, sel, value string) error {
	return b.run(ctx, chromedp.SetValue(sel, value, chromedp.ByQuery))
}

// SendKeys types into the first element matching sel.
func (b *Browser) SendKeys(ctx context.Context, sel, keys string) error {
	return b.run(ctx, chromedp.SendKeys(sel, keys, chromedp.ByQuery))
}

func (b *Browser) Click(ctx context.Context, sel string) error {
	return b.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

// Screenshot captures the page for postmortems. failures to capture are
// absorbed, a diagnostic must never take down the pipeline it serves.
func (b *Browser) Screenshot(ctx context.Context, name string) {
	if b.screenshotDir == "" {
		return
	}

	var buf []byte
	err := b.run(ctx, chromedp.CaptureScreenshot(&buf))
	if err != nil {
		slog.WarnContext(ctx, "failed to capture screenshot", "name", name, "err", err)
		return
	}

	path := filepath.Join(b.screenshotDir, name+".png")
	err = os.WriteFile(path, buf, 0644)
	if err != nil {
		slog.WarnContext(ctx, "failed to write screenshot", "path", path, "err", err)
		return
	}
	slog.DebugContext(ctx, "wrote screenshot", "path", path)
}
