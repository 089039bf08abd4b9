package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"jersey-dashboard/utils"
)

// Format is the output type of a capture, chosen by file extension.
type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

const (
	viewportWidth  = 1400
	viewportHeight = 1000
	readySelector  = "#top5-listings-table"
)

// FormatFor maps an output path to a capture format.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("snapshot: unsupported output %q (want .png or .pdf)", filepath.Ext(path))
	}
}

// Capturer renders the served dashboard page in headless Chrome.
type Capturer struct {
	chromeBin string
	timeout   time.Duration
	logger    *utils.Logger
	retry     *utils.RetryConfig
}

func New(chromeBin string, timeout time.Duration, maxRetries int, logger *utils.Logger) *Capturer {
	return &Capturer{
		chromeBin: chromeBin,
		timeout:   timeout,
		logger:    logger,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Capture loads url, waits for the charts, and writes a PNG or PDF to out.
func (c *Capturer) Capture(ctx context.Context, url, out string) error {
	format, err := FormatFor(out)
	if err != nil {
		return err
	}

	chromeBin := c.chromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	c.logger.Info("[snapshot] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var buf []byte
	err = c.retry.Do(ctx, "capture dashboard", func(context.Context) error {
		tabCtx, cancelTab := chromedp.NewContext(browserCtx)
		defer cancelTab()
		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
		defer cancelTimeout()

		var loaded bool
		tasks := chromedp.Tasks{
			chromedp.EmulateViewport(viewportWidth, viewportHeight),
			chromedp.Navigate(url),
			chromedp.WaitVisible(readySelector, chromedp.ByQuery),
			chromedp.Poll(`Array.from(document.images).every(img => img.complete)`, &loaded,
				chromedp.WithPollingTimeout(15*time.Second)),
		}
		switch format {
		case FormatPNG:
			tasks = append(tasks, chromedp.FullScreenshot(&buf, 100))
		case FormatPDF:
			tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
				data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
				if err != nil {
					return err
				}
				buf = data
				return nil
			}))
		}
		return chromedp.Run(tabCtx, tasks)
	})
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("snapshot: create output dir: %w", err)
	}
	if err := os.WriteFile(out, buf, 0644); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", out, err)
	}
	c.logger.Info("[snapshot] Wrote %s (%d bytes)", out, len(buf))
	return nil
}

// findChromeBinary looks for a Chrome or Chromium install on PATH and in the
// usual Linux locations. An empty result lets chromedp use its own lookup.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
