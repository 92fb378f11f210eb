package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderOptions configures the JavaScript rendering fallback.
type RenderOptions struct {
	Timeout            time.Duration
	WaitForSelector    string
	UserAgent          string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
}

// ChromedpRenderer executes headless Chrome sessions using chromedp.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions, logger *slog.Logger) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		logger:    logger,
	}
}

// Get navigates to the target URL and returns the rendered DOM as the page body.
func (r *ChromedpRenderer) Get(parentCtx context.Context, rawURL string) (*Page, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return nil, parentCtx.Err()
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if sel := strings.TrimSpace(r.opts.WaitForSelector); sel != "" {
		actions = append(actions,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.Sleep(250*time.Millisecond),
		)
	} else {
		actions = append(actions, chromedp.Sleep(1500*time.Millisecond))
	}

	var html string
	var finalURL string
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		html = html[:r.opts.MaxBodyBytes]
	}
	if finalURL == "" {
		finalURL = rawURL
	}

	return &Page{
		URL:         rawURL,
		FinalURL:    finalURL,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
		FetchedAt:   time.Now(),
		Rendered:    true,
	}, nil
}

// Composite prefers the renderer when configured and falls back to plain HTTP
// on renderer errors.
type Composite struct {
	defaultClient Client
	renderer      Client
	logger        *slog.Logger
}

// NewComposite builds a composite client from HTTP and optional renderer components.
func NewComposite(httpClient, renderer Client, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{defaultClient: httpClient, renderer: renderer, logger: logger}
}

// Get delegates to the renderer when present, falling back to HTTP.
func (c *Composite) Get(ctx context.Context, rawURL string) (*Page, error) {
	if c.renderer != nil {
		page, err := c.renderer.Get(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		c.logger.Warn("renderer failed, falling back to HTTP fetch", "url", rawURL, "error", err)
	}
	return c.defaultClient.Get(ctx, rawURL)
}
