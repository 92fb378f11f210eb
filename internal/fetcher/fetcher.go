package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"seolens/internal/extractor"
	"seolens/pkg/types"
)

// Page represents a retrieved document before extraction.
type Page struct {
	URL         string
	FinalURL    string
	Body        []byte
	ContentType string
	StatusCode  int
	FetchedAt   time.Time
	Rendered    bool
}

// Client retrieves a single page. Implementations: HTTPClient, ChromedpRenderer,
// and Composite which selects between them.
type Client interface {
	Get(ctx context.Context, rawURL string) (*Page, error)
}

// FailureReason classifies why a fetch produced no usable content.
type FailureReason string

const (
	FailInvalidURL      FailureReason = "invalid_url"
	FailRequest         FailureReason = "request_failed"
	FailBadStatus       FailureReason = "bad_status"
	FailExtract         FailureReason = "extract_failed"
	FailContentTooShort FailureReason = "content_too_short"
)

// Failure describes a per-URL soft failure. It never propagates as an error
// from a batch; callers inspect it instead.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

// Result is the outcome of fetching one URL. Exactly one of (Content, SEO)
// present or Failure set; absent content never carries SEO elements.
type Result struct {
	URL     string
	Content string
	SEO     *types.SeoElements
	Failure *Failure
}

// OK reports whether the fetch produced usable content.
func (r Result) OK() bool { return r.Failure == nil }

// StatusError marks an HTTP error status. It is never retried.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	MaxRetries   int
	RetryBackoff time.Duration
}

// HTTPClient implements Client via the Go http.Client with bounded retries.
type HTTPClient struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	maxBodyBytes int64
	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger

	// sleep is swappable so retry timing is testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient constructs an HTTP page client using the provided options.
func NewHTTPClient(opts Options, logger *slog.Logger) (*HTTPClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent:    opts.UserAgent,
		extraHeaders: headers,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       logger,
		sleep:        sleepCtx,
	}, nil
}

// Get downloads a single URL, retrying transient network failures with
// exponential backoff and jitter. HTTP error statuses return a StatusError
// without retrying.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*Page, error) {
	var resp *http.Response
	backoff := c.retryBackoff

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		c.setHeaders(req)

		resp, err = c.client.Do(req)
		if err == nil {
			break
		}
		if attempt >= c.maxRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("http fetch failed after %d attempts: %w", attempt, err)
		}
		// Jitter up to +20% so concurrent fetches do not retry in lockstep.
		delay := time.Duration(float64(backoff) * (1 + 0.2*rand.Float64()))
		c.logger.Debug("fetch attempt failed, retrying",
			"url", rawURL, "attempt", attempt, "delay", delay.String(), "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff *= 2
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	page := &Page{
		URL:         rawURL,
		FinalURL:    finalURL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now(),
	}

	if resp.StatusCode >= 400 {
		return page, &StatusError{Code: resp.StatusCode}
	}
	return page, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}

func (c *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (c *HTTPClient) Client() *http.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetcher retrieves one URL and extracts its content and SEO elements. All
// failures are converted to per-URL soft failures.
type Fetcher struct {
	client     Client
	extractor  *extractor.Extractor
	minContent int
	logger     *slog.Logger
}

// New constructs a Fetcher over the given page client.
func New(client Client, ex *extractor.Extractor, minContentChars int, logger *slog.Logger) *Fetcher {
	if minContentChars <= 0 {
		minContentChars = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, extractor: ex, minContent: minContentChars, logger: logger}
}

// Fetch retrieves the URL and extracts content and SEO signals. URLs without
// an http/https scheme are rejected without any network call.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Result {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		f.logger.Debug("rejecting url without http scheme", "url", rawURL)
		return Result{URL: rawURL, Failure: &Failure{Reason: FailInvalidURL}}
	}

	page, err := f.client.Get(ctx, rawURL)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			f.logger.Debug("fetch returned error status", "url", rawURL, "status", statusErr.Code)
			return Result{URL: rawURL, Failure: &Failure{Reason: FailBadStatus, Err: err}}
		}
		f.logger.Debug("fetch failed", "url", rawURL, "error", err)
		return Result{URL: rawURL, Failure: &Failure{Reason: FailRequest, Err: err}}
	}

	content, seo, err := f.extractor.Extract(page.Body, page.ContentType, rawURL)
	if err != nil {
		f.logger.Debug("extraction failed", "url", rawURL, "error", err)
		return Result{URL: rawURL, Failure: &Failure{Reason: FailExtract, Err: err}}
	}

	if len(content) <= f.minContent {
		f.logger.Debug("content too short", "url", rawURL, "chars", len(content))
		return Result{URL: rawURL, Failure: &Failure{Reason: FailContentTooShort}}
	}

	return Result{URL: rawURL, Content: content, SEO: seo}
}
