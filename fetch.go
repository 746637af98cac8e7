package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mendableai/firecrawl-go"
)

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher returns the HTML of a best-seller page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Name() string
}

type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Name() string { return "http" }

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", desktopUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	const maxBody = 16 << 20
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(b), nil
}

// FirecrawlFetcher renders the JS listing through Firecrawl and returns its raw HTML.
//
// The Firecrawl client takes no context, so a cancelled Fetch returns at once
// while the abandoned request runs on until the client timeout.
type FirecrawlFetcher struct {
	app     *firecrawl.FirecrawlApp
	waitFor int
	timeout int
}

func NewFirecrawlFetcher(apiKey, apiURL string, waitFor, timeout time.Duration) (*FirecrawlFetcher, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("firecrawl requires FIRECRAWL_API_KEY")
	}
	if apiURL == "" {
		apiURL = "https://api.firecrawl.dev"
	}
	app, err := firecrawl.NewFirecrawlApp(apiKey, apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize FirecrawlApp: %w", err)
	}
	if waitFor <= 0 {
		waitFor = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// the HTTP deadline leaves room for Firecrawl's own render timeout and wait
	app.Client.Timeout = timeout + waitFor + 10*time.Second
	return &FirecrawlFetcher{
		app:     app,
		waitFor: int(waitFor.Milliseconds()),
		timeout: int(timeout.Milliseconds()),
	}, nil
}

func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

func (f *FirecrawlFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	waitFor, timeout := f.waitFor, f.timeout
	params := &firecrawl.ScrapeParams{
		Formats: []string{"rawHtml"},
		WaitFor: &waitFor,
		Timeout: &timeout,
		Headers: &map[string]string{
			"User-Agent": desktopUserAgent,
		},
	}

	type result struct {
		doc *firecrawl.FirecrawlDocument
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := f.app.ScrapeURL(url, params)
		done <- result{doc, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return "", fmt.Errorf("firecrawl scrape failed: %w", res.err)
	}
	if res.doc == nil || res.doc.RawHTML == "" {
		return "", fmt.Errorf("firecrawl returned no html for %s", url)
	}
	return res.doc.RawHTML, nil
}

// NewFetcher picks the fetcher by name: "http" (default) or "firecrawl".
func NewFetcher(kind, firecrawlKey, firecrawlURL string, timeout time.Duration) (Fetcher, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "http":
		return NewHTTPFetcher(timeout), nil
	case "firecrawl":
		return NewFirecrawlFetcher(firecrawlKey, firecrawlURL, 5*time.Second, timeout)
	default:
		return nil, fmt.Errorf("unknown fetcher %q (http|firecrawl)", kind)
	}
}
