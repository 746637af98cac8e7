package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// historyFallbackGroup is how many per-product history calls run at once when
// the batch endpoint is unavailable.
const historyFallbackGroup = 10

// APIClient talks to a running `wbest serve`.
type APIClient struct {
	base string
	hc   *http.Client
	log  *Logger
}

// HTTPStatusError is a non-2xx reply, with the API's error body when it had one.
type HTTPStatusError struct {
	Status int
	API    *APIError
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.API != nil {
		if e.API.Detail != nil {
			return fmt.Sprintf("api %d: %s: %v", e.Status, e.API.Message, e.API.Detail)
		}
		return fmt.Sprintf("api %d: %s", e.Status, e.API.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func NewAPIClient(base string, timeout time.Duration, log *Logger) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &APIClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
		var apiErr APIError
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Type != "" {
			se.API = &apiErr
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *APIClient) Health(ctx context.Context) (HealthStatus, error) {
	var h HealthStatus
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &h)
	return h, err
}

func (c *APIClient) CurrentProducts(ctx context.Context, q CurrentQuery) ([]ProductView, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Brand != "" {
		v.Set("brand", q.Brand)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	var out []ProductView
	err := c.do(ctx, http.MethodGet, "/api/products/current", v, nil, &out)
	return out, err
}

func (c *APIClient) CategoryUpdateTimes(ctx context.Context) (map[string]CategoryUpdate, error) {
	var out struct {
		Categories map[string]CategoryUpdate `json:"categories"`
	}
	err := c.do(ctx, http.MethodGet, "/api/categories/update-times", nil, nil, &out)
	return out.Categories, err
}

func (c *APIClient) ProductHistory(ctx context.Context, productID string, days int) ([]HistoryPoint, error) {
	v := url.Values{"days": {strconv.Itoa(days)}}
	var out []HistoryPoint
	err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(productID)+"/history", v, nil, &out)
	return out, err
}

func (c *APIClient) BatchHistory(ctx context.Context, productIDs []string, days int) (map[string][]HistoryPoint, error) {
	var out struct {
		Success bool                      `json:"success"`
		Count   int                       `json:"count"`
		Data    map[string][]HistoryPoint `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/products/batch/history", nil,
		map[string]any{"product_ids": productIDs, "days": days}, &out)
	if err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = map[string][]HistoryPoint{}
	}
	return out.Data, nil
}

// Histories fetches history for every id through the batch endpoint. When that
// fails it falls back to per-product calls in groups of ten; a failed product
// is left out of the result. The bool reports whether the fallback was used.
func (c *APIClient) Histories(ctx context.Context, productIDs []string, days int) (map[string][]HistoryPoint, bool) {
	if len(productIDs) == 0 {
		return map[string][]HistoryPoint{}, false
	}
	hist, err := c.BatchHistory(ctx, productIDs, days)
	if err == nil {
		return hist, false
	}
	c.log.Warnf("batch history failed, falling back to per-product calls: %v", err)

	var mu sync.Mutex
	out := make(map[string][]HistoryPoint, len(productIDs))
	for start := 0; start < len(productIDs); start += historyFallbackGroup {
		group := productIDs[start:min(start+historyFallbackGroup, len(productIDs))]

		var g errgroup.Group
		for _, id := range group {
			g.Go(func() error {
				h, err := c.ProductHistory(ctx, id, days)
				if err != nil {
					c.log.Debugf("history %s: %v", id, err)
					return nil
				}
				mu.Lock()
				out[id] = h
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return out, true
}

// TriggerResponse is the body of POST /api/crawl/trigger.
type TriggerResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
}

func (c *APIClient) TriggerCrawl(ctx context.Context) (TriggerResponse, error) {
	var out TriggerResponse
	err := c.do(ctx, http.MethodPost, "/api/crawl/trigger", nil, nil, &out)
	return out, err
}

func (c *APIClient) CrawlStatus(ctx context.Context) (CrawlStatus, error) {
	var out CrawlStatus
	err := c.do(ctx, http.MethodGet, "/api/crawl/status", nil, nil, &out)
	return out, err
}
