package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedNext time.Time

func (f fixedNext) NextRun() time.Time { return time.Time(f) }

func serve(t *testing.T, hs *HTTPServer, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	hs.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHTTPReadEndpoints(t *testing.T) {
	hs := newHTTPServer(HTTPConfig{Store: seedStore(t), M: NewMetrics(time.Now(), "test", "", "")})

	w := serve(t, hs, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("root = %d", w.Code)
	}
	if root := decode[map[string]any](t, w); root["version"] != apiVersion {
		t.Fatalf("root = %v", root)
	}

	w = serve(t, hs, http.MethodGet, "/api/health", nil)
	if h := decode[HealthStatus](t, w); w.Code != http.StatusOK || !h.DatabaseConnected || h.TotalProducts != 4 {
		t.Fatalf("health = %d %+v", w.Code, h)
	}

	w = serve(t, hs, http.MethodGet, "/api/products/current?limit=2", nil)
	if rows := decode[[]ProductView](t, w); w.Code != http.StatusOK || len(rows) != 2 || rows[0].ProductID != "PROD_B" {
		t.Fatalf("current = %d %+v", w.Code, rows)
	}

	w = serve(t, hs, http.MethodGet, "/api/products/PROD_A/history?days=7", nil)
	if hist := decode[[]HistoryPoint](t, w); w.Code != http.StatusOK || len(hist) != 2 || hist[0].Ranking != 2 {
		t.Fatalf("history = %d %+v", w.Code, hist)
	}

	w = serve(t, hs, http.MethodGet, "/api/brands/list", nil)
	if brands := decode[[]string](t, w); len(brands) != 2 {
		t.Fatalf("brands = %v", brands)
	}

	w = serve(t, hs, http.MethodGet, "/api/brands/stats?sort_by=total_value&limit=1", nil)
	if stats := decode[[]BrandStatsView](t, w); w.Code != http.StatusOK || len(stats) != 1 || stats[0].BrandName != "BrandA" {
		t.Fatalf("brand stats = %d %+v", w.Code, stats)
	}

	q := url.Values{"change_type": {"상승"}}
	w = serve(t, hs, http.MethodGet, "/api/ranking-changes?"+q.Encode(), nil)
	if rows := decode[[]RankingChangeView](t, w); w.Code != http.StatusOK || len(rows) != 1 || rows[0].ChangeType != ChangeUp {
		t.Fatalf("ranking changes = %d %+v", w.Code, rows)
	}

	w = serve(t, hs, http.MethodGet, "/api/price-changes", nil)
	if rows := decode[[]PriceChangeView](t, w); len(rows) != 1 || rows[0].PriceDiff != -2000 {
		t.Fatalf("price changes = %+v", rows)
	}

	w = serve(t, hs, http.MethodGet, "/api/jobs/history?limit=1", nil)
	if jobs := decode[[]ScrapingJobView](t, w); len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}

	w = serve(t, hs, http.MethodGet, "/api/categories/update-times", nil)
	cats := decode[struct {
		Status     string                    `json:"status"`
		Categories map[string]CategoryUpdate `json:"categories"`
	}](t, w)
	if cats.Status != "success" || cats.Categories["outer"].ProductCount != 4 {
		t.Fatalf("update times = %+v", cats)
	}

	w = serve(t, hs, http.MethodGet, "/api/trends/brand/BrandA", nil)
	trend := decode[struct {
		BrandName string            `json:"brand_name"`
		Data      []BrandTrendPoint `json:"data"`
	}](t, w)
	if trend.BrandName != "BrandA" || len(trend.Data) != 2 {
		t.Fatalf("brand trend = %+v", trend)
	}

	w = serve(t, hs, http.MethodGet, "/api/trends/product/PROD_A?days=3", nil)
	if pt := decode[ProductTrend](t, w); pt.PeriodDays != 3 || len(pt.Data) != 2 || pt.Data[0].Ranking != 1 {
		t.Fatalf("product trend = %+v", pt)
	}

	w = serve(t, hs, http.MethodGet, "/api/metrics", nil)
	if m := decode[map[string]any](t, w); m["ok"] != true {
		t.Fatalf("metrics = %v", m)
	}
}

func TestHTTPErrors(t *testing.T) {
	hs := newHTTPServer(HTTPConfig{Store: seedStore(t)})

	cases := []struct {
		name   string
		method string
		target string
		body   any
		status int
		typ    ErrorType
	}{
		{"limit zero", http.MethodGet, "/api/products/current?limit=0", nil, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"limit not a number", http.MethodGet, "/api/products/current?limit=ten", nil, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"days out of range", http.MethodGet, "/api/products/PROD_A/history?days=31", nil, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"unknown product", http.MethodGet, "/api/products/PROD_NOPE/history", nil, http.StatusNotFound, ErrorTypeNotFound},
		{"unknown product trend", http.MethodGet, "/api/trends/product/PROD_NOPE", nil, http.StatusNotFound, ErrorTypeNotFound},
		{"bad sort", http.MethodGet, "/api/brands/stats?sort_by=name", nil, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"bad change type", http.MethodGet, "/api/ranking-changes?change_type=sideways", nil, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"batch without ids", http.MethodPost, "/api/products/batch/history", map[string]any{"days": 2}, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"batch bad days", http.MethodPost, "/api/products/batch/history", map[string]any{"product_ids": []string{"PROD_A"}, "days": 0}, http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"batch bad json", http.MethodPost, "/api/products/batch/history", "{", http.StatusUnprocessableEntity, ErrorTypeValidation},
		{"brand window without clickhouse", http.MethodGet, "/api/brands/window", nil, http.StatusServiceUnavailable, ErrorTypeExternal},
		{"sql without clickhouse", http.MethodPost, "/api/sql/query", map[string]any{"sql": "SELECT 1"}, http.StatusServiceUnavailable, ErrorTypeExternal},
		{"trigger without crawler", http.MethodPost, "/api/crawl/trigger", nil, http.StatusInternalServerError, ErrorTypeInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := serve(t, hs, c.method, c.target, c.body)
			if w.Code != c.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, c.status, w.Body.String())
			}
			if e := decode[APIError](t, w); e.Type != c.typ {
				t.Fatalf("type = %q, want %q", e.Type, c.typ)
			}
		})
	}

	w := serve(t, hs, http.MethodGet, "/api/nothing-here", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["error"] != "Not Found" || body["path"] != "/api/nothing-here" {
		t.Fatalf("unknown route body = %v", body)
	}
}

func TestHTTPBatchHistory(t *testing.T) {
	hs := newHTTPServer(HTTPConfig{Store: seedStore(t)})

	w := serve(t, hs, http.MethodPost, "/api/products/batch/history", map[string]any{
		"product_ids": []string{"PROD_A", "PROD_ZZZ"},
		"days":        7,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Success bool                      `json:"success"`
		Count   int                       `json:"count"`
		Data    map[string][]HistoryPoint `json:"data"`
	}](t, w)
	if !got.Success || got.Count != 2 || len(got.Data["PROD_A"]) != 2 {
		t.Fatalf("batch = %+v", got)
	}
	if v, ok := got.Data["PROD_ZZZ"]; !ok || v == nil || len(v) != 0 {
		t.Fatalf("unknown id should be an empty list, got %v", v)
	}
}

func TestHTTPCrawlTriggerAndStatus(t *testing.T) {
	gate := make(chan struct{})
	c, s := newTestCrawler(t, &pageFetcher{gate: gate, fail: []string{"10101206"}}, nil)
	next := time.Date(2024, 5, 1, 7, 16, 0, 0, time.UTC)
	hs := newHTTPServer(HTTPConfig{Store: s, Crawler: c, Scheduler: fixedNext(next), BaseCtx: context.Background()})

	w := serve(t, hs, http.MethodPost, "/api/crawl/trigger", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d %s", w.Code, w.Body.String())
	}
	tr := decode[TriggerResponse](t, w)
	if tr.Status != "started" || tr.RunID == "" {
		t.Fatalf("trigger body = %+v", tr)
	}

	w = serve(t, hs, http.MethodPost, "/api/crawl/trigger", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second trigger = %d", w.Code)
	}

	w = serve(t, hs, http.MethodGet, "/api/crawl/status", nil)
	st := decode[CrawlStatus](t, w)
	if !st.Running || st.NextScheduled == nil || !st.NextScheduled.Equal(next) {
		t.Fatalf("status while running = %+v", st)
	}

	close(gate)
	c.Wait()

	w = serve(t, hs, http.MethodGet, "/api/crawl/status", nil)
	st = decode[CrawlStatus](t, w)
	if st.Running || st.TodayProducts != 3 || st.TotalCollections != 1 {
		t.Fatalf("status after run = %+v", st)
	}
}

func TestCORSPreflight(t *testing.T) {
	hs := newHTTPServer(HTTPConfig{Store: newTestStore(t)})

	req := httptest.NewRequest(http.MethodOptions, "/api/products/current", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	hs.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
	h := w.Header()
	if h.Get("Access-Control-Allow-Origin") != "http://localhost:3000" || h.Get("Access-Control-Allow-Headers") != "content-type" {
		t.Fatalf("cors headers = %v", h)
	}
}
