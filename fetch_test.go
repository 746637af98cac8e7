package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFirecrawlFetcherSendsRenderOptions(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" || r.Header.Get("Authorization") != "Bearer fc-test" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"rawHtml":"<html>best</html>"}}`))
	}))
	t.Cleanup(srv.Close)

	f, err := NewFirecrawlFetcher("fc-test", srv.URL, 2*time.Second, 12*time.Second)
	if err != nil {
		t.Fatalf("NewFirecrawlFetcher: %v", err)
	}
	if f.app.Client.Timeout != 24*time.Second {
		t.Fatalf("client timeout = %v", f.app.Client.Timeout)
	}

	html, err := f.Fetch(context.Background(), "https://display.wconcept.co.kr/rn/best?displayCategoryType=10101201")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if html != "<html>best</html>" {
		t.Fatalf("html = %q", html)
	}
	if body["timeout"] != float64(12000) || body["waitFor"] != float64(2000) {
		t.Fatalf("scrape body = %v", body)
	}
}

func TestFirecrawlFetcherReturnsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f, err := NewFirecrawlFetcher("fc-test", srv.URL, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("NewFirecrawlFetcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = f.Fetch(ctx, "https://display.wconcept.co.kr/rn/best")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Fatalf("Fetch blocked %v after cancel", d)
	}
}

func TestNewFetcherKinds(t *testing.T) {
	f, err := NewFetcher("", "", "", 0)
	if err != nil || f.Name() != "http" {
		t.Fatalf("default fetcher = %v, %v", f, err)
	}
	if _, err := NewFetcher("firecrawl", " ", "", time.Second); err == nil {
		t.Fatalf("firecrawl without key accepted")
	}
	if _, err := NewFetcher("curl", "", "", time.Second); err == nil {
		t.Fatalf("unknown fetcher accepted")
	}
}
