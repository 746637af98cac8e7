package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// pageFetcher serves the best-page fixture, failing any URL that contains a
// listed sub category. A non-nil gate blocks every fetch until it is closed.
type pageFetcher struct {
	fail []string
	gate chan struct{}
}

func (f *pageFetcher) Name() string { return "fixture" }

func (f *pageFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	for _, sub := range f.fail {
		if strings.Contains(url, sub) {
			return "", errors.New("status 503")
		}
	}
	return bestPageFixture, nil
}

var testCategories = []Category{
	{Key: "outer", Name: "아우터", DisplayCategory: "10101", DisplaySubCategory: "10101201"},
	{Key: "knit", Name: "니트", DisplayCategory: "10101", DisplaySubCategory: "10101206"},
}

func newTestCrawler(t *testing.T, f Fetcher, m *Metrics) (*Crawler, *Store) {
	t.Helper()
	s := newTestStore(t)
	c := NewCrawler(CrawlerConfig{
		Categories:  testCategories,
		BaseURL:     "http://fixture.local",
		Concurrency: 2,
	}, f, s, nil, nil, m)
	c.now = func() time.Time { return fixedNow }
	return c, s
}

func TestCrawlerRunSkipsFailedCategory(t *testing.T) {
	m := NewMetrics(time.Now(), "test", "", "")
	c, s := newTestCrawler(t, &pageFetcher{fail: []string{"10101206"}}, m)

	res, err := c.Run(context.Background(), "cli")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scraped != 3 || res.Saved != 3 {
		t.Fatalf("scraped=%d saved=%d", res.Scraped, res.Saved)
	}
	if len(res.FailedCategories) != 1 || res.FailedCategories[0] != "knit" {
		t.Fatalf("failed categories = %v", res.FailedCategories)
	}
	if res.JobID == 0 || res.RunID == "" || res.Trigger != "cli" {
		t.Fatalf("result = %+v", res)
	}

	ctx := context.Background()
	cur, err := s.CurrentProducts(ctx, CurrentQuery{Category: "outer"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cur) != 3 || cur[0].ProductID != "PROD_307602440" || !cur[0].CollectedAt.Equal(fixedNow) {
		t.Fatalf("stored snapshot = %+v", cur)
	}

	jobs, err := s.JobHistory(ctx, 5)
	if err != nil || len(jobs) != 1 || jobs[0].Status != JobSuccess || *jobs[0].ProductsCollected != 3 {
		t.Fatalf("jobs = %+v err=%v", jobs, err)
	}

	crawl := m.Snapshot()["crawl"].(map[string]any)
	if crawl["success"] != int64(1) || crawl["category_failures"] != int64(1) {
		t.Fatalf("metrics = %v", crawl)
	}

	last, ok := c.Last()
	if !ok || last.RunID != res.RunID {
		t.Fatalf("last = %+v", last)
	}
}

func TestCrawlerRunNoProducts(t *testing.T) {
	c, s := newTestCrawler(t, &pageFetcher{fail: []string{"10101"}}, nil)

	_, err := c.Run(context.Background(), "cli")
	if !errors.Is(err, ErrNoProducts) {
		t.Fatalf("err = %v", err)
	}

	st, err := s.DatabaseStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalScrapingJobs != 1 || st.SuccessfulJobs != 0 || st.TotalDataPoints != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if last, ok := c.Last(); !ok || last.Error == "" {
		t.Fatalf("failed run should be recorded: %+v", last)
	}
}

func TestCrawlerSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	m := NewMetrics(time.Now(), "test", "", "")
	c, _ := newTestCrawler(t, &pageFetcher{gate: gate, fail: []string{"10101206"}}, m)

	run, err := c.Trigger(context.Background(), "api")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !c.Running() {
		t.Fatalf("crawler should be running")
	}
	if cur, ok := c.Current(); !ok || cur.ID != run.ID {
		t.Fatalf("current = %+v", cur)
	}

	if _, err := c.Run(context.Background(), "cli"); !errors.Is(err, ErrCrawlInProgress) {
		t.Fatalf("second Run err = %v", err)
	}
	if _, err := c.Trigger(context.Background(), "api"); !errors.Is(err, ErrCrawlInProgress) {
		t.Fatalf("second Trigger err = %v", err)
	}

	close(gate)
	c.Wait()

	if c.Running() {
		t.Fatalf("crawler still running after Wait")
	}
	last, ok := c.Last()
	if !ok || last.RunID != run.ID || last.Saved != 3 {
		t.Fatalf("last = %+v", last)
	}
	if busy := m.Snapshot()["crawl"].(map[string]any)["rejected_busy"]; busy != int64(2) {
		t.Fatalf("rejected_busy = %v", busy)
	}

	// the crawler is free again
	if _, err := c.Run(context.Background(), "cli"); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}
