package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	start time.Time

	version   string
	commit    string
	buildDate string

	crawlOK      atomic.Int64
	crawlFailed  atomic.Int64
	crawlBusy    atomic.Int64
	lastCrawlMs  atomic.Int64
	lastCrawlDur atomic.Int64

	productsScraped  atomic.Int64
	productsSaved    atomic.Int64
	categoryFailures atomic.Int64

	archiveOK     atomic.Int64
	archiveFailed atomic.Int64

	httpRequests atomic.Int64
	httpErrors   atomic.Int64

	// ClickHouse writer metrics
	chInsertedRows        atomic.Int64
	chInsertErrors        atomic.Int64
	chDroppedDB           atomic.Int64
	chLastInsertLatencyMs atomic.Int64
	chLastInsertAtMs      atomic.Int64

	mu      sync.Mutex
	samples []rateSample // appended each second
}

type rateSample struct {
	at       time.Time
	requests int64
}

func NewMetrics(start time.Time, version, commit, buildDate string) *Metrics {
	return &Metrics{
		start:     start,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		samples:   make([]rateSample, 0, 16),
	}
}

func (m *Metrics) CrawlSucceeded(scraped, saved int, dur time.Duration) {
	m.crawlOK.Add(1)
	m.productsScraped.Add(int64(scraped))
	m.productsSaved.Add(int64(saved))
	m.lastCrawlMs.Store(time.Now().UnixMilli())
	m.lastCrawlDur.Store(dur.Milliseconds())
}

func (m *Metrics) CrawlFailed(dur time.Duration) {
	m.crawlFailed.Add(1)
	m.lastCrawlMs.Store(time.Now().UnixMilli())
	m.lastCrawlDur.Store(dur.Milliseconds())
}

func (m *Metrics) CrawlRejected()   { m.crawlBusy.Add(1) }
func (m *Metrics) CategoryFailed()  { m.categoryFailures.Add(1) }
func (m *Metrics) ArchiveStored()   { m.archiveOK.Add(1) }
func (m *Metrics) ArchiveFailed()   { m.archiveFailed.Add(1) }
func (m *Metrics) IncRequest()      { m.httpRequests.Add(1) }
func (m *Metrics) IncRequestError() { m.httpErrors.Add(1) }

func (m *Metrics) CHInserted(n int64, latency time.Duration) {
	m.chInsertedRows.Add(n)
	m.chLastInsertLatencyMs.Store(latency.Milliseconds())
	m.chLastInsertAtMs.Store(time.Now().UnixMilli())
}
func (m *Metrics) CHInsertError() { m.chInsertErrors.Add(1) }
func (m *Metrics) CHDropped(n int64) {
	m.chDroppedDB.Add(n)
}

func (m *Metrics) Run(ctx context.Context) {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.sample(now)
		}
	}
}

func (m *Metrics) sample(now time.Time) {
	req := m.httpRequests.Load()

	m.mu.Lock()
	m.samples = append(m.samples, rateSample{at: now, requests: req})
	// keep last ~30s
	if len(m.samples) > 40 {
		m.samples = m.samples[len(m.samples)-40:]
	}
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() map[string]any {
	uptime := time.Since(m.start)
	r1, r5 := m.requestRates()

	return map[string]any{
		"ok": true,

		"uptime_ms": uptime.Milliseconds(),
		"uptime":    uptime.String(),

		"build": map[string]any{
			"version":    m.version,
			"commit":     m.commit,
			"build_date": m.buildDate,
		},

		"crawl": map[string]any{
			"success":           m.crawlOK.Load(),
			"failed":            m.crawlFailed.Load(),
			"rejected_busy":     m.crawlBusy.Load(),
			"last_run_at_ms":    m.lastCrawlMs.Load(),
			"last_duration_ms":  m.lastCrawlDur.Load(),
			"products_scraped":  m.productsScraped.Load(),
			"products_saved":    m.productsSaved.Load(),
			"category_failures": m.categoryFailures.Load(),
			"archives_stored":   m.archiveOK.Load(),
			"archives_failed":   m.archiveFailed.Load(),
		},

		"http": map[string]any{
			"requests_total": m.httpRequests.Load(),
			"errors_total":   m.httpErrors.Load(),
			"requests_per_s": map[string]any{
				"1s": r1,
				"5s": r5,
			},
		},

		"clickhouse": map[string]any{
			"inserted_rows_total":    m.chInsertedRows.Load(),
			"insert_errors_total":    m.chInsertErrors.Load(),
			"dropped_db_total":       m.chDroppedDB.Load(),
			"last_insert_latency_ms": m.chLastInsertLatencyMs.Load(),
			"last_insert_at_unix_ms": m.chLastInsertAtMs.Load(),
		},
	}
}

func (m *Metrics) requestRates() (rate1 float64, rate5 float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) < 2 {
		return 0, 0
	}
	latest := m.samples[len(m.samples)-1]

	prev := m.samples[len(m.samples)-2]
	dt := latest.at.Sub(prev.at).Seconds()
	if dt > 0 {
		rate1 = float64(latest.requests-prev.requests) / dt
	}

	// 5s rate: find sample >= 5s ago
	var older *rateSample
	for i := len(m.samples) - 1; i >= 0; i-- {
		if latest.at.Sub(m.samples[i].at) >= 5*time.Second {
			older = &m.samples[i]
			break
		}
	}
	if older != nil {
		dt5 := latest.at.Sub(older.at).Seconds()
		if dt5 > 0 {
			rate5 = float64(latest.requests-older.requests) / dt5
		}
	}
	return
}
