package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type CrawlerConfig struct {
	Categories  []Category
	BaseURL     string
	MaxProducts int
	Concurrency int
	RatePerSec  float64
	Loc         *time.Location
	Log         *Logger
}

// CrawlResult summarises one run.
type CrawlResult struct {
	RunID            string        `json:"run_id"`
	Trigger          string        `json:"trigger"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"-"`
	Scraped          int           `json:"products_scraped"`
	Saved            int           `json:"products_saved"`
	FailedCategories []string      `json:"failed_categories,omitempty"`
	Archive          string        `json:"archive,omitempty"`
	JobID            uint          `json:"job_id"`
	Error            string        `json:"error,omitempty"`
}

// Crawler fetches every category's best-seller page and stores the snapshot.
// Only one run is in flight at a time.
type Crawler struct {
	cfg     CrawlerConfig
	fetch   Fetcher
	store   *Store
	archive *Archiver
	ch      *ClickHouseWriter
	m       *Metrics
	log     *Logger
	limiter *rate.Limiter
	now     func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	cur  *RunContext
	last *CrawlResult
}

func NewCrawler(cfg CrawlerConfig, fetch Fetcher, store *Store, archive *Archiver, ch *ClickHouseWriter, m *Metrics) *Crawler {
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.Loc == nil {
		cfg.Loc = LoadSeoul()
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = defaultMaxProducts
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Crawler{
		cfg:     cfg,
		fetch:   fetch,
		store:   store,
		archive: archive,
		ch:      ch,
		m:       m,
		log:     cfg.Log,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (c *Crawler) Running() bool { return c.running.Load() }

// Current returns the in-flight run, if any.
func (c *Crawler) Current() (RunContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return RunContext{}, false
	}
	return *c.cur, true
}

func (c *Crawler) Last() (CrawlResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return CrawlResult{}, false
	}
	return *c.last, true
}

func (c *Crawler) acquire(trigger string) (RunContext, error) {
	if !c.running.CompareAndSwap(false, true) {
		if c.m != nil {
			c.m.CrawlRejected()
		}
		return RunContext{}, ErrCrawlInProgress
	}
	run := NewRunContext(trigger, c.now())
	c.mu.Lock()
	c.cur = &run
	c.mu.Unlock()
	return run, nil
}

func (c *Crawler) release(res CrawlResult) {
	c.mu.Lock()
	c.cur = nil
	c.last = &res
	c.mu.Unlock()
	c.running.Store(false)
}

// Run crawls synchronously. It returns ErrCrawlInProgress when another run holds the crawler.
func (c *Crawler) Run(ctx context.Context, trigger string) (CrawlResult, error) {
	run, err := c.acquire(trigger)
	if err != nil {
		return CrawlResult{}, err
	}
	return c.execute(ctx, run)
}

// Trigger starts a run in the background and returns at once. ctx bounds the
// run itself, so callers pass a long-lived context rather than a request's.
func (c *Crawler) Trigger(ctx context.Context, trigger string) (RunContext, error) {
	run, err := c.acquire(trigger)
	if err != nil {
		return RunContext{}, err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.execute(ctx, run); err != nil {
			c.log.Warnf("crawl run=%s trigger=%s failed: %v", run.ID, trigger, err)
		}
	}()
	return run, nil
}

// Wait blocks until background runs started by Trigger finish.
func (c *Crawler) Wait() { c.wg.Wait() }

func (c *Crawler) execute(ctx context.Context, run RunContext) (res CrawlResult, err error) {
	started := time.Now()
	res = CrawlResult{RunID: run.ID, Trigger: run.Trigger, StartedAt: run.Start}
	defer func() {
		res.Duration = time.Since(started)
		if err != nil {
			res.Error = err.Error()
		}
		c.release(res)
	}()

	c.log.Infof("crawl start run=%s trigger=%s categories=%d", run.ID, run.Trigger, len(c.cfg.Categories))

	products, failed := c.scrapeAll(ctx, run.Start)
	res.Scraped = len(products)
	res.FailedCategories = failed

	if len(products) == 0 {
		err = ErrNoProducts
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrNoProducts, ctx.Err())
		}
		res.JobID = c.logJob(run, JobFailed, 0, err, time.Since(started))
		c.crawlFailed(time.Since(started))
		return res, err
	}

	saved, err := c.store.SaveSnapshot(ctx, Snapshot{RunID: run.ID, CollectedAt: run.Start, Products: products})
	if err != nil {
		err = fmt.Errorf("save snapshot: %w", err)
		res.JobID = c.logJob(run, JobFailed, 0, err, time.Since(started))
		c.crawlFailed(time.Since(started))
		return res, err
	}
	res.Saved = saved
	res.JobID = c.logJob(run, JobSuccess, saved, nil, time.Since(started))

	if c.archive != nil {
		path, aerr := c.archive.StoreSnapshot(ctx, run.Start, products)
		res.Archive = path
		if aerr != nil {
			c.log.Errorf("archive run=%s: %v", run.ID, aerr)
			if c.m != nil {
				c.m.ArchiveFailed()
			}
		} else if c.m != nil {
			c.m.ArchiveStored()
		}
	}

	if c.ch != nil {
		dropped := 0
		for _, p := range products {
			if !c.ch.TryEnqueue(observationFor(run, p)) {
				dropped++
			}
		}
		if dropped > 0 {
			c.log.Warnf("clickhouse buffer full; dropped %d observations run=%s", dropped, run.ID)
		}
	}

	if c.m != nil {
		c.m.CrawlSucceeded(len(products), saved, time.Since(started))
	}
	c.log.Infof("crawl done run=%s scraped=%d saved=%d failed_categories=%d in %s",
		run.ID, len(products), saved, len(failed), time.Since(started).Round(time.Millisecond))
	return res, nil
}

func (c *Crawler) crawlFailed(d time.Duration) {
	if c.m != nil {
		c.m.CrawlFailed(d)
	}
}

// scrapeAll fetches categories concurrently. A failed category is reported,
// never fatal; results keep the configured category order.
func (c *Crawler) scrapeAll(ctx context.Context, at time.Time) ([]ScrapedProduct, []string) {
	cats := c.cfg.Categories
	results := make([][]ScrapedProduct, len(cats))
	errs := make([]error, len(cats))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, cat := range cats {
		g.Go(func() error {
			results[i], errs[i] = c.scrapeCategory(ctx, cat, at)
			return nil
		})
	}
	_ = g.Wait()

	var (
		all    []ScrapedProduct
		failed []string
	)
	for i, cat := range cats {
		if errs[i] != nil {
			c.log.Errorf("category=%s failed: %v", cat.Key, errs[i])
			failed = append(failed, cat.Key)
			if c.m != nil {
				c.m.CategoryFailed()
			}
			continue
		}
		c.log.Infof("category=%s collected=%d", cat.Key, len(results[i]))
		all = append(all, results[i]...)
	}
	return all, failed
}

func (c *Crawler) scrapeCategory(ctx context.Context, cat Category, at time.Time) ([]ScrapedProduct, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := cat.URL(c.cfg.BaseURL)
	c.log.Debugf("fetch category=%s via=%s url=%s", cat.Key, c.fetch.Name(), url)

	html, err := c.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	products, err := ParseBestPage(html, cat, c.cfg.MaxProducts, at.In(c.cfg.Loc), c.log)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, errors.New("no product items on page")
	}
	return products, nil
}

func (c *Crawler) logJob(run RunContext, status string, saved int, cause error, d time.Duration) uint {
	secs := int(d.Seconds())
	done := dbNow(c.now())
	job := ScrapingLog{
		RunID:                run.ID,
		StartedAt:            run.Start,
		CompletedAt:          &done,
		Status:               status,
		ProductsCollected:    saved,
		ExecutionTimeSeconds: &secs,
	}
	if cause != nil {
		job.ErrorMessage = stringPtr(cause.Error())
	}
	// the job log must survive a cancelled crawl
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := c.store.LogScrapingJob(ctx, job)
	if err != nil {
		c.log.Errorf("log scraping job run=%s: %v", run.ID, err)
		return 0
	}
	return id
}
