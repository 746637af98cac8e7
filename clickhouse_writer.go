package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ObservationRecord is one product sighting mirrored into ClickHouse.
type ObservationRecord struct {
	RunID         string
	CollectedAt   time.Time
	ProductID     string
	BrandName     string
	CategoryKey   string
	Ranking       int
	OriginalPrice *int
	SalePrice     *int
	DiscountRate  *float64
}

func observationFor(run RunContext, p ScrapedProduct) ObservationRecord {
	return ObservationRecord{
		RunID:         run.ID,
		CollectedAt:   run.Start,
		ProductID:     p.ProductID,
		BrandName:     p.BrandName,
		CategoryKey:   p.CategoryKey,
		Ranking:       p.Rank,
		OriginalPrice: p.OriginalPrice,
		SalePrice:     p.SalePrice,
		DiscountRate:  p.DiscountRate,
	}
}

type ClickHouseWriterConfig struct {
	BatchSize  int
	FlushEvery time.Duration
	BufferSize int
}

// observationBatcher is the slice of clickhouse.Conn the writer needs.
type observationBatcher interface {
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
}

type ClickHouseWriter struct {
	cfg  ClickHouseWriterConfig
	conn observationBatcher
	log  *Logger
	m    *Metrics

	in chan ObservationRecord
}

func NewClickHouseWriter(cfg ClickHouseWriterConfig, conn observationBatcher, m *Metrics, log *Logger) *ClickHouseWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 20_000
	}
	return &ClickHouseWriter{
		cfg:  cfg,
		conn: conn,
		log:  log,
		m:    m,
		in:   make(chan ObservationRecord, cfg.BufferSize),
	}
}

// TryEnqueue never blocks the crawl; a full buffer counts as a drop.
func (w *ClickHouseWriter) TryEnqueue(rec ObservationRecord) bool {
	if w == nil {
		return false
	}
	select {
	case w.in <- rec:
		return true
	default:
		w.m.CHDropped(1)
		return false
	}
}

// Run batches queued observations until ctx is done, then drains the queue
// and flushes what is left under a fresh deadline.
func (w *ClickHouseWriter) Run(ctx context.Context) {
	tick := time.NewTicker(w.cfg.FlushEvery)
	defer tick.Stop()

	pending := make([]ObservationRecord, 0, w.cfg.BatchSize)
	take := func() []ObservationRecord {
		out := pending
		pending = make([]ObservationRecord, 0, w.cfg.BatchSize)
		return out
	}

	for {
		select {
		case rec := <-w.in:
			pending = append(pending, rec)
			if len(pending) >= w.cfg.BatchSize {
				w.flush(ctx, take())
			}
		case <-tick.C:
			w.flush(ctx, take())
		case <-ctx.Done():
			w.shutdown(pending)
			return
		}
	}
}

func (w *ClickHouseWriter) shutdown(pending []ObservationRecord) {
	for drained := false; !drained; {
		select {
		case rec := <-w.in:
			pending = append(pending, rec)
		default:
			drained = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(pending) > 0 {
		n := min(len(pending), w.cfg.BatchSize)
		w.flush(ctx, pending[:n])
		pending = pending[n:]
	}
}

const chMaxAttempts = 3

// flush retries with doubling backoff (100ms, capped at 1.5s). Rows that still
// fail are counted as dropped.
func (w *ClickHouseWriter) flush(ctx context.Context, buf []ObservationRecord) {
	if len(buf) == 0 {
		return
	}
	var lastErr error
	for attempt := 0; attempt < chMaxAttempts && ctx.Err() == nil; attempt++ {
		insCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := w.insertBatch(insCtx, buf)
		cancel()
		if err == nil {
			w.m.CHInserted(int64(len(buf)), time.Since(start))
			return
		}
		lastErr = err
		w.m.CHInsertError()

		backoff := min(time.Duration(100<<attempt)*time.Millisecond, 1500*time.Millisecond)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	w.m.CHDropped(int64(len(buf)))
	w.log.Errorf("clickhouse insert failed, dropped %d observations: %v", len(buf), lastErr)
}

func (w *ClickHouseWriter) insertBatch(ctx context.Context, buf []ObservationRecord) error {
	if w.conn == nil {
		return fmt.Errorf("no clickhouse conn")
	}

	const insertSQL = `
INSERT INTO ranking_observations
(run_id, collected_at, product_id, brand_name, category_key, ranking, original_price, sale_price, discount_rate)
`

	b, err := w.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return err
	}

	for _, rec := range buf {
		if err := b.Append(
			rec.RunID,
			rec.CollectedAt.UTC(),
			rec.ProductID,
			rec.BrandName,
			rec.CategoryKey,
			uint16(rec.Ranking),
			int64Ptr(rec.OriginalPrice),
			int64Ptr(rec.SalePrice),
			rec.DiscountRate,
		); err != nil {
			return err
		}
	}

	return b.Send()
}

func int64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
