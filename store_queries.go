package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	maxCurrentLimit = 10000
	latestAllLimit  = 200
)

func (s *Store) scalar(ctx context.Context, dest any, q string, args ...any) error {
	row := s.db.WithContext(ctx).Raw(q, args...).Row()
	if row == nil {
		return errors.New("query returned no row")
	}
	return row.Scan(dest)
}

func (s *Store) daysAgo(days int) time.Time {
	return dbNow(s.now().Add(-time.Duration(days) * 24 * time.Hour))
}

func (s *Store) hoursAgo(hours int) time.Time {
	return dbNow(s.now().Add(-time.Duration(hours) * time.Hour))
}

// Health never fails: a broken database shows up as database_connected=false.
func (s *Store) Health(ctx context.Context) HealthStatus {
	h := HealthStatus{Status: "healthy", APIVersion: apiVersion}

	var (
		products, brands, collections int64
		latest                        dbTime
	)
	err := s.scalar(ctx, &products, `SELECT COUNT(DISTINCT product_id) FROM products`)
	if err == nil {
		err = s.scalar(ctx, &brands, `SELECT COUNT(DISTINCT brand_name) FROM products`)
	}
	if err == nil {
		err = s.scalar(ctx, &latest, `SELECT MAX(collected_at) FROM ranking_history`)
	}
	if err == nil {
		err = s.scalar(ctx, &collections, `SELECT COUNT(DISTINCT collected_at) FROM ranking_history`)
	}
	if err != nil {
		s.log.Warnf("health query failed: %v", err)
		return h
	}

	h.DatabaseConnected = true
	h.TotalProducts = products
	h.TotalBrands = brands
	h.LatestCollection = latest.Ptr()
	h.TotalCollections = collections
	return h
}

func (s *Store) CategoryUpdateTimes(ctx context.Context) (map[string]CategoryUpdate, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
SELECT
  p.category_key,
  p.category,
  MAX(rh.collected_at) AS latest_collection,
  COUNT(DISTINCT rh.product_id) AS product_count
FROM products p
JOIN ranking_history rh ON p.product_id = rh.product_id
WHERE p.category_key IS NOT NULL
GROUP BY p.category_key, p.category
ORDER BY p.category_key`).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]CategoryUpdate)
	for rows.Next() {
		var (
			key    string
			name   *string
			latest dbTime
			count  int64
		)
		if err := rows.Scan(&key, &name, &latest, &count); err != nil {
			return nil, err
		}
		out[key] = CategoryUpdate{
			CategoryKey:      key,
			CategoryName:     name,
			LatestCollection: latest.Ptr(),
			ProductCount:     count,
		}
	}
	return out, rows.Err()
}

type CurrentQuery struct {
	Limit    int
	Brand    string
	Category string
}

// CurrentProducts returns the newest snapshot. With a category it is that
// category's latest collection, otherwise every category's own latest one.
func (s *Store) CurrentProducts(ctx context.Context, q CurrentQuery) ([]ProductView, error) {
	if q.Limit <= 0 || q.Limit > maxCurrentLimit {
		q.Limit = maxCurrentLimit
	}

	const cols = `
SELECT
  p.product_id,
  p.brand_name,
  p.product_name,
  p.category,
  p.category_key,
  p.product_url,
  COALESCE(rh.sale_price, 0) AS price,
  rh.discount_rate,
  p.image_url,
  rh.ranking,
  rh.collected_at
FROM products p
JOIN ranking_history rh ON p.product_id = rh.product_id`

	var (
		sql  string
		args []any
	)
	if q.Category != "" {
		var latest dbTime
		if err := s.scalar(ctx, &latest, `
SELECT MAX(rh.collected_at)
FROM ranking_history rh
JOIN products p ON rh.product_id = p.product_id
WHERE p.category_key = ?`, q.Category); err != nil {
			return nil, err
		}
		if !latest.Valid {
			return []ProductView{}, nil
		}
		sql = cols + `
WHERE rh.collected_at = ? AND p.category_key = ?`
		args = append(args, latest.Time, q.Category)
	} else {
		sql = cols + `
JOIN (
  SELECT p2.category_key, MAX(rh2.collected_at) AS max_time
  FROM products p2
  JOIN ranking_history rh2 ON p2.product_id = rh2.product_id
  GROUP BY p2.category_key
) latest ON p.category_key = latest.category_key AND rh.collected_at = latest.max_time
WHERE 1=1`
	}
	if q.Brand != "" {
		sql += `
  AND p.brand_name = ?`
		args = append(args, q.Brand)
	}
	sql += `
ORDER BY rh.ranking ASC
LIMIT ?`
	args = append(args, q.Limit)

	out := make([]ProductView, 0, 256)
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CollectedAt = out[i].CollectedAt.UTC()
	}
	return out, nil
}

func (s *Store) BrandsList(ctx context.Context) ([]string, error) {
	out := make([]string, 0, 256)
	err := s.db.WithContext(ctx).Raw(`
SELECT DISTINCT brand_name
FROM products
WHERE brand_name IS NOT NULL AND brand_name != ? AND brand_name != ''
ORDER BY brand_name`, unknownValue).Scan(&out).Error
	return out, err
}

var brandSortClauses = map[string]string{
	"product_count": "product_count DESC",
	"total_value":   "(avg_price * product_count) DESC",
	"avg_price":     "avg_price DESC",
}

func validBrandSort(sortBy string) bool {
	_, ok := brandSortClauses[sortBy]
	return ok
}

// BrandStats reads the newest brand-stats snapshot.
func (s *Store) BrandStats(ctx context.Context, sortBy string, limit int) ([]BrandStatsView, error) {
	var latest dbTime
	if err := s.scalar(ctx, &latest, `SELECT MAX(collected_at) FROM brand_stats_history`); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return []BrandStatsView{}, nil
	}

	order, ok := brandSortClauses[sortBy]
	if !ok {
		order = brandSortClauses["product_count"]
	}

	var rows []struct {
		BrandName       string
		ProductCount    int
		AvgRanking      *float64
		AvgPrice        *float64
		AvgDiscountRate *float64
		CollectedAt     time.Time
	}
	err := s.db.WithContext(ctx).Raw(`
SELECT brand_name, product_count, avg_ranking, avg_price, avg_discount_rate, collected_at
FROM brand_stats_history
WHERE collected_at = ?
ORDER BY `+order+`, brand_name ASC
LIMIT ?`, latest.Time, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]BrandStatsView, 0, len(rows))
	for _, r := range rows {
		v := BrandStatsView{
			BrandName:       r.BrandName,
			ProductCount:    r.ProductCount,
			AvgDiscountRate: r.AvgDiscountRate,
			LastUpdated:     r.CollectedAt.UTC(),
		}
		if r.AvgPrice != nil {
			v.AvgPrice = *r.AvgPrice
			v.TotalValue = int64(*r.AvgPrice * float64(r.ProductCount))
		}
		if r.AvgRanking != nil {
			v.MinRanking = int(*r.AvgRanking)
			v.MaxRanking = int(*r.AvgRanking)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) ProductExists(ctx context.Context, productID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Product{}).Where("product_id = ?", productID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ProductHistory is newest first. Unknown products yield ErrNotFound.
func (s *Store) ProductHistory(ctx context.Context, productID string, days int) ([]HistoryPoint, error) {
	ok, err := s.ProductExists(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return s.history(ctx, productID, days, "DESC")
}

func (s *Store) history(ctx context.Context, productID string, days int, dir string) ([]HistoryPoint, error) {
	out := make([]HistoryPoint, 0, 64)
	err := s.db.WithContext(ctx).Raw(`
SELECT collected_at, ranking, COALESCE(sale_price, 0) AS price, discount_rate
FROM ranking_history
WHERE product_id = ? AND collected_at >= ?
ORDER BY collected_at `+dir, productID, s.daysAgo(days)).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CollectedAt = out[i].CollectedAt.UTC()
	}
	return out, nil
}

// BatchHistory returns newest-first history for every requested id; ids with no
// observations map to an empty slice.
func (s *Store) BatchHistory(ctx context.Context, productIDs []string, days int) (map[string][]HistoryPoint, error) {
	out := make(map[string][]HistoryPoint, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ProductID    string
		CollectedAt  time.Time
		Ranking      int
		Price        int
		DiscountRate *float64
	}
	err := s.db.WithContext(ctx).Raw(`
SELECT product_id, collected_at, ranking, COALESCE(sale_price, 0) AS price, discount_rate
FROM ranking_history
WHERE product_id IN ? AND collected_at >= ?
ORDER BY product_id, collected_at DESC`, productIDs, s.daysAgo(days)).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		out[r.ProductID] = append(out[r.ProductID], HistoryPoint{
			CollectedAt:  r.CollectedAt.UTC(),
			Ranking:      r.Ranking,
			Price:        r.Price,
			DiscountRate: r.DiscountRate,
		})
	}
	for _, id := range productIDs {
		if _, ok := out[id]; !ok {
			out[id] = []HistoryPoint{}
		}
	}
	return out, nil
}

func (s *Store) PriceChanges(ctx context.Context, days, limit int) ([]PriceChangeView, error) {
	out := make([]PriceChangeView, 0, limit)
	err := s.db.WithContext(ctx).Raw(`
SELECT
  pc.product_id,
  p.brand_name,
  p.product_name,
  pc.previous_sale_price AS old_price,
  pc.current_sale_price AS new_price,
  pc.price_change_amount AS price_diff,
  pc.price_change_percentage AS price_diff_percent,
  pc.changed_at
FROM price_changes pc
JOIN products p ON pc.product_id = p.product_id
WHERE pc.changed_at >= ?
ORDER BY pc.changed_at DESC, pc.id DESC
LIMIT ?`, s.daysAgo(days), limit).Scan(&out).Error
	return utcPriceChanges(out), err
}

// RankingChanges filters on the normalized change type (up/down) when given.
func (s *Store) RankingChanges(ctx context.Context, days int, changeType string, limit int) ([]RankingChangeView, error) {
	sql := `
SELECT
  rc.product_id,
  p.brand_name,
  p.product_name,
  rc.previous_ranking AS old_ranking,
  rc.current_ranking AS new_ranking,
  rc.change_amount AS ranking_diff,
  rc.change_type,
  rc.changed_at
FROM ranking_changes rc
JOIN products p ON rc.product_id = p.product_id
WHERE rc.changed_at >= ?`
	args := []any{s.daysAgo(days)}
	if changeType != "" {
		sql += `
  AND rc.change_type = ?`
		args = append(args, changeType)
	}
	sql += `
ORDER BY rc.changed_at DESC, rc.id DESC
LIMIT ?`
	args = append(args, limit)

	out := make([]RankingChangeView, 0, limit)
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ChangedAt = out[i].ChangedAt.UTC()
	}
	return out, nil
}

func (s *Store) JobHistory(ctx context.Context, limit int) ([]ScrapingJobView, error) {
	var logs []ScrapingLog
	if err := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	out := make([]ScrapingJobView, 0, len(logs))
	for _, l := range logs {
		v := ScrapingJobView{
			JobID:        l.ID,
			StartedAt:    l.StartedAt.UTC(),
			Status:       l.Status,
			ErrorMessage: l.ErrorMessage,
		}
		if l.CompletedAt != nil {
			t := l.CompletedAt.UTC()
			v.CompletedAt = &t
		}
		n := l.ProductsCollected
		v.ProductsCollected = &n
		if l.ExecutionTimeSeconds != nil {
			v.DurationSeconds = floatPtr(float64(*l.ExecutionTimeSeconds))
		}
		out = append(out, v)
	}
	return out, nil
}

// BrandTrend is oldest first.
func (s *Store) BrandTrend(ctx context.Context, brand string, days int) ([]BrandTrendPoint, error) {
	out := make([]BrandTrendPoint, 0, 64)
	err := s.db.WithContext(ctx).Raw(`
SELECT collected_at, product_count, avg_ranking, avg_price, avg_discount_rate
FROM brand_stats_history
WHERE brand_name = ? AND collected_at >= ?
ORDER BY collected_at ASC`, brand, s.daysAgo(days)).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CollectedAt = out[i].CollectedAt.UTC()
	}
	return out, nil
}

// ProductTrend is oldest first. Unknown products yield ErrNotFound.
func (s *Store) ProductTrend(ctx context.Context, productID string, days int) (ProductTrend, error) {
	var p Product
	res := s.db.WithContext(ctx).Where("product_id = ?", productID).Limit(1).Find(&p)
	if res.Error != nil {
		return ProductTrend{}, res.Error
	}
	if res.RowsAffected == 0 {
		return ProductTrend{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}

	data, err := s.history(ctx, productID, days, "ASC")
	if err != nil {
		return ProductTrend{}, err
	}
	return ProductTrend{
		ProductID:   productID,
		ProductName: p.ProductName,
		BrandName:   p.BrandName,
		PeriodDays:  days,
		Data:        data,
	}, nil
}

// CrawlStatus summarises today's collections, where today is the local
// calendar day of the store's location.
func (s *Store) CrawlStatus(ctx context.Context) (CrawlStatus, error) {
	start, end := DayBounds(s.now(), s.loc)

	var (
		st          CrawlStatus
		lastToday   dbTime
		latest      dbTime
		products    int64
		records     int64
		collections int64
	)
	if err := s.scalar(ctx, &lastToday, `
SELECT MAX(collected_at) FROM ranking_history WHERE collected_at >= ? AND collected_at < ?`,
		dbNow(start), dbNow(end)); err != nil {
		return st, err
	}
	if err := s.scalar(ctx, &products, `
SELECT COUNT(DISTINCT product_id) FROM ranking_history WHERE collected_at >= ? AND collected_at < ?`,
		dbNow(start), dbNow(end)); err != nil {
		return st, err
	}
	if err := s.scalar(ctx, &records, `
SELECT COUNT(*) FROM ranking_history WHERE collected_at >= ? AND collected_at < ?`,
		dbNow(start), dbNow(end)); err != nil {
		return st, err
	}
	if err := s.scalar(ctx, &latest, `SELECT MAX(collected_at) FROM ranking_history`); err != nil {
		return st, err
	}
	if err := s.scalar(ctx, &collections, `SELECT COUNT(DISTINCT collected_at) FROM ranking_history`); err != nil {
		return st, err
	}

	st.LastCrawlToday = lastToday.Ptr()
	st.TodayProducts = products
	st.TodayRecords = records
	st.LatestCollection = latest.Ptr()
	st.TotalCollections = collections
	return st, nil
}

func (s *Store) DatabaseStats(ctx context.Context) (DatabaseStats, error) {
	var (
		st          DatabaseStats
		first, last dbTime
	)
	steps := []struct {
		dest any
		q    string
		args []any
	}{
		{&st.TotalProducts, `SELECT COUNT(*) FROM products`, nil},
		{&st.TotalBrands, `SELECT COUNT(*) FROM brands`, nil},
		{&st.TotalDataPoints, `SELECT COUNT(*) FROM ranking_history`, nil},
		{&first, `SELECT MIN(collected_at) FROM ranking_history`, nil},
		{&last, `SELECT MAX(collected_at) FROM ranking_history`, nil},
		{&st.TotalScrapingJobs, `SELECT COUNT(*) FROM scraping_logs`, nil},
		{&st.SuccessfulJobs, `SELECT COUNT(*) FROM scraping_logs WHERE status = ?`, []any{JobSuccess}},
	}
	for _, step := range steps {
		if err := s.scalar(ctx, step.dest, step.q, step.args...); err != nil {
			return st, err
		}
	}
	st.FirstCollection = first.Ptr()
	st.LastCollection = last.Ptr()
	return st, nil
}

// LatestRankings joins the single newest collection across all categories.
func (s *Store) LatestRankings(ctx context.Context, limit int) ([]LatestRanking, error) {
	if limit <= 0 {
		limit = latestAllLimit
	}
	var latest dbTime
	if err := s.scalar(ctx, &latest, `SELECT MAX(collected_at) FROM ranking_history`); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return []LatestRanking{}, nil
	}

	out := make([]LatestRanking, 0, limit)
	err := s.db.WithContext(ctx).Raw(`
SELECT
  rh.ranking,
  p.product_id,
  p.product_name,
  p.brand_name,
  rh.original_price,
  rh.sale_price,
  rh.discount_rate,
  p.image_url,
  p.product_url,
  rh.collected_at
FROM ranking_history rh
JOIN products p ON rh.product_id = p.product_id
WHERE rh.collected_at = ?
ORDER BY rh.ranking
LIMIT ?`, latest.Time, limit).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CollectedAt = out[i].CollectedAt.UTC()
	}
	return out, nil
}

// BrandStatistics averages the brand-stats snapshots of the last hours.
func (s *Store) BrandStatistics(ctx context.Context, hours int) ([]BrandAverage, error) {
	out := make([]BrandAverage, 0, 128)
	err := s.db.WithContext(ctx).Raw(`
SELECT
  brand_name,
  CAST(AVG(product_count) AS DOUBLE PRECISION) AS avg_product_count,
  CAST(AVG(avg_ranking) AS DOUBLE PRECISION) AS avg_ranking,
  CAST(AVG(avg_price) AS DOUBLE PRECISION) AS avg_price,
  CAST(AVG(avg_discount_rate) AS DOUBLE PRECISION) AS avg_discount_rate
FROM brand_stats_history
WHERE collected_at >= ?
GROUP BY brand_name
ORDER BY avg_product_count DESC, brand_name ASC`, s.hoursAgo(hours)).Scan(&out).Error
	return out, err
}

// RankingMovers lists the largest moves of one direction in the last 24 hours.
func (s *Store) RankingMovers(ctx context.Context, changeType string, limit int) ([]RankingMover, error) {
	out := make([]RankingMover, 0, limit)
	err := s.db.WithContext(ctx).Raw(`
SELECT
  rc.product_id,
  p.product_name,
  p.brand_name,
  rc.previous_ranking,
  rc.current_ranking,
  rc.change_amount,
  rc.changed_at
FROM ranking_changes rc
JOIN products p ON rc.product_id = p.product_id
WHERE rc.changed_at >= ? AND rc.change_type = ?
ORDER BY ABS(rc.change_amount) DESC, rc.changed_at DESC
LIMIT ?`, s.hoursAgo(24), changeType, limit).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ChangedAt = out[i].ChangedAt.UTC()
	}
	return out, nil
}

// PriceMovers returns the top 20 increases and decreases of the last hours.
func (s *Store) PriceMovers(ctx context.Context, hours int) (PriceMovers, error) {
	const q = `
SELECT
  pc.product_id,
  p.brand_name,
  p.product_name,
  pc.previous_sale_price AS old_price,
  pc.current_sale_price AS new_price,
  pc.price_change_amount AS price_diff,
  pc.price_change_percentage AS price_diff_percent,
  pc.changed_at
FROM price_changes pc
JOIN products p ON pc.product_id = p.product_id
WHERE pc.changed_at >= ? AND `

	since := s.hoursAgo(hours)
	var pm PriceMovers
	if err := s.db.WithContext(ctx).Raw(q+`pc.price_change_amount > 0
ORDER BY pc.price_change_percentage DESC
LIMIT 20`, since).Scan(&pm.Increased).Error; err != nil {
		return pm, err
	}
	if err := s.db.WithContext(ctx).Raw(q+`pc.price_change_amount < 0
ORDER BY pc.price_change_percentage ASC
LIMIT 20`, since).Scan(&pm.Decreased).Error; err != nil {
		return pm, err
	}
	pm.Increased = utcPriceChanges(pm.Increased)
	pm.Decreased = utcPriceChanges(pm.Decreased)
	return pm, nil
}

func utcPriceChanges(in []PriceChangeView) []PriceChangeView {
	if in == nil {
		return []PriceChangeView{}
	}
	for i := range in {
		in[i].ChangedAt = in[i].ChangedAt.UTC()
	}
	return in
}
