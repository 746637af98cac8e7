package main

import "time"

// ScrapedProduct is one row of a best-seller page as parsed by the scraper.
type ScrapedProduct struct {
	Rank          int      `json:"rank"`
	ProductID     string   `json:"product_id"`
	ProductName   string   `json:"product_name"`
	BrandName     string   `json:"brand_name"`
	Category      string   `json:"category"`
	CategoryKey   string   `json:"category_key"`
	OriginalPrice *int     `json:"original_price"`
	SalePrice     *int     `json:"sale_price"`
	DiscountRate  *float64 `json:"discount_rate"`
	ImageURL      string   `json:"image_url"`
	ProductURL    string   `json:"product_url"`
	CollectedAt   string   `json:"collected_at"`
}

const (
	ChangeUp   = "up"
	ChangeDown = "down"

	JobSuccess = "success"
	JobFailed  = "failed"

	unknownValue = "N/A"
)

type ProductView struct {
	ProductID    string    `json:"product_id"`
	BrandName    string    `json:"brand_name"`
	ProductName  string    `json:"product_name"`
	Category     *string   `json:"category"`
	CategoryKey  *string   `json:"category_key"`
	ProductURL   *string   `json:"product_url"`
	Price        int       `json:"price"`
	DiscountRate *float64  `json:"discount_rate"`
	ImageURL     string    `json:"image_url"`
	Ranking      int       `json:"ranking"`
	CollectedAt  time.Time `json:"collected_at"`
}

type HistoryPoint struct {
	CollectedAt  time.Time `json:"collected_at"`
	Ranking      int       `json:"ranking"`
	Price        int       `json:"price"`
	DiscountRate *float64  `json:"discount_rate"`
}

type BrandStatsView struct {
	BrandName       string    `json:"brand_name"`
	ProductCount    int       `json:"product_count"`
	TotalValue      int64     `json:"total_value"`
	AvgPrice        float64   `json:"avg_price"`
	AvgDiscountRate *float64  `json:"avg_discount_rate"`
	MinRanking      int       `json:"min_ranking"`
	MaxRanking      int       `json:"max_ranking"`
	LastUpdated     time.Time `json:"last_updated"`
}

type PriceChangeView struct {
	ProductID        string    `json:"product_id"`
	BrandName        string    `json:"brand_name"`
	ProductName      string    `json:"product_name"`
	OldPrice         int       `json:"old_price"`
	NewPrice         int       `json:"new_price"`
	PriceDiff        int       `json:"price_diff"`
	PriceDiffPercent float64   `json:"price_diff_percent"`
	ChangedAt        time.Time `json:"changed_at"`
}

type RankingChangeView struct {
	ProductID   string    `json:"product_id"`
	BrandName   string    `json:"brand_name"`
	ProductName string    `json:"product_name"`
	OldRanking  int       `json:"old_ranking"`
	NewRanking  int       `json:"new_ranking"`
	RankingDiff int       `json:"ranking_diff"`
	ChangeType  string    `json:"change_type"`
	ChangedAt   time.Time `json:"changed_at"`
}

type ScrapingJobView struct {
	JobID             uint       `json:"job_id"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	Status            string     `json:"status"`
	ProductsCollected *int       `json:"products_collected"`
	ErrorMessage      *string    `json:"error_message"`
	DurationSeconds   *float64   `json:"duration_seconds"`
}

type HealthStatus struct {
	Status            string     `json:"status"`
	DatabaseConnected bool       `json:"database_connected"`
	TotalProducts     int64      `json:"total_products"`
	TotalBrands       int64      `json:"total_brands"`
	LatestCollection  *time.Time `json:"latest_collection"`
	TotalCollections  int64      `json:"total_collections"`
	APIVersion        string     `json:"api_version"`
}

type CategoryUpdate struct {
	CategoryKey      string     `json:"category_key"`
	CategoryName     *string    `json:"category_name"`
	LatestCollection *time.Time `json:"latest_collection"`
	ProductCount     int64      `json:"product_count"`
}

type BrandTrendPoint struct {
	CollectedAt     time.Time `json:"collected_at"`
	ProductCount    int       `json:"product_count"`
	AvgRanking      *float64  `json:"avg_ranking"`
	AvgPrice        *float64  `json:"avg_price"`
	AvgDiscountRate *float64  `json:"avg_discount_rate"`
}

type ProductTrend struct {
	ProductID   string         `json:"product_id"`
	ProductName string         `json:"product_name"`
	BrandName   string         `json:"brand_name"`
	PeriodDays  int            `json:"period_days"`
	Data        []HistoryPoint `json:"data"`
}

type CrawlStatus struct {
	LastCrawlToday   *time.Time `json:"last_crawl"`
	TodayProducts    int64      `json:"today_products"`
	TodayRecords     int64      `json:"today_records"`
	LatestCollection *time.Time `json:"latest_collection"`
	TotalCollections int64      `json:"total_collections"`
	Running          bool       `json:"running"`
	NextScheduled    *time.Time `json:"next_scheduled,omitempty"`
}

type DatabaseStats struct {
	TotalProducts     int64      `json:"total_products"`
	TotalBrands       int64      `json:"total_brands"`
	TotalDataPoints   int64      `json:"total_data_points"`
	FirstCollection   *time.Time `json:"first_collection"`
	LastCollection    *time.Time `json:"last_collection"`
	TotalScrapingJobs int64      `json:"total_scraping_jobs"`
	SuccessfulJobs    int64      `json:"successful_jobs"`
}

// LatestRanking is the joined row used by the analytics report and export.
type LatestRanking struct {
	Ranking       int       `json:"ranking"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	BrandName     string    `json:"brand_name"`
	OriginalPrice *int      `json:"original_price"`
	SalePrice     *int      `json:"sale_price"`
	DiscountRate  *float64  `json:"discount_rate"`
	ImageURL      string    `json:"image_url"`
	ProductURL    string    `json:"product_url"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BrandAverage is a brand averaged over a window of brand-stats snapshots.
type BrandAverage struct {
	BrandName       string   `json:"brand_name"`
	AvgProductCount float64  `json:"avg_product_count"`
	AvgRanking      *float64 `json:"avg_ranking"`
	AvgPrice        *float64 `json:"avg_price"`
	AvgDiscountRate *float64 `json:"avg_discount_rate"`
}

type RankingMover struct {
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	BrandName       string    `json:"brand_name"`
	PreviousRanking int       `json:"previous_ranking"`
	CurrentRanking  int       `json:"current_ranking"`
	ChangeAmount    int       `json:"change_amount"`
	ChangedAt       time.Time `json:"changed_at"`
}

type PriceMovers struct {
	Increased []PriceChangeView `json:"price_increased"`
	Decreased []PriceChangeView `json:"price_decreased"`
}
