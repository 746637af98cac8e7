package main

import "time"

// Product is the latest known metadata for one listed item.
type Product struct {
	ID          uint   `gorm:"primaryKey"`
	ProductID   string `gorm:"size:100;uniqueIndex;not null"`
	ProductName string
	BrandName   string `gorm:"size:200;index"`
	Category    string `gorm:"size:50"`
	CategoryKey string `gorm:"size:50;index"`
	ImageURL    string
	ProductURL  string
	FirstSeen   time.Time
	LastSeen    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Product) TableName() string { return "products" }

// RankingHistory is one observation of a product in one collection.
type RankingHistory struct {
	ID            uint      `gorm:"primaryKey"`
	ProductID     string    `gorm:"size:100;not null;index:idx_ranking_history_product_time,priority:1"`
	Ranking       int       `gorm:"not null;index:idx_ranking_history_ranking"`
	OriginalPrice *int
	SalePrice     *int
	DiscountRate  *float64
	CollectedAt   time.Time `gorm:"not null;index:idx_ranking_history_collected_at;index:idx_ranking_history_product_time,priority:2"`
	RunID         string    `gorm:"size:36;index"`
}

func (RankingHistory) TableName() string { return "ranking_history" }

type Brand struct {
	ID            uint   `gorm:"primaryKey"`
	BrandName     string `gorm:"size:200;uniqueIndex;not null"`
	TotalProducts int    `gorm:"default:0"`
	FirstSeen     time.Time
	LastUpdated   time.Time
}

func (Brand) TableName() string { return "brands" }

type BrandStatsHistory struct {
	ID              uint   `gorm:"primaryKey"`
	BrandName       string `gorm:"size:200;not null;index"`
	ProductCount    int    `gorm:"not null"`
	AvgRanking      *float64
	AvgPrice        *float64
	MinPrice        *int
	MaxPrice        *int
	AvgDiscountRate *float64
	CollectedAt     time.Time `gorm:"not null;index:idx_brand_stats_collected_at"`
}

func (BrandStatsHistory) TableName() string { return "brand_stats_history" }

type RankingChange struct {
	ID              uint   `gorm:"primaryKey"`
	ProductID       string `gorm:"size:100;not null;index"`
	PreviousRanking int
	CurrentRanking  int
	ChangeAmount    int
	ChangeType      string    `gorm:"size:20"`
	ChangedAt       time.Time `gorm:"not null;index:idx_ranking_changes_changed_at"`
}

func (RankingChange) TableName() string { return "ranking_changes" }

type PriceChange struct {
	ID                    uint   `gorm:"primaryKey"`
	ProductID             string `gorm:"size:100;not null;index"`
	PreviousSalePrice     int
	CurrentSalePrice      int
	PriceChangeAmount     int
	PriceChangePercentage float64
	PreviousDiscountRate  *float64
	CurrentDiscountRate   *float64
	ChangedAt             time.Time `gorm:"not null;index:idx_price_changes_changed_at"`
}

func (PriceChange) TableName() string { return "price_changes" }

type ScrapingLog struct {
	ID                   uint      `gorm:"primaryKey"`
	RunID                string    `gorm:"size:36"`
	StartedAt            time.Time `gorm:"not null;index"`
	CompletedAt          *time.Time
	Status               string `gorm:"size:50;not null"`
	ProductsCollected    int    `gorm:"default:0"`
	ErrorMessage         *string
	ExecutionTimeSeconds *int
	CreatedAt            time.Time
}

func (ScrapingLog) TableName() string { return "scraping_logs" }

func allModels() []any {
	return []any{
		&Product{},
		&RankingHistory{},
		&Brand{},
		&BrandStatsHistory{},
		&RankingChange{},
		&PriceChange{},
		&ScrapingLog{},
	}
}
