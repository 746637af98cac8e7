package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const apiVersion = "2.0.0"

type StoreConfig struct {
	Driver string // sqlite | postgres
	DSN    string
	Loc    *time.Location
	Log    *Logger
}

// Store is the time-series database behind the crawler, the API and the reports.
type Store struct {
	db  *gorm.DB
	loc *time.Location
	log *Logger
	now func() time.Time
}

// Snapshot is everything one crawl collected, stamped with a single instant.
type Snapshot struct {
	RunID       string
	CollectedAt time.Time
	Products    []ScrapedProduct
}

func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "wconcept_tracking.db"
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres", "postgresql", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres requires DB_DSN")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(cfg.Log, gormlogger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return dbNow(time.Now()) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// one writer; also keeps in-memory databases on a single connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	cfg.Log.Infof("store ready driver=%s", dialector.Name())
	return &Store{
		db:  db,
		loc: cfg.Loc,
		log: cfg.Log,
		now: time.Now,
	}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// dbNow is the canonical instant for stored rows: UTC, microsecond precision.
func dbNow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// SaveProducts stores one collection stamped with the current time.
func (s *Store) SaveProducts(ctx context.Context, products []ScrapedProduct) (int, error) {
	return s.SaveSnapshot(ctx, Snapshot{CollectedAt: s.now(), Products: products})
}

// SaveSnapshot writes every product in one transaction. A product that fails is
// rolled back to its savepoint and skipped; brand statistics are computed from
// the products that made it.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (int, error) {
	at := snap.CollectedAt
	if at.IsZero() {
		at = s.now()
	}
	at = dbNow(at)

	saved := make([]ScrapedProduct, 0, len(snap.Products))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, p := range snap.Products {
			if err := ctx.Err(); err != nil {
				return err
			}
			sp := fmt.Sprintf("product_%d", i)
			if err := tx.SavePoint(sp).Error; err != nil {
				return err
			}
			if err := saveObservation(tx, snap.RunID, p, at); err != nil {
				s.log.Warnf("save product %s failed: %v", p.ProductID, err)
				if err := tx.RollbackTo(sp).Error; err != nil {
					return err
				}
				continue
			}
			saved = append(saved, p)
		}
		return saveBrandStats(tx, saved, at)
	})
	if err != nil {
		return 0, err
	}

	s.log.Infof("saved %d/%d products collected_at=%s", len(saved), len(snap.Products), at.Format(time.RFC3339))
	return len(saved), nil
}

func saveObservation(tx *gorm.DB, runID string, p ScrapedProduct, at time.Time) error {
	if strings.TrimSpace(p.ProductID) == "" {
		return errors.New("empty product id")
	}

	prod := Product{
		ProductID:   p.ProductID,
		ProductName: p.ProductName,
		BrandName:   p.BrandName,
		Category:    orDefault(p.Category, unknownValue),
		CategoryKey: orDefault(p.CategoryKey, "unknown"),
		ImageURL:    p.ImageURL,
		ProductURL:  p.ProductURL,
		FirstSeen:   at,
		LastSeen:    at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_name", "brand_name", "category", "category_key",
			"image_url", "product_url", "last_seen", "updated_at",
		}),
	}).Create(&prod).Error; err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	// the previous observation feeds both change detectors
	var prev RankingHistory
	res := tx.Where("product_id = ? AND collected_at < ?", p.ProductID, at).
		Order("collected_at DESC").
		Limit(1).
		Find(&prev)
	if res.Error != nil {
		return fmt.Errorf("previous observation: %w", res.Error)
	}
	hasPrev := res.RowsAffected > 0

	if err := tx.Create(&RankingHistory{
		ProductID:     p.ProductID,
		Ranking:       p.Rank,
		OriginalPrice: p.OriginalPrice,
		SalePrice:     p.SalePrice,
		DiscountRate:  p.DiscountRate,
		CollectedAt:   at,
		RunID:         runID,
	}).Error; err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if knownBrand(p.BrandName) {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "brand_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_updated"}),
		}).Create(&Brand{BrandName: p.BrandName, FirstSeen: at, LastUpdated: at}).Error; err != nil {
			return fmt.Errorf("upsert brand: %w", err)
		}
	}

	if !hasPrev {
		return nil
	}

	if mv, ok := DetectRankMove(prev.Ranking, p.Rank); ok {
		if err := tx.Create(&RankingChange{
			ProductID:       p.ProductID,
			PreviousRanking: mv.OldRanking,
			CurrentRanking:  mv.NewRanking,
			ChangeAmount:    mv.Diff,
			ChangeType:      mv.ChangeType,
			ChangedAt:       at,
		}).Error; err != nil {
			return fmt.Errorf("insert ranking change: %w", err)
		}
	}

	if pm, ok := DetectPriceMove(prev.SalePrice, p.SalePrice); ok {
		if err := tx.Create(&PriceChange{
			ProductID:             p.ProductID,
			PreviousSalePrice:     pm.Previous,
			CurrentSalePrice:      pm.Current,
			PriceChangeAmount:     pm.Amount,
			PriceChangePercentage: pm.Percent,
			PreviousDiscountRate:  prev.DiscountRate,
			CurrentDiscountRate:   p.DiscountRate,
			ChangedAt:             at,
		}).Error; err != nil {
			return fmt.Errorf("insert price change: %w", err)
		}
	}
	return nil
}

func saveBrandStats(tx *gorm.DB, saved []ScrapedProduct, at time.Time) error {
	aggs := AggregateBrands(saved)
	if len(aggs) == 0 {
		return nil
	}

	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]BrandStatsHistory, 0, len(names))
	for _, name := range names {
		a := aggs[name]
		avgRanking := a.AvgRanking
		rows = append(rows, BrandStatsHistory{
			BrandName:       a.BrandName,
			ProductCount:    a.ProductCount,
			AvgRanking:      &avgRanking,
			AvgPrice:        a.AvgPrice,
			MinPrice:        a.MinPrice,
			MaxPrice:        a.MaxPrice,
			AvgDiscountRate: a.AvgDiscountRate,
			CollectedAt:     at,
		})
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("insert brand stats: %w", err)
	}

	return tx.Exec(`
UPDATE brands
SET total_products = (SELECT COUNT(*) FROM products WHERE products.brand_name = brands.brand_name)
WHERE last_updated = ?`, at).Error
}

// LogScrapingJob records the outcome of one crawl and returns its id.
func (s *Store) LogScrapingJob(ctx context.Context, job ScrapingLog) (uint, error) {
	if job.CompletedAt == nil {
		done := dbNow(s.now())
		job.CompletedAt = &done
	}
	job.StartedAt = dbNow(job.StartedAt)
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return 0, fmt.Errorf("failed to log scraping job: %w", err)
	}
	return job.ID, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
