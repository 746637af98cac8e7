package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Pass         string
	DB           string
	Secure       bool
	AsyncInsert  bool
	BatchSize    int
	FlushEveryMS int
}

// ClickHouseClient holds the two handles the mirror needs: the native
// connection feeds the batch writer, the database/sql pool serves the brand
// window endpoint and the SQL console.
type ClickHouseClient struct {
	cfg  ClickHouseConfig
	conn clickhouse.Conn
	db   *sql.DB
	log  *Logger
}

func (c *ClickHouseClient) NativeConn() clickhouse.Conn { return c.conn }
func (c *ClickHouseClient) SQLDB() *sql.DB              { return c.db }

func (c *ClickHouseClient) Close() {
	if c == nil {
		return
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var chIdentRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// validateIdent guards the database name, which is interpolated into DDL.
func validateIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty clickhouse identifier")
	}
	if !chIdentRe.MatchString(s) {
		return fmt.Errorf("clickhouse identifier %q must match [a-zA-Z0-9_]+", s)
	}
	return nil
}

func (cfg ClickHouseConfig) withDefaults() ClickHouseConfig {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port <= 0 {
		cfg.Port = 9000
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushEveryMS <= 0 {
		cfg.FlushEveryMS = 500
	}
	return cfg
}

func (cfg ClickHouseConfig) addr() string {
	return cfg.Host + ":" + strconv.Itoa(cfg.Port)
}

func (cfg ClickHouseConfig) options(database string) *clickhouse.Options {
	asyncInsert := 0
	if cfg.AsyncInsert {
		asyncInsert = 1
	}
	opt := &clickhouse.Options{
		Addr: []string{cfg.addr()},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.User,
			Password: cfg.Pass,
		},
		DialTimeout:     5 * time.Second,
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Settings:        clickhouse.Settings{"async_insert": asyncInsert},
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if cfg.AsyncInsert {
		// crawl rows are mirrored fire-and-forget
		opt.Settings["wait_for_async_insert"] = 0
	}
	if cfg.Secure {
		opt.TLS = &tls.Config{}
	}
	return opt
}

// NewClickHouseClient returns (nil, nil) when the mirror is disabled. It
// creates the database and the observations table on first use.
func NewClickHouseClient(ctx context.Context, cfg ClickHouseConfig, log *Logger) (*ClickHouseClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := validateIdent(cfg.DB); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewNopLogger()
	}
	cfg = cfg.withDefaults()

	if err := ensureClickHouseDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(cfg.options(cfg.DB))
	if err != nil {
		return nil, fmt.Errorf("open clickhouse %s: %w", cfg.DB, err)
	}
	ddlCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = ensureClickHouseSchema(ddlCtx, conn)
	cancel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := clickhouse.OpenDB(cfg.options(cfg.DB))
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		_ = db.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse sql pool: %w", err)
	}

	log.Infof("clickhouse mirror ready addr=%s db=%s async_insert=%v", cfg.addr(), cfg.DB, cfg.AsyncInsert)
	return &ClickHouseClient{cfg: cfg, conn: conn, db: db, log: log}, nil
}

// ensureClickHouseDatabase goes through the always-present "default" database
// because the target one may not exist yet.
func ensureClickHouseDatabase(ctx context.Context, cfg ClickHouseConfig) error {
	conn, err := clickhouse.Open(cfg.options("default"))
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("clickhouse unreachable at %s: %w", cfg.addr(), err)
	}
	if err := conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+cfg.DB+"`"); err != nil {
		return fmt.Errorf("create clickhouse database %s: %w", cfg.DB, err)
	}
	return nil
}

const clickhouseObservationsDDL = `
CREATE TABLE IF NOT EXISTS ranking_observations
(
  run_id String,
  collected_at DateTime64(6, 'UTC'),
  product_id String,
  brand_name LowCardinality(String),
  category_key LowCardinality(String),
  ranking UInt16,
  original_price Nullable(Int64),
  sale_price Nullable(Int64),
  discount_rate Nullable(Float64)
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(collected_at)
ORDER BY (category_key, collected_at, ranking, product_id)
`

func ensureClickHouseSchema(ctx context.Context, conn clickhouse.Conn) error {
	if err := conn.Exec(ctx, clickhouseObservationsDDL); err != nil {
		return fmt.Errorf("create ranking_observations: %w", err)
	}
	return nil
}

// BrandWindowRow aggregates one brand's observations between two instants.
type BrandWindowRow struct {
	BrandName    string   `json:"brand_name"`
	Observations int64    `json:"observations"`
	Products     int64    `json:"products"`
	BestRanking  int      `json:"best_ranking"`
	AvgRanking   float64  `json:"avg_ranking"`
	AvgPrice     *float64 `json:"avg_price"`
}

// BrandRankWindow ranks brands by how often they appeared in the top lists
// between start and end.
func (c *ClickHouseClient) BrandRankWindow(ctx context.Context, start, end time.Time, category string, limit int) ([]BrandWindowRow, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("clickhouse not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	args := make([]any, 0, 4)
	q := `
SELECT
  brand_name,
  count() AS observations,
  uniqExact(product_id) AS products,
  min(ranking) AS best_ranking,
  avg(ranking) AS avg_ranking,
  avgOrNull(sale_price) AS avg_price
FROM ranking_observations
WHERE collected_at >= ?
  AND collected_at < ?
  AND brand_name != 'N/A'
`
	args = append(args, start.UTC(), end.UTC())

	if category != "" {
		q += "  AND category_key = ?\n"
		args = append(args, category)
	}

	q += `
GROUP BY brand_name
ORDER BY observations DESC, avg_ranking ASC, brand_name ASC
LIMIT ` + strconv.Itoa(limit)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BrandWindowRow, 0, limit)
	for rows.Next() {
		var (
			brand        string
			observations uint64
			products     uint64
			best         uint16
			avgRank      float64
			avgPrice     sql.NullFloat64
		)
		if err := rows.Scan(&brand, &observations, &products, &best, &avgRank, &avgPrice); err != nil {
			return nil, err
		}
		row := BrandWindowRow{
			BrandName:    brand,
			Observations: int64(observations),
			Products:     int64(products),
			BestRanking:  int(best),
			AvgRanking:   avgRank,
		}
		if avgPrice.Valid {
			row.AvgPrice = floatPtr(avgPrice.Float64)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBrandWindow(out)
	return out, nil
}
