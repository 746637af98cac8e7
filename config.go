package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the resolved configuration: flag, then env (.env included), then default.
type Config struct {
	Port     int
	LogLevel string

	DBDriver string
	DBDSN    string

	CategoriesFile string
	Categories     []string
	BaseURL        string
	Fetcher        string
	FirecrawlKey   string
	FirecrawlURL   string
	FetchTimeout   time.Duration
	MaxProducts    int
	Concurrency    int
	RatePerSec     float64

	ArchiveDir          string
	ArchivePrefix       string
	FirebaseCredentials string
	FirebaseBucket      string

	ClickHouse ClickHouseConfig

	ScheduleMode   string
	ScheduleMinute int
	ScheduleAt     string

	APIURL string
}

// configKey couples a viper key (also the upper-cased env name) with its flag.
type configKey struct {
	key   string
	flag  string
	def   any
	usage string
}

var configKeys = []configKey{
	{"port", "port", 8000, "HTTP port"},
	{"log_level", "log-level", "info", "Log level: debug|info|warn|error"},

	{"db_driver", "db-driver", "sqlite", "Database driver: sqlite|postgres"},
	{"db_dsn", "db-dsn", "wconcept_tracking.db", "Database DSN (sqlite file or postgres URL)"},

	{"categories_file", "categories-file", "categories.yaml", "Path to categories.yaml"},
	{"categories", "categories", "", "Comma separated category keys to crawl (default all)"},
	{"base_url", "base-url", displayBaseURL, "Best-seller page host"},
	{"fetcher", "fetcher", "http", "Page fetcher: http|firecrawl"},
	{"firecrawl_api_key", "firecrawl-api-key", "", "Firecrawl API key"},
	{"firecrawl_api_url", "firecrawl-api-url", "", "Firecrawl API URL (optional)"},
	{"fetch_timeout", "fetch-timeout", 30 * time.Second, "Per page fetch timeout"},
	{"max_products", "max-products", defaultMaxProducts, "Products kept per category"},
	{"crawl_concurrency", "crawl-concurrency", 3, "Categories fetched in parallel"},
	{"crawl_rate", "crawl-rate", 1.0, "Page fetches per second"},

	{"archive_dir", "archive-dir", "data", "Directory for JSON snapshots"},
	{"archive_prefix", "archive-prefix", "wconcept", "Object prefix inside the bucket"},
	{"firebase_credentials_file", "firebase-credentials-file", "", "Firebase service account JSON"},
	{"firebase_bucket_name", "firebase-bucket-name", "", "Firebase storage bucket (uploads disabled when empty)"},

	{"clickhouse_enabled", "clickhouse", false, "Mirror observations to ClickHouse"},
	{"clickhouse_host", "ch-host", "localhost", "ClickHouse host"},
	{"clickhouse_port", "ch-port", 9000, "ClickHouse native port"},
	{"clickhouse_user", "ch-user", "default", "ClickHouse user"},
	{"clickhouse_pass", "ch-pass", "", "ClickHouse password"},
	{"clickhouse_db", "ch-db", "wbest", "ClickHouse database"},
	{"clickhouse_secure", "ch-secure", false, "Use TLS to ClickHouse"},
	{"clickhouse_async_insert", "ch-async-insert", true, "ClickHouse async_insert"},
	{"clickhouse_batch_size", "ch-batch-size", 2000, "ClickHouse insert batch size"},
	{"clickhouse_flush_ms", "ch-flush-ms", 500, "ClickHouse flush cadence (ms)"},

	{"schedule_mode", "mode", "minute", "Schedule: hourly|hourly-2|cron|both|test|minute|daily"},
	{"schedule_minute", "minute", 16, "Minute past the hour for mode=minute"},
	{"schedule_at", "at", "15:16", "KST wall clock for mode=daily (HH:MM)"},

	{"api_url", "api", "http://localhost:8000", "API base URL for the dashboard"},
}

func lookupKey(key string) (configKey, bool) {
	for _, k := range configKeys {
		if k.key == key {
			return k, true
		}
	}
	return configKey{}, false
}

// newViper loads .env (if any) and registers defaults plus env lookups.
func newViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, k := range configKeys {
		v.SetDefault(k.key, k.def)
	}
	// legacy names used by the deploy scripts
	_ = v.BindEnv("firecrawl_api_key", "FIRECRAWL_API_KEY", "FIRECRAWL_KEY")
	_ = v.BindEnv("db_dsn", "DB_DSN", "DATABASE_URL")
	return v
}

// addFlags registers the flags for keys on cmd and binds them to v.
func addFlags(cmd *cobra.Command, v *viper.Viper, persistent bool, keys ...string) {
	fs := cmd.Flags()
	if persistent {
		fs = cmd.PersistentFlags()
	}
	for _, key := range keys {
		k, ok := lookupKey(key)
		if !ok {
			panic(fmt.Sprintf("unknown config key %q", key))
		}
		switch d := k.def.(type) {
		case int:
			fs.Int(k.flag, d, k.usage)
		case bool:
			fs.Bool(k.flag, d, k.usage)
		case float64:
			fs.Float64(k.flag, d, k.usage)
		case time.Duration:
			fs.Duration(k.flag, d, k.usage)
		default:
			fs.String(k.flag, fmt.Sprint(d), k.usage)
		}
		_ = v.BindPFlag(k.key, fs.Lookup(k.flag))
	}
}

func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:     v.GetInt("port"),
		LogLevel: v.GetString("log_level"),

		DBDriver: v.GetString("db_driver"),
		DBDSN:    v.GetString("db_dsn"),

		CategoriesFile: v.GetString("categories_file"),
		Categories:     splitList(v.GetString("categories")),
		BaseURL:        v.GetString("base_url"),
		Fetcher:        v.GetString("fetcher"),
		FirecrawlKey:   v.GetString("firecrawl_api_key"),
		FirecrawlURL:   v.GetString("firecrawl_api_url"),
		FetchTimeout:   v.GetDuration("fetch_timeout"),
		MaxProducts:    v.GetInt("max_products"),
		Concurrency:    v.GetInt("crawl_concurrency"),
		RatePerSec:     v.GetFloat64("crawl_rate"),

		ArchiveDir:          v.GetString("archive_dir"),
		ArchivePrefix:       v.GetString("archive_prefix"),
		FirebaseCredentials: v.GetString("firebase_credentials_file"),
		FirebaseBucket:      v.GetString("firebase_bucket_name"),

		ClickHouse: ClickHouseConfig{
			Enabled:      v.GetBool("clickhouse_enabled"),
			Host:         v.GetString("clickhouse_host"),
			Port:         v.GetInt("clickhouse_port"),
			User:         v.GetString("clickhouse_user"),
			Pass:         v.GetString("clickhouse_pass"),
			DB:           v.GetString("clickhouse_db"),
			Secure:       v.GetBool("clickhouse_secure"),
			AsyncInsert:  v.GetBool("clickhouse_async_insert"),
			BatchSize:    v.GetInt("clickhouse_batch_size"),
			FlushEveryMS: v.GetInt("clickhouse_flush_ms"),
		},

		ScheduleMode:   v.GetString("schedule_mode"),
		ScheduleMinute: v.GetInt("schedule_minute"),
		ScheduleAt:     v.GetString("schedule_at"),

		APIURL: strings.TrimRight(v.GetString("api_url"), "/"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = defaultMaxProducts
	}
	if cfg.ScheduleMinute < 0 || cfg.ScheduleMinute > 59 {
		return cfg, fmt.Errorf("minute must be 0..59, got %d", cfg.ScheduleMinute)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
