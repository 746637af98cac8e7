package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootKeys are shared by every command that touches the database or crawls.
var rootKeys = []string{
	"log_level", "db_driver", "db_dsn",
	"categories_file", "categories", "base_url", "fetcher",
	"firecrawl_api_key", "firecrawl_api_url", "fetch_timeout", "max_products",
	"crawl_concurrency", "crawl_rate",
	"archive_dir", "archive_prefix", "firebase_credentials_file", "firebase_bucket_name",
	"clickhouse_enabled", "clickhouse_host", "clickhouse_port", "clickhouse_user", "clickhouse_pass",
	"clickhouse_db", "clickhouse_secure", "clickhouse_async_insert", "clickhouse_batch_size", "clickhouse_flush_ms",
	"schedule_mode", "schedule_minute", "schedule_at",
}

func newRootCmd() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:          "wbest",
		Short:        "W Concept best-seller ranking tracker",
		SilenceUsage: true,
	}
	addFlags(root, v, true, rootKeys...)

	root.AddCommand(
		serveCmd(v),
		crawlCmd(v),
		scheduleCmd(v),
		reportCmd(v),
		exportCmd(v),
		dashboardCmd(v),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wbest %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}

// app holds the components a command wires together. Optional parts stay nil.
type app struct {
	cfg Config
	log *Logger
	loc *time.Location

	store    *Store
	metrics  *Metrics
	archive  *Archiver
	ch       *ClickHouseClient
	chw      *ClickHouseWriter
	crawler  *Crawler
	runStart time.Time
}

// newApp opens the store and, when withCrawler is set, everything a crawl needs.
func newApp(ctx context.Context, v *viper.Viper, withCrawler bool) (*app, error) {
	cfg, err := LoadConfig(v)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		log:      NewLogger(cfg.LogLevel),
		loc:      LoadSeoul(),
		runStart: time.Now(),
	}
	a.metrics = NewMetrics(a.runStart, version, commit, buildDate)

	a.store, err = OpenStore(ctx, StoreConfig{Driver: cfg.DBDriver, DSN: cfg.DBDSN, Loc: a.loc, Log: a.log})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.archive, err = NewArchiver(ctx, ArchiveConfig{
		Dir:             cfg.ArchiveDir,
		CredentialsFile: cfg.FirebaseCredentials,
		Bucket:          cfg.FirebaseBucket,
		Prefix:          cfg.ArchivePrefix,
		Loc:             a.loc,
		Log:             a.log,
	})
	if err != nil {
		// uploads are optional; keep the local copy
		a.log.Errorf("firebase storage init failed (archiving locally only): %v", err)
		a.archive, err = NewArchiver(ctx, ArchiveConfig{Dir: cfg.ArchiveDir, Prefix: cfg.ArchivePrefix, Loc: a.loc, Log: a.log})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if !withCrawler {
		return a, nil
	}

	if cfg.ClickHouse.Enabled {
		initCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		a.ch, err = NewClickHouseClient(initCtx, cfg.ClickHouse, a.log)
		cancel()
		if err != nil {
			a.log.Errorf("clickhouse init failed (continuing without CH): %v", err)
			a.ch = nil
		}
	} else {
		a.log.Infof("clickhouse disabled")
	}
	if a.ch != nil {
		a.chw = NewClickHouseWriter(ClickHouseWriterConfig{
			BatchSize:  cfg.ClickHouse.BatchSize,
			FlushEvery: time.Duration(cfg.ClickHouse.FlushEveryMS) * time.Millisecond,
			BufferSize: 20_000,
		}, a.ch.NativeConn(), a.metrics, a.log)
	}

	cats, err := LoadCategories(cfg.CategoriesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	cats, err = FilterCategories(cats, cfg.Categories)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetch, err := NewFetcher(cfg.Fetcher, cfg.FirecrawlKey, cfg.FirecrawlURL, cfg.FetchTimeout)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.log.Infof("crawler ready fetcher=%s categories=%d (%s)", fetch.Name(), len(cats), filepath.Base(cfg.CategoriesFile))

	a.crawler = NewCrawler(CrawlerConfig{
		Categories:  cats,
		BaseURL:     cfg.BaseURL,
		MaxProducts: cfg.MaxProducts,
		Concurrency: cfg.Concurrency,
		RatePerSec:  cfg.RatePerSec,
		Loc:         a.loc,
		Log:         a.log,
	}, fetch, a.store, a.archive, a.chw, a.metrics)
	return a, nil
}

// startBackground runs the metrics sampler and the ClickHouse writer until ctx ends.
// The returned channel closes once the writer has flushed.
func (a *app) startBackground(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go a.metrics.Run(ctx)
	if a.chw == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		a.chw.Run(ctx)
	}()
	return done
}

func (a *app) Close() {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Sync()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCmd(v *viper.Viper) *cobra.Command {
	var withSchedule bool

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (optionally with the crawl scheduler)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.log.Level() > LevelDebug {
				gin.SetMode(gin.ReleaseMode)
			}

			var sched *Scheduler
			if withSchedule {
				sched, err = NewScheduler(SchedulerConfig{
					Mode:   a.cfg.ScheduleMode,
					Minute: a.cfg.ScheduleMinute,
					At:     a.cfg.ScheduleAt,
					Loc:    a.loc,
					Log:    a.log,
				}, a.crawler)
				if err != nil {
					return err
				}
			}

			hcfg := HTTPConfig{
				Addr:    fmt.Sprintf(":%d", a.cfg.Port),
				Loc:     a.loc,
				Log:     a.log,
				Store:   a.store,
				Crawler: a.crawler,
				CH:      a.ch,
				M:       a.metrics,
				BaseCtx: ctx,
			}
			if sched != nil {
				hcfg.Scheduler = sched
			}
			httpSrv := NewHTTPServer(hcfg)

			bgCtx, bgCancel := context.WithCancel(context.Background())
			defer bgCancel()
			chDone := a.startBackground(bgCtx)

			schedDone := make(chan struct{})
			if sched != nil {
				go func() {
					defer close(schedDone)
					sched.Run(ctx)
				}()
			} else {
				close(schedDone)
			}

			go func() {
				a.log.Infof("http listening on http://localhost:%d", a.cfg.Port)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.Errorf("http server error: %v", err)
					stop()
				}
			}()

			<-ctx.Done()

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			a.log.Infof("shutting down...")
			_ = httpSrv.Shutdown(shCtx)
			<-schedDone
			a.crawler.Wait()
			bgCancel()
			<-chDone
			a.log.Infof("bye")
			return nil
		},
	}

	addFlags(c, v, false, "port")
	c.Flags().BoolVar(&withSchedule, "schedule", false, "Also run the crawl scheduler (--mode/--minute/--at)")
	return c
}

func crawlCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every configured category once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			bgCtx, bgCancel := context.WithCancel(context.Background())
			chDone := a.startBackground(bgCtx)

			res, runErr := a.crawler.Run(ctx, "cli")
			bgCancel()
			<-chDone

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			_ = enc.Encode(res)
			return runErr
		},
	}
}

func scheduleCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "schedule",
		Short: "Run crawls on a schedule in Seoul time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := NewScheduler(SchedulerConfig{
				Mode:   a.cfg.ScheduleMode,
				Minute: a.cfg.ScheduleMinute,
				At:     a.cfg.ScheduleAt,
				Loc:    a.loc,
				Log:    a.log,
			}, a.crawler)
			if err != nil {
				return err
			}

			bgCtx, bgCancel := context.WithCancel(context.Background())
			chDone := a.startBackground(bgCtx)

			sched.Run(ctx)
			bgCancel()
			<-chDone
			return nil
		},
	}

	now := &cobra.Command{
		Use:   "now",
		Short: "Crawl once, then print database statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			bgCtx, bgCancel := context.WithCancel(context.Background())
			chDone := a.startBackground(bgCtx)

			res, runErr := a.crawler.Run(ctx, "cli")
			bgCancel()
			<-chDone
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crawl %s saved %d products in %s\n",
				res.RunID, res.Saved, res.Duration.Round(time.Millisecond))
			return NewReporter(a.store, cmd.OutOrStdout(), a.loc).Stats(ctx)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print database statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), v, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return NewReporter(a.store, cmd.OutOrStdout(), a.loc).Stats(cmd.Context())
		},
	}

	c.AddCommand(now, stats)
	return c
}

func reportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:       "report <rankings|brands|history|movers-up|movers-down|prices|stats|all> [args]",
		Short:     "Print analytics from the database",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: reportKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), v, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return NewReporter(a.store, cmd.OutOrStdout(), a.loc).Run(cmd.Context(), args[0], args[1:])
		},
	}
}

func exportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the analytics export JSON (and upload it when a bucket is configured)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v, false)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			name := exportName(now, a.loc)
			if len(args) == 1 {
				name = args[0]
			}
			export, err := BuildExport(ctx, a.store, now, a.loc)
			if err != nil {
				return err
			}
			path, err := a.archive.StoreExport(ctx, name, export)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export written: %s\n", path)
			return nil
		},
	}
}

func dashboardCmd(v *viper.Viper) *cobra.Command {
	var (
		brand     string
		category  string
		limit     int
		every     time.Duration
		exportDir string
	)

	c := &cobra.Command{
		Use:   "dashboard",
		Short: "Terminal dashboard over a running API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(v)
			if err != nil {
				return err
			}
			// the TUI owns the terminal; only errors reach stderr
			log := NewLogger("error")
			defer log.Sync()

			cats, err := LoadCategories(cfg.CategoriesFile)
			if err != nil {
				log.Warnf("categories: %v", err)
				cats = DefaultCategories()
			}
			return RunDashboard(DashboardConfig{
				API:        cfg.APIURL,
				Brand:      brand,
				Category:   category,
				Limit:      limit,
				Every:      every,
				ExportDir:  exportDir,
				Categories: cats,
				Loc:        LoadSeoul(),
				Log:        log,
			})
		},
	}

	addFlags(c, v, false, "api_url")
	c.Flags().StringVar(&brand, "brand", "", "Only show this brand")
	c.Flags().StringVar(&category, "category", "", "Start on this category key")
	c.Flags().IntVar(&limit, "limit", 0, "Products to request (0 shows the whole latest collection)")
	c.Flags().DurationVar(&every, "every", 5*time.Minute, "Refresh interval (0 disables)")
	c.Flags().StringVar(&exportDir, "export-dir", ".", "Directory for CSV/JSON exports")
	return c
}
