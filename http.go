package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NextRunner reports the next scheduled crawl.
type NextRunner interface {
	NextRun() time.Time
}

type HTTPConfig struct {
	Addr      string
	Loc       *time.Location
	Log       *Logger
	Store     *Store
	Crawler   *Crawler
	Scheduler NextRunner
	CH        *ClickHouseClient
	M         *Metrics
	// BaseCtx bounds crawls started over HTTP; it outlives any single request.
	BaseCtx context.Context
}

type HTTPServer struct {
	cfg    HTTPConfig
	engine *gin.Engine
}

func newHTTPServer(cfg HTTPConfig) *HTTPServer {
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.Loc == nil {
		cfg.Loc = LoadSeoul()
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}

	hs := &HTTPServer{cfg: cfg, engine: gin.New()}
	r := hs.engine
	r.Use(gin.Recovery(), hs.accessLog(), corsAll())
	r.NoRoute(hs.handleNotFound)
	r.NoMethod(hs.handleNotFound)
	r.HandleMethodNotAllowed = false

	r.GET("/", hs.handleRoot)

	api := r.Group("/api")
	api.GET("/health", hs.handleHealth)
	api.GET("/categories/update-times", hs.handleCategoryUpdateTimes)

	api.GET("/products/current", hs.handleCurrentProducts)
	api.GET("/products/:id/history", hs.handleProductHistory)
	api.POST("/products/batch/history", hs.handleBatchHistory)

	api.GET("/brands/list", hs.handleBrandsList)
	api.GET("/brands/stats", hs.handleBrandStats)
	api.GET("/brands/window", hs.handleBrandWindow)

	api.GET("/price-changes", hs.handlePriceChanges)
	api.GET("/ranking-changes", hs.handleRankingChanges)
	api.GET("/jobs/history", hs.handleJobHistory)

	api.GET("/trends/brand/:name", hs.handleBrandTrend)
	api.GET("/trends/product/:id", hs.handleProductTrend)

	api.GET("/crawl/status", hs.handleCrawlStatus)
	api.POST("/crawl/trigger", hs.handleCrawlTrigger)

	api.GET("/metrics", hs.handleMetrics)
	api.GET("/sql", hs.handleQueryUI)
	api.POST("/sql/query", hs.handleQuery)

	return hs
}

func NewHTTPServer(cfg HTTPConfig) *http.Server {
	hs := newHTTPServer(cfg)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           hs.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// -------------------- middleware --------------------

func (hs *HTTPServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if hs.cfg.M != nil {
			hs.cfg.M.IncRequest()
			if status >= http.StatusInternalServerError {
				hs.cfg.M.IncRequestError()
			}
		}
		hs.cfg.Log.Debugf("http %s %s %d %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start).Round(time.Microsecond))
	}
}

// corsAll allows every origin, method and header.
func corsAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		reqHeaders := c.GetHeader("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "*"
		}
		h.Set("Access-Control-Allow-Headers", reqHeaders)
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// -------------------- errors & params --------------------

func (hs *HTTPServer) handleError(c *gin.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = NewInternalError("handle request", err)
	}
	status := http.StatusInternalServerError
	switch apiErr.Type {
	case ErrorTypeValidation:
		status = http.StatusUnprocessableEntity
	case ErrorTypeNotFound:
		status = http.StatusNotFound
	case ErrorTypeConflict:
		status = http.StatusConflict
	case ErrorTypeExternal:
		status = http.StatusServiceUnavailable
	default:
		hs.cfg.Log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, apiErr.Detail)
	}
	c.AbortWithStatusJSON(status, apiErr)
}

func (hs *HTTPServer) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":  "Not Found",
		"detail": "The requested resource was not found",
		"path":   c.Request.URL.String(),
	})
}

// intQuery reads an integer query parameter bounded to [lo, hi].
func intQuery(c *gin.Context, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewValidationError(name + " must be an integer")
	}
	if n < lo || n > hi {
		return 0, NewValidationError(name + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}

// -------------------- handlers --------------------

func (hs *HTTPServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "W Concept Best Products Tracking API",
		"version": apiVersion,
		"endpoints": gin.H{
			"current_rankings": "/api/products/current",
			"brand_list":       "/api/brands/list",
			"brand_stats":      "/api/brands/stats",
			"brand_trend":      "/api/trends/brand/{brand_name}",
			"product_trend":    "/api/trends/product/{product_id}",
			"product_history":  "/api/products/{product_id}/history",
			"batch_history":    "/api/products/batch/history",
			"price_changes":    "/api/price-changes",
			"ranking_changes":  "/api/ranking-changes",
			"job_history":      "/api/jobs/history",
			"category_updates": "/api/categories/update-times",
			"crawl_status":     "/api/crawl/status",
			"crawl_trigger":    "/api/crawl/trigger",
			"brand_window":     "/api/brands/window",
			"metrics":          "/api/metrics",
			"sql_console":      "/api/sql",
			"system_health":    "/api/health",
		},
	})
}

func (hs *HTTPServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, hs.cfg.Store.Health(ctx))
}

func (hs *HTTPServer) handleCategoryUpdateTimes(c *gin.Context) {
	cats, err := hs.cfg.Store.CategoryUpdateTimes(c.Request.Context())
	if err != nil {
		hs.handleError(c, NewInternalError("fetch category update times", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "categories": cats})
}

func (hs *HTTPServer) handleCurrentProducts(c *gin.Context) {
	limit, err := intQuery(c, "limit", maxCurrentLimit, 1, maxCurrentLimit)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	rows, err := hs.cfg.Store.CurrentProducts(c.Request.Context(), CurrentQuery{
		Limit:    limit,
		Brand:    strings.TrimSpace(c.Query("brand")),
		Category: strings.TrimSpace(c.Query("category")),
	})
	if err != nil {
		hs.handleError(c, NewInternalError("fetch products", err))
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (hs *HTTPServer) handleBrandsList(c *gin.Context) {
	brands, err := hs.cfg.Store.BrandsList(c.Request.Context())
	if err != nil {
		hs.handleError(c, NewInternalError("fetch brand list", err))
		return
	}
	if brands == nil {
		brands = []string{}
	}
	c.JSON(http.StatusOK, brands)
}

func (hs *HTTPServer) handleBrandStats(c *gin.Context) {
	sortBy := c.DefaultQuery("sort_by", "product_count")
	if !validBrandSort(sortBy) {
		hs.handleError(c, NewValidationError("sort_by must be one of product_count, total_value, avg_price"))
		return
	}
	limit, err := intQuery(c, "limit", 50, 1, 200)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	stats, err := hs.cfg.Store.BrandStats(c.Request.Context(), sortBy, limit)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch brand stats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (hs *HTTPServer) handleProductHistory(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 1, 30)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	id := c.Param("id")
	hist, err := hs.cfg.Store.ProductHistory(c.Request.Context(), id, days)
	switch {
	case errors.Is(err, ErrNotFound):
		hs.handleError(c, NewNotFoundError("Product "+id+" not found"))
		return
	case err != nil:
		hs.handleError(c, NewInternalError("fetch product history", err))
		return
	}
	c.JSON(http.StatusOK, hist)
}

type batchHistoryReq struct {
	ProductIDs []string `json:"product_ids"`
	Days       *int     `json:"days"`
}

func (hs *HTTPServer) handleBatchHistory(c *gin.Context) {
	var req batchHistoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		hs.handleError(c, NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if req.ProductIDs == nil {
		hs.handleError(c, NewValidationError("product_ids is required"))
		return
	}
	days := 2
	if req.Days != nil {
		days = *req.Days
	}
	if days < 1 || days > 30 {
		hs.handleError(c, NewValidationError("days must be between 1 and 30"))
		return
	}

	data, err := hs.cfg.Store.BatchHistory(c.Request.Context(), req.ProductIDs, days)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch batch history", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(req.ProductIDs),
		"data":    data,
	})
}

func (hs *HTTPServer) handlePriceChanges(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 1, 30)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 50, 1, 200)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	rows, err := hs.cfg.Store.PriceChanges(c.Request.Context(), days, limit)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch price changes", err))
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (hs *HTTPServer) handleRankingChanges(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 1, 30)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 50, 1, 200)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	changeType, ok := NormalizeChangeType(c.Query("change_type"))
	if !ok {
		hs.handleError(c, NewValidationError("change_type must be one of up, down, 상승, 하락"))
		return
	}
	rows, err := hs.cfg.Store.RankingChanges(c.Request.Context(), days, changeType, limit)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch ranking changes", err))
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (hs *HTTPServer) handleJobHistory(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20, 1, 100)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	jobs, err := hs.cfg.Store.JobHistory(c.Request.Context(), limit)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch job history", err))
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (hs *HTTPServer) handleBrandTrend(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 1, 30)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	name := c.Param("name")
	data, err := hs.cfg.Store.BrandTrend(c.Request.Context(), name, days)
	if err != nil {
		hs.handleError(c, NewInternalError("fetch brand trend", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"brand_name":  name,
		"period_days": days,
		"data":        data,
	})
}

func (hs *HTTPServer) handleProductTrend(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 1, 30)
	if err != nil {
		hs.handleError(c, err)
		return
	}
	id := c.Param("id")
	trend, err := hs.cfg.Store.ProductTrend(c.Request.Context(), id, days)
	switch {
	case errors.Is(err, ErrNotFound):
		hs.handleError(c, NewNotFoundError("Product "+id+" not found"))
		return
	case err != nil:
		hs.handleError(c, NewInternalError("fetch product trend", err))
		return
	}
	c.JSON(http.StatusOK, trend)
}

func (hs *HTTPServer) handleCrawlStatus(c *gin.Context) {
	st, err := hs.cfg.Store.CrawlStatus(c.Request.Context())
	if err != nil {
		hs.handleError(c, NewInternalError("get crawl status", err))
		return
	}
	if hs.cfg.Crawler != nil {
		st.Running = hs.cfg.Crawler.Running()
	}
	if hs.cfg.Scheduler != nil {
		if next := hs.cfg.Scheduler.NextRun(); !next.IsZero() {
			st.NextScheduled = &next
		}
	}
	c.JSON(http.StatusOK, st)
}

func (hs *HTTPServer) handleCrawlTrigger(c *gin.Context) {
	if hs.cfg.Crawler == nil {
		hs.handleError(c, NewInternalError("start manual crawl", errors.New("crawler not configured")))
		return
	}
	run, err := hs.cfg.Crawler.Trigger(hs.cfg.BaseCtx, "api")
	if errors.Is(err, ErrCrawlInProgress) {
		hs.handleError(c, NewConflictError(err))
		return
	}
	if err != nil {
		hs.handleError(c, NewInternalError("start manual crawl", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":         "started",
		"message":        "Manual crawl started",
		"run_id":         run.ID,
		"estimated_time": "2-3 minutes",
		"timestamp":      run.Start.In(hs.cfg.Loc).Format(time.RFC3339),
	})
}

func (hs *HTTPServer) handleBrandWindow(c *gin.Context) {
	if hs.cfg.CH == nil {
		hs.handleError(c, NewExternalError("clickhouse", errors.New("ClickHouse not configured")))
		return
	}
	end := time.Now()
	start := end.Add(-7 * 24 * time.Hour)
	var err error
	if v := c.Query("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			hs.handleError(c, NewValidationError("start must be RFC3339"))
			return
		}
	}
	if v := c.Query("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			hs.handleError(c, NewValidationError("end must be RFC3339"))
			return
		}
	}
	if !end.After(start) {
		hs.handleError(c, NewValidationError("end must be after start"))
		return
	}
	limit, err := intQuery(c, "limit", 50, 1, 500)
	if err != nil {
		hs.handleError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	rows, err := hs.cfg.CH.BrandRankWindow(ctx, start, end, strings.TrimSpace(c.Query("category")), limit)
	if err != nil {
		hs.handleError(c, NewExternalError("clickhouse", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"start":  start.UTC(),
		"end":    end.UTC(),
		"brands": rows,
	})
}

func (hs *HTTPServer) handleMetrics(c *gin.Context) {
	if hs.cfg.M == nil {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, hs.cfg.M.Snapshot())
}
