package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
)

var reportKinds = []string{"rankings", "brands", "history", "movers-up", "movers-down", "prices", "stats", "all"}

// Reporter prints the analytics views of the store as terminal tables.
type Reporter struct {
	store *Store
	loc   *time.Location
	w     io.Writer
	theme Theme
}

func NewReporter(store *Store, w io.Writer, loc *time.Location) *Reporter {
	if loc == nil {
		loc = LoadSeoul()
	}
	return &Reporter{store: store, loc: loc, w: w, theme: DefaultTheme()}
}

// Run dispatches one report by name; args are the optional positional
// parameters (limit, hours, product id, days).
func (r *Reporter) Run(ctx context.Context, kind string, args []string) error {
	switch kind {
	case "rankings":
		limit, err := argInt(args, 0, 20)
		if err != nil {
			return err
		}
		return r.Rankings(ctx, limit)
	case "brands":
		hours, err := argInt(args, 0, 24)
		if err != nil {
			return err
		}
		return r.Brands(ctx, hours, 20)
	case "history":
		if len(args) == 0 {
			return fmt.Errorf("history needs a product id (e.g. PROD_307602440)")
		}
		days, err := argInt(args, 1, 7)
		if err != nil {
			return err
		}
		return r.History(ctx, args[0], days)
	case "movers-up":
		return r.Movers(ctx, ChangeUp, 10)
	case "movers-down":
		return r.Movers(ctx, ChangeDown, 10)
	case "prices":
		hours, err := argInt(args, 0, 24)
		if err != nil {
			return err
		}
		return r.Prices(ctx, hours)
	case "stats":
		return r.Stats(ctx)
	case "all":
		return r.All(ctx)
	default:
		return fmt.Errorf("unknown report %q (one of %s)", kind, strings.Join(reportKinds, ", "))
	}
}

func argInt(args []string, i, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive number, got %q", args[i])
	}
	return n, nil
}

func (r *Reporter) All(ctx context.Context) error {
	steps := []func() error{
		func() error { return r.Stats(ctx) },
		func() error { return r.Rankings(ctx, 10) },
		func() error { return r.Brands(ctx, 24, 10) },
		func() error { return r.Movers(ctx, ChangeUp, 5) },
		func() error { return r.Prices(ctx, 24) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) heading(title string) {
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, r.theme.Title.Render(title))
}

func (r *Reporter) empty(msg string) {
	fmt.Fprintln(r.w, r.theme.Subtitle.Render(msg))
}

func (r *Reporter) table(headers []string, rows [][]string) {
	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			// row 0 is the header
			if row == 0 {
				return s.Bold(true)
			}
			return s
		})
	fmt.Fprintln(r.w, t.Render())
}

func (r *Reporter) Rankings(ctx context.Context, limit int) error {
	rows, err := r.store.LatestRankings(ctx, limit)
	if err != nil {
		return fmt.Errorf("latest rankings: %w", err)
	}
	r.heading(fmt.Sprintf("현재 Top %d 상품", limit))
	if len(rows) == 0 {
		r.empty("데이터가 없습니다.")
		return nil
	}
	r.empty("수집 시간: " + FormatKST(rows[0].CollectedAt, r.loc))

	out := make([][]string, 0, len(rows))
	for _, p := range rows {
		out = append(out, []string{
			strconv.Itoa(p.Ranking) + "위",
			p.BrandName,
			truncate(p.ProductName, 45),
			krwPtr(p.OriginalPrice),
			krwPtr(p.SalePrice),
			formatPercent(p.DiscountRate),
		})
	}
	r.table([]string{"순위", "브랜드", "상품명", "정가", "판매가", "할인율"}, out)
	return nil
}

func (r *Reporter) Brands(ctx context.Context, hours, limit int) error {
	stats, err := r.store.BrandStatistics(ctx, hours)
	if err != nil {
		return fmt.Errorf("brand statistics: %w", err)
	}
	r.heading(fmt.Sprintf("브랜드 통계 (최근 %d시간)", hours))
	if len(stats) == 0 {
		r.empty("데이터가 없습니다.")
		return nil
	}
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	out := make([][]string, 0, len(stats))
	for i, b := range stats {
		out = append(out, []string{
			strconv.Itoa(i + 1),
			b.BrandName,
			fmt.Sprintf("%.1f개", b.AvgProductCount),
			floatOr(b.AvgRanking, "%.1f"),
			krwFloat(b.AvgPrice),
			formatPercent(b.AvgDiscountRate),
		})
	}
	r.table([]string{"#", "브랜드", "평균 상품수", "평균 순위", "평균 가격", "평균 할인율"}, out)
	return nil
}

func (r *Reporter) History(ctx context.Context, productID string, days int) error {
	hist, err := r.store.ProductHistory(ctx, productID, days)
	r.heading(fmt.Sprintf("상품 이력 %s (최근 %d일)", productID, days))
	if errors.Is(err, ErrNotFound) || (err == nil && len(hist) == 0) {
		r.empty(fmt.Sprintf("상품 ID '%s'의 데이터가 없습니다.", productID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("product history: %w", err)
	}

	out := make([][]string, 0, len(hist))
	for _, h := range hist {
		out = append(out, []string{
			FormatKST(h.CollectedAt, r.loc),
			strconv.Itoa(h.Ranking) + "위",
			FormatKRW(h.Price),
			formatPercent(h.DiscountRate),
		})
	}
	r.table([]string{"수집 시간", "순위", "판매가", "할인율"}, out)

	if len(hist) < 2 {
		return nil
	}
	// newest first: hist[0] is now, the last point is the start of the window
	oldest, newest := hist[len(hist)-1], hist[0]
	fmt.Fprintln(r.w, "변동 분석:")
	switch d := oldest.Ranking - newest.Ranking; {
	case d > 0:
		fmt.Fprintf(r.w, "  ▲ 순위 %d계단 상승\n", d)
	case d < 0:
		fmt.Fprintf(r.w, "  ▼ 순위 %d계단 하락\n", -d)
	default:
		fmt.Fprintln(r.w, "  - 순위 변동 없음")
	}
	if diff := newest.Price - oldest.Price; diff != 0 && oldest.Price != 0 {
		pct := float64(diff) / float64(oldest.Price) * 100
		sign := "+"
		if diff < 0 {
			sign = "-"
		}
		fmt.Fprintf(r.w, "  가격 변동: %s%s원 (%+.1f%%)\n", sign, groupThousands(int64(abs(diff))), pct)
	}
	return nil
}

func (r *Reporter) Movers(ctx context.Context, changeType string, limit int) error {
	movers, err := r.store.RankingMovers(ctx, changeType, limit)
	if err != nil {
		return fmt.Errorf("ranking movers: %w", err)
	}
	name := "급상승"
	if changeType == ChangeDown {
		name = "급하락"
	}
	r.heading(fmt.Sprintf("순위 %s Top %d (최근 24시간)", name, limit))
	if len(movers) == 0 {
		r.empty(fmt.Sprintf("순위 %s 데이터가 없습니다.", name))
		return nil
	}
	out := make([][]string, 0, len(movers))
	for i, mv := range movers {
		sym := "▲"
		if mv.ChangeAmount < 0 {
			sym = "▼"
		}
		out = append(out, []string{
			strconv.Itoa(i + 1),
			mv.BrandName,
			truncate(mv.ProductName, 28),
			fmt.Sprintf("%d→%d위", mv.PreviousRanking, mv.CurrentRanking),
			fmt.Sprintf("%s%d위", sym, abs(mv.ChangeAmount)),
		})
	}
	r.table([]string{"#", "브랜드", "상품명", "이전→현재", "변동"}, out)
	return nil
}

func (r *Reporter) Prices(ctx context.Context, hours int) error {
	pm, err := r.store.PriceMovers(ctx, hours)
	if err != nil {
		return fmt.Errorf("price movers: %w", err)
	}
	r.heading(fmt.Sprintf("가격 변동 분석 (최근 %d시간)", hours))
	r.priceSection("가격 인상 Top 10", pm.Increased)
	r.priceSection("가격 인하 Top 10", pm.Decreased)
	return nil
}

func (r *Reporter) priceSection(title string, changes []PriceChangeView) {
	fmt.Fprintln(r.w, title)
	if len(changes) == 0 {
		r.empty("  (없음)")
		return
	}
	if len(changes) > 10 {
		changes = changes[:10]
	}
	out := make([][]string, 0, len(changes))
	for i, c := range changes {
		out = append(out, []string{
			strconv.Itoa(i + 1),
			c.BrandName,
			truncate(c.ProductName, 35),
			FormatKRW(c.OldPrice) + " → " + FormatKRW(c.NewPrice),
			fmt.Sprintf("%+.1f%%", c.PriceDiffPercent),
		})
	}
	r.table([]string{"#", "브랜드", "상품명", "가격", "변동률"}, out)
}

func (r *Reporter) Stats(ctx context.Context) error {
	st, err := r.store.DatabaseStats(ctx)
	if err != nil {
		return fmt.Errorf("database stats: %w", err)
	}
	r.heading("데이터베이스 통계")

	rows := [][]string{
		{"총 제품 수", fmt.Sprintf("%s개", groupThousands(st.TotalProducts))},
		{"총 브랜드 수", fmt.Sprintf("%s개", groupThousands(st.TotalBrands))},
		{"총 데이터 포인트", fmt.Sprintf("%s개", groupThousands(st.TotalDataPoints))},
		{"첫 수집", timeOr(st.FirstCollection, r.loc)},
		{"최근 수집", timeOr(st.LastCollection, r.loc)},
		{"총 작업 수", fmt.Sprintf("%d회", st.TotalScrapingJobs)},
		{"성공한 작업", fmt.Sprintf("%d회", st.SuccessfulJobs)},
	}
	if st.TotalScrapingJobs > 0 {
		rate := float64(st.SuccessfulJobs) / float64(st.TotalScrapingJobs) * 100
		rows = append(rows, []string{"성공률", fmt.Sprintf("%.1f%%", rate)})
	}
	r.table([]string{"항목", "값"}, rows)
	return nil
}

// BuildExport gathers the analytics export: the newest 200 rankings, 24h brand
// averages and the database summary.
func BuildExport(ctx context.Context, store *Store, now time.Time, loc *time.Location) (ExportFile, error) {
	rankings, err := store.LatestRankings(ctx, latestAllLimit)
	if err != nil {
		return ExportFile{}, fmt.Errorf("latest rankings: %w", err)
	}
	brands, err := store.BrandStatistics(ctx, 24)
	if err != nil {
		return ExportFile{}, fmt.Errorf("brand statistics: %w", err)
	}
	stats, err := store.DatabaseStats(ctx)
	if err != nil {
		return ExportFile{}, fmt.Errorf("database stats: %w", err)
	}
	return ExportFile{
		ExportedAt:      now.In(loc).Format(time.RFC3339),
		CurrentRankings: rankings,
		BrandStatistics: brands,
		DatabaseStats:   stats,
	}, nil
}

func exportName(now time.Time, loc *time.Location) string {
	return "export_" + archiveStamp(now, loc) + ".json"
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

func krwPtr(v *int) string {
	if v == nil {
		return "-"
	}
	return FormatKRW(*v)
}

func krwFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return FormatKRW(int(*v + 0.5))
}

func floatOr(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func timeOr(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return FormatKST(*t, loc)
}
