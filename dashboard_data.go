package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DashboardRow is one product on screen with its ranking badge.
type DashboardRow struct {
	ProductView
	Change *RankMove `json:"ranking_change"`
	IsNew  bool      `json:"is_new"`
}

// LatestOnly keeps the rows from the newest collected_at.
func LatestOnly(products []ProductView) []ProductView {
	var latest time.Time
	for _, p := range products {
		if p.CollectedAt.After(latest) {
			latest = p.CollectedAt
		}
	}
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		if p.CollectedAt.Equal(latest) {
			out = append(out, p)
		}
	}
	return out
}

func FilterBrand(products []ProductView, brand string) []ProductView {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return products
	}
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		if p.BrandName == brand {
			out = append(out, p)
		}
	}
	return out
}

// BuildDashboardRows badges each product from its newest-first history.
// A product missing from histories counts as new.
func BuildDashboardRows(products []ProductView, histories map[string][]HistoryPoint) []DashboardRow {
	rows := make([]DashboardRow, 0, len(products))
	for _, p := range products {
		r := DashboardRow{ProductView: p}
		move, changed, isNew := HistoryStatus(histories[p.ProductID])
		switch {
		case isNew:
			r.IsNew = true
		case changed:
			mv := move
			r.Change = &mv
		}
		rows = append(rows, r)
	}
	return rows
}

// Badge renders the change column: NEW, ↑n, ↓n or blank.
func (r DashboardRow) Badge() string {
	switch {
	case r.IsNew:
		return "NEW"
	case r.Change == nil:
		return ""
	case r.Change.ChangeType == ChangeUp:
		return "↑" + strconv.Itoa(abs(r.Change.Diff))
	default:
		return "↓" + strconv.Itoa(abs(r.Change.Diff))
	}
}

// SummarizeBrands aggregates the visible products per brand, most products
// first, keeping the top n.
func SummarizeBrands(products []ProductView, n int) []BrandStatsView {
	type acc struct {
		count, discounted int
		total             int64
		discount          float64
		min, max          int
	}
	m := map[string]*acc{}
	for _, p := range products {
		if !knownBrand(p.BrandName) {
			continue
		}
		a, ok := m[p.BrandName]
		if !ok {
			a = &acc{min: p.Ranking, max: p.Ranking}
			m[p.BrandName] = a
		}
		a.count++
		a.total += int64(p.Price)
		if p.DiscountRate != nil && *p.DiscountRate > 0 {
			a.discount += *p.DiscountRate
			a.discounted++
		}
		a.min = min(a.min, p.Ranking)
		a.max = max(a.max, p.Ranking)
	}

	out := make([]BrandStatsView, 0, len(m))
	for name, a := range m {
		v := BrandStatsView{
			BrandName:    name,
			ProductCount: a.count,
			TotalValue:   a.total,
			AvgPrice:     float64(a.total) / float64(a.count),
			MinRanking:   a.min,
			MaxRanking:   a.max,
		}
		if a.discounted > 0 {
			v.AvgDiscountRate = floatPtr(a.discount / float64(a.discounted))
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductCount != out[j].ProductCount {
			return out[i].ProductCount > out[j].ProductCount
		}
		return out[i].BrandName < out[j].BrandName
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WriteRowsCSV writes a UTF-8 CSV with a BOM so spreadsheet apps pick the encoding.
func WriteRowsCSV(w io.Writer, rows []DashboardRow, loc *time.Location) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = false
	if err := cw.Write([]string{"ranking", "change", "brand_name", "product_name", "category", "price", "discount_rate", "product_url", "collected_at"}); err != nil {
		return err
	}
	for _, r := range rows {
		disc := ""
		if r.DiscountRate != nil {
			disc = strconv.FormatFloat(*r.DiscountRate, 'f', -1, 64) + "%"
		}
		rec := []string{
			strconv.Itoa(r.Ranking),
			r.Badge(),
			r.BrandName,
			r.ProductName,
			deref(r.Category),
			strconv.Itoa(r.Price),
			disc,
			deref(r.ProductURL),
			FormatKST(r.CollectedAt, loc),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteRowsJSON(w io.Writer, rows []DashboardRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rows)
}

// FormatKRW renders 128000 as "128,000원".
func FormatKRW(v int) string {
	return groupThousands(int64(v)) + "원"
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func formatPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
