package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testView(id, brand string, rank int, at time.Time) ProductView {
	return ProductView{ProductID: id, BrandName: brand, ProductName: "item " + id, Ranking: rank, Price: 10000 * rank, CollectedAt: at}
}

func TestLatestOnlyAndFilterBrand(t *testing.T) {
	old := time.Date(2024, 5, 1, 5, 16, 0, 0, time.UTC)
	cur := old.Add(time.Hour)
	in := []ProductView{
		testView("PROD_1", "A", 1, old),
		testView("PROD_2", "B", 2, cur),
		testView("PROD_3", "A", 1, cur),
	}

	latest := LatestOnly(in)
	if len(latest) != 2 {
		t.Fatalf("expected 2 latest rows, got %d", len(latest))
	}
	for _, p := range latest {
		if !p.CollectedAt.Equal(cur) {
			t.Fatalf("stale row kept: %+v", p)
		}
	}

	if got := FilterBrand(latest, " A "); len(got) != 1 || got[0].ProductID != "PROD_3" {
		t.Fatalf("brand filter = %+v", got)
	}
	if got := FilterBrand(latest, ""); len(got) != 2 {
		t.Fatalf("empty brand keeps all")
	}
	if got := LatestOnly(nil); len(got) != 0 {
		t.Fatalf("nil input")
	}
}

func TestBuildDashboardRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 6, 16, 0, 0, time.UTC)
	products := []ProductView{
		testView("PROD_UP", "A", 2, at),
		testView("PROD_DOWN", "B", 9, at),
		testView("PROD_SAME", "C", 4, at),
		testView("PROD_NEW", "D", 5, at),
		testView("PROD_MISSING", "E", 6, at),
	}
	h := func(ranks ...int) []HistoryPoint {
		out := make([]HistoryPoint, len(ranks))
		for i, r := range ranks {
			out[i] = HistoryPoint{CollectedAt: at.Add(-time.Duration(i) * time.Hour), Ranking: r}
		}
		return out
	}
	histories := map[string][]HistoryPoint{
		"PROD_UP":   h(2, 7),
		"PROD_DOWN": h(9, 3),
		"PROD_SAME": h(4, 4),
		"PROD_NEW":  h(5),
	}

	rows := BuildDashboardRows(products, histories)
	want := []string{"↑5", "↓6", "", "NEW", "NEW"}
	for i, r := range rows {
		if got := r.Badge(); got != want[i] {
			t.Errorf("%s badge = %q, want %q", r.ProductID, got, want[i])
		}
	}
	if rows[0].Change.Diff != 5 || rows[0].Change.ChangeType != ChangeUp {
		t.Fatalf("up move = %+v", rows[0].Change)
	}
	if rows[1].Change.Diff != -6 || rows[1].Change.ChangeType != ChangeDown {
		t.Fatalf("down move = %+v", rows[1].Change)
	}
}

func TestSummarizeBrands(t *testing.T) {
	at := time.Now()
	products := []ProductView{
		testView("1", "A", 1, at),
		testView("2", "A", 3, at),
		testView("3", "B", 2, at),
		testView("4", unknownValue, 4, at),
	}
	products[0].DiscountRate = floatPtr(20)
	products[1].DiscountRate = floatPtr(0)

	got := SummarizeBrands(products, 20)
	if len(got) != 2 {
		t.Fatalf("expected 2 brands, got %d", len(got))
	}
	a := got[0]
	if a.BrandName != "A" || a.ProductCount != 2 || a.MinRanking != 1 || a.MaxRanking != 3 {
		t.Fatalf("A = %+v", a)
	}
	if a.TotalValue != 40000 || a.AvgPrice != 20000 {
		t.Fatalf("A prices = %d %v", a.TotalValue, a.AvgPrice)
	}
	// zero discounts are not averaged in
	if a.AvgDiscountRate == nil || *a.AvgDiscountRate != 20 {
		t.Fatalf("A discount = %v", a.AvgDiscountRate)
	}
	if got[1].AvgDiscountRate != nil {
		t.Fatalf("B has no discounts")
	}

	if top := SummarizeBrands(products, 1); len(top) != 1 || top[0].BrandName != "A" {
		t.Fatalf("top 1 = %+v", top)
	}
}

func TestWriteRowsCSV(t *testing.T) {
	loc := LoadSeoul()
	at := time.Date(2024, 5, 1, 6, 16, 0, 0, time.UTC)
	p := testView("PROD_1", "LOW CLASSIC", 1, at)
	p.ProductName = `Coat, "wool"`
	p.Category = stringPtr("아우터")
	p.DiscountRate = floatPtr(25)
	rows := []DashboardRow{{ProductView: p, IsNew: true}}

	var buf bytes.Buffer
	if err := WriteRowsCSV(&buf, rows, loc); err != nil {
		t.Fatalf("WriteRowsCSV: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\uFEFF") {
		t.Fatalf("missing BOM")
	}

	recs, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\uFEFF"))).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(recs))
	}
	row := recs[1]
	if row[0] != "1" || row[1] != "NEW" || row[3] != `Coat, "wool"` || row[4] != "아우터" || row[6] != "25%" {
		t.Fatalf("row = %q", row)
	}
	if row[8] != "2024-05-01 15:16:00 KST" {
		t.Fatalf("collected_at = %q", row[8])
	}
}

func TestExportRows(t *testing.T) {
	dir := t.TempDir()
	loc := LoadSeoul()
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC) // 2024-05-02 KST
	rows := []DashboardRow{
		{ProductView: testView("PROD_1", "A", 1, now)},
		{ProductView: testView("PROD_2", "B", 2, now), Change: &RankMove{OldRanking: 5, NewRanking: 2, Diff: 3, ChangeType: ChangeUp}},
	}

	paths, err := exportRows(dir, rows, now, loc)
	if err != nil {
		t.Fatalf("exportRows: %v", err)
	}
	want := []string{
		filepath.Join(dir, "wconcept_top2_2024-05-02.csv"),
		filepath.Join(dir, "wconcept_top2_2024-05-02.json"),
	}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths = %v", paths)
	}

	b, err := os.ReadFile(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("json: %v", err)
	}
	if decoded[1]["product_id"] != "PROD_2" || decoded[1]["ranking_change"].(map[string]any)["change_type"] != "up" {
		t.Fatalf("json row = %v", decoded[1])
	}

	if _, err := exportRows(dir, nil, now, loc); err == nil {
		t.Fatalf("empty export should fail")
	}
}

func TestFormatKRW(t *testing.T) {
	cases := map[int]string{
		0:       "0원",
		900:     "900원",
		1000:    "1,000원",
		128000:  "128,000원",
		1234567: "1,234,567원",
		-45000:  "-45,000원",
	}
	for in, want := range cases {
		if got := FormatKRW(in); got != want {
			t.Errorf("FormatKRW(%d) = %q, want %q", in, got, want)
		}
	}
}
