package main

import (
	"testing"
	"time"
)

func TestDetectRankMove(t *testing.T) {
	cases := []struct {
		prev, cur int
		changed   bool
		diff      int
		typ       string
	}{
		{10, 10, false, 0, ""},
		{10, 3, true, 7, ChangeUp},
		{3, 10, true, -7, ChangeDown},
		{1, 2, true, -1, ChangeDown},
	}
	for _, c := range cases {
		mv, ok := DetectRankMove(c.prev, c.cur)
		if ok != c.changed {
			t.Fatalf("DetectRankMove(%d,%d) changed=%v, want %v", c.prev, c.cur, ok, c.changed)
		}
		if !ok {
			continue
		}
		if mv.Diff != c.diff || mv.ChangeType != c.typ {
			t.Errorf("DetectRankMove(%d,%d) = %+v, want diff=%d type=%s", c.prev, c.cur, mv, c.diff, c.typ)
		}
		if mv.OldRanking != c.prev || mv.NewRanking != c.cur {
			t.Errorf("rankings not carried: %+v", mv)
		}
	}
}

func TestDetectPriceMove(t *testing.T) {
	if _, ok := DetectPriceMove(nil, intPtr(100)); ok {
		t.Fatalf("nil previous must not count")
	}
	if _, ok := DetectPriceMove(intPtr(0), intPtr(100)); ok {
		t.Fatalf("zero previous must not count")
	}
	if _, ok := DetectPriceMove(intPtr(100), intPtr(100)); ok {
		t.Fatalf("same price must not count")
	}

	mv, ok := DetectPriceMove(intPtr(30000), intPtr(20000))
	if !ok {
		t.Fatalf("expected a move")
	}
	if mv.Amount != -10000 {
		t.Fatalf("amount = %d", mv.Amount)
	}
	if mv.Percent != -33.33 {
		t.Fatalf("percent = %v, want -33.33", mv.Percent)
	}
}

func TestHistoryStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	pt := func(h, rank int) HistoryPoint {
		return HistoryPoint{CollectedAt: now.Add(-time.Duration(h) * time.Hour), Ranking: rank}
	}

	if _, _, isNew := HistoryStatus(nil); !isNew {
		t.Fatalf("empty history is new")
	}
	if _, _, isNew := HistoryStatus([]HistoryPoint{pt(0, 4)}); !isNew {
		t.Fatalf("single point is new")
	}

	mv, changed, isNew := HistoryStatus([]HistoryPoint{pt(0, 2), pt(1, 9), pt(2, 30)})
	if isNew || !changed {
		t.Fatalf("changed=%v isNew=%v", changed, isNew)
	}
	if mv.Diff != 7 || mv.ChangeType != ChangeUp {
		t.Fatalf("move = %+v", mv)
	}

	if _, changed, _ := HistoryStatus([]HistoryPoint{pt(0, 5), pt(1, 5)}); changed {
		t.Fatalf("same ranking is not a change")
	}
}

func TestNormalizeChangeType(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"":      {"", true},
		"up":    {ChangeUp, true},
		" UP ":  {ChangeUp, true},
		"상승":    {ChangeUp, true},
		"down":  {ChangeDown, true},
		"하락":    {ChangeDown, true},
		"flat":  {"", false},
		"upper": {"", false},
	}
	for in, c := range cases {
		got, ok := NormalizeChangeType(in)
		if got != c.want || ok != c.ok {
			t.Errorf("NormalizeChangeType(%q) = %q,%v want %q,%v", in, got, ok, c.want, c.ok)
		}
	}
}

func TestAggregateBrands(t *testing.T) {
	products := []ScrapedProduct{
		{Rank: 1, BrandName: "LOW CLASSIC", SalePrice: intPtr(100000), DiscountRate: floatPtr(10)},
		{Rank: 5, BrandName: "LOW CLASSIC", SalePrice: intPtr(50000)},
		{Rank: 3, BrandName: "LOW CLASSIC"},
		{Rank: 2, BrandName: unknownValue, SalePrice: intPtr(1)},
		{Rank: 4, BrandName: "  "},
	}
	got := AggregateBrands(products)
	if len(got) != 1 {
		t.Fatalf("expected only the known brand, got %d", len(got))
	}
	a := got["LOW CLASSIC"]
	if a.ProductCount != 3 || a.MinRanking != 1 || a.MaxRanking != 5 {
		t.Fatalf("aggregate = %+v", a)
	}
	if a.AvgRanking != 3 {
		t.Fatalf("avg ranking = %v", a.AvgRanking)
	}
	if a.AvgPrice == nil || *a.AvgPrice != 75000 {
		t.Fatalf("avg price = %v", a.AvgPrice)
	}
	if *a.MinPrice != 50000 || *a.MaxPrice != 100000 || a.TotalValue != 150000 {
		t.Fatalf("price bounds = %d..%d total=%d", *a.MinPrice, *a.MaxPrice, a.TotalValue)
	}
	if a.AvgDiscountRate == nil || *a.AvgDiscountRate != 10 {
		t.Fatalf("avg discount = %v", a.AvgDiscountRate)
	}
}
