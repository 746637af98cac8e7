package main

import (
	"math"
	"strings"
)

// RankMove is a ranking movement between two observations of one product.
// Diff is previous minus current, so a positive value means the product moved up.
type RankMove struct {
	OldRanking int    `json:"old_ranking"`
	NewRanking int    `json:"new_ranking"`
	Diff       int    `json:"ranking_diff"`
	ChangeType string `json:"change_type"`
}

// DetectRankMove returns false when the ranking did not change.
func DetectRankMove(previous, current int) (RankMove, bool) {
	if previous == current {
		return RankMove{}, false
	}
	diff := previous - current
	typ := ChangeDown
	if diff > 0 {
		typ = ChangeUp
	}
	return RankMove{OldRanking: previous, NewRanking: current, Diff: diff, ChangeType: typ}, true
}

// PriceMove is a sale price movement between two observations.
type PriceMove struct {
	Previous int
	Current  int
	Amount   int
	Percent  float64
}

// DetectPriceMove needs both prices present and non-zero.
func DetectPriceMove(previous, current *int) (PriceMove, bool) {
	if previous == nil || current == nil || *previous == 0 || *current == 0 {
		return PriceMove{}, false
	}
	if *previous == *current {
		return PriceMove{}, false
	}
	amount := *current - *previous
	pct := float64(amount) / float64(*previous) * 100
	return PriceMove{
		Previous: *previous,
		Current:  *current,
		Amount:   amount,
		Percent:  math.Round(pct*100) / 100,
	}, true
}

// HistoryStatus classifies a product from its newest-first history, the way the
// dashboard badges it: fewer than two points is new, otherwise compare the two
// most recent observations.
func HistoryStatus(history []HistoryPoint) (move RankMove, changed bool, isNew bool) {
	if len(history) < 2 {
		return RankMove{}, false, true
	}
	move, changed = DetectRankMove(history[1].Ranking, history[0].Ranking)
	return move, changed, false
}

// NormalizeChangeType accepts the english and korean spellings used by clients.
func NormalizeChangeType(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case ChangeUp, "상승":
		return ChangeUp, true
	case ChangeDown, "하락":
		return ChangeDown, true
	default:
		return "", false
	}
}

func knownBrand(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && name != unknownValue
}

// BrandAggregate summarises one brand inside a single snapshot.
type BrandAggregate struct {
	BrandName       string
	ProductCount    int
	AvgRanking      float64
	AvgPrice        *float64
	MinPrice        *int
	MaxPrice        *int
	AvgDiscountRate *float64
	MinRanking      int
	MaxRanking      int
	TotalValue      int64
}

// AggregateBrands groups a snapshot by brand. Unknown brands are skipped;
// averages ignore missing values the way SQL AVG does.
func AggregateBrands(products []ScrapedProduct) map[string]*BrandAggregate {
	type acc struct {
		agg      *BrandAggregate
		rankSum  int
		priceSum int64
		priceN   int
		discSum  float64
		discN    int
	}
	accs := make(map[string]*acc)

	for _, p := range products {
		if !knownBrand(p.BrandName) {
			continue
		}
		a := accs[p.BrandName]
		if a == nil {
			a = &acc{agg: &BrandAggregate{BrandName: p.BrandName, MinRanking: p.Rank, MaxRanking: p.Rank}}
			accs[p.BrandName] = a
		}
		a.agg.ProductCount++
		a.rankSum += p.Rank
		if p.Rank < a.agg.MinRanking {
			a.agg.MinRanking = p.Rank
		}
		if p.Rank > a.agg.MaxRanking {
			a.agg.MaxRanking = p.Rank
		}
		if p.SalePrice != nil {
			v := *p.SalePrice
			a.priceSum += int64(v)
			a.priceN++
			if a.agg.MinPrice == nil || v < *a.agg.MinPrice {
				a.agg.MinPrice = intPtr(v)
			}
			if a.agg.MaxPrice == nil || v > *a.agg.MaxPrice {
				a.agg.MaxPrice = intPtr(v)
			}
		}
		if p.DiscountRate != nil {
			a.discSum += *p.DiscountRate
			a.discN++
		}
	}

	out := make(map[string]*BrandAggregate, len(accs))
	for name, a := range accs {
		a.agg.AvgRanking = float64(a.rankSum) / float64(a.agg.ProductCount)
		if a.priceN > 0 {
			a.agg.AvgPrice = floatPtr(float64(a.priceSum) / float64(a.priceN))
			a.agg.TotalValue = a.priceSum
		}
		if a.discN > 0 {
			a.agg.AvgDiscountRate = floatPtr(a.discSum / float64(a.discN))
		}
		out[name] = a.agg
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func stringPtr(v string) *string  { return &v }
