package main

import "sort"

// Brand window ordering:
// observations desc, then avg ranking asc, then best ranking asc.
func sortBrandWindow(rows []BrandWindowRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Observations != b.Observations {
			return a.Observations > b.Observations
		}
		if a.AvgRanking != b.AvgRanking {
			return a.AvgRanking < b.AvgRanking
		}
		if a.BestRanking != b.BestRanking {
			return a.BestRanking < b.BestRanking
		}
		return a.BrandName < b.BrandName
	})
}

// sortCurrentRows orders dashboard rows by ranking, then product id.
func sortCurrentRows(rows []ProductView) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Ranking != rows[j].Ranking {
			return rows[i].Ranking < rows[j].Ranking
		}
		return rows[i].ProductID < rows[j].ProductID
	})
}
