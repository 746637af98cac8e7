package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func runReport(t *testing.T, s *Store, kind string, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewReporter(s, &buf, LoadSeoul()).Run(context.Background(), kind, args); err != nil {
		t.Fatalf("report %s: %v", kind, err)
	}
	return buf.String()
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestReportViews(t *testing.T) {
	s := seedStore(t)

	assertContains(t, runReport(t, s, "rankings", "5"),
		"현재 Top 5 상품", "수집 시간: 2024-05-01 14:00:00 KST", "1위", "BrandB", "20,000원", "50.0%")

	assertContains(t, runReport(t, s, "brands"),
		"브랜드 통계 (최근 24시간)", "BrandA", "1.5개")

	assertContains(t, runReport(t, s, "history", "PROD_A"),
		"상품 이력 PROD_A (최근 7일)", "변동 분석:", "▼ 순위 1계단 하락", "가격 변동: -2,000원 (-20.0%)")

	assertContains(t, runReport(t, s, "movers-up"), "순위 급상승 Top 10", "2→1위", "▲1위")
	assertContains(t, runReport(t, s, "movers-down"), "순위 급하락 Top 10", "▼1위")

	assertContains(t, runReport(t, s, "prices"),
		"가격 인상 Top 10", "(없음)", "가격 인하 Top 10", "10,000원 → 8,000원", "-20.0%")

	assertContains(t, runReport(t, s, "stats"), "총 제품 수", "4개", "성공률", "50.0%")

	all := runReport(t, s, "all")
	assertContains(t, all, "데이터베이스 통계", "현재 Top 10 상품", "순위 급상승 Top 5")
}

func TestReportEmptyAndErrors(t *testing.T) {
	s := newTestStore(t)

	assertContains(t, runReport(t, s, "rankings"), "데이터가 없습니다.")
	assertContains(t, runReport(t, s, "history", "PROD_NOPE", "3"), "상품 ID 'PROD_NOPE'의 데이터가 없습니다.")
	assertContains(t, runReport(t, s, "movers-down"), "순위 급하락 데이터가 없습니다.")

	r := NewReporter(s, &bytes.Buffer{}, nil)
	for _, c := range []struct {
		kind string
		args []string
	}{
		{"weekly", nil},
		{"history", nil},
		{"rankings", []string{"ten"}},
		{"brands", []string{"-1"}},
	} {
		if err := r.Run(context.Background(), c.kind, c.args); err == nil {
			t.Errorf("report %s %v should fail", c.kind, c.args)
		}
	}
}

func TestReportTableKeepsHeaderAboveRows(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(nil, &buf, LoadSeoul()).table(
		[]string{"순위", "브랜드"},
		[][]string{{"1", "BrandB"}, {"2", "BrandA"}},
	)
	out := buf.String()
	assertContains(t, out, "순위", "BrandB", "BrandA")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("want border, header, divider, 2 rows, border; got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "순위") || !strings.Contains(lines[3], "BrandB") || !strings.Contains(lines[4], "BrandA") {
		t.Fatalf("unexpected layout:\n%s", out)
	}
}
