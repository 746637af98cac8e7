package main

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

const bestPageFixture = `<html><body><div class="list">
<div class="product-item">
  <a href="/product/307602440"><img src="https://image.wconcept.co.kr/productimg/image/img1/40/307602440_XY12.jpg"></a>
  <div class="prdc-title"><span class="text">LOW CLASSIC</span><span class="text">Wool half coat</span></div>
  <div class="prdc-price">
    <span class="customer-price">398,000원</span>
    <span class="final-discount"><em>25%</em></span>
    <span class="final-price"><strong>298,500</strong>원</span>
  </div>
</div>
<div class="product-item">
  <a href="https://www.wconcept.co.kr/Product/301111222"><img data-src="//cdn.example/no-id.png"></a>
  <div class="prdc-title"><span class="text">Matin Kim</span><span class="text">Logo knit</span></div>
  <div class="prdc-price"><span class="customer-price">89,000원</span></div>
</div>
<div class="product-item">
  <div class="prdc-title"><span class="text"></span></div>
</div>
</div></body></html>`

func TestParseBestPage(t *testing.T) {
	cat := Category{Key: "outer", Name: "아우터"}
	at := time.Date(2024, 5, 1, 6, 16, 0, 0, time.UTC)

	got, err := ParseBestPage(bestPageFixture, cat, 0, at, nil)
	if err != nil {
		t.Fatalf("ParseBestPage: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 products, got %d", len(got))
	}

	first := got[0]
	if first.Rank != 1 || first.ProductID != "PROD_307602440" {
		t.Fatalf("first = rank %d id %s", first.Rank, first.ProductID)
	}
	if first.BrandName != "LOW CLASSIC" || first.ProductName != "Wool half coat" {
		t.Fatalf("title = %q / %q", first.BrandName, first.ProductName)
	}
	if *first.OriginalPrice != 398000 || *first.SalePrice != 298500 || *first.DiscountRate != 25 {
		t.Fatalf("prices = %d %d %v", *first.OriginalPrice, *first.SalePrice, *first.DiscountRate)
	}
	if first.ProductURL != displayBaseURL+"/product/307602440" {
		t.Fatalf("url = %s", first.ProductURL)
	}
	if first.Category != "아우터" || first.CategoryKey != "outer" || first.CollectedAt != at.Format(time.RFC3339) {
		t.Fatalf("stamps = %q %q %q", first.Category, first.CategoryKey, first.CollectedAt)
	}

	second := got[1]
	if second.ProductID != "PROD_301111222" {
		t.Fatalf("id from link = %s", second.ProductID)
	}
	if second.ImageURL != "https://cdn.example/no-id.png" {
		t.Fatalf("image = %s", second.ImageURL)
	}
	// list price only: sale price falls back to it
	if second.SalePrice == nil || *second.SalePrice != 89000 || second.DiscountRate != nil {
		t.Fatalf("sale fallback = %v disc=%v", second.SalePrice, second.DiscountRate)
	}

	third := got[2]
	if third.BrandName != unknownValue || third.ProductName != unknownValue {
		t.Fatalf("empty title = %q / %q", third.BrandName, third.ProductName)
	}
	if !strings.HasPrefix(third.ProductID, "PROD_") || len(third.ProductID) != len("PROD_")+7 {
		t.Fatalf("hashed id = %s", third.ProductID)
	}
	if third.SalePrice != nil || third.OriginalPrice != nil {
		t.Fatalf("no prices expected")
	}
}

func TestParseBestPageRespectsMax(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, `<div class="product-item"><a href="/product/%d">x</a></div>`, 1000+i)
	}
	got, err := ParseBestPage(b.String(), Category{Key: "knit"}, 5, time.Now(), nil)
	if err != nil {
		t.Fatalf("ParseBestPage: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5, got %d", len(got))
	}
	if got[4].Rank != 5 || got[4].ProductID != "PROD_1004" {
		t.Fatalf("last = %+v", got[4])
	}
}

func TestProductIDForIsStable(t *testing.T) {
	a := productIDFor(3, "A", "B", unknownValue, unknownValue)
	b := productIDFor(3, "A", "B", unknownValue, unknownValue)
	if a != b {
		t.Fatalf("hash ids differ: %s vs %s", a, b)
	}
	if c := productIDFor(4, "A", "B", unknownValue, unknownValue); c == a {
		t.Fatalf("rank should change the hash")
	}
	if got := productIDFor(1, "A", "B", unknownValue, "https://x/goods/42"); got != "PROD_42" {
		t.Fatalf("goods link = %s", got)
	}
	if got := productIDFor(1, "A", "B", unknownValue, "https://x/item?goodsId=77&a=1"); got != "PROD_77" {
		t.Fatalf("goodsId query = %s", got)
	}
}

func TestExtractNumber(t *testing.T) {
	cases := map[string]int{
		"128,000원":   128000,
		" 9,900 ":    9900,
		"₩1,234,567": 1234567,
	}
	for in, want := range cases {
		got := extractNumber(in)
		if got == nil || *got != want {
			t.Errorf("extractNumber(%q) = %v, want %d", in, got, want)
		}
	}
	if got := extractNumber("가격 문의"); got != nil {
		t.Errorf("expected nil, got %d", *got)
	}
}

func TestAbsoluteURL(t *testing.T) {
	cases := map[string]string{
		"https://a/b": "https://a/b",
		"//cdn/x.jpg": "https://cdn/x.jpg",
		"/product/1":  displayBaseURL + "/product/1",
		"product/1":   displayBaseURL + "/product/1",
	}
	for in, want := range cases {
		if got := absoluteURL(in); got != want {
			t.Errorf("absoluteURL(%q) = %q, want %q", in, got, want)
		}
	}
}
