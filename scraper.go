package main

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultMaxProducts = 200

var (
	imageIDRe = regexp.MustCompile(`/(\d+)_[A-Z0-9]+\.jpg`)
	urlIDRes  = []*regexp.Regexp{
		regexp.MustCompile(`/product/(\d+)`),
		regexp.MustCompile(`/goods/(\d+)`),
		regexp.MustCompile(`productId=(\d+)`),
		regexp.MustCompile(`goodsId=(\d+)`),
		regexp.MustCompile(`/(\d+)$`),
	}
	numberRe = regexp.MustCompile(`[\d,]+`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// ParseBestPage extracts ranked products from a rendered best-seller page.
// Items are ranked by document order; a malformed item is skipped.
func ParseBestPage(html string, cat Category, max int, collectedAt time.Time, log *Logger) ([]ScrapedProduct, error) {
	if max <= 0 {
		max = defaultMaxProducts
	}
	if log == nil {
		log = NewNopLogger()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	stamp := collectedAt.Format(time.RFC3339)
	items := doc.Find("div.product-item")
	out := make([]ScrapedProduct, 0, min(items.Length(), max))

	items.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		rank := i + 1
		if rank > max {
			return false
		}
		p, err := parseProductItem(sel, rank)
		if err != nil {
			log.Warnf("category=%s item %d skipped: %v", cat.Key, rank, err)
			return true
		}
		p.Category = cat.Name
		p.CategoryKey = cat.Key
		p.CollectedAt = stamp
		out = append(out, p)
		return true
	})
	return out, nil
}

func parseProductItem(sel *goquery.Selection, rank int) (p ScrapedProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	brand, name := unknownValue, unknownValue
	titles := sel.Find(".prdc-title span.text")
	if titles.Length() > 0 {
		brand = orDefault(strings.TrimSpace(titles.Eq(0).Text()), unknownValue)
	}
	if titles.Length() > 1 {
		name = orDefault(strings.TrimSpace(titles.Eq(1).Text()), unknownValue)
	}

	orig, sale, disc := parsePrices(sel)

	image := unknownValue
	if img := sel.Find("img").First(); img.Length() > 0 {
		src, _ := img.Attr("src")
		if strings.TrimSpace(src) == "" {
			src, _ = img.Attr("data-src")
		}
		if src = strings.TrimSpace(src); src != "" {
			image = absoluteURL(src)
		}
	}

	link := unknownValue
	if a := sel.Find("a[href]").First(); a.Length() > 0 {
		href, _ := a.Attr("href")
		if href = strings.TrimSpace(href); href != "" && !strings.HasPrefix(href, "javascript:") {
			link = absoluteURL(href)
		}
	}

	return ScrapedProduct{
		Rank:          rank,
		ProductID:     productIDFor(rank, brand, name, image, link),
		ProductName:   name,
		BrandName:     brand,
		OriginalPrice: orig,
		SalePrice:     sale,
		DiscountRate:  disc,
		ImageURL:      image,
		ProductURL:    link,
	}, nil
}

func parsePrices(sel *goquery.Selection) (orig, sale *int, disc *float64) {
	price := sel.Find(".prdc-price").First()
	if price.Length() == 0 {
		return nil, nil, nil
	}
	if el := price.Find(".customer-price").First(); el.Length() > 0 {
		orig = extractNumber(el.Text())
	}
	if el := price.Find(".final-discount em").First(); el.Length() > 0 {
		if m := digitsRe.FindString(el.Text()); m != "" {
			if v, err := strconv.Atoi(m); err == nil {
				disc = floatPtr(float64(v))
			}
		}
	}
	if el := price.Find(".final-price strong").First(); el.Length() > 0 {
		sale = extractNumber(el.Text())
	}
	// no sale price means the item sells at list price
	if (sale == nil || *sale == 0) && orig != nil {
		sale = intPtr(*orig)
	}
	return orig, sale, disc
}

// extractNumber reads the first run of digits and commas, e.g. "128,000원".
func extractNumber(s string) *int {
	m := numberRe.FindString(strings.TrimSpace(s))
	m = strings.ReplaceAll(m, ",", "")
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &v
}

// productIDFor prefers the numeric id in the image path, then the link, then a
// stable hash of rank, brand and name.
func productIDFor(rank int, brand, name, image, link string) string {
	if image != unknownValue {
		if m := imageIDRe.FindStringSubmatch(image); m != nil {
			return "PROD_" + m[1]
		}
	}
	if link != unknownValue {
		for _, re := range urlIDRes {
			if m := re.FindStringSubmatch(link); m != nil {
				return "PROD_" + m[1]
			}
		}
		return fmt.Sprintf("PROD_%06d", fnvMod(link, 1_000_000))
	}
	return fmt.Sprintf("PROD_%07d", fnvMod(fmt.Sprintf("%d_%s_%s", rank, brand, name), 10_000_000))
}

func fnvMod(s string, mod uint32) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32() % mod
}

func absoluteURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "/"):
		return displayBaseURL + u
	default:
		return displayBaseURL + "/" + u
	}
}
