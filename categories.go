package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const displayBaseURL = "https://display.wconcept.co.kr"

type Category struct {
	Key                string `yaml:"key" json:"key"`
	Name               string `yaml:"name" json:"name"`
	DisplayCategory    string `yaml:"display_category" json:"display_category"`
	DisplaySubCategory string `yaml:"display_sub_category" json:"display_sub_category"`
}

// URL is the best-seller page for the category.
func (c Category) URL(base string) string {
	if base == "" {
		base = displayBaseURL
	}
	q := url.Values{}
	q.Set("displayCategoryType", c.DisplayCategory)
	q.Set("displaySubCategoryType", c.DisplaySubCategory)
	q.Set("gnbType", "Y")
	return strings.TrimRight(base, "/") + "/rn/best?" + q.Encode()
}

type categoriesFile struct {
	Categories []Category `yaml:"categories"`
}

// DefaultCategories mirrors the shipped categories.yaml.
func DefaultCategories() []Category {
	return []Category{
		{Key: "outer", Name: "아우터", DisplayCategory: "10101", DisplaySubCategory: "10101201"},
		{Key: "dress", Name: "원피스", DisplayCategory: "10101", DisplaySubCategory: "10101202"},
		{Key: "blouse", Name: "블라우스", DisplayCategory: "10101", DisplaySubCategory: "10101203"},
		{Key: "shirt", Name: "셔츠", DisplayCategory: "10101", DisplaySubCategory: "10101204"},
		{Key: "tshirt", Name: "티셔츠", DisplayCategory: "10101", DisplaySubCategory: "10101205"},
		{Key: "knit", Name: "니트", DisplayCategory: "10101", DisplaySubCategory: "10101206"},
		{Key: "skirt", Name: "스커트", DisplayCategory: "10101", DisplaySubCategory: "10101208"},
		{Key: "underwear", Name: "언더웨어", DisplayCategory: "10101", DisplaySubCategory: "10101212"},
	}
}

// LoadCategories reads a categories YAML file. A missing path yields the defaults.
func LoadCategories(path string) ([]Category, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCategories(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCategories(), nil
		}
		return nil, err
	}
	return parseCategories(b)
}

func parseCategories(b []byte) ([]Category, error) {
	var cf categoriesFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(cf.Categories))
	out := make([]Category, 0, len(cf.Categories))
	for _, c := range cf.Categories {
		c.Key = strings.ToLower(strings.TrimSpace(c.Key))
		if c.Key == "" {
			continue
		}
		if _, ok := seen[c.Key]; ok {
			continue
		}
		if c.DisplayCategory == "" || c.DisplaySubCategory == "" {
			return nil, fmt.Errorf("category %q: display_category and display_sub_category are required", c.Key)
		}
		if c.Name == "" {
			c.Name = c.Key
		}
		seen[c.Key] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no categories found")
	}
	return out, nil
}

// FilterCategories keeps only the requested keys, preserving file order.
func FilterCategories(all []Category, keys []string) ([]Category, error) {
	if len(keys) == 0 {
		return all, nil
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	out := make([]Category, 0, len(keys))
	for _, c := range all {
		if _, ok := want[c.Key]; ok {
			out = append(out, c)
			delete(want, c.Key)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for k := range want {
			missing = append(missing, k)
		}
		return nil, fmt.Errorf("unknown categories: %s", strings.Join(missing, ","))
	}
	return out, nil
}
