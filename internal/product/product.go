// Package product derives comparison and summary views from search results.
package product

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pricefinder/pricefinder/internal/domain"
)

const (
	comparisonLimit = 5
	nameLimit       = 30
	currencySuffix  = "원"
)

var (
	priceReplacer = strings.NewReplacer(",", "", currencySuffix, "", "₩", "", " ", "")
	plainDecimal  = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)
)

// ParsePrice converts a formatted price such as "1,299,000원" to a number.
// An empty price is zero. Only plain decimal digits are accepted, so "NaN",
// "Inf" and hex floats are errors.
func ParsePrice(text string) (float64, error) {
	cleaned := priceReplacer.Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return 0, nil
	}
	if !plainDecimal.MatchString(cleaned) {
		return 0, fmt.Errorf("parse price %q: not a decimal number", text)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse price %q: out of range", text)
	}
	return v, nil
}

// FormatPrice renders a price with thousands separators, rounded half to
// even to a whole unit. Non-finite values render as zero.
func FormatPrice(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	n := int64(math.RoundToEven(v))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteString(currencySuffix)
	return b.String()
}

// Row is one line of a price comparison.
type Row struct {
	Rank   string   `json:"rank"`
	Name   string   `json:"name"`
	Price  string   `json:"price"`
	Store  string   `json:"store"`
	Rating *float64 `json:"rating,omitempty"`
}

// Compare returns the cheapest products (at most five) in ascending price
// order. Products whose price cannot be parsed sort as zero.
func Compare(products []domain.Product) []Row {
	type priced struct {
		p     domain.Product
		value float64
	}
	items := make([]priced, 0, len(products))
	for _, p := range products {
		v, err := ParsePrice(p.Price)
		if err != nil {
			v = 0
		}
		items = append(items, priced{p: p, value: v})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].value < items[j].value })

	if len(items) > comparisonLimit {
		items = items[:comparisonLimit]
	}
	rows := make([]Row, 0, len(items))
	for i, it := range items {
		rows = append(rows, Row{
			Rank:   rankLabel(i),
			Name:   truncateName(orDefault(it.p.Name, "N/A")),
			Price:  orDefault(it.p.Price, "N/A"),
			Store:  orDefault(it.p.Store, "N/A"),
			Rating: it.p.Rating,
		})
	}
	return rows
}

// Summary aggregates a product list.
type Summary struct {
	Count      int    `json:"count"`
	PriceCount int    `json:"price_count"`
	Average    string `json:"average,omitempty"`
	Min        string `json:"min,omitempty"`
	Max        string `json:"max,omitempty"`
}

// Summarize counts products and computes average, minimum and maximum over
// those with a parseable, non-empty price.
func Summarize(products []domain.Product) Summary {
	s := Summary{Count: len(products)}

	var total float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range products {
		if p.Price == "" {
			continue
		}
		v, err := ParsePrice(p.Price)
		if err != nil {
			continue
		}
		s.PriceCount++
		total += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if s.PriceCount > 0 {
		s.Average = FormatPrice(total / float64(s.PriceCount))
		s.Min = FormatPrice(lo)
		s.Max = FormatPrice(hi)
	}
	return s
}

func rankLabel(i int) string {
	switch i {
	case 0:
		return "1st"
	case 1:
		return "2nd"
	case 2:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", i+1)
	}
}

func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= nameLimit {
		return name
	}
	return string([]rune(name)[:nameLimit]) + "..."
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
