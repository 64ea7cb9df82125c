package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// priceRegex finds the first price-like number: integers (1,079), decimals (0.452) and commas.
var priceRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// intRegex finds the first integer run, allowing thousands separators.
var intRegex = regexp.MustCompile(`\d[\d,]*`)

// ParsePriceOK cleans a price string such as "₩1,234원" or "$0.452" and
// converts it to a float64. ok is false when nothing price-like is found.
func ParsePriceOK(priceStr string) (float64, bool) {
	found := priceRegex.FindString(priceStr)
	if found == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(strings.ReplaceAll(found, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// ParseQuantity extracts the first integer run from s ("12,500 In Stock" -> 12500).
func ParseQuantity(s string) (int, bool) {
	found := intRegex.FindString(s)
	if found == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(found, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeSpace collapses runs of whitespace and trims the result.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
