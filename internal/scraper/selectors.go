package scraper

import (
	"strings"

	"PriceWatch/internal/models"
	"PriceWatch/utils"

	"github.com/PuerkitoBio/goquery"
)

const (
	// UnknownLeadTime is reported when no lead-time text is found.
	UnknownLeadTime = "Unknown"
	// LowStockBelow is the quantity under which stock counts as low.
	LowStockBelow   = 10
	defaultStockQty = 100
)

// DefaultStock is the neutral reading used when no availability indicator is found.
func DefaultStock() models.Stock {
	return models.Stock{Quantity: defaultStockQty, Status: models.StockUnknown}
}

// FirstText returns the trimmed text of the first selector that matches a
// non-empty element, trying selectors in order.
func FirstText(doc *goquery.Document, selectors []string) (string, bool) {
	for _, selector := range selectors {
		var text string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = utils.NormalizeSpace(s.Text())
			return text == ""
		})
		if text != "" {
			return text, true
		}
	}
	return "", false
}

// TierTable describes where a vendor keeps its quantity-break price table.
type TierTable struct {
	// Tables are candidate selectors for the table, tried in order.
	Tables []string
	// Row selects price rows inside the matched table.
	Row string
	// Quantity and Price select the break quantity and break price cells inside a row.
	Quantity string
	Price    string
}

// ParseTierTable reads the first candidate table that yields at least one row.
// The unit price of a row is its break price divided by its break quantity.
func ParseTierTable(doc *goquery.Document, table TierTable, currency string) []models.PriceTier {
	for _, selector := range table.Tables {
		var tiers []models.PriceTier
		doc.Find(selector).First().Find(table.Row).Each(func(_ int, row *goquery.Selection) {
			qty, ok := utils.ParseQuantity(row.Find(table.Quantity).First().Text())
			if !ok || qty <= 0 {
				return
			}
			price, ok := utils.ParsePriceOK(row.Find(table.Price).First().Text())
			if !ok {
				return
			}
			tiers = append(tiers, models.PriceTier{
				MinQuantity: qty,
				UnitPrice:   price / float64(qty),
				Currency:    currency,
			})
		})
		if len(tiers) > 0 {
			return tiers
		}
	}
	return nil
}

// HeadlinePrice reads a single price from the first matching selector.
func HeadlinePrice(doc *goquery.Document, selectors []string, currency string) ([]models.PriceTier, bool) {
	for _, selector := range selectors {
		text, ok := FirstText(doc, []string{selector})
		if !ok {
			continue
		}
		if price, ok := utils.ParsePriceOK(text); ok {
			return []models.PriceTier{{MinQuantity: 1, UnitPrice: price, Currency: currency}}, true
		}
	}
	return nil, false
}

// SoftPriceFallback is the synthetic price reported by vendors that do not
// treat a missing price as an error.
func SoftPriceFallback(currency string) []models.PriceTier {
	return []models.PriceTier{{MinQuantity: 1, UnitPrice: 0, Currency: currency}}
}

// StockRules describes a vendor's availability indicator.
type StockRules struct {
	Selectors  []string
	OutOfStock []string
}

// ParseStockWith applies rules to doc. Out-of-stock phrases win over numbers;
// otherwise the first integer in the indicator is the quantity.
func ParseStockWith(doc *goquery.Document, rules StockRules) models.Stock {
	text, ok := FirstText(doc, rules.Selectors)
	if !ok {
		return DefaultStock()
	}
	return ClassifyStock(text, rules.OutOfStock)
}

// ClassifyStock turns availability text into a stock reading.
func ClassifyStock(text string, outOfStock []string) models.Stock {
	lower := strings.ToLower(text)
	for _, phrase := range outOfStock {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return models.Stock{Quantity: 0, Status: models.StockOutOfStock}
		}
	}

	qty, ok := utils.ParseQuantity(text)
	if !ok {
		return DefaultStock()
	}
	if qty < LowStockBelow {
		return models.Stock{Quantity: qty, Status: models.StockLow}
	}
	return models.Stock{Quantity: qty, Status: models.StockInStock}
}

// LeadTime returns the first matching lead-time text or UnknownLeadTime.
func LeadTime(doc *goquery.Document, selectors []string) string {
	if text, ok := FirstText(doc, selectors); ok {
		return text
	}
	return UnknownLeadTime
}
