// Package mouser parses Mouser Electronics product pages.
package mouser

import (
	"PriceWatch/internal/models"
	"PriceWatch/internal/scraper"

	"github.com/PuerkitoBio/goquery"
)

// Vendor is the registry identifier of this parser.
const Vendor = "mouser"

const currency = "USD"

// The pricing table lists the extended price for each quantity break.
var priceTable = scraper.TierTable{
	Tables:   []string{"table.pricing-table", "#pdpPricingAvailability table", ".pdp-pricing-table table"},
	Row:      "tr",
	Quantity: "th.qty-col, td.qty-col",
	Price:    "td.ext-price-col",
}

var headlinePrice = []string{
	"#pdpPricingAvailability .unit-price",
	".pdp-pricing-header .price",
}

var stock = scraper.StockRules{
	Selectors:  []string{"#pdpInStockLabel", ".pdp-availability .available-amount", "#pdpAvailability"},
	OutOfStock: []string{"non-stocked", "out of stock", "not available", "obsolete"},
}

var leadTime = []string{
	"#pdpFactoryLeadTime",
	".pdp-availability .factory-lead-time",
	"dd.lead-time",
}

// Parser is the Mouser parser.
type Parser struct{}

// New returns a Mouser parser.
func New() *Parser { return &Parser{} }

func (p *Parser) Vendor() string { return Vendor }

// ParsePrices never fails: with no price on the page it reports a zero unit price.
func (p *Parser) ParsePrices(doc *goquery.Document) ([]models.PriceTier, error) {
	if tiers := scraper.ParseTierTable(doc, priceTable, currency); len(tiers) > 0 {
		return tiers, nil
	}
	if tiers, ok := scraper.HeadlinePrice(doc, headlinePrice, currency); ok {
		return tiers, nil
	}
	return scraper.SoftPriceFallback(currency), nil
}

func (p *Parser) ParseStock(doc *goquery.Document) models.Stock {
	return scraper.ParseStockWith(doc, stock)
}

func (p *Parser) ParseLeadTime(doc *goquery.Document) string {
	return scraper.LeadTime(doc, leadTime)
}
