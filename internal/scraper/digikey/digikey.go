// Package digikey parses Digi-Key product pages.
package digikey

import (
	"PriceWatch/internal/models"
	"PriceWatch/internal/scraper"

	"github.com/PuerkitoBio/goquery"
)

// Vendor is the registry identifier of this parser.
const Vendor = "digikey"

const currency = "USD"

// Columns are quantity, unit price, extended price.
var priceTable = scraper.TierTable{
	Tables:   []string{"table[data-testid='pricing-table']", "#pricing table", "table.product-dollars"},
	Row:      "tbody tr",
	Quantity: "td:nth-child(1)",
	Price:    "td:nth-child(3)",
}

var headlinePrice = []string{
	"[data-testid='unit-price']",
	"#product-unit-price",
}

var stock = scraper.StockRules{
	Selectors:  []string{"[data-testid='qty-available-messages']", "#quantityAvailable", ".product-details-quantity-available"},
	OutOfStock: []string{"out of stock", "not stocked", "obsolete", "discontinued"},
}

var leadTime = []string{
	"[data-testid='std-lead-time']",
	"#standard-lead-time",
}

// Parser is the Digi-Key parser.
type Parser struct{}

// New returns a Digi-Key parser.
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
