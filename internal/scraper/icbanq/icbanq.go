// Package icbanq parses product pages of the ICbanQ domestic component marketplace.
package icbanq

import (
	"PriceWatch/internal/models"
	"PriceWatch/internal/scraper"

	"github.com/PuerkitoBio/goquery"
)

// Vendor is the registry identifier of this parser.
const Vendor = "icbanq"

const currency = "KRW"

var priceTable = scraper.TierTable{
	Tables:   []string{"table.price_table", "#goodsPriceTable table", ".goods_price table"},
	Row:      "tbody tr",
	Quantity: "td:nth-child(1)",
	Price:    "td:nth-child(2)",
}

var headlinePrice = []string{
	"#sale_price",
	".goods_price .price strong",
	".goods_info .sell_price",
}

var stock = scraper.StockRules{
	Selectors:  []string{"#stock_qty", ".goods_stock .qty", ".goods_info .stock"},
	OutOfStock: []string{"품절", "재고없음", "재고 없음", "sold out", "단종"},
}

var leadTime = []string{
	"#delivery_term",
	".goods_delivery .lead_time",
	".goods_info .delivery",
}

// Parser is the ICbanQ parser.
type Parser struct{}

// New returns an ICbanQ parser.
func New() *Parser { return &Parser{} }

func (p *Parser) Vendor() string { return Vendor }

// ParsePrices fails with scraper.ErrPriceNotFound when neither the price table
// nor the headline price is present.
func (p *Parser) ParsePrices(doc *goquery.Document) ([]models.PriceTier, error) {
	if tiers := scraper.ParseTierTable(doc, priceTable, currency); len(tiers) > 0 {
		return tiers, nil
	}
	if tiers, ok := scraper.HeadlinePrice(doc, headlinePrice, currency); ok {
		return tiers, nil
	}
	return nil, scraper.ErrPriceNotFound
}

func (p *Parser) ParseStock(doc *goquery.Document) models.Stock {
	return scraper.ParseStockWith(doc, stock)
}

func (p *Parser) ParseLeadTime(doc *goquery.Document) string {
	return scraper.LeadTime(doc, leadTime)
}
