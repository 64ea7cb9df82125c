package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StockStatus classifies an availability reading.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLow        StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// Stock is a parsed availability reading.
type Stock struct {
	Quantity int         `json:"quantity"`
	Status   StockStatus `json:"status"`
}

// PriceTier is one quantity break of a vendor price table.
type PriceTier struct {
	MinQuantity int     `json:"minQuantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Currency    string  `json:"currency"`
}

// PriceTiers is an ordered price table, stored as a JSON column.
type PriceTiers []PriceTier

// Value implements driver.Valuer.
func (p PriceTiers) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *PriceTiers) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		*p = nil
		return err
	}
	return json.Unmarshal(b, p)
}

// ReferencePrice is the unit price used for change detection: the quantity-1
// tier when present, otherwise the first tier, otherwise 0.
func (p PriceTiers) ReferencePrice() float64 {
	for _, t := range p {
		if t.MinQuantity == 1 {
			return t.UnitPrice
		}
	}
	if len(p) > 0 {
		return p[0].UnitPrice
	}
	return 0
}

// Currency returns the currency of the first tier.
func (p PriceTiers) Currency() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Currency
}

// Observation is one successful scrape of a (product, vendor) pair. It is never
// modified after it is created.
type Observation struct {
	ID            int64         `db:"id" json:"id"`
	ProductID     int64         `db:"product_id" json:"productId"`
	Vendor        string        `db:"vendor" json:"vendor"`
	URL           string        `db:"url" json:"url"`
	Timestamp     time.Time     `db:"scraped_at" json:"timestamp"`
	Prices        PriceTiers    `db:"prices" json:"prices"`
	StockQuantity int           `db:"stock_quantity" json:"stockQuantity"`
	StockStatus   StockStatus   `db:"stock_status" json:"stockStatus"`
	LeadTime      string        `db:"lead_time" json:"leadTime"`
	ScreenshotRef string        `db:"screenshot_ref" json:"screenshotRef"`
	RawMeta       JSONStringMap `db:"raw_meta" json:"rawMeta,omitempty"`
}

// ScrapeMeta describes where and when an observation was captured.
type ScrapeMeta struct {
	ScreenshotRef string    `json:"screenshotRef"`
	ScrapedAt     time.Time `json:"scrapedAt"`
	Vendor        string    `json:"vendor"`
	URL           string    `json:"url"`
}

// ScrapeResult is what the orchestrator returns on success.
type ScrapeResult struct {
	Observation *Observation `json:"observation"`
	Meta        ScrapeMeta   `json:"meta"`
}
