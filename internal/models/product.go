package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Product is a tracked electronic component together with the sites it is observed on.
type Product struct {
	ID         int64           `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	PartNumber string          `db:"part_number" json:"partNumber"`
	IsActive   bool            `db:"is_active" json:"isActive"`
	Threshold  *AlertThreshold `json:"alertThreshold,omitempty"`
	Targets    []ScrapeTarget  `json:"targets"`
}

// ActiveTargets returns the targets that should be scraped.
func (p *Product) ActiveTargets() []ScrapeTarget {
	var active []ScrapeTarget
	for _, t := range p.Targets {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active
}

// AlertThreshold holds the per-product alert limits.
type AlertThreshold struct {
	PriceChangePercent float64 `db:"price_change_percent" json:"priceChangePercent"`
	StockMin           int     `db:"stock_min" json:"stockMin"`
}

// ScrapeTarget identifies one (product, vendor) pair to observe.
type ScrapeTarget struct {
	ProductID  int64  `db:"product_id" json:"productId"`
	VendorName string `db:"vendor_name" json:"vendorName"`
	URL        string `db:"url" json:"url"`
	IsActive   bool   `db:"is_active" json:"isActive"`
}

// JSONStringMap stores a map[string]string as a JSON column.
type JSONStringMap map[string]string

// Value implements driver.Valuer.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONStringMap) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(b, m)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported type for JSON column")
	}
}

// TriggerType says who started a scrape.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// AttemptRecord is the outcome of one site scrape, written to the history store.
type AttemptRecord struct {
	ID           int64       `db:"id" json:"id"`
	ProductID    int64       `db:"product_id" json:"productId"`
	Site         string      `db:"site" json:"site"`
	URL          string      `db:"url" json:"url"`
	Success      bool        `db:"success" json:"success"`
	ErrorMessage string      `db:"error_message" json:"errorMessage,omitempty"`
	OldPrice     *float64    `db:"old_price" json:"oldPrice,omitempty"`
	NewPrice     *float64    `db:"new_price" json:"newPrice,omitempty"`
	OldStock     *int        `db:"old_stock" json:"oldStock,omitempty"`
	NewStock     *int        `db:"new_stock" json:"newStock,omitempty"`
	DurationMs   int64       `db:"duration_ms" json:"durationMs"`
	TriggerType  TriggerType `db:"trigger_type" json:"triggerType"`
	TriggeredBy  string      `db:"triggered_by" json:"triggeredBy,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
}
