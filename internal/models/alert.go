package models

import "time"

// ChangeDelta is the difference between the newest observation and the one
// before it. Baseline is set when there was no previous observation.
type ChangeDelta struct {
	PriceChangePercent float64 `json:"priceChangePercent"`
	StockChange        int     `json:"stockChange"`
	Baseline           bool    `json:"baseline,omitempty"`
}

// AlertKind names the kind of change an alert reports.
type AlertKind string

const (
	AlertPriceIncrease AlertKind = "price-increase"
	AlertPriceDecrease AlertKind = "price-decrease"
	AlertStock         AlertKind = "stock-alert"
)

// AlertPayload is handed to the notification side when an alert fires.
type AlertPayload struct {
	ProductID     int64       `json:"productId"`
	Vendor        string      `json:"vendor"`
	URL           string      `json:"url,omitempty"`
	Kind          AlertKind   `json:"kind"`
	Delta         ChangeDelta `json:"delta"`
	PreviousPrice float64     `json:"previousPrice"`
	CurrentPrice  float64     `json:"currentPrice"`
	PreviousStock int         `json:"previousStock"`
	CurrentStock  int         `json:"currentStock"`
	Currency      string      `json:"currency,omitempty"`
	ObservedAt    time.Time   `json:"observedAt"`
}

// AlertDecision says whether an alert of Kind should fire.
type AlertDecision struct {
	ShouldAlert bool         `json:"shouldAlert"`
	Kind        AlertKind    `json:"kind"`
	Payload     AlertPayload `json:"payload"`
}
