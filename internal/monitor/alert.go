package monitor

import (
	"math"

	"PriceWatch/internal/models"
)

// Evaluation holds the two independent alert decisions for one delta.
type Evaluation struct {
	Price models.AlertDecision
	Stock models.AlertDecision
}

// Decisions returns the decisions that fired, price first.
func (e Evaluation) Decisions() []models.AlertDecision {
	var fired []models.AlertDecision
	if e.Price.ShouldAlert {
		fired = append(fired, e.Price)
	}
	if e.Stock.ShouldAlert {
		fired = append(fired, e.Stock)
	}
	return fired
}

// Any reports whether at least one decision fired.
func (e Evaluation) Any() bool {
	return e.Price.ShouldAlert || e.Stock.ShouldAlert
}

// Evaluate decides alert-worthiness of delta against threshold.
//
// The price alert fires when |priceChangePercent| >= threshold (inclusive).
// The stock alert compares the signed stock change, not the stock level,
// against StockMin, and only for drops: a restock never raises it.
func Evaluate(threshold *models.AlertThreshold, delta models.ChangeDelta) Evaluation {
	priceKind := models.AlertPriceDecrease
	if delta.PriceChangePercent > 0 {
		priceKind = models.AlertPriceIncrease
	}
	ev := Evaluation{
		Price: decision(priceKind, delta),
		Stock: decision(models.AlertStock, delta),
	}
	if threshold == nil || delta.Baseline {
		return ev
	}

	ev.Price.ShouldAlert = math.Abs(delta.PriceChangePercent) >= threshold.PriceChangePercent
	ev.Stock.ShouldAlert = delta.StockChange < 0 && delta.StockChange < threshold.StockMin
	return ev
}

func decision(kind models.AlertKind, delta models.ChangeDelta) models.AlertDecision {
	return models.AlertDecision{
		Kind:    kind,
		Payload: models.AlertPayload{Kind: kind, Delta: delta},
	}
}

// FillPayload completes a decision payload with the observations it was computed from.
func FillPayload(d models.AlertDecision, current, previous *models.Observation) models.AlertDecision {
	p := d.Payload
	if current != nil {
		p.ProductID = current.ProductID
		p.Vendor = current.Vendor
		p.URL = current.URL
		p.CurrentPrice = current.Prices.ReferencePrice()
		p.CurrentStock = current.StockQuantity
		p.Currency = current.Prices.Currency()
		p.ObservedAt = current.Timestamp
	}
	if previous != nil {
		p.PreviousPrice = previous.Prices.ReferencePrice()
		p.PreviousStock = previous.StockQuantity
	}
	d.Payload = p
	return d
}
