// Package monitor computes price/stock changes between observations and
// decides whether they are worth an alert. Everything here is pure.
package monitor

import "PriceWatch/internal/models"

// Delta compares the newest observation with the previous one for the same
// (product, vendor). A nil previous means a cold start and yields a baseline
// delta that can never alert.
func Delta(current, previous *models.Observation) models.ChangeDelta {
	if current == nil || previous == nil {
		return models.ChangeDelta{Baseline: true}
	}

	var pct float64
	prevPrice := previous.Prices.ReferencePrice()
	if prevPrice != 0 {
		pct = (current.Prices.ReferencePrice() - prevPrice) / prevPrice * 100
	}

	return models.ChangeDelta{
		PriceChangePercent: pct,
		StockChange:        current.StockQuantity - previous.StockQuantity,
	}
}
