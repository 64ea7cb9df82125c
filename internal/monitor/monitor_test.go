package monitor

import (
	"testing"
	"time"

	"PriceWatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(price float64, stock int) *models.Observation {
	return &models.Observation{
		ProductID:     42,
		Vendor:        "mouser",
		URL:           "https://example.test/p",
		Timestamp:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Prices:        models.PriceTiers{{MinQuantity: 1, UnitPrice: price, Currency: "KRW"}},
		StockQuantity: stock,
	}
}

func TestDeltaColdStart(t *testing.T) {
	d := Delta(obs(100, 5), nil)
	assert.Equal(t, models.ChangeDelta{Baseline: true}, d)

	ev := Evaluate(&models.AlertThreshold{PriceChangePercent: 0, StockMin: 1000}, d)
	assert.False(t, ev.Any(), "no alert may fire on a cold start")
}

func TestDeltaZeroPreviousPrice(t *testing.T) {
	for _, cur := range []float64{0, 1, 999.5} {
		d := Delta(obs(cur, 1), obs(0, 1))
		assert.Zero(t, d.PriceChangePercent)
	}
}

func TestDeltaUsesQuantityOneTier(t *testing.T) {
	prev := &models.Observation{Prices: models.PriceTiers{
		{MinQuantity: 10, UnitPrice: 80},
		{MinQuantity: 1, UnitPrice: 100},
	}, StockQuantity: 20}
	cur := &models.Observation{Prices: models.PriceTiers{
		{MinQuantity: 1, UnitPrice: 110},
		{MinQuantity: 10, UnitPrice: 70},
	}, StockQuantity: 12}

	d := Delta(cur, prev)
	assert.InDelta(t, 10.0, d.PriceChangePercent, 1e-9)
	assert.Equal(t, -8, d.StockChange)
	assert.False(t, d.Baseline)
}

func TestDeltaFallsBackToFirstTier(t *testing.T) {
	prev := &models.Observation{Prices: models.PriceTiers{{MinQuantity: 5, UnitPrice: 50}}}
	cur := &models.Observation{Prices: models.PriceTiers{{MinQuantity: 5, UnitPrice: 25}}}
	assert.InDelta(t, -50.0, Delta(cur, prev).PriceChangePercent, 1e-9)
}

func TestEvaluatePriceThresholdInclusive(t *testing.T) {
	th := &models.AlertThreshold{PriceChangePercent: 5, StockMin: -1000}
	tests := []struct {
		name string
		pct  float64
		fire bool
		kind models.AlertKind
	}{
		{"below", 4.99, false, models.AlertPriceIncrease},
		{"equal", 5, true, models.AlertPriceIncrease},
		{"above", 12, true, models.AlertPriceIncrease},
		{"negative equal", -5, true, models.AlertPriceDecrease},
		{"negative below", -4, false, models.AlertPriceDecrease},
		{"zero", 0, false, models.AlertPriceDecrease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(th, models.ChangeDelta{PriceChangePercent: tt.pct})
			assert.Equal(t, tt.fire, ev.Price.ShouldAlert)
			assert.Equal(t, tt.kind, ev.Price.Kind)
		})
	}
}

func TestEvaluateStockComparesDelta(t *testing.T) {
	tests := []struct {
		name     string
		change   int
		stockMin int
		fire     bool
	}{
		{"restock never alerts", 5, 10, false},
		{"drop below positive min", -3, 10, true},
		{"single unit drop with positive min", -1, 10, true},
		{"drop smaller than negative min", -3, -5, false},
		{"drop beyond negative min", -6, -5, true},
		{"no change", 0, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(&models.AlertThreshold{PriceChangePercent: 100, StockMin: tt.stockMin},
				models.ChangeDelta{StockChange: tt.change})
			assert.Equal(t, tt.fire, ev.Stock.ShouldAlert)
			assert.Equal(t, models.AlertStock, ev.Stock.Kind)
		})
	}
}

func TestEvaluateWithoutThreshold(t *testing.T) {
	ev := Evaluate(nil, models.ChangeDelta{PriceChangePercent: 80, StockChange: -50})
	assert.False(t, ev.Any())
	assert.Empty(t, ev.Decisions())
}

func TestEndToEndPriceAlertOnly(t *testing.T) {
	th := &models.AlertThreshold{PriceChangePercent: 5, StockMin: 10}
	prev := obs(1000, 50)
	cur := obs(1060, 55)

	d := Delta(cur, prev)
	assert.InDelta(t, 6.0, d.PriceChangePercent, 1e-9)
	assert.Equal(t, 5, d.StockChange)

	ev := Evaluate(th, d)
	assert.True(t, ev.Price.ShouldAlert)
	assert.Equal(t, models.AlertPriceIncrease, ev.Price.Kind)
	assert.False(t, ev.Stock.ShouldAlert)

	fired := ev.Decisions()
	require.Len(t, fired, 1)

	full := FillPayload(fired[0], cur, prev)
	assert.Equal(t, int64(42), full.Payload.ProductID)
	assert.Equal(t, "mouser", full.Payload.Vendor)
	assert.Equal(t, 1000.0, full.Payload.PreviousPrice)
	assert.Equal(t, 1060.0, full.Payload.CurrentPrice)
	assert.Equal(t, 50, full.Payload.PreviousStock)
	assert.Equal(t, 55, full.Payload.CurrentStock)
	assert.Equal(t, "KRW", full.Payload.Currency)
	assert.Equal(t, models.AlertPriceIncrease, full.Payload.Kind)
}
