package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"PriceWatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DBRepository {
	t.Helper()
	repo, err := InitDB(filepath.Join(t.TempDir(), "pricewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedProduct(t *testing.T, repo *DBRepository, part string, active bool, threshold *models.AlertThreshold, vendors ...string) *models.Product {
	t.Helper()
	p := &models.Product{Name: "Part " + part, PartNumber: part, IsActive: active, Threshold: threshold}
	for _, v := range vendors {
		p.Targets = append(p.Targets, models.ScrapeTarget{VendorName: v, URL: "https://" + v + ".test/" + part, IsActive: true})
	}
	require.NoError(t, repo.UpsertProduct(context.Background(), p))
	require.NotZero(t, p.ID)
	return p
}

func TestUpsertAndGetProduct(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	p := seedProduct(t, repo, "STM32F103C8T6", true, &models.AlertThreshold{PriceChangePercent: 5, StockMin: 100}, "icbanq", "mouser")

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "STM32F103C8T6", got.PartNumber)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.Threshold)
	assert.Equal(t, 5.0, got.Threshold.PriceChangePercent)
	assert.Equal(t, 100, got.Threshold.StockMin)
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "icbanq", got.Targets[0].VendorName)
	assert.Equal(t, p.ID, got.Targets[1].ProductID)

	// Re-seeding by part number keeps the id and replaces the targets.
	again := &models.Product{
		Name:       "Renamed",
		PartNumber: "STM32F103C8T6",
		IsActive:   true,
		Targets:    []models.ScrapeTarget{{VendorName: "digikey", URL: "https://digikey.test/x", IsActive: true}},
	}
	require.NoError(t, repo.UpsertProduct(ctx, again))
	assert.Equal(t, p.ID, again.ID)

	got, err = repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Nil(t, got.Threshold)
	require.Len(t, got.Targets, 1)
	assert.Equal(t, "digikey", got.Targets[0].VendorName)
}

func TestGetProductNotFound(t *testing.T) {
	repo := openTestDB(t)
	_, err := repo.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestActiveAndVendorProductIDs(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	a := seedProduct(t, repo, "A", true, nil, "mouser", "icbanq")
	b := seedProduct(t, repo, "B", true, nil, "icbanq")
	seedProduct(t, repo, "C", false, nil, "mouser")

	ids, err := repo.ActiveProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids)

	ids, err = repo.ProductIDsByVendor(ctx, "Mouser")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids)

	ids, err = repo.ProductIDsByVendor(ctx, "digikey")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestObservationsNewestFirst(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	latest, err := repo.LatestObservation(ctx, 1, "mouser")
	require.NoError(t, err)
	assert.Nil(t, latest, "no history yet")

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	for i, price := range []float64{1.20, 1.35} {
		obs := &models.Observation{
			ProductID:     1,
			Vendor:        "mouser",
			URL:           "https://mouser.test/1",
			Timestamp:     base.Add(time.Duration(i) * 24 * time.Hour),
			Prices:        models.PriceTiers{{MinQuantity: 1, UnitPrice: price, Currency: "USD"}, {MinQuantity: 10, UnitPrice: price - 0.1, Currency: "USD"}},
			StockQuantity: 500 - i*100,
			StockStatus:   models.StockInStock,
			LeadTime:      "Unknown",
			ScreenshotRef: "mem://shot",
			RawMeta:       models.JSONStringMap{"attempt": "1"},
		}
		require.NoError(t, repo.SaveObservation(ctx, obs))
		assert.NotZero(t, obs.ID)
	}
	other := &models.Observation{ProductID: 1, Vendor: "digikey", Timestamp: base.Add(72 * time.Hour), StockStatus: models.StockUnknown}
	require.NoError(t, repo.SaveObservation(ctx, other))

	latest, err = repo.LatestObservation(ctx, 1, "mouser")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1.35, latest.Prices.ReferencePrice())
	assert.Len(t, latest.Prices, 2)
	assert.Equal(t, 400, latest.StockQuantity)
	assert.True(t, latest.Timestamp.Equal(base.Add(24*time.Hour)))
	assert.Equal(t, "1", latest.RawMeta["attempt"])

	history, err := repo.ObservationHistory(ctx, 1, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "digikey", history[0].Vendor)
	assert.Nil(t, history[0].RawMeta)

	history, err = repo.ObservationHistory(ctx, 1, "mouser", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, latest.ID, history[0].ID)
}

func TestVendorIdentifiersAreStoredLowercase(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	p := seedProduct(t, repo, "NE555P", true, nil, "Mouser")
	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Targets, 1)
	assert.Equal(t, "mouser", got.Targets[0].VendorName)

	ids, err := repo.ProductIDsByVendor(ctx, "MOUSER")
	require.NoError(t, err)
	assert.Equal(t, []int64{p.ID}, ids)

	obs := &models.Observation{ProductID: p.ID, Vendor: "Mouser", Timestamp: time.Now(), StockStatus: models.StockUnknown}
	require.NoError(t, repo.SaveObservation(ctx, obs))
	latest, err := repo.LatestObservation(ctx, p.ID, "mouser")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "mouser", latest.Vendor)

	history, err := repo.ObservationHistory(ctx, p.ID, "Mouser", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, repo.SaveAttempt(ctx, &models.AttemptRecord{ProductID: p.ID, Site: "MOUSER", TriggerType: models.TriggerManual}))
	records, err := repo.GetAttempts(ctx, AttemptFilters{Site: "Mouser"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "mouser", records[0].Site)
}

func TestAttemptsFilter(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	oldPrice, newPrice := 1.0, 1.1
	stock := 40
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	records := []*models.AttemptRecord{
		{ProductID: 1, Site: "mouser", URL: "u1", Success: true, OldPrice: &oldPrice, NewPrice: &newPrice, NewStock: &stock, DurationMs: 1200, TriggerType: models.TriggerScheduled, CreatedAt: base},
		{ProductID: 1, Site: "icbanq", URL: "u2", Success: false, ErrorMessage: "price not found", DurationMs: 900, TriggerType: models.TriggerScheduled, CreatedAt: base.Add(time.Second)},
		{ProductID: 2, Site: "mouser", URL: "u3", Success: true, DurationMs: 800, TriggerType: models.TriggerManual, TriggeredBy: "alice", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		require.NoError(t, repo.SaveAttempt(ctx, r))
	}

	all, err := repo.GetAttempts(ctx, AttemptFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].TriggeredBy)

	failed := false
	got, err := repo.GetAttempts(ctx, AttemptFilters{ProductID: 1, Success: &failed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "price not found", got[0].ErrorMessage)
	assert.Nil(t, got[0].OldPrice)

	got, err = repo.GetAttempts(ctx, AttemptFilters{Site: "mouser", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].NewPrice)
	assert.Equal(t, 1.1, *got[0].NewPrice)
	assert.Equal(t, 40, *got[0].NewStock)
	assert.Nil(t, got[0].OldStock)
	assert.True(t, got[0].CreatedAt.Equal(base))
}
