// Package database is the sqlite store for the product catalog, observation
// history and scrape attempt records.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PriceWatch/internal/models"

	_ "modernc.org/sqlite"
)

// DBRepository wraps the sqlite connection.
type DBRepository struct {
	DB *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"name" TEXT NOT NULL,
	"part_number" TEXT NOT NULL UNIQUE,
	"is_active" INTEGER NOT NULL DEFAULT 1,
	"price_change_percent" REAL,
	"stock_min" INTEGER,
	"updated_at" INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_targets (
	"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"product_id" INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	"vendor_name" TEXT NOT NULL,
	"url" TEXT NOT NULL,
	"is_active" INTEGER NOT NULL DEFAULT 1,
	UNIQUE(product_id, vendor_name)
);

CREATE TABLE IF NOT EXISTS observations (
	"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"product_id" INTEGER NOT NULL,
	"vendor" TEXT NOT NULL,
	"url" TEXT NOT NULL,
	"scraped_at" INTEGER NOT NULL,
	"prices" TEXT NOT NULL,
	"stock_quantity" INTEGER NOT NULL,
	"stock_status" TEXT NOT NULL,
	"lead_time" TEXT,
	"screenshot_ref" TEXT,
	"raw_meta" TEXT
);
CREATE INDEX IF NOT EXISTS idx_observations_latest ON observations(product_id, vendor, scraped_at);

CREATE TABLE IF NOT EXISTS scrape_attempts (
	"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"product_id" INTEGER NOT NULL,
	"site" TEXT NOT NULL,
	"url" TEXT NOT NULL,
	"success" INTEGER NOT NULL,
	"error_message" TEXT,
	"old_price" REAL,
	"new_price" REAL,
	"old_stock" INTEGER,
	"new_stock" INTEGER,
	"duration_ms" INTEGER NOT NULL,
	"trigger_type" TEXT NOT NULL,
	"triggered_by" TEXT,
	"created_at" INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_product ON scrape_attempts(product_id, created_at);
`

// InitDB opens (creating if needed) the database at path and applies the schema.
func InitDB(path string) (*DBRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY under the product pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &DBRepository{DB: db}, nil
}

// Close closes the database connection.
func (repo *DBRepository) Close() error {
	return repo.DB.Close()
}

func unixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// vendorKey is the stored form of a vendor identifier.
func vendorKey(vendor string) string { return strings.ToLower(strings.TrimSpace(vendor)) }

// UpsertProduct inserts or updates a product by part number and replaces its
// targets. p.ID is set to the stored id.
func (repo *DBRepository) UpsertProduct(ctx context.Context, p *models.Product) error {
	tx, err := repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pct sql.NullFloat64
	var stockMin sql.NullInt64
	if p.Threshold != nil {
		pct = sql.NullFloat64{Float64: p.Threshold.PriceChangePercent, Valid: true}
		stockMin = sql.NullInt64{Int64: int64(p.Threshold.StockMin), Valid: true}
	}

	err = tx.QueryRowContext(ctx, `
	INSERT INTO products (name, part_number, is_active, price_change_percent, stock_min, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(part_number) DO UPDATE SET
		name=excluded.name,
		is_active=excluded.is_active,
		price_change_percent=excluded.price_change_percent,
		stock_min=excluded.stock_min,
		updated_at=excluded.updated_at
	RETURNING id;`,
		p.Name, p.PartNumber, p.IsActive, pct, stockMin, time.Now().UnixMilli(),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.PartNumber, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scrape_targets WHERE product_id = ?`, p.ID); err != nil {
		return fmt.Errorf("reset targets of %s: %w", p.PartNumber, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scrape_targets (product_id, vendor_name, url, is_active) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range p.Targets {
		t := &p.Targets[i]
		t.ProductID = p.ID
		t.VendorName = vendorKey(t.VendorName)
		if _, err := stmt.ExecContext(ctx, p.ID, t.VendorName, t.URL, t.IsActive); err != nil {
			return fmt.Errorf("insert target %s of %s: %w", t.VendorName, p.PartNumber, err)
		}
	}
	return tx.Commit()
}

// GetProduct loads a product with its threshold and targets.
func (repo *DBRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var (
		p        models.Product
		pct      sql.NullFloat64
		stockMin sql.NullInt64
	)
	err := repo.DB.QueryRowContext(ctx,
		`SELECT id, name, part_number, is_active, price_change_percent, stock_min FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.PartNumber, &p.IsActive, &pct, &stockMin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	if pct.Valid || stockMin.Valid {
		p.Threshold = &models.AlertThreshold{PriceChangePercent: pct.Float64, StockMin: int(stockMin.Int64)}
	}

	rows, err := repo.DB.QueryContext(ctx,
		`SELECT product_id, vendor_name, url, is_active FROM scrape_targets WHERE product_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get targets of %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.ScrapeTarget
		if err := rows.Scan(&t.ProductID, &t.VendorName, &t.URL, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		p.Targets = append(p.Targets, t)
	}
	return &p, rows.Err()
}

// ActiveProductIDs returns the ids of all active products in id order.
func (repo *DBRepository) ActiveProductIDs(ctx context.Context) ([]int64, error) {
	return repo.ids(ctx, `SELECT id FROM products WHERE is_active = 1 ORDER BY id`)
}

// ProductIDsByVendor returns active products with an active target on vendor.
func (repo *DBRepository) ProductIDsByVendor(ctx context.Context, vendor string) ([]int64, error) {
	return repo.ids(ctx, `
		SELECT DISTINCT p.id FROM products p
		JOIN scrape_targets t ON t.product_id = p.id
		WHERE p.is_active = 1 AND t.is_active = 1 AND t.vendor_name = ?
		ORDER BY p.id`, vendorKey(vendor))
}

func (repo *DBRepository) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const observationColumns = `id, product_id, vendor, url, scraped_at, prices, stock_quantity, stock_status, lead_time, screenshot_ref, raw_meta`

func scanObservation(row interface{ Scan(...any) error }) (*models.Observation, error) {
	var (
		o         models.Observation
		scrapedAt int64
		leadTime  sql.NullString
		shot      sql.NullString
	)
	if err := row.Scan(&o.ID, &o.ProductID, &o.Vendor, &o.URL, &scrapedAt, &o.Prices,
		&o.StockQuantity, &o.StockStatus, &leadTime, &shot, &o.RawMeta); err != nil {
		return nil, err
	}
	o.Timestamp = unixMilli(scrapedAt)
	o.LeadTime = leadTime.String
	o.ScreenshotRef = shot.String
	return &o, nil
}

// LatestObservation returns the newest observation of (productID, vendor), or nil.
func (repo *DBRepository) LatestObservation(ctx context.Context, productID int64, vendor string) (*models.Observation, error) {
	row := repo.DB.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations
		WHERE product_id = ? AND vendor = ? ORDER BY scraped_at DESC, id DESC LIMIT 1`, productID, vendorKey(vendor))
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation %d/%s: %w", productID, vendor, err)
	}
	return o, nil
}

// ObservationHistory returns the newest observations of a product, newest first.
// An empty vendor matches all vendors.
func (repo *DBRepository) ObservationHistory(ctx context.Context, productID int64, vendor string, limit int) ([]models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE product_id = ?`
	args := []any{productID}
	if vendor != "" {
		query += ` AND vendor = ?`
		args = append(args, vendorKey(vendor))
	}
	query += ` ORDER BY scraped_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("observation history %d: %w", productID, err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// SaveObservation inserts obs and sets its ID.
func (repo *DBRepository) SaveObservation(ctx context.Context, obs *models.Observation) error {
	res, err := repo.DB.ExecContext(ctx, `
	INSERT INTO observations (product_id, vendor, url, scraped_at, prices, stock_quantity, stock_status, lead_time, screenshot_ref, raw_meta)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ProductID, vendorKey(obs.Vendor), obs.URL, obs.Timestamp.UnixMilli(), obs.Prices,
		obs.StockQuantity, obs.StockStatus, obs.LeadTime, obs.ScreenshotRef, obs.RawMeta,
	)
	if err != nil {
		return fmt.Errorf("save observation %d/%s: %w", obs.ProductID, obs.Vendor, err)
	}
	obs.ID, err = res.LastInsertId()
	return err
}

// SaveAttempt inserts rec and sets its ID.
func (repo *DBRepository) SaveAttempt(ctx context.Context, rec *models.AttemptRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := repo.DB.ExecContext(ctx, `
	INSERT INTO scrape_attempts (
		product_id, site, url, success, error_message, old_price, new_price,
		old_stock, new_stock, duration_ms, trigger_type, triggered_by, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProductID, vendorKey(rec.Site), rec.URL, rec.Success, rec.ErrorMessage, rec.OldPrice, rec.NewPrice,
		rec.OldStock, rec.NewStock, rec.DurationMs, rec.TriggerType, rec.TriggeredBy, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save attempt %d/%s: %w", rec.ProductID, rec.Site, err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// AttemptFilters narrows GetAttempts.
type AttemptFilters struct {
	ProductID int64
	Site      string
	Success   *bool
	Limit     int
	Offset    int
}

// GetAttempts returns attempt records matching filters, newest first.
func (repo *DBRepository) GetAttempts(ctx context.Context, filters AttemptFilters) ([]models.AttemptRecord, error) {
	var args []any
	var conditions []string

	query := `SELECT id, product_id, site, url, success, error_message, old_price, new_price,
	                 old_stock, new_stock, duration_ms, trigger_type, triggered_by, created_at
	          FROM scrape_attempts WHERE 1=1`

	if filters.ProductID > 0 {
		conditions = append(conditions, "product_id = ?")
		args = append(args, filters.ProductID)
	}
	if filters.Site != "" {
		conditions = append(conditions, "site = ?")
		args = append(args, vendorKey(filters.Site))
	}
	if filters.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *filters.Success)
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute attempts query: %w", err)
	}
	defer rows.Close()

	var records []models.AttemptRecord
	for rows.Next() {
		var (
			r         models.AttemptRecord
			errMsg    sql.NullString
			by        sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Site, &r.URL, &r.Success, &errMsg, &r.OldPrice, &r.NewPrice,
			&r.OldStock, &r.NewStock, &r.DurationMs, &r.TriggerType, &by, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		r.ErrorMessage = errMsg.String
		r.TriggeredBy = by.String
		r.CreatedAt = unixMilli(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
