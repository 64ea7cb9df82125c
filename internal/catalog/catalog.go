// Package catalog loads the tracked product list from a yaml seed file.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/models"
	"PriceWatch/internal/scraper"

	"gopkg.in/yaml.v3"
)

// Catalog is the content of a seed file.
type Catalog struct {
	Products []Product `yaml:"products"`
}

// Product is one seed entry. Active defaults to true.
type Product struct {
	Name       string   `yaml:"name"`
	PartNumber string   `yaml:"part_number"`
	Active     *bool    `yaml:"active"`
	Alert      *Alert   `yaml:"alert"`
	Targets    []Target `yaml:"targets"`
}

// Alert holds the per-product thresholds.
type Alert struct {
	PriceChangePercent float64 `yaml:"price_change_percent"`
	StockMin           int     `yaml:"stock_min"`
}

// Target is one vendor page of a product. Active defaults to true.
type Target struct {
	Vendor string `yaml:"vendor"`
	URL    string `yaml:"url"`
	Active *bool  `yaml:"active"`
}

// Upserter stores a product and its targets.
type Upserter interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
}

// Load reads and decodes the seed file at path. Unknown keys are rejected.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// Validate checks every entry against registry. An unsupported vendor is a
// configuration error; all problems are reported together.
func (c *Catalog) Validate(registry *scraper.Registry) error {
	var errs []error
	seen := make(map[string]bool, len(c.Products))

	for i, p := range c.Products {
		where := fmt.Sprintf("products[%d]", i)
		if p.PartNumber == "" {
			errs = append(errs, fmt.Errorf("%s: part_number is required", where))
		} else if seen[p.PartNumber] {
			errs = append(errs, fmt.Errorf("%s: duplicate part_number %q", where, p.PartNumber))
		}
		seen[p.PartNumber] = true

		if p.Alert != nil && (p.Alert.PriceChangePercent < 0 || p.Alert.StockMin < 0) {
			errs = append(errs, fmt.Errorf("%s: alert thresholds must not be negative", where))
		}

		vendors := make(map[string]bool, len(p.Targets))
		for j, t := range p.Targets {
			at := fmt.Sprintf("%s.targets[%d]", where, j)
			if _, err := registry.Lookup(t.Vendor); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", at, err))
			}
			vendor := scraper.NormalizeVendor(t.Vendor)
			if vendors[vendor] {
				errs = append(errs, fmt.Errorf("%s: duplicate vendor %q", at, t.Vendor))
			}
			vendors[vendor] = true
			if u, err := url.Parse(t.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s: invalid url %q", at, t.URL))
			}
		}
	}
	return errors.Join(errs...)
}

func enabled(b *bool) bool { return b == nil || *b }

// Models converts the seed entries to catalog products.
func (c *Catalog) Models() []models.Product {
	out := make([]models.Product, 0, len(c.Products))
	for _, p := range c.Products {
		name := p.Name
		if name == "" {
			name = p.PartNumber
		}
		m := models.Product{
			Name:       name,
			PartNumber: p.PartNumber,
			IsActive:   enabled(p.Active),
		}
		if p.Alert != nil {
			m.Threshold = &models.AlertThreshold{PriceChangePercent: p.Alert.PriceChangePercent, StockMin: p.Alert.StockMin}
		}
		for _, t := range p.Targets {
			m.Targets = append(m.Targets, models.ScrapeTarget{
				VendorName: scraper.NormalizeVendor(t.Vendor),
				URL:        t.URL,
				IsActive:   enabled(t.Active),
			})
		}
		out = append(out, m)
	}
	return out
}

// Seed validates the catalog and upserts every product. It returns the
// number of products written.
func (c *Catalog) Seed(ctx context.Context, store Upserter, registry *scraper.Registry, log logger.Logger) (int, error) {
	if err := c.Validate(registry); err != nil {
		return 0, fmt.Errorf("invalid catalog: %w", err)
	}

	products := c.Models()
	for i := range products {
		p := &products[i]
		if err := store.UpsertProduct(ctx, p); err != nil {
			return i, err
		}
		log.Debug("Seeded product",
			logger.Int64("product_id", p.ID),
			logger.String("part_number", p.PartNumber),
			logger.Int("targets", len(p.Targets)),
		)
	}
	log.Info("Catalog seeded", logger.Int("products", len(products)))
	return len(products), nil
}
