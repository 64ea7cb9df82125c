package scraper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"PriceWatch/internal/models"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrUnknownVendor means no Parser is registered for a vendor identifier.
	// It is a configuration error and is never retried.
	ErrUnknownVendor = errors.New("unknown vendor")
	// ErrPriceNotFound is returned by parsers that treat a missing price as fatal.
	ErrPriceNotFound = errors.New("price not found")
	// ErrBlocked means the vendor served a captcha or bot wall instead of the product page.
	ErrBlocked = errors.New("blocked by vendor bot protection")
)

// Parser extracts prices, stock and lead time from a loaded vendor page.
// Every supported vendor provides one implementation.
type Parser interface {
	// Vendor is the identifier the parser is registered under.
	Vendor() string
	// ParsePrices returns the quantity-break table. An error fails the attempt.
	ParsePrices(doc *goquery.Document) ([]models.PriceTier, error)
	// ParseStock never fails; a missing indicator yields DefaultStock.
	ParseStock(doc *goquery.Document) models.Stock
	// ParseLeadTime never fails; a missing value yields UnknownLeadTime.
	ParseLeadTime(doc *goquery.Document) string
}

// Extraction is the combined output of the three parser operations.
type Extraction struct {
	Prices   []models.PriceTier
	Stock    models.Stock
	LeadTime string
}

// Parse runs the three parser operations concurrently and combines them.
// A price error is a hard error for the whole extraction.
func Parse(p Parser, doc *goquery.Document) (*Extraction, error) {
	var (
		wg       sync.WaitGroup
		out      Extraction
		priceErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				priceErr = fmt.Errorf("price parser panic: %v", r)
			}
		}()
		out.Prices, priceErr = p.ParsePrices(doc)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if recover() != nil {
				out.Stock = DefaultStock()
			}
		}()
		out.Stock = p.ParseStock(doc)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if recover() != nil {
				out.LeadTime = UnknownLeadTime
			}
		}()
		out.LeadTime = p.ParseLeadTime(doc)
	}()
	wg.Wait()

	if priceErr != nil {
		return nil, fmt.Errorf("%s: parse prices: %w", p.Vendor(), priceErr)
	}
	return &out, nil
}

// NormalizeVendor returns the canonical form of a vendor identifier.
// Observations, targets and attempt records are keyed by it.
func NormalizeVendor(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry is the static table of vendor identifiers to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry registers parsers under their lower-cased vendor identifiers.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[NormalizeVendor(p.Vendor())] = p
	}
	return r
}

// Lookup returns the parser for vendor or an ErrUnknownVendor error.
func (r *Registry) Lookup(vendor string) (Parser, error) {
	p, ok := r.parsers[NormalizeVendor(vendor)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
	return p, nil
}

// Vendors lists the registered vendor identifiers in sorted order.
func (r *Registry) Vendors() []string {
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
