package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"
	"PriceWatch/internal/models"
	"PriceWatch/utils"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ResourceType is a browser request category that can be filtered.
type ResourceType string

const (
	ResourceImage      ResourceType = "Image"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceFont       ResourceType = "Font"
	ResourceMedia      ResourceType = "Media"
)

// Browser opens isolated page contexts on a shared browser process.
// Implementations must tolerate concurrent NewPage calls.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is one page context. Close must be safe to call once on every exit path.
type Page interface {
	SetUserAgent(ua string) error
	// BlockResources aborts requests of the given types and lets everything else through.
	BlockResources(types ...ResourceType) error
	// Navigate loads url and waits for DOMContentLoaded only.
	Navigate(url string, timeout time.Duration) error
	HTML() (string, error)
	// Screenshot captures the full page as PNG.
	Screenshot() ([]byte, error)
	Close() error
}

// BlobStore keeps screenshots and returns a reference to them.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Options tunes the orchestrator. Zero fields take the defaults below.
type Options struct {
	MaxRetries        int           `yaml:"max_retries" env:"SCRAPER_MAX_RETRIES" env-default:"3"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"SCRAPER_RETRY_DELAY" env-default:"2s"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" env:"SCRAPER_NAVIGATION_TIMEOUT" env-default:"30s"`
	MinDelay          time.Duration `yaml:"min_delay" env:"SCRAPER_MIN_DELAY" env-default:"2s"`
	DelayJitter       time.Duration `yaml:"delay_jitter" env:"SCRAPER_DELAY_JITTER" env-default:"2s"`
	UserAgent         string        `yaml:"user_agent" env:"SCRAPER_USER_AGENT"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var blockedResources = []ResourceType{ResourceImage, ResourceStylesheet, ResourceFont, ResourceMedia}

// Markers in a page title that mean a bot wall was served instead of the product.
var botWallTitles = []string{"captcha", "robot check", "access denied", "attention required"}

// DefaultOptions returns the production retry and pacing settings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		NavigationTimeout: 30 * time.Second,
		MinDelay:          2 * time.Second,
		DelayJitter:       2 * time.Second,
		UserAgent:         defaultUserAgent,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.MinDelay <= 0 {
		o.MinDelay = d.MinDelay
	}
	if o.DelayJitter <= 0 {
		o.DelayJitter = d.DelayJitter
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	return o
}

// Orchestrator performs scrapes of one (product, vendor, url) at a time on a
// shared browser, with bounded fixed-delay retries.
type Orchestrator struct {
	browser  Browser
	registry *Registry
	blobs    BlobStore
	opts     Options
	log      logger.Logger
	metrics  *metrics.Metrics

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// NewOrchestrator wires an orchestrator. m may be nil.
func NewOrchestrator(browser Browser, registry *Registry, blobs BlobStore, opts Options, log logger.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		browser:  browser,
		registry: registry,
		blobs:    blobs,
		opts:     opts.withDefaults(),
		log:      log,
		metrics:  m,
		now:      time.Now,
		sleep:    Sleep,
		jitter:   randomJitter,
	}
}

// Registry exposes the vendor table the orchestrator resolves parsers from.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Scrape produces one observation for (productID, vendor, url) or returns the
// last attempt's error. Unknown vendors fail immediately without a retry.
func (o *Orchestrator) Scrape(ctx context.Context, productID int64, vendor, url string) (*models.ScrapeResult, error) {
	parser, err := o.registry.Lookup(vendor)
	if err != nil {
		return nil, err
	}

	log := o.log.With(logger.Int64("product_id", productID), logger.String("vendor", parser.Vendor()), logger.String("url", url))

	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		start := o.now()
		result, err := o.attempt(ctx, parser, productID, url, attempt)
		o.metrics.ObserveScrape(parser.Vendor(), err == nil, o.now().Sub(start))
		if err == nil {
			log.Info("Scrape succeeded", logger.Int("attempt", attempt), logger.String("screenshot", result.Meta.ScreenshotRef))
			return result, nil
		}

		lastErr = err
		log.Warn("Scrape attempt failed", logger.Int("attempt", attempt), logger.Int("max_retries", o.opts.MaxRetries), logger.Error(err))
		if attempt < o.opts.MaxRetries {
			if err := o.sleep(ctx, o.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("scrape %s %s after %d attempts: %w", parser.Vendor(), url, o.opts.MaxRetries, lastErr)
}

// attempt runs a single navigate-extract-screenshot cycle on a fresh page.
func (o *Orchestrator) attempt(ctx context.Context, parser Parser, productID int64, url string, attempt int) (*models.ScrapeResult, error) {
	page, err := o.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			o.log.Warn("Failed to close page", logger.Error(err))
		}
	}()

	if err := page.SetUserAgent(o.opts.UserAgent); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := page.BlockResources(blockedResources...); err != nil {
		return nil, fmt.Errorf("install request filter: %w", err)
	}
	if err := page.Navigate(url, o.opts.NavigationTimeout); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	// Let client-side rendering settle.
	if err := o.sleep(ctx, o.opts.MinDelay+o.jitter(o.opts.DelayJitter)); err != nil {
		return nil, err
	}

	src, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := parseDocument(src)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if isBotWall(title) {
		return nil, fmt.Errorf("%w: title %q", ErrBlocked, title)
	}

	extraction, err := Parse(parser, doc)
	if err != nil {
		return nil, err
	}

	shot, err := page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	scrapedAt := o.now()
	ref, err := o.blobs.Put(ctx, screenshotKey(parser.Vendor(), productID, scrapedAt), shot)
	if err != nil {
		return nil, fmt.Errorf("upload screenshot: %w", err)
	}

	obs := &models.Observation{
		ProductID:     productID,
		Vendor:        parser.Vendor(),
		URL:           url,
		Timestamp:     scrapedAt,
		Prices:        extraction.Prices,
		StockQuantity: extraction.Stock.Quantity,
		StockStatus:   extraction.Stock.Status,
		LeadTime:      extraction.LeadTime,
		ScreenshotRef: ref,
		RawMeta: models.JSONStringMap{
			"attempt":   strconv.Itoa(attempt),
			"pageTitle": title,
		},
	}
	return &models.ScrapeResult{
		Observation: obs,
		Meta: models.ScrapeMeta{
			ScreenshotRef: ref,
			ScrapedAt:     scrapedAt,
			Vendor:        parser.Vendor(),
			URL:           url,
		},
	}, nil
}

func parseDocument(src string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func isBotWall(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range botWallTitles {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func screenshotKey(vendor string, productID int64, at time.Time) string {
	return fmt.Sprintf("%s/%d/%s.png", utils.CreateSlug(vendor), productID, at.UTC().Format("20060102T150405.000"))
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
