// Package tracker consumes scraping jobs: for every product it scrapes each
// active target site, stores the observation, compares it with the previous
// one and hands firing alerts to the notification queue.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"
	"PriceWatch/internal/models"
	"PriceWatch/internal/monitor"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scraper"
	"PriceWatch/utils"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNoTargets       = errors.New("product has no active target sites")
)

// Store is the history and catalog store the tracker reads and writes.
type Store interface {
	// GetProduct returns the product with its targets and threshold, or an
	// error wrapping models.ErrNotFound.
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ActiveProductIDs(ctx context.Context) ([]int64, error)
	ProductIDsByVendor(ctx context.Context, vendor string) ([]int64, error)
	// LatestObservation returns nil without error when none exists yet.
	LatestObservation(ctx context.Context, productID int64, vendor string) (*models.Observation, error)
	SaveObservation(ctx context.Context, obs *models.Observation) error
	SaveAttempt(ctx context.Context, rec *models.AttemptRecord) error
}

// Scraper produces one observation per call. *scraper.Orchestrator implements it.
type Scraper interface {
	Scrape(ctx context.Context, productID int64, vendor, url string) (*models.ScrapeResult, error)
}

// Options tunes the consumer loop.
type Options struct {
	// SiteDelay separates consecutive site scrapes and consecutive requests to one vendor.
	SiteDelay time.Duration `yaml:"site_delay" env:"TRACKER_SITE_DELAY" env-default:"3s"`
	// Workers sizes the product pool: a number or "auto".
	Workers string `yaml:"workers" env:"TRACKER_WORKERS" env-default:"1"`
}

// BatchResult is the return value of batch jobs.
type BatchResult struct {
	Total          int `json:"total"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	SitesSucceeded int `json:"sitesSucceeded"`
	SitesFailed    int `json:"sitesFailed"`
}

func (r *BatchResult) add(o BatchResult) {
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.SitesSucceeded += o.SitesSucceeded
	r.SitesFailed += o.SitesFailed
}

// SiteOutcome is the result of one site scrape. It carries the error as a
// message so it can cross the API boundary as data.
type SiteOutcome struct {
	Success     bool                  `json:"success"`
	Error       string                `json:"error,omitempty"`
	ProductID   int64                 `json:"productId"`
	Vendor      string                `json:"vendor"`
	URL         string                `json:"url"`
	Observation *models.Observation   `json:"observation,omitempty"`
	Delta       *models.ChangeDelta   `json:"delta,omitempty"`
	Alerts      []models.AlertPayload `json:"alerts,omitempty"`

	err error
}

// Err returns the underlying error of a failed outcome.
func (o SiteOutcome) Err() error { return o.err }

type trigger struct {
	kind models.TriggerType
	by   string
}

// Tracker is the scraping queue handler.
type Tracker struct {
	store   Store
	scraper Scraper
	alerts  Enqueuer
	opts    Options
	workers int
	pacer   *pacer
	log     logger.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a tracker. alerts is the notification queue; m may be nil.
func New(store Store, s Scraper, alerts Enqueuer, opts Options, log logger.Logger, m *metrics.Metrics) *Tracker {
	if opts.SiteDelay <= 0 {
		opts.SiteDelay = 3 * time.Second
	}
	if opts.Workers == "" {
		opts.Workers = "1"
	}
	t := &Tracker{
		store:   store,
		scraper: s,
		alerts:  alerts,
		opts:    opts,
		workers: utils.GetOptimalWorkerCount(opts.Workers, log),
		log:     log,
		metrics: m,
		now:     time.Now,
		sleep:   scraper.Sleep,
	}
	t.pacer = newPacer(opts.SiteDelay, func() time.Time { return t.now() }, func(ctx context.Context, d time.Duration) error { return t.sleep(ctx, d) })
	return t
}

// HandleJob is the queue.Handler for the scraping queue.
func (t *Tracker) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	var data JobData
	if err := job.Bind(&data); err != nil {
		return nil, queue.Permanent(err)
	}
	trig := trigger{kind: data.TriggerType, by: data.TriggeredBy}
	if trig.kind == "" {
		trig.kind = models.TriggerManual
	}

	switch job.Name {
	case JobDailyScrape, JobBatchScrape:
		return t.runBatch(ctx, job, data.ProductIDs, "", trig)

	case JobVendorScrape:
		ids, err := t.store.ProductIDsByVendor(ctx, data.Vendor)
		if err != nil {
			return nil, fmt.Errorf("list products for vendor %s: %w", data.Vendor, err)
		}
		return t.runBatch(ctx, job, ids, data.Vendor, trig)

	case JobScrapeProduct:
		res, err := t.runProduct(ctx, data.ProductID, "", trig)
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrNoTargets) {
			return nil, queue.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		res.Total = 1
		_ = job.UpdateProgress(ctx, 100)
		return res, nil

	case JobScrapeSite:
		out := t.scrapeOnce(ctx, data.ProductID, data.Vendor, data.URL, trig)
		if !out.Success {
			if errors.Is(out.err, ErrProductNotFound) || errors.Is(out.err, scraper.ErrUnknownVendor) {
				return nil, queue.Permanent(out.err)
			}
			return nil, out.err
		}
		return out, nil
	}

	return nil, queue.Permanent(fmt.Errorf("unknown job name %q", job.Name))
}

// runBatch processes productIDs, sequentially or on the product pool. Product
// failures are counted, not returned; only cancellation fails the batch.
func (t *Tracker) runBatch(ctx context.Context, job *queue.Job, productIDs []int64, vendor string, trig trigger) (*BatchResult, error) {
	total := &BatchResult{Total: len(productIDs)}
	if len(productIDs) == 0 {
		t.log.Info("Batch has no products", logger.String("job_id", job.ID))
		return total, nil
	}

	log := t.log.With(logger.String("job_id", job.ID), logger.String("job", job.Name))
	log.Info("Batch started", logger.Int("products", len(productIDs)), logger.Int("workers", t.workers))

	var (
		mu   sync.Mutex
		done int
	)
	finish := func(id int64, res BatchResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed = 1
			res.Succeeded = 0
			log.Error("Product failed", logger.Int64("product_id", id), logger.Error(err))
		}
		total.add(res)
		done++
		if perr := job.UpdateProgress(ctx, done*100/len(productIDs)); perr != nil {
			log.Warn("Failed to update progress", logger.Error(perr))
		}
	}

	workers := t.workers
	if workers > len(productIDs) {
		workers = len(productIDs)
	}
	if workers <= 1 {
		// SiteDelay also separates the last site of one product from the
		// first site of the next.
		scraped := false
		for _, id := range productIDs {
			if ctx.Err() != nil {
				break
			}
			if scraped {
				if err := t.sleep(ctx, t.opts.SiteDelay); err != nil {
					break
				}
			}
			res, err := t.runProduct(ctx, id, vendor, trig)
			finish(id, res, err)
			scraped = res.SitesSucceeded+res.SitesFailed > 0
		}
	} else {
		ids := make(chan int64)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for id := range ids {
					res, err := t.runProduct(ctx, id, vendor, trig)
					finish(id, res, err)
				}
			}()
		}
	feed:
		for _, id := range productIDs {
			select {
			case ids <- id:
			case <-ctx.Done():
				break feed
			}
		}
		close(ids)
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info("Batch finished",
		logger.Int("total", total.Total),
		logger.Int("succeeded", total.Succeeded),
		logger.Int("failed", total.Failed),
		logger.Int("sites_failed", total.SitesFailed))
	return total, nil
}

// runProduct scrapes every active target of one product in turn. A product
// succeeds when all its sites do. vendor, when set, restricts the targets.
func (t *Tracker) runProduct(ctx context.Context, productID int64, vendor string, trig trigger) (BatchResult, error) {
	var res BatchResult
	product, err := t.loadProduct(ctx, productID)
	if err != nil {
		return res, err
	}

	var targets []models.ScrapeTarget
	for _, target := range product.ActiveTargets() {
		if vendor == "" || scraper.NormalizeVendor(target.VendorName) == scraper.NormalizeVendor(vendor) {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return res, fmt.Errorf("product %d: %w", productID, ErrNoTargets)
	}

	for i, target := range targets {
		if i > 0 {
			if err := t.sleep(ctx, t.opts.SiteDelay); err != nil {
				return res, err
			}
		}
		out := t.scrapeSite(ctx, product, target, trig)
		if out.Success {
			res.SitesSucceeded++
		} else {
			res.SitesFailed++
		}
	}

	if res.SitesFailed == 0 {
		res.Succeeded = 1
	} else {
		res.Failed = 1
	}
	return res, nil
}

func (t *Tracker) loadProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := t.store.GetProduct(ctx, productID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", productID, err)
	}
	return product, nil
}

// ScrapeOnce runs the site pipeline for an ad-hoc (product, vendor, url)
// synchronously. Failures are reported in the outcome, never as an error.
func (t *Tracker) ScrapeOnce(ctx context.Context, productID int64, vendor, url, by string) SiteOutcome {
	return t.scrapeOnce(ctx, productID, vendor, url, trigger{kind: models.TriggerManual, by: by})
}

func (t *Tracker) scrapeOnce(ctx context.Context, productID int64, vendor, url string, trig trigger) SiteOutcome {
	product, err := t.loadProduct(ctx, productID)
	if err != nil {
		return failed(productID, vendor, url, err)
	}
	target := models.ScrapeTarget{ProductID: productID, VendorName: vendor, URL: url, IsActive: true}
	return t.scrapeSite(ctx, product, target, trig)
}

func failed(productID int64, vendor, url string, err error) SiteOutcome {
	return SiteOutcome{ProductID: productID, Vendor: vendor, URL: url, Error: err.Error(), err: err}
}

// scrapeSite is the per-site pipeline. Every call writes one attempt record.
func (t *Tracker) scrapeSite(ctx context.Context, product *models.Product, target models.ScrapeTarget, trig trigger) SiteOutcome {
	target.VendorName = scraper.NormalizeVendor(target.VendorName)
	log := t.log.With(logger.Int64("product_id", product.ID), logger.String("vendor", target.VendorName))
	start := t.now()
	record := &models.AttemptRecord{
		ProductID:   product.ID,
		Site:        target.VendorName,
		URL:         target.URL,
		TriggerType: trig.kind,
		TriggeredBy: trig.by,
	}

	out := t.observe(ctx, product, target, record)
	if !out.Success {
		log.Warn("Site scrape failed", logger.String("url", target.URL), logger.Error(out.err))
		record.ErrorMessage = out.Error
	}
	record.Success = out.Success
	record.DurationMs = t.now().Sub(start).Milliseconds()
	record.CreatedAt = t.now().UTC()

	if err := t.store.SaveAttempt(context.WithoutCancel(ctx), record); err != nil {
		log.Error("Failed to save attempt record", logger.Error(err))
	}
	return out
}

func (t *Tracker) observe(ctx context.Context, product *models.Product, target models.ScrapeTarget, record *models.AttemptRecord) SiteOutcome {
	previous, err := t.store.LatestObservation(ctx, product.ID, target.VendorName)
	if err != nil {
		return failed(product.ID, target.VendorName, target.URL, fmt.Errorf("load previous observation: %w", err))
	}
	if previous != nil {
		oldPrice := previous.Prices.ReferencePrice()
		oldStock := previous.StockQuantity
		record.OldPrice, record.OldStock = &oldPrice, &oldStock
	}

	release, err := t.pacer.acquire(ctx, target.VendorName)
	if err != nil {
		return failed(product.ID, target.VendorName, target.URL, err)
	}
	result, err := t.scraper.Scrape(ctx, product.ID, target.VendorName, target.URL)
	release()
	if err != nil {
		return failed(product.ID, target.VendorName, target.URL, err)
	}

	obs := result.Observation
	if err := t.store.SaveObservation(ctx, obs); err != nil {
		return failed(product.ID, target.VendorName, target.URL, fmt.Errorf("save observation: %w", err))
	}
	newPrice := obs.Prices.ReferencePrice()
	newStock := obs.StockQuantity
	record.NewPrice, record.NewStock = &newPrice, &newStock

	delta := monitor.Delta(obs, previous)
	out := SiteOutcome{
		Success:     true,
		ProductID:   product.ID,
		Vendor:      target.VendorName,
		URL:         target.URL,
		Observation: obs,
		Delta:       &delta,
	}

	for _, decision := range monitor.Evaluate(product.Threshold, delta).Decisions() {
		full := monitor.FillPayload(decision, obs, previous)
		out.Alerts = append(out.Alerts, full.Payload)
		t.metrics.AlertRaised(string(full.Kind))
		if _, err := t.alerts.Add(ctx, alertJobName(full.Kind), full.Payload, AlertJobOptions); err != nil {
			t.log.Error("Failed to enqueue alert",
				logger.Int64("product_id", product.ID),
				logger.String("kind", string(full.Kind)),
				logger.Error(err))
		}
	}
	return out
}
