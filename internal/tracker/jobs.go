package tracker

import (
	"context"
	"fmt"
	"time"

	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/utils"
)

// Job names on the scraping queue.
const (
	JobDailyScrape   = "daily-scrape"
	JobBatchScrape   = "batch-scrape"
	JobScrapeProduct = "scrape-product"
	JobVendorScrape  = "vendor-scrape"
	JobScrapeSite    = "scrape-site"
)

// Job names on the notification queue.
const (
	JobPriceAlert = "price-alert"
	JobStockAlert = "stock-alert"
)

// JobData is the payload of every scraping job. Which fields are set depends on the job name.
type JobData struct {
	ProductIDs  []int64            `json:"productIds,omitempty"`
	ProductID   int64              `json:"productId,omitempty"`
	Vendor      string             `json:"vendor,omitempty"`
	URL         string             `json:"url,omitempty"`
	TriggerType models.TriggerType `json:"triggerType"`
	TriggeredBy string             `json:"triggeredBy,omitempty"`
}

// Enqueuer adds jobs to a queue. *queue.Queue implements it.
type Enqueuer interface {
	Add(ctx context.Context, name string, data any, opts queue.JobOptions) (*queue.Job, error)
}

// ScrapeJobOptions is the job-level retry policy for scraping jobs. It is
// separate from the orchestrator's per-page retries: a job retry reruns the
// whole job.
var ScrapeJobOptions = queue.JobOptions{
	Attempts: 3,
	Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 60 * time.Second},
}

// AlertJobOptions is the retry policy for alert hand-off jobs.
var AlertJobOptions = queue.JobOptions{
	Attempts: 5,
	Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 5 * time.Second},
}

// EnqueueDaily adds the scheduled batch job for productIDs.
func EnqueueDaily(ctx context.Context, q Enqueuer, productIDs []int64) (*queue.Job, error) {
	return q.Add(ctx, JobDailyScrape, JobData{ProductIDs: productIDs, TriggerType: models.TriggerScheduled}, ScrapeJobOptions)
}

// EnqueueProduct adds a manual single-product job.
func EnqueueProduct(ctx context.Context, q Enqueuer, productID int64, by string) (*queue.Job, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("invalid product id %d", productID)
	}
	return q.Add(ctx, JobScrapeProduct, JobData{ProductID: productID, TriggerType: models.TriggerManual, TriggeredBy: by}, ScrapeJobOptions)
}

// EnqueueBatch adds a manual batch job. Repeated ids are scraped once.
func EnqueueBatch(ctx context.Context, q Enqueuer, productIDs []int64, by string) (*queue.Job, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("batch needs at least one product id")
	}
	productIDs = utils.Unique(productIDs)
	return q.Add(ctx, JobBatchScrape, JobData{ProductIDs: productIDs, TriggerType: models.TriggerManual, TriggeredBy: by}, ScrapeJobOptions)
}

// EnqueueVendor adds a manual job scraping every active product listed on vendor.
func EnqueueVendor(ctx context.Context, q Enqueuer, vendor, by string) (*queue.Job, error) {
	return q.Add(ctx, JobVendorScrape, JobData{Vendor: vendor, TriggerType: models.TriggerManual, TriggeredBy: by}, ScrapeJobOptions)
}

// EnqueueSite adds a manual job for one ad-hoc (product, vendor, url).
func EnqueueSite(ctx context.Context, q Enqueuer, productID int64, vendor, url, by string) (*queue.Job, error) {
	return q.Add(ctx, JobScrapeSite, JobData{
		ProductID:   productID,
		Vendor:      vendor,
		URL:         url,
		TriggerType: models.TriggerManual,
		TriggeredBy: by,
	}, ScrapeJobOptions)
}

func alertJobName(kind models.AlertKind) string {
	if kind == models.AlertStock {
		return JobStockAlert
	}
	return JobPriceAlert
}
