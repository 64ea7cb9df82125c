// Package scheduler enqueues the daily scrape of all active products.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/tracker"

	"github.com/robfig/cron/v3"
)

// Config holds the trigger schedule.
type Config struct {
	Enabled bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	// Cron is a standard 5-field expression.
	Cron     string `yaml:"cron" env:"SCHEDULER_CRON" env-default:"0 9 * * *"`
	Timezone string `yaml:"timezone" env:"SCHEDULER_TIMEZONE" env-default:"Local"`
}

// DefaultCron fires once a day at 09:00.
const DefaultCron = "0 9 * * *"

// ProductLister lists the ids of products that should be scraped.
type ProductLister interface {
	ActiveProductIDs(ctx context.Context) ([]int64, error)
}

// Scheduler runs the daily trigger.
type Scheduler struct {
	cron     *cron.Cron
	cronSpec string
	products ProductLister
	queue    tracker.Enqueuer
	log      logger.Logger
	timeout  time.Duration
}

// New validates cfg and prepares the cron runner. Start begins firing.
func New(cfg Config, products ProductLister, q tracker.Enqueuer, log logger.Logger) (*Scheduler, error) {
	spec := cfg.Cron
	if spec == "" {
		spec = DefaultCron
	}
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("scheduler cron %q: %w", spec, err)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithLogger(cronLogger{log}), cron.WithChain(cron.Recover(cronLogger{log}))),
		cronSpec: spec,
		products: products,
		queue:    q,
		log:      log,
		timeout:  time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("register daily scrape: %w", err)
	}
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", logger.String("cron", s.cronSpec), logger.Time("next_run", s.Next()))
}

// Stop stops firing and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// Next returns the next fire time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.EnqueueDaily(ctx); err != nil {
		s.log.Error("Daily scrape enqueue failed", logger.Error(err))
	}
}

// EnqueueDaily adds one daily-scrape job covering every active product. With
// no active products nothing is enqueued and the job is nil.
func (s *Scheduler) EnqueueDaily(ctx context.Context) (*queue.Job, error) {
	ids, err := s.products.ActiveProductIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info("No active products, skipping daily scrape")
		return nil, nil
	}

	job, err := tracker.EnqueueDaily(ctx, s.queue, ids)
	if err != nil {
		return nil, fmt.Errorf("enqueue daily scrape: %w", err)
	}
	s.log.Info("Daily scrape enqueued", logger.String("job_id", job.ID), logger.Int("products", len(ids)))
	return job, nil
}

// cronLogger routes the cron runner's own logging through logger.Logger.
type cronLogger struct {
	log logger.Logger
}

// Info carries scheduling chatter, so it is logged at debug level.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, cronFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(cronFields(keysAndValues), logger.Error(err))...)
}

func cronFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		fields = append(fields, logger.Any("extra", kv[len(kv)-1]))
	}
	return fields
}
