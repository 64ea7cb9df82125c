package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"PriceWatch/internal/blob"
	"PriceWatch/internal/browser"
	"PriceWatch/internal/catalog"
	"PriceWatch/internal/database"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"
	"PriceWatch/internal/notify"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scheduler"
	"PriceWatch/internal/scraper"
	"PriceWatch/internal/scraper/vendors"
	"PriceWatch/internal/server"
	"PriceWatch/internal/tracker"
	"PriceWatch/pkg/config"

	"github.com/redis/go-redis/v9"
)

// App is the main application structure holding all dependencies.
type App struct {
	Config   *config.Config
	Log      logger.Logger
	Repo     *database.DBRepository
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Registry *scraper.Registry

	Scraping     *queue.Queue
	Notification *queue.Queue

	browserOnce sync.Once
	browser     *browser.Browser
	tracker     *tracker.Tracker
	browserErr  error
}

// New opens the database and the queue connection. The browser is launched
// on first use.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	repo, err := database.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		repo.Close()
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	m := metrics.New()
	return &App{
		Config:       cfg,
		Log:          log,
		Repo:         repo,
		Redis:        rdb,
		Metrics:      m,
		Registry:     vendors.Default(),
		Scraping:     queue.New(rdb, queue.Scraping, cfg.Queue, m),
		Notification: queue.New(rdb, queue.Notification, cfg.Queue, m),
	}, nil
}

// Tracker returns the scrape pipeline, launching the shared browser on the
// first call.
func (a *App) Tracker() (*tracker.Tracker, error) {
	a.browserOnce.Do(func() {
		blobs, err := blob.NewFileStore(a.Config.Blob.Root, a.Config.Blob.BaseURL)
		if err != nil {
			a.browserErr = err
			return
		}
		b, err := browser.Launch(a.Config.Browser, a.Log)
		if err != nil {
			a.browserErr = err
			return
		}
		a.browser = b

		orch := scraper.NewOrchestrator(b, a.Registry, blobs, a.Config.Scraper, a.Log, a.Metrics)
		a.tracker = tracker.New(a.Repo, orch, a.Notification, a.Config.Tracker, a.Log, a.Metrics)
	})
	return a.tracker, a.browserErr
}

// Publisher connects to RabbitMQ, or logs alerts when no broker is configured.
func (a *App) Publisher() (notify.Publisher, error) {
	if a.Config.RabbitMQ.URL == "" {
		a.Log.Warn("No RabbitMQ URL configured, alerts will only be logged")
		return notify.LogPublisher{Log: a.Log}, nil
	}
	return notify.DialRabbitMQ(a.Config.RabbitMQ.URL, a.Config.RabbitMQ.Queue)
}

// RunWorkers consumes both queues and runs the daily scheduler until ctx is
// cancelled.
func (a *App) RunWorkers(ctx context.Context) error {
	tr, err := a.Tracker()
	if err != nil {
		return err
	}
	pub, err := a.Publisher()
	if err != nil {
		return err
	}
	defer pub.Close()

	if a.Config.Scheduler.Enabled {
		sched, err := scheduler.New(a.Config.Scheduler, a.Repo, a.Scraping, a.Log)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	workers := []*queue.Worker{
		queue.NewWorker(a.Scraping, tr.HandleJob, a.Config.Worker, a.Log, a.Metrics),
		queue.NewWorker(a.Notification, notify.NewHandler(pub, a.Log).HandleJob, a.Config.Worker, a.Log, a.Metrics),
	}

	errCh := make(chan error, len(workers))
	for _, w := range workers {
		go func(w *queue.Worker) { errCh <- w.Run(ctx) }(w)
	}

	var errs []error
	for range workers {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Server builds the HTTP API.
func (a *App) Server() (*server.Server, error) {
	tr, err := a.Tracker()
	if err != nil {
		return nil, err
	}
	return server.New(server.Deps{
		Catalog:       a.Repo,
		Scraper:       tr,
		Registry:      a.Registry,
		Scraping:      a.Scraping,
		Queues:        []*queue.Queue{a.Notification},
		Metrics:       a.Metrics,
		Log:           a.Log,
		ScrapeTimeout: a.Config.Server.ScrapeTimeout,
	}), nil
}

// Seed loads the catalog file at path into the database.
func (a *App) Seed(ctx context.Context, path string) (int, error) {
	c, err := catalog.Load(path)
	if err != nil {
		return 0, err
	}
	return c.Seed(ctx, a.Repo, a.Registry, a.Log)
}

// Close releases the browser, the queue connection and the database.
func (a *App) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	errs = append(errs, a.Redis.Close(), a.Repo.Close())
	return errors.Join(errs...)
}
