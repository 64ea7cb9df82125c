// Package server is the HTTP API for triggering scrapes and managing queues.
package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"PriceWatch/internal/database"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"
	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scraper"
	"PriceWatch/internal/tracker"
	"PriceWatch/pkg/config"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

// Catalog reads products and their history.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ObservationHistory(ctx context.Context, productID int64, vendor string, limit int) ([]models.Observation, error)
	GetAttempts(ctx context.Context, filters database.AttemptFilters) ([]models.AttemptRecord, error)
}

// OnceScraper runs a synchronous scrape of one site.
type OnceScraper interface {
	ScrapeOnce(ctx context.Context, productID int64, vendor, url, by string) tracker.SiteOutcome
}

// Deps are the collaborators of the API.
type Deps struct {
	Catalog  Catalog
	Scraper  OnceScraper
	Registry *scraper.Registry
	// Scraping receives scrape jobs; every queue in Queues can be inspected.
	Scraping *queue.Queue
	Queues   []*queue.Queue
	Metrics  *metrics.Metrics
	Log      logger.Logger
	// ScrapeTimeout bounds /scrape/once.
	ScrapeTimeout time.Duration
}

// Server holds the router and its dependencies.
type Server struct {
	deps     Deps
	queues   map[string]*queue.Queue
	validate *validator.Validate
	log      logger.Logger
}

// New builds a Server.
func New(deps Deps) *Server {
	if deps.ScrapeTimeout <= 0 {
		deps.ScrapeTimeout = 3 * time.Minute
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	queues := make(map[string]*queue.Queue, len(deps.Queues)+1)
	for _, q := range deps.Queues {
		queues[q.Name()] = q
	}
	if deps.Scraping != nil {
		queues[deps.Scraping.Name()] = deps.Scraping
	}

	return &Server{
		deps:     deps,
		queues:   queues,
		validate: validate,
		log:      deps.Log,
	}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	r.Route("/scrape", func(r chi.Router) {
		r.Post("/products/{id}", s.enqueueProduct)
		r.Post("/batch", s.enqueueBatch)
		r.Post("/vendors/{vendor}", s.enqueueVendor)
		r.Post("/site", s.enqueueSite)
		r.Post("/once", s.scrapeOnce)
	})

	r.Route("/products/{id}", func(r chi.Router) {
		r.Get("/", s.getProduct)
		r.Get("/observations", s.listObservations)
		r.Get("/attempts", s.listAttempts)
	})

	r.Route("/queues/{queue}", func(r chi.Router) {
		r.Get("/", s.listQueue)
		r.Delete("/", s.clearQueue)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/retry", s.retryJob)
		r.Delete("/jobs/{id}", s.removeJob)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info("Request served",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("duration", time.Since(start)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Router(),
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout + s.deps.ScrapeTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", logger.String("address", cfg.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("API server stopped")
	return nil
}
