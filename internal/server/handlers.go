package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"PriceWatch/internal/database"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/tracker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// TriggerRequest is the optional body of the product and vendor triggers.
type TriggerRequest struct {
	TriggeredBy string `json:"triggeredBy"`
}

// BatchRequest triggers a scrape of several products.
type BatchRequest struct {
	ProductIDs  []int64 `json:"productIds" validate:"required,min=1,dive,gt=0"`
	TriggeredBy string  `json:"triggeredBy"`
}

// SiteRequest names one (product, vendor, url) scrape.
type SiteRequest struct {
	ProductID   int64  `json:"productId" validate:"required,gt=0"`
	Vendor      string `json:"vendor" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	TriggeredBy string `json:"triggeredBy"`
}

// JobResponse answers an enqueue.
type JobResponse struct {
	Response
	JobID string `json:"jobId"`
	Queue string `json:"queue"`
	Name  string `json:"name"`
}

// ClearResponse answers a queue clear.
type ClearResponse struct {
	Response
	Removed int `json:"removed"`
}

func (s *Server) reqLog(r *http.Request, op string) logger.Logger {
	return s.log.With(
		logger.String("op", op),
		logger.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// decode reads an optional JSON body into v and validates it. It writes the
// error response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, log logger.Logger, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			log.Warn("Failed to decode request body", logger.Error(err))
			respondError(w, r, http.StatusBadRequest, "failed to decode request")
			return false
		}
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Warn("Invalid request", logger.Error(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ValidationError(verrs))
			return false
		}
		respondError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) enqueued(w http.ResponseWriter, r *http.Request, log logger.Logger, job *queue.Job, err error) {
	if err != nil {
		log.Error("Failed to enqueue job", logger.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	log.Info("Job enqueued", logger.String("job_id", job.ID), logger.String("name", job.Name))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, JobResponse{Response: OK(), JobID: job.ID, Queue: s.deps.Scraping.Name(), Name: job.Name})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, OK())
}

func (s *Server) enqueueProduct(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.enqueueProduct")

	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid product id")
		return
	}
	var req TriggerRequest
	if !s.decode(w, r, log, &req, true) {
		return
	}

	if _, err := s.deps.Catalog.GetProduct(r.Context(), id); err != nil {
		s.productError(w, r, log, err)
		return
	}

	job, err := tracker.EnqueueProduct(r.Context(), s.deps.Scraping, id, req.TriggeredBy)
	s.enqueued(w, r, log, job, err)
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.enqueueBatch")

	var req BatchRequest
	if !s.decode(w, r, log, &req, false) {
		return
	}

	job, err := tracker.EnqueueBatch(r.Context(), s.deps.Scraping, req.ProductIDs, req.TriggeredBy)
	s.enqueued(w, r, log, job, err)
}

func (s *Server) enqueueVendor(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.enqueueVendor")

	parser, err := s.deps.Registry.Lookup(chi.URLParam(r, "vendor"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req TriggerRequest
	if !s.decode(w, r, log, &req, true) {
		return
	}

	job, err := tracker.EnqueueVendor(r.Context(), s.deps.Scraping, parser.Vendor(), req.TriggeredBy)
	s.enqueued(w, r, log, job, err)
}

func (s *Server) enqueueSite(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.enqueueSite")

	var req SiteRequest
	if !s.decode(w, r, log, &req, false) {
		return
	}
	parser, err := s.deps.Registry.Lookup(req.Vendor)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := tracker.EnqueueSite(r.Context(), s.deps.Scraping, req.ProductID, parser.Vendor(), req.URL, req.TriggeredBy)
	s.enqueued(w, r, log, job, err)
}

// scrapeOnce answers 200 with the outcome even when the scrape failed.
func (s *Server) scrapeOnce(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.scrapeOnce")

	var req SiteRequest
	if !s.decode(w, r, log, &req, false) {
		return
	}

	// Unknown vendors are reported in the outcome by the scraper.
	if parser, err := s.deps.Registry.Lookup(req.Vendor); err == nil {
		req.Vendor = parser.Vendor()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ScrapeTimeout)
	defer cancel()

	out := s.deps.Scraper.ScrapeOnce(ctx, req.ProductID, req.Vendor, req.URL, req.TriggeredBy)
	if !out.Success {
		log.Warn("Manual scrape failed",
			logger.Int64("product_id", req.ProductID),
			logger.String("vendor", req.Vendor),
			logger.String("error", out.Error),
		)
	}
	render.JSON(w, r, out)
}

func (s *Server) productError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "product not found")
		return
	}
	log.Error("Failed to load product", logger.Error(err))
	respondError(w, r, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.getProduct")

	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid product id")
		return
	}
	p, err := s.deps.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.productError(w, r, log, err)
		return
	}
	render.JSON(w, r, p)
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.listObservations")

	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid product id")
		return
	}
	obs, err := s.deps.Catalog.ObservationHistory(r.Context(), id, r.URL.Query().Get("vendor"), queryInt(r, "limit", 20))
	if err != nil {
		log.Error("Failed to load observations", logger.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if obs == nil {
		obs = []models.Observation{}
	}
	render.JSON(w, r, obs)
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.listAttempts")

	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid product id")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	filters := database.AttemptFilters{
		ProductID: id,
		Site:      r.URL.Query().Get("site"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	if v := r.URL.Query().Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid success filter")
			return
		}
		filters.Success = &b
	}

	records, err := s.deps.Catalog.GetAttempts(r.Context(), filters)
	if err != nil {
		log.Error("Failed to load attempts", logger.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []models.AttemptRecord{}
	}
	render.JSON(w, r, records)
}

func (s *Server) lookupQueue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	name := chi.URLParam(r, "queue")
	q, ok := s.queues[name]
	if !ok {
		respondError(w, r, http.StatusNotFound, "unknown queue "+strconv.Quote(name))
	}
	return q, ok
}

func (s *Server) jobError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidState), errors.Is(err, queue.ErrJobActive):
		respondError(w, r, http.StatusConflict, err.Error())
	default:
		log.Error("Queue operation failed", logger.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.listQueue")
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	snap, err := q.List(r.Context())
	if err != nil {
		s.jobError(w, r, log, err)
		return
	}
	render.JSON(w, r, snap)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.getJob")
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	job, err := q.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, r, log, err)
		return
	}
	render.JSON(w, r, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.retryJob")
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	job, err := q.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, r, log, err)
		return
	}
	log.Info("Job retried", logger.String("job_id", job.ID))
	render.JSON(w, r, job)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.removeJob")
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := q.Remove(r.Context(), id); err != nil {
		s.jobError(w, r, log, err)
		return
	}
	log.Info("Job removed", logger.String("job_id", id))
	render.JSON(w, r, OK())
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "server.clearQueue")
	q, ok := s.lookupQueue(w, r)
	if !ok {
		return
	}
	n, err := q.Clear(r.Context())
	if err != nil {
		s.jobError(w, r, log, err)
		return
	}
	log.Info("Queue cleared", logger.String("queue", q.Name()), logger.Int("removed", n))
	render.JSON(w, r, ClearResponse{Response: OK(), Removed: n})
}
