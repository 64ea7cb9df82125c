package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"PriceWatch/internal/database"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"
	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scraper/vendors"
	"PriceWatch/internal/tracker"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOnce struct {
	out  tracker.SiteOutcome
	args []any
}

func (s *stubOnce) ScrapeOnce(_ context.Context, productID int64, vendor, url, by string) tracker.SiteOutcome {
	s.args = []any{productID, vendor, url, by}
	return s.out
}

type fixture struct {
	handler  http.Handler
	repo     *database.DBRepository
	scraping *queue.Queue
	notify   *queue.Queue
	once     *stubOnce
	product  *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo, err := database.InitDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	p := &models.Product{
		Name:       "Timer",
		PartNumber: "NE555P",
		IsActive:   true,
		Targets:    []models.ScrapeTarget{{VendorName: "mouser", URL: "https://mouser.test/ne555", IsActive: true}},
	}
	require.NoError(t, repo.UpsertProduct(context.Background(), p))

	f := &fixture{
		repo:     repo,
		scraping: queue.New(rdb, queue.Scraping, queue.Options{}, nil),
		notify:   queue.New(rdb, queue.Notification, queue.Options{}, nil),
		once:     &stubOnce{},
		product:  p,
	}
	srv := New(Deps{
		Catalog:  repo,
		Scraper:  f.once,
		Registry: vendors.Default(),
		Scraping: f.scraping,
		Queues:   []*queue.Queue{f.notify},
		Metrics:  metrics.New(),
		Log:      logger.NewNop(),
	})
	f.handler = srv.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusOK, body["status"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEnqueueProduct(t *testing.T) {
	f := newFixture(t)

	path := "/scrape/products/" + jsonID(f.product.ID)
	rec, body := f.do(t, http.MethodPost, path, `{"triggeredBy":"alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, tracker.JobScrapeProduct, body["name"])
	assert.Equal(t, queue.Scraping, body["queue"])

	job, err := f.scraping.GetJob(context.Background(), body["jobId"].(string))
	require.NoError(t, err)
	var data tracker.JobData
	require.NoError(t, job.Bind(&data))
	assert.Equal(t, f.product.ID, data.ProductID)
	assert.Equal(t, "alice", data.TriggeredBy)
	assert.Equal(t, models.TriggerManual, data.TriggerType)

	rec, _ = f.do(t, http.MethodPost, path, "")
	assert.Equal(t, http.StatusAccepted, rec.Code, "body is optional")

	rec, _ = f.do(t, http.MethodPost, "/scrape/products/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scrape/products/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueBatchValidates(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/scrape/batch", `{"productIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "productIds")

	rec, _ = f.do(t, http.MethodPost, "/scrape/batch", `{"productIds":[1,-2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/scrape/batch", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/scrape/batch", `{"productIds":[1,2,3]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, tracker.JobBatchScrape, body["name"])
}

func TestEnqueueVendorAndSite(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/scrape/vendors/Mouser", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err := f.scraping.GetJob(context.Background(), body["jobId"].(string))
	require.NoError(t, err)
	var data tracker.JobData
	require.NoError(t, job.Bind(&data))
	assert.Equal(t, "mouser", data.Vendor)

	rec, body = f.do(t, http.MethodPost, "/scrape/vendors/farnell", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown vendor")

	rec, body = f.do(t, http.MethodPost, "/scrape/site", `{"productId":1,"vendor":"digikey","url":"https://www.digikey.com/p/1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, tracker.JobScrapeSite, body["name"])

	rec, _ = f.do(t, http.MethodPost, "/scrape/site", `{"productId":1,"vendor":"farnell","url":"https://uk.farnell.com/p/1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/scrape/site", `{"productId":1,"vendor":"mouser","url":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "url")
}

func TestScrapeOnceAlwaysAnswers200(t *testing.T) {
	f := newFixture(t)
	f.once.out = tracker.SiteOutcome{Success: false, Error: "price not found", ProductID: 1, Vendor: "mouser"}

	rec, body := f.do(t, http.MethodPost, "/scrape/once", `{"productId":1,"vendor":"mouser","url":"https://mouser.test/ne555","triggeredBy":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "price not found", body["error"])
	assert.NotContains(t, body, "observation")
	assert.Equal(t, []any{int64(1), "mouser", "https://mouser.test/ne555", "bob"}, f.once.args)

	f.once.out = tracker.SiteOutcome{
		Success:     true,
		ProductID:   1,
		Vendor:      "mouser",
		Observation: &models.Observation{ProductID: 1, Vendor: "mouser", StockQuantity: 250},
	}
	rec, body = f.do(t, http.MethodPost, "/scrape/once", `{"productId":1,"vendor":"mouser","url":"https://mouser.test/ne555"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	obs := body["observation"].(map[string]any)
	assert.EqualValues(t, 250, obs["stockQuantity"])

	rec, _ = f.do(t, http.MethodPost, "/scrape/once", `{"vendor":"mouser"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeOncePassesCanonicalVendor(t *testing.T) {
	f := newFixture(t)
	f.once.out = tracker.SiteOutcome{Success: true, ProductID: 1, Vendor: "mouser"}

	rec, _ := f.do(t, http.MethodPost, "/scrape/once", `{"productId":1,"vendor":" Mouser","url":"https://mouser.test/ne555"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mouser", f.once.args[1])
}

func TestProductHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveObservation(ctx, &models.Observation{ProductID: f.product.ID, Vendor: "mouser", StockStatus: models.StockInStock}))
	require.NoError(t, f.repo.SaveAttempt(ctx, &models.AttemptRecord{ProductID: f.product.ID, Site: "mouser", Success: true, TriggerType: models.TriggerManual}))
	require.NoError(t, f.repo.SaveAttempt(ctx, &models.AttemptRecord{ProductID: f.product.ID, Site: "mouser", Success: false, ErrorMessage: "blocked", TriggerType: models.TriggerManual}))

	id := jsonID(f.product.ID)
	rec, body := f.do(t, http.MethodGet, "/products/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NE555P", body["partNumber"])

	rec, _ = f.do(t, http.MethodGet, "/products/"+id+"/observations?vendor=mouser", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var obs []models.Observation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &obs))
	assert.Len(t, obs, 1)

	rec, _ = f.do(t, http.MethodGet, "/products/"+id+"/attempts?success=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var attempts []models.AttemptRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, "blocked", attempts[0].ErrorMessage)

	rec, _ = f.do(t, http.MethodGet, "/products/"+id+"/attempts?success=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/products/77/observations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec, _ = f.do(t, http.MethodGet, "/products/77", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.notify.Add(ctx, tracker.JobPriceAlert, models.AlertPayload{ProductID: 1}, tracker.AlertJobOptions)
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/queues/notification", "")
	require.Equal(t, http.StatusOK, rec.Code)
	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["waiting"])

	rec, body = f.do(t, http.MethodGet, "/queues/notification/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(queue.StateWaiting), body["state"])

	rec, _ = f.do(t, http.MethodGet, "/queues/notification/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/queues/emails", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/queues/notification/jobs/"+job.ID+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "only failed jobs can be retried")

	rec, _ = f.do(t, http.MethodDelete, "/queues/notification/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	failing, err := f.scraping.Add(ctx, tracker.JobScrapeProduct, tracker.JobData{ProductID: 404}, tracker.ScrapeJobOptions)
	require.NoError(t, err)
	_, err = f.scraping.Add(ctx, tracker.JobScrapeProduct, tracker.JobData{ProductID: 1}, tracker.ScrapeJobOptions)
	require.NoError(t, err)
	worker := queue.NewWorker(f.scraping, func(_ context.Context, j *queue.Job) (any, error) {
		if j.ID == failing.ID {
			return nil, queue.Permanent(errors.New("product not found"))
		}
		return "done", nil
	}, queue.WorkerOptions{}, logger.NewNop(), nil)
	for i := 0; i < 2; i++ {
		processed, err := worker.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	rec, body = f.do(t, http.MethodPost, "/queues/scraping/jobs/"+failing.ID+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(queue.StateWaiting), body["state"])

	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)

	rec, body = f.do(t, http.MethodDelete, "/queues/scraping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["removed"], "one completed and one failed job")

	_, body = f.do(t, http.MethodGet, "/queues/scraping", "")
	counts = body["counts"].(map[string]any)
	assert.EqualValues(t, 0, counts["completed"])
	assert.EqualValues(t, 0, counts["failed"])
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
