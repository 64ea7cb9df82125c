package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	msgs []any
	err  error
}

func (c *capturePublisher) PublishJSON(_ context.Context, msg any) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func alertJob(t *testing.T, name string, payload models.AlertPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "n-1", Name: name, Data: raw}
}

func TestHandleJobPublishesAlert(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub, logger.NewNop())
	h.now = func() time.Time { return time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC) }

	payload := models.AlertPayload{
		ProductID:     7,
		Vendor:        "mouser",
		Kind:          models.AlertPriceIncrease,
		Delta:         models.ChangeDelta{PriceChangePercent: 12.5},
		PreviousPrice: 0.8,
		CurrentPrice:  0.9,
	}
	out, err := h.HandleJob(context.Background(), alertJob(t, tracker.JobPriceAlert, payload))
	require.NoError(t, err)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0].(Message)
	assert.Equal(t, out, msg)
	assert.Equal(t, tracker.JobPriceAlert, msg.Event)
	assert.Equal(t, "n-1", msg.JobID)
	assert.Equal(t, payload, msg.Alert)
	assert.Equal(t, 9, msg.PublishedAt.Hour())
}

func TestHandleJobRetriesBrokerErrors(t *testing.T) {
	h := NewHandler(&capturePublisher{err: errors.New("connection reset")}, logger.NewNop())

	_, err := h.HandleJob(context.Background(), alertJob(t, tracker.JobStockAlert, models.AlertPayload{ProductID: 1}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.ErrorContains(t, err, "connection reset")
}

func TestHandleJobRejectsUnknownOrMalformedJobs(t *testing.T) {
	h := NewHandler(&capturePublisher{}, logger.NewNop())

	_, err := h.HandleJob(context.Background(), &queue.Job{Name: tracker.JobDailyScrape})
	assert.True(t, queue.IsPermanent(err))

	_, err = h.HandleJob(context.Background(), &queue.Job{Name: tracker.JobStockAlert, Data: json.RawMessage(`"oops"`)})
	assert.True(t, queue.IsPermanent(err))
}

func TestLogPublisher(t *testing.T) {
	p := LogPublisher{Log: logger.NewNop()}
	assert.NoError(t, p.PublishJSON(context.Background(), Message{Event: "price-alert"}))
	assert.Error(t, p.PublishJSON(context.Background(), func() {}))
	assert.NoError(t, p.Close())
}
