// Package notify consumes the notification queue and hands alert payloads to
// a message broker. Composing emails or chat messages happens downstream.
package notify

import (
	"context"
	"fmt"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/models"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/tracker"
)

// Publisher delivers one message.
type Publisher interface {
	PublishJSON(ctx context.Context, msg any) error
	Close() error
}

// Message is what downstream notification services receive.
type Message struct {
	Event       string              `json:"event"`
	JobID       string              `json:"jobId"`
	Alert       models.AlertPayload `json:"alert"`
	PublishedAt time.Time           `json:"publishedAt"`
}

// Handler turns alert jobs into published messages.
type Handler struct {
	pub Publisher
	log logger.Logger
	now func() time.Time
}

// NewHandler builds a Handler publishing through pub.
func NewHandler(pub Publisher, log logger.Logger) *Handler {
	return &Handler{pub: pub, log: log, now: time.Now}
}

// HandleJob implements queue.Handler for the notification queue. Broker
// errors are returned so the queue retries the job.
func (h *Handler) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	switch job.Name {
	case tracker.JobPriceAlert, tracker.JobStockAlert:
	default:
		return nil, queue.Permanent(fmt.Errorf("unknown notification job %q", job.Name))
	}

	var payload models.AlertPayload
	if err := job.Bind(&payload); err != nil {
		return nil, queue.Permanent(err)
	}

	msg := Message{
		Event:       job.Name,
		JobID:       job.ID,
		Alert:       payload,
		PublishedAt: h.now().UTC(),
	}
	if err := h.pub.PublishJSON(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish %s for product %d: %w", job.Name, payload.ProductID, err)
	}

	h.log.Info("Alert published",
		logger.String("job_id", job.ID),
		logger.String("kind", string(payload.Kind)),
		logger.Int64("product_id", payload.ProductID),
		logger.String("vendor", payload.Vendor),
	)
	return msg, nil
}
