package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// Handler processes one job. The returned value is stored as the job's return
// value on success.
type Handler func(ctx context.Context, job *Job) (any, error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the job fails immediately instead of being retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	// Concurrency is the number of jobs processed at once, default 1.
	Concurrency  int           `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"1"`
	PollInterval time.Duration `yaml:"poll_interval" env:"WORKER_POLL_INTERVAL" env-default:"1s"`
}

// Worker consumes one queue.
type Worker struct {
	queue   *Queue
	handler Handler
	opts    WorkerOptions
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewWorker creates a consumer for q. m may be nil.
func NewWorker(q *Queue, h Handler, opts WorkerOptions, log logger.Logger, m *metrics.Metrics) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Worker{
		queue:   q,
		handler: h,
		opts:    opts,
		log:     log.With(logger.String("queue", q.Name())),
		metrics: m,
	}
}

// Run processes jobs until ctx is cancelled. Jobs left active by an earlier
// crash are requeued first.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.RecoverActive(ctx); err != nil {
		return err
	} else if n > 0 {
		w.log.Warn("Requeued stale active jobs", logger.Int("count", n))
	}

	w.log.Info("Worker started", logger.Int("concurrency", w.opts.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	w.log.Info("Worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("Queue poll failed", logger.Error(err))
		}
		if processed {
			continue
		}
		t := time.NewTimer(w.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// ProcessNext promotes due delayed jobs, then runs at most one waiting job.
// It reports whether a job was run.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	q := w.queue
	if _, err := q.promoteDelayed(ctx); err != nil {
		return false, err
	}

	id, err := q.rdb.LMove(ctx, q.stateKey(StateWaiting), q.stateKey(StateActive), "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch next job: %w", err)
	}

	job, err := q.GetJob(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		q.rdb.LRem(ctx, q.stateKey(StateActive), 1, id)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	started := q.now().UTC()
	job.State = StateActive
	job.ProcessedOn = &started
	if _, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		return q.save(ctx, pipe, job)
	}); err != nil {
		return true, fmt.Errorf("mark job %s active: %w", id, err)
	}

	log := w.log.With(logger.String("job_id", job.ID), logger.String("job", job.Name), logger.Int("attempt", job.AttemptsMade+1))
	log.Info("Job started")

	result, runErr := w.run(ctx, job)
	job.AttemptsMade++

	// Finish even if ctx was cancelled mid-job so the job does not stay active.
	finishCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		err = w.complete(finishCtx, job, result)
		if err == nil {
			log.Info("Job completed")
		}
	} else {
		err = w.fail(finishCtx, job, runErr, log)
	}
	w.metrics.JobProcessed(q.Name(), job.Name, runErr == nil)
	return true, err
}

func (w *Worker) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panicked", logger.String("job_id", job.ID), logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) complete(ctx context.Context, job *Job, result any) error {
	q := w.queue
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode job %s result: %w", job.ID, err)
		}
		job.ReturnValue = raw
	}
	finished := q.now().UTC()
	job.State = StateCompleted
	job.FinishedOn = &finished
	job.FailedReason = ""

	if _, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.stateKey(StateActive), 1, job.ID)
		pipe.ZAdd(ctx, q.stateKey(StateCompleted), redis.Z{Score: millis(finished), Member: job.ID})
		return q.save(ctx, pipe, job)
	}); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return q.trim(ctx, StateCompleted, q.opts.KeepCompleted)
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error, log logger.Logger) error {
	q := w.queue
	job.FailedReason = cause.Error()

	if !IsPermanent(cause) && job.runs() < job.Opts.Attempts {
		delay := backoffDelay(job.Opts.Backoff, job.runs())
		log.Warn("Job failed, will retry", logger.Error(cause), logger.Duration("delay", delay), logger.Int("attempts", job.Opts.Attempts))

		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.stateKey(StateActive), 1, job.ID)
			if delay > 0 {
				due := q.now().Add(delay).UTC()
				job.State = StateDelayed
				job.DelayUntil = &due
				pipe.ZAdd(ctx, q.stateKey(StateDelayed), redis.Z{Score: millis(due), Member: job.ID})
			} else {
				job.State = StateWaiting
				pipe.RPush(ctx, q.stateKey(StateWaiting), job.ID)
			}
			return q.save(ctx, pipe, job)
		})
		if err != nil {
			return fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		return nil
	}

	log.Error("Job failed", logger.Error(cause), logger.Bool("permanent", IsPermanent(cause)))
	finished := q.now().UTC()
	job.State = StateFailed
	job.FinishedOn = &finished
	if _, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.stateKey(StateActive), 1, job.ID)
		pipe.ZAdd(ctx, q.stateKey(StateFailed), redis.Z{Score: millis(finished), Member: job.ID})
		return q.save(ctx, pipe, job)
	}); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return q.trim(ctx, StateFailed, q.opts.KeepFailed)
}
