// Package queue is a small durable job queue on Redis with per-job retry and
// backoff, in the style of BullMQ: waiting, delayed, active, completed and
// failed sets per queue, plus the admin operations the API exposes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PriceWatch/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Well-known queue names.
const (
	Scraping     = "scraping"
	Notification = "notification"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobActive    = errors.New("job is active")
	ErrInvalidState = errors.New("invalid job state")
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the delay policy between job-level attempts.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// JobOptions are set when a job is added.
type JobOptions struct {
	// Attempts is the total number of handler runs allowed, at least 1.
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// Job is one unit of work. It is stored as JSON under its own key.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Opts         JobOptions      `json:"opts"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	RetryBase    int             `json:"retryBase,omitempty"`
	Progress     int             `json:"progress"`
	FailedReason string          `json:"failedReason,omitempty"`
	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	ProcessedOn  *time.Time      `json:"processedOn,omitempty"`
	FinishedOn   *time.Time      `json:"finishedOn,omitempty"`
	DelayUntil   *time.Time      `json:"delayUntil,omitempty"`

	queue *Queue
}

// Bind decodes the job payload into v.
func (j *Job) Bind(v any) error {
	if len(j.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("decode job %s data: %w", j.ID, err)
	}
	return nil
}

// UpdateProgress stores a 0-100 progress value while the job runs.
func (j *Job) UpdateProgress(ctx context.Context, progress int) error {
	if j.queue == nil {
		j.Progress = progress
		return nil
	}
	return j.queue.UpdateProgress(ctx, j, progress)
}

// Options configures a Queue.
type Options struct {
	Prefix        string `yaml:"prefix" env:"QUEUE_PREFIX" env-default:"pricewatch"`
	KeepCompleted int    `yaml:"keep_completed" env:"QUEUE_KEEP_COMPLETED" env-default:"10"`
	KeepFailed    int    `yaml:"keep_failed" env:"QUEUE_KEEP_FAILED" env-default:"10"`
	// ListLimit bounds the jobs returned per state by List.
	ListLimit int `yaml:"list_limit" env:"QUEUE_LIST_LIMIT" env-default:"50"`
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "pricewatch"
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = 10
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = 10
	}
	if o.ListLimit <= 0 {
		o.ListLimit = 50
	}
	return o
}

// Queue is a named job queue. Methods are safe for concurrent use.
type Queue struct {
	rdb     redis.UniversalClient
	name    string
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

// New binds a queue name to a Redis client. m may be nil.
func New(rdb redis.UniversalClient, name string, opts Options, m *metrics.Metrics) *Queue {
	return &Queue{
		rdb:     rdb,
		name:    name,
		opts:    opts.withDefaults(),
		metrics: m,
		now:     time.Now,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(parts ...string) string {
	k := q.opts.Prefix + ":" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) jobKey(id string) string { return q.key("job", id) }

func (q *Queue) stateKey(s State) string { return q.key(string(s)) }

func millis(t time.Time) float64 { return float64(t.UnixMilli()) }

// Add enqueues a new waiting job carrying data encoded as JSON.
func (q *Queue) Add(ctx context.Context, name string, data any, opts JobOptions) (*Job, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s job data: %w", name, err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffFixed
	}

	job := &Job{
		ID:        uuid.NewString(),
		Queue:     q.name,
		Name:      name,
		Data:      raw,
		Opts:      opts,
		State:     StateWaiting,
		Timestamp: q.now().UTC(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), encoded, 0)
		pipe.RPush(ctx, q.stateKey(StateWaiting), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add job to %s: %w", q.name, err)
	}

	q.metrics.JobEnqueued(q.name, name)
	job.queue = q
	return job, nil
}

// GetJob loads a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	job := &Job{}
	if err := json.Unmarshal(raw, job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.queue = q
	return job, nil
}

func (q *Queue) save(ctx context.Context, pipe redis.Pipeliner, job *Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	pipe.Set(ctx, q.jobKey(job.ID), encoded, 0)
	return nil
}

// UpdateProgress persists progress on a job.
func (q *Queue) UpdateProgress(ctx context.Context, job *Job, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		return q.save(ctx, pipe, job)
	})
	return err
}

// Counts is the number of jobs per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a point-in-time view of a queue.
type Snapshot struct {
	Name      string `json:"name"`
	Counts    Counts `json:"counts"`
	Waiting   []*Job `json:"waiting"`
	Delayed   []*Job `json:"delayed"`
	Active    []*Job `json:"active"`
	Completed []*Job `json:"completed"`
	Failed    []*Job `json:"failed"`
}

// List returns counts and the first jobs of every state. Completed and failed
// are newest first.
func (q *Queue) List(ctx context.Context) (*Snapshot, error) {
	limit := int64(q.opts.ListLimit)

	var waiting, active, delayed, completed, failed *redis.StringSliceCmd
	var nWaiting, nActive, nDelayed, nCompleted, nFailed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LRange(ctx, q.stateKey(StateWaiting), 0, limit-1)
		active = pipe.LRange(ctx, q.stateKey(StateActive), 0, limit-1)
		delayed = pipe.ZRange(ctx, q.stateKey(StateDelayed), 0, limit-1)
		completed = pipe.ZRevRange(ctx, q.stateKey(StateCompleted), 0, limit-1)
		failed = pipe.ZRevRange(ctx, q.stateKey(StateFailed), 0, limit-1)
		nWaiting = pipe.LLen(ctx, q.stateKey(StateWaiting))
		nActive = pipe.LLen(ctx, q.stateKey(StateActive))
		nDelayed = pipe.ZCard(ctx, q.stateKey(StateDelayed))
		nCompleted = pipe.ZCard(ctx, q.stateKey(StateCompleted))
		nFailed = pipe.ZCard(ctx, q.stateKey(StateFailed))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list queue %s: %w", q.name, err)
	}

	snap := &Snapshot{
		Name: q.name,
		Counts: Counts{
			Waiting:   nWaiting.Val(),
			Delayed:   nDelayed.Val(),
			Active:    nActive.Val(),
			Completed: nCompleted.Val(),
			Failed:    nFailed.Val(),
		},
	}
	for _, target := range []struct {
		ids []string
		out *[]*Job
	}{
		{waiting.Val(), &snap.Waiting},
		{delayed.Val(), &snap.Delayed},
		{active.Val(), &snap.Active},
		{completed.Val(), &snap.Completed},
		{failed.Val(), &snap.Failed},
	} {
		jobs, err := q.loadJobs(ctx, target.ids)
		if err != nil {
			return nil, err
		}
		*target.out = jobs
	}
	return snap, nil
}

func (q *Queue) loadJobs(ctx context.Context, ids []string) ([]*Job, error) {
	jobs := make([]*Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobKey(id)
	}
	values, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		job := &Job{}
		if err := json.Unmarshal([]byte(s), job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		job.queue = q
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
// AttemptsMade keeps counting; the budget restarts from RetryBase.
func (q *Queue) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != StateFailed {
		return nil, fmt.Errorf("%w: retry needs a failed job, %s is %s", ErrInvalidState, id, job.State)
	}

	n, err := q.rdb.ZRem(ctx, q.stateKey(StateFailed), id).Result()
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s is no longer failed", ErrInvalidState, id)
	}

	job.State = StateWaiting
	job.RetryBase = job.AttemptsMade
	job.FailedReason = ""
	job.FinishedOn = nil
	job.ProcessedOn = nil
	job.Progress = 0

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.RPush(ctx, q.stateKey(StateWaiting), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}
	return job, nil
}

// Remove deletes a job that is not currently running. Taking the id out of
// its state container is the claim: a worker or promoter that moved it first
// wins, and Remove looks again.
func (q *Queue) Remove(ctx context.Context, id string) error {
	for i := 0; i < 3; i++ {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.State == StateActive {
			return fmt.Errorf("%w: %s", ErrJobActive, id)
		}

		var n int64
		if job.State == StateWaiting {
			n, err = q.rdb.LRem(ctx, q.stateKey(StateWaiting), 0, id).Result()
		} else {
			n, err = q.rdb.ZRem(ctx, q.stateKey(job.State), id).Result()
		}
		if err != nil {
			return fmt.Errorf("remove job %s: %w", id, err)
		}
		if n == 0 {
			// Waiting jobs only leave the list for a worker.
			if job.State == StateWaiting {
				return fmt.Errorf("%w: %s", ErrJobActive, id)
			}
			continue
		}
		if err := q.rdb.Del(ctx, q.jobKey(id)).Err(); err != nil {
			return fmt.Errorf("remove job %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s keeps changing state", ErrInvalidState, id)
}

// Clear deletes all completed and failed jobs and returns how many went.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	removed := 0
	for _, state := range []State{StateCompleted, StateFailed} {
		ids, err := q.rdb.ZRange(ctx, q.stateKey(state), 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("clear %s: %w", state, err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := q.drop(ctx, state, ids); err != nil {
			return removed, err
		}
		removed += len(ids)
	}
	return removed, nil
}

func (q *Queue) drop(ctx context.Context, state State, ids []string) error {
	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = q.jobKey(id)
	}
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.stateKey(state), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop %s jobs: %w", state, err)
	}
	return nil
}

// trim keeps only the newest keep entries of a finished state.
func (q *Queue) trim(ctx context.Context, state State, keep int) error {
	ids, err := q.rdb.ZRange(ctx, q.stateKey(state), 0, int64(-keep-1)).Result()
	if err != nil {
		return fmt.Errorf("trim %s: %w", state, err)
	}
	if len(ids) == 0 {
		return nil
	}
	return q.drop(ctx, state, ids)
}

// promoteDelayed moves delayed jobs whose backoff has elapsed back to waiting.
func (q *Queue) promoteDelayed(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rdb.ZRangeByScore(ctx, q.stateKey(StateDelayed), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		n, err := q.rdb.ZRem(ctx, q.stateKey(StateDelayed), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return promoted, err
		}
		job.State = StateWaiting
		job.DelayUntil = nil
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job); err != nil {
				return err
			}
			pipe.RPush(ctx, q.stateKey(StateWaiting), id)
			return nil
		})
		if err != nil {
			return promoted, fmt.Errorf("promote %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// RecoverActive requeues jobs left active by a consumer that died mid-job.
// Only call it when no other consumer of this queue is running.
func (q *Queue) RecoverActive(ctx context.Context) (int, error) {
	recovered := 0
	for {
		id, err := q.rdb.LMove(ctx, q.stateKey(StateActive), q.stateKey(StateWaiting), "LEFT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("recover active: %w", err)
		}
		job, err := q.GetJob(ctx, id)
		if err != nil {
			continue
		}
		job.State = StateWaiting
		if _, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			return q.save(ctx, pipe, job)
		}); err != nil {
			return recovered, fmt.Errorf("recover %s: %w", id, err)
		}
		recovered++
	}
}

// runs is the number of attempts made since the job was last retried by hand.
func (j *Job) runs() int { return j.AttemptsMade - j.RetryBase }

// backoffDelay returns the wait before the next attempt after attemptsMade runs.
func backoffDelay(b Backoff, attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffExponential {
		if attemptsMade < 1 {
			attemptsMade = 1
		}
		return b.Delay * time.Duration(1<<(attemptsMade-1))
	}
	return b.Delay
}
