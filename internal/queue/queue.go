// Package queue implements the durable work queues backing the delivery
// pipeline on Redis: a wait set ordered by priority then FIFO, a delayed
// set scored by ready time, and an active set tracking in-flight jobs
// until they are acked. Delivery is at-least-once; handlers must be
// idempotent or deduplicate on the job id.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/faults"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/util"
)

// Queue names. Messages and retry are at-least-once; notifications are
// best-effort (the consumer acks before handling).
const (
	CampaignMessages      = "campaign-messages"
	CampaignNotifications = "campaign-notifications"
	MessageRetry          = "message-retry"
)

const maxPriority = 255

// Payload is anything a queue can carry. Validation runs before enqueue;
// invalid payloads are rejected with faults.ErrValidation and never stored.
type Payload interface {
	Validate() error
}

// Options tune a single Add. Higher Priority is dequeued first; Delay
// defers eligibility without affecting ordering once eligible.
type Options struct {
	Priority int
	Delay    time.Duration
}

// Job is the stored envelope handed to workers.
type Job struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	Seq        int64           `json:"seq"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Counts is the per-queue job census exposed to operational tooling.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

type Queue struct {
	rdb  *redis.Client
	log  *zap.Logger
	name string
}

func New(rdb *redis.Client, log *zap.Logger, name string) *Queue {
	return &Queue{rdb: rdb, log: log, name: name}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) k(suffix string) string { return "q:" + q.name + ":" + suffix }

// waitScore orders the wait set: higher priority first, FIFO by sequence
// within the same priority.
func waitScore(priority int, seq int64) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return float64(maxPriority-priority)*1e12 + float64(seq)
}

// Add validates and enqueues a payload. A positive Delay parks the job in
// the delayed set until it becomes eligible.
func (q *Queue) Add(ctx context.Context, p Payload, opts Options) (*Job, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, faults.Validation("marshal payload: %v", err)
	}

	seq, err := q.rdb.Incr(ctx, q.k("seq")).Result()
	if err != nil {
		return nil, faults.BackendUnavailable(err)
	}

	job := &Job{
		ID:         util.NewULID(),
		Payload:    raw,
		Priority:   opts.Priority,
		Seq:        seq,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, faults.Validation("marshal job: %v", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.k("jobs"), job.ID, body)
	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay)
		pipe.ZAdd(ctx, q.k("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, q.k("wait"), redis.Z{Score: waitScore(job.Priority, seq), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, faults.BackendUnavailable(err)
	}

	metrics.QueueJobs.WithLabelValues(q.name, "added").Inc()
	return job, nil
}

// fetchScript pops the best waiting job, marks it active, and returns its
// body in one atomic step. A job id is always referenced by exactly one of
// the wait, delayed, or active sets, so a consumer crash at any point still
// leaves the job recoverable.
//
// KEYS: wait, active, jobs. Reply: {} when empty, else {id, body}.
var fetchScript = redis.NewScript(`
local popped = redis.call("ZPOPMIN", KEYS[1], 1)
if #popped == 0 then
	return {}
end
local id = popped[1]
local body = redis.call("HGET", KEYS[3], id)
if not body then
	return {}
end
redis.call("SADD", KEYS[2], id)
return {id, body}
`)

// Fetch promotes due delayed jobs and pops the highest-priority waiting
// job into the active set. Returns (nil, nil) when the queue is empty or
// paused.
func (q *Queue) Fetch(ctx context.Context) (*Job, error) {
	paused, err := q.rdb.Exists(ctx, q.k("paused")).Result()
	if err != nil {
		return nil, faults.BackendUnavailable(err)
	}
	if paused > 0 {
		return nil, nil
	}

	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	res, err := fetchScript.Run(ctx, q.rdb,
		[]string{q.k("wait"), q.k("active"), q.k("jobs")}).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, faults.BackendUnavailable(err)
	}
	if len(res) < 2 {
		// empty queue, or the body vanished (obliterated mid-pop)
		return nil, nil
	}
	id, _ := res[0].(string)
	body, _ := res[1].(string)

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		q.log.Warn("dropping undecodable job", zap.String("queue", q.name), zap.String("job_id", id), zap.Error(err))
		_ = q.discard(ctx, id)
		return nil, nil
	}
	return &job, nil
}

func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.k("delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 128,
	}).Result()
	if err != nil {
		return faults.BackendUnavailable(err)
	}
	for _, id := range due {
		// ZRem guards against concurrent consumers promoting the same job
		removed, err := q.rdb.ZRem(ctx, q.k("delayed"), id).Result()
		if err != nil {
			return faults.BackendUnavailable(err)
		}
		if removed == 0 {
			continue
		}
		body, err := q.rdb.HGet(ctx, q.k("jobs"), id).Result()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			continue
		}
		if err := q.rdb.ZAdd(ctx, q.k("wait"), redis.Z{
			Score: waitScore(job.Priority, job.Seq), Member: id,
		}).Err(); err != nil {
			return faults.BackendUnavailable(err)
		}
	}
	return nil
}

// Ack removes a completed job.
func (q *Queue) Ack(ctx context.Context, j *Job) error {
	if err := q.discard(ctx, j.ID); err != nil {
		return err
	}
	if err := q.rdb.Incr(ctx, q.k("completed")).Err(); err != nil {
		return faults.BackendUnavailable(err)
	}
	metrics.QueueJobs.WithLabelValues(q.name, "acked").Inc()
	return nil
}

// Fail removes a permanently failed job and counts it.
func (q *Queue) Fail(ctx context.Context, j *Job) error {
	if err := q.discard(ctx, j.ID); err != nil {
		return err
	}
	if err := q.rdb.Incr(ctx, q.k("failed")).Err(); err != nil {
		return faults.BackendUnavailable(err)
	}
	metrics.QueueJobs.WithLabelValues(q.name, "discarded").Inc()
	return nil
}

// Nack returns an in-flight job to the queue, optionally delayed. The job
// body is left untouched; callers mutating the payload (retry counts)
// re-Add to the retry queue instead.
func (q *Queue) Nack(ctx context.Context, j *Job, delay time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.k("active"), j.ID)
	if delay > 0 {
		readyAt := time.Now().Add(delay)
		pipe.ZAdd(ctx, q.k("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: j.ID})
	} else {
		pipe.ZAdd(ctx, q.k("wait"), redis.Z{Score: waitScore(j.Priority, j.Seq), Member: j.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.BackendUnavailable(err)
	}
	metrics.QueueJobs.WithLabelValues(q.name, "nacked").Inc()
	return nil
}

func (q *Queue) discard(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.k("active"), id)
	pipe.HDel(ctx, q.k("jobs"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.BackendUnavailable(err)
	}
	return nil
}

// Recover moves in-flight jobs back to the wait set. Called once on worker
// startup so jobs orphaned by a crash are redelivered (at-least-once).
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ids, err := q.rdb.SMembers(ctx, q.k("active")).Result()
	if err != nil {
		return 0, faults.BackendUnavailable(err)
	}
	recovered := 0
	for _, id := range ids {
		body, err := q.rdb.HGet(ctx, q.k("jobs"), id).Result()
		if err != nil {
			_ = q.rdb.SRem(ctx, q.k("active"), id).Err()
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			_ = q.discard(ctx, id)
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.SRem(ctx, q.k("active"), id)
		pipe.ZAdd(ctx, q.k("wait"), redis.Z{Score: waitScore(job.Priority, job.Seq), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, faults.BackendUnavailable(err)
		}
		recovered++
	}
	return recovered, nil
}

// Counts reports the per-state job census.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.k("wait"))
	active := pipe.SCard(ctx, q.k("active"))
	completed := pipe.Get(ctx, q.k("completed"))
	failed := pipe.Get(ctx, q.k("failed"))
	delayed := pipe.ZCard(ctx, q.k("delayed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, faults.BackendUnavailable(err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: counterVal(completed),
		Failed:    counterVal(failed),
		Delayed:   delayed.Val(),
	}, nil
}

// Pause stops Fetch from returning jobs; Add still accepts.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.rdb.Set(ctx, q.k("paused"), "1", 0).Err(); err != nil {
		return faults.BackendUnavailable(err)
	}
	return nil
}

func (q *Queue) Resume(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.k("paused")).Err(); err != nil {
		return faults.BackendUnavailable(err)
	}
	return nil
}

var ErrActiveJobs = errors.New("queue has active jobs (use force)")

// Obliterate deletes every key of the queue. Refuses when jobs are
// in-flight unless force is set.
func (q *Queue) Obliterate(ctx context.Context, force bool) error {
	if !force {
		active, err := q.rdb.SCard(ctx, q.k("active")).Result()
		if err != nil {
			return faults.BackendUnavailable(err)
		}
		if active > 0 {
			return ErrActiveJobs
		}
	}
	keys := []string{
		q.k("seq"), q.k("jobs"), q.k("wait"), q.k("delayed"),
		q.k("active"), q.k("completed"), q.k("failed"), q.k("paused"),
	}
	if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
		return faults.BackendUnavailable(err)
	}
	return nil
}

func counterVal(c *redis.StringCmd) int64 {
	n, err := c.Int64()
	if err != nil {
		return 0
	}
	return n
}
