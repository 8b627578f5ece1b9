package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/queue"
)

// HandlerFunc processes one job. The handler owns the job's fate: it must
// Ack, Fail, or Nack on the queue it received the job from.
type HandlerFunc func(ctx context.Context, q *queue.Queue, j *queue.Job)

// Consumer binds one handler to one queue with a concurrency bound.
type Consumer struct {
	Queue       *queue.Queue
	Concurrency int
	Handle      HandlerFunc
}

// Pool runs a set of consumers with an explicit lifecycle. Construct one
// per process; there is no package-level singleton.
type Pool struct {
	consumers []Consumer
	poll      time.Duration
	log       *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewPool(log *zap.Logger, poll time.Duration, consumers ...Consumer) *Pool {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Pool{consumers: consumers, poll: poll, log: log}
}

// Start recovers orphaned in-flight jobs and launches the consumer
// goroutines. It returns immediately; Stop or ctx cancellation ends them.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil // already started
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for _, c := range p.consumers {
		if n, err := c.Queue.Recover(ctx); err != nil {
			p.log.Warn("queue recover failed", zap.String("queue", c.Queue.Name()), zap.Error(err))
		} else if n > 0 {
			p.log.Info("requeued orphaned jobs", zap.String("queue", c.Queue.Name()), zap.Int("count", n))
		}

		conc := c.Concurrency
		if conc <= 0 {
			conc = 1
		}
		for i := 0; i < conc; i++ {
			p.wg.Add(1)
			go p.runConsumer(ctx, c)
		}
		p.log.Info("consumer started",
			zap.String("queue", c.Queue.Name()),
			zap.Int("concurrency", conc),
		)
	}
	return nil
}

// Stop cancels all consumers and waits for in-flight handlers to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runConsumer(ctx context.Context, c Consumer) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := c.Queue.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("queue fetch failed", zap.String("queue", c.Queue.Name()), zap.Error(err))
			sleepCtx(ctx, p.poll*4)
			continue
		}
		if j == nil {
			sleepCtx(ctx, p.poll)
			continue
		}

		c.Handle(ctx, c.Queue, j)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
