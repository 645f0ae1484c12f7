package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"secretary_server/pkg/metrics"
)

// Processor runs one message. Handler is the production implementation.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// DeadLetterSink receives messages that exhausted their retries.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg *Message, cause error)
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	BatchSize        int
	WorkerChanSize   int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	MaxRetries       int
	RetryBase        time.Duration
	RatePerSec       float64 // 0 disables admission limiting
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		BatchSize:      1,
		WorkerChanSize: 100,
		JobTimeout:     60 * time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			JobEmailProcess:    90 * time.Second, // 분류 + 답장 두 번의 LLM 호출
			JobDocumentOCR:     10 * time.Minute, // 스캔 PDF는 페이지당 수 초
			JobDocumentAnalyze: 2 * time.Minute,
			JobDocumentDerive:  5 * time.Minute,
			JobInboxSweep:      5 * time.Minute,
		},
		MaxRetries: 3,
		RetryBase:  time.Second,
		RatePerSec: 50,
	}
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsRetried   int64 `json:"jobs_retried"`
	JobsRejected  int64 `json:"jobs_rejected"`
	InFlight      int64 `json:"in_flight"`

	Latency map[string]metrics.LatencyStats `json:"latency"`
}

// Pool runs messages on a go-pkgz/pool worker group with per-type timeouts
// and exponential-backoff retries.
type Pool struct {
	processor Processor
	dlq       DeadLetterSink
	config    *PoolConfig
	limiter   *rate.Limiter
	latency   *metrics.Registry
	log       zerolog.Logger

	group *pool.WorkerGroup[*Message]
	ctx   context.Context
	stop  context.CancelFunc

	mu      sync.Mutex
	started bool
	retries sync.WaitGroup

	processed, failed, retried, rejected, inFlight atomic.Int64
}

// NewPool creates a pool. dlq may be nil, in which case exhausted jobs are only logged.
func NewPool(processor Processor, dlq DeadLetterSink, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	limit := rate.Inf
	if config.RatePerSec > 0 {
		limit = rate.Limit(config.RatePerSec)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		dlq:       dlq,
		config:    config,
		limiter:   rate.NewLimiter(limit, config.Workers*2),
		latency:   metrics.NewRegistry(500),
		log:       log.With().Str("component", "worker_pool").Logger(),
		ctx:       ctx,
		stop:      cancel,
	}
}

// messageWorker implements pool.Worker.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.run(ctx, msg)
}

// Start starts the worker group.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	p.group = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()
	if err := p.group.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().Int("workers", p.config.Workers).Msg("worker pool started")
	return nil
}

// Stop drains submitted work, then cancels pending retries.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	if err := p.group.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("error closing worker group")
	}
	p.stop()
	p.retries.Wait()

	m := p.Metrics()
	p.log.Info().Int64("processed", m.JobsProcessed).Int64("failed", m.JobsFailed).Msg("worker pool stopped")
}

// Submit queues msg. It returns false when the pool is stopped or the
// admission limiter rejects the message.
func (p *Pool) Submit(msg *Message) bool {
	// held through group.Submit so Stop cannot close the input underneath
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return false
	}

	if !p.limiter.Allow() {
		p.rejected.Add(1)
		p.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("job rejected by rate limit")
		return false
	}

	p.inFlight.Add(1)
	p.group.Submit(msg)
	return true
}

func (p *Pool) timeoutFor(jobType JobType) time.Duration {
	if d, ok := p.config.JobTimeoutByType[jobType]; ok {
		return d
	}
	return p.config.JobTimeout
}

// run is the pool.Worker body.
func (p *Pool) run(ctx context.Context, msg *Message) error {
	defer p.inFlight.Add(-1)

	timeout := p.timeoutFor(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.processor.Process(jobCtx, msg)
	p.latency.Record(msg.Type, time.Since(start))
	if err == nil {
		p.processed.Add(1)
		p.log.Debug().Str("job_id", msg.ID).Str("job_type", msg.Type).Dur("elapsed", time.Since(start)).Msg("job done")
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		p.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Dur("timeout", timeout).Msg("job timed out")
	}
	p.log.Error().Err(err).Str("job_id", msg.ID).Str("job_type", msg.Type).Int("retries", msg.Retries).Msg("job failed")

	if msg.Retries < p.config.MaxRetries {
		p.scheduleRetry(msg)
		return err
	}

	p.failed.Add(1)
	p.deadLetter(ctx, msg, err)
	return err
}

// scheduleRetry resubmits after base*2^retries plus up to base/2 of jitter.
// The stream entry is already acked, so a retry that cannot run is
// dead-lettered rather than dropped.
func (p *Pool) scheduleRetry(msg *Message) {
	msg.Retries++
	p.retried.Add(1)
	base := p.config.RetryBase
	backoff := base*time.Duration(1<<msg.Retries) + time.Duration(rand.Int64N(int64(base)/2+1))

	p.retries.Add(1)
	go func() {
		defer p.retries.Done()
		select {
		case <-p.ctx.Done():
			p.log.Warn().Str("job_id", msg.ID).Msg("pool stopping, retry dead-lettered")
			p.deadLetter(context.Background(), msg, errors.New("pool stopped before retry"))
		case <-time.After(backoff):
			if !p.Submit(msg) {
				p.deadLetter(context.Background(), msg, errors.New("retry could not be resubmitted"))
			}
		}
	}()
}

func (p *Pool) deadLetter(ctx context.Context, msg *Message, cause error) {
	if p.dlq == nil {
		p.log.Error().Err(cause).Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("job lost, no dead letter sink")
		return
	}
	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	p.dlq.DeadLetter(dlqCtx, msg, cause)
}

// Metrics returns a snapshot of the counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: p.processed.Load(),
		JobsFailed:    p.failed.Load(),
		JobsRetried:   p.retried.Load(),
		JobsRejected:  p.rejected.Load(),
		InFlight:      p.inFlight.Load(),
		Latency:       p.latency.Snapshot(),
	}
}
