package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secretary_server/adapter/in/worker"
	"secretary_server/adapter/out/messaging"
	"secretary_server/config"
	"secretary_server/pkg/logger"
)

const consumerGroup = "secretary-workers"

type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	scheduler *worker.SweepScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   chan struct{}
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	zlog := logger.Component("worker")

	handlerDeps := worker.HandlerDeps{
		Pipeline:     deps.Orchestrator,
		Documents:    deps.DocumentService,
		OCR:          deps.OCR,
		Queue:        deps.Queue,
		Marker:       deps.Marker,
		ProcessedTTL: cfg.ProcessedTTL,
		Paths:        deps.Paths,
	}
	if deps.InboxService != nil {
		handlerDeps.Sweeper = deps.InboxService
	}
	handler := worker.NewHandler(handlerDeps)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.Workers = cfg.WorkerMax
	}
	if cfg.ConsumerMaxRetries > 0 {
		poolConfig.MaxRetries = cfg.ConsumerMaxRetries
	}
	pool := worker.NewPool(handler, worker.NewRedisDeadLetter(deps.Redis, zlog), poolConfig, zlog)

	consumer := messaging.NewConsumer(deps.Redis, messaging.ConsumerConfig{
		Group:         consumerGroup,
		Consumer:      cfg.WorkerID,
		Streams:       messaging.AllStreams,
		Handler:       worker.NewStreamHandler(pool, zlog),
		Logger:        zlog,
		ReclaimEvery:  time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		MaxDeliveries: int64(cfg.ConsumerMaxRetries),
	})
	logger.Info("Redis Stream Consumer configured for %d streams", len(messaging.AllStreams))

	w := &Worker{
		pool:      pool,
		consumer:  consumer,
		scheduler: worker.NewSweepScheduler(deps.Queue, deps.Profiles, cfg.SweepInterval, zlog),
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		zlog:      zlog,
	}
	return w, func() {
		cancel()
		cleanup()
	}, nil
}

// Start blocks until Stop has drained the pool.
func (w *Worker) Start() {
	if err := w.pool.Start(); err != nil {
		w.zlog.Error().Err(err).Msg("failed to start pool")
		return
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Run(w.ctx); err != nil && w.ctx.Err() == nil {
			w.zlog.Error().Err(err).Msg("stream consumer stopped")
		}
	}()
	go func() {
		defer w.wg.Done()
		w.scheduler.Run(w.ctx)
	}()

	w.zlog.Info().Str("group", consumerGroup).Msg("worker started")
	<-w.stopped
}

// Stop stops reading new entries, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	w.pool.Stop(ctx)

	m := w.pool.Metrics()
	w.zlog.Info().
		Int64("processed", m.JobsProcessed).
		Int64("failed", m.JobsFailed).
		Int64("retried", m.JobsRetried).
		Msg("worker stopped")
	for jobType, l := range m.Latency {
		w.zlog.Info().Str("job_type", jobType).Int64("count", l.Count).
			Dur("p50", l.P50).Dur("p95", l.P95).Dur("max", l.Max).Msg("job latency")
	}
	close(w.stopped)
}

// SweepOnce sweeps every configured mailbox inline and returns the total classified.
func SweepOnce(cfg *config.Config) (int, error) {
	ctx := context.Background()
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	if deps.InboxService == nil {
		logger.Warn("No mailbox reader configured, nothing to sweep")
		return 0, nil
	}

	total := 0
	for _, profile := range deps.Profiles {
		n, err := deps.InboxService.SweepInbox(ctx, profile)
		if err != nil {
			logger.Error("Sweep of %s failed: %v", profile.Name, err)
			continue
		}
		logger.Info("Mailbox %s: %d messages classified", profile.Name, n)
		total += n
	}
	return total, nil
}
