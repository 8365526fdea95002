package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/discover-agent/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultErrorBackoff = time.Second
)

// Handler processes at most one queued job per call
type Handler interface {
	Handle(ctx context.Context) (domain.HandlerStatus, error)
}

// WakeupSource delivers wake-up messages published when discovers are queued
type WakeupSource interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Handler       Handler
	Wakeups       WakeupSource
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
}

// Worker runs a pool of goroutines draining the discover queue. Each
// goroutine calls the handler until it reports idle, then sleeps until
// woken by a message or the poll interval elapses.
type Worker struct {
	logger        *slog.Logger
	handler       Handler
	wakeups       WakeupSource
	workerID      string
	concurrency   int
	prefetchCount int
	pollInterval  time.Duration
	errorBackoff  time.Duration
	wakeChan      chan struct{}
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = defaultErrorBackoff
	}

	return &Worker{
		logger:        cfg.Logger,
		handler:       cfg.Handler,
		wakeups:       cfg.Wakeups,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: cfg.PrefetchCount,
		pollInterval:  pollInterval,
		errorBackoff:  errorBackoff,
		wakeChan:      make(chan struct{}, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start spawns the pool and blocks until ctx is canceled. When a wake-up
// source is configured its deliveries nudge idle goroutines; without one
// the pool relies on polling alone.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	if w.wakeups != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return err
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	w.spawnWorkerPool(ctx)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop signals every goroutine to exit once its current job is finished
// and waits for them.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// Wake nudges one idle goroutine. It never blocks; when every goroutine
// already has a pending wake-up the call is a no-op.
func (w *Worker) Wake() {
	select {
	case w.wakeChan <- struct{}{}:
	default:
	}
}
