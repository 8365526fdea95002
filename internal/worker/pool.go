package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/discover-agent/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop drains the queue, then waits for a wake-up, the poll ticker, or shutdown
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if !w.drain(ctx, workerName) {
			return
		}

		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case <-w.wakeChan:
		case <-ticker.C:
		}
	}
}

// drain calls the handler until it reports idle. It returns false when
// the goroutine should exit.
func (w *Worker) drain(ctx context.Context, workerName string) bool {
	for {
		select {
		case <-w.stopChan:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		status, err := w.handler.Handle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			w.logger.Error("Handler failed, backing off",
				slog.String("worker_name", workerName),
				slog.Duration("backoff", w.errorBackoff),
				slog.String("error", err.Error()),
			)

			select {
			case <-time.After(w.errorBackoff):
				continue
			case <-w.stopChan:
				return false
			case <-ctx.Done():
				return false
			}
		}

		if status == domain.HandlerIdle {
			return true
		}
	}
}
