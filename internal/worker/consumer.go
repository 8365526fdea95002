package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/discover-agent/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming wake-up messages
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// Create unique consumer tag using worker ID
	consumerTag := w.workerID

	deliveries, err := w.wakeups.Consume(consumerTag, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher turns deliveries into wake-ups. Messages carry no
// work themselves: the discovers table is the queue, so every message is
// acknowledged once read, and malformed ones are dropped.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				return
			}
			w.dispatch(delivery)
		}
	}
}

func (w *Worker) dispatch(delivery amqp.Delivery) {
	var msg domain.WakeupMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse wake-up message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// NACK without requeue - malformed messages should go to DLQ
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if _, err := uuid.Parse(msg.DiscoverID); err != nil {
		w.logger.Error("Invalid discover_id format - not a UUID",
			slog.String("discover_id", msg.DiscoverID),
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK message with invalid discover_id",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK wake-up message",
			slog.String("discover_id", msg.DiscoverID),
			slog.String("error", ackErr.Error()),
		)
	}

	w.logger.Debug("Discover queued, waking worker pool",
		slog.String("discover_id", msg.DiscoverID),
	)
	w.Wake()
}
