// Package logs ships connector process output to the log_lines table,
// tagged with the job's logs token.
package logs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	defaultBuffer    = 1024
	maxBatch         = 256
	flushInterval    = 250 * time.Millisecond
	finalFlushBudget = 5 * time.Second
)

// Line is one line of process output
type Line struct {
	Token    string    `db:"token"`
	Stream   string    `db:"stream"`
	Line     string    `db:"log_line"`
	LoggedAt time.Time `db:"logged_at"`
}

// Writer persists batches of lines
type Writer interface {
	WriteLines(ctx context.Context, lines []Line) error
}

// Sink buffers lines and writes them in batches. Delivery is best-effort:
// a failed batch is logged and dropped.
type Sink struct {
	lines  chan Line
	done   chan struct{}
	writer Writer
	logger *slog.Logger
}

// NewSink creates a Sink with room for buffer pending lines
func NewSink(writer Writer, logger *slog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sink{
		lines:  make(chan Line, buffer),
		done:   make(chan struct{}),
		writer: writer,
		logger: logger,
	}
}

// Send queues a line. It blocks while the buffer is full, and drops the
// line once ctx is done or the sink has stopped.
func (s *Sink) Send(ctx context.Context, line Line) {
	if line.LoggedAt.IsZero() {
		line.LoggedAt = time.Now().UTC()
	}

	select {
	case s.lines <- line:
	case <-s.done:
	case <-ctx.Done():
	}
}

// Serve writes queued lines until ctx is canceled, then flushes what is
// still buffered and returns.
func (s *Sink) Serve(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Line, 0, maxBatch)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case line := <-s.lines:
					batch = append(batch, line)
					continue
				default:
				}
				break
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushBudget)
			batch = s.flush(flushCtx, batch)
			cancel()
			return

		case line := <-s.lines:
			batch = append(batch, line)
			if len(batch) >= maxBatch {
				batch = s.flush(ctx, batch)
			}

		case <-ticker.C:
			batch = s.flush(ctx, batch)
		}
	}
}

func (s *Sink) flush(ctx context.Context, batch []Line) []Line {
	if len(batch) == 0 {
		return batch
	}

	if err := s.writer.WriteLines(ctx, batch); err != nil {
		s.logger.Warn("Failed to write log lines",
			slog.Int("line_count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	return batch[:0]
}

// PostgresWriter inserts lines into the log_lines table
type PostgresWriter struct {
	db *sqlx.DB
}

// NewPostgresWriter creates a PostgresWriter
func NewPostgresWriter(db *sqlx.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// WriteLines inserts a batch of lines with a single statement
func (w *PostgresWriter) WriteLines(ctx context.Context, lines []Line) error {
	query := `
		INSERT INTO log_lines (token, stream, log_line, logged_at)
		VALUES (:token, :stream, :log_line, :logged_at)
	`

	if _, err := w.db.NamedExecContext(ctx, query, lines); err != nil {
		return fmt.Errorf("failed to insert log lines: %w", err)
	}
	return nil
}
