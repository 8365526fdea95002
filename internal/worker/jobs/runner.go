// Package jobs runs connector processes on behalf of a job, forwarding
// their output to the log sink under the job's logs token.
package jobs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cuongbtq/discover-agent/internal/worker/logs"
	"golang.org/x/sync/errgroup"
)

// LogSink receives process output lines
type LogSink interface {
	Send(ctx context.Context, line logs.Line)
}

// Outcome is how a process exited. A non-zero exit is an Outcome, not an error.
type Outcome struct {
	ExitCode    int
	Description string
}

// Success reports whether the process exited with status 0
func (o Outcome) Success() bool {
	return o.ExitCode == 0
}

func (o Outcome) String() string {
	return o.Description
}

// Runner executes processes
type Runner struct {
	sink   LogSink
	logger *slog.Logger
}

// NewRunner creates a Runner writing output to sink
func NewRunner(sink LogSink, logger *slog.Logger) *Runner {
	return &Runner{
		sink:   sink,
		logger: logger,
	}
}

// Run executes cmd with no input, streaming stdout and stderr to the log sink
func (r *Runner) Run(ctx context.Context, name, logsToken string, cmd *exec.Cmd) (Outcome, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open %s stdout: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open %s stderr: %w", name, err)
	}

	return r.execute(ctx, name, logsToken, cmd, map[string]io.Reader{
		streamName(name, 0): stdout,
		streamName(name, 1): stderr,
	})
}

// RunWithInputOutput executes cmd with input on stdin. Stdout is captured
// and returned, and stderr is streamed to the log sink.
func (r *Runner) RunWithInputOutput(ctx context.Context, name, logsToken string, input []byte, cmd *exec.Cmd) (Outcome, []byte, error) {
	var output bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &output

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("failed to open %s stderr: %w", name, err)
	}

	outcome, err := r.execute(ctx, name, logsToken, cmd, map[string]io.Reader{
		streamName(name, 1): stderr,
	})
	if err != nil {
		return Outcome{}, nil, err
	}

	return outcome, output.Bytes(), nil
}

func (r *Runner) execute(ctx context.Context, name, logsToken string, cmd *exec.Cmd, streams map[string]io.Reader) (Outcome, error) {
	r.logger.Debug("Starting process",
		slog.String("name", name),
		slog.String("logs_token", logsToken),
		slog.String("args", strings.Join(cmd.Args, " ")),
	)

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to start %s: %w", name, err)
	}

	// Pipes must be drained before Wait closes them.
	g, gctx := errgroup.WithContext(ctx)
	for stream, reader := range streams {
		stream, reader := stream, reader
		g.Go(func() error {
			return r.forward(gctx, logsToken, stream, reader)
		})
	}
	streamErr := g.Wait()

	waitErr := cmd.Wait()
	if streamErr != nil {
		return Outcome{}, fmt.Errorf("failed to read %s output: %w", name, streamErr)
	}

	outcome := Outcome{ExitCode: 0, Description: "exit status 0"}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Outcome{}, fmt.Errorf("failed to wait for %s: %w", name, waitErr)
		}
		outcome = Outcome{ExitCode: exitErr.ExitCode(), Description: exitErr.String()}
	}

	r.logger.Debug("Process exited",
		slog.String("name", name),
		slog.String("logs_token", logsToken),
		slog.String("outcome", outcome.String()),
	)

	return outcome, nil
}

func (r *Runner) forward(ctx context.Context, logsToken, stream string, reader io.Reader) error {
	br := bufio.NewReader(reader)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			r.sink.Send(ctx, logs.Line{
				Token:  logsToken,
				Stream: stream,
				Line:   strings.TrimRight(line, "\r\n"),
			})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func streamName(name string, fd int) string {
	return fmt.Sprintf("%s:%d", name, fd)
}
