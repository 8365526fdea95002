package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/discover-agent/internal/catalog"
	"github.com/cuongbtq/discover-agent/internal/discover"
	"github.com/cuongbtq/discover-agent/internal/worker/domain"
	"github.com/cuongbtq/discover-agent/internal/worker/jobs"
)

// ProcessRunner executes connector processes
type ProcessRunner interface {
	Run(ctx context.Context, name, logsToken string, cmd *exec.Cmd) (jobs.Outcome, error)
	RunWithInputOutput(ctx context.Context, name, logsToken string, input []byte, cmd *exec.Cmd) (jobs.Outcome, []byte, error)
}

// DiscoverSettings locates the tools used to run connectors
type DiscoverSettings struct {
	Bindir           string
	ConnectorNetwork string
	DockerBin        string
}

// DiscoverHandler claims and processes one queued discover per call to Handle
type DiscoverHandler struct {
	store    domain.Store
	runner   ProcessRunner
	settings DiscoverSettings
	logger   *slog.Logger
}

// NewDiscoverHandler creates a DiscoverHandler
func NewDiscoverHandler(store domain.Store, runner ProcessRunner, settings DiscoverSettings, logger *slog.Logger) *DiscoverHandler {
	if settings.DockerBin == "" {
		settings.DockerBin = "docker"
	}
	return &DiscoverHandler{
		store:    store,
		runner:   runner,
		settings: settings,
		logger:   logger,
	}
}

// Handle processes at most one discover within a single transaction. It
// returns HandlerIdle when nothing is queued. Any error aborts the
// transaction and leaves the discover queued.
func (h *DiscoverHandler) Handle(ctx context.Context) (domain.HandlerStatus, error) {
	tx, err := h.store.Begin(ctx)
	if err != nil {
		return domain.HandlerIdle, err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			h.logger.Error("Failed to rollback transaction",
				slog.String("error", rbErr.Error()),
			)
		}
	}()

	job, err := tx.Dequeue(ctx)
	if err != nil {
		return domain.HandlerIdle, err
	}
	if job == nil {
		return domain.HandlerIdle, nil
	}

	logger := h.logger.With(jobAttrs(job))

	status, err := h.process(ctx, tx, job, logger)
	if err != nil {
		logger.Error("Discover failed, leaving it queued",
			slog.String("error", err.Error()),
		)
		return domain.HandlerActive, fmt.Errorf("processing discover %s: %w", job.ID, err)
	}

	logFinished(logger, status)

	if err := tx.Resolve(ctx, job.ID, status); err != nil {
		return domain.HandlerActive, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HandlerActive, err
	}

	return domain.HandlerActive, nil
}

func (h *DiscoverHandler) process(ctx context.Context, tx domain.Tx, job *domain.DiscoverJob, logger *slog.Logger) (domain.JobStatus, error) {
	logger.Info("Processing discover")

	if !job.ConnectorTagJobSuccess {
		return domain.TagFailed(), nil
	}
	if job.Protocol != domain.CaptureProtocol {
		return domain.WrongProtocol(), nil
	}

	registered, err := tx.ImageIsRegistered(ctx, job.ImageName)
	if err != nil {
		return domain.JobStatus{}, err
	}
	if !registered {
		return domain.ImageForbidden(), nil
	}

	if job.ImageTag != domain.LocalImageTag {
		outcome, err := h.runner.Run(ctx, "pull", job.LogsToken, h.pullCommand(ctx, job))
		if err != nil {
			return domain.JobStatus{}, err
		}
		if !outcome.Success() {
			return domain.PullFailed(), nil
		}
	}

	if err := tx.DeleteDraftErrors(ctx, job.DraftID); err != nil {
		return domain.JobStatus{}, err
	}

	outcome, output, err := h.runner.RunWithInputOutput(ctx, "discover", job.LogsToken, job.EndpointConfig, h.discoverCommand(ctx, job))
	if err != nil {
		return domain.JobStatus{}, err
	}
	if !outcome.Success() {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = fmt.Sprintf("connector discover failed (%s)", outcome)
		}
		errs := []catalog.DraftError{{CatalogName: job.CaptureName, Detail: detail}}
		if err := recordDraftErrors(ctx, tx, job, errs, logger); err != nil {
			return domain.JobStatus{}, err
		}
		return domain.DiscoverFailed(), nil
	}

	cat, errs, err := discover.BuildMergedCatalog(ctx, tx, logger, discover.Request{
		CaptureName:    job.CaptureName,
		DraftID:        job.DraftID,
		UserID:         job.UserID,
		ImageName:      job.ImageName,
		ImageTag:       job.ImageTag,
		EndpointConfig: job.EndpointConfig,
		DiscoverOutput: output,
		UpdateOnly:     job.UpdateOnly,
	})
	if err != nil {
		return domain.JobStatus{}, err
	}
	if len(errs) != 0 {
		if err := recordDraftErrors(ctx, tx, job, errs, logger); err != nil {
			return domain.JobStatus{}, err
		}
		return domain.MergeFailed(), nil
	}

	return publish(ctx, tx, job, cat, logger)
}

func recordDraftErrors(ctx context.Context, tx domain.Tx, job *domain.DiscoverJob, errs []catalog.DraftError, logger *slog.Logger) error {
	if err := tx.InsertDraftErrors(ctx, job.DraftID, errs); err != nil {
		return err
	}
	logger.Info("Draft errors recorded", slog.Int("error_count", len(errs)))
	return nil
}

func publish(ctx context.Context, tx domain.Tx, job *domain.DiscoverJob, cat *catalog.Catalog, logger *slog.Logger) (domain.JobStatus, error) {
	if err := tx.UpsertDraftSpecs(ctx, job.DraftID, cat); err != nil {
		return domain.JobStatus{}, err
	}

	if !job.AutoPublish {
		return domain.Success("", false), nil
	}

	pruned, err := tx.PruneUnchangedDraftSpecs(ctx, job.DraftID)
	if err != nil {
		return domain.JobStatus{}, err
	}

	// The prune covers the whole draft; only this merge's specs count.
	unchanged := 0
	for _, name := range pruned {
		if cat.Contains(name) {
			unchanged++
		}
	}
	if unchanged == cat.SpecCount() {
		logger.Info("Discovered specs are unchanged, skipping publication",
			slog.Int("pruned_count", len(pruned)),
		)
		return domain.Success("", true), nil
	}

	detail := fmt.Sprintf("system created publication in response to discover: %s", job.ID)
	publicationID, err := tx.CreatePublication(ctx, job.UserID, job.DraftID, job.AutoEvolve, detail)
	if err != nil {
		return domain.JobStatus{}, err
	}
	logger.Info("Publication created", slog.String("publication_id", publicationID))

	return domain.Success(publicationID, false), nil
}

func (h *DiscoverHandler) pullCommand(ctx context.Context, job *domain.DiscoverJob) *exec.Cmd {
	return exec.CommandContext(ctx, h.settings.DockerBin, "pull", "--quiet", job.Image())
}

func (h *DiscoverHandler) discoverCommand(ctx context.Context, job *domain.DiscoverJob) *exec.Cmd {
	return exec.CommandContext(ctx,
		filepath.Join(h.settings.Bindir, "flowctl-go"),
		"api",
		"discover",
		"--config=/dev/stdin",
		"--image", job.Image(),
		"--network", h.settings.ConnectorNetwork,
		"--output=json",
		"--log.level=warn",
		"--log.format=color",
	)
}

func logFinished(logger *slog.Logger, status domain.JobStatus) {
	attr := slog.String("status", status.String())

	switch status.Type {
	case domain.StatusSuccess:
		logger.Info("Discover finished", attr)
	case domain.StatusPullFailed, domain.StatusDiscoverFailed, domain.StatusMergeFailed:
		logger.Warn("Discover finished", attr)
	case domain.StatusWrongProtocol, domain.StatusTagFailed, domain.StatusImageForbidden:
		logger.Warn("Discover rejected", attr)
	case domain.StatusQueued:
		logger.Error("Discover resolved as queued", attr)
	}
}

func jobAttrs(job *domain.DiscoverJob) slog.Attr {
	return slog.Group("discover",
		slog.String("id", job.ID),
		slog.String("capture_name", job.CaptureName),
		slog.String("image", job.Image()),
		slog.String("draft_id", job.DraftID),
		slog.String("user_id", job.UserID),
		slog.Bool("auto_publish", job.AutoPublish),
		slog.Bool("update_only", job.UpdateOnly),
		slog.String("logs_token", job.LogsToken),
	)
}
