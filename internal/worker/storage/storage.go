package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/discover-agent/internal/catalog"
	"github.com/cuongbtq/discover-agent/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Begin starts a unit of work
func (s *Storage) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, logger: s.logger}, nil
}

// Tx implements domain.Tx over a Postgres transaction
type Tx struct {
	tx     *sqlx.Tx
	logger *slog.Logger
}

// Dequeue claims the oldest queued discover. Rows locked by other workers
// are skipped, so concurrent workers never claim the same row.
func (t *Tx) Dequeue(ctx context.Context) (*domain.DiscoverJob, error) {
	query := `
		SELECT
			d.id,
			d.capture_name,
			d.connector_tag_id,
			COALESCE(ct.job_status->>'type' = 'success', FALSE) AS connector_tag_job_success,
			c.image_name,
			ct.image_tag,
			COALESCE(ct.protocol, '') AS protocol,
			d.endpoint_config,
			d.draft_id,
			d.user_id,
			d.auto_publish,
			d.auto_evolve,
			d.update_only,
			d.logs_token,
			d.created_at,
			d.updated_at
		FROM discovers d
		JOIN connector_tags ct ON ct.id = d.connector_tag_id
		JOIN connectors c ON c.id = ct.connector_id
		WHERE d.job_status->>'type' = 'queued'
		ORDER BY d.created_at, d.id
		LIMIT 1
		FOR UPDATE OF d SKIP LOCKED
	`

	var job domain.DiscoverJob
	if err := t.tx.GetContext(ctx, &job, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue discover: %w", err)
	}

	t.logger.Debug("Discover claimed",
		slog.String("discover_id", job.ID),
		slog.String("capture_name", job.CaptureName),
	)

	return &job, nil
}

// Resolve writes the terminal status of a discover
func (t *Tx) Resolve(ctx context.Context, id string, status domain.JobStatus) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	query := `
		UPDATE discovers
		SET job_status = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := t.tx.ExecContext(ctx, query, id, string(statusJSON))
	if err != nil {
		return fmt.Errorf("failed to resolve discover: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDiscoverNotFound
	}

	return nil
}

// ImageIsRegistered reports whether the image belongs to a known connector
func (t *Tx) ImageIsRegistered(ctx context.Context, imageName string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM connectors WHERE image_name = $1)`

	if err := t.tx.GetContext(ctx, &exists, query, imageName); err != nil {
		return false, fmt.Errorf("failed to check connector image: %w", err)
	}
	return exists, nil
}

// FetchResourcePathPointers returns the resource path pointers of a
// connector tag, or nil when the tag declares none
func (t *Tx) FetchResourcePathPointers(ctx context.Context, imageName, imageTag string) ([]string, error) {
	query := `
		SELECT ct.resource_path_pointers
		FROM connector_tags ct
		JOIN connectors c ON c.id = ct.connector_id
		WHERE c.image_name = $1 AND ct.image_tag = $2
	`

	var pointers pq.StringArray
	if err := t.tx.QueryRowxContext(ctx, query, imageName, imageTag).Scan(&pointers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch resource path pointers: %w", err)
	}

	return []string(pointers), nil
}

// ResolveMergeTargets returns the draft spec of each name if the user's
// draft has one, otherwise its live spec. Names with neither are omitted.
func (t *Tx) ResolveMergeTargets(ctx context.Context, names []string, specType catalog.SpecType, draftID, userID string) ([]catalog.ResolvedSpec, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := `
		SELECT
			n.catalog_name,
			COALESCE(ds.spec_type, ls.spec_type) AS spec_type,
			COALESCE(ds.spec, ls.spec) AS spec
		FROM unnest($1::text[]) WITH ORDINALITY AS n(catalog_name, ord)
		LEFT JOIN drafts dr ON dr.id = $3 AND dr.user_id = $4
		LEFT JOIN draft_specs ds ON ds.draft_id = dr.id AND ds.catalog_name = n.catalog_name
		LEFT JOIN live_specs ls ON ls.catalog_name = n.catalog_name
		WHERE COALESCE(ds.spec_type, ls.spec_type) = $2
		  AND COALESCE(ds.spec, ls.spec) IS NOT NULL
		ORDER BY n.ord
	`

	var resolved []catalog.ResolvedSpec
	if err := t.tx.SelectContext(ctx, &resolved, query, pq.Array(names), string(specType), draftID, userID); err != nil {
		return nil, fmt.Errorf("failed to resolve merge target specs: %w", err)
	}

	return resolved, nil
}

// DeleteDraftErrors removes all errors of a draft
func (t *Tx) DeleteDraftErrors(ctx context.Context, draftID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM draft_errors WHERE draft_id = $1`, draftID); err != nil {
		return fmt.Errorf("failed to delete draft errors: %w", err)
	}
	return nil
}

// InsertDraftErrors records errors against a draft
func (t *Tx) InsertDraftErrors(ctx context.Context, draftID string, errs []catalog.DraftError) error {
	query := `
		INSERT INTO draft_errors (draft_id, catalog_name, scope, detail)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`

	for _, e := range errs {
		if _, err := t.tx.ExecContext(ctx, query, draftID, e.CatalogName, e.Scope, e.Detail); err != nil {
			return fmt.Errorf("failed to insert draft error for %s: %w", e.CatalogName, err)
		}
	}

	return nil
}

// UpsertDraftSpecs writes every spec of the catalog into the draft,
// replacing specs of the same name
func (t *Tx) UpsertDraftSpecs(ctx context.Context, draftID string, cat *catalog.Catalog) error {
	specs, err := cat.DraftSpecs()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO draft_specs (draft_id, catalog_name, spec_type, spec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (draft_id, catalog_name) DO UPDATE
		SET spec_type = EXCLUDED.spec_type,
		    spec = EXCLUDED.spec,
		    updated_at = NOW()
	`

	for _, spec := range specs {
		if _, err := t.tx.ExecContext(ctx, query, draftID, spec.CatalogName, string(spec.SpecType), string(spec.Spec)); err != nil {
			return fmt.Errorf("failed to upsert draft spec %s: %w", spec.CatalogName, err)
		}
	}

	return nil
}

// PruneUnchangedDraftSpecs deletes draft specs identical to their live specs
func (t *Tx) PruneUnchangedDraftSpecs(ctx context.Context, draftID string) ([]string, error) {
	query := `
		DELETE FROM draft_specs ds
		USING live_specs ls
		WHERE ds.draft_id = $1
		  AND ds.catalog_name = ls.catalog_name
		  AND ds.spec_type = ls.spec_type
		  AND ds.spec = ls.spec
		RETURNING ds.catalog_name
	`

	var pruned []string
	if err := t.tx.SelectContext(ctx, &pruned, query, draftID); err != nil {
		return nil, fmt.Errorf("failed to prune unchanged draft specs: %w", err)
	}

	return pruned, nil
}

// CreatePublication queues a publication of the draft
func (t *Tx) CreatePublication(ctx context.Context, userID, draftID string, autoEvolve bool, detail string) (string, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO publications (id, user_id, draft_id, auto_evolve, detail, job_status, logs_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{"type":"queued"}', $6, NOW(), NOW())
	`

	if _, err := t.tx.ExecContext(ctx, query, id, userID, draftID, autoEvolve, detail, uuid.NewString()); err != nil {
		return "", fmt.Errorf("failed to create publication: %w", err)
	}

	return id, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
