package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/discover-agent/internal/api/domain"
	"github.com/cuongbtq/discover-agent/internal/api/model"
	"github.com/cuongbtq/discover-agent/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateDiscover queues a discover. The connector tag must exist and the
// draft must belong to the requesting user.
func (s *Storage) CreateDiscover(ctx context.Context, discover *model.Discover) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM connector_tags WHERE id = $1)`, discover.ConnectorTagID); err != nil {
		return fmt.Errorf("failed to check connector tag: %w", err)
	}
	if !exists {
		return domain.ErrConnectorTagNotFound
	}

	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM drafts WHERE id = $1 AND user_id = $2)`, discover.DraftID, discover.UserID); err != nil {
		return fmt.Errorf("failed to check draft: %w", err)
	}
	if !exists {
		return domain.ErrDraftNotFound
	}

	query := `
		INSERT INTO discovers (
			id, capture_name, connector_tag_id, endpoint_config,
			draft_id, user_id, auto_publish, auto_evolve,
			update_only, logs_token, job_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		discover.ID,
		discover.CaptureName,
		discover.ConnectorTagID,
		string(discover.EndpointConfig),
		discover.DraftID,
		discover.UserID,
		discover.AutoPublish,
		discover.AutoEvolve,
		discover.UpdateOnly,
		discover.LogsToken,
		string(discover.JobStatus),
		discover.CreatedAt,
		discover.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create discover: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit discover: %w", err)
	}

	return nil
}

func (s *Storage) GetDiscoverByID(ctx context.Context, id string) (*model.Discover, error) {
	var discover model.Discover
	query := `
		SELECT
			id, capture_name, connector_tag_id, endpoint_config,
			draft_id, user_id, auto_publish, auto_evolve,
			update_only, logs_token, job_status, created_at, updated_at
		FROM discovers
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &discover, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDiscoverNotFound
		}
		return nil, fmt.Errorf("failed to get discover: %w", err)
	}

	return &discover, nil
}

type DiscoverFilter struct {
	DraftID  string
	PageSize int
	Cursor   *DiscoverCursor
}

type DiscoverCursor struct {
	CreatedAt time.Time
	ID        string
}

// ListDiscovers returns the discovers of a draft, newest first. One row
// beyond PageSize is fetched so callers can tell whether more remain.
func (s *Storage) ListDiscovers(ctx context.Context, filter DiscoverFilter) ([]model.Discover, error) {
	query := `
		SELECT
			id, capture_name, connector_tag_id, endpoint_config,
			draft_id, user_id, auto_publish, auto_evolve,
			update_only, logs_token, job_status, created_at, updated_at
		FROM discovers
		WHERE draft_id = $1
	`
	args := []interface{}{filter.DraftID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var discovers []model.Discover
	err := s.db.SelectContext(ctx, &discovers, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovers: %w", err)
	}

	return discovers, nil
}
