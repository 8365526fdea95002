package domain

import (
	"context"

	"github.com/cuongbtq/discover-agent/internal/catalog"
)

// Store begins units of work against the shared job and catalog store
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transactional unit of work. Nothing it writes is visible to
// other workers until Commit; Rollback releases a claimed job so that it is
// queued again.
type Tx interface {
	// Dequeue claims one queued discover, excluding rows claimed by
	// concurrent transactions. It returns nil when none is available.
	Dequeue(ctx context.Context) (*DiscoverJob, error)
	// Resolve writes the terminal status of a discover.
	Resolve(ctx context.Context, id string, status JobStatus) error

	ImageIsRegistered(ctx context.Context, imageName string) (bool, error)
	FetchResourcePathPointers(ctx context.Context, imageName, imageTag string) ([]string, error)
	ResolveMergeTargets(ctx context.Context, names []string, specType catalog.SpecType, draftID, userID string) ([]catalog.ResolvedSpec, error)

	DeleteDraftErrors(ctx context.Context, draftID string) error
	InsertDraftErrors(ctx context.Context, draftID string, errs []catalog.DraftError) error
	UpsertDraftSpecs(ctx context.Context, draftID string, cat *catalog.Catalog) error
	// PruneUnchangedDraftSpecs deletes draft specs equal to their live
	// counterparts and returns the pruned names.
	PruneUnchangedDraftSpecs(ctx context.Context, draftID string) ([]string, error)
	CreatePublication(ctx context.Context, userID, draftID string, autoEvolve bool, detail string) (string, error)

	Commit() error
	Rollback() error
}
