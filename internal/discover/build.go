package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/discover-agent/internal/catalog"
)

// SpecResolver is the narrow view of draft and live specifications that
// the merge needs.
type SpecResolver interface {
	// ResolveMergeTargets returns the current spec of each name which exists,
	// preferring the draft's version over the live one.
	ResolveMergeTargets(ctx context.Context, names []string, specType catalog.SpecType, draftID, userID string) ([]catalog.ResolvedSpec, error)
	// FetchResourcePathPointers returns the pointers which identify a
	// resource of the connector image.
	FetchResourcePathPointers(ctx context.Context, imageName, imageTag string) ([]string, error)
}

// Request describes a single merge of discovery output into a draft
type Request struct {
	CaptureName    string
	DraftID        string
	UserID         string
	ImageName      string
	ImageTag       string
	EndpointConfig json.RawMessage
	DiscoverOutput []byte
	UpdateOnly     bool
}

// BuildMergedCatalog resolves the capture and its target collections and
// merges the discovery output into them.
//
// A non-nil error is an infrastructure failure. Otherwise exactly one of the
// catalog or the draft errors is returned; a catalog is never returned
// partially merged.
func BuildMergedCatalog(ctx context.Context, resolver SpecResolver, logger *slog.Logger, req Request) (*catalog.Catalog, []catalog.DraftError, error) {
	endpoint, discovered, err := ParseResponse(req.EndpointConfig, req.ImageName, req.ImageTag, req.DiscoverOutput)
	if err != nil {
		return nil, nil, fmt.Errorf("converting discovery response into specs: %w", err)
	}

	cat := catalog.New()

	resolved, err := resolver.ResolveMergeTargets(ctx, []string{req.CaptureName}, catalog.SpecTypeCapture, req.DraftID, req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving the current capture: %w", err)
	}
	if errs := catalog.ExtendCatalog(cat, resolved); len(errs) != 0 {
		return nil, errs, nil
	}

	pointers, err := resolver.FetchResourcePathPointers(ctx, req.ImageName, req.ImageTag)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching resource path pointers: %w", err)
	}
	if len(pointers) == 0 {
		logger.Warn("merging bindings using legacy behavior because resource_path_pointers are missing",
			slog.String("image_name", req.ImageName),
			slog.String("image_tag", req.ImageTag),
			slog.String("capture_name", req.CaptureName),
		)
	}

	var existing *catalog.CaptureDef
	if def, ok := cat.Captures[req.CaptureName]; ok {
		existing = &def
		delete(cat.Captures, req.CaptureName)
	}

	merged, discovered, err := MergeCapture(req.CaptureName, endpoint, discovered, existing, req.UpdateOnly, pointers)
	if err != nil {
		return nil, []catalog.DraftError{{CatalogName: req.CaptureName, Detail: err.Error()}}, nil
	}
	cat.Captures[req.CaptureName] = merged

	targets := targetsOf(merged)

	resolved, err = resolver.ResolveMergeTargets(ctx, targets, catalog.SpecTypeCollection, req.DraftID, req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving target collections: %w", err)
	}
	if errs := catalog.ExtendCatalog(cat, resolved); len(errs) != 0 {
		return nil, errs, nil
	}

	cat.Collections = MergeCollections(discovered, cat.Collections, targets)

	return cat, nil, nil
}
