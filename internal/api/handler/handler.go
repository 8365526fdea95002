package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/discover-agent/internal/api/model"
	"github.com/cuongbtq/discover-agent/internal/api/storage"
)

// DiscoverStore persists discovers
type DiscoverStore interface {
	CreateDiscover(ctx context.Context, discover *model.Discover) error
	GetDiscoverByID(ctx context.Context, id string) (*model.Discover, error)
	ListDiscovers(ctx context.Context, filter storage.DiscoverFilter) ([]model.Discover, error)
}

// Publisher publishes wake-up messages to the worker service
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker reports whether a connection is currently open
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Storage   DiscoverStore
	Publisher Publisher
	Database  HealthChecker
	Broker    ConnectionChecker
}

// DiscoverHandler handles discover-related HTTP requests
type DiscoverHandler struct {
	logger    *slog.Logger
	storage   DiscoverStore
	publisher Publisher
}

// NewDiscoverHandler creates a new DiscoverHandler instance
func NewDiscoverHandler(deps *Dependencies) *DiscoverHandler {
	return &DiscoverHandler{
		logger:    deps.Logger,
		storage:   deps.Storage,
		publisher: deps.Publisher,
	}
}
