package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/discover-agent/internal/api/domain"
	"github.com/cuongbtq/discover-agent/internal/api/dto"
	"github.com/cuongbtq/discover-agent/internal/api/model"
	"github.com/cuongbtq/discover-agent/internal/api/storage"
	workerdomain "github.com/cuongbtq/discover-agent/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateDiscover handles POST /api/v1/discovers
// Queues a discover of the capture's connector
func (h *DiscoverHandler) CreateDiscover(c *gin.Context) {
	h.logger.Info("CreateDiscover called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateDiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !validCaptureName(req.CaptureName) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "capture_name must be a catalog name of the form <prefix>/<name>",
		})
		return
	}

	trimmed := bytes.TrimSpace(req.EndpointConfig)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "endpoint_config must be a JSON object",
		})
		return
	}

	now := time.Now().UTC()
	discover := model.Discover{
		ID:             uuid.New().String(),
		CaptureName:    req.CaptureName,
		ConnectorTagID: req.ConnectorTagID,
		EndpointConfig: req.EndpointConfig,
		DraftID:        req.DraftID,
		UserID:         req.UserID,
		AutoPublish:    req.AutoPublish,
		AutoEvolve:     req.AutoEvolve,
		UpdateOnly:     req.UpdateOnly,
		LogsToken:      uuid.New().String(),
		JobStatus:      json.RawMessage(`{"type":"queued"}`),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := h.storage.CreateDiscover(c.Request.Context(), &discover)
	switch {
	case errors.Is(err, domain.ErrConnectorTagNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connector tag not found"})
		return
	case errors.Is(err, domain.ErrDraftNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	case err != nil:
		h.logger.Error("Failed to create discover", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create discover",
		})
		return
	}

	// The row is already queued; workers poll for it if the wake-up is lost.
	body, err := json.Marshal(workerdomain.WakeupMessage{DiscoverID: discover.ID})
	if err == nil {
		err = h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json")
	}
	if err != nil {
		h.logger.Warn("Failed to publish discover wake-up",
			slog.String("discover_id", discover.ID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusCreated, toDiscoverDTO(&discover))
}

// GetDiscover handles GET /api/v1/discovers/:discover_id
// Retrieves a discover and its job status
func (h *DiscoverHandler) GetDiscover(c *gin.Context) {
	discoverID := c.Param("discover_id")

	h.logger.Info("GetDiscover called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("discover_id", discoverID),
	)

	if _, err := uuid.Parse(discoverID); err != nil {
		h.logger.Error("Invalid discover_id format", slog.String("discover_id", discoverID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "discover_id must be a valid UUID",
		})
		return
	}

	discover, err := h.storage.GetDiscoverByID(c.Request.Context(), discoverID)
	if err != nil {
		if errors.Is(err, domain.ErrDiscoverNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "discover not found"})
			return
		}
		h.logger.Error("Failed to get discover", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get discover",
		})
		return
	}

	c.JSON(http.StatusOK, toDiscoverDTO(discover))
}

// ListDiscovers handles GET /api/v1/discovers
// Lists the discovers of a draft, newest first
func (h *DiscoverHandler) ListDiscovers(c *gin.Context) {
	h.logger.Info("ListDiscovers called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListDiscoversRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = domain.DefaultPageSize
	}

	if req.PageSize > domain.MaxPageSize {
		req.PageSize = domain.MaxPageSize
	}

	cursor, err := DecodeDiscoverCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	discovers, err := h.storage.ListDiscovers(c.Request.Context(), storage.DiscoverFilter{
		DraftID:  req.DraftID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list discovers", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list discovers",
		})
		return
	}

	hasMore := len(discovers) > req.PageSize
	if hasMore {
		discovers = discovers[:req.PageSize]
	}

	response := make([]dto.DiscoverDTO, len(discovers))
	for i := range discovers {
		response[i] = toDiscoverDTO(&discovers[i])
	}

	var nextCursor string
	if hasMore {
		last := discovers[len(discovers)-1]
		nextCursor = EncodeDiscoverCursor(&storage.DiscoverCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListDiscoversResponse{
		Discovers:  response,
		NextCursor: nextCursor,
	})
}

func toDiscoverDTO(d *model.Discover) dto.DiscoverDTO {
	return dto.DiscoverDTO{
		ID:             d.ID,
		CaptureName:    d.CaptureName,
		ConnectorTagID: d.ConnectorTagID,
		EndpointConfig: d.EndpointConfig,
		DraftID:        d.DraftID,
		UserID:         d.UserID,
		AutoPublish:    d.AutoPublish,
		AutoEvolve:     d.AutoEvolve,
		UpdateOnly:     d.UpdateOnly,
		LogsToken:      d.LogsToken,
		JobStatus:      d.JobStatus,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	}
}

func validCaptureName(name string) bool {
	idx := strings.LastIndex(name, "/")
	return idx > 0 && idx < len(name)-1 && !strings.ContainsAny(name, " \t\n")
}
