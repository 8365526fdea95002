package dto

import "encoding/json"

type CreateDiscoverRequest struct {
	CaptureName    string          `json:"capture_name" binding:"required"`
	ConnectorTagID string          `json:"connector_tag_id" binding:"required,uuid"`
	EndpointConfig json.RawMessage `json:"endpoint_config" binding:"required"`
	DraftID        string          `json:"draft_id" binding:"required,uuid"`
	UserID         string          `json:"user_id" binding:"required,uuid"`
	AutoPublish    bool            `json:"auto_publish"`
	AutoEvolve     bool            `json:"auto_evolve"`
	UpdateOnly     bool            `json:"update_only"`
}

type ListDiscoversRequest struct {
	DraftID  string `form:"draft_id" binding:"required,uuid"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListDiscoversResponse struct {
	Discovers  []DiscoverDTO `json:"discovers"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type DiscoverDTO struct {
	ID             string          `json:"id"`
	CaptureName    string          `json:"capture_name"`
	ConnectorTagID string          `json:"connector_tag_id"`
	EndpointConfig json.RawMessage `json:"endpoint_config"`
	DraftID        string          `json:"draft_id"`
	UserID         string          `json:"user_id"`
	AutoPublish    bool            `json:"auto_publish"`
	AutoEvolve     bool            `json:"auto_evolve"`
	UpdateOnly     bool            `json:"update_only"`
	LogsToken      string          `json:"logs_token"`
	JobStatus      json.RawMessage `json:"job_status"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}
