package model

import (
	"encoding/json"
	"time"
)

type Discover struct {
	ID             string          `db:"id"`
	CaptureName    string          `db:"capture_name"`
	ConnectorTagID string          `db:"connector_tag_id"`
	EndpointConfig json.RawMessage `db:"endpoint_config"`
	DraftID        string          `db:"draft_id"`
	UserID         string          `db:"user_id"`
	AutoPublish    bool            `db:"auto_publish"`
	AutoEvolve     bool            `db:"auto_evolve"`
	UpdateOnly     bool            `db:"update_only"`
	LogsToken      string          `db:"logs_token"`
	JobStatus      json.RawMessage `db:"job_status"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}
