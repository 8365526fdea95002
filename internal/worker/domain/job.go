package domain

import (
	"encoding/json"
	"time"
)

// LocalImageTag marks a connector image which is built locally and must not be pulled
const LocalImageTag = ":local"

// CaptureProtocol is the only connector protocol which supports discovery
const CaptureProtocol = "capture"

// DiscoverJob is a queued discover request claimed by a worker.
// It is immutable once dequeued; only its status is written back.
type DiscoverJob struct {
	ID                     string          `db:"id"`
	CaptureName            string          `db:"capture_name"`
	ConnectorTagID         string          `db:"connector_tag_id"`
	ConnectorTagJobSuccess bool            `db:"connector_tag_job_success"`
	ImageName              string          `db:"image_name"`
	ImageTag               string          `db:"image_tag"`
	Protocol               string          `db:"protocol"`
	EndpointConfig         json.RawMessage `db:"endpoint_config"`
	DraftID                string          `db:"draft_id"`
	UserID                 string          `db:"user_id"`
	AutoPublish            bool            `db:"auto_publish"`
	AutoEvolve             bool            `db:"auto_evolve"`
	UpdateOnly             bool            `db:"update_only"`
	LogsToken              string          `db:"logs_token"`
	CreatedAt              time.Time       `db:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

// Image returns the full image reference, name plus tag
func (j *DiscoverJob) Image() string {
	return j.ImageName + j.ImageTag
}

// HandlerStatus reports whether a call to Handle found work
type HandlerStatus int

const (
	HandlerIdle HandlerStatus = iota
	HandlerActive
)

func (s HandlerStatus) String() string {
	if s == HandlerActive {
		return "active"
	}
	return "idle"
}

// WakeupMessage is published when a discover is queued
type WakeupMessage struct {
	DiscoverID string `json:"discover_id"`
}
