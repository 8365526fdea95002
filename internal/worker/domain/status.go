package domain

import (
	"encoding/json"
	"fmt"
)

// StatusType is the discriminator of a JobStatus
type StatusType string

// Job status constants
const (
	StatusQueued         StatusType = "queued"
	StatusWrongProtocol  StatusType = "wrongProtocol"
	StatusTagFailed      StatusType = "tagFailed"
	StatusImageForbidden StatusType = "imageForbidden"
	StatusPullFailed     StatusType = "pullFailed"
	StatusDiscoverFailed StatusType = "discoverFailed"
	StatusMergeFailed    StatusType = "mergeFailed"
	StatusSuccess        StatusType = "success"
)

// JobStatus is the outcome of a discover. Only Success carries a payload.
// The zero value is not a valid status; use the constructors.
type JobStatus struct {
	Type           StatusType
	PublicationID  string
	SpecsUnchanged bool
}

func Queued() JobStatus         { return JobStatus{Type: StatusQueued} }
func WrongProtocol() JobStatus  { return JobStatus{Type: StatusWrongProtocol} }
func TagFailed() JobStatus      { return JobStatus{Type: StatusTagFailed} }
func ImageForbidden() JobStatus { return JobStatus{Type: StatusImageForbidden} }
func PullFailed() JobStatus     { return JobStatus{Type: StatusPullFailed} }
func DiscoverFailed() JobStatus { return JobStatus{Type: StatusDiscoverFailed} }
func MergeFailed() JobStatus    { return JobStatus{Type: StatusMergeFailed} }

// Success is a completed discover. publicationID is empty when no
// publication was created.
func Success(publicationID string, specsUnchanged bool) JobStatus {
	return JobStatus{Type: StatusSuccess, PublicationID: publicationID, SpecsUnchanged: specsUnchanged}
}

// IsTerminal reports whether the status ends the job
func (s JobStatus) IsTerminal() bool {
	return s.Type != StatusQueued
}

func (s JobStatus) String() string {
	if s.Type != StatusSuccess {
		return string(s.Type)
	}
	return fmt.Sprintf("success(publication_id=%q, specs_unchanged=%t)", s.PublicationID, s.SpecsUnchanged)
}

type jobStatusJSON struct {
	Type           StatusType `json:"type"`
	PublicationID  string     `json:"publication_id,omitempty"`
	SpecsUnchanged bool       `json:"specs_unchanged,omitempty"`
}

// MarshalJSON encodes the status as a tagged record
func (s JobStatus) MarshalJSON() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(jobStatusJSON(s))
}

// UnmarshalJSON decodes a tagged record
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw jobStatusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := JobStatus(raw)
	if err := decoded.validate(); err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s JobStatus) validate() error {
	switch s.Type {
	case StatusSuccess:
		return nil
	case StatusQueued, StatusWrongProtocol, StatusTagFailed, StatusImageForbidden,
		StatusPullFailed, StatusDiscoverFailed, StatusMergeFailed:
		if s.PublicationID != "" || s.SpecsUnchanged {
			return fmt.Errorf("job status %q carries no payload", s.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown job status %q", s.Type)
	}
}
