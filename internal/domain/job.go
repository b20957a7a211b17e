package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusUploaded || s == JobStatusError
}

// CanTransition reports whether a job may move from one status to another.
// Same-status writes are allowed for non-terminal jobs so progress fields
// (upload id, script) can be recorded while processing.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case JobStatusQueued:
		return to == JobStatusQueued || to == JobStatusProcessing || to == JobStatusError
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusUploaded || to == JobStatusError
	default:
		return false
	}
}

// AudioJob is the async unit tracked by the job registry.
type AudioJob struct {
	ID           string
	Status       JobStatus
	Request      json.RawMessage
	ReportText   string
	Script       string
	UploadID     string
	AssetID      string
	PlayerURL    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requested_at"`
}
