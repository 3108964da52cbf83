package transcription

import "time"

type EventType string

const (
	EventSubmitted          EventType = "job.submitted"
	EventStatusChanged      EventType = "job.status_changed"
	EventArtifactsPersisted EventType = "job.artifacts_persisted"
	EventPostProcessed      EventType = "job.post_processed"
	EventCanceled           EventType = "job.canceled"
)

// Event is a best-effort notification about a job; the store stays the
// source of truth.
type Event struct {
	Type   EventType `json:"type"`
	JobID  string    `json:"job_id"`
	Status Status    `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
