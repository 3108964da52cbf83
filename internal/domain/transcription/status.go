package transcription

import "strings"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
	StatusUnknown   Status = "UNKNOWN"
)

// transitions is the complete edge set of the job lifecycle. Terminal
// states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCanceled, StatusUnknown},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusUnknown},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled, StatusUnknown:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusUnknown:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MapProviderState converts a provider-reported state string into the closed
// status enum. Anything unrecognized becomes StatusUnknown; raw provider
// strings never travel past this function.
func MapProviderState(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "QUEUED", "SUBMITTED", "WAITING", "CREATED":
		return StatusPending
	case "RUNNING", "PROCESSING", "IN_PROGRESS", "STARTED":
		return StatusRunning
	case "SUCCEEDED", "SUCCESS", "SUCCEED", "COMPLETED", "DONE":
		return StatusSucceeded
	case "FAILED", "FAILURE", "ERROR":
		return StatusFailed
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}
