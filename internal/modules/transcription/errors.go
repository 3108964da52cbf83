package transcription

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	jobrepo "github.com/yungbote/neurobridge-transcribe/internal/data/repos/transcription"
	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
)

var (
	ErrJobNotFound      = jobrepo.ErrJobNotFound
	ErrArtifactNotReady = errors.New("durable transcript artifact not available yet")
)

// ValidationError rejects a submission before any provider call.
// Constraint is a stable machine-readable name of the rule that failed.
type ValidationError struct {
	Constraint string
	Detail     string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + e.Constraint
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Constraint, e.Detail)
}

// TerminalStateConflict means the job is past the point where the provider
// accepts cancellation. No provider call was made.
type TerminalStateConflict struct {
	JobID   uuid.UUID
	Current domain.Status
}

func (e *TerminalStateConflict) Error() string {
	return fmt.Sprintf("job %s cannot be canceled in status %s", e.JobID, e.Current)
}

// ArtifactPersistenceError records a failed local write or durable upload.
// It never changes job status.
type ArtifactPersistenceError struct {
	Key string
	Err error
}

func (e *ArtifactPersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("artifact persistence: %v", e.Err)
	}
	return fmt.Sprintf("artifact persistence %s: %v", e.Key, e.Err)
}

func (e *ArtifactPersistenceError) Unwrap() error { return e.Err }

// PostProcessError records a failed summary derivation. It never changes
// job status.
type PostProcessError struct {
	Err error
}

func (e *PostProcessError) Error() string { return fmt.Sprintf("post-process: %v", e.Err) }

func (e *PostProcessError) Unwrap() error { return e.Err }
