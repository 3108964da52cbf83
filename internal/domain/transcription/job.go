package transcription

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Hints are optional processing options recorded at submission.
type Hints struct {
	LanguageCode               string `json:"language_code,omitempty"`
	Model                      string `json:"model,omitempty"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation,omitempty"`
	EnableWordTimeOffsets      bool   `json:"enable_word_time_offsets,omitempty"`
	EnableSpeakerDiarization   bool   `json:"enable_speaker_diarization,omitempty"`
	MinSpeakerCount            int    `json:"min_speaker_count,omitempty"`
	MaxSpeakerCount            int    `json:"max_speaker_count,omitempty"`
}

// ResultRef points at one raw output reported by the provider. URL may be an
// https URL, a gs:// URI or a provider-specific handle such as an operation name.
type ResultRef struct {
	InputRef string `json:"input_ref,omitempty"`
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
}

type Job struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"job_id"`
	Provider      string                      `gorm:"column:provider;not null;uniqueIndex:idx_transcription_job_external,priority:1" json:"provider"`
	ExternalJobID string                      `gorm:"column:external_job_id;not null;uniqueIndex:idx_transcription_job_external,priority:2" json:"external_job_id"`
	Status        Status                      `gorm:"column:status;type:text;not null;index" json:"status"`
	Inputs        datatypes.JSONSlice[string] `gorm:"column:inputs" json:"inputs"`
	Hints         datatypes.JSONType[Hints]   `gorm:"column:hints" json:"hints"`
	OwnerContext  string                      `gorm:"column:owner_context;index" json:"owner_context,omitempty"`
	RetryCount    int                         `gorm:"column:retry_count;not null;default:0" json:"retry_count"`

	SubmittedAt  time.Time  `gorm:"column:submitted_at;not null" json:"submitted_at"`
	LastPolledAt *time.Time `gorm:"column:last_polled_at" json:"last_polled_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	ResultArtifacts        datatypes.JSONSlice[ResultRef] `gorm:"column:result_artifacts" json:"result_artifacts"`
	RemoteResultTTLSeconds int64                          `gorm:"column:remote_result_ttl_seconds;not null;default:0" json:"remote_result_ttl_seconds"`
	RemoteResultExpiresAt  *time.Time                     `gorm:"column:remote_result_expires_at" json:"remote_result_expires_at,omitempty"`

	LocalCachePaths          datatypes.JSONSlice[string] `gorm:"column:local_cache_paths" json:"local_cache_paths"`
	DurableArtifactKey       string                      `gorm:"column:durable_artifact_key" json:"durable_artifact_key,omitempty"`
	ArtifactPersistenceError string                      `gorm:"column:artifact_persistence_error" json:"artifact_persistence_error,omitempty"`
	ArtifactAttempts         int                         `gorm:"column:artifact_attempts;not null;default:0" json:"artifact_attempts"`
	LastArtifactAttemptAt    *time.Time                  `gorm:"column:last_artifact_attempt_at" json:"last_artifact_attempt_at,omitempty"`
	// ArtifactsAbandoned is set when the raw results can never be fetched
	// again: the provider reported none, or they expired uncached.
	ArtifactsAbandoned bool `gorm:"column:artifacts_abandoned;not null;default:false" json:"artifacts_abandoned,omitempty"`

	PostProcessResult   datatypes.JSON `gorm:"column:post_process_result" json:"post_process_result,omitempty"`
	PostProcessError    string         `gorm:"column:post_process_error" json:"post_process_error,omitempty"`
	PostProcessAttempts int            `gorm:"column:post_process_attempts;not null;default:0" json:"post_process_attempts"`
	LastPostProcessAt   *time.Time     `gorm:"column:last_post_process_attempt_at" json:"last_post_process_attempt_at,omitempty"`

	FailureReason string `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	LastPollError string `gorm:"column:last_poll_error" json:"last_poll_error,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "transcription_job" }

// RawCached reports whether every raw provider result has a local copy. Raw
// copies occupy the first len(ResultArtifacts) entries of LocalCachePaths.
func (j *Job) RawCached() bool {
	return j != nil && len(j.ResultArtifacts) > 0 && len(j.LocalCachePaths) >= len(j.ResultArtifacts)
}

// TranscriptPath is the local copy of the derived transcript, or "" before it
// has been written.
func (j *Job) TranscriptPath() string {
	if j == nil || len(j.LocalCachePaths) <= len(j.ResultArtifacts) {
		return ""
	}
	return j.LocalCachePaths[len(j.ResultArtifacts)]
}

func (j *Job) DurablePromoted() bool {
	return j != nil && j.DurableArtifactKey != ""
}

func (j *Job) PostProcessed() bool {
	return j != nil && len(j.PostProcessResult) > 0
}

// RemoteResultExpired reports whether the provider's own result references
// can no longer be relied on at now.
func (j *Job) RemoteResultExpired(now time.Time) bool {
	if j == nil || j.RemoteResultExpiresAt == nil {
		return false
	}
	return !now.Before(*j.RemoteResultExpiresAt)
}
