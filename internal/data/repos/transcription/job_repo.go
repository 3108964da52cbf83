package transcription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

var (
	ErrJobNotFound         = errors.New("transcription job not found")
	ErrDuplicateExternalID = errors.New("external job id already recorded")
)

// JobRepo is the durable, authoritative store of transcription jobs.
type JobRepo interface {
	Create(dbc dbctx.Context, job *domain.Job) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	GetByExternalID(dbc dbctx.Context, provider, externalID string) (*domain.Job, error)
	ListByOwner(dbc dbctx.Context, owner string, limit int) ([]*domain.Job, error)
	Save(dbc dbctx.Context, job *domain.Job) error
	// WithJobLock runs fn with exclusive access to one job. fn must use the
	// dbctx it receives for every store call.
	WithJobLock(ctx context.Context, id uuid.UUID, fn func(dbc dbctx.Context, job *domain.Job) error) error
}

type jobRepo struct {
	db    *gorm.DB
	log   *logger.Logger
	locks *keyedMutex
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:    db,
		log:   baseLog.With("repo", "TranscriptionJobRepo"),
		locks: newKeyedMutex(),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("job required")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if strings.TrimSpace(job.ExternalJobID) == "" {
		return errors.New("external job id required")
	}
	if !job.Status.Valid() {
		return errors.New("invalid job status " + string(job.Status))
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := dbc.DB(r.db).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return err
	}
	return nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	if id == uuid.Nil {
		return nil, ErrJobNotFound
	}
	var job domain.Job
	err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (r *jobRepo) GetByExternalID(dbc dbctx.Context, provider, externalID string) (*domain.Job, error) {
	if provider == "" || externalID == "" {
		return nil, ErrJobNotFound
	}
	var job domain.Job
	err := dbc.DB(r.db).
		Where("provider = ? AND external_job_id = ?", provider, externalID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (r *jobRepo) ListByOwner(dbc dbctx.Context, owner string, limit int) ([]*domain.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := []*domain.Job{}
	err := dbc.DB(r.db).
		Where("owner_context = ?", owner).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes the mutable columns of job. Identity, provider binding,
// external id, inputs, hints, owner and submitted_at are never rewritten.
func (r *jobRepo) Save(dbc dbctx.Context, job *domain.Job) error {
	if job == nil || job.ID == uuid.Nil {
		return ErrJobNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":                       job.Status,
			"retry_count":                  job.RetryCount,
			"last_polled_at":               job.LastPolledAt,
			"completed_at":                 job.CompletedAt,
			"result_artifacts":             job.ResultArtifacts,
			"remote_result_ttl_seconds":    job.RemoteResultTTLSeconds,
			"remote_result_expires_at":     job.RemoteResultExpiresAt,
			"local_cache_paths":            job.LocalCachePaths,
			"durable_artifact_key":         job.DurableArtifactKey,
			"artifact_persistence_error":   job.ArtifactPersistenceError,
			"artifact_attempts":            job.ArtifactAttempts,
			"last_artifact_attempt_at":     job.LastArtifactAttemptAt,
			"artifacts_abandoned":          job.ArtifactsAbandoned,
			"post_process_result":          job.PostProcessResult,
			"post_process_error":           job.PostProcessError,
			"post_process_attempts":        job.PostProcessAttempts,
			"last_post_process_attempt_at": job.LastPostProcessAt,
			"failure_reason":               job.FailureReason,
			"last_poll_error":              job.LastPollError,
			"updated_at":                   job.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *jobRepo) WithJobLock(ctx context.Context, id uuid.UUID, fn func(dbc dbctx.Context, job *domain.Job) error) error {
	ctx = ctxutil.Default(ctx)
	if id == uuid.Nil {
		return ErrJobNotFound
	}
	unlock := r.locks.Lock(id.String())
	defer unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var job domain.Job
		if err := q.Where("id = ?", id).Limit(1).Find(&job).Error; err != nil {
			return err
		}
		if job.ID == uuid.Nil {
			return ErrJobNotFound
		}
		return fn(dbctx.Context{Ctx: ctx, Tx: tx}, &job)
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
