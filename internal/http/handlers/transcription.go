package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/http/response"
	"github.com/yungbote/neurobridge-transcribe/internal/modules/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/apierr"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

type TranscriptionService interface {
	Submit(ctx context.Context, req transcription.SubmitRequest) (*domain.Job, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (transcription.StatusView, error)
	GetStatusByExternalID(ctx context.Context, externalJobID string) (transcription.StatusView, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	ArtifactURL(ctx context.Context, jobID uuid.UUID) (transcription.ArtifactURL, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]transcription.StatusView, error)
}

type TranscriptionHandler struct {
	log  *logger.Logger
	jobs TranscriptionService
}

func NewTranscriptionHandler(log *logger.Logger, jobs TranscriptionService) *TranscriptionHandler {
	return &TranscriptionHandler{log: log.With("handler", "TranscriptionHandler"), jobs: jobs}
}

// CancelResult is the body of a successful cancel.
type CancelResult struct {
	OK     bool          `json:"ok" yaml:"ok"`
	JobID  uuid.UUID     `json:"job_id" yaml:"job_id"`
	Status domain.Status `json:"status" yaml:"status"`
}

// CancelConflict is the body of a refused cancel.
type CancelConflict struct {
	Error         string        `json:"error"`
	CurrentStatus domain.Status `json:"current_status"`
	Message       string        `json:"message"`
}

// POST /api/transcriptions
func (h *TranscriptionHandler) Submit(c *gin.Context) {
	var req transcription.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondCreated(c, transcription.NewSubmitResult(job))
}

// GET /api/transcriptions/:id
func (h *TranscriptionHandler) GetStatus(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	view, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/external-jobs/*external_id
func (h *TranscriptionHandler) GetStatusByExternalID(c *gin.Context) {
	externalID := strings.Trim(c.Param("external_id"), "/")
	if externalID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_external_job_id", fmt.Errorf("external job id required"))
		return
	}
	view, err := h.jobs.GetStatusByExternalID(c.Request.Context(), externalID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}

// POST /api/transcriptions/:id/cancel
func (h *TranscriptionHandler) Cancel(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	var conflict *transcription.TerminalStateConflict
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, CancelConflict{
			Error:         "TerminalStateConflict",
			CurrentStatus: conflict.Current,
			Message:       conflict.Error(),
		})
		return
	case err != nil:
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, CancelResult{OK: true, JobID: job.ID, Status: job.Status})
}

// GET /api/transcriptions/:id/artifact-url
func (h *TranscriptionHandler) ArtifactURL(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	u, err := h.jobs.ArtifactURL(c.Request.Context(), jobID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, u)
}

// GET /api/transcriptions?limit=
func (h *TranscriptionHandler) List(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	owner := ctxutil.GetOwner(c.Request.Context())
	if owner == "" {
		owner = strings.TrimSpace(c.Query("owner"))
	}
	views, err := h.jobs.ListByOwner(c.Request.Context(), owner, limit)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": views})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return jobID, true
}

func (h *TranscriptionHandler) respondErr(c *gin.Context, err error) {
	var verr *transcription.ValidationError
	if errors.As(err, &verr) {
		response.RespondAPIError(c, http.StatusBadRequest, response.APIError{
			Message:    verr.Error(),
			Code:       "validation_error",
			Constraint: verr.Constraint,
		})
		return
	}
	e := classify(err)
	if e.Status >= http.StatusInternalServerError {
		h.log.Error("transcription request failed", "path", c.FullPath(), "error", err)
	}
	response.RespondError(c, e.Status, e.Code, e.Err)
}

func classify(err error) *apierr.Error {
	if e, ok := apierr.As(err); ok {
		return e
	}
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, transcription.ErrJobNotFound):
		return apierr.New(http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, transcription.ErrArtifactNotReady):
		return apierr.New(http.StatusConflict, "artifact_not_ready", err)
	case errors.As(err, &pe):
		return apierr.New(http.StatusBadGateway, "provider_error", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.New(http.StatusGatewayTimeout, "timeout", err)
	default:
		return apierr.New(http.StatusInternalServerError, "internal_error", err)
	}
}
