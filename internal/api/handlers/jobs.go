package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/narvanalabs/sitekiln/internal/api/middleware"
	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/events"
	"github.com/narvanalabs/sitekiln/internal/integrations/github"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/queue"
	"github.com/narvanalabs/sitekiln/internal/quota"
	"github.com/narvanalabs/sitekiln/internal/store"
	"github.com/narvanalabs/sitekiln/internal/templates"
	"github.com/narvanalabs/sitekiln/internal/validation"
)

// Job listing bounds.
const (
	DefaultJobListLimit = 10
	MaxJobListLimit     = 20
)

// MsgDispatched is stored on remote jobs once the workflow accepted them.
const MsgDispatched = "Dispatched to GitHub Actions"

// TemplateResolver looks templates up by name.
type TemplateResolver interface {
	Resolve(name string) (*models.Template, string, error)
}

// EnvSealer turns an env payload into its stored form.
type EnvSealer interface {
	Seal(ctx context.Context, payload string) (string, error)
}

// Dispatcher starts remote builds.
type Dispatcher interface {
	DispatchWorkflow(ctx context.Context, d github.Dispatch) error
}

// JobHandler creates and reads build jobs.
type JobHandler struct {
	store      store.Store
	queue      queue.Queue
	templates  TemplateResolver
	quota      *quota.Service
	sealer     EnvSealer
	dispatcher Dispatcher
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobHandler creates a new job handler. sealer, dispatcher and pub may be nil.
func NewJobHandler(
	st store.Store,
	q queue.Queue,
	tpl TemplateResolver,
	quotaSvc *quota.Service,
	sealer EnvSealer,
	dispatcher Dispatcher,
	pub events.Publisher,
	logger *slog.Logger,
) *JobHandler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &JobHandler{
		store:      st,
		queue:      q,
		templates:  tpl,
		quota:      quotaSvc,
		sealer:     sealer,
		dispatcher: dispatcher,
		events:     pub,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	TemplateName string `json:"templateName"`
	Env          string `json:"env"`
}

// CreateJobResponse acknowledges an accepted job.
type CreateJobResponse struct {
	ID      string              `json:"id"`
	Status  models.BuildStatus  `json:"status"`
	Channel models.BuildChannel `json:"channel"`
}

// QuotaExceededResponse is returned with 429.
type QuotaExceededResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Limit   int    `json:"limit"`
	Used    int    `json:"used"`
	Left    int    `json:"left"`
}

// Create handles POST /v1/jobs. Local templates are queued for the worker;
// GitHub templates are dispatched to the build workflow before anything is
// stored, and a failed dispatch gives the quota slot back.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	req.TemplateName = strings.TrimSpace(req.TemplateName)
	if req.TemplateName == "" {
		WriteBadRequest(w, "templateName is required")
		return
	}
	if err := validation.ValidateEnvPayload(req.Env); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	tpl, _, err := h.templates.Resolve(req.TemplateName)
	if errors.Is(err, templates.ErrNotFound) {
		WriteNotFound(w, "template not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve template", "error", err, "template", req.TemplateName)
		WriteInternalError(w, "failed to resolve template")
		return
	}

	var envJSON string
	if tpl.IsRemote() {
		if h.dispatcher == nil {
			WriteBadGateway(w, "remote builds are not configured")
			return
		}
		if envJSON, err = github.EnvJSON(req.Env); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}

	user, err := h.store.Users().GetByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		WriteUnauthorized(w, "unknown user")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to create job")
		return
	}

	if _, err := h.quota.Consume(ctx, user); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			WriteJSON(w, http.StatusTooManyRequests, QuotaExceededResponse{
				Code:    ErrCodeQuotaExceeded,
				Message: "daily build quota exceeded",
				Limit:   exceeded.Usage.Limit,
				Used:    exceeded.Usage.Used,
				Left:    0,
			})
			return
		}
		h.logger.Error("failed to consume quota", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to create job")
		return
	}

	stored, err := h.seal(ctx, req.Env)
	if err != nil {
		h.refund(ctx, user)
		h.logger.Error("failed to seal env payload", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to create job")
		return
	}

	job := &models.BuildJob{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		TemplateName: tpl.Name,
		EnvPayload:   stored,
		CreatedAt:    h.now().UTC(),
	}
	logger := h.logger.With("job_id", job.ID, "user_id", user.ID, "template", tpl.Name)

	if tpl.IsRemote() {
		err := h.dispatcher.DispatchWorkflow(ctx, github.Dispatch{
			Repo: tpl.Repo,
			Ref:  tpl.Ref,
			Inputs: github.DispatchInputs{
				JobID:   job.ID,
				EnvJSON: envJSON,
				Workdir: tpl.Subdir,
			},
		})
		if err != nil {
			h.refund(ctx, user)
			logger.Error("workflow dispatch failed", "error", err)
			WriteBadGateway(w, "workflow dispatch failed")
			return
		}

		started := job.CreatedAt
		job.Channel = models.BuildChannelRemote
		job.Status = models.BuildStatusRunning
		job.Message = MsgDispatched
		job.StartedAt = &started
		if err := h.store.Jobs().Create(ctx, job); err != nil {
			// The workflow is already running; its callback will find no job.
			logger.Error("failed to record dispatched job", "error", err)
			WriteInternalError(w, "failed to record job")
			return
		}
		logger.Info("dispatched remote build", "repo", tpl.Repo)
		h.emit(ctx, events.TypeDispatched, job)
	} else {
		job.Channel = models.BuildChannelLocal
		if err := h.queue.Enqueue(ctx, job); err != nil {
			h.refund(ctx, user)
			logger.Error("failed to enqueue job", "error", err)
			WriteInternalError(w, "failed to create job")
			return
		}
		logger.Info("queued local build")
		h.emit(ctx, events.TypeQueued, job)
	}

	WriteJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:      job.ID,
		Status:  job.Status,
		Channel: job.Channel,
	})
}

// List handles GET /v1/jobs?limit=N.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	jobs, err := h.store.Jobs().ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.BuildJob{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Get handles GET /v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.Jobs().Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "error", err, "job_id", jobID)
		WriteInternalError(w, "failed to get job")
		return
	}
	if !auth.CanAccessOwned(middleware.GetClaims(r.Context()), job.UserID) {
		WriteForbidden(w, "access denied")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultJobListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > MaxJobListLimit {
		n = MaxJobListLimit
	}
	return n, nil
}

func (h *JobHandler) seal(ctx context.Context, env string) (string, error) {
	if h.sealer == nil {
		return env, nil
	}
	return h.sealer.Seal(ctx, env)
}

func (h *JobHandler) refund(ctx context.Context, user *models.User) {
	if err := h.quota.Refund(context.WithoutCancel(ctx), user); err != nil {
		h.logger.Error("failed to refund quota", "error", err, "user_id", user.ID)
	}
}

func (h *JobHandler) emit(ctx context.Context, typ events.Type, job *models.BuildJob) {
	events.Emit(ctx, h.events, h.logger, events.Event{
		Type:     typ,
		JobID:    job.ID,
		UserID:   job.UserID,
		Template: job.TemplateName,
		Message:  job.Message,
		At:       h.now().UTC(),
	})
}
