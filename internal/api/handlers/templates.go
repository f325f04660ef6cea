package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/templates"
)

// DefaultMaxUploadBytes bounds template uploads when no limit is configured.
const DefaultMaxUploadBytes = 200 << 20

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// TemplateCatalog is the template store as seen by the API.
type TemplateCatalog interface {
	List() ([]*models.Template, error)
	Register(t models.Template, body io.Reader) (*models.Template, error)
	Rename(oldName, newName string) error
	Delete(name string) error
}

// RepoChecker confirms a repository is reachable before it is registered.
type RepoChecker interface {
	Configured() bool
	RepositoryExists(ctx context.Context, repo string) (bool, error)
}

// TemplateHandler serves template listing and admin management.
type TemplateHandler struct {
	catalog        TemplateCatalog
	repos          RepoChecker
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewTemplateHandler creates a new template handler. repos may be nil.
func NewTemplateHandler(catalog TemplateCatalog, repos RepoChecker, maxUploadBytes int64, logger *slog.Logger) *TemplateHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &TemplateHandler{
		catalog:        catalog,
		repos:          repos,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterGitHubRequest is the body of POST /v1/templates/github.
type RegisterGitHubRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Repo        string `json:"repo"`
	Ref         string `json:"ref"`
	Subdir      string `json:"subdir"`
}

// RenameTemplateRequest is the body of PATCH /v1/templates/{name}.
type RenameTemplateRequest struct {
	Name string `json:"name"`
}

// List handles GET /v1/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List()
	if err != nil {
		h.logger.Error("failed to list templates", "error", err)
		WriteInternalError(w, "failed to list templates")
		return
	}
	if list == nil {
		list = []*models.Template{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// Upload handles POST /v1/templates with a multipart "file" field and an
// optional "description". The stored name is the uploaded file name unless
// a "name" field is given.
func (h *TemplateHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "upload too large")
			return
		}
		WriteBadRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = filepath.Base(header.Filename)
	}

	tpl, err := h.catalog.Register(models.Template{
		Name:        name,
		Kind:        models.TemplateKindArchive,
		Description: r.FormValue("description"),
	}, file)
	if err != nil {
		h.writeTemplateError(w, err, "failed to store template")
		return
	}

	h.logger.Info("template uploaded", "name", tpl.Name, "size", tpl.Size)
	WriteJSON(w, http.StatusCreated, tpl)
}

// RegisterGitHub handles POST /v1/templates/github.
func (h *TemplateHandler) RegisterGitHub(w http.ResponseWriter, r *http.Request) {
	var req RegisterGitHubRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	req.Repo = strings.TrimSpace(req.Repo)
	if !repoPattern.MatchString(req.Repo) {
		WriteBadRequest(w, "repo must be owner/name")
		return
	}
	subdir := strings.Trim(strings.TrimSpace(req.Subdir), "/")
	if strings.Contains(subdir, "..") {
		WriteBadRequest(w, "subdir must stay inside the repository")
		return
	}

	if h.repos != nil && h.repos.Configured() {
		ok, err := h.repos.RepositoryExists(r.Context(), req.Repo)
		if err != nil {
			h.logger.Error("failed to check repository", "error", err, "repo", req.Repo)
			WriteBadGateway(w, "could not reach GitHub")
			return
		}
		if !ok {
			WriteBadRequest(w, "repository not found or not accessible")
			return
		}
	}

	tpl, err := h.catalog.Register(models.Template{
		Name:        strings.TrimSpace(req.Name),
		Kind:        models.TemplateKindGitHub,
		Description: req.Description,
		Repo:        req.Repo,
		Ref:         strings.TrimSpace(req.Ref),
		Subdir:      subdir,
	}, nil)
	if err != nil {
		h.writeTemplateError(w, err, "failed to register template")
		return
	}

	h.logger.Info("github template registered", "name", tpl.Name, "repo", tpl.Repo)
	WriteJSON(w, http.StatusCreated, tpl)
}

// Rename handles PATCH /v1/templates/{name}.
func (h *TemplateHandler) Rename(w http.ResponseWriter, r *http.Request) {
	oldName := chi.URLParam(r, "name")

	var req RenameTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.catalog.Rename(oldName, strings.TrimSpace(req.Name)); err != nil {
		h.writeTemplateError(w, err, "failed to rename template")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"name": strings.TrimSpace(req.Name)})
}

// Delete handles DELETE /v1/templates/{name}.
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.catalog.Delete(name); err != nil {
		h.writeTemplateError(w, err, "failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TemplateHandler) writeTemplateError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, templates.ErrInvalidName):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, templates.ErrDuplicateName):
		WriteConflict(w, err.Error())
	case errors.Is(err, templates.ErrNotFound):
		WriteNotFound(w, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		WriteInternalError(w, fallback)
	}
}
