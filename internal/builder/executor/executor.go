// Package executor turns a template archive and an env payload into a
// packaged build artifact by running the project's own package manager.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/narvanalabs/sitekiln/internal/builder/detector"
	"github.com/narvanalabs/sitekiln/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOutputDirs are checked in order after the build.
var DefaultOutputDirs = []string{"dist", "build", "out", ".output/public"}

// ScratchPrefix names per-build extraction directories under the work dir.
const ScratchPrefix = "build-"

// TemplateResolver looks up templates by name.
type TemplateResolver interface {
	Resolve(name string) (*models.Template, string, error)
}

// Config holds executor configuration.
type Config struct {
	// WorkDir holds per-build scratch directories.
	WorkDir string
	// BuildsDir receives packaged artifacts.
	BuildsDir string
	// CommandTimeout bounds each install and build subprocess.
	CommandTimeout time.Duration
	// OutputDirs overrides DefaultOutputDirs.
	OutputDirs []string
	// Stdout and Stderr receive subprocess output. They default to the
	// process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkDir:        filepath.Join(os.TempDir(), "sitekiln-work"),
		BuildsDir:      "builds",
		CommandTimeout: 10 * time.Minute,
		OutputDirs:     DefaultOutputDirs,
	}
}

// Request describes one build.
type Request struct {
	JobID        string
	TemplateName string
	EnvPayload   string
}

// Result describes a packaged artifact.
type Result struct {
	ArtifactPath string
	Filename     string
	Manager      detector.PackageManager
	Duration     time.Duration
}

// Executor runs the build pipeline. It is safe for concurrent use as long as
// the callers use distinct job IDs.
type Executor struct {
	cfg       Config
	templates TemplateResolver
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates an executor and its working directories.
func New(cfg *Config, templates TemplateResolver, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if len(c.OutputDirs) == 0 {
		c.OutputDirs = DefaultOutputDirs
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Minute
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	for _, dir := range []string{c.WorkDir, c.BuildsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return &Executor{
		cfg:       c,
		templates: templates,
		logger:    logger,
		tracer:    otel.Tracer("github.com/narvanalabs/sitekiln/internal/builder/executor"),
		now:       time.Now,
	}, nil
}

// Execute runs the pipeline for req and returns the packaged artifact.
// The scratch directory is always removed before returning.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("template.name", req.TemplateName),
	))
	defer span.End()

	logger := e.logger.With("job_id", req.JobID, "template", req.TemplateName)

	res, err := e.execute(ctx, logger, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("build failed", "error", err)
		return nil, err
	}

	res.Duration = e.now().Sub(start)
	logger.Info("build packaged", "artifact", res.Filename, "duration", res.Duration)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, logger *slog.Logger, req Request) (*Result, error) {
	tpl, archive, err := e.templates.Resolve(req.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, req.TemplateName)
	}
	if tpl.Kind != models.TemplateKindArchive {
		return nil, fmt.Errorf("%w: %s is not an uploaded archive", ErrTemplateNotFound, req.TemplateName)
	}

	scratch, err := e.scratchDir(req.JobID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch directory", "dir", scratch, "error", err)
		}
	}()

	if err := e.step(ctx, "extract", func(context.Context) error {
		return extractZip(archive, scratch)
	}); err != nil {
		return nil, err
	}

	root, err := detector.FindProjectRoot(scratch, detector.MaxRootDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: no %s within %d levels", ErrMissingProjectRoot, detector.ManifestFile, detector.MaxRootDepth)
	}
	pkg, err := detector.ParsePackageJSON(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if !pkg.HasBuildScript() {
		return nil, fmt.Errorf("%w: no \"build\" script in %s", ErrInvalidManifest, detector.ManifestFile)
	}
	logger.Debug("located project root", "root", root, "package", pkg.Name)

	if err := os.WriteFile(filepath.Join(root, ".env"), []byte(req.EnvPayload), 0o600); err != nil {
		return nil, fmt.Errorf("writing .env: %w", err)
	}
	// Archives sometimes ship their own dependency tree.
	if err := os.RemoveAll(filepath.Join(root, "node_modules")); err != nil {
		return nil, fmt.Errorf("removing node_modules: %w", err)
	}

	plan := detector.DetectPlan(root)
	logger.Info("running build", "package_manager", plan.Manager, "lockfile", plan.Lockfile)

	if err := e.step(ctx, "install", func(ctx context.Context) error {
		return e.run(ctx, root, plan.Install, ErrInstallFailed)
	}); err != nil {
		return nil, err
	}
	if err := e.step(ctx, "build", func(ctx context.Context) error {
		return e.run(ctx, root, plan.Build, ErrBuildFailed)
	}); err != nil {
		return nil, err
	}

	output, err := e.findOutputDir(root)
	if err != nil {
		return nil, err
	}

	filename := e.artifactName(req.TemplateName)
	dest := filepath.Join(e.cfg.BuildsDir, filename)
	if err := e.step(ctx, "package", func(context.Context) error {
		return packageDir(output, dest)
	}); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return &Result{ArtifactPath: abs, Filename: filename, Manager: plan.Manager}, nil
}

// step wraps fn in a child span.
func (e *Executor) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "executor."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// run executes args in dir with the configured timeout. The returned error
// wraps kind and names the command but never includes its output.
func (e *Executor) run(ctx context.Context, dir string, args []string, kind error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = e.cfg.Stdout
	cmd.Stderr = e.cfg.Stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}

	command := strings.Join(args, " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out after %s", kind, command, e.cfg.CommandTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s exited with code %d", kind, command, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %s: %v", kind, command, err)
}

func (e *Executor) findOutputDir(root string) (string, error) {
	for _, name := range e.cfg.OutputDirs {
		dir := filepath.Join(root, filepath.FromSlash(name))
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: expected one of %s", ErrNoOutputDirectory, strings.Join(e.cfg.OutputDirs, ", "))
}

func (e *Executor) scratchDir(jobID string) (string, error) {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	dir := filepath.Join(e.cfg.WorkDir, fmt.Sprintf("%s%d-%s", ScratchPrefix, e.now().UnixNano(), short))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

// artifactName derives <stem>-<YYYYMMDD-HHMMSS>.zip from the template name,
// adding a counter if a build of the same template finished in the same second.
func (e *Executor) artifactName(templateName string) string {
	stem := strings.TrimSuffix(templateName, filepath.Ext(templateName))
	stamp := e.now().UTC().Format("20060102-150405")

	name := fmt.Sprintf("%s-%s.zip", stem, stamp)
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(e.cfg.BuildsDir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s-%s-%d.zip", stem, stamp, i)
	}
}
