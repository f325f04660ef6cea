// Package templates manages the template directory and its metadata side-table.
package templates

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/narvanalabs/sitekiln/internal/models"
	"gopkg.in/yaml.v3"
)

// Template store errors.
var (
	// ErrInvalidName is returned for empty names or names with path components.
	ErrInvalidName = errors.New("invalid template name")
	// ErrDuplicateName is returned when a template of either kind already uses the name.
	ErrDuplicateName = errors.New("template name already in use")
	// ErrNotFound is returned when the template does not exist.
	ErrNotFound = errors.New("template not found")
)

// MetadataFile is the side-table stored next to the uploaded archives.
const MetadataFile = ".templates.yaml"

type metadata struct {
	Templates map[string]models.Template `yaml:"templates"`
}

// Store keeps uploaded archives in a directory and records descriptions and
// GitHub-backed templates in a YAML side-table in the same directory.
//
// Mutations hold a process-wide lock. Rename moves the file before rewriting
// the side-table, so a crash in between leaves the description under the old
// name; List still shows the file because archives are discovered on disk.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates the directory if needed and returns a store rooted at it.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating templates directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the templates directory.
func (s *Store) Dir() string {
	return s.dir
}

// ValidateName rejects names that could escape the templates directory or
// collide with the store's own dot files.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "",
		strings.HasPrefix(name, "."),
		strings.Contains(name, ".."),
		strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Register adds a template. Archives require body, which is written into the
// templates directory under name. GitHub templates exist only as metadata.
func (s *Store) Register(t models.Template, body io.Reader) (*models.Template, error) {
	if err := ValidateName(t.Name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.readMetadata()
	if s.exists(meta, t.Name) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, t.Name)
	}

	switch t.Kind {
	case models.TemplateKindArchive:
		if body == nil {
			return nil, errors.New("archive template requires a body")
		}
		if err := s.writeArchive(t.Name, body); err != nil {
			return nil, err
		}
	case models.TemplateKindGitHub:
		if t.Repo == "" || strings.Count(t.Repo, "/") != 1 {
			return nil, fmt.Errorf("%w: repo must be owner/name", ErrInvalidName)
		}
	default:
		return nil, fmt.Errorf("unknown template kind %q", t.Kind)
	}

	stored := t
	stored.Size, stored.ModifiedAt = 0, nil
	meta.Templates[t.Name] = stored
	if err := s.writeMetadata(meta); err != nil {
		if t.Kind == models.TemplateKindArchive {
			os.Remove(s.path(t.Name))
		}
		return nil, err
	}

	s.logger.Info("registered template", "name", t.Name, "kind", t.Kind)
	return s.describe(meta, t.Name)
}

// List returns uploaded archives and GitHub templates sorted by name.
// Size and modification time of archives are read from disk on every call.
func (s *Store) List() ([]*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.readMetadata()
	byName := make(map[string]*models.Template)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading templates directory: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		t, err := s.describe(meta, e.Name())
		if err != nil {
			continue
		}
		byName[t.Name] = t
	}

	for name, t := range meta.Templates {
		if t.Kind != models.TemplateKindGitHub {
			continue
		}
		if _, ok := byName[name]; ok {
			continue
		}
		entry := t
		entry.Name = name
		byName[name] = &entry
	}

	out := make([]*models.Template, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve returns the template with the given name and, for archives, the
// absolute path of the archive on disk.
func (s *Store) Resolve(name string) (*models.Template, string, error) {
	if err := ValidateName(name); err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.describe(s.readMetadata(), name)
	if err != nil {
		return nil, "", err
	}
	if t.Kind == models.TemplateKindArchive {
		return t, s.path(name), nil
	}
	return t, "", nil
}

// Rename moves an uploaded archive and its metadata to newName.
// Renaming a template to its own name is a no-op.
func (s *Store) Rename(oldName, newName string) error {
	if err := ValidateName(oldName); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if err := ValidateName(newName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fileExists(oldName) {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}

	meta := s.readMetadata()
	if s.exists(meta, newName) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, newName)
	}

	if err := os.Rename(s.path(oldName), s.path(newName)); err != nil {
		return fmt.Errorf("renaming template file: %w", err)
	}

	entry, ok := meta.Templates[oldName]
	if !ok {
		entry = models.Template{Kind: models.TemplateKindArchive}
	}
	delete(meta.Templates, oldName)
	meta.Templates[newName] = entry
	if err := s.writeMetadata(meta); err != nil {
		return err
	}

	s.logger.Info("renamed template", "from", oldName, "to", newName)
	return nil
}

// Delete removes a template's file and metadata.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.readMetadata()
	_, hasMeta := meta.Templates[name]
	hasFile := s.fileExists(name)
	if !hasMeta && !hasFile {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if hasFile {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing template file: %w", err)
		}
	}
	if hasMeta {
		delete(meta.Templates, name)
		if err := s.writeMetadata(meta); err != nil {
			return err
		}
	}

	s.logger.Info("deleted template", "name", name)
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) fileExists(name string) bool {
	info, err := os.Stat(s.path(name))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) exists(meta metadata, name string) bool {
	if s.fileExists(name) {
		return true
	}
	t, ok := meta.Templates[name]
	return ok && t.Kind == models.TemplateKindGitHub
}

// describe builds the view of one template; archives need the file on disk.
func (s *Store) describe(meta metadata, name string) (*models.Template, error) {
	entry, hasMeta := meta.Templates[name]

	info, err := os.Stat(s.path(name))
	if err == nil && info.Mode().IsRegular() {
		mod := info.ModTime().UTC()
		return &models.Template{
			Name:        name,
			Kind:        models.TemplateKindArchive,
			Description: entry.Description,
			Size:        info.Size(),
			ModifiedAt:  &mod,
		}, nil
	}

	if hasMeta && entry.Kind == models.TemplateKindGitHub {
		entry.Name = name
		return &entry, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *Store) writeArchive(name string, body io.Reader) error {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("storing upload: %w", err)
	}
	return nil
}

// readMetadata treats a missing or unreadable side-table as empty.
func (s *Store) readMetadata() metadata {
	meta := metadata{Templates: map[string]models.Template{}}

	data, err := os.ReadFile(s.path(MetadataFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading template metadata", "error", err)
		}
		return meta
	}

	var parsed metadata
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		s.logger.Warn("template metadata is corrupt, treating as empty", "error", err)
		return meta
	}
	for name, t := range parsed.Templates {
		meta.Templates[name] = t
	}
	return meta
}

// writeMetadata replaces the side-table atomically.
func (s *Store) writeMetadata(meta metadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding template metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".templates-*.tmp")
	if err != nil {
		return fmt.Errorf("creating metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metadata file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(MetadataFile)); err != nil {
		return fmt.Errorf("replacing metadata file: %w", err)
	}
	return nil
}
