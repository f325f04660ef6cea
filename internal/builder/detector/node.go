// Package detector inspects extracted Node.js projects.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFile marks a project root.
const ManifestFile = "package.json"

// MaxRootDepth is how many directory levels below the extraction root are searched.
const MaxRootDepth = 2

// PackageJSON represents the parts of a package.json the builder reads.
type PackageJSON struct {
	Name    string            `json:"name"`
	Scripts map[string]string `json:"scripts"`
}

// HasBuildScript reports whether the manifest defines a non-empty "build" script.
func (p *PackageJSON) HasBuildScript() bool {
	return strings.TrimSpace(p.Scripts["build"]) != ""
}

// PackageManager is the tool used to install and build a project.
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
)

// Plan holds the install and build commands for a project.
type Plan struct {
	Manager PackageManager
	// Lockfile is empty when no lockfile was found.
	Lockfile string
	Install  []string
	Build    []string
}

// skipDirs are never searched for a project root.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__MACOSX":     true,
}

// FindProjectRoot returns the shallowest directory under dir, at most
// maxDepth levels down, that contains a package.json. Siblings are visited in
// name order so the result is deterministic.
func FindProjectRoot(dir string, maxDepth int) (string, error) {
	level := []string{dir}
	for depth := 0; depth <= maxDepth; depth++ {
		var next []string
		for _, d := range level {
			if info, err := os.Stat(filepath.Join(d, ManifestFile)); err == nil && info.Mode().IsRegular() {
				return d, nil
			}
			entries, err := os.ReadDir(d)
			if err != nil {
				continue
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() && !skipDirs[e.Name()] && !strings.HasPrefix(e.Name(), ".") {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, n := range names {
				next = append(next, filepath.Join(d, n))
			}
		}
		level = next
	}
	return "", fmt.Errorf("%w within %d levels of %s", ErrNoProjectRoot, maxDepth, filepath.Base(dir))
}

// ParsePackageJSON reads the package.json in root.
func ParsePackageJSON(root string) (*PackageJSON, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, err
	}
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackageJSON, err)
	}
	return &pkg, nil
}

// DetectPlan picks commands from the lockfile present in root.
// A matching lockfile selects the frozen install of that tool; without one
// the project falls back to a plain npm install.
func DetectPlan(root string) Plan {
	switch {
	case fileExists(filepath.Join(root, "pnpm-lock.yaml")):
		return Plan{
			Manager:  PackageManagerPNPM,
			Lockfile: "pnpm-lock.yaml",
			Install:  []string{"pnpm", "install", "--frozen-lockfile"},
			Build:    []string{"pnpm", "run", "build"},
		}
	case fileExists(filepath.Join(root, "yarn.lock")):
		return Plan{
			Manager:  PackageManagerYarn,
			Lockfile: "yarn.lock",
			Install:  []string{"yarn", "install", "--frozen-lockfile"},
			Build:    []string{"yarn", "run", "build"},
		}
	case fileExists(filepath.Join(root, "package-lock.json")):
		return Plan{
			Manager:  PackageManagerNPM,
			Lockfile: "package-lock.json",
			Install:  []string{"npm", "ci"},
			Build:    []string{"npm", "run", "build"},
		}
	}
	return Plan{
		Manager: PackageManagerNPM,
		Install: []string{"npm", "install"},
		Build:   []string{"npm", "run", "build"},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
