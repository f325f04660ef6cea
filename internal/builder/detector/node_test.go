package detector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindProjectRoot(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    string
		wantErr bool
	}{
		{name: "at root", files: []string{"package.json"}, want: "."},
		{name: "one level", files: []string{"site/package.json"}, want: "site"},
		{name: "two levels", files: []string{"wrap/site/package.json"}, want: "wrap/site"},
		{name: "too deep", files: []string{"a/b/c/package.json"}, wantErr: true},
		{name: "shallowest wins", files: []string{"a/b/package.json", "z/package.json"}, want: "z"},
		{name: "name order among siblings", files: []string{"b/package.json", "a/package.json"}, want: "a"},
		{name: "ignores node_modules", files: []string{"node_modules/pkg/package.json"}, wantErr: true},
		{name: "ignores macos metadata", files: []string{"__MACOSX/site/package.json"}, wantErr: true},
		{name: "empty", files: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(dir, f))
			}

			got, err := FindProjectRoot(dir, MaxRootDepth)
			if tt.wantErr {
				if !errors.Is(err, ErrNoProjectRoot) {
					t.Fatalf("FindProjectRoot() error = %v, want ErrNoProjectRoot", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindProjectRoot() error = %v", err)
			}
			if want := filepath.Join(dir, tt.want); got != want {
				t.Errorf("FindProjectRoot() = %s, want %s", got, want)
			}
		})
	}
}

func TestDetectPlan(t *testing.T) {
	tests := []struct {
		lockfiles []string
		manager   PackageManager
		install   string
	}{
		{[]string{"pnpm-lock.yaml"}, PackageManagerPNPM, "pnpm install --frozen-lockfile"},
		{[]string{"yarn.lock"}, PackageManagerYarn, "yarn install --frozen-lockfile"},
		{[]string{"package-lock.json"}, PackageManagerNPM, "npm ci"},
		{nil, PackageManagerNPM, "npm install"},
		{[]string{"yarn.lock", "package-lock.json"}, PackageManagerYarn, "yarn install --frozen-lockfile"},
	}

	for _, tt := range tests {
		dir := t.TempDir()
		for _, f := range tt.lockfiles {
			touch(t, filepath.Join(dir, f))
		}
		plan := DetectPlan(dir)
		if plan.Manager != tt.manager {
			t.Errorf("lockfiles %v: manager = %s, want %s", tt.lockfiles, plan.Manager, tt.manager)
		}
		if got := join(plan.Install); got != tt.install {
			t.Errorf("lockfiles %v: install = %q, want %q", tt.lockfiles, got, tt.install)
		}
		if got, want := join(plan.Build), string(tt.manager)+" run build"; got != want {
			t.Errorf("lockfiles %v: build = %q, want %q", tt.lockfiles, got, want)
		}
	}
}

func join(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func TestParsePackageJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"site","scripts":{"build":"vite build"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	pkg, err := ParsePackageJSON(dir)
	if err != nil {
		t.Fatalf("ParsePackageJSON() error = %v", err)
	}
	if pkg.Scripts["build"] != "vite build" {
		t.Errorf("build script = %q", pkg.Scripts["build"])
	}
	if !pkg.HasBuildScript() {
		t.Error("HasBuildScript() = false, want true")
	}
	if (&PackageJSON{Scripts: map[string]string{"build": "  "}}).HasBuildScript() {
		t.Error("HasBuildScript() = true for a blank script")
	}
	if (&PackageJSON{}).HasBuildScript() {
		t.Error("HasBuildScript() = true without scripts")
	}

	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParsePackageJSON(dir); !errors.Is(err, ErrInvalidPackageJSON) {
		t.Errorf("ParsePackageJSON() error = %v, want ErrInvalidPackageJSON", err)
	}
}
