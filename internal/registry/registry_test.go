package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRegistry(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	writeRegistry(t, path, `
sources:
  - id: GFX_PC_01
    path: GFX_PC_01
    enabled: true
  - id: GFX_PC_02
    path: /mnt/other/GFX_PC_02
    enabled: true
  - id: GFX_PC_03
    path: GFX_PC_03
    enabled: false
`)

	reg, err := Load(path, "/mnt/nas")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() = %d sources, want 3", len(all))
	}
	if all[0].Path != "/mnt/nas/GFX_PC_01" {
		t.Errorf("relative path = %q, want /mnt/nas/GFX_PC_01", all[0].Path)
	}
	if all[1].Path != "/mnt/other/GFX_PC_02" {
		t.Errorf("absolute path = %q, want unchanged", all[1].Path)
	}

	enabled := reg.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("Enabled() = %d sources, want 2", len(enabled))
	}
	for _, src := range enabled {
		if src.ID == "GFX_PC_03" {
			t.Error("Enabled() includes a disabled source")
		}
	}
}

func TestLoadRejectsDuplicateAndEmptyIDs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "duplicate id",
			content: `
sources:
  - id: GFX_PC_01
    path: a
    enabled: true
  - id: GFX_PC_01
    path: b
    enabled: true
`,
		},
		{
			name: "empty id",
			content: `
sources:
  - id: ""
    path: a
    enabled: true
`,
		},
		{
			name:    "malformed yaml",
			content: `sources: [unclosed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "registry.yaml")
			writeRegistry(t, path, tt.content)
			if _, err := Load(path, "/mnt/nas"); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	writeRegistry(t, path, `
sources:
  - id: GFX_PC_01
    path: a
    enabled: true
`)

	reg, err := Load(path, "/mnt/nas")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unchanged file: no reload.
	reloaded, err := reg.Reload()
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reloaded {
		t.Error("Reload() = true for unchanged file")
	}

	writeRegistry(t, path, `
sources:
  - id: GFX_PC_01
    path: a
    enabled: true
  - id: GFX_PC_02
    path: b
    enabled: true
`)
	newTime := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	reloaded, err = reg.Reload()
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !reloaded {
		t.Fatal("Reload() = false after file change")
	}
	if len(reg.Enabled()) != 2 {
		t.Errorf("Enabled() = %d after reload, want 2", len(reg.Enabled()))
	}
}

func TestReloadKeepsPreviousSourcesOnBrokenEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	writeRegistry(t, path, `
sources:
  - id: GFX_PC_01
    path: a
    enabled: true
`)

	reg, err := Load(path, "/mnt/nas")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	writeRegistry(t, path, `sources: [broken`)
	newTime := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, err := reg.Reload(); err == nil {
		t.Fatal("Reload() succeeded on broken file")
	}
	if len(reg.Enabled()) != 1 {
		t.Errorf("Enabled() = %d after failed reload, want previous set of 1", len(reg.Enabled()))
	}
}
