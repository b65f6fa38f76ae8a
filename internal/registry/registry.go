package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Source is one watched GFX PC directory.
type Source struct {
	ID      string `yaml:"id"`
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// Registry holds the set of watched sources, loaded from a YAML file.
// Reload picks up edits to the file without restarting the agent.
type Registry struct {
	path     string
	basePath string

	mu         sync.RWMutex
	sources    []Source
	lastLoaded time.Time
	fileMtime  time.Time
}

// Load reads the registry file at path. Relative source paths are resolved
// against basePath.
func Load(path, basePath string) (*Registry, error) {
	r := &Registry{
		path:     path,
		basePath: basePath,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("stat registry file: %w", err)
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry file: %w", err)
	}

	var parsed registryFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse registry file %s: %w", r.path, err)
	}

	seen := make(map[string]bool, len(parsed.Sources))
	sources := make([]Source, 0, len(parsed.Sources))
	for _, src := range parsed.Sources {
		if src.ID == "" {
			return fmt.Errorf("registry file %s: source with empty id", r.path)
		}
		if seen[src.ID] {
			return fmt.Errorf("registry file %s: duplicate source id %q", r.path, src.ID)
		}
		seen[src.ID] = true

		if !filepath.IsAbs(src.Path) {
			src.Path = filepath.Join(r.basePath, src.Path)
		}
		sources = append(sources, src)
	}

	r.mu.Lock()
	r.sources = sources
	r.lastLoaded = time.Now()
	r.fileMtime = info.ModTime()
	r.mu.Unlock()

	log.Info().
		Str("path", r.path).
		Int("sources", len(sources)).
		Int("enabled", len(r.Enabled())).
		Msg("Source registry loaded")

	return nil
}

// Reload re-reads the registry file if its mtime changed since the last
// load. Returns true when a reload actually happened. A broken edit keeps
// the previous source set in effect.
func (r *Registry) Reload() (bool, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return false, fmt.Errorf("stat registry file: %w", err)
	}

	r.mu.RLock()
	unchanged := info.ModTime().Equal(r.fileMtime)
	r.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	if err := r.load(); err != nil {
		return false, err
	}
	return true, nil
}

// Enabled returns the enabled sources.
func (r *Registry) Enabled() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// All returns every registered source, enabled or not.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}
