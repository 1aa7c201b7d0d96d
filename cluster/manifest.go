package cluster

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file that marks a hull cache directory as complete.
const ManifestName = "manifest.yaml"

// ErrCacheMissing means the directory holds no complete hull cache.
var ErrCacheMissing = errors.New("hull cache missing")

// Manifest describes one generate run.
type Manifest struct {
	Generation string          `yaml:"generation"`
	Created    time.Time       `yaml:"created"`
	Source     string          `yaml:"source,omitempty"`
	Axis       string          `yaml:"axis"`
	Compressed bool            `yaml:"compressed"`
	Skipped    int             `yaml:"skipped"`
	Entries    []ManifestEntry `yaml:"entries"`
}

// ManifestEntry locates the hull of one cluster.
type ManifestEntry struct {
	Depth    int     `yaml:"depth"`
	ID       int     `yaml:"id"`
	File     string  `yaml:"file"`
	OBJ      string  `yaml:"obj,omitempty"`
	Vertices int     `yaml:"vertices"`
	Faces    int     `yaml:"faces"`
	Volume   float64 `yaml:"volume"`
}

// HullFileName is the cache file name for a cluster.
func HullFileName(depth, id int, compressed bool) string {
	if compressed {
		return fmt.Sprintf("cluster_%d_%d.hull.zst", depth, id)
	}
	return fmt.Sprintf("cluster_%d_%d.hull", depth, id)
}

// OBJFileName is the name of the optional OBJ export.
func OBJFileName(depth, id int) string {
	return fmt.Sprintf("cluster_%d_%d.obj", depth, id)
}

// ReadManifest loads the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMissing, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Write stores the manifest in dir. The file appears atomically.
func (m *Manifest) Write(dir string) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func removeManifest(dir string) error {
	err := os.Remove(filepath.Join(dir, ManifestName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale manifest: %w", err)
	}
	return nil
}
