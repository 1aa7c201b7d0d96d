package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"web/papercloud/paper"
)

// GenerateOptions controls the offline hull pass.
type GenerateOptions struct {
	Compress       bool
	ExportOBJ      bool
	SkipDegenerate bool // log and skip clusters without a hull instead of failing
	Workers        int
	Source         string
	Logger         zerolog.Logger
}

type hullJob struct {
	cluster *Cluster
}

type hullResult struct {
	entry   ManifestEntry
	skipped bool
	err     error
}

// Generate builds the hull of every cluster at every depth into dir and
// writes the manifest last. On failure no manifest is left behind. The index
// must have been built with KeepVertices.
func Generate(ctx context.Context, dir string, ix *Index, opts GenerateOptions) (*Manifest, error) {
	log := opts.Logger
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := removeManifest(dir); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	jobs := make(chan hullJob)
	results := make(chan hullResult)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res := writeHull(dir, job.cluster, opts)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for depth := paper.MinDepth; depth <= paper.MaxDepth; depth++ {
			for _, c := range ix.Clusters(depth) {
				select {
				case jobs <- hullJob{cluster: c}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	m := &Manifest{
		Generation: uuid.New().String(),
		Created:    time.Now().UTC(),
		Source:     opts.Source,
		Axis:       ix.Axis().String(),
		Compressed: opts.Compress,
	}
	var firstErr error
	for res := range results {
		switch {
		case res.err != nil:
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
		case res.skipped:
			m.Skipped++
		default:
			m.Entries = append(m.Entries, res.entry)
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		log.Error().Err(firstErr).Msg("hull generation aborted, no manifest written")
		return nil, firstErr
	}

	sort.Slice(m.Entries, func(i, j int) bool {
		if m.Entries[i].Depth != m.Entries[j].Depth {
			return m.Entries[i].Depth < m.Entries[j].Depth
		}
		return m.Entries[i].ID < m.Entries[j].ID
	})
	if err := m.Write(dir); err != nil {
		return nil, err
	}
	log.Info().
		Str("generation", m.Generation).
		Int("hulls", len(m.Entries)).
		Int("skipped", m.Skipped).
		Dur("took", time.Since(start)).
		Msg("Hull cache written")
	return m, nil
}

func writeHull(dir string, c *Cluster, opts GenerateOptions) hullResult {
	mesh, err := BuildHull(c)
	if err != nil {
		var herr *HullError
		if opts.SkipDegenerate && errors.As(err, &herr) {
			opts.Logger.Warn().Err(err).Int("depth", c.Depth).Int("cluster", c.ID).Msg("Skipping cluster without hull")
			return hullResult{skipped: true}
		}
		return hullResult{err: err}
	}

	h := Hull{Depth: c.Depth, ID: c.ID, Mesh: mesh}
	name := HullFileName(c.Depth, c.ID, opts.Compress)
	path := filepath.Join(dir, name)
	if opts.Compress {
		err = SaveCompressed(path, h)
	} else {
		err = SaveMMap(path, h)
	}
	if err != nil {
		return hullResult{err: fmt.Errorf("failed to save hull %s: %w", name, err)}
	}

	entry := ManifestEntry{
		Depth:    c.Depth,
		ID:       c.ID,
		File:     name,
		Vertices: len(mesh.Vertices),
		Faces:    len(mesh.Faces),
		Volume:   mesh.Volume(),
	}
	if opts.ExportOBJ {
		entry.OBJ = OBJFileName(c.Depth, c.ID)
		if err := writeOBJ(filepath.Join(dir, entry.OBJ), c, mesh); err != nil {
			return hullResult{err: err}
		}
	}
	return hullResult{entry: entry}
}

func writeOBJ(path string, c *Cluster, mesh *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create obj: %w", err)
	}
	defer f.Close()
	if err := mesh.WriteOBJ(f, fmt.Sprintf("cluster_%d_%d", c.Depth, c.ID)); err != nil {
		return err
	}
	return f.Close()
}

type hullKey struct{ depth, id int }

// Cache serves hull meshes from a generated directory, loading each file on
// first use. It is safe for concurrent use.
type Cache struct {
	dir      string
	manifest Manifest
	entries  map[hullKey]ManifestEntry
	log      zerolog.Logger

	mu     sync.Mutex
	meshes map[hullKey]*Mesh
}

// OpenCache reads the manifest in dir. Without one it returns an error
// wrapping ErrCacheMissing.
func OpenCache(dir string, log zerolog.Logger) (*Cache, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		dir:      dir,
		manifest: *m,
		entries:  make(map[hullKey]ManifestEntry, len(m.Entries)),
		meshes:   make(map[hullKey]*Mesh),
		log:      log,
	}
	for _, e := range m.Entries {
		c.entries[hullKey{e.Depth, e.ID}] = e
	}
	log.Info().
		Str("dir", dir).
		Str("generation", m.Generation).
		Int("hulls", len(m.Entries)).
		Msg("Opened hull cache")
	return c, nil
}

// Manifest returns the manifest the cache was opened with.
func (c *Cache) Manifest() Manifest { return c.manifest }

// Mesh returns the hull of a cluster. A cluster without a usable hull
// reports false; a file that fails to load is logged once and not retried.
func (c *Cache) Mesh(depth, id int) (*Mesh, bool) {
	k := hullKey{depth, id}
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, loaded := c.meshes[k]; loaded {
		return m, m != nil
	}

	path := filepath.Join(c.dir, e.File)
	var (
		h   Hull
		err error
	)
	if c.manifest.Compressed {
		h, err = LoadCompressed(path)
	} else {
		h, err = LoadMMap(path)
	}
	if err == nil && (h.Depth != depth || h.ID != id) {
		err = fmt.Errorf("%w: %s holds cluster %d at depth %d", errHullFormat, e.File, h.ID, h.Depth)
	}
	if err != nil {
		c.log.Warn().Err(err).Int("depth", depth).Int("cluster", id).Msg("Dropping unreadable hull")
		c.meshes[k] = nil
		return nil, false
	}
	c.meshes[k] = h.Mesh
	return h.Mesh, true
}

// Len is the number of hulls listed in the manifest.
func (c *Cache) Len() int { return len(c.entries) }
