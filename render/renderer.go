package render

import (
	"errors"
	"sync"

	"web/papercloud/cluster"
)

// ErrReleased is returned by a renderer used after Release.
var ErrReleased = errors.New("renderer released")

// MeshSource resolves cached hull geometry. A missing mesh means the
// cluster is drawn from its centroid only.
type MeshSource interface {
	Mesh(depth, id int) (*cluster.Mesh, bool)
}

// Renderer draws frame plans. Upload receives the point instances once,
// five floats per paper.
type Renderer interface {
	Upload(instances []float32) error
	Draw(plan FramePlan, meshes MeshSource) error
	Release() error
}

// NoMeshes is a MeshSource without any hull.
type NoMeshes struct{}

func (NoMeshes) Mesh(int, int) (*cluster.Mesh, bool) { return nil, false }

// Headless records what it is asked to draw.
type Headless struct {
	mu        sync.Mutex
	instances int
	frames    int
	meshHits  int
	last      FramePlan
	released  bool
}

// NewHeadless returns an empty recorder.
func NewHeadless() *Headless { return &Headless{} }

func (h *Headless) Upload(instances []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.instances = len(instances) / 5
	return nil
}

func (h *Headless) Draw(plan FramePlan, meshes MeshSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	for _, d := range plan.Draws {
		if _, ok := meshes.Mesh(d.Depth, d.ClusterID); ok {
			h.meshHits++
		}
	}
	h.frames++
	h.last = plan
	return nil
}

func (h *Headless) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}

// Instances is the number of uploaded points.
func (h *Headless) Instances() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instances
}

// Frames is the number of drawn frames.
func (h *Headless) Frames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// MeshHits counts draws that found a cached hull.
func (h *Headless) MeshHits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meshHits
}

// Last returns the most recent plan.
func (h *Headless) Last() FramePlan {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Released reports whether Release was called.
func (h *Headless) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
