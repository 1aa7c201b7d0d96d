// Package scene runs the per-frame loop: advance the exploration cursor,
// plan what to draw and hand the plan to a renderer.
package scene

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/animation"
	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/paper"
	"web/papercloud/render"
)

// ErrClosed is returned by Frame after Close.
var ErrClosed = errors.New("scene closed")

// Options configures a Scene. Zero fields take defaults.
type Options struct {
	Session  *config.Session
	Camera   *r3.Vec // nil means (0, 0, 3)
	Palette  *render.Palette
	Layout   *render.BarLayout
	Scale    float64 // instance scale, 1 when zero
	Renderer render.Renderer
	Meshes   render.MeshSource
	Metrics  *Metrics
	Logger   zerolog.Logger
}

// Scene owns one exploration over a loaded store and index. Frame and the
// setters must not be called concurrently.
type Scene struct {
	store    *paper.Store
	index    *cluster.Index
	driver   *animation.Driver
	session  *config.Session
	renderer render.Renderer
	meshes   render.MeshSource
	metrics  *Metrics
	log      zerolog.Logger

	camera    r3.Vec
	palette   render.Palette
	layout    render.BarLayout
	instances []float32

	fps       float64
	last      render.FramePlan
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New uploads the store's instances to the renderer. The renderer is
// released if New fails.
func New(store *paper.Store, index *cluster.Index, opts Options) (_ *Scene, err error) {
	r := opts.Renderer
	if r == nil {
		r = render.NewHeadless()
	}
	defer func() {
		if err != nil {
			if rerr := r.Release(); rerr != nil {
				opts.Logger.Warn().Err(rerr).Msg("Failed to release renderer")
			}
		}
	}()

	if store == nil || index == nil {
		return nil, errors.New("scene needs a store and an index")
	}

	s := &Scene{
		store:    store,
		index:    index,
		session:  opts.Session,
		renderer: r,
		meshes:   opts.Meshes,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		camera:   r3.Vec{Z: 3},
		palette:  render.DefaultPalette(),
		layout:   render.DefaultBarLayout(),
	}
	if s.session == nil {
		s.session = config.NewSession(config.Values{Speed: 1, Depth: paper.MinDepth})
	}
	if s.meshes == nil {
		s.meshes = render.NoMeshes{}
	}
	if opts.Camera != nil {
		s.camera = *opts.Camera
	}
	if opts.Palette != nil {
		s.palette = *opts.Palette
	}
	if opts.Layout != nil {
		s.layout = *opts.Layout
	}

	vals := s.session.Load()
	s.driver = animation.New(store, index, vals.Depth,
		animation.WithRewind(vals.Rewind),
		animation.WithLogger(s.log),
	)

	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	s.instances = store.Vertices(scale)
	if err := r.Upload(s.instances); err != nil {
		return nil, fmt.Errorf("failed to upload instances: %w", err)
	}
	s.metrics.observeLoad(store.Len(), store.NumIncluded())

	s.log.Info().
		Int("papers", store.Len()).
		Int("included", store.NumIncluded()).
		Int("clusters", index.Len(vals.Depth)).
		Str("instances", render.FormatBytes(store.VerticesSize())).
		Msg("Scene ready")
	return s, nil
}

// Frame advances the cursor by elapsed seconds at the session speed, plans
// the frame and draws it.
func (s *Scene) Frame(elapsed float64) (render.FramePlan, error) {
	if s.closed.Load() {
		return render.FramePlan{}, ErrClosed
	}
	start := time.Now()

	vals := s.session.Load()
	s.driver.SetRewind(vals.Rewind)
	s.driver.SetDepth(vals.Depth)
	s.driver.Tick(vals.Speed, elapsed)

	if elapsed > 0 {
		fps := 1 / elapsed
		if s.fps == 0 {
			s.fps = fps
		} else {
			s.fps = 0.9*s.fps + 0.1*fps
		}
	}

	snap := s.driver.Snapshot()
	plan := render.Plan(render.FrameInput{
		Snapshot: snap,
		Clusters: s.index,
		Camera:   s.camera,
		Mode:     vals.ViewMode,
		Palette:  s.palette,
		Layout:   s.layout,
		Stats:    s.stats(),
	})

	err := s.renderer.Draw(plan, s.meshes)
	s.metrics.observeFrame(&snap, &plan, time.Since(start), err)
	s.last = plan
	if err != nil {
		return plan, fmt.Errorf("failed to draw frame: %w", err)
	}
	return plan, nil
}

func (s *Scene) stats() render.Stats {
	return render.Stats{
		NumPapers:    s.store.Len(),
		NumIncluded:  s.store.NumIncluded(),
		StoreBytes:   s.store.Size(),
		VertexBytes:  s.store.VerticesSize(),
		FramesPerSec: s.fps,
	}
}

// Reset rewinds the exploration to NotStarted.
func (s *Scene) Reset() {
	s.driver.Reset()
	s.log.Info().Msg("Exploration reset")
}

// Snapshot copies the driver state.
func (s *Scene) Snapshot() animation.Snapshot { return s.driver.Snapshot() }

// LastPlan is the plan of the most recent frame.
func (s *Scene) LastPlan() render.FramePlan { return s.last }

// Instances is the uploaded point buffer, five floats per paper.
func (s *Scene) Instances() []float32 { return s.instances }

func (s *Scene) Session() *config.Session { return s.session }
func (s *Scene) Index() *cluster.Index { return s.index }
func (s *Scene) Store() *paper.Store { return s.store }

// Close releases the renderer. Later calls return the first result.
func (s *Scene) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.renderer.Release()
	})
	return s.closeErr
}
