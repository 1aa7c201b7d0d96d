package scene

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/animation"
	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/paper"
	"web/papercloud/render"
)

func load(t *testing.T, n int) (*paper.Store, *cluster.Index) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, paper.WriteSynthetic(&buf, n, paper.DefaultSyntheticOptions()))
	store := paper.NewStore(paper.WithEncoding(unicode.UTF8))
	got, err := store.LoadReader(&buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
	return store, cluster.Build(store.Papers(), cluster.DefaultOptions())
}

type spyRenderer struct {
	uploadErr error
	drawErr   error
	uploads   int
	draws     int
	releases  int
}

func (r *spyRenderer) Upload([]float32) error {
	r.uploads++
	return r.uploadErr
}

func (r *spyRenderer) Draw(render.FramePlan, render.MeshSource) error {
	r.draws++
	return r.drawErr
}

func (r *spyRenderer) Release() error {
	r.releases++
	return nil
}

func TestNewUploadsInstances(t *testing.T) {
	store, ix := load(t, 50)
	h := render.NewHeadless()
	s, err := New(store, ix, Options{Renderer: h})
	require.NoError(t, err)
	assert.Equal(t, 50, h.Instances())
	assert.Len(t, s.Instances(), 250)
	assert.Equal(t, animation.NotStarted, s.Snapshot().State)
}

func TestNewReleasesOnError(t *testing.T) {
	store, ix := load(t, 10)

	spy := &spyRenderer{uploadErr: errors.New("no device")}
	_, err := New(store, ix, Options{Renderer: spy})
	require.Error(t, err)
	assert.Equal(t, 1, spy.releases)

	spy = &spyRenderer{}
	_, err = New(nil, ix, Options{Renderer: spy})
	require.Error(t, err)
	assert.Equal(t, 1, spy.releases)
	assert.Zero(t, spy.uploads)
}

func TestFrameAdvancesAndDraws(t *testing.T) {
	store, ix := load(t, 200)
	session := config.NewSession(config.Values{Speed: 10, Depth: 2})
	h := render.NewHeadless()
	s, err := New(store, ix, Options{Renderer: h, Session: session})
	require.NoError(t, err)

	plan, err := s.Frame(0.5)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, 5.0, snap.Progress)
	assert.Equal(t, 2, plan.Depth)
	assert.NotEmpty(t, plan.Draws)
	assert.NotEmpty(t, plan.Bars)
	assert.Equal(t, 1, h.Frames())
	assert.Equal(t, plan, s.LastPlan())

	session.SetDepth(4)
	plan, err = s.Frame(0.5)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Depth)
	assert.Equal(t, 4, s.Snapshot().Depth)
	for _, d := range plan.Draws {
		_, ok := ix.Cluster(4, d.ClusterID)
		assert.True(t, ok)
	}
}

func TestFrameRunsToCompletion(t *testing.T) {
	store, ix := load(t, 100)
	session := config.NewSession(config.Values{Speed: 1000, Depth: 3, ViewMode: render.Hidden})
	s, err := New(store, ix, Options{Session: session})
	require.NoError(t, err)

	plan, err := s.Frame(1)
	require.NoError(t, err)
	assert.Empty(t, plan.Draws)
	snap := s.Snapshot()
	assert.Equal(t, animation.Complete, snap.State)
	assert.Equal(t, store.NumIncluded(), snap.IncludedSeen)
	seen := map[int]bool{}
	for i := 0; i <= store.LastIndex(); i++ {
		seen[ix.ClusterID(store.At(i), 3)] = true
	}
	assert.Len(t, snap.Passed, len(seen))

	s.Reset()
	assert.Equal(t, animation.NotStarted, s.Snapshot().State)
}

func TestFrameRewindFollowsSession(t *testing.T) {
	store, ix := load(t, 100)
	session := config.NewSession(config.Values{Speed: 20, Depth: 2})
	s, err := New(store, ix, Options{Session: session})
	require.NoError(t, err)

	_, err = s.Frame(1)
	require.NoError(t, err)
	require.NoError(t, session.SetSpeed(-10))
	_, err = s.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, s.Snapshot().Progress)

	session.SetRewind(animation.RewindReplay)
	_, err = s.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Snapshot().Progress)
}

func TestCameraOrdersDraws(t *testing.T) {
	store, ix := load(t, 100)
	camera := r3.Vec{X: 50, Y: 50, Z: 50}
	s, err := New(store, ix, Options{Camera: &camera})
	require.NoError(t, err)

	plan, err := s.Frame(0)
	require.NoError(t, err)
	for i := 1; i < len(plan.Draws); i++ {
		assert.GreaterOrEqual(t, plan.Draws[i-1].Distance, plan.Draws[i].Distance)
	}
}

func TestCloseOnce(t *testing.T) {
	store, ix := load(t, 10)
	spy := &spyRenderer{}
	s, err := New(store, ix, Options{Renderer: spy})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, spy.releases)

	_, err = s.Frame(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMetrics(t *testing.T) {
	store, ix := load(t, 40)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	spy := &spyRenderer{}
	s, err := New(store, ix, Options{Renderer: spy, Metrics: m})
	require.NoError(t, err)

	_, err = s.Frame(0.1)
	require.NoError(t, err)
	spy.drawErr = errors.New("lost context")
	_, err = s.Frame(0.1)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renderErrors))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.papers.WithLabelValues("total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.draws.WithLabelValues("current")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.frameDuration))
}
