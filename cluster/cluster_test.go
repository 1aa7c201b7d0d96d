package cluster

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/paper"
)

func makePaper(index int, pos r3.Vec, ids [paper.NumDepths]int, label string) paper.Paper {
	p := paper.Paper{Index: index, Pos3D: pos}
	p.Planar.IDs = ids
	p.Spatial.IDs = ids
	for d := range ids {
		p.Planar.Labels[d] = label
		p.Spatial.Labels[d] = strings.ToUpper(label)
	}
	return p
}

func triangleFixture() []paper.Paper {
	same := [paper.NumDepths]int{7, 7, 7, 7, 7}
	return []paper.Paper{
		makePaper(0, r3.Vec{X: 0, Y: 0, Z: 0}, same, "first"),
		makePaper(1, r3.Vec{X: 3, Y: 0, Z: 0}, same, "second"),
		makePaper(2, r3.Vec{X: 0, Y: 3, Z: 0}, same, "third"),
	}
}

func TestCentroid(t *testing.T) {
	ix := Build(triangleFixture(), DefaultOptions())

	for depth := paper.MinDepth; depth <= paper.MaxDepth; depth++ {
		c, ok := ix.Cluster(depth, 7)
		require.True(t, ok)
		if c.Centroid != (r3.Vec{X: 1, Y: 1, Z: 0}) {
			t.Errorf("depth %d: expected centroid (1,1,0), got %v", depth, c.Centroid)
		}
		assert.Equal(t, 3, c.Count)
		assert.Equal(t, "first", c.Label)
		assert.Len(t, c.Vertices, 3)
		assert.Equal(t, r3.Vec{X: 0, Y: 0, Z: 0}, c.Bounds.Min)
		assert.Equal(t, r3.Vec{X: 3, Y: 3, Z: 0}, c.Bounds.Max)
	}
}

func TestBuildIdempotent(t *testing.T) {
	rows := paper.GenerateRows(500, paper.DefaultSyntheticOptions())
	papers := make([]paper.Paper, len(rows))
	for i, row := range rows {
		p, err := paper.ParseRecord(row, i)
		require.NoError(t, err)
		papers[i] = p
	}

	a := Build(papers, DefaultOptions())
	b := Build(papers, DefaultOptions())
	for depth := paper.MinDepth; depth <= paper.MaxDepth; depth++ {
		assert.Equal(t, a.Clusters(depth), b.Clusters(depth), "depth %d", depth)
	}

	total := 0
	for _, c := range a.Clusters(2) {
		total += c.Count
	}
	assert.Equal(t, len(papers), total)
}

func TestAxisSelectsHierarchy(t *testing.T) {
	papers := triangleFixture()
	papers[2].Spatial.IDs = [paper.NumDepths]int{9, 9, 9, 9, 9}

	planar := Build(papers, DefaultOptions())
	assert.Equal(t, 1, planar.Len(4))
	assert.Equal(t, paper.Planar, planar.Axis())

	spatial := Build(papers, Options{Axis: paper.Spatial})
	assert.Equal(t, 2, spatial.Len(4))
	assert.Equal(t, 9, spatial.ClusterID(papers[2], 4))
	assert.Equal(t, "THIRD", spatial.ClusterLabel(papers[2], 4))
	c, ok := spatial.Cluster(4, 7)
	require.True(t, ok)
	assert.Equal(t, "FIRST", c.Label)
	assert.Empty(t, c.Vertices)
}

func TestClusterLookup(t *testing.T) {
	ix := Build(triangleFixture(), DefaultOptions())

	_, ok := ix.Cluster(3, 8)
	assert.False(t, ok)

	// Out of range depths clamp to the nearest level.
	c, ok := ix.Cluster(-1, 7)
	require.True(t, ok)
	assert.Equal(t, 2, c.Depth)
	c, ok = ix.Cluster(99, 7)
	require.True(t, ok)
	assert.Equal(t, 6, c.Depth)

	assert.Empty(t, Build(nil, DefaultOptions()).Clusters(2))
}

func TestClustersSortedByID(t *testing.T) {
	var papers []paper.Paper
	for i, id := range []int{5, -1, 3, 5, 0} {
		papers = append(papers, makePaper(i, r3.Vec{X: float64(i)}, [paper.NumDepths]int{id, id, id, id, id}, "x"))
	}
	ix := Build(papers, DefaultOptions())
	var ids []int
	for _, c := range ix.Clusters(3) {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int{-1, 0, 3, 5}, ids)

	ix.DropVertices()
	c, _ := ix.Cluster(3, 5)
	assert.Nil(t, c.Vertices)
	assert.Equal(t, 2, c.Count)
}

func cube() []r3.Vec {
	var pts []r3.Vec
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				pts = append(pts, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

func TestConvexHullCube(t *testing.T) {
	pts := cube()
	// Interior and face points must not become hull vertices.
	pts = append(pts, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 0.2, Y: 0.7, Z: 0.1}, r3.Vec{X: 0.5, Y: 0.5, Z: 1})

	m, err := ConvexHull(pts)
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 8)
	assert.Len(t, m.Faces, 12)
	assert.InDelta(t, 1.0, m.Volume(), 1e-9)
	assert.InDelta(t, 6.0, m.Area(), 1e-9)
	assertClosed(t, m)
}

func TestConvexHullSphere(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pts := make([]r3.Vec, 2000)
	for i := range pts {
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		pts[i] = r3.Scale(1/r3.Norm(v), v)
	}
	m, err := ConvexHull(pts)
	require.NoError(t, err)
	assertClosed(t, m)
	// Euler: V - E + F = 2 with E = 3F/2.
	assert.Equal(t, 2, len(m.Vertices)-3*len(m.Faces)/2+len(m.Faces))
	assert.InDelta(t, 4*math.Pi/3, m.Volume(), 0.1)

	// Every input point lies inside or on the hull.
	for _, p := range pts {
		for _, f := range m.Faces {
			a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
			n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
			if d := r3.Dot(n, r3.Sub(p, a)); d > 1e-9 {
				t.Fatalf("point %v outside face %v by %g", p, f, d)
			}
		}
	}
}

// assertClosed checks that every directed edge has exactly one opposite.
func assertClosed(t *testing.T, m *Mesh) {
	t.Helper()
	edges := make(map[[2]uint32]int)
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			edges[[2]uint32{f[k], f[(k+1)%3]}]++
		}
	}
	for e, n := range edges {
		assert.Equal(t, 1, n, "edge %v repeated", e)
		assert.Equal(t, 1, edges[[2]uint32{e[1], e[0]}], "edge %v has no twin", e)
	}
	assert.Greater(t, m.Volume(), 0.0)
}

func TestConvexHullDegenerate(t *testing.T) {
	cases := map[string][]r3.Vec{
		"too few":   {{X: 0}, {X: 1}, {Y: 1}},
		"single":    {{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}},
		"collinear": {{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}},
		"coplanar":  {{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 0.3}},
	}
	for name, pts := range cases {
		_, err := ConvexHull(pts)
		assert.ErrorIs(t, err, ErrHullConstruction, name)
	}

	_, err := BuildHull(&Cluster{Depth: 3, ID: 12, Vertices: cases["coplanar"]})
	var herr *HullError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 3, herr.Depth)
	assert.Equal(t, 12, herr.ID)
	assert.ErrorIs(t, err, ErrHullConstruction)
}

func TestHullStorageRoundTrip(t *testing.T) {
	m, err := ConvexHull(cube())
	require.NoError(t, err)
	h := Hull{Depth: 4, ID: -3, Mesh: m}
	dir := t.TempDir()

	zst := filepath.Join(dir, HullFileName(4, -3, true))
	require.NoError(t, SaveCompressed(zst, h))
	got, err := LoadCompressed(zst)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	raw := filepath.Join(dir, HullFileName(4, -3, false))
	require.NoError(t, SaveMMap(raw, h))
	got, err = LoadMMap(raw)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	info, err := os.Stat(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(hullHeaderSize+8*vertexSize+12*faceSize), info.Size())
}

func TestLoadMMapRejectsTruncated(t *testing.T) {
	m, err := ConvexHull(cube())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "c.hull")
	require.NoError(t, SaveMMap(path, Hull{Depth: 2, ID: 1, Mesh: m}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b[:len(b)-5], 0644))
	_, err = LoadMMap(path)
	assert.ErrorIs(t, err, errHullFormat)

	b[0] = 'X'
	require.NoError(t, os.WriteFile(path, b, 0644))
	_, err = LoadMMap(path)
	assert.ErrorIs(t, err, errHullFormat)
}

func blobs(t *testing.T) *Index {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var papers []paper.Paper
	for id := 0; id < 3; id++ {
		center := r3.Vec{X: float64(id) * 10}
		for i := 0; i < 40; i++ {
			pos := r3.Add(center, r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()})
			papers = append(papers, makePaper(len(papers), pos, [paper.NumDepths]int{id, id, id, id, id}, "blob"))
		}
	}
	return Build(papers, DefaultOptions())
}

func TestGenerateAndOpenCache(t *testing.T) {
	for _, compress := range []bool{true, false} {
		dir := t.TempDir()
		ix := blobs(t)
		m, err := Generate(context.Background(), dir, ix, GenerateOptions{
			Compress:  compress,
			ExportOBJ: true,
			Workers:   2,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)
		assert.Len(t, m.Entries, 15)
		assert.NotEmpty(t, m.Generation)
		assert.Equal(t, "planar", m.Axis)
		assert.Equal(t, 2, m.Entries[0].Depth)
		assert.Equal(t, 0, m.Entries[0].ID)

		obj, err := os.ReadFile(filepath.Join(dir, OBJFileName(2, 0)))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(obj), "o cluster_2_0\nv "))

		cache, err := OpenCache(dir, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, m.Generation, cache.Manifest().Generation)
		assert.Equal(t, 15, cache.Len())

		mesh, ok := cache.Mesh(3, 1)
		require.True(t, ok)
		assertClosed(t, mesh)
		again, ok := cache.Mesh(3, 1)
		require.True(t, ok)
		assert.Same(t, mesh, again)

		_, ok = cache.Mesh(3, 99)
		assert.False(t, ok)
	}
}

func TestGenerateDegenerate(t *testing.T) {
	papers := triangleFixture()
	ix := Build(papers, DefaultOptions())
	dir := t.TempDir()

	_, err := Generate(context.Background(), dir, ix, GenerateOptions{Workers: 1, Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrHullConstruction)
	_, err = os.Stat(filepath.Join(dir, ManifestName))
	assert.True(t, os.IsNotExist(err))

	_, err = OpenCache(dir, zerolog.Nop())
	assert.ErrorIs(t, err, ErrCacheMissing)

	m, err := Generate(context.Background(), dir, ix, GenerateOptions{SkipDegenerate: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
	assert.Equal(t, 5, m.Skipped)
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	_, err := Generate(ctx, dir, blobs(t), GenerateOptions{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = ReadManifest(dir)
	assert.ErrorIs(t, err, ErrCacheMissing)
}

func TestSummarize(t *testing.T) {
	papers := []paper.Paper{
		makePaper(0, r3.Vec{}, [paper.NumDepths]int{1, 1, 1, 1, 1}, "zebra"),
		makePaper(1, r3.Vec{}, [paper.NumDepths]int{1, 1, 1, 1, 1}, "zebra"),
		makePaper(2, r3.Vec{}, [paper.NumDepths]int{1, 1, 1, 1, 1}, "zebra"),
		makePaper(3, r3.Vec{}, [paper.NumDepths]int{2, 2, 2, 2, 2}, "Äpfel"),
		makePaper(4, r3.Vec{}, [paper.NumDepths]int{3, 3, 3, 3, 3}, "apple"),
	}
	s := Summarize(Build(papers, DefaultOptions()), 2, language.German)

	assert.Equal(t, 2, s.Depth)
	assert.Equal(t, 5, s.TotalPapers)
	assert.Equal(t, 3, s.NumClusters)
	assert.Equal(t, 2, s.NumSingletons)
	assert.Equal(t, 1.0, s.Members.Min)
	assert.Equal(t, 3.0, s.Members.Max)
	assert.InDelta(t, 5.0/3, s.Members.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Members.Median)
	assert.Equal(t, []string{"Äpfel", "apple", "zebra"}, s.Labels)

	empty := Summarize(Build(nil, DefaultOptions()), 0, language.English)
	assert.Equal(t, 2, empty.Depth)
	assert.Empty(t, empty.Labels)
	assert.Zero(t, empty.NumClusters)
}
