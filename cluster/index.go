// Package cluster aggregates papers into the per-depth cluster hierarchy and
// owns the hull geometry built from it.
package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/paper"
)

// Bounds is an axis aligned box. The zero value is not empty; use NewBounds.
type Bounds struct {
	Min, Max r3.Vec
}

// NewBounds returns an empty box that any point extends.
func NewBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// Extend expands b to include v.
func (b *Bounds) Extend(v r3.Vec) {
	b.Min.X = math.Min(b.Min.X, v.X)
	b.Min.Y = math.Min(b.Min.Y, v.Y)
	b.Min.Z = math.Min(b.Min.Z, v.Z)
	b.Max.X = math.Max(b.Max.X, v.X)
	b.Max.Y = math.Max(b.Max.Y, v.Y)
	b.Max.Z = math.Max(b.Max.Z, v.Z)
}

// Empty reports whether no point was added.
func (b Bounds) Empty() bool {
	return b.Min.X > b.Max.X
}

// Diagonal is the length of the box diagonal, 0 for an empty box.
func (b Bounds) Diagonal() float64 {
	if b.Empty() {
		return 0
	}
	return r3.Norm(r3.Sub(b.Max, b.Min))
}

// Cluster is the aggregate of all papers sharing an id at one depth.
type Cluster struct {
	Depth    int
	ID       int
	Count    int
	Label    string // label of the first member seen
	Centroid r3.Vec
	Bounds   Bounds
	Vertices []r3.Vec

	sum r3.Vec
}

// Options controls Build.
type Options struct {
	Axis paper.Axis
	// KeepVertices retains member positions for hull construction.
	KeepVertices bool
}

// DefaultOptions keeps vertices on the planar axis.
func DefaultOptions() Options {
	return Options{Axis: paper.Planar, KeepVertices: true}
}

// Index maps depth and cluster id to a Cluster.
type Index struct {
	axis   paper.Axis
	depths [paper.NumDepths]map[int]*Cluster
}

// Build aggregates papers into clusters, one pass per depth. Building twice
// from the same papers yields equal indexes.
func Build(papers []paper.Paper, opts Options) *Index {
	ix := &Index{axis: opts.Axis}
	for d := 0; d < paper.NumDepths; d++ {
		depth := d + paper.MinDepth
		clusters := make(map[int]*Cluster)
		for i := range papers {
			p := &papers[i]
			id := p.ClusterID(depth, opts.Axis)
			c, ok := clusters[id]
			if !ok {
				c = &Cluster{
					Depth:  depth,
					ID:     id,
					Label:  p.ClusterLabel(depth, opts.Axis),
					Bounds: NewBounds(),
				}
				clusters[id] = c
			}
			c.Count++
			c.Bounds.Extend(p.Pos3D)
			c.sum = r3.Add(c.sum, p.Pos3D)
			if opts.KeepVertices {
				c.Vertices = append(c.Vertices, p.Pos3D)
			}
		}
		for _, c := range clusters {
			c.Centroid = r3.Scale(1/float64(c.Count), c.sum)
		}
		ix.depths[d] = clusters
	}
	return ix
}

// Axis is the clustering the index was built on.
func (ix *Index) Axis() paper.Axis { return ix.axis }

// ClusterID returns the id of the cluster p belongs to at depth.
func (ix *Index) ClusterID(p paper.Paper, depth int) int {
	return p.ClusterID(depth, ix.axis)
}

// ClusterLabel returns the label p carries at depth.
func (ix *Index) ClusterLabel(p paper.Paper, depth int) string {
	return p.ClusterLabel(depth, ix.axis)
}

// Cluster looks up a cluster. Depth is clamped; an unknown id reports false.
func (ix *Index) Cluster(depth, id int) (*Cluster, bool) {
	c, ok := ix.depths[paper.ClampDepth(depth)-paper.MinDepth][id]
	return c, ok
}

// Clusters returns the clusters at depth ordered by id.
func (ix *Index) Clusters(depth int) []*Cluster {
	m := ix.depths[paper.ClampDepth(depth)-paper.MinDepth]
	out := make([]*Cluster, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of clusters at depth.
func (ix *Index) Len(depth int) int {
	return len(ix.depths[paper.ClampDepth(depth)-paper.MinDepth])
}

// DropVertices releases member positions once hulls are built or loaded.
func (ix *Index) DropVertices() {
	for _, m := range ix.depths {
		for _, c := range m {
			c.Vertices = nil
		}
	}
}
