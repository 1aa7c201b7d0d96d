package cluster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrHullConstruction reports a point set with no 3D convex hull: fewer than
// four points, or all of them collinear or coplanar.
var ErrHullConstruction = errors.New("convex hull construction failed")

// HullError ties a construction failure to its cluster.
type HullError struct {
	Depth, ID int
	Err       error
}

func (e *HullError) Error() string {
	return fmt.Sprintf("hull for cluster %d at depth %d: %v", e.ID, e.Depth, e.Err)
}

func (e *HullError) Unwrap() error { return e.Err }

// Mesh is a closed triangle mesh. Faces wind counter clockwise seen from
// outside.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]uint32
}

// Volume of the enclosed solid.
func (m *Mesh) Volume() float64 {
	var v float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		v += r3.Dot(a, r3.Cross(b, c))
	}
	return v / 6
}

// Area is the total surface area.
func (m *Mesh) Area() float64 {
	var s float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		s += r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
	}
	return s / 2
}

// WriteOBJ writes m as a Wavefront OBJ object.
func (m *Mesh) WriteOBJ(w io.Writer, name string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "o %s\n", name)
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %g %g %g\n", v.X, v.Y, v.Z)
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write obj: %w", err)
	}
	return nil
}

// BuildHull computes the convex hull of the cluster's member positions.
func BuildHull(c *Cluster) (*Mesh, error) {
	m, err := ConvexHull(c.Vertices)
	if err != nil {
		return nil, &HullError{Depth: c.Depth, ID: c.ID, Err: err}
	}
	return m, nil
}

type face struct {
	v      [3]int
	normal r3.Vec
	offset float64
	dead   bool
}

func (f *face) distance(p r3.Vec) float64 {
	return r3.Dot(f.normal, p) - f.offset
}

type hull struct {
	points []r3.Vec
	faces  []*face
	eps    float64
}

func (h *hull) add(a, b, c int) *face {
	pa, pb, pc := h.points[a], h.points[b], h.points[c]
	n := r3.Cross(r3.Sub(pb, pa), r3.Sub(pc, pa))
	if l := r3.Norm(n); l > 0 {
		n = r3.Scale(1/l, n)
	}
	f := &face{v: [3]int{a, b, c}, normal: n, offset: r3.Dot(n, pa)}
	h.faces = append(h.faces, f)
	return f
}

// ConvexHull computes the convex hull of points incrementally. Tolerances
// scale with the extent of the input.
func ConvexHull(points []r3.Vec) (*Mesh, error) {
	if len(points) < 4 {
		return nil, fmt.Errorf("%w: %d points", ErrHullConstruction, len(points))
	}

	bounds := NewBounds()
	for _, p := range points {
		bounds.Extend(p)
	}
	diag := bounds.Diagonal()
	if diag == 0 || math.IsNaN(diag) || math.IsInf(diag, 0) {
		return nil, fmt.Errorf("%w: degenerate extent", ErrHullConstruction)
	}
	h := &hull{points: points, eps: diag * 1e-9}

	i0, i1, i2, i3, err := h.simplex()
	if err != nil {
		return nil, err
	}
	inside := r3.Scale(0.25, r3.Add(r3.Add(points[i0], points[i1]), r3.Add(points[i2], points[i3])))
	for _, tri := range [4][4]int{{i0, i1, i2, i3}, {i0, i1, i3, i2}, {i0, i2, i3, i1}, {i1, i2, i3, i0}} {
		f := h.add(tri[0], tri[1], tri[2])
		if f.distance(inside) > 0 {
			h.faces = h.faces[:len(h.faces)-1]
			h.add(tri[0], tri[2], tri[1])
		}
	}

	for i, p := range points {
		if i == i0 || i == i1 || i == i2 || i == i3 {
			continue
		}
		h.insert(i, p)
	}
	return h.mesh(), nil
}

// simplex picks four affinely independent points spanning a large volume.
func (h *hull) simplex() (int, int, int, int, error) {
	pts := h.points
	var extremes [6]int
	for i, p := range pts {
		if p.X < pts[extremes[0]].X {
			extremes[0] = i
		}
		if p.X > pts[extremes[1]].X {
			extremes[1] = i
		}
		if p.Y < pts[extremes[2]].Y {
			extremes[2] = i
		}
		if p.Y > pts[extremes[3]].Y {
			extremes[3] = i
		}
		if p.Z < pts[extremes[4]].Z {
			extremes[4] = i
		}
		if p.Z > pts[extremes[5]].Z {
			extremes[5] = i
		}
	}

	i0, i1 := extremes[0], extremes[1]
	best := -1.0
	for a := 0; a < 6; a++ {
		for b := a + 1; b < 6; b++ {
			if d := r3.Norm(r3.Sub(pts[extremes[a]], pts[extremes[b]])); d > best {
				best, i0, i1 = d, extremes[a], extremes[b]
			}
		}
	}

	dir := r3.Unit(r3.Sub(pts[i1], pts[i0]))
	i2, best := -1, h.eps
	for i, p := range pts {
		v := r3.Sub(p, pts[i0])
		if d := r3.Norm(r3.Cross(dir, v)); d > best {
			best, i2 = d, i
		}
	}
	if i2 < 0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: points are collinear", ErrHullConstruction)
	}

	n := r3.Unit(r3.Cross(r3.Sub(pts[i1], pts[i0]), r3.Sub(pts[i2], pts[i0])))
	i3 := -1
	best = h.eps
	for i, p := range pts {
		if d := math.Abs(r3.Dot(n, r3.Sub(p, pts[i0]))); d > best {
			best, i3 = d, i
		}
	}
	if i3 < 0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: points are coplanar", ErrHullConstruction)
	}
	return i0, i1, i2, i3, nil
}

// insert adds point i, replacing every face it sees with a fan from the
// horizon to the point.
func (h *hull) insert(i int, p r3.Vec) {
	var visible []*face
	for _, f := range h.faces {
		if !f.dead && f.distance(p) > h.eps {
			visible = append(visible, f)
		}
	}
	if len(visible) == 0 {
		return
	}

	edges := make(map[[2]int]struct{}, 3*len(visible))
	for _, f := range visible {
		f.dead = true
		for k := 0; k < 3; k++ {
			edges[[2]int{f.v[k], f.v[(k+1)%3]}] = struct{}{}
		}
	}
	for _, f := range visible {
		for k := 0; k < 3; k++ {
			a, b := f.v[k], f.v[(k+1)%3]
			if _, shared := edges[[2]int{b, a}]; !shared {
				h.add(a, b, i)
			}
		}
	}

	if dead := len(h.faces) - h.alive(); dead > len(h.faces)/2 {
		h.compact()
	}
}

func (h *hull) alive() int {
	n := 0
	for _, f := range h.faces {
		if !f.dead {
			n++
		}
	}
	return n
}

func (h *hull) compact() {
	live := h.faces[:0]
	for _, f := range h.faces {
		if !f.dead {
			live = append(live, f)
		}
	}
	for k := len(live); k < len(h.faces); k++ {
		h.faces[k] = nil
	}
	h.faces = live
}

// mesh renumbers the vertices referenced by live faces.
func (h *hull) mesh() *Mesh {
	remap := make(map[int]uint32)
	m := &Mesh{}
	for _, f := range h.faces {
		if f.dead {
			continue
		}
		var tri [3]uint32
		for k, v := range f.v {
			idx, ok := remap[v]
			if !ok {
				idx = uint32(len(m.Vertices))
				remap[v] = idx
				m.Vertices = append(m.Vertices, h.points[v])
			}
			tri[k] = idx
		}
		m.Faces = append(m.Faces, tri)
	}
	return m
}
