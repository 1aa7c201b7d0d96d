// Package paper loads the surveyed-paper dataset and serves it, read only, to
// the cluster index, the animation driver and the renderer.
package paper

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Hierarchy depths carried by every paper.
const (
	MinDepth  = 2
	MaxDepth  = 6
	NumDepths = MaxDepth - MinDepth + 1
)

// ClampDepth limits depth to [MinDepth, MaxDepth].
func ClampDepth(depth int) int {
	return max(MinDepth, min(MaxDepth, depth))
}

// Axis selects which of the two clusterings of the dataset is used: the one
// computed on the 2D projection or the one computed on the 3D projection.
type Axis int

const (
	Planar Axis = iota
	Spatial
)

func (a Axis) String() string {
	if a == Spatial {
		return "spatial"
	}
	return "planar"
}

// ParseAxis accepts "planar"/"2d" and "spatial"/"3d".
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "planar", "2d":
		return Planar, nil
	case "spatial", "3d":
		return Spatial, nil
	}
	return Planar, fmt.Errorf("unknown cluster axis %q", s)
}

// Hierarchy holds cluster ids and labels for depths MinDepth..MaxDepth.
type Hierarchy struct {
	IDs    [NumDepths]int
	Labels [NumDepths]string
}

// Paper is one record of the dataset.
type Paper struct {
	Index    int // ordinal in load order
	Title    string
	Included bool
	Pos2D    r2.Vec
	Pos3D    r3.Vec
	Planar   Hierarchy
	Spatial  Hierarchy
}

func (p *Paper) hierarchy(axis Axis) *Hierarchy {
	if axis == Spatial {
		return &p.Spatial
	}
	return &p.Planar
}

// ClusterID returns the cluster of p at depth on axis. Depth is clamped.
func (p Paper) ClusterID(depth int, axis Axis) int {
	return p.hierarchy(axis).IDs[ClampDepth(depth)-MinDepth]
}

// ClusterLabel returns the cluster label of p at depth on axis. Depth is
// clamped.
func (p Paper) ClusterLabel(depth int, axis Axis) string {
	return p.hierarchy(axis).Labels[ClampDepth(depth)-MinDepth]
}
