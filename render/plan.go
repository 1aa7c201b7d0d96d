package render

import (
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/animation"
	"web/papercloud/cluster"
)

// Index is the cluster index seen by the planner.
type Index interface {
	ClusterSource
	Clusters(depth int) []*cluster.Cluster
}

// FrameInput is everything Plan needs for one frame.
type FrameInput struct {
	Snapshot animation.Snapshot
	Clusters Index
	Camera   r3.Vec
	Mode     ViewMode
	Palette  Palette
	Layout   BarLayout
	Stats    Stats
}

// Draw is one visible hull, in draw order.
type Draw struct {
	ClusterID int     `json:"clusterId"`
	Depth     int     `json:"depth"`
	Centroid  r3.Vec  `json:"centroid"`
	Distance  float64 `json:"distance"`
	Style     Style   `json:"style"`
}

// FramePlan is the renderer-independent description of a frame.
type FramePlan struct {
	Depth int      `json:"depth"`
	Draws []Draw   `json:"draws"`
	Bars  []Bar    `json:"bars"`
	Text  []string `json:"text"`
}

// Plan classifies every cluster at the snapshot depth, keeps the visible
// ones back to front and lays out the bars and debug text.
func Plan(in FrameInput) FramePlan {
	snap := &in.Snapshot
	current := NoCluster
	if snap.HasCurrent {
		current = snap.CurrentCluster
	}

	plan := FramePlan{Depth: snap.Depth}
	if in.Clusters != nil {
		for _, pl := range Order(in.Clusters.Clusters(snap.Depth), in.Camera) {
			style := Classify(pl.Cluster.ID, current, snap, in.Mode, in.Palette)
			if !style.Visible {
				continue
			}
			plan.Draws = append(plan.Draws, Draw{
				ClusterID: pl.Cluster.ID,
				Depth:     pl.Cluster.Depth,
				Centroid:  pl.Cluster.Centroid,
				Distance:  pl.Distance,
				Style:     style,
			})
		}
		plan.Bars = Bars(snap, in.Clusters, in.Layout)
	}
	plan.Text = DebugText(snap, in.Stats)
	return plan
}
