package render

import (
	"fmt"
	"sort"

	"web/papercloud/animation"
	"web/papercloud/cluster"
)

// Bar is one row of the passed-cluster chart.
type Bar struct {
	Pos         float32 `json:"pos"` // vertical position of the row
	ClusterID   int     `json:"clusterId"`
	Name        string  `json:"name"`
	NumPapers   int     `json:"numPapers"`   // papers passed so far
	TotalPapers int     `json:"totalPapers"` // members of the cluster
}

// BarLayout positions chart rows.
type BarLayout struct {
	Top     float32
	Step    float32
	MaxBars int // 0 keeps every row
}

// DefaultBarLayout stacks rows downwards from the top of the screen.
func DefaultBarLayout() BarLayout {
	return BarLayout{Top: 0.9, Step: 0.05, MaxBars: 12}
}

// ClusterSource resolves cluster aggregates.
type ClusterSource interface {
	Cluster(depth, id int) (*cluster.Cluster, bool)
}

// Bars builds one row per passed cluster, most passed papers first, ties by
// ascending id.
func Bars(snap *animation.Snapshot, clusters ClusterSource, layout BarLayout) []Bar {
	bars := make([]Bar, 0, len(snap.Passed))
	for _, id := range snap.Passed {
		b := Bar{
			ClusterID: id,
			Name:      fmt.Sprintf("cluster %d", id),
			NumPapers: snap.Counts[id].Papers,
		}
		if c, ok := clusters.Cluster(snap.Depth, id); ok {
			b.Name = c.Label
			b.TotalPapers = c.Count
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].NumPapers != bars[j].NumPapers {
			return bars[i].NumPapers > bars[j].NumPapers
		}
		return bars[i].ClusterID < bars[j].ClusterID
	})
	if layout.MaxBars > 0 && len(bars) > layout.MaxBars {
		bars = bars[:layout.MaxBars]
	}
	for i := range bars {
		bars[i].Pos = layout.Top - float32(i)*layout.Step
	}
	return bars
}

// Stats are the process counters shown in the debug text.
type Stats struct {
	NumPapers    int
	NumIncluded  int
	StoreBytes   int64
	VertexBytes  int64
	FramesPerSec float64
}

// DebugText returns the diagnostic lines drawn over the scene.
func DebugText(snap *animation.Snapshot, stats Stats) []string {
	lines := []string{
		fmt.Sprintf("papers: %d  included: %d  seen: %d", stats.NumPapers, stats.NumIncluded, snap.IncludedSeen),
		fmt.Sprintf("progress: %.1f / %d  (%s)", snap.Effective, snap.LastIndex, snap.State),
		fmt.Sprintf("depth: %d  clusters passed: %d", snap.Depth, len(snap.Passed)),
		fmt.Sprintf("memory: papers %s, instances %s", FormatBytes(stats.StoreBytes), FormatBytes(stats.VertexBytes)),
	}
	if stats.FramesPerSec > 0 {
		lines = append(lines, fmt.Sprintf("fps: %.0f", stats.FramesPerSec))
	}
	if snap.HasCurrent {
		lines = append(lines,
			"title: "+snap.CurrentTitle,
			"cluster: "+snap.CurrentLabel,
		)
	}
	return lines
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
