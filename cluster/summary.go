package cluster

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"web/papercloud/paper"
)

// Summary describes the clusters of one depth.
type Summary struct {
	Depth         int         `json:"depth"`
	TotalPapers   int         `json:"totalPapers"`
	NumClusters   int         `json:"numClusters"`   // every cluster at the depth
	NumSingletons int         `json:"numSingletons"` // clusters with one member, included in NumClusters
	Members       MemberStats `json:"members"`
	Labels        []string    `json:"labels"`
}

// MemberStats are statistics over cluster sizes.
type MemberStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
}

// Summarize reports cluster sizes at depth and the distinct labels, sorted
// for the language tag.
func Summarize(ix *Index, depth int, tag language.Tag) Summary {
	clusters := ix.Clusters(depth)
	summary := Summary{Depth: paper.ClampDepth(depth), Labels: []string{}}
	if len(clusters) == 0 {
		return summary
	}

	summary.NumClusters = len(clusters)
	counts := make([]float64, len(clusters))
	seen := make(map[string]bool)
	for i, c := range clusters {
		counts[i] = float64(c.Count)
		summary.TotalPapers += c.Count
		if c.Count == 1 {
			summary.NumSingletons++
		}
		if !seen[c.Label] {
			seen[c.Label] = true
			summary.Labels = append(summary.Labels, c.Label)
		}
	}

	sort.Float64s(counts)
	summary.Members = MemberStats{
		Min:    floats.Min(counts),
		Max:    floats.Max(counts),
		Mean:   stat.Mean(counts, nil),
		Median: stat.Quantile(0.5, stat.Empirical, counts, nil),
	}
	if len(counts) > 1 {
		summary.Members.StdDev = stat.StdDev(counts, nil)
	}

	collate.New(tag).SortStrings(summary.Labels)
	return summary
}
