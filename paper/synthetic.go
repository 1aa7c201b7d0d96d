package paper

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
)

// SyntheticOptions shapes a generated dataset.
type SyntheticOptions struct {
	Seed      int64
	Branching int     // children per cluster at each deeper level, >= 1
	Roots     int     // clusters at depth 2
	Spread    float64 // half extent of the root cluster centers
	Included  float64 // probability that a paper is flagged included
	Delimiter rune
}

// DefaultSyntheticOptions returns the options used by the CLI.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Seed:      1,
		Branching: 2,
		Roots:     6,
		Spread:    1,
		Included:  0.8,
		Delimiter: ',',
	}
}

var syntheticHeader = []string{
	"title", "included", "x_2d", "y_2d", "x_3d", "y_3d", "z_3d",
	"cluster_2_2d", "cluster_2_3d", "cluster_3_2d", "cluster_3_3d",
	"cluster_4_2d", "cluster_4_3d", "cluster_5_2d", "cluster_5_3d",
	"cluster_6_2d", "cluster_6_3d",
	"cluster_2_2d_label", "cluster_3_2d_label", "cluster_4_2d_label",
	"cluster_5_2d_label", "cluster_6_2d_label",
	"cluster_2_3d_label", "cluster_3_3d_label", "cluster_4_3d_label",
	"cluster_5_3d_label", "cluster_6_3d_label",
}

// GenerateRows returns n rows of hierarchically clustered papers in the
// dataset schema, without the header. The same options always produce the
// same rows.
func GenerateRows(n int, opts SyntheticOptions) [][]string {
	if opts.Branching < 1 {
		opts.Branching = 1
	}
	if opts.Roots < 1 {
		opts.Roots = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	// Children sit around their parent, with the offset halved per depth.
	centers := make([][3]float64, opts.Roots)
	for i := range centers {
		centers[i] = jitter(rng, [3]float64{}, opts.Spread)
	}
	extent := opts.Spread
	for d := 1; d < NumDepths; d++ {
		extent /= 2
		next := make([][3]float64, 0, len(centers)*opts.Branching)
		for _, parent := range centers {
			for b := 0; b < opts.Branching; b++ {
				next = append(next, jitter(rng, parent, extent))
			}
		}
		centers = next
	}
	leaves := len(centers)

	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		leaf := rng.Intn(leaves)
		c := centers[leaf]
		sigma := extent * 0.25
		x := c[0] + rng.NormFloat64()*sigma
		y := c[1] + rng.NormFloat64()*sigma
		z := c[2] + rng.NormFloat64()*sigma

		included := "0"
		if rng.Float64() < opts.Included {
			included = "1"
		}

		row := make([]string, 0, SchemaWidth)
		row = append(row,
			strconv.Quote(fmt.Sprintf("Paper %d, synthetic", i)),
			included,
			ftoa(x), ftoa(y),
			ftoa(x), ftoa(y), ftoa(z),
		)

		ids := clusterPath(leaf, opts.Branching)
		for d := 0; d < NumDepths; d++ {
			id := strconv.Itoa(ids[d])
			row = append(row, id, id)
		}
		for d := 0; d < NumDepths; d++ {
			row = append(row, fmt.Sprintf("topic %d.%d", d+MinDepth, ids[d]))
		}
		for d := 0; d < NumDepths; d++ {
			row = append(row, fmt.Sprintf("region %d.%d", d+MinDepth, ids[d]))
		}
		rows[i] = row
	}
	return rows
}

// clusterPath maps a leaf to its cluster id at every depth, coarsest first.
func clusterPath(leaf, branching int) [NumDepths]int {
	var ids [NumDepths]int
	id := leaf
	for d := NumDepths - 1; d >= 0; d-- {
		ids[d] = id
		id /= branching
	}
	return ids
}

func jitter(rng *rand.Rand, c [3]float64, extent float64) [3]float64 {
	return [3]float64{
		c[0] + (rng.Float64()*2-1)*extent,
		c[1] + (rng.Float64()*2-1)*extent,
		c[2] + (rng.Float64()*2-1)*extent,
	}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

// WriteSynthetic writes a header and n generated rows to w.
func WriteSynthetic(w io.Writer, n int, opts SyntheticOptions) error {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	bw := bufio.NewWriterSize(w, 1024*1024)
	if _, err := fmt.Fprintln(bw, JoinRow(syntheticHeader, opts.Delimiter)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range GenerateRows(n, opts) {
		if _, err := fmt.Fprintln(bw, JoinRow(row, opts.Delimiter)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}
