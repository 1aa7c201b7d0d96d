// Package render turns exploration state into per-frame drawing decisions
// and hands them to a Renderer.
package render

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/cluster"
)

// NoCluster is the current cluster before the cursor has reached a paper.
const NoCluster = math.MinInt

// Category of a cluster relative to the cursor.
type Category int

const (
	Unseen Category = iota
	Passed
	Current
)

func (c Category) String() string {
	switch c {
	case Current:
		return "current"
	case Passed:
		return "passed"
	}
	return "unseen"
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	switch string(b) {
	case "current":
		*c = Current
	case "passed":
		*c = Passed
	case "unseen":
		*c = Unseen
	default:
		return fmt.Errorf("unknown category %q", b)
	}
	return nil
}

// ViewMode selects which hulls are drawn.
type ViewMode int

const (
	// Default draws unseen clusters as a dim wireframe background.
	Default ViewMode = iota
	// UnseenHidden draws only current and passed clusters.
	UnseenHidden
	// Hidden draws no hulls, leaving the point cloud.
	Hidden
)

func (m ViewMode) String() string {
	switch m {
	case UnseenHidden:
		return "unseen-hidden"
	case Hidden:
		return "hidden"
	}
	return "default"
}

func (m ViewMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ViewMode) UnmarshalText(b []byte) error {
	v, err := ParseViewMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Next cycles through the modes.
func (m ViewMode) Next() ViewMode {
	return (m + 1) % 3
}

// ParseViewMode accepts the names produced by String.
func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "unseen-hidden", "unseen_hidden", "unseenhidden":
		return UnseenHidden, nil
	case "hidden":
		return Hidden, nil
	}
	return Default, fmt.Errorf("unknown view mode %q", s)
}

// Fill is the polygon mode of a hull.
type Fill int

const (
	Solid Fill = iota
	Wireframe
)

func (f Fill) String() string {
	if f == Wireframe {
		return "wireframe"
	}
	return "solid"
}

func (f Fill) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Fill) UnmarshalText(b []byte) error {
	switch string(b) {
	case "solid":
		*f = Solid
	case "wireframe":
		*f = Wireframe
	default:
		return fmt.Errorf("unknown fill %q", b)
	}
	return nil
}

// Color is linear RGBA in [0, 1].
type Color struct {
	R, G, B, A float32
}

// Scale multiplies the color channels by f, leaving alpha.
func (c Color) Scale(f float32) Color {
	return Color{R: clamp01(c.R * f), G: clamp01(c.G * f), B: clamp01(c.B * f), A: c.A}
}

// Lerp blends from c to o by t.
func (c Color) Lerp(o Color, t float32) Color {
	t = clamp01(t)
	return Color{
		R: c.R + (o.R-c.R)*t,
		G: c.G + (o.G-c.G)*t,
		B: c.B + (o.B-c.B)*t,
		A: c.A + (o.A-c.A)*t,
	}
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

func channel(v float32) uint8 {
	return uint8(math32.Round(clamp01(v) * 255))
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

// Hue returns a saturated color for id, spreading neighbouring ids around
// the color wheel.
func Hue(id int, alpha float32) Color {
	const golden = 0.618033988749895
	h := math32.Mod(float32(id)*golden, 1)
	if h < 0 {
		h++
	}
	f := func(n float32) float32 {
		k := math32.Mod(n+h*6, 6)
		return 1 - math32.Max(0, math32.Min(math32.Min(k, 4-k), 1))
	}
	return Color{R: f(5), G: f(3), B: f(1), A: alpha}
}

// Palette holds the per-category colors and line widths.
type Palette struct {
	Current Color
	Passed  Color
	Unseen  Color
	// PassedTint blends each passed cluster towards its own hue.
	PassedTint float32

	CurrentLineWidth float32
	PassedLineWidth  float32
	UnseenLineWidth  float32
}

// DefaultPalette returns the built in colors.
func DefaultPalette() Palette {
	return Palette{
		Current:          Color{R: 1, G: 0.55, B: 0.1, A: 0.55},
		Passed:           Color{R: 0.25, G: 0.6, B: 1, A: 0.3},
		Unseen:           Color{R: 0.5, G: 0.5, B: 0.5, A: 0.08},
		PassedTint:       0.35,
		CurrentLineWidth: 2,
		PassedLineWidth:  1,
		UnseenLineWidth:  1,
	}
}

// Style is how one cluster hull is drawn this frame.
type Style struct {
	Category  Category `json:"category"`
	Color     Color    `json:"color"`
	Fill      Fill     `json:"fill"`
	LineWidth float32  `json:"lineWidth"`
	Visible   bool     `json:"visible"`
}

// PassedSet reports whether the cursor has passed a cluster.
type PassedSet interface {
	IsPassed(id int) bool
}

// Classify decides the style of cluster id. current wins over passed.
func Classify(id, current int, passed PassedSet, mode ViewMode, pal Palette) Style {
	switch {
	case id == current:
		return Style{
			Category:  Current,
			Color:     pal.Current,
			Fill:      Solid,
			LineWidth: pal.CurrentLineWidth,
			Visible:   mode != Hidden,
		}
	case passed != nil && passed.IsPassed(id):
		return Style{
			Category:  Passed,
			Color:     pal.Passed.Lerp(Hue(id, pal.Passed.A), pal.PassedTint),
			Fill:      Solid,
			LineWidth: pal.PassedLineWidth,
			Visible:   mode != Hidden,
		}
	}
	return Style{
		Category:  Unseen,
		Color:     pal.Unseen,
		Fill:      Wireframe,
		LineWidth: pal.UnseenLineWidth,
		Visible:   mode == Default,
	}
}

// Placement is a cluster with its distance to the camera.
type Placement struct {
	Cluster  *cluster.Cluster
	Distance float64
}

// Order sorts clusters back to front: farthest from camera first, ties by
// ascending id.
func Order(clusters []*cluster.Cluster, camera r3.Vec) []Placement {
	out := make([]Placement, len(clusters))
	for i, c := range clusters {
		out[i] = Placement{Cluster: c, Distance: r3.Norm(r3.Sub(c.Centroid, camera))}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance > out[j].Distance
		}
		return out[i].Cluster.ID < out[j].Cluster.ID
	})
	return out
}
