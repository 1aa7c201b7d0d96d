package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/text/encoding"

	"web/papercloud/textenc"
)

// TermOptions configures a Term renderer.
type TermOptions struct {
	Profile  termenv.Profile
	Encoding encoding.Encoding // nil means the locale encoding
	Width    int               // bar chart width in cells
	MaxDraws int               // hull lines listed per frame, 0 for all
	Clear    bool              // clear the screen before each frame
}

// DefaultTermOptions detects the color profile of w's terminal.
func DefaultTermOptions() TermOptions {
	return TermOptions{
		Profile:  termenv.EnvColorProfile(),
		Width:    40,
		MaxDraws: 10,
		Clear:    true,
	}
}

// Term draws frame plans as colored text.
type Term struct {
	out      *termenv.Output
	w        io.Writer
	opts     TermOptions
	enc      encoding.Encoding
	points   int
	released bool
}

// NewTerm writes frames to w.
func NewTerm(w io.Writer, opts TermOptions) *Term {
	enc := opts.Encoding
	if enc == nil {
		enc = textenc.LocaleEncoding()
	}
	if opts.Width <= 0 {
		opts.Width = 40
	}
	return &Term{
		out:  termenv.NewOutput(w, termenv.WithProfile(opts.Profile)),
		w:    w,
		opts: opts,
		enc:  enc,
	}
}

func (t *Term) Upload(instances []float32) error {
	if t.released {
		return ErrReleased
	}
	t.points = len(instances) / 5
	return nil
}

func (t *Term) Draw(plan FramePlan, meshes MeshSource) error {
	if t.released {
		return ErrReleased
	}
	if t.opts.Clear {
		t.out.ClearScreen()
		t.out.MoveCursor(1, 1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d points, depth %d\n",
		t.out.String("papercloud").Bold(), t.points, plan.Depth)

	draws := plan.Draws
	if t.opts.MaxDraws > 0 && len(draws) > t.opts.MaxDraws {
		draws = draws[len(draws)-t.opts.MaxDraws:]
	}
	for _, d := range draws {
		shape := "centroid"
		if m, ok := meshes.Mesh(d.Depth, d.ClusterID); ok {
			shape = fmt.Sprintf("hull %d faces", len(m.Faces))
		}
		line := fmt.Sprintf("  %-7s %-9s cluster %-6d dist %6.2f  %s",
			d.Style.Category, d.Style.Fill, d.ClusterID, d.Distance, shape)
		b.WriteString(t.paint(line, d.Style.Color))
		b.WriteByte('\n')
	}

	if len(plan.Bars) > 0 {
		b.WriteByte('\n')
	}
	for _, bar := range plan.Bars {
		fill := 0
		if bar.TotalPapers > 0 {
			fill = bar.NumPapers * t.opts.Width / bar.TotalPapers
		}
		fill = max(0, min(t.opts.Width, fill))
		graph := strings.Repeat("#", fill) + strings.Repeat(".", t.opts.Width-fill)
		fmt.Fprintf(&b, "  %s %5d/%-5d %s\n",
			t.paint(graph, Hue(bar.ClusterID, 1)), bar.NumPapers, bar.TotalPapers, bar.Name)
	}

	b.WriteByte('\n')
	for _, line := range plan.Text {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	bw := bufio.NewWriter(t.w)
	if _, err := bw.WriteString(textenc.Narrow(b.String(), t.enc)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

func (t *Term) paint(s string, c Color) string {
	return t.out.String(s).Foreground(t.out.Color(c.Hex())).String()
}

func (t *Term) Release() error {
	if t.released {
		return nil
	}
	t.released = true
	if t.opts.Clear {
		t.out.Reset()
	}
	return nil
}
