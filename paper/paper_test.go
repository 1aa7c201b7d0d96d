package paper

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const header = "title,included,x2,y2,x3,y3,z3,c22,c23,c32,c33,c42,c43,c52,c53,c62,c63,l22,l32,l42,l52,l62,l23,l33,l43,l53,l63"

// row builds a well formed line. ids are the planar ids for depths 2..6, the
// spatial ids are the planar ones plus 100.
func row(title string, included int, x, y, z float64, ids [NumDepths]int) string {
	fields := []string{
		title,
		fmt.Sprint(included),
		fmt.Sprint(x), fmt.Sprint(y),
		fmt.Sprint(x), fmt.Sprint(y), fmt.Sprint(z),
	}
	for _, id := range ids {
		fields = append(fields, fmt.Sprint(id), fmt.Sprint(id+100))
	}
	for d, id := range ids {
		fields = append(fields, fmt.Sprintf("p%d-%d", d+MinDepth, id))
	}
	for d, id := range ids {
		fields = append(fields, fmt.Sprintf("s%d-%d", d+MinDepth, id+100))
	}
	return strings.Join(fields, ",")
}

func newTestStore() *Store {
	return NewStore(WithEncoding(unicode.UTF8))
}

func TestSplitRowQuotes(t *testing.T) {
	fields := SplitRow(`"a,b",c,,"d"`, ',')
	assert.Equal(t, []string{`"a,b"`, "c", "", `"d"`}, fields)

	assert.Equal(t, []string{"a", ""}, SplitRow("a,", ','))
	assert.Equal(t, []string{""}, SplitRow("", ','))
	assert.Equal(t, []string{"x", "y"}, SplitRow("x;y", ';'))
	assert.Equal(t, []string{"x", "y"}, SplitRow("x→y", '→'))
}

func TestSplitJoinRoundTrip(t *testing.T) {
	cases := [][]string{
		{"plain", "1", "2.5"},
		{"with, comma", "", "tail"},
		{`"already, quoted"`, "x"},
		{"", "", ""},
	}
	for _, fields := range cases {
		line := JoinRow(fields, ',')
		got := SplitRow(line, ',')
		require.Len(t, got, len(fields), line)
		for i := range fields {
			assert.Equal(t, Unquote(fields[i]), Unquote(got[i]), line)
		}
	}
}

func TestParseRecordWidth(t *testing.T) {
	_, err := ParseRecord(make([]string, SchemaWidth-1), 0)
	assert.ErrorIs(t, err, ErrRowMalformed)
	_, err = ParseRecord(make([]string, SchemaWidth+1), 0)
	assert.ErrorIs(t, err, ErrRowMalformed)

	p, err := ParseRecord(make([]string, SchemaWidth), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Index)
	assert.False(t, p.Included)
}

func TestParseRecordFields(t *testing.T) {
	line := row(`"Deep, learning"`, 1, 0.5, -1.25, 3e2, [NumDepths]int{1, 2, 3, 4, 5})
	p, err := ParseRecord(SplitRow(line, ','), 3)
	require.NoError(t, err)

	assert.Equal(t, "Deep, learning", p.Title)
	assert.True(t, p.Included)
	assert.Equal(t, 0.5, p.Pos2D.X)
	assert.Equal(t, -1.25, p.Pos2D.Y)
	assert.Equal(t, 300.0, p.Pos3D.Z)
	assert.Equal(t, [NumDepths]int{1, 2, 3, 4, 5}, p.Planar.IDs)
	assert.Equal(t, [NumDepths]int{101, 102, 103, 104, 105}, p.Spatial.IDs)
	assert.Equal(t, "p4-3", p.Planar.Labels[2])
	assert.Equal(t, "s4-103", p.Spatial.Labels[2])
}

func TestNumericPrefix(t *testing.T) {
	tests := []struct {
		in string
		i  int
		f  float64
	}{
		{"42", 42, 42},
		{"  7abc", 7, 7},
		{`"12"`, 12, 12},
		{"-3.75e1x", -3, -37.5},
		{"1e", 1, 1},
		{".5", 0, 0.5},
		{"abc", 0, 0},
		{"", 0, 0},
		{"-", 0, 0},
		{"99999999999999999999999", math.MaxInt, 99999999999999999999999},
		{"-99999999999999999999999", math.MinInt, -99999999999999999999999},
		{"1e999", 1, math.Inf(1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.i, parseInt(tt.in), "int %q", tt.in)
		assert.Equal(t, tt.f, parseFloat(tt.in), "float %q", tt.in)
	}
	assert.Equal(t, 0.25, parseFloat(" 0.25 "))
}

func TestTextIsNFC(t *testing.T) {
	fields := make([]string, SchemaWidth)
	fields[colTitle] = "\"Cafe\u0301\""
	p, err := ParseRecord(fields, 0)
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", p.Title)
}

func TestClampDepth(t *testing.T) {
	assert.Equal(t, 2, ClampDepth(-5))
	assert.Equal(t, 2, ClampDepth(2))
	assert.Equal(t, 4, ClampDepth(4))
	assert.Equal(t, 6, ClampDepth(6))
	assert.Equal(t, 6, ClampDepth(60))

	p := Paper{Planar: Hierarchy{IDs: [NumDepths]int{10, 11, 12, 13, 14}}}
	assert.Equal(t, 10, p.ClusterID(0, Planar))
	assert.Equal(t, 14, p.ClusterID(9, Planar))
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{"": Planar, "planar": Planar, "2d": Planar, "spatial": Spatial, "3D": Spatial} {
		got, err := ParseAxis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAxis("4d")
	assert.Error(t, err)
}

func TestLoadEndToEnd(t *testing.T) {
	lines := []string{
		header,
		row("a", 0, 0, 0, 0, [NumDepths]int{1, 1, 1, 1, 1}),
		row("b", 1, 1, 0, 0, [NumDepths]int{1, 1, 1, 1, 2}),
		row("c", 0, 0, 1, 0, [NumDepths]int{2, 2, 2, 2, 3}),
		row("d", 1, 0, 0, 1, [NumDepths]int{2, 2, 2, 3, 4}),
	}
	path := filepath.Join(t.TempDir(), "papers.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\r\n")+"\r\n"), 0o644))

	s := newTestStore()
	n, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 2, s.NumIncluded())
	assert.Equal(t, 3, s.LastIndex())
	assert.Greater(t, s.Size(), int64(0))
	assert.Equal(t, "s6-104", s.At(3).Spatial.Labels[4])
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	lines := []string{
		header,
		row("a", 1, 0, 0, 0, [NumDepths]int{}),
		"too,few,fields",
		row("b", 1, 0, 0, 0, [NumDepths]int{}) + ",extra",
		row("c", 0, 0, 0, 0, [NumDepths]int{}),
	}
	s := newTestStore()
	n, err := s.LoadReader(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "c", s.At(1).Title)
	assert.Equal(t, 1, s.At(1).Index)
	assert.Equal(t, 0, s.LastIndex())
}

func TestLoadHeaderOnly(t *testing.T) {
	s := newTestStore()
	n, err := s.LoadReader(strings.NewReader(header + "\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.LastIndex())

	_, ok := s.Paper(0)
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore()
	_, err := s.LoadReader(strings.NewReader(header + "\n" + row("a", 1, 0, 0, 0, [NumDepths]int{})))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	_, err = s.Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var lerr *LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Path, "missing.csv")
	assert.Zero(t, s.Len())
}

type failingReader struct{ r io.Reader }

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, errors.New("disk gone")
	}
	return n, err
}

func TestLoadMalformedStream(t *testing.T) {
	s := newTestStore()
	src := header + "\n" + row("a", 1, 0, 0, 0, [NumDepths]int{}) + "\n"
	_, err := s.LoadReader(&failingReader{r: strings.NewReader(src)})
	assert.ErrorIs(t, err, ErrMalformedStream)
	assert.Zero(t, s.Len())

	long := header + "\n" + strings.Repeat("x", maxLineSize+1) + "\n"
	_, err = s.LoadReader(strings.NewReader(long))
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestPaperClamping(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(header + "\n")
	for i := 0; i < 3; i++ {
		buf.WriteString(row(fmt.Sprint(i), 1, 0, 0, 0, [NumDepths]int{}) + "\n")
	}
	s := newTestStore()
	_, err := s.LoadReader(&buf)
	require.NoError(t, err)

	for progress, want := range map[float64]string{
		-4:          "0",
		0:           "0",
		0.99:        "0",
		1.5:         "1",
		2.9:         "2",
		1e9:         "2",
		math.Inf(1): "2",
		math.NaN():  "0",
	} {
		p, ok := s.Paper(progress)
		require.True(t, ok)
		assert.Equal(t, want, p.Title, "progress %v", progress)
	}
}

func TestVertices(t *testing.T) {
	lines := []string{
		header,
		row("a", 1, 1, 2, 3, [NumDepths]int{}),
		row("b", 0, -1, 0, 0.5, [NumDepths]int{}),
	}
	s := newTestStore()
	_, err := s.LoadReader(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)

	v := s.Vertices(2)
	assert.Equal(t, []float32{2, 4, 6, 1, 0, -2, 0, 1, 0, 1}, v)
	assert.Equal(t, int64(40), s.VerticesSize())
}

func TestSyntheticLoads(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultSyntheticOptions()
	require.NoError(t, WriteSynthetic(&buf, 200, opts))

	s := newTestStore()
	n, err := s.LoadReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Greater(t, s.NumIncluded(), 0)

	for _, p := range s.Papers() {
		assert.True(t, strings.HasPrefix(p.Title, "Paper "))
		// Depth 2 ids are the root of the deeper ones.
		leaf := p.Planar.IDs[NumDepths-1]
		for d := NumDepths - 1; d > 0; d-- {
			leaf /= opts.Branching
		}
		assert.Equal(t, leaf, p.Planar.IDs[0])
		assert.Less(t, p.Planar.IDs[0], opts.Roots)
	}

	assert.Equal(t, GenerateRows(10, opts), GenerateRows(10, opts))
}
