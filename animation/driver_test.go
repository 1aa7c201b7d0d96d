package animation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/papercloud/paper"
)

type fakePapers struct {
	papers []paper.Paper
	last   int
}

func (f *fakePapers) Len() int { return len(f.papers) }
func (f *fakePapers) LastIndex() int { return f.last }
func (f *fakePapers) At(i int) paper.Paper { return f.papers[i] }

func (f *fakePapers) Paper(progress float64) (paper.Paper, bool) {
	if len(f.papers) == 0 {
		return paper.Paper{}, false
	}
	if math.IsNaN(progress) {
		progress = 0
	}
	progress = max(0, min(float64(len(f.papers)-1), progress))
	return f.papers[int(progress)], true
}

type planar struct{}

func (planar) ClusterID(p paper.Paper, depth int) int { return p.ClusterID(depth, paper.Planar) }
func (planar) ClusterLabel(p paper.Paper, depth int) string { return p.ClusterLabel(depth, paper.Planar) }

// sequence builds one paper per id. At depth 2 the id is used as is, at
// depth 3 ids are folded to their parity. Every paper is included.
func sequence(ids ...int) *fakePapers {
	f := &fakePapers{}
	for i, id := range ids {
		p := paper.Paper{Index: i, Title: string(rune('a' + i)), Included: true}
		for d := range p.Planar.IDs {
			p.Planar.IDs[d] = id
			p.Planar.Labels[d] = "label"
		}
		p.Planar.IDs[1] = id % 2
		f.papers = append(f.papers, p)
	}
	f.last = len(ids) - 1
	return f
}

const (
	A = 10
	B = 20
	C = 31
)

func TestPassedAccumulateInOneTick(t *testing.T) {
	papers := sequence(A, A, B, B, C, A, B, C, C, A)
	d := New(papers, planar{}, 2)
	assert.Equal(t, NotStarted, d.State())

	d.Tick(100, 1)
	assert.Equal(t, []int{A, B, C}, d.Passed())
	assert.Equal(t, Complete, d.State())
	assert.Equal(t, 9.0, d.Progress())
	assert.Equal(t, Counter{Papers: 4, Included: 4}, d.Count(A))
	assert.Equal(t, Counter{Papers: 3, Included: 3}, d.Count(C))
	assert.Equal(t, 10, d.IncludedSeen())

	_, id, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, A, id)
}

func TestFirstTickVisitsFirstPaper(t *testing.T) {
	d := New(sequence(A, B, C), planar{}, 2)
	d.Tick(0, 0)
	assert.Equal(t, NotStarted, d.State())
	assert.False(t, d.Exhausted())
	assert.Equal(t, []int{A}, d.Passed())
	assert.True(t, d.IsPassed(A))
	assert.False(t, d.IsPassed(B))

	d.Tick(1.5, 1)
	assert.Equal(t, []int{A, B}, d.Passed())
	p, id, _ := d.Current()
	assert.Equal(t, "b", p.Title)
	assert.Equal(t, B, id)
}

func TestProgressMonotonicAndBounded(t *testing.T) {
	papers := sequence(A, B, C, A, B, C, A, B, C, A, B, C)
	d := New(papers, planar{}, 2)
	rng := rand.New(rand.NewSource(3))

	prev, prevPassed := d.Progress(), 0
	for i := 0; i < 500; i++ {
		d.Tick(rng.Float64()*4-2, rng.Float64()*0.5)
		assert.GreaterOrEqual(t, d.Progress(), prev)
		assert.LessOrEqual(t, d.Progress(), float64(papers.Len()-1))
		assert.GreaterOrEqual(t, len(d.Passed()), prevPassed)
		prev, prevPassed = d.Progress(), len(d.Passed())
	}
}

func TestEffectiveCappedAtLastIncluded(t *testing.T) {
	papers := sequence(A, B, C, A)
	papers.last = 1
	d := New(papers, planar{}, 2)

	d.Tick(10, 1)
	assert.Equal(t, 3.0, d.Progress())
	assert.Equal(t, 1.0, d.Effective())
	assert.Equal(t, []int{A, B}, d.Passed())
	assert.Equal(t, Complete, d.State())
	assert.True(t, d.Exhausted())
	_, id, _ := d.Current()
	assert.Equal(t, B, id)
}

func TestStatesFollowCursorPastLastIncluded(t *testing.T) {
	papers := sequence(A, B, C, A)
	papers.last = 1
	d := New(papers, planar{}, 2)

	d.Tick(0, 1)
	assert.Equal(t, NotStarted, d.State())
	assert.False(t, d.Exhausted())

	d.Tick(1, 1)
	assert.Equal(t, 1.0, d.Progress())
	assert.Equal(t, Exploring, d.State())
	assert.True(t, d.Exhausted())

	d.Tick(1, 1)
	assert.Equal(t, Exploring, d.State())
	assert.Equal(t, []int{A, B}, d.Passed())

	d.Tick(1, 1)
	assert.Equal(t, 3.0, d.Progress())
	assert.Equal(t, Complete, d.State())
	assert.True(t, d.Snapshot().Exhausted)
}

func TestRewindHold(t *testing.T) {
	d := New(sequence(A, B, C, A), planar{}, 2)
	d.Tick(2, 1)
	d.Tick(-5, 1)
	assert.Equal(t, 2.0, d.Progress())
	assert.Equal(t, []int{A, B, C}, d.Passed())
}

func TestRewindReplay(t *testing.T) {
	d := New(sequence(A, B, C, A), planar{}, 2, WithRewind(RewindReplay))
	d.Tick(3, 1)
	require.Equal(t, []int{A, B, C}, d.Passed())
	require.Equal(t, Complete, d.State())

	d.Tick(-1.5, 1)
	assert.Equal(t, 1.5, d.Progress())
	assert.Equal(t, []int{A, B}, d.Passed())
	assert.False(t, d.IsPassed(C))
	assert.Equal(t, Counter{Papers: 1, Included: 1}, d.Count(A))
	assert.Equal(t, Exploring, d.State())

	d.Tick(-100, 1)
	assert.Equal(t, 0.0, d.Progress())
	assert.Equal(t, []int{A}, d.Passed())
}

func TestSetDepthRebuilds(t *testing.T) {
	d := New(sequence(A, B, C, A), planar{}, 2)
	d.Tick(2, 1)
	require.Equal(t, []int{A, B, C}, d.Passed())

	d.SetDepth(3)
	assert.Equal(t, 3, d.Depth())
	assert.Equal(t, []int{0, 1}, d.Passed())
	assert.Equal(t, Counter{Papers: 2, Included: 2}, d.Count(0))
	_, id, _ := d.Current()
	assert.Equal(t, 1, id)

	d.SetDepth(42)
	assert.Equal(t, paper.MaxDepth, d.Depth())
}

func TestEmptyPapers(t *testing.T) {
	d := New(&fakePapers{}, planar{}, 2)
	d.Tick(10, 1)
	assert.Equal(t, NotStarted, d.State())
	assert.Empty(t, d.Passed())
	_, _, ok := d.Current()
	assert.False(t, ok)
}

func TestNonFiniteDeltaIgnored(t *testing.T) {
	d := New(sequence(A, B, C), planar{}, 2)
	d.Tick(1, 1)
	d.Tick(math.Inf(1), 1)
	d.Tick(math.NaN(), 1)
	assert.Equal(t, 1.0, d.Progress())
}

func TestResetAndSnapshot(t *testing.T) {
	d := New(sequence(A, B, C), planar{}, 2)
	d.Tick(1, 1)

	s := d.Snapshot()
	assert.Equal(t, Exploring, s.State)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.Equal(t, "b", s.CurrentTitle)
	assert.Equal(t, B, s.CurrentCluster)
	assert.Equal(t, "label", s.CurrentLabel)
	assert.Equal(t, "hold", s.Rewind)
	assert.True(t, s.IsPassed(B))

	// The snapshot does not follow the driver.
	d.Tick(1, 1)
	assert.Equal(t, []int{A, B}, s.Passed)
	assert.False(t, s.IsPassed(C))

	d.Reset()
	assert.Equal(t, NotStarted, d.State())
	assert.Zero(t, d.Progress())
	assert.Empty(t, d.Passed())
	assert.Zero(t, d.IncludedSeen())
}

func TestParseRewindPolicy(t *testing.T) {
	p, err := ParseRewindPolicy("Replay")
	require.NoError(t, err)
	assert.Equal(t, RewindReplay, p)
	p, err = ParseRewindPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RewindHold, p)
	_, err = ParseRewindPolicy("rewind")
	assert.Error(t, err)
}
