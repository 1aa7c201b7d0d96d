// Package animation advances the exploration cursor through the papers and
// records which clusters it has passed.
package animation

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"web/papercloud/paper"
)

// State of the exploration.
type State int

const (
	NotStarted State = iota
	Exploring
	Complete
)

func (s State) String() string {
	switch s {
	case Exploring:
		return "exploring"
	case Complete:
		return "complete"
	}
	return "not-started"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not-started":
		*s = NotStarted
	case "exploring":
		*s = Exploring
	case "complete":
		*s = Complete
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// RewindPolicy decides what a negative progress delta does.
type RewindPolicy int

const (
	// RewindHold ignores negative deltas. Progress and passed clusters only
	// ever grow.
	RewindHold RewindPolicy = iota
	// RewindReplay moves the cursor back and recomputes the passed clusters
	// from the first paper up to the new position.
	RewindReplay
)

func (r RewindPolicy) String() string {
	if r == RewindReplay {
		return "replay"
	}
	return "hold"
}

func (r RewindPolicy) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RewindPolicy) UnmarshalText(b []byte) error {
	p, err := ParseRewindPolicy(string(b))
	if err != nil {
		return err
	}
	*r = p
	return nil
}

// ParseRewindPolicy accepts "hold" and "replay".
func ParseRewindPolicy(s string) (RewindPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hold":
		return RewindHold, nil
	case "replay":
		return RewindReplay, nil
	}
	return RewindHold, fmt.Errorf("unknown rewind policy %q", s)
}

// Papers is the read side of the paper store the driver walks.
type Papers interface {
	Len() int
	LastIndex() int
	Paper(progress float64) (paper.Paper, bool)
	At(i int) paper.Paper
}

// Lookup projects a paper onto its cluster.
type Lookup interface {
	ClusterID(p paper.Paper, depth int) int
	ClusterLabel(p paper.Paper, depth int) string
}

// Counter tallies the papers of one cluster the cursor has passed.
type Counter struct {
	Papers   int `json:"papers"`
	Included int `json:"included"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithRewind sets the rewind policy. The default is RewindHold.
func WithRewind(p RewindPolicy) Option {
	return func(d *Driver) { d.rewind = p }
}

// WithLogger sets the logger for state transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// Driver owns the progress cursor. It is not safe for concurrent use.
type Driver struct {
	papers   Papers
	clusters Lookup
	depth    int
	rewind   RewindPolicy
	log      zerolog.Logger

	progress float64
	visited  int // highest ordinal folded into passed, -1 before the first

	current        paper.Paper
	currentCluster int
	hasCurrent     bool

	passed       []int
	counts       map[int]*Counter
	includedSeen int
	state        State
}

// New returns a driver at the start of papers. Depth is clamped.
func New(papers Papers, clusters Lookup, depth int, opts ...Option) *Driver {
	d := &Driver{
		papers:   papers,
		clusters: clusters,
		depth:    paper.ClampDepth(depth),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Reset()
	return d
}

// Reset returns the driver to NotStarted.
func (d *Driver) Reset() {
	d.progress = 0
	d.visited = -1
	d.current = paper.Paper{}
	d.currentCluster = 0
	d.hasCurrent = false
	d.clearPassed()
	d.state = NotStarted
}

func (d *Driver) clearPassed() {
	d.passed = nil
	d.counts = make(map[int]*Counter)
	d.includedSeen = 0
}

// SetRewind changes the rewind policy for subsequent ticks.
func (d *Driver) SetRewind(p RewindPolicy) { d.rewind = p }

// Tick advances the cursor by speed papers per second over elapsed seconds
// and passes every cluster met on the way.
func (d *Driver) Tick(speed, elapsed float64) {
	delta := speed * elapsed
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		d.log.Warn().Float64("speed", speed).Float64("elapsed", elapsed).Msg("Ignoring non-finite progress delta")
		delta = 0
	}
	if delta < 0 && d.rewind == RewindHold {
		delta = 0
	}

	n := d.papers.Len()
	if n == 0 {
		return
	}
	d.progress = max(0, min(float64(n-1), d.progress+delta))

	eff := d.Effective()
	target := int(eff)
	if target < d.visited {
		d.replay(target)
	} else {
		for i := d.visited + 1; i <= target; i++ {
			d.visit(i)
		}
		d.visited = max(d.visited, target)
	}
	d.locate(eff)
	d.updateState()
}

// replay rebuilds the passed set over [0, target].
func (d *Driver) replay(target int) {
	d.clearPassed()
	for i := 0; i <= target; i++ {
		d.visit(i)
	}
	d.visited = target
}

func (d *Driver) visit(i int) {
	p := d.papers.At(i)
	id := d.clusters.ClusterID(p, d.depth)
	c, ok := d.counts[id]
	if !ok {
		c = &Counter{}
		d.counts[id] = c
		d.passed = append(d.passed, id)
	}
	c.Papers++
	if p.Included {
		c.Included++
		d.includedSeen++
	}
}

func (d *Driver) locate(eff float64) {
	p, ok := d.papers.Paper(eff)
	d.current = p
	d.hasCurrent = ok
	if ok {
		d.currentCluster = d.clusters.ClusterID(p, d.depth)
	}
}

// updateState derives the state from the raw cursor: NotStarted at 0,
// Complete at the last paper, Exploring in between.
func (d *Driver) updateState() {
	next := Exploring
	switch {
	case d.progress <= 0:
		next = NotStarted
	case d.progress >= float64(d.papers.Len()-1):
		next = Complete
	}
	if next != d.state {
		d.log.Debug().
			Stringer("from", d.state).
			Stringer("to", next).
			Float64("progress", d.progress).
			Int("passed", len(d.passed)).
			Msg("Exploration state changed")
		d.state = next
	}
}

// SetDepth switches the clustering depth and recomputes the passed clusters
// for the papers already visited.
func (d *Driver) SetDepth(depth int) {
	depth = paper.ClampDepth(depth)
	if depth == d.depth {
		return
	}
	d.depth = depth
	if d.visited >= 0 {
		d.replay(d.visited)
	}
	if d.hasCurrent {
		d.currentCluster = d.clusters.ClusterID(d.current, d.depth)
	}
}

// Depth is the active clustering depth.
func (d *Driver) Depth() int { return d.depth }

// Progress is the raw cursor, in papers.
func (d *Driver) Progress() float64 { return d.progress }

// Effective is the cursor capped at the last included paper.
func (d *Driver) Effective() float64 {
	return min(d.progress, float64(d.papers.LastIndex()))
}

// State reports the exploration state.
func (d *Driver) State() State { return d.state }

// Exhausted reports whether every included paper has been visited. It can
// hold while the cursor still has unincluded papers ahead of it.
func (d *Driver) Exhausted() bool {
	return d.visited >= 0 && d.visited >= d.papers.LastIndex()
}

// Current returns the paper under the cursor and its cluster. The bool is
// false before the first tick.
func (d *Driver) Current() (paper.Paper, int, bool) {
	return d.current, d.currentCluster, d.hasCurrent
}

// Passed returns the passed cluster ids in the order they were first met.
func (d *Driver) Passed() []int {
	return append([]int(nil), d.passed...)
}

// IsPassed reports whether the cursor has passed cluster id.
func (d *Driver) IsPassed(id int) bool {
	_, ok := d.counts[id]
	return ok
}

// Count returns the tally for cluster id.
func (d *Driver) Count(id int) Counter {
	if c, ok := d.counts[id]; ok {
		return *c
	}
	return Counter{}
}

// IncludedSeen is the number of included papers the cursor has passed.
func (d *Driver) IncludedSeen() int { return d.includedSeen }

// Snapshot is an immutable copy of the driver state.
type Snapshot struct {
	State          State           `json:"state"`
	Exhausted      bool            `json:"exhausted"`
	Progress       float64         `json:"progress"`
	Effective      float64         `json:"effective"`
	Depth          int             `json:"depth"`
	Rewind         string          `json:"rewind"`
	Visited        int             `json:"visited"`
	NumPapers      int             `json:"numPapers"`
	LastIndex      int             `json:"lastIndex"`
	HasCurrent     bool            `json:"hasCurrent"`
	CurrentIndex   int             `json:"currentIndex"`
	CurrentTitle   string          `json:"currentTitle"`
	CurrentCluster int             `json:"currentCluster"`
	CurrentLabel   string          `json:"currentLabel"`
	Passed         []int           `json:"passed"`
	Counts         map[int]Counter `json:"counts"`
	IncludedSeen   int             `json:"includedSeen"`
}

// IsPassed reports whether cluster id was passed when the snapshot was
// taken.
func (s *Snapshot) IsPassed(id int) bool {
	_, ok := s.Counts[id]
	return ok
}

// Snapshot copies the current state.
func (d *Driver) Snapshot() Snapshot {
	s := Snapshot{
		State:          d.state,
		Exhausted:      d.Exhausted(),
		Progress:       d.progress,
		Effective:      d.Effective(),
		Depth:          d.depth,
		Rewind:         d.rewind.String(),
		Visited:        d.visited,
		NumPapers:      d.papers.Len(),
		LastIndex:      d.papers.LastIndex(),
		HasCurrent:     d.hasCurrent,
		CurrentCluster: d.currentCluster,
		Passed:         d.Passed(),
		Counts:         make(map[int]Counter, len(d.counts)),
		IncludedSeen:   d.includedSeen,
	}
	if d.hasCurrent {
		s.CurrentIndex = d.current.Index
		s.CurrentTitle = d.current.Title
		s.CurrentLabel = d.clusters.ClusterLabel(d.current, d.depth)
	}
	for id, c := range d.counts {
		s.Counts[id] = *c
	}
	return s
}
