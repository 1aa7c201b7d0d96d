package paper

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"

	"web/papercloud/textenc"
)

// Load failures. Both are returned wrapped in a *LoadError.
var (
	ErrSourceUnavailable = errors.New("paper source unavailable")
	ErrMalformedStream   = errors.New("malformed paper stream")
)

// maxLineSize bounds a single row. Longer lines fail the load.
const maxLineSize = 16 << 20

// LoadError describes why a dataset could not be loaded.
type LoadError struct {
	Path  string
	Kind  error // ErrSourceUnavailable or ErrMalformedStream
	Cause error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Cause)
}

func (e *LoadError) Unwrap() []error { return []error{e.Kind, e.Cause} }

// Store owns the papers of one dataset in load order.
type Store struct {
	papers       []Paper
	numIncluded  int
	lastIndex    int
	size         int64
	verticesSize int64

	delim    rune
	encoding encoding.Encoding
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithDelimiter sets the field delimiter. The default is ','.
func WithDelimiter(r rune) Option {
	return func(s *Store) { s.delim = r }
}

// WithEncoding sets the text encoding of the source.
func WithEncoding(enc encoding.Encoding) Option {
	return func(s *Store) { s.encoding = enc }
}

// NewStore returns an empty store. Without WithEncoding the encoding of the
// active locale is used.
func NewStore(opts ...Option) *Store {
	s := &Store{
		delim: ',',
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoding == nil {
		s.encoding = textenc.LocaleEncoding()
	}
	return s
}

// Load replaces the contents of the store with the dataset at path and
// returns the number of papers accepted.
func (s *Store) Load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		s.reset()
		s.log.Error().Err(err).Str("path", path).Msg("failed to read dataset")
		return 0, &LoadError{Path: path, Kind: ErrSourceUnavailable, Cause: err}
	}
	defer f.Close()

	n, err := s.LoadReader(f)
	var lerr *LoadError
	if errors.As(err, &lerr) {
		lerr.Path = path
	}
	if err == nil {
		s.log.Info().
			Str("path", path).
			Int("rows", n).
			Int("included", s.numIncluded).
			Int("last_index", s.lastIndex).
			Float64("size_mb", float64(s.size)/1e6).
			Msg("Loaded dataset")
	}
	return n, err
}

// LoadReader is Load for an arbitrary reader. The first line is a header and
// is skipped unconditionally. Rows with the wrong field count are dropped
// without failing the load.
func (s *Store) LoadReader(r io.Reader) (int, error) {
	s.reset()
	start := time.Now()

	sc := bufio.NewScanner(textenc.NewReader(r, s.encoding))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		papers   []Paper
		included int
		last     int
		skipped  int
		header   = true
	)
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		line := strings.TrimSuffix(sc.Text(), "\r")
		p, err := ParseRecord(SplitRow(line, s.delim), len(papers))
		if err != nil {
			skipped++
			continue
		}
		if p.Included {
			included++
			last = p.Index
		}
		papers = append(papers, p)
		if len(papers)%100000 == 0 {
			s.log.Debug().Int("rows", len(papers)).Int("included", included).Int("last_index", last).Msg("Loading papers")
		}
	}
	if err := sc.Err(); err != nil {
		return 0, &LoadError{Kind: ErrMalformedStream, Cause: err}
	}

	s.papers = papers
	s.numIncluded = included
	s.lastIndex = last
	s.size = footprint(papers)

	s.log.Debug().
		Int("rows", len(papers)).
		Int("skipped", skipped).
		Dur("took", time.Since(start)).
		Msg("Parsed papers")
	return len(papers), nil
}

func (s *Store) reset() {
	s.papers = nil
	s.numIncluded = 0
	s.lastIndex = 0
	s.size = 0
	s.verticesSize = 0
}

// footprint estimates the bytes held by papers, strings included.
func footprint(papers []Paper) int64 {
	size := int64(unsafe.Sizeof(Paper{})) * int64(len(papers))
	for i := range papers {
		p := &papers[i]
		size += int64(len(p.Title))
		for d := 0; d < NumDepths; d++ {
			size += int64(len(p.Planar.Labels[d]) + len(p.Spatial.Labels[d]))
		}
	}
	return size
}

// Vertices returns the per-paper instance buffer handed to the renderer:
// x, y, z scaled by scale, the inclusion flag as 0 or 1 and the ordinal.
func (s *Store) Vertices(scale float64) []float32 {
	const stride = 5
	vertices := make([]float32, 0, len(s.papers)*stride)
	included, excluded := 0, 0
	for i := range s.papers {
		p := &s.papers[i]
		flag := float32(0)
		if p.Included {
			flag = 1
			included++
		} else {
			excluded++
		}
		vertices = append(vertices,
			float32(p.Pos3D.X*scale),
			float32(p.Pos3D.Y*scale),
			float32(p.Pos3D.Z*scale),
			flag,
			float32(i),
		)
	}
	s.verticesSize = int64(len(vertices)) * int64(unsafe.Sizeof(float32(0)))
	s.log.Debug().
		Int("vertices", len(s.papers)).
		Int64("size_kb", s.verticesSize/1000).
		Int("included", included).
		Int("not_included", excluded).
		Msg("Built instance buffer")
	return vertices
}

// Paper returns the paper at the truncated progress position. Progress is
// clamped to [0, Len()-1] before truncation; NaN maps to 0. The bool is false
// only for an empty store.
func (s *Store) Paper(progress float64) (Paper, bool) {
	if len(s.papers) == 0 {
		return Paper{}, false
	}
	if math.IsNaN(progress) {
		progress = 0
	}
	progress = max(0, min(float64(len(s.papers)-1), progress))
	return s.papers[int(progress)], true
}

// At returns the paper with ordinal i. It panics when i is out of range.
func (s *Store) At(i int) Paper { return s.papers[i] }

// Papers returns the papers in load order. Callers must not modify it.
func (s *Store) Papers() []Paper { return s.papers }

// Len is the number of papers loaded.
func (s *Store) Len() int { return len(s.papers) }

// NumIncluded is the number of papers with the inclusion flag set.
func (s *Store) NumIncluded() int { return s.numIncluded }

// LastIndex is the ordinal of the last included paper, 0 when none is.
func (s *Store) LastIndex() int { return s.lastIndex }

// Size is the estimated in-memory footprint of the papers in bytes.
func (s *Store) Size() int64 { return s.size }

// VerticesSize is the byte size of the last buffer built by Vertices.
func (s *Store) VerticesSize() int64 { return s.verticesSize }
