package paper

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/text/unicode/norm"
)

// SchemaWidth is the number of fields of a well formed row.
const SchemaWidth = 27

// Column offsets of the dataset schema.
const (
	colTitle    = 0
	colIncluded = 1
	colPos2D    = 2
	colPos3D    = 4
	colIDs      = 7  // 10 ids interleaved: 2_2d, 2_3d, 3_2d, 3_3d, ...
	colPlanarLb = 17 // planar labels for depths 2..6
	colSpatLb   = 22 // spatial labels for depths 2..6
)

// ErrRowMalformed reports a row whose field count differs from SchemaWidth.
var ErrRowMalformed = errors.New("malformed row")

// SplitRow splits line on delim. Delimiters inside a quoted region are kept
// as literal text. The quote state flips on every '"' wherever it appears, so
// escaped quotes ("") are not understood. The field after the last
// delimiter is always returned, and fields keep their quote characters.
func SplitRow(line string, delim rune) []string {
	fields := make([]string, 0, SchemaWidth)
	quoted := false
	start := 0
	for i, r := range line {
		if r == '"' {
			quoted = !quoted
		}
		if !quoted && r == delim {
			fields = append(fields, line[start:i])
			start = i + utf8.RuneLen(delim)
		}
	}
	return append(fields, line[start:])
}

// JoinRow is the inverse of SplitRow for unquoted fields: fields holding the
// delimiter are wrapped in quotes unless they already are.
func JoinRow(fields []string, delim rune) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteRune(delim)
		}
		if strings.ContainsRune(f, delim) && !isQuoted(f) {
			b.WriteByte('"')
			b.WriteString(f)
			b.WriteByte('"')
			continue
		}
		b.WriteString(f)
	}
	return b.String()
}

// Unquote strips one surrounding pair of double quotes.
func Unquote(field string) string {
	if isQuoted(field) {
		return field[1 : len(field)-1]
	}
	return field
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// ParseRecord builds the paper at ordinal index from the fields of one row.
func ParseRecord(fields []string, index int) (Paper, error) {
	if len(fields) != SchemaWidth {
		return Paper{}, fmt.Errorf("%w: %d fields, want %d", ErrRowMalformed, len(fields), SchemaWidth)
	}

	p := Paper{
		Index:    index,
		Title:    text(fields[colTitle]),
		Included: parseInt(fields[colIncluded]) != 0,
		Pos2D: r2.Vec{
			X: parseFloat(fields[colPos2D]),
			Y: parseFloat(fields[colPos2D+1]),
		},
		Pos3D: r3.Vec{
			X: parseFloat(fields[colPos3D]),
			Y: parseFloat(fields[colPos3D+1]),
			Z: parseFloat(fields[colPos3D+2]),
		},
	}
	for d := 0; d < NumDepths; d++ {
		p.Planar.IDs[d] = parseInt(fields[colIDs+2*d])
		p.Spatial.IDs[d] = parseInt(fields[colIDs+2*d+1])
		p.Planar.Labels[d] = text(fields[colPlanarLb+d])
		p.Spatial.Labels[d] = text(fields[colSpatLb+d])
	}
	return p, nil
}

func text(field string) string {
	return norm.NFC.String(Unquote(field))
}

// numeric trims what a stream extraction would skip before reading a number.
func numeric(field string) string {
	return strings.TrimSpace(Unquote(strings.TrimSpace(field)))
}

// parseInt reads the longest integer prefix of field, 0 if there is none.
// Values out of range saturate.
func parseInt(field string) int {
	s := numeric(field)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	v, err := strconv.ParseInt(s[:end], 10, 0)
	if err != nil {
		if s[0] == '-' {
			return math.MinInt
		}
		return math.MaxInt
	}
	return int(v)
}

// parseFloat reads the longest decimal floating point prefix of field, 0 if
// there is none.
func parseFloat(field string) float64 {
	s := numeric(field)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	mantissa := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		mantissa++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			mantissa++
		}
	}
	if mantissa == 0 {
		return 0
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		digits := exp
		for exp < len(s) && s[exp] >= '0' && s[exp] <= '9' {
			exp++
		}
		if exp > digits {
			end = exp
		}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return v
}
