package editor

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Conflict markers put around the two sides of an overlapping change.
var (
	MarkerOther = "\n---- /!\\ '''Edit conflict - other version:''' ----\n"
	MarkerMine  = "\n---- /!\\ '''Edit conflict - your version:''' ----\n"
	MarkerEnd   = "\n---- /!\\ '''End of edit conflict''' ----\n"
)

// Merge combines two texts that were both derived from base. Changes made
// on one side only are taken over. Where both sides changed the same lines
// differently, both versions are kept between conflict markers. It returns
// the merged text and the number of conflicts.
func Merge(base, other, mine string) (string, int) {
	b, o, m := splitLines(base), splitLines(other), splitLines(mine)
	var out strings.Builder
	var conflicts int
	var ib, io, im int
	for _, r := range syncRegions(b, o, m) {
		ochunk, mchunk, bchunk := o[io:r.o1], m[im:r.m1], b[ib:r.b1]
		if len(ochunk) > 0 || len(mchunk) > 0 {
			switch {
			case equal(ochunk, mchunk), equal(mchunk, bchunk):
				write(&out, ochunk)
			case equal(ochunk, bchunk):
				write(&out, mchunk)
			default:
				conflicts++
				out.WriteString(MarkerOther)
				write(&out, ochunk)
				out.WriteString(MarkerMine)
				write(&out, mchunk)
				out.WriteString(MarkerEnd)
			}
		}
		write(&out, b[r.b1:r.b2])
		ib, io, im = r.b2, r.o2, r.m2
	}
	return out.String(), conflicts
}

// HasConflictMarkers reports whether text still contains an unresolved
// conflict.
func HasConflictMarkers(text string) bool {
	return strings.Contains(text, MarkerOther) || strings.Contains(text, MarkerEnd)
}

// region is a run of lines unchanged on both sides: b[b1:b2] equals
// o[o1:o2] and m[m1:m2].
type region struct {
	b1, b2 int
	o1, o2 int
	m1, m2 int
}

func syncRegions(b, o, m []string) []region {
	om := difflib.NewMatcherWithJunk(b, o, false, nil).GetMatchingBlocks()
	mm := difflib.NewMatcherWithJunk(b, m, false, nil).GetMatchingBlocks()
	var result []region
	for i, j := 0, 0; i < len(om) && j < len(mm); {
		x, y := om[i], mm[j]
		lo := max(x.A, y.A)
		hi := min(x.A+x.Size, y.A+y.Size)
		if lo < hi {
			n := hi - lo
			oStart := x.B + lo - x.A
			mStart := y.B + lo - y.A
			result = append(result, region{lo, hi, oStart, oStart + n, mStart, mStart + n})
		}
		if x.A+x.Size < y.A+y.Size {
			i++
		} else {
			j++
		}
	}
	return append(result, region{len(b), len(b), len(o), len(o), len(m), len(m)})
}

// splitLines returns the lines of s, each ending in a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

func write(out *strings.Builder, lines []string) {
	for _, l := range lines {
		out.WriteString(l)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
