// Package diff compares two stored functions line by line, either as
// rendered source or as canonical tuples.
package diff

import (
	"strings"

	"github.com/odvcencio/babel/pkg/object"
)

// Op classifies a line of an edit script.
type Op int

const (
	Equal  Op = iota // present in both
	Insert           // present in b only
	Delete           // present in a only
)

// Line is one entry of an edit script.
type Line struct {
	Op   Op
	Text string
}

// Lines returns the shortest edit script turning a into b, one entry per
// line. A trailing newline does not produce an empty last line.
func Lines(a, b []byte) []Line {
	return Myers(split(string(a)), split(string(b)))
}

// Tuples diffs the canonical serializations of two objects. Equal hashes
// give an all-Equal script.
func Tuples(a, b *object.CodeObject) []Line {
	return Lines(object.MarshalTuples(a.Tuples), object.MarshalTuples(b.Tuples))
}

// Changed reports whether the script contains an insertion or deletion.
func Changed(lines []Line) bool {
	for _, l := range lines {
		if l.Op != Equal {
			return true
		}
	}
	return false
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// Myers computes the shortest edit script between a and b in O((N+M)D).
func Myers(a, b []string) []Line {
	n, m := len(a), len(b)
	limit := n + m
	if limit == 0 {
		return nil
	}
	offset := limit
	v := make([]int, 2*limit+1)
	var trace [][]int
	for d := 0; d <= limit; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				trace = append(trace, append([]int(nil), v...))
				return backtrack(trace, a, b, offset)
			}
		}
		trace = append(trace, append([]int(nil), v...))
	}
	return nil
}

// backtrack walks trace from the end, where trace[d] is v after step d.
func backtrack(trace [][]int, a, b []string, offset int) []Line {
	x, y := len(a), len(b)
	var out []Line
	for d := len(trace) - 1; d > 0; d-- {
		prev := trace[d-1]
		k := x - y
		var prevK int
		if k == -d || (k != d && prev[offset+k-1] < prev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := prev[offset+prevK]
		prevY := prevX - prevK
		for x > prevX && y > prevY {
			x--
			y--
			out = append(out, Line{Equal, a[x]})
		}
		if prevK == k-1 {
			x--
			out = append(out, Line{Delete, a[x]})
		} else {
			y--
			out = append(out, Line{Insert, b[y]})
		}
	}
	for x > 0 && y > 0 {
		x--
		y--
		out = append(out, Line{Equal, a[x]})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
