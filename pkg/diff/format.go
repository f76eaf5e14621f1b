package diff

import (
	"io"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Hunks groups the changes of lines into unified-diff hunks with context
// unchanged lines on each side. A negative context yields one hunk holding
// every line.
func Hunks(lines []Line, context int) []*godiff.Hunk {
	keep := visible(lines, context)
	var (
		hunks             []*godiff.Hunk
		cur               *godiff.Hunk
		origLine, newLine int32
	)
	for i, l := range lines {
		if !keep[i] {
			cur = nil
		} else {
			if cur == nil {
				cur = &godiff.Hunk{OrigStartLine: origLine + 1, NewStartLine: newLine + 1}
				hunks = append(hunks, cur)
			}
			cur.Body = append(cur.Body, marker(l.Op))
			cur.Body = append(cur.Body, l.Text...)
			cur.Body = append(cur.Body, '\n')
			if l.Op != Insert {
				cur.OrigLines++
			}
			if l.Op != Delete {
				cur.NewLines++
			}
		}
		if l.Op != Insert {
			origLine++
		}
		if l.Op != Delete {
			newLine++
		}
	}
	for _, h := range hunks {
		if h.OrigLines == 0 {
			h.OrigStartLine--
		}
		if h.NewLines == 0 {
			h.NewStartLine--
		}
	}
	return hunks
}

// Format writes lines as a unified diff between from and to.
func Format(w io.Writer, from, to string, lines []Line, context int) error {
	out, err := godiff.PrintFileDiff(&godiff.FileDiff{
		OrigName: from,
		NewName:  to,
		Hunks:    Hunks(lines, context),
	})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func marker(op Op) byte {
	switch op {
	case Insert:
		return '+'
	case Delete:
		return '-'
	}
	return ' '
}

// visible marks changed lines and the context lines around them.
func visible(lines []Line, context int) []bool {
	keep := make([]bool, len(lines))
	if context < 0 {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	for i, l := range lines {
		if l.Op == Equal {
			continue
		}
		for j := max(0, i-context); j <= min(len(lines)-1, i+context); j++ {
			keep[j] = true
		}
	}
	return keep
}
