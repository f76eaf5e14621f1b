package tree

import (
	"strconv"
	"strings"
)

// Format renders n as an s-expression, one attribute per line. It is used
// for debugging and golden files.
//
//	(binary_operator
//	  :children [(identifier :text [$a]) "+" (identifier :text [$b])])
func Format(n *Node) string {
	var b strings.Builder
	format(&b, n, 0)
	return b.String()
}

func format(b *strings.Builder, n *Node, depth int) {
	if n == nil {
		b.WriteString("()")
		return
	}
	b.WriteByte('(')
	b.WriteString(n.Type)
	for _, a := range n.Attrs {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("  ", depth+1))
		b.WriteByte(':')
		b.WriteString(a.Key)
		b.WriteString(" [")
		for i, v := range a.Values {
			if i > 0 {
				b.WriteByte(' ')
			}
			switch v.Kind {
			case KindNode:
				format(b, v.Node, depth+1)
			case KindLiteral:
				b.WriteString(strconv.Quote(v.Text))
			case KindIdent:
				b.WriteByte('$')
				b.WriteString(v.Text)
			case KindRef:
				b.WriteByte('#')
				b.WriteString(string(v.Ref))
			default:
				b.WriteString("?")
			}
		}
		b.WriteByte(']')
	}
	b.WriteByte(')')
}
