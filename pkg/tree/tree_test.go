package tree

import (
	"strings"
	"testing"
)

func TestAddMergesKeys(t *testing.T) {
	n := New("call").Add("args", Ident("a")).Add("args", Lit("1"))
	if len(n.Attrs) != 1 {
		t.Fatalf("Attrs: got %d, want 1", len(n.Attrs))
	}
	vals := n.Get("args")
	if len(vals) != 2 || vals[0].Kind != KindIdent || vals[1].Kind != KindLiteral {
		t.Errorf("args: got %+v", vals)
	}
	if n.Get("missing") != nil {
		t.Error("Get on missing key should be nil")
	}
}

func TestWalkPreorder(t *testing.T) {
	leaf := New("identifier").Add("text", Ident("x"))
	root := New("module").Add("children", Child(New("comment")), Child(New("expr").Add("children", Child(leaf))))
	var seen []string
	Walk(root, func(n *Node) bool {
		seen = append(seen, n.Type)
		return !n.IsComment()
	})
	if got := strings.Join(seen, ","); got != "module,comment,expr,identifier" {
		t.Errorf("Walk order: got %s", got)
	}
}

func TestFormat(t *testing.T) {
	n := New("binop").Add("children", Child(New("identifier").Add("text", Ident("a"))), Lit("+"), Ref("ff"))
	want := "(binop\n  :children [(identifier\n    :text [$a]) \"+\" #ff])"
	if got := Format(n); got != want {
		t.Errorf("Format:\ngot  %q\nwant %q", got, want)
	}
}
