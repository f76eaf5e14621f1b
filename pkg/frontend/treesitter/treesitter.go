// Package treesitter is a front end over the pure-Go tree-sitter runtime. It
// accepts any language the bundled grammars detect from a file name.
//
// Every token of the function becomes a leaf node carrying its text. Plain
// identifiers become bindable names unless they are language builtins,
// attribute names or keyword-argument names. An identifier spelled
// object_<hash> becomes a reference to that stored function. Comments and
// docstrings are kept out of the tree; the text between tokens is returned
// as layout so the original source renders back byte for byte.
package treesitter

import (
	"fmt"
	"sort"
	"strings"

	gotreesitter "github.com/odvcencio/gotreesitter"
	"github.com/odvcencio/gotreesitter/grammars"

	"github.com/odvcencio/babel/pkg/frontend"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// Attribute keys of produced nodes.
const (
	KeyChildren = "c"
	KeyText     = "text"
)

// RefPrefix marks an identifier that names a stored function by hash.
const RefPrefix = "object_"

var functionTypes = map[string]bool{
	"function_definition":  true, // python, c, cpp
	"function_declaration": true, // go, javascript, typescript
	"method_declaration":   true, // go, java
	"function_item":        true, // rust
	"decorated_definition": true, // python
}

var builtins = map[string]map[string]bool{
	"python": set("print", "len", "range", "int", "str", "float", "list", "dict",
		"set", "tuple", "bool", "abs", "min", "max", "sum", "sorted", "reversed",
		"enumerate", "zip", "map", "filter", "isinstance", "type", "object", "super",
		"open", "iter", "next", "any", "all", "repr", "hash", "id", "round", "divmod",
		"pow", "chr", "ord", "format", "getattr", "setattr", "hasattr", "callable",
		"Exception", "ValueError", "TypeError", "KeyError", "IndexError", "self", "cls"),
	"go": set("append", "cap", "clear", "close", "complex", "copy", "delete", "imag",
		"len", "make", "max", "min", "new", "panic", "print", "println", "real", "recover"),
	"javascript": set("console", "Math", "JSON", "Object", "Array", "String", "Number",
		"Boolean", "Promise", "Error", "Symbol", "Map", "Set", "undefined", "parseInt",
		"parseFloat", "isNaN", "require", "module", "exports"),
}

func init() {
	builtins["typescript"] = builtins["javascript"]
	builtins["tsx"] = builtins["javascript"]
}

func set(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// FrontEnd implements frontend.FrontEnd.
type FrontEnd struct{}

// New returns the tree-sitter front end.
func New() *FrontEnd { return &FrontEnd{} }

// Detect names the grammar for filename, or "" when none matches.
func Detect(filename string) string {
	if entry := grammars.DetectLanguage(filename); entry != nil {
		return entry.Name
	}
	return ""
}

type span struct{ start, end uint32 }

type parser struct {
	bt       *gotreesitter.BoundTree
	src      []byte
	lang     string
	leaves   []span
	skipped  []span
	comments []string
	doc      string
	docNode  *gotreesitter.Node
}

// Parse splits the single top-level function of src into a tree and its
// surface text.
func (f *FrontEnd) Parse(filename string, src []byte) (*frontend.Parsed, error) {
	entry := grammars.DetectLanguage(filename)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", frontend.ErrUnsupportedLanguage, filename)
	}
	bt, err := grammars.ParseFile(filename, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", frontend.ErrSyntax, err)
	}
	defer bt.Release()

	root := bt.RootNode()
	var fn *gotreesitter.Node
	var leading []string
	var pending []string
	for i := 0; i < root.ChildCount(); i++ {
		child := root.Child(i)
		typ := bt.NodeType(child)
		switch {
		case typ == "ERROR":
			return nil, fmt.Errorf("%w: %s at byte %d", frontend.ErrSyntax, filename, child.StartByte())
		case functionTypes[typ]:
			if fn != nil {
				return nil, fmt.Errorf("%w: %s defines more than one", frontend.ErrNoFunction, filename)
			}
			fn = child
			leading = pending
		case isComment(typ):
			pending = append(pending, bt.NodeText(child))
		default:
			pending = nil
		}
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", frontend.ErrNoFunction, filename)
	}

	p := &parser{bt: bt, src: src, lang: entry.Name}
	p.findDocstring(fn)
	n, err := p.node(fn, nil, 0)
	if err != nil {
		return nil, err
	}
	layout, err := p.layout(fn)
	if err != nil {
		return nil, err
	}

	doc := p.doc
	if doc == "" && len(leading) > 0 {
		doc = commentText(leading)
	}
	return &frontend.Parsed{
		Tree:      n,
		Source:    entry.Name,
		Docstring: doc,
		Comment:   commentText(p.comments),
		Layout:    layout,
	}, nil
}

// findDocstring marks a Python docstring: a string expression that opens the
// function body.
func (p *parser) findDocstring(fn *gotreesitter.Node) {
	if p.lang != "python" {
		return
	}
	if p.bt.NodeType(fn) == "decorated_definition" {
		for i := 0; i < fn.NamedChildCount(); i++ {
			if c := fn.NamedChild(i); p.bt.NodeType(c) == "function_definition" {
				fn = c
			}
		}
	}
	for i := 0; i < fn.NamedChildCount(); i++ {
		body := fn.NamedChild(i)
		if p.bt.NodeType(body) != "block" || body.NamedChildCount() == 0 {
			continue
		}
		stmt := body.NamedChild(0)
		if p.bt.NodeType(stmt) != "expression_statement" || stmt.NamedChildCount() != 1 {
			return
		}
		if str := stmt.NamedChild(0); p.bt.NodeType(str) == "string" {
			p.docNode = stmt
			p.doc = unquote(p.bt.NodeText(str))
		}
		return
	}
}

func (p *parser) skip(n *gotreesitter.Node) {
	p.skipped = append(p.skipped, span{n.StartByte(), n.EndByte()})
}

// node converts n. parent and index locate n among its parent's children.
func (p *parser) node(n, parent *gotreesitter.Node, index int) (*tree.Node, error) {
	typ := p.bt.NodeType(n)
	if typ == "ERROR" {
		return nil, fmt.Errorf("%w: at byte %d", frontend.ErrSyntax, n.StartByte())
	}
	out := tree.New(typ)
	if n.ChildCount() == 0 || isAtomic(typ) {
		p.leaves = append(p.leaves, span{n.StartByte(), n.EndByte()})
		return out.Add(KeyText, p.leafValue(n, parent, index)), nil
	}
	for i := 0; i < n.ChildCount(); i++ {
		child := n.Child(i)
		childType := p.bt.NodeType(child)
		if isComment(childType) {
			p.comments = append(p.comments, p.bt.NodeText(child))
			p.skip(child)
			continue
		}
		if p.docNode != nil && child.StartByte() == p.docNode.StartByte() && childType == p.bt.NodeType(p.docNode) {
			p.skip(child)
			continue
		}
		c, err := p.node(child, n, i)
		if err != nil {
			return nil, err
		}
		out.Add(KeyChildren, tree.Child(c))
	}
	return out, nil
}

func (p *parser) leafValue(n, parent *gotreesitter.Node, index int) tree.Value {
	text := p.bt.NodeText(n)
	if p.bt.NodeType(n) != "identifier" {
		return tree.Lit(text)
	}
	if rest, ok := strings.CutPrefix(text, RefPrefix); ok && object.ValidateHash(object.Hash(rest)) == nil {
		return tree.Ref(object.Hash(rest))
	}
	if builtins[p.lang][text] {
		return tree.Lit(text)
	}
	if parent != nil {
		switch p.bt.NodeType(parent) {
		case "attribute":
			if index > 0 {
				return tree.Lit(text)
			}
		case "keyword_argument":
			if index == 0 {
				return tree.Lit(text)
			}
		}
	}
	return tree.Ident(text)
}

// layout returns the text around and between leaves. Between two leaves only
// whitespace and skipped comments may appear; anything else is logic the
// grammar did not surface as a token.
func (p *parser) layout(fn *gotreesitter.Node) ([]string, error) {
	events := make([]span, 0, len(p.leaves)+len(p.skipped))
	events = append(events, p.leaves...)
	events = append(events, p.skipped...)
	sort.Slice(events, func(i, j int) bool { return events[i].start < events[j].start })

	cursor := fn.StartByte()
	for _, ev := range events {
		if ev.start < cursor {
			continue
		}
		if gap := p.src[cursor:ev.start]; strings.TrimSpace(string(gap)) != "" {
			return nil, fmt.Errorf("%w: untokenized text %q at byte %d", object.ErrUnsupportedConstruct, gap, cursor)
		}
		cursor = ev.end
	}

	out := make([]string, 0, len(p.leaves)+1)
	prev := uint32(0)
	for _, leaf := range p.leaves {
		out = append(out, string(p.src[prev:leaf.start]))
		prev = leaf.end
	}
	out = append(out, string(p.src[prev:]))
	return out, nil
}

// Render prints root through m. With a layout that fits the tree the output
// is the original source; otherwise tokens are joined by single spaces.
func (f *FrontEnd) Render(root *tree.Node, m *object.Mapping) ([]byte, error) {
	if m == nil {
		m = &object.Mapping{}
	}
	var tokens []string
	var walkErr error
	tree.Walk(root, func(n *tree.Node) bool {
		vals := n.Get(KeyText)
		if len(vals) == 0 {
			return true
		}
		if len(vals) != 1 {
			walkErr = fmt.Errorf("%w: leaf %s has %d texts", object.ErrUnsupportedConstruct, n.Type, len(vals))
			return false
		}
		tokens = append(tokens, spell(vals[0], m))
		return false
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var b strings.Builder
	if len(m.Layout) == len(tokens)+1 {
		for i, tok := range tokens {
			b.WriteString(m.Layout[i])
			b.WriteString(tok)
		}
		b.WriteString(m.Layout[len(tokens)])
		return []byte(b.String()), nil
	}
	b.WriteString(strings.Join(tokens, " "))
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func spell(v tree.Value, m *object.Mapping) string {
	switch v.Kind {
	case tree.KindIdent:
		if name, ok := m.Names[v.Text]; ok {
			return name
		}
	case tree.KindRef:
		if name, ok := m.Aliases[v.Ref]; ok {
			return name
		}
		return RefPrefix + string(v.Ref)
	}
	return v.Text
}

func isComment(typ string) bool {
	return typ == "comment" || typ == "line_comment" || typ == "block_comment"
}

// isAtomic reports literal node types kept whole, so their contents stay in
// the hashed structure.
func isAtomic(typ string) bool {
	return strings.Contains(typ, "string") || strings.HasSuffix(typ, "_literal") || typ == "char"
}

func commentText(comments []string) string {
	lines := make([]string, 0, len(comments))
	for _, c := range comments {
		c = strings.TrimSpace(c)
		switch {
		case strings.HasPrefix(c, "//"):
			c = strings.TrimPrefix(c, "//")
		case strings.HasPrefix(c, "#"):
			c = strings.TrimPrefix(c, "#")
		case strings.HasPrefix(c, "/*"):
			c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
		}
		lines = append(lines, strings.TrimSpace(c))
	}
	return strings.Join(lines, "\n")
}

func unquote(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}
