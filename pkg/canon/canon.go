// Package canon turns a structural tree into its canonical tuple sequence
// and content hash.
//
// The hash depends on logic only. Identifier spellings are replaced by
// placeholders numbered in order of first appearance, comments and
// docstrings are dropped, and text is NFC-normalized so equivalent Unicode
// spellings of a literal or name agree.
package canon

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// TypeKey is the reserved attribute key holding a node's type.
const TypeKey = "@type"

// Value prefixes in the serialized tuple value.
const (
	prefixNode    = "n:"
	prefixLiteral = "l:"
	prefixVar     = "v:"
	prefixRef     = "h:"
)

const placeholderPrefix = "_v_"

// Placeholder returns the name bound to the i-th distinct identifier.
func Placeholder(i int) string {
	return placeholderPrefix + strconv.Itoa(i)
}

// ParsePlaceholder is the inverse of Placeholder.
func ParsePlaceholder(s string) (int, bool) {
	rest, ok := strings.CutPrefix(s, placeholderPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Options controls an encoding.
type Options struct {
	Algorithm object.Algorithm
	// Aliases resolves identifier spellings to stored functions. An aliased
	// identifier is encoded as a reference rather than a placeholder.
	Aliases map[string]object.Hash
}

// Canonical is the result of encoding one tree.
type Canonical struct {
	Hash      object.Hash
	Algorithm object.Algorithm
	Tuples    []object.Tuple // sorted
	// Names binds each placeholder to the spelling it replaced.
	Names map[string]string
	// Aliases binds each alias-resolved reference to the spelling used.
	Aliases map[object.Hash]string
	Refs    []object.Hash // sorted, distinct
}

type encoder struct {
	opts         Options
	nextID       int
	placeholders map[string]int
	names        map[string]string
	aliases      map[object.Hash]string
	refs         map[object.Hash]struct{}
	tuples       []object.Tuple
}

// Encode canonicalizes root. It fails with object.ErrUnsupportedConstruct
// and no partial result when any part of the tree cannot be encoded.
func Encode(root *tree.Node, opts Options) (*Canonical, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = object.DefaultAlgorithm
	}
	if root.IsComment() {
		return nil, fmt.Errorf("%w: root is a %s node", object.ErrUnsupportedConstruct, root.Type)
	}
	e := &encoder{
		opts:         opts,
		placeholders: make(map[string]int),
		names:        make(map[string]string),
		aliases:      make(map[object.Hash]string),
		refs:         make(map[object.Hash]struct{}),
	}
	if _, err := e.node(root); err != nil {
		return nil, err
	}
	object.SortTuples(e.tuples)

	hash, err := opts.Algorithm.Sum(object.DomainStructure, object.MarshalTuples(e.tuples))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	refs := make([]object.Hash, 0, len(e.refs))
	for h := range e.refs {
		refs = append(refs, h)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	return &Canonical{
		Hash:      hash,
		Algorithm: opts.Algorithm,
		Tuples:    e.tuples,
		Names:     e.names,
		Aliases:   e.aliases,
		Refs:      refs,
	}, nil
}

func (e *encoder) node(n *tree.Node) (int, error) {
	if n == nil {
		return 0, fmt.Errorf("%w: nil node", object.ErrUnsupportedConstruct)
	}
	typ := norm.NFC.String(n.Type)
	if typ == "" {
		return 0, fmt.Errorf("%w: node without a type", object.ErrUnsupportedConstruct)
	}
	id := e.nextID
	e.nextID++
	e.emit(id, TypeKey, 0, prefixLiteral+typ)

	attrs := make([]tree.Attr, len(n.Attrs))
	copy(attrs, n.Attrs)
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	for i, a := range attrs {
		if a.Key == "" || strings.HasPrefix(a.Key, "@") {
			return 0, fmt.Errorf("%w: attribute key %q on %s", object.ErrUnsupportedConstruct, a.Key, typ)
		}
		if i > 0 && attrs[i-1].Key == a.Key {
			return 0, fmt.Errorf("%w: duplicate attribute %q on %s", object.ErrUnsupportedConstruct, a.Key, typ)
		}
		index := 0
		for _, v := range a.Values {
			if v.Kind == tree.KindNode && v.Node.IsComment() {
				continue
			}
			enc, err := e.value(v)
			if err != nil {
				return 0, err
			}
			e.emit(id, a.Key, index, enc)
			index++
		}
	}
	return id, nil
}

func (e *encoder) value(v tree.Value) (string, error) {
	switch v.Kind {
	case tree.KindNode:
		id, err := e.node(v.Node)
		if err != nil {
			return "", err
		}
		return prefixNode + strconv.Itoa(id), nil
	case tree.KindLiteral:
		return prefixLiteral + norm.NFC.String(v.Text), nil
	case tree.KindIdent:
		spelling := norm.NFC.String(v.Text)
		if spelling == "" {
			return "", fmt.Errorf("%w: empty identifier", object.ErrUnsupportedConstruct)
		}
		if h, ok := e.opts.Aliases[spelling]; ok {
			if _, seen := e.aliases[h]; !seen {
				e.aliases[h] = spelling
			}
			return e.ref(h)
		}
		i, ok := e.placeholders[spelling]
		if !ok {
			i = len(e.placeholders)
			e.placeholders[spelling] = i
			e.names[Placeholder(i)] = spelling
		}
		return prefixVar + strconv.Itoa(i), nil
	case tree.KindRef:
		return e.ref(v.Ref)
	}
	return "", fmt.Errorf("%w: value kind %s", object.ErrUnsupportedConstruct, v.Kind)
}

func (e *encoder) ref(h object.Hash) (string, error) {
	if err := object.ValidateHash(h); err != nil {
		return "", fmt.Errorf("%w: %v", object.ErrUnsupportedConstruct, err)
	}
	e.refs[h] = struct{}{}
	return prefixRef + string(h), nil
}

func (e *encoder) emit(node int, key string, index int, value string) {
	e.tuples = append(e.tuples, object.Tuple{Node: node, Key: key, Index: index, Value: value})
}

// Rehash recomputes the content hash of a stored tuple set. Input order does
// not matter.
func Rehash(alg object.Algorithm, tuples []object.Tuple) (object.Hash, error) {
	if alg == "" {
		alg = object.DefaultAlgorithm
	}
	return alg.Sum(object.DomainStructure, object.MarshalTuples(tuples))
}

// RefValue is the tuple value that references h.
func RefValue(h object.Hash) string { return prefixRef + string(h) }

// Refs returns the distinct hashes referenced by tuples, sorted.
func Refs(tuples []object.Tuple) []object.Hash {
	seen := make(map[object.Hash]struct{})
	var out []object.Hash
	for _, t := range tuples {
		h, ok := strings.CutPrefix(t.Value, prefixRef)
		if !ok {
			continue
		}
		if _, dup := seen[object.Hash(h)]; dup {
			continue
		}
		seen[object.Hash(h)] = struct{}{}
		out = append(out, object.Hash(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Placeholders returns the distinct placeholder names used by tuples.
func Placeholders(tuples []object.Tuple) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tuples {
		rest, ok := strings.CutPrefix(t.Value, prefixVar)
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(rest); err == nil {
			out[Placeholder(i)] = true
		}
	}
	return out
}

// RewriteRef returns a copy of tuples with every reference to from replaced
// by to, and the number of tuples rewritten.
func RewriteRef(tuples []object.Tuple, from, to object.Hash) ([]object.Tuple, int) {
	out := make([]object.Tuple, len(tuples))
	copy(out, tuples)
	old := prefixRef + string(from)
	n := 0
	for i := range out {
		if out[i].Value == old {
			out[i].Value = prefixRef + string(to)
			n++
		}
	}
	return out, n
}
