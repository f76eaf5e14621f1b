// Package tree defines the structural tree the canonical encoder consumes.
// A front end produces trees; the encoder never looks at source text.
package tree

import "github.com/odvcencio/babel/pkg/object"

// Node types with fixed meaning. Comment and docstring nodes travel with a
// tree for rendering but are never part of its hash.
const (
	TypeComment   = "comment"
	TypeDocstring = "docstring"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	KindNode    ValueKind = iota + 1 // nested node
	KindLiteral                      // token that is part of the logic
	KindIdent                        // bindable identifier, renamed by mappings
	KindRef                          // reference to a stored function
)

func (k ValueKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindLiteral:
		return "literal"
	case KindIdent:
		return "ident"
	case KindRef:
		return "ref"
	}
	return "invalid"
}

// Node is one vertex of a structural tree.
type Node struct {
	Type  string
	Attrs []Attr
}

// Attr is an ordered list of values under one key.
type Attr struct {
	Key    string
	Values []Value
}

// Value is one position of an attribute.
type Value struct {
	Kind ValueKind
	Node *Node       // KindNode
	Text string      // KindLiteral, KindIdent
	Ref  object.Hash // KindRef
}

// New returns a node of the given type with no attributes.
func New(typ string) *Node {
	return &Node{Type: typ}
}

// Add appends values under key, creating the attribute on first use.
// It returns n for chaining.
func (n *Node) Add(key string, values ...Value) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Key == key {
			n.Attrs[i].Values = append(n.Attrs[i].Values, values...)
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Values: values})
	return n
}

// Get returns the values stored under key.
func (n *Node) Get(key string) []Value {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Values
		}
	}
	return nil
}

// IsComment reports whether the node is dropped from hashing.
func (n *Node) IsComment() bool {
	return n != nil && (n.Type == TypeComment || n.Type == TypeDocstring)
}

func Child(n *Node) Value     { return Value{Kind: KindNode, Node: n} }
func Lit(text string) Value   { return Value{Kind: KindLiteral, Text: text} }
func Ident(name string) Value { return Value{Kind: KindIdent, Text: name} }
func Ref(h object.Hash) Value { return Value{Kind: KindRef, Ref: h} }

// Walk visits n and its descendants in preorder, attributes in stored order.
// Returning false from fn skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, a := range n.Attrs {
		for _, v := range a.Values {
			if v.Kind == KindNode {
				Walk(v.Node, fn)
			}
		}
	}
}
