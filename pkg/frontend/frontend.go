// Package frontend defines the boundary between source text and the
// structural trees the store hashes. A front end owns one source language:
// it parses a function into a tree plus the surface text the tree drops,
// and renders a tree back through a mapping variant.
package frontend

import (
	"errors"

	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

var (
	// ErrNoFunction reports source that does not hold exactly one top-level
	// function.
	ErrNoFunction = errors.New("source must define exactly one function")
	// ErrSyntax reports source the grammar could not parse.
	ErrSyntax = errors.New("syntax error")
	// ErrUnsupportedLanguage reports a file no front end handles.
	ErrUnsupportedLanguage = errors.New("unsupported source language")
)

// Parsed is one function split into structure and surface text.
type Parsed struct {
	Tree *tree.Node
	// Source names the grammar that parsed the input, e.g. "python".
	Source    string
	Docstring string
	Comment   string
	// Layout is the text between consecutive leaves, in order. Rendering
	// with it reproduces the input exactly.
	Layout []string
}

// FrontEnd parses and renders one source language.
type FrontEnd interface {
	Parse(filename string, src []byte) (*Parsed, error)
	Render(root *tree.Node, m *object.Mapping) ([]byte, error)
}
