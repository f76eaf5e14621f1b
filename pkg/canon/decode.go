package canon

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// ErrMalformed reports a tuple set that does not describe a single tree.
var ErrMalformed = errors.New("malformed structure")

type decodedNode struct {
	typ   string
	attrs map[string]map[int]string
}

// Decode rebuilds the structural tree described by tuples. Identifiers come
// back as placeholders; a mapping variant supplies their spellings.
func Decode(tuples []object.Tuple) (*tree.Node, error) {
	nodes := make(map[int]*decodedNode)
	for _, t := range tuples {
		n := nodes[t.Node]
		if n == nil {
			n = &decodedNode{attrs: make(map[string]map[int]string)}
			nodes[t.Node] = n
		}
		if t.Key == TypeKey {
			typ, ok := strings.CutPrefix(t.Value, prefixLiteral)
			if !ok || t.Index != 0 || n.typ != "" {
				return nil, fmt.Errorf("%w: bad type tuple on node %d", ErrMalformed, t.Node)
			}
			n.typ = typ
			continue
		}
		slots := n.attrs[t.Key]
		if slots == nil {
			slots = make(map[int]string)
			n.attrs[t.Key] = slots
		}
		if _, dup := slots[t.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate position %s[%d] on node %d", ErrMalformed, t.Key, t.Index, t.Node)
		}
		slots[t.Index] = t.Value
	}
	if _, ok := nodes[0]; !ok {
		return nil, fmt.Errorf("%w: no root node", ErrMalformed)
	}

	d := &decoder{nodes: nodes, used: make(map[int]bool)}
	root, err := d.build(0)
	if err != nil {
		return nil, err
	}
	if len(d.used) != len(nodes) {
		return nil, fmt.Errorf("%w: %d unreachable nodes", ErrMalformed, len(nodes)-len(d.used))
	}
	return root, nil
}

type decoder struct {
	nodes map[int]*decodedNode
	used  map[int]bool
}

func (d *decoder) build(id int) (*tree.Node, error) {
	dn, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: dangling child %d", ErrMalformed, id)
	}
	if d.used[id] {
		return nil, fmt.Errorf("%w: node %d has two parents", ErrMalformed, id)
	}
	d.used[id] = true
	if dn.typ == "" {
		return nil, fmt.Errorf("%w: node %d has no type", ErrMalformed, id)
	}

	keys := make([]string, 0, len(dn.attrs))
	for k := range dn.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := tree.New(dn.typ)
	for _, k := range keys {
		slots := dn.attrs[k]
		values := make([]tree.Value, len(slots))
		for i := range values {
			raw, ok := slots[i]
			if !ok {
				return nil, fmt.Errorf("%w: gap at %s[%d] on node %d", ErrMalformed, k, i, id)
			}
			v, err := d.value(raw)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		n.Attrs = append(n.Attrs, tree.Attr{Key: k, Values: values})
	}
	return n, nil
}

func (d *decoder) value(raw string) (tree.Value, error) {
	prefix, rest := raw[:min(2, len(raw))], raw[min(2, len(raw)):]
	switch prefix {
	case prefixLiteral:
		return tree.Lit(rest), nil
	case prefixVar:
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 {
			return tree.Value{}, fmt.Errorf("%w: bad placeholder %q", ErrMalformed, raw)
		}
		return tree.Ident(Placeholder(i)), nil
	case prefixRef:
		h := object.Hash(rest)
		if err := object.ValidateHash(h); err != nil {
			return tree.Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return tree.Ref(h), nil
	case prefixNode:
		id, err := strconv.Atoi(rest)
		if err != nil {
			return tree.Value{}, fmt.Errorf("%w: bad child %q", ErrMalformed, raw)
		}
		child, err := d.build(id)
		if err != nil {
			return tree.Value{}, err
		}
		return tree.Child(child), nil
	}
	return tree.Value{}, fmt.Errorf("%w: unknown value %q", ErrMalformed, raw)
}
