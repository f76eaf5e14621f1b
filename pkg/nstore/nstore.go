// Package nstore is a generic n-tuple store over an ordered key/value
// engine. Every tuple is written once per permutation index, so any pattern
// with some positions bound and others free is answered by a prefix scan.
package nstore

import (
	"bytes"
	"fmt"
	"iter"
	"sort"
)

// Var is a named pattern variable. Positions holding a Var are free; the
// same Var used twice must bind equal values.
type Var string

// Bindings maps variable names to the values they matched.
type Bindings map[string]any

// Store describes one tuple table. It holds no engine state; every call
// takes the KV for the transaction it runs in.
type Store struct {
	prefix  []any
	n       int
	indices [][]int
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces the store's keys so several stores can share one
// engine.
func WithPrefix(elems ...any) Option {
	return func(s *Store) { s.prefix = elems }
}

// WithIndices replaces the full index set with the given permutations.
// Patterns not covered by a prefix of one of them fall back to a filtered
// scan.
func WithIndices(indices ...[]int) Option {
	return func(s *Store) { s.indices = indices }
}

// New returns a store for n-tuples.
func New(n int, opts ...Option) *Store {
	s := &Store{n: n}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.indices) == 0 {
		s.indices = Indices(n)
	}
	return s
}

// Arity returns the tuple width.
func (s *Store) Arity() int { return s.n }

func (s *Store) key(index int, tuple []any) ([]byte, error) {
	elems := make([]any, 0, len(s.prefix)+1+s.n)
	elems = append(elems, s.prefix...)
	elems = append(elems, int64(index))
	for _, pos := range s.indices[index] {
		elems = append(elems, tuple[pos])
	}
	return Pack(elems...)
}

func (s *Store) check(tuple []any) error {
	if len(tuple) != s.n {
		return fmt.Errorf("nstore: tuple has %d elements, want %d", len(tuple), s.n)
	}
	for i, e := range tuple {
		if _, ok := e.(Var); ok {
			return fmt.Errorf("nstore: variable at position %d", i)
		}
	}
	return nil
}

// Add inserts tuple. Adding a tuple that is already present is a no-op.
func (s *Store) Add(kv KV, tuple ...any) error {
	if err := s.check(tuple); err != nil {
		return err
	}
	for i := range s.indices {
		key, err := s.key(i, tuple)
		if err != nil {
			return err
		}
		if err := kv.Set(key, []byte{}); err != nil {
			return fmt.Errorf("nstore add: %w", err)
		}
	}
	return nil
}

// Ask reports whether tuple is present.
func (s *Store) Ask(kv KV, tuple ...any) (bool, error) {
	if err := s.check(tuple); err != nil {
		return false, err
	}
	key, err := s.key(0, tuple)
	if err != nil {
		return false, err
	}
	_, ok, err := kv.Get(key)
	if err != nil {
		return false, fmt.Errorf("nstore ask: %w", err)
	}
	return ok, nil
}

// Delete removes tuple from every index.
func (s *Store) Delete(kv KV, tuple ...any) error {
	if err := s.check(tuple); err != nil {
		return err
	}
	for i := range s.indices {
		key, err := s.key(i, tuple)
		if err != nil {
			return err
		}
		if err := kv.Delete(key); err != nil {
			return fmt.Errorf("nstore delete: %w", err)
		}
	}
	return nil
}

// plan picks the index whose leading positions are bound in pattern,
// preferring the longest bound prefix.
func (s *Store) plan(pattern []any) (index, depth int) {
	bound := make([]bool, len(pattern))
	for i, e := range pattern {
		_, free := e.(Var)
		bound[i] = !free
	}
	best, bestDepth := 0, -1
	for i, perm := range s.indices {
		d := 0
		for d < len(perm) && bound[perm[d]] {
			d++
		}
		if d > bestDepth {
			best, bestDepth = i, d
		}
	}
	return best, bestDepth
}

// Select yields every stored tuple matching pattern. The sequence is lazy
// and may be ranged over again to rerun the scan; it must be consumed while
// kv's transaction is open.
func (s *Store) Select(kv KV, pattern ...any) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		if len(pattern) != s.n {
			yield(nil, fmt.Errorf("nstore: pattern has %d elements, want %d", len(pattern), s.n))
			return
		}
		index, depth := s.plan(pattern)
		perm := s.indices[index]

		elems := make([]any, 0, len(s.prefix)+1+depth)
		elems = append(elems, s.prefix...)
		elems = append(elems, int64(index))
		for _, pos := range perm[:depth] {
			elems = append(elems, pattern[pos])
		}
		start, err := Pack(elems...)
		if err != nil {
			yield(nil, err)
			return
		}
		skip := len(s.prefix) + 1

		for key, err := range kv.Scan(start, PrefixEnd(start)) {
			if err != nil {
				yield(nil, fmt.Errorf("nstore select: %w", err))
				return
			}
			elems, err := Unpack(key)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(elems) != skip+s.n {
				yield(nil, fmt.Errorf("nstore select: key has %d elements", len(elems)))
				return
			}
			tuple := make([]any, s.n)
			for i, pos := range perm {
				tuple[pos] = elems[skip+i]
			}
			if _, ok := unify(pattern, tuple, nil); !ok {
				continue
			}
			if !yield(tuple, nil) {
				return
			}
		}
	}
}

// Count returns the number of tuples matching pattern.
func (s *Store) Count(kv KV, pattern ...any) (int, error) {
	n := 0
	for _, err := range s.Select(kv, pattern...) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Query joins patterns left to right over their shared variables and
// yields one Bindings per solution.
func (s *Store) Query(kv KV, patterns ...[]any) iter.Seq2[Bindings, error] {
	return func(yield func(Bindings, error) bool) {
		s.join(kv, patterns, Bindings{}, yield)
	}
}

func (s *Store) join(kv KV, patterns [][]any, b Bindings, yield func(Bindings, error) bool) bool {
	if len(patterns) == 0 {
		return yield(b, nil)
	}
	pattern := substitute(patterns[0], b)
	for tuple, err := range s.Select(kv, pattern...) {
		if err != nil {
			yield(nil, err)
			return false
		}
		next, ok := unify(pattern, tuple, b)
		if !ok {
			continue
		}
		if !s.join(kv, patterns[1:], next, yield) {
			return false
		}
	}
	return true
}

func substitute(pattern []any, b Bindings) []any {
	out := make([]any, len(pattern))
	for i, e := range pattern {
		if v, ok := e.(Var); ok {
			if val, bound := b[string(v)]; bound {
				out[i] = val
				continue
			}
		}
		out[i] = e
	}
	return out
}

// unify matches tuple against pattern, extending b with new variable
// bindings. b is not modified.
func unify(pattern, tuple []any, b Bindings) (Bindings, bool) {
	out := make(Bindings, len(b)+len(pattern))
	for k, v := range b {
		out[k] = v
	}
	for i, e := range pattern {
		v, ok := e.(Var)
		if !ok {
			if !equal(e, tuple[i]) {
				return nil, false
			}
			continue
		}
		if prev, bound := out[string(v)]; bound {
			if !equal(prev, tuple[i]) {
				return nil, false
			}
			continue
		}
		out[string(v)] = tuple[i]
	}
	return out, true
}

func equal(a, b any) bool {
	switch x := a.(type) {
	case int:
		a = int64(x)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	if y, ok := b.(int); ok {
		b = int64(y)
	}
	return a == b
}

// Keys returns the sorted variable names bound in b.
func (b Bindings) Keys() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
