// Package graph answers questions about the dependency edges between
// stored functions and produces rewritten functions from them.
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/object"
)

var tracer = otel.Tracer("github.com/odvcencio/babel/pkg/graph")

// Store is the read view the graph walks.
type Store interface {
	Has(ctx context.Context, h object.Hash) (bool, error)
	Load(ctx context.Context, h object.Hash) (*object.CodeObject, error)
	LoadMappings(ctx context.Context, h object.Hash, language string) ([]object.MappingRecord, error)
	LoadDependencies(ctx context.Context, h object.Hash) ([]object.Hash, error)
	Dependents(ctx context.Context, h object.Hash) ([]object.Hash, error)
}

// Ingester is the add path refactored objects go through.
type Ingester interface {
	Ingest(ctx context.Context, b *object.Bundle) (object.Hash, error)
}

// Graph operates over one store.
type Graph struct {
	store    Store
	ingester Ingester
}

// New returns a Graph reading from store and writing through ingester.
func New(store Store, ingester Ingester) *Graph {
	return &Graph{store: store, ingester: ingester}
}

// Dependency is one reachable function with the variant chosen to name it.
type Dependency struct {
	Hash    object.Hash           `json:"hash" yaml:"hash"`
	Depth   int                   `json:"depth" yaml:"depth"`
	Mapping *object.MappingRecord `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// Review returns every function h transitively depends on, in depth-first
// order. Each is named by its first variant in the first of languages that
// has one, else by any variant. Cycles are visited once.
func (g *Graph) Review(ctx context.Context, h object.Hash, languages []string) ([]Dependency, error) {
	ctx, span := tracer.Start(ctx, "graph.Review", trace.WithAttributes(
		attribute.String("hash", string(h)),
		attribute.StringSlice("languages", languages),
	))
	defer span.End()

	if err := g.require(ctx, h); err != nil {
		return nil, err
	}

	type frame struct {
		hash  object.Hash
		depth int
	}
	visited := map[object.Hash]bool{h: true}
	stack := []frame{{hash: h}}
	var out []Dependency
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.hash != h {
			m, err := g.preferred(ctx, top.hash, languages)
			if err != nil {
				return nil, fmt.Errorf("review: %w", err)
			}
			out = append(out, Dependency{Hash: top.hash, Depth: top.depth, Mapping: m})
		}

		deps, err := g.store.LoadDependencies(ctx, top.hash)
		if err != nil {
			return nil, fmt.Errorf("review: %w", err)
		}
		// Push in reverse so the first dependency is visited first.
		for i := len(deps) - 1; i >= 0; i-- {
			d := deps[i]
			if visited[d] {
				continue
			}
			visited[d] = true
			stack = append(stack, frame{hash: d, depth: top.depth + 1})
		}
	}
	span.SetAttributes(attribute.Int("dependencies", len(out)))
	return out, nil
}

func (g *Graph) preferred(ctx context.Context, h object.Hash, languages []string) (*object.MappingRecord, error) {
	records, err := g.store.LoadMappings(ctx, h, "")
	if err != nil {
		return nil, err
	}
	for _, lang := range languages {
		for i := range records {
			if records[i].Language == lang {
				return &records[i], nil
			}
		}
	}
	if len(records) > 0 {
		return &records[0], nil
	}
	return nil, nil
}

// Callers returns the functions that depend directly on h.
func (g *Graph) Callers(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	ctx, span := tracer.Start(ctx, "graph.Callers", trace.WithAttributes(
		attribute.String("hash", string(h)),
	))
	defer span.End()

	if err := g.require(ctx, h); err != nil {
		return nil, err
	}
	callers, err := g.store.Dependents(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	return callers, nil
}

// require fails with ErrDependencyNotFound unless h is a stored hash.
func (g *Graph) require(ctx context.Context, h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("%w: %v", object.ErrDependencyNotFound, err)
	}
	ok, err := g.store.Has(ctx, h)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", h.Short(), object.ErrDependencyNotFound)
	}
	return nil
}

// RefactorResult describes the function Refactor produced.
type RefactorResult struct {
	Hash      object.Hash `json:"hash" yaml:"hash"`
	Original  object.Hash `json:"original" yaml:"original"`
	Rewritten int         `json:"rewritten" yaml:"rewritten"`
	Mappings  int         `json:"mappings" yaml:"mappings"`
}

// Refactor stores a copy of h whose references to oldDep point at newDep
// instead. Every mapping variant of h is carried over with the alias for
// oldDep rebound to newDep. h itself is never modified.
func (g *Graph) Refactor(ctx context.Context, h, oldDep, newDep object.Hash) (*RefactorResult, error) {
	ctx, span := tracer.Start(ctx, "graph.Refactor", trace.WithAttributes(
		attribute.String("hash", string(h)),
		attribute.String("old", string(oldDep)),
		attribute.String("new", string(newDep)),
	))
	defer span.End()

	res, err := g.refactor(ctx, h, oldDep, newDep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refactor failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("result", string(res.Hash)))
	return res, nil
}

func (g *Graph) refactor(ctx context.Context, h, oldDep, newDep object.Hash) (*RefactorResult, error) {
	if err := g.require(ctx, h); err != nil {
		return nil, fmt.Errorf("refactor: %w", err)
	}
	if err := object.ValidateHash(oldDep); err != nil {
		return nil, fmt.Errorf("refactor: %w: %v", object.ErrDependencyNotFound, err)
	}
	if err := g.require(ctx, newDep); err != nil {
		return nil, fmt.Errorf("refactor: replacement %w", err)
	}

	obj, err := g.store.Load(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("refactor: %w", err)
	}
	tuples, n := canon.RewriteRef(obj.Tuples, oldDep, newDep)
	if n == 0 {
		return nil, fmt.Errorf("refactor: %s does not reference %s: %w", h.Short(), oldDep.Short(), object.ErrDependencyNotFound)
	}
	alg := obj.Algorithm
	newHash, err := canon.Rehash(alg, tuples)
	if err != nil {
		return nil, fmt.Errorf("refactor: %w", err)
	}

	records, err := g.store.LoadMappings(ctx, h, "")
	if err != nil {
		return nil, fmt.Errorf("refactor: %w", err)
	}
	rebound := make([]object.MappingRecord, 0, len(records))
	for _, rec := range records {
		m := rec.Mapping
		if name, ok := m.Aliases[oldDep]; ok {
			m.Aliases = maps.Clone(m.Aliases)
			delete(m.Aliases, oldDep)
			m.Aliases[newDep] = name
		}
		rebound = append(rebound, object.MappingRecord{Language: rec.Language, Mapping: m})
	}

	refactored := &object.CodeObject{
		Hash:      newHash,
		Algorithm: alg,
		Tuples:    tuples,
		Metadata: object.Metadata{
			Author:    obj.Metadata.Author,
			Timestamp: obj.Metadata.Timestamp,
			Tags:      slices.Clone(obj.Metadata.Tags),
		},
	}
	stored, err := g.ingester.Ingest(ctx, &object.Bundle{Object: refactored, Mappings: rebound})
	if err != nil {
		if errors.Is(err, object.ErrHashMismatch) {
			return nil, fmt.Errorf("refactor: rewritten structure rejected: %w", err)
		}
		return nil, fmt.Errorf("refactor: %w", err)
	}
	return &RefactorResult{Hash: stored, Original: h, Rewritten: n, Mappings: len(rebound)}, nil
}
