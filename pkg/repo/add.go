package repo

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/babel/pkg/backend"
	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// AddRequest is one function to store together with the mapping variant
// that names it.
type AddRequest struct {
	Tree     *tree.Node
	Language string
	// Names overrides the spellings the encoder recorded, keyed by
	// placeholder.
	Names map[string]string
	// Aliases resolves identifier spellings to stored functions.
	Aliases   map[string]object.Hash
	Docstring string
	Comment   string
	Layout    []string
	Tags      []string
}

// AddResult reports what Add stored.
type AddResult struct {
	Hash           object.Hash   `json:"hash" yaml:"hash"`
	MappingHash    object.Hash   `json:"mapping" yaml:"mapping"`
	Created        bool          `json:"created" yaml:"created"`                 // the object was new
	MappingCreated bool          `json:"mapping_created" yaml:"mapping_created"` // the variant was new
	Dependencies   []object.Hash `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Add encodes req.Tree, stores the object if its hash is new and always
// attempts to store the mapping variant. Adding the same tree again
// returns the same hash and creates nothing.
func (r *Repo) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	ctx, span := tracer.Start(ctx, "repo.Add", trace.WithAttributes(
		attribute.String("language", req.Language),
	))
	defer span.End()

	res, err := r.add(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("hash", string(res.Hash)),
		attribute.Bool("created", res.Created),
	)
	return res, nil
}

func (r *Repo) add(ctx context.Context, req AddRequest) (*AddResult, error) {
	if req.Tree == nil {
		return nil, fmt.Errorf("add: %w: empty tree", object.ErrUnsupportedConstruct)
	}
	if err := object.ValidateLanguage(req.Language); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	c, err := canon.Encode(req.Tree, canon.Options{Algorithm: r.Store.Algorithm(), Aliases: req.Aliases})
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	deps, err := r.knownRefs(ctx, c.Refs)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	obj := &object.CodeObject{
		Hash:      c.Hash,
		Algorithm: c.Algorithm,
		Tuples:    c.Tuples,
		Metadata: object.Metadata{
			Author:    r.Config.Author(),
			Timestamp: r.now().UTC().Unix(),
			Tags:      req.Tags,
		},
		Dependencies: deps,
	}
	names := maps.Clone(c.Names)
	for placeholder, name := range req.Names {
		if _, ok := canon.ParsePlaceholder(placeholder); !ok {
			return nil, fmt.Errorf("add: %q is not a placeholder", placeholder)
		}
		names[placeholder] = name
	}
	mapping := &object.Mapping{
		Docstring: req.Docstring,
		Comment:   req.Comment,
		Names:     names,
		Aliases:   c.Aliases,
		Layout:    req.Layout,
	}
	if err := checkNames(c.Tuples, mapping); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	created, err := r.Store.Save(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("add: save %s: %w", c.Hash.Short(), err)
	}
	if created {
		if err := r.backfillEdges(ctx, c.Hash); err != nil {
			return nil, fmt.Errorf("add: %w", err)
		}
	}

	mh, mappingCreated, err := r.Store.SaveMapping(ctx, c.Hash, req.Language, mapping)
	if err != nil {
		return nil, fmt.Errorf("add: save mapping: %w", err)
	}

	r.logger.Debug("function added",
		"hash", c.Hash.Short(),
		"language", req.Language,
		"created", created,
		"mapping_created", mappingCreated,
		"dependencies", len(deps))
	return &AddResult{
		Hash:           c.Hash,
		MappingHash:    mh,
		Created:        created,
		MappingCreated: mappingCreated,
		Dependencies:   deps,
	}, nil
}

// knownRefs keeps the referenced hashes the store already holds.
func (r *Repo) knownRefs(ctx context.Context, refs []object.Hash) ([]object.Hash, error) {
	var deps []object.Hash
	for _, h := range refs {
		ok, err := r.Store.Has(ctx, h)
		if err != nil {
			return nil, err
		}
		if ok {
			deps = append(deps, h)
		}
	}
	return deps, nil
}

// backfillEdges adds the edge to h on objects stored before h that already
// reference it. Only backends with a structure index can find them.
func (r *Repo) backfillEdges(ctx context.Context, h object.Hash) error {
	ref, ok := r.Store.(backend.Referencer)
	if !ok {
		return nil
	}
	callers, err := ref.ReferencedBy(ctx, h)
	if err != nil {
		return err
	}
	for _, from := range callers {
		if from == h {
			continue
		}
		deps, err := r.Store.LoadDependencies(ctx, from)
		if err != nil {
			return err
		}
		if slices.Contains(deps, h) {
			continue
		}
		if err := r.Store.SaveDependencies(ctx, from, append(deps, h)); err != nil {
			return err
		}
		r.logger.Debug("edge backfilled", "from", from.Short(), "to", h.Short())
	}
	return nil
}

// Translate stores another mapping variant for an existing object.
func (r *Repo) Translate(ctx context.Context, h object.Hash, language string, m *object.Mapping) (object.Hash, bool, error) {
	ctx, span := tracer.Start(ctx, "repo.Translate", trace.WithAttributes(
		attribute.String("hash", string(h)),
		attribute.String("language", language),
	))
	defer span.End()

	obj, err := r.Store.Load(ctx, h)
	if err != nil {
		return "", false, fmt.Errorf("translate: %w", err)
	}
	if err := checkNames(obj.Tuples, m); err != nil {
		return "", false, fmt.Errorf("translate: %w", err)
	}
	mh, created, err := r.Store.SaveMapping(ctx, h, language, m)
	if err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("translate: %w", err)
	}
	return mh, created, nil
}

// checkNames rejects bindings for placeholders or aliases the structure
// does not contain.
func checkNames(tuples []object.Tuple, m *object.Mapping) error {
	used := canon.Placeholders(tuples)
	for p := range m.Names {
		if !used[p] {
			return fmt.Errorf("name for unknown placeholder %s", p)
		}
	}
	refs := make(map[object.Hash]bool)
	for _, h := range canon.Refs(tuples) {
		refs[h] = true
	}
	for h := range m.Aliases {
		if !refs[h] {
			return fmt.Errorf("alias for %s: %w", h.Short(), object.ErrDependencyNotFound)
		}
	}
	return nil
}

// Ingest stores a bundle received from elsewhere. The object hash and
// every mapping hash are recomputed first; any disagreement rejects the
// whole bundle with a HashMismatchError and stores nothing.
func (r *Repo) Ingest(ctx context.Context, b *object.Bundle) (object.Hash, error) {
	ctx, span := tracer.Start(ctx, "repo.Ingest")
	defer span.End()

	h, err := r.ingest(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return "", err
	}
	span.SetAttributes(attribute.String("hash", string(h)))
	return h, nil
}

func (r *Repo) ingest(ctx context.Context, b *object.Bundle) (object.Hash, error) {
	if b == nil || b.Object == nil {
		return "", fmt.Errorf("ingest: empty bundle")
	}
	obj := b.Object
	if err := object.ValidateHash(obj.Hash); err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	alg := r.Store.Algorithm()
	if obj.Algorithm != "" && obj.Algorithm != alg {
		return "", fmt.Errorf("ingest %s: digest %s, store uses %s", obj.Hash.Short(), obj.Algorithm, alg)
	}
	actual, err := canon.Rehash(alg, obj.Tuples)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	if actual != obj.Hash {
		return "", fmt.Errorf("ingest: %w", &object.HashMismatchError{Expected: obj.Hash, Actual: actual})
	}
	if _, err := canon.Decode(obj.Tuples); err != nil {
		return "", fmt.Errorf("ingest %s: %w", obj.Hash.Short(), err)
	}
	for _, rec := range b.Mappings {
		if err := object.ValidateLanguage(rec.Language); err != nil {
			return "", fmt.Errorf("ingest: %w", err)
		}
		mh, err := object.HashMapping(alg, &rec.Mapping)
		if err != nil {
			return "", fmt.Errorf("ingest: %w", err)
		}
		if rec.Hash != "" && mh != rec.Hash {
			return "", fmt.Errorf("ingest mapping %s/%s: %w", rec.Language, rec.Hash.Short(),
				&object.HashMismatchError{Expected: rec.Hash, Actual: mh})
		}
	}

	deps, err := r.knownRefs(ctx, canon.Refs(obj.Tuples))
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	stored := *obj
	stored.Algorithm = alg
	stored.Dependencies = deps
	created, err := r.Store.Save(ctx, &stored)
	if err != nil {
		return "", fmt.Errorf("ingest: save %s: %w", obj.Hash.Short(), err)
	}
	if created {
		if err := r.backfillEdges(ctx, obj.Hash); err != nil {
			return "", fmt.Errorf("ingest: %w", err)
		}
	}
	for _, rec := range b.Mappings {
		if _, _, err := r.Store.SaveMapping(ctx, obj.Hash, rec.Language, &rec.Mapping); err != nil {
			return "", fmt.Errorf("ingest: save mapping: %w", err)
		}
	}
	return obj.Hash, nil
}

// Bundle loads h with every mapping variant.
func (r *Repo) Bundle(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	obj, err := r.Store.Load(ctx, h)
	if err != nil {
		return nil, err
	}
	mappings, err := r.Store.LoadMappings(ctx, h, "")
	if err != nil {
		return nil, err
	}
	return &object.Bundle{Object: obj, Mappings: mappings}, nil
}
