package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
)

// Validate recomputes the hash of h from its stored structure and the hash
// of every mapping variant, and checks that each recorded dependency is
// stored.
func (r *Repo) Validate(ctx context.Context, h object.Hash) error {
	ctx, span := tracer.Start(ctx, "repo.Validate", trace.WithAttributes(
		attribute.String("hash", string(h)),
	))
	defer span.End()

	if err := r.validate(ctx, h); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid object")
		return err
	}
	return nil
}

func (r *Repo) validate(ctx context.Context, h object.Hash) error {
	obj, err := r.Store.Load(ctx, h)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	actual, err := canon.Rehash(r.Store.Algorithm(), obj.Tuples)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if actual != h {
		return fmt.Errorf("validate: %w", &object.HashMismatchError{Expected: h, Actual: actual})
	}
	if _, err := canon.Decode(obj.Tuples); err != nil {
		return fmt.Errorf("validate %s: %w", h.Short(), err)
	}
	records, err := r.Store.LoadMappings(ctx, h, "")
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	for _, rec := range records {
		mh, err := object.HashMapping(r.Store.Algorithm(), &rec.Mapping)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		if mh != rec.Hash {
			return fmt.Errorf("validate mapping %s/%s: %w", rec.Language, rec.Hash.Short(),
				&object.HashMismatchError{Expected: rec.Hash, Actual: mh})
		}
	}
	for _, dep := range obj.Dependencies {
		ok, err := r.Store.Has(ctx, dep)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		if !ok {
			return fmt.Errorf("validate %s: %s: %w", h.Short(), dep.Short(), object.ErrDependencyNotFound)
		}
	}
	return nil
}

// VerifySummary is the outcome of validating a whole store.
type VerifySummary struct {
	Checked  int
	Failures []object.ObjectFailure
}

// Verify validates every stored object with bounded parallelism. A failing
// object is recorded; only storage errors abort the walk.
func (r *Repo) Verify(ctx context.Context) (*VerifySummary, error) {
	ctx, span := tracer.Start(ctx, "repo.Verify")
	defer span.End()

	var hashes []object.Hash
	for h, err := range r.Store.Hashes(ctx) {
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		hashes = append(hashes, h)
	}

	var (
		mu      sync.Mutex
		summary = &VerifySummary{Checked: len(hashes)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Parallelism())
	for _, h := range hashes {
		g.Go(func() error {
			if err := r.validate(gctx, h); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				summary.Failures = append(summary.Failures, object.ObjectFailure{Hash: h, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("verify: %w", err)
	}
	sortFailures(summary.Failures)
	span.SetAttributes(
		attribute.Int("checked", summary.Checked),
		attribute.Int("failed", len(summary.Failures)),
	)
	return summary, nil
}

func sortFailures(failures []object.ObjectFailure) {
	sort.Slice(failures, func(i, j int) bool { return failures[i].Hash < failures[j].Hash })
}
