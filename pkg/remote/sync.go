package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
)

// SyncOptions tunes Transfer.
type SyncOptions struct {
	// Parallelism bounds concurrent fetches and pushes. Zero means
	// config.Parallelism().
	Parallelism int
	Logger      *slog.Logger
}

func (o *SyncOptions) normalize() {
	if o.Parallelism < 1 {
		o.Parallelism = config.Parallelism()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SyncReport counts what a transfer did.
type SyncReport struct {
	Missing     int
	Transferred int
	Mappings    int
	// Levels is the number of dependency waves the push ran in.
	Levels   int
	Failures []object.ObjectFailure
}

// SyncError lists the objects a transfer could not move.
type SyncError struct {
	Failures []object.ObjectFailure
}

func (e *SyncError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Hash.Short(), f.Err))
	}
	return fmt.Sprintf("sync failed for %d objects: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *SyncError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Push copies every object local has and dst lacks.
func Push(ctx context.Context, local, dst Remote, opts SyncOptions) (*SyncReport, error) {
	return Transfer(ctx, local, dst, opts)
}

// Pull copies every object src has and local lacks.
func Pull(ctx context.Context, local, src Remote, opts SyncOptions) (*SyncReport, error) {
	return Transfer(ctx, src, local, opts)
}

// Transfer copies the objects of from that to does not hold, each with all
// of its mapping variants. Objects are pushed in dependency waves so every
// reference an object makes into the batch is already stored when it
// arrives, which lets the receiver record the edge.
//
// Per-object failures are collected and the transfer continues; the
// returned error is then a *SyncError. Cancellation stops the transfer
// between objects.
func Transfer(ctx context.Context, from, to Remote, opts SyncOptions) (*SyncReport, error) {
	opts.normalize()
	ctx, span := tracer.Start(ctx, "remote.Transfer")
	defer span.End()
	start := time.Now()
	defer func() { syncDuration.Observe(time.Since(start).Seconds()) }()

	report, err := transfer(ctx, from, to, opts)
	if report != nil {
		span.SetAttributes(
			attribute.Int("missing", report.Missing),
			attribute.Int("transferred", report.Transferred),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
	}
	return report, err
}

func transfer(ctx context.Context, from, to Remote, opts SyncOptions) (*SyncReport, error) {
	logger := opts.Logger.With("component", "sync")
	report := &SyncReport{}

	have, err := to.Hashes(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: list destination: %w", err)
	}
	want, err := from.Hashes(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: list source: %w", err)
	}
	missing := missingHashes(want, have)
	report.Missing = len(missing)
	if len(missing) == 0 {
		logger.Debug("nothing to transfer", "known", len(have))
		return report, nil
	}
	logger.Info("transfer started", "missing", len(missing), "parallelism", opts.Parallelism)

	bundles, failures, err := fetchAll(ctx, from, missing, opts.Parallelism)
	report.Failures = append(report.Failures, failures...)
	if err != nil {
		return report, err
	}
	for _, f := range failures {
		logger.Warn("object fetch failed", "hash", f.Hash.Short(), "error", f.Err)
	}

	levels := dependencyLevels(bundles)
	report.Levels = len(levels)
	for i, level := range levels {
		pushed, mappings, failures, err := pushAll(ctx, to, level, opts.Parallelism)
		report.Transferred += pushed
		report.Mappings += mappings
		report.Failures = append(report.Failures, failures...)
		for _, f := range failures {
			logger.Warn("object push failed", "hash", f.Hash.Short(), "error", f.Err)
		}
		if err != nil {
			return report, err
		}
		logger.Debug("level pushed", "level", i, "objects", pushed)
	}

	logger.Info("transfer finished", "transferred", report.Transferred, "failed", len(report.Failures))
	if len(report.Failures) > 0 {
		sort.Slice(report.Failures, func(i, j int) bool {
			return report.Failures[i].Hash < report.Failures[j].Hash
		})
		return report, &SyncError{Failures: report.Failures}
	}
	return report, nil
}

// missingHashes returns the sorted members of want absent from have.
func missingHashes(want, have []object.Hash) []object.Hash {
	known := make(map[object.Hash]struct{}, len(have))
	for _, h := range have {
		known[h] = struct{}{}
	}
	seen := make(map[object.Hash]struct{}, len(want))
	var out []object.Hash
	for _, h := range want {
		if _, ok := known[h]; ok {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func fetchAll(ctx context.Context, from Remote, hashes []object.Hash, limit int) ([]*object.Bundle, []object.ObjectFailure, error) {
	results := make([]*object.Bundle, len(hashes))
	errs := make([]error, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, h := range hashes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := from.Fetch(gctx, h)
			switch {
			case err != nil && isCanceled(gctx, err):
				return err
			case err != nil:
				errs[i] = err
			case b == nil || b.Object == nil:
				errs[i] = fmt.Errorf("fetch: empty bundle")
			case b.Object.Hash != h:
				errs[i] = &object.HashMismatchError{Expected: h, Actual: b.Object.Hash}
			default:
				results[i] = b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var bundles []*object.Bundle
	var failures []object.ObjectFailure
	for i, h := range hashes {
		if errs[i] != nil {
			syncObjects.WithLabelValues("fetch", "failed").Inc()
			failures = append(failures, object.ObjectFailure{Hash: h, Err: fmt.Errorf("fetch: %w", errs[i])})
			continue
		}
		syncObjects.WithLabelValues("fetch", "ok").Inc()
		bundles = append(bundles, results[i])
	}
	return bundles, failures, nil
}

func pushAll(ctx context.Context, to Remote, level []*object.Bundle, limit int) (int, int, []object.ObjectFailure, error) {
	var (
		mu       sync.Mutex
		pushed   int
		mappings int
		failures []object.ObjectFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, b := range level {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := to.Push(gctx, b)
			if err != nil && isCanceled(gctx, err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				syncObjects.WithLabelValues("push", "failed").Inc()
				failures = append(failures, object.ObjectFailure{Hash: b.Object.Hash, Err: fmt.Errorf("push: %w", err)})
				return nil
			}
			syncObjects.WithLabelValues("push", "ok").Inc()
			pushed++
			mappings += len(b.Mappings)
			return nil
		})
	}
	err := g.Wait()
	return pushed, mappings, failures, err
}

// dependencyLevels groups bundles into waves. A bundle lands in the wave
// after the last bundle of the batch it references. References leaving the
// batch are ignored since the receiver already holds them or never will.
func dependencyLevels(bundles []*object.Bundle) [][]*object.Bundle {
	byHash := make(map[object.Hash]*object.Bundle, len(bundles))
	for _, b := range bundles {
		byHash[b.Object.Hash] = b
	}
	pending := make(map[object.Hash]int, len(bundles))
	dependents := make(map[object.Hash][]object.Hash)
	for _, b := range bundles {
		h := b.Object.Hash
		pending[h] = 0
		for _, ref := range canon.Refs(b.Object.Tuples) {
			if _, ok := byHash[ref]; !ok || ref == h {
				continue
			}
			pending[h]++
			dependents[ref] = append(dependents[ref], h)
		}
	}

	var current []object.Hash
	for h, n := range pending {
		if n == 0 {
			current = append(current, h)
		}
	}

	var levels [][]*object.Bundle
	placed := 0
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return current[i] < current[j] })
		level := make([]*object.Bundle, 0, len(current))
		var next []object.Hash
		for _, h := range current {
			level = append(level, byHash[h])
			for _, d := range dependents[h] {
				pending[d]--
				if pending[d] == 0 {
					next = append(next, d)
				}
			}
		}
		placed += len(level)
		levels = append(levels, level)
		current = next
	}

	// A reference cycle cannot be built from content hashes; push whatever
	// is left anyway so nothing is silently dropped.
	if placed < len(byHash) {
		var rest []object.Hash
		for h, n := range pending {
			if n > 0 {
				rest = append(rest, h)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
		level := make([]*object.Bundle, 0, len(rest))
		for _, h := range rest {
			level = append(level, byHash[h])
		}
		levels = append(levels, level)
	}
	return levels
}
