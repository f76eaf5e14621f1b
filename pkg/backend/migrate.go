package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/object"
)

// MigrateOptions tunes Migrate.
type MigrateOptions struct {
	// Prune removes each migrated object from the source afterwards. The
	// source must implement Remover.
	Prune  bool
	Logger *slog.Logger
}

// MigrationReport counts what a migration did.
type MigrationReport struct {
	Source      Kind
	Destination Kind
	Migrated    int
	Skipped     int
	Mappings    int
	Edges       int
	Pruned      int
	Failures    []object.ObjectFailure
}

// Migrate copies every object of src into dst. Each object's hash is
// recomputed from its stored structure before it is written, and objects
// dst already holds are left alone, so rerunning a migration is safe.
// Dependency edges are copied after all objects, keeping only edges whose
// target made it across.
//
// A failing object is recorded and the batch continues; the returned error
// is then an *object.MigrationError. Cancellation is honored between
// objects.
func Migrate(ctx context.Context, src, dst Backend, opts MigrateOptions) (*MigrationReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrate", "from", src.Kind(), "to", dst.Kind())
	start := time.Now()
	defer func() { migrationDuration.Observe(time.Since(start).Seconds()) }()

	report := &MigrationReport{Source: src.Kind(), Destination: dst.Kind()}
	if src.Algorithm() != dst.Algorithm() {
		return report, fmt.Errorf("migrate: source digest %s differs from destination %s", src.Algorithm(), dst.Algorithm())
	}
	var remover Remover
	if opts.Prune {
		r, ok := src.(Remover)
		if !ok {
			return report, fmt.Errorf("migrate: %s source cannot be pruned", src.Kind())
		}
		remover = r
	}

	var hashes []object.Hash
	for h, err := range src.Hashes(ctx) {
		if err != nil {
			return report, err
		}
		hashes = append(hashes, h)
	}

	var done []object.Hash
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		created, mappings, err := migrateObject(ctx, src, dst, h)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			logger.Warn("object failed to migrate", "hash", h.Short(), "error", err)
			migratedObjects.WithLabelValues("failed").Inc()
			report.Failures = append(report.Failures, object.ObjectFailure{Hash: h, Err: err})
			continue
		}
		if created {
			report.Migrated++
			migratedObjects.WithLabelValues("migrated").Inc()
		} else {
			report.Skipped++
			migratedObjects.WithLabelValues("skipped").Inc()
		}
		report.Mappings += mappings
		done = append(done, h)
	}

	for _, h := range done {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := migrateEdges(ctx, src, dst, h)
		if err != nil {
			report.Failures = append(report.Failures, object.ObjectFailure{Hash: h, Err: err})
			continue
		}
		report.Edges += n
	}

	if remover != nil && len(report.Failures) == 0 {
		for _, h := range done {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := remover.Remove(ctx, h); err != nil {
				report.Failures = append(report.Failures, object.ObjectFailure{Hash: h, Err: fmt.Errorf("prune: %w", err)})
				continue
			}
			report.Pruned++
		}
	}

	logger.Info("migration finished",
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"mappings", report.Mappings,
		"edges", report.Edges,
		"pruned", report.Pruned,
		"failed", len(report.Failures))
	if len(report.Failures) > 0 {
		return report, &object.MigrationError{Failures: report.Failures}
	}
	return report, nil
}

func migrateObject(ctx context.Context, src, dst Backend, h object.Hash) (bool, int, error) {
	obj, err := src.Load(ctx, h)
	if err != nil {
		return false, 0, err
	}
	actual, err := canon.Rehash(src.Algorithm(), obj.Tuples)
	if err != nil {
		return false, 0, err
	}
	if actual != h {
		return false, 0, &object.HashMismatchError{Expected: h, Actual: actual}
	}
	records, err := src.LoadMappings(ctx, h, "")
	if err != nil {
		return false, 0, err
	}
	for _, rec := range records {
		mh, err := object.HashMapping(src.Algorithm(), &rec.Mapping)
		if err != nil {
			return false, 0, err
		}
		if mh != rec.Hash {
			return false, 0, fmt.Errorf("mapping %s/%s: %w", rec.Language, rec.Hash.Short(),
				&object.HashMismatchError{Expected: rec.Hash, Actual: mh})
		}
	}

	exists, err := dst.Has(ctx, h)
	if err != nil {
		return false, 0, err
	}
	created := false
	if !exists {
		copied := *obj
		copied.Dependencies = nil
		if created, err = dst.Save(ctx, &copied); err != nil {
			return false, 0, err
		}
	}
	mappings := 0
	for _, rec := range records {
		_, fresh, err := dst.SaveMapping(ctx, h, rec.Language, &rec.Mapping)
		if err != nil {
			return created, mappings, err
		}
		if fresh {
			mappings++
		}
	}
	return created, mappings, nil
}

func migrateEdges(ctx context.Context, src, dst Backend, h object.Hash) (int, error) {
	deps, err := src.LoadDependencies(ctx, h)
	if err != nil {
		return 0, err
	}
	current, err := dst.LoadDependencies(ctx, h)
	if err != nil {
		return 0, err
	}
	kept := append([]object.Hash(nil), current...)
	for _, d := range deps {
		ok, err := dst.Has(ctx, d)
		if err != nil {
			return 0, err
		}
		if ok {
			kept = append(kept, d)
		}
	}
	kept = sortedUnique(kept)
	if err := dst.SaveDependencies(ctx, h, kept); err != nil {
		return 0, err
	}
	return len(kept), nil
}
