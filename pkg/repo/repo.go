// Package repo is the object repository: the add, show and validate paths
// over whichever storage backend a store root holds.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/babel/pkg/backend"
	"github.com/odvcencio/babel/pkg/config"
)

var tracer = otel.Tracer("github.com/odvcencio/babel/pkg/repo")

// Repo represents an opened store.
type Repo struct {
	Root   string         // store root directory
	Config *config.Config // settings loaded from Root
	Store  backend.Backend

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) { r.logger = l }
}

// WithClock overrides the time source used for object timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) { r.now = now }
}

// New wraps an already opened backend.
func New(root string, cfg *config.Config, store backend.Backend, opts ...Option) *Repo {
	r := &Repo{Root: root, Config: cfg, Store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "repo")
	return r
}

// Init creates a store at root with the layout cfg names and writes its
// config file. It fails when root already holds a store.
func Init(root string, cfg *config.Config, opts ...Option) (*Repo, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if kind, err := backend.Detect(root); err == nil {
		return nil, fmt.Errorf("init: %s store already exists at %s", kind, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("init: mkdir %s: %w", root, err)
	}
	kind, err := backend.KindForConfig(cfg.Store.Backend)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	r := New(root, cfg, nil, opts...)
	store, err := backend.Create(kind, backend.OptionsFromConfig(root, cfg, r.logger))
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := config.Save(root, cfg); err != nil {
		store.Close()
		return nil, fmt.Errorf("init: %w", err)
	}
	r.Store = store
	r.logger.Info("store initialized", "root", root, "backend", kind, "digest", store.Algorithm())
	return r, nil
}

// Open loads the config at root and opens the store it finds there.
func Open(root string, opts ...Option) (*Repo, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	r := New(root, cfg, nil, opts...)
	store, err := backend.Open(backend.OptionsFromConfig(root, cfg, r.logger))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	r.Store = store
	return r, nil
}

// Close releases the backend.
func (r *Repo) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Logger returns the repository logger.
func (r *Repo) Logger() *slog.Logger { return r.logger }

// Migrate copies the store into a fresh backend of kind under the same
// root and switches the repository over to it. When the new layout would
// lose detection to the old one, the old database is set aside as
// babel.db.migrated so the next Open finds the new layout.
func (r *Repo) Migrate(ctx context.Context, to backend.Kind, prune bool) (*backend.MigrationReport, error) {
	ctx, span := tracer.Start(ctx, "repo.Migrate", trace.WithAttributes(
		attribute.String("from", string(r.Store.Kind())),
		attribute.String("to", string(to)),
		attribute.Bool("prune", prune),
	))
	defer span.End()

	if to == r.Store.Kind() {
		return nil, fmt.Errorf("migrate: store is already %s", to)
	}
	fresh := !layoutExists(r.Root, to)
	dst, err := backend.Create(to, backend.OptionsFromConfig(r.Root, r.Config, r.logger))
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	report, err := backend.Migrate(ctx, r.Store, dst, backend.MigrateOptions{Prune: prune, Logger: r.logger})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "migration failed")
		if cerr := dst.Close(); cerr != nil {
			r.logger.Warn("closing migration destination", "error", cerr)
		}
		// A half-filled new layout would win detection on the next Open.
		if fresh {
			if derr := discardLayout(r.Root, to); derr != nil {
				r.logger.Warn("discarding migration destination", "error", derr)
			}
		}
		return report, err
	}

	src := r.Store
	if err := src.Close(); err != nil {
		r.logger.Warn("closing migration source", "error", err)
	}
	r.Store = dst
	if src.Kind() == backend.KindEmbedded {
		if err := retireDatabase(r.Root); err != nil {
			return report, fmt.Errorf("migrate: %w", err)
		}
	}
	switch to {
	case backend.KindEmbedded:
		r.Config.Store.Backend = config.BackendEmbedded
	case backend.KindFileV1:
		r.Config.Store.Backend = config.BackendFile
	}
	if err := config.Save(r.Root, r.Config); err != nil {
		return report, fmt.Errorf("migrate: %w", err)
	}
	return report, nil
}

func layoutExists(root string, kind backend.Kind) bool {
	var path string
	switch kind {
	case backend.KindEmbedded:
		path = filepath.Join(root, backend.DatabaseFile)
	case backend.KindFileV1:
		path = filepath.Join(root, backend.ObjectsDir)
	default:
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// discardLayout removes a layout created by a failed migration.
func discardLayout(root string, kind backend.Kind) error {
	var paths []string
	switch kind {
	case backend.KindEmbedded:
		for _, suffix := range []string{"", "-wal", "-shm"} {
			paths = append(paths, filepath.Join(root, backend.DatabaseFile+suffix))
		}
	case backend.KindFileV1:
		for _, dir := range []string{backend.ObjectsDir, backend.IndexDir, backend.StaleIndexFile, backend.TmpDir} {
			paths = append(paths, filepath.Join(root, dir))
		}
	}
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func retireDatabase(root string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		path := filepath.Join(root, backend.DatabaseFile+suffix)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Rename(path, filepath.Join(root, backend.DatabaseFile+".migrated"+suffix)); err != nil {
			return fmt.Errorf("retire %s: %w", path, err)
		}
	}
	return nil
}

// Reindex rebuilds the reverse dependency index of a v1 store.
func (r *Repo) Reindex(ctx context.Context) (int, error) {
	v1, ok := r.Store.(*backend.FileV1)
	if !ok {
		return 0, fmt.Errorf("reindex: %s store keeps no separate index", r.Store.Kind())
	}
	return v1.Reindex(ctx)
}
