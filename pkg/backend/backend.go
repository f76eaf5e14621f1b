// Package backend stores CodeObjects, their mapping variants and their
// dependency edges. Three layouts exist: a legacy read-only flat-file pool
// (v0), a content-addressed directory tree (v1), and an embedded SQLite
// store. A store's layout is detected once when it is opened.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/pool"
)

// Kind names a storage layout.
type Kind string

const (
	KindEmbedded Kind = "embedded"
	KindFileV1   Kind = "file-v1"
	KindFileV0   Kind = "file-v0"
)

// Paths inside a store root.
const (
	DatabaseFile = "babel.db"
	ObjectsDir   = "objects"
	PoolDir      = "pool"
	IndexDir     = "index"
	TmpDir       = "tmp"
	// StaleIndexFile is left by a writer that could not reach index/.
	// Readers ignore the index until Reindex clears it.
	StaleIndexFile = "index.stale"
)

// Backend is the storage interface every layout implements.
type Backend interface {
	Kind() Kind
	Algorithm() object.Algorithm

	Has(ctx context.Context, h object.Hash) (bool, error)
	// Save writes obj, its structure and its dependencies as one unit.
	// It reports false without error when the hash is already stored.
	Save(ctx context.Context, obj *object.CodeObject) (bool, error)
	// Load fails with object.ErrNotFound for unknown hashes.
	Load(ctx context.Context, h object.Hash) (*object.CodeObject, error)

	// SaveMapping stores a variant under (h, language, mapping hash) and
	// returns the mapping hash. The object must exist.
	SaveMapping(ctx context.Context, h object.Hash, language string, m *object.Mapping) (object.Hash, bool, error)
	// LoadMappings returns the variants of h in language, or in every
	// language when language is empty, ordered by language then hash.
	LoadMappings(ctx context.Context, h object.Hash, language string) ([]object.MappingRecord, error)

	// SaveDependencies replaces the outgoing edges of h.
	SaveDependencies(ctx context.Context, h object.Hash, deps []object.Hash) error
	LoadDependencies(ctx context.Context, h object.Hash) ([]object.Hash, error)
	// Dependents returns every stored hash with an edge to h.
	Dependents(ctx context.Context, h object.Hash) ([]object.Hash, error)

	// Hashes lists stored objects in ascending order.
	Hashes(ctx context.Context) iter.Seq2[object.Hash, error]

	Close() error
}

// Remover is implemented by backends that can drop objects. It is only used
// to prune a migration source.
type Remover interface {
	Remove(ctx context.Context, h object.Hash) error
}

// Referencer is implemented by backends that can find the objects whose
// structure names a hash, whether or not an edge to it was recorded.
type Referencer interface {
	ReferencedBy(ctx context.Context, h object.Hash) ([]object.Hash, error)
}

// Options carries what every backend constructor needs.
type Options struct {
	Root      string
	Algorithm object.Algorithm
	PoolSize  int
	PoolWait  time.Duration
	Logger    *slog.Logger
}

// OptionsFromConfig derives backend options for the store at root.
func OptionsFromConfig(root string, cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Root:      root,
		Algorithm: cfg.Algorithm(),
		PoolSize:  cfg.Store.PoolSize,
		PoolWait:  cfg.Store.PoolWait.Duration,
		Logger:    logger,
	}
}

func (o *Options) normalize() {
	if o.Algorithm == "" {
		o.Algorithm = object.DefaultAlgorithm
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Detect reports the layout of the store at root: an embedded database
// carrying its schema marker wins, then a v1 objects tree, then a v0 pool.
func Detect(root string) (Kind, error) {
	dbPath := filepath.Join(root, DatabaseFile)
	if fileExists(dbPath) {
		ok, err := hasSchemaMarker(dbPath)
		if err != nil {
			return "", err
		}
		if ok {
			return KindEmbedded, nil
		}
	}
	if dirExists(filepath.Join(root, ObjectsDir)) {
		return KindFileV1, nil
	}
	if dirExists(filepath.Join(root, PoolDir)) {
		return KindFileV0, nil
	}
	return "", fmt.Errorf("%w: no store at %s", object.ErrBackendUnavailable, root)
}

func hasSchemaMarker(path string) (bool, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return false, fmt.Errorf("%w: detect: %v", object.ErrBackendUnavailable, err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		// A database without the meta table is not ours.
		return false, nil
	}
	return value != "", nil
}

// Open detects the layout at opts.Root and opens it.
func Open(opts Options) (Backend, error) {
	kind, err := Detect(opts.Root)
	if err != nil {
		return nil, err
	}
	return OpenKind(kind, opts)
}

// OpenKind opens an existing store of the given layout.
func OpenKind(kind Kind, opts Options) (Backend, error) {
	opts.normalize()
	switch kind {
	case KindEmbedded:
		return OpenEmbedded(opts)
	case KindFileV1:
		return OpenFileV1(opts)
	case KindFileV0:
		return OpenFileV0(opts)
	}
	return nil, fmt.Errorf("%w: unknown backend kind %q", object.ErrBackendUnavailable, kind)
}

// Create initializes a store of the given layout at opts.Root and opens
// it. Creating over an existing store of the same kind reopens it.
func Create(kind Kind, opts Options) (Backend, error) {
	opts.normalize()
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	switch kind {
	case KindEmbedded:
		return OpenEmbedded(opts)
	case KindFileV1:
		if err := os.MkdirAll(filepath.Join(opts.Root, ObjectsDir, string(opts.Algorithm)), 0o755); err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
		return OpenFileV1(opts)
	case KindFileV0:
		return nil, fmt.Errorf("create %s store: %w", kind, object.ErrReadOnly)
	}
	return nil, fmt.Errorf("create store: unknown backend kind %q", kind)
}

// KindForConfig maps a configured backend name to the layout it creates.
func KindForConfig(name string) (Kind, error) {
	switch name {
	case config.BackendEmbedded:
		return KindEmbedded, nil
	case config.BackendFile, string(KindFileV1):
		return KindFileV1, nil
	}
	return "", fmt.Errorf("unknown backend %q", name)
}

func poolOptions(opts Options) pool.Options {
	return pool.Options{Size: opts.PoolSize, Wait: opts.PoolWait, Logger: opts.Logger}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sortedUnique(hashes []object.Hash) []object.Hash {
	seen := make(map[object.Hash]struct{}, len(hashes))
	out := make([]object.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sortHashes(out)
	return out
}
