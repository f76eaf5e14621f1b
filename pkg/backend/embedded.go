package backend

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/nstore"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/pool"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - objects, mappings and the nstore kv table
const currentSchemaVersion = 1

var (
	// structure holds (hash, node, key, index, value). The second index
	// answers "which objects contain value v", which is how references to
	// a hash are found without the edge store.
	structure = nstore.New(5,
		nstore.WithPrefix(int64(0)),
		nstore.WithIndices([]int{0, 1, 2, 3, 4}, []int{4, 0, 1, 2, 3}))
	// dependencies holds (from, to) in both directions.
	dependencies = nstore.New(2, nstore.WithPrefix(int64(1)))
)

// Embedded is the SQLite-backed store. Every statement runs on a pooled
// session; writes are serialized by the pool.
type Embedded struct {
	pool   *pool.Pool
	alg    object.Algorithm
	logger *slog.Logger
}

var (
	_ Backend    = (*Embedded)(nil)
	_ Referencer = (*Embedded)(nil)
)

// OpenEmbedded opens or creates root/babel.db and applies the schema. An
// existing store keeps the digest algorithm it was created with.
func OpenEmbedded(opts Options) (*Embedded, error) {
	opts.normalize()
	logger := opts.Logger.With("component", "backend", "kind", KindEmbedded)
	p, err := pool.Open(filepath.Join(opts.Root, DatabaseFile), poolOptions(opts))
	if err != nil {
		return nil, err
	}
	e := &Embedded{pool: p, alg: opts.Algorithm, logger: logger}
	if err := e.applySchema(context.Background()); err != nil {
		p.Close()
		return nil, err
	}
	return e, nil
}

func (e *Embedded) applySchema(ctx context.Context) error {
	return e.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("%w: apply schema: %v", object.ErrBackendUnavailable, err)
		}
		var version int
		if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("get user_version: %w", err)
		}
		if version > currentSchemaVersion {
			return fmt.Errorf("%w: schema version %d is newer than %d", object.ErrBackendUnavailable, version, currentSchemaVersion)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?), ('algorithm', ?)
			 ON CONFLICT(key) DO NOTHING`,
			strconv.Itoa(currentSchemaVersion), string(e.alg)); err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
		var alg string
		if err := tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'algorithm'").Scan(&alg); err != nil {
			return fmt.Errorf("read meta: %w", err)
		}
		parsed, err := object.ParseAlgorithm(alg)
		if err != nil {
			return fmt.Errorf("%w: %v", object.ErrBackendUnavailable, err)
		}
		e.alg = parsed
		return nil
	})
}

// write retries pool timeouts with backoff; nothing else is retried.
func (e *Embedded) write(ctx context.Context, fn func(*sql.Tx) error) error {
	return pool.Retry(ctx, 0, func() error { return e.pool.Write(ctx, fn) })
}

func (e *Embedded) read(ctx context.Context, fn func(*sql.Tx) error) error {
	return pool.Retry(ctx, 0, func() error { return e.pool.Read(ctx, fn) })
}

func (e *Embedded) Kind() Kind                  { return KindEmbedded }
func (e *Embedded) Algorithm() object.Algorithm { return e.alg }
func (e *Embedded) Close() error                { return e.pool.Close() }

// Pool exposes the connection pool for callers that manage their own
// sessions.
func (e *Embedded) Pool() *pool.Pool { return e.pool }

func hasObject(ctx context.Context, tx *sql.Tx, h object.Hash) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM objects WHERE hash = ?", string(h)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", h.Short(), err)
	}
	return true, nil
}

func (e *Embedded) Has(ctx context.Context, h object.Hash) (bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return false, err
	}
	var ok bool
	err := e.read(ctx, func(tx *sql.Tx) (err error) {
		ok, err = hasObject(ctx, tx, h)
		return err
	})
	return ok, err
}

func (e *Embedded) Save(ctx context.Context, obj *object.CodeObject) (bool, error) {
	if err := object.ValidateHash(obj.Hash); err != nil {
		return false, err
	}
	tags, err := json.Marshal(nonNil(obj.Metadata.Tags))
	if err != nil {
		return false, err
	}
	created := false
	err = e.write(ctx, func(tx *sql.Tx) error {
		exists, err := hasObject(ctx, tx, obj.Hash)
		if err != nil || exists {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO objects (hash, author, created_at, tags) VALUES (?, ?, ?, ?)",
			string(obj.Hash), obj.Metadata.Author, obj.Metadata.Timestamp, string(tags)); err != nil {
			return fmt.Errorf("insert object: %w", err)
		}
		kv := nstore.NewSQLiteKV(ctx, tx, "")
		h := string(obj.Hash)
		for _, t := range obj.Tuples {
			if err := structure.Add(kv, h, int64(t.Node), t.Key, int64(t.Index), t.Value); err != nil {
				return fmt.Errorf("insert structure: %w", err)
			}
		}
		for _, d := range sortedUnique(obj.Dependencies) {
			if err := dependencies.Add(kv, h, string(d)); err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Debug("object saved", "hash", obj.Hash.Short(), "tuples", len(obj.Tuples))
	}
	return created, nil
}

func (e *Embedded) Load(ctx context.Context, h object.Hash) (*object.CodeObject, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	obj := &object.CodeObject{Hash: h, Algorithm: e.alg}
	err := e.read(ctx, func(tx *sql.Tx) error {
		var tags string
		err := tx.QueryRowContext(ctx,
			"SELECT author, created_at, tags FROM objects WHERE hash = ?", string(h)).
			Scan(&obj.Metadata.Author, &obj.Metadata.Timestamp, &tags)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("object %s: %w", h.Short(), object.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: load %s: %v", object.ErrBackendUnavailable, h.Short(), err)
		}
		if err := json.Unmarshal([]byte(tags), &obj.Metadata.Tags); err != nil {
			return fmt.Errorf("%w: tags of %s: %v", object.ErrBackendUnavailable, h.Short(), err)
		}
		if len(obj.Metadata.Tags) == 0 {
			obj.Metadata.Tags = nil
		}

		kv := nstore.NewSQLiteKV(ctx, tx, "")
		for tuple, err := range structure.Select(kv, string(h), nstore.Var("node"), nstore.Var("key"), nstore.Var("index"), nstore.Var("value")) {
			if err != nil {
				return fmt.Errorf("%w: structure of %s: %v", object.ErrBackendUnavailable, h.Short(), err)
			}
			obj.Tuples = append(obj.Tuples, object.Tuple{
				Node:  int(tuple[1].(int64)),
				Key:   tuple[2].(string),
				Index: int(tuple[3].(int64)),
				Value: tuple[4].(string),
			})
		}
		deps, err := selectDependencies(kv, h)
		if err != nil {
			return err
		}
		obj.Dependencies = deps
		return nil
	})
	if err != nil {
		return nil, err
	}
	object.SortTuples(obj.Tuples)
	return obj, nil
}

func (e *Embedded) SaveMapping(ctx context.Context, h object.Hash, language string, m *object.Mapping) (object.Hash, bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return "", false, err
	}
	if err := object.ValidateLanguage(language); err != nil {
		return "", false, err
	}
	mh, err := object.HashMapping(e.alg, m)
	if err != nil {
		return "", false, err
	}
	payload := object.MarshalMapping(m)
	created := false
	err = e.write(ctx, func(tx *sql.Tx) error {
		exists, err := hasObject(ctx, tx, h)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("mapping for %s: %w", h.Short(), object.ErrNotFound)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO mappings (hash, language, mapping_hash, payload) VALUES (?, ?, ?, ?)
			 ON CONFLICT(hash, language, mapping_hash) DO NOTHING`,
			string(h), language, string(mh), payload)
		if err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return mh, created, nil
}

func (e *Embedded) LoadMappings(ctx context.Context, h object.Hash, language string) ([]object.MappingRecord, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	var out []object.MappingRecord
	err := e.read(ctx, func(tx *sql.Tx) error {
		query := "SELECT language, mapping_hash, payload FROM mappings WHERE hash = ?"
		args := []any{string(h)}
		if language != "" {
			query += " AND language = ?"
			args = append(args, language)
		}
		query += " ORDER BY language, mapping_hash"
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: load mappings: %v", object.ErrBackendUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec     object.MappingRecord
				mh      string
				payload []byte
			)
			if err := rows.Scan(&rec.Language, &mh, &payload); err != nil {
				return err
			}
			m, err := object.UnmarshalMapping(payload)
			if err != nil {
				return fmt.Errorf("%w: mapping %s: %v", object.ErrBackendUnavailable, mh, err)
			}
			rec.Hash = object.Hash(mh)
			rec.Mapping = *m
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func (e *Embedded) SaveDependencies(ctx context.Context, h object.Hash, deps []object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return err
	}
	deps = sortedUnique(deps)
	return e.write(ctx, func(tx *sql.Tx) error {
		exists, err := hasObject(ctx, tx, h)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("dependencies of %s: %w", h.Short(), object.ErrNotFound)
		}
		kv := nstore.NewSQLiteKV(ctx, tx, "")
		if err := deleteDependencies(kv, h); err != nil {
			return err
		}
		for _, d := range deps {
			if err := dependencies.Add(kv, string(h), string(d)); err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}
		return nil
	})
}

func deleteDependencies(kv nstore.KV, h object.Hash) error {
	stale, err := selectDependencies(kv, h)
	if err != nil {
		return err
	}
	for _, d := range stale {
		if err := dependencies.Delete(kv, string(h), string(d)); err != nil {
			return fmt.Errorf("delete dependency: %w", err)
		}
	}
	return nil
}

func selectDependencies(kv nstore.KV, h object.Hash) ([]object.Hash, error) {
	var out []object.Hash
	for tuple, err := range dependencies.Select(kv, string(h), nstore.Var("to")) {
		if err != nil {
			return nil, fmt.Errorf("%w: dependencies of %s: %v", object.ErrBackendUnavailable, h.Short(), err)
		}
		out = append(out, object.Hash(tuple[1].(string)))
	}
	return out, nil
}

func (e *Embedded) LoadDependencies(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	var out []object.Hash
	err := e.read(ctx, func(tx *sql.Tx) error {
		exists, err := hasObject(ctx, tx, h)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("dependencies of %s: %w", h.Short(), object.ErrNotFound)
		}
		out, err = selectDependencies(nstore.NewSQLiteKV(ctx, tx, ""), h)
		return err
	})
	return out, err
}

func (e *Embedded) Dependents(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	var out []object.Hash
	err := e.read(ctx, func(tx *sql.Tx) error {
		kv := nstore.NewSQLiteKV(ctx, tx, "")
		for tuple, err := range dependencies.Select(kv, nstore.Var("from"), string(h)) {
			if err != nil {
				return fmt.Errorf("%w: dependents of %s: %v", object.ErrBackendUnavailable, h.Short(), err)
			}
			out = append(out, object.Hash(tuple[0].(string)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedUnique(out), nil
}

// ReferencedBy returns objects whose structure references h. It runs on
// the value-first index.
func (e *Embedded) ReferencedBy(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	value := canon.RefValue(h)
	var out []object.Hash
	err := e.read(ctx, func(tx *sql.Tx) error {
		kv := nstore.NewSQLiteKV(ctx, tx, "")
		pattern := []any{nstore.Var("hash"), nstore.Var("node"), nstore.Var("key"), nstore.Var("index"), value}
		for b, err := range structure.Query(kv, pattern) {
			if err != nil {
				return fmt.Errorf("%w: references: %v", object.ErrBackendUnavailable, err)
			}
			out = append(out, object.Hash(b["hash"].(string)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedUnique(out), nil
}

// Hashes lists objects from one snapshot. The list is read before the
// first yield so the consumer may use the store while ranging.
func (e *Embedded) Hashes(ctx context.Context) iter.Seq2[object.Hash, error] {
	return func(yield func(object.Hash, error) bool) {
		var hashes []object.Hash
		err := e.read(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, "SELECT hash FROM objects ORDER BY hash")
			if err != nil {
				return fmt.Errorf("%w: list objects: %v", object.ErrBackendUnavailable, err)
			}
			defer rows.Close()
			for rows.Next() {
				var h string
				if err := rows.Scan(&h); err != nil {
					return err
				}
				hashes = append(hashes, object.Hash(h))
			}
			return rows.Err()
		})
		if err != nil {
			yield("", err)
			return
		}
		for _, h := range hashes {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}

// Count returns the number of stored objects and structure tuples.
func (e *Embedded) Count(ctx context.Context) (objects, tuples int, err error) {
	err = e.read(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM objects").Scan(&objects); err != nil {
			return err
		}
		n, err := structure.Count(nstore.NewSQLiteKV(ctx, tx, ""),
			nstore.Var("h"), nstore.Var("n"), nstore.Var("k"), nstore.Var("i"), nstore.Var("v"))
		tuples = n
		return err
	})
	return objects, tuples, err
}

// Remove deletes h with its structure, mappings and outgoing edges.
func (e *Embedded) Remove(ctx context.Context, h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return err
	}
	return e.write(ctx, func(tx *sql.Tx) error {
		kv := nstore.NewSQLiteKV(ctx, tx, "")
		var stale [][]any
		for tuple, err := range structure.Select(kv, string(h), nstore.Var("n"), nstore.Var("k"), nstore.Var("i"), nstore.Var("v")) {
			if err != nil {
				return err
			}
			stale = append(stale, tuple)
		}
		for _, tuple := range stale {
			if err := structure.Delete(kv, tuple...); err != nil {
				return err
			}
		}
		if err := deleteDependencies(kv, h); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mappings WHERE hash = ?", string(h)); err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE hash = ?", string(h)); err != nil {
			return fmt.Errorf("delete object: %w", err)
		}
		return nil
	})
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
