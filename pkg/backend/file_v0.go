package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/babel/pkg/object"
)

// FileV0 reads the legacy flat layout: one pool/<hash>.json document per
// object with every mapping inline. It exists to be migrated away from and
// refuses writes.
type FileV0 struct {
	root   string
	alg    object.Algorithm
	logger *slog.Logger
}

var _ Backend = (*FileV0)(nil)

// legacyDocument is the on-disk shape of a v0 pool file.
type legacyDocument struct {
	SchemaVersion int                        `json:"schema_version"`
	Hash          string                     `json:"hash"`
	Algorithm     string                     `json:"algorithm,omitempty"`
	Structure     []legacyTuple              `json:"structure"`
	Author        string                     `json:"author,omitempty"`
	Timestamp     int64                      `json:"timestamp,omitempty"`
	Tags          []string                   `json:"tags,omitempty"`
	Dependencies  []string                   `json:"dependencies,omitempty"`
	Mappings      map[string][]legacyMapping `json:"mappings,omitempty"`
}

type legacyTuple struct {
	Node  int    `json:"node"`
	Key   string `json:"key"`
	Index int    `json:"index"`
	Value string `json:"value"`
}

type legacyMapping struct {
	Docstring string            `json:"docstring,omitempty"`
	Comment   string            `json:"comment,omitempty"`
	Names     map[string]string `json:"names,omitempty"`
	Aliases   map[string]string `json:"aliases,omitempty"`
	Layout    []string          `json:"layout,omitempty"`
}

// OpenFileV0 opens the legacy pool at opts.Root.
func OpenFileV0(opts Options) (*FileV0, error) {
	opts.normalize()
	if !dirExists(filepath.Join(opts.Root, PoolDir)) {
		return nil, fmt.Errorf("%w: no pool directory in %s", object.ErrBackendUnavailable, opts.Root)
	}
	return &FileV0{
		root:   opts.Root,
		alg:    opts.Algorithm,
		logger: opts.Logger.With("component", "backend", "kind", KindFileV0),
	}, nil
}

func (s *FileV0) Kind() Kind                  { return KindFileV0 }
func (s *FileV0) Algorithm() object.Algorithm { return s.alg }
func (s *FileV0) Close() error                { return nil }

func (s *FileV0) path(h object.Hash) string {
	return filepath.Join(s.root, PoolDir, string(h)+".json")
}

func (s *FileV0) read(h object.Hash) (*legacyDocument, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(h))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", h.Short(), object.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pool read %s: %v", object.ErrBackendUnavailable, h, err)
	}
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: pool file %s: %v", object.ErrBackendUnavailable, h, err)
	}
	if doc.SchemaVersion != 0 {
		return nil, fmt.Errorf("%w: pool file %s: schema version %d", object.ErrBackendUnavailable, h, doc.SchemaVersion)
	}
	if doc.Hash != "" && object.Hash(doc.Hash) != h {
		return nil, &object.HashMismatchError{Expected: h, Actual: object.Hash(doc.Hash)}
	}
	return &doc, nil
}

func (s *FileV0) Has(_ context.Context, h object.Hash) (bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return false, err
	}
	return fileExists(s.path(h)), nil
}

func (s *FileV0) Save(context.Context, *object.CodeObject) (bool, error) {
	return false, fmt.Errorf("save: %w", object.ErrReadOnly)
}

func (s *FileV0) Load(_ context.Context, h object.Hash) (*object.CodeObject, error) {
	doc, err := s.read(h)
	if err != nil {
		return nil, err
	}
	alg := s.alg
	if doc.Algorithm != "" {
		alg = object.Algorithm(doc.Algorithm)
	}
	obj := &object.CodeObject{
		Hash:      h,
		Algorithm: alg,
		Tuples:    make([]object.Tuple, 0, len(doc.Structure)),
		Metadata: object.Metadata{
			Author:    doc.Author,
			Timestamp: doc.Timestamp,
			Tags:      doc.Tags,
		},
	}
	for _, t := range doc.Structure {
		obj.Tuples = append(obj.Tuples, object.Tuple{Node: t.Node, Key: t.Key, Index: t.Index, Value: t.Value})
	}
	object.SortTuples(obj.Tuples)
	deps, err := legacyHashes(doc.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("%w: pool file %s: %v", object.ErrBackendUnavailable, h, err)
	}
	obj.Dependencies = deps
	return obj, nil
}

func (s *FileV0) SaveMapping(context.Context, object.Hash, string, *object.Mapping) (object.Hash, bool, error) {
	return "", false, fmt.Errorf("save mapping: %w", object.ErrReadOnly)
}

// LoadMappings hashes each inline mapping on the fly; v0 files predate
// mapping hashes.
func (s *FileV0) LoadMappings(_ context.Context, h object.Hash, language string) ([]object.MappingRecord, error) {
	doc, err := s.read(h)
	if err != nil {
		return nil, err
	}
	languages := make([]string, 0, len(doc.Mappings))
	for lang := range doc.Mappings {
		if language == "" || lang == language {
			languages = append(languages, lang)
		}
	}
	sort.Strings(languages)

	var out []object.MappingRecord
	for _, lang := range languages {
		seen := make(map[object.Hash]bool)
		var records []object.MappingRecord
		for _, lm := range doc.Mappings[lang] {
			m := lm.mapping()
			mh, err := object.HashMapping(s.alg, &m)
			if err != nil {
				return nil, err
			}
			if seen[mh] {
				continue
			}
			seen[mh] = true
			records = append(records, object.MappingRecord{Language: lang, Hash: mh, Mapping: m})
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Hash < records[j].Hash })
		out = append(out, records...)
	}
	return out, nil
}

func (lm legacyMapping) mapping() object.Mapping {
	m := object.Mapping{
		Docstring: lm.Docstring,
		Comment:   lm.Comment,
		Names:     lm.Names,
		Layout:    lm.Layout,
	}
	if len(lm.Aliases) > 0 {
		m.Aliases = make(map[object.Hash]string, len(lm.Aliases))
		for h, name := range lm.Aliases {
			m.Aliases[object.Hash(h)] = name
		}
	}
	return m
}

func (s *FileV0) SaveDependencies(context.Context, object.Hash, []object.Hash) error {
	return fmt.Errorf("save dependencies: %w", object.ErrReadOnly)
}

func (s *FileV0) LoadDependencies(_ context.Context, h object.Hash) ([]object.Hash, error) {
	doc, err := s.read(h)
	if err != nil {
		return nil, err
	}
	return legacyHashes(doc.Dependencies)
}

// Dependents scans every pool file; v0 keeps no reverse index.
func (s *FileV0) Dependents(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	var out []object.Hash
	for candidate, err := range s.Hashes(ctx) {
		if err != nil {
			return nil, err
		}
		deps, err := s.LoadDependencies(ctx, candidate)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if d == h {
				out = append(out, candidate)
				break
			}
		}
	}
	return out, nil
}

func (s *FileV0) Hashes(ctx context.Context) iter.Seq2[object.Hash, error] {
	return func(yield func(object.Hash, error) bool) {
		entries, err := os.ReadDir(filepath.Join(s.root, PoolDir))
		if err != nil {
			yield("", fmt.Errorf("%w: read pool: %v", object.ErrBackendUnavailable, err))
			return
		}
		hashes := make([]object.Hash, 0, len(entries))
		for _, e := range entries {
			name, ok := strings.CutSuffix(e.Name(), ".json")
			if !ok || e.IsDir() || !isHexHashComponent(name, 64) {
				continue
			}
			hashes = append(hashes, object.Hash(name))
		}
		sortHashes(hashes)
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

// Remove deletes the pool file of h. Pruning is the one write a v0 store
// accepts.
func (s *FileV0) Remove(_ context.Context, h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return err
	}
	if err := os.Remove(s.path(h)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pool remove %s: %w", h, err)
	}
	return nil
}

func legacyHashes(raw []string) ([]object.Hash, error) {
	out := make([]object.Hash, 0, len(raw))
	for _, s := range raw {
		h := object.Hash(s)
		if err := object.ValidateHash(h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return sortedUnique(out), nil
}
