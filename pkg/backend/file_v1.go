package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/babel/pkg/object"
)

const (
	objectFile       = "object"
	dependenciesFile = "dependencies"
	mappingFile      = "mapping"
)

// FileV1 is the content-addressed directory layout:
//
//	objects/<alg>/<hh>/<rest>/object
//	objects/<alg>/<hh>/<rest>/dependencies
//	objects/<alg>/<hh>/<rest>/<language>/<alg>/<mm>/<mrest>/mapping
//
// Objects are staged under tmp/ and renamed into place, so a reader never
// sees a partially written object directory. The badger edge index under
// index/ is opened only for the length of one operation; several processes
// may share a store, and one that finds the index locked falls back to the
// dependencies files.
type FileV1 struct {
	root   string
	alg    object.Algorithm
	logger *slog.Logger

	indexMu sync.Mutex
}

var _ Backend = (*FileV1)(nil)

// OpenFileV1 opens the v1 layout at opts.Root.
func OpenFileV1(opts Options) (*FileV1, error) {
	opts.normalize()
	if !dirExists(filepath.Join(opts.Root, ObjectsDir)) {
		return nil, fmt.Errorf("%w: no objects directory in %s", object.ErrBackendUnavailable, opts.Root)
	}
	logger := opts.Logger.With("component", "backend", "kind", KindFileV1)
	return &FileV1{root: opts.Root, alg: opts.Algorithm, logger: logger}, nil
}

func (s *FileV1) Kind() Kind                  { return KindFileV1 }
func (s *FileV1) Algorithm() object.Algorithm { return s.alg }

func (s *FileV1) Close() error { return nil }

func (s *FileV1) stalePath() string {
	return filepath.Join(s.root, StaleIndexFile)
}

// withIndex runs fn against the edge index, holding badger's directory lock
// only for the call. It reports false without calling fn when the index
// cannot be opened, usually because another process holds it.
func (s *FileV1) withIndex(fn func(*edgeIndex) error) (bool, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	x, err := openEdgeIndex(filepath.Join(s.root, IndexDir), s.logger)
	if err != nil {
		s.logger.Debug("edge index unavailable", "error", err)
		return false, nil
	}
	defer func() {
		if err := x.close(); err != nil {
			s.logger.Warn("closing edge index", "error", err)
		}
	}()
	return true, fn(x)
}

// indexEdges records the outgoing edges of h. When the index is out of
// reach the dependencies file alone carries them and the index is marked
// stale until the next Reindex.
func (s *FileV1) indexEdges(h object.Hash, deps []object.Hash) error {
	ok, err := s.withIndex(func(x *edgeIndex) error { return x.replace(h, deps) })
	if err != nil || ok {
		return err
	}
	if err := os.WriteFile(s.stalePath(), nil, 0o644); err != nil {
		return fmt.Errorf("%w: mark edge index stale: %v", object.ErrBackendUnavailable, err)
	}
	s.logger.Warn("edge index busy, marked stale until reindex", "hash", h.Short())
	return nil
}

func (s *FileV1) algDir() string {
	return filepath.Join(s.root, ObjectsDir, string(s.alg))
}

func (s *FileV1) objectDir(h object.Hash) string {
	return filepath.Join(s.algDir(), string(h[:2]), string(h[2:]))
}

func (s *FileV1) mappingPath(h object.Hash, language string, mh object.Hash) string {
	return filepath.Join(s.objectDir(h), language, string(s.alg), string(mh[:2]), string(mh[2:]), mappingFile)
}

func (s *FileV1) Has(_ context.Context, h object.Hash) (bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return false, err
	}
	return fileExists(filepath.Join(s.objectDir(h), objectFile)), nil
}

func (s *FileV1) Save(ctx context.Context, obj *object.CodeObject) (bool, error) {
	if err := object.ValidateHash(obj.Hash); err != nil {
		return false, err
	}
	if ok, _ := s.Has(ctx, obj.Hash); ok {
		return false, nil
	}
	stored := *obj
	stored.Algorithm = s.alg
	deps := sortedUnique(obj.Dependencies)

	tmpRoot := filepath.Join(s.root, TmpDir)
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return false, fmt.Errorf("object save mkdir: %w", err)
	}
	stage, err := os.MkdirTemp(tmpRoot, "object-*")
	if err != nil {
		return false, fmt.Errorf("object save stage: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := os.WriteFile(filepath.Join(stage, objectFile), object.MarshalObject(&stored), 0o644); err != nil {
		return false, fmt.Errorf("object save: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, dependenciesFile), marshalHashes(deps), 0o644); err != nil {
		return false, fmt.Errorf("object save dependencies: %w", err)
	}

	dest := s.objectDir(obj.Hash)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("object save mkdir: %w", err)
	}
	if err := os.Rename(stage, dest); err != nil {
		// Another writer won the race with identical content.
		if fileExists(filepath.Join(dest, objectFile)) {
			return false, nil
		}
		return false, fmt.Errorf("object save rename: %w", err)
	}
	if err := s.indexEdges(obj.Hash, deps); err != nil {
		return true, err
	}
	s.logger.Debug("object saved", "hash", obj.Hash.Short(), "dependencies", len(deps))
	return true, nil
}

func (s *FileV1) Load(ctx context.Context, h object.Hash) (*object.CodeObject, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.objectDir(h), objectFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", h.Short(), object.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: object read %s: %v", object.ErrBackendUnavailable, h, err)
	}
	obj, err := object.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: object %s: %v", object.ErrBackendUnavailable, h, err)
	}
	if obj.Hash != h {
		return nil, &object.HashMismatchError{Expected: h, Actual: obj.Hash}
	}
	if obj.Algorithm == "" {
		obj.Algorithm = s.alg
	}
	deps, err := s.readDependencies(h)
	if err != nil {
		return nil, err
	}
	obj.Dependencies = deps
	return obj, nil
}

func (s *FileV1) SaveMapping(ctx context.Context, h object.Hash, language string, m *object.Mapping) (object.Hash, bool, error) {
	if err := object.ValidateLanguage(language); err != nil {
		return "", false, err
	}
	ok, err := s.Has(ctx, h)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, fmt.Errorf("mapping for %s: %w", h.Short(), object.ErrNotFound)
	}
	mh, err := object.HashMapping(s.alg, m)
	if err != nil {
		return "", false, err
	}
	path := s.mappingPath(h, language, mh)
	if fileExists(path) {
		return mh, false, nil
	}
	if err := writeFileAtomic(path, object.MarshalMapping(m)); err != nil {
		return "", false, fmt.Errorf("mapping save: %w", err)
	}
	return mh, true, nil
}

func (s *FileV1) LoadMappings(ctx context.Context, h object.Hash, language string) ([]object.MappingRecord, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	dir := s.objectDir(h)
	var languages []string
	if language != "" {
		if err := object.ValidateLanguage(language); err != nil {
			return nil, err
		}
		languages = []string{language}
	} else {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", h.Short(), object.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", object.ErrBackendUnavailable, dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				languages = append(languages, e.Name())
			}
		}
		sort.Strings(languages)
	}

	var out []object.MappingRecord
	for _, lang := range languages {
		hashes, err := listFanout(filepath.Join(dir, lang, string(s.alg)), mappingFile)
		if err != nil {
			return nil, err
		}
		for _, mh := range hashes {
			data, err := os.ReadFile(s.mappingPath(h, lang, mh))
			if err != nil {
				return nil, fmt.Errorf("%w: mapping read %s: %v", object.ErrBackendUnavailable, mh, err)
			}
			m, err := object.UnmarshalMapping(data)
			if err != nil {
				return nil, fmt.Errorf("%w: mapping %s: %v", object.ErrBackendUnavailable, mh, err)
			}
			out = append(out, object.MappingRecord{Language: lang, Hash: mh, Mapping: *m})
		}
	}
	return out, nil
}

func (s *FileV1) SaveDependencies(ctx context.Context, h object.Hash, deps []object.Hash) error {
	ok, err := s.Has(ctx, h)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dependencies of %s: %w", h.Short(), object.ErrNotFound)
	}
	deps = sortedUnique(deps)
	if err := writeFileAtomic(filepath.Join(s.objectDir(h), dependenciesFile), marshalHashes(deps)); err != nil {
		return fmt.Errorf("dependencies save: %w", err)
	}
	return s.indexEdges(h, deps)
}

func (s *FileV1) LoadDependencies(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	ok, err := s.Has(ctx, h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dependencies of %s: %w", h.Short(), object.ErrNotFound)
	}
	return s.readDependencies(h)
}

func (s *FileV1) readDependencies(h object.Hash) ([]object.Hash, error) {
	data, err := os.ReadFile(filepath.Join(s.objectDir(h), dependenciesFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dependencies read %s: %v", object.ErrBackendUnavailable, h, err)
	}
	deps, err := unmarshalHashes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: dependencies of %s: %v", object.ErrBackendUnavailable, h, err)
	}
	return deps, nil
}

func (s *FileV1) Dependents(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	if !fileExists(s.stalePath()) {
		var out []object.Hash
		ok, err := s.withIndex(func(x *edgeIndex) error {
			var err error
			out, err = x.dependents(h)
			return err
		})
		if err != nil {
			return nil, err
		}
		if ok {
			return sortedUnique(out), nil
		}
	}
	return s.scanDependents(ctx, h)
}

// scanDependents answers Dependents from the dependencies files.
func (s *FileV1) scanDependents(ctx context.Context, h object.Hash) ([]object.Hash, error) {
	var out []object.Hash
	for from, err := range s.Hashes(ctx) {
		if err != nil {
			return nil, err
		}
		deps, err := s.readDependencies(from)
		if err != nil {
			return nil, err
		}
		if slices.Contains(deps, h) {
			out = append(out, from)
		}
	}
	return out, nil
}

func (s *FileV1) Hashes(ctx context.Context) iter.Seq2[object.Hash, error] {
	return func(yield func(object.Hash, error) bool) {
		hashes, err := listFanout(s.algDir(), objectFile)
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

// Remove deletes the object directory of h with every mapping under it.
func (s *FileV1) Remove(_ context.Context, h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return err
	}
	if err := os.RemoveAll(s.objectDir(h)); err != nil {
		return fmt.Errorf("object remove %s: %w", h, err)
	}
	return s.indexEdges(h, nil)
}

// Reindex rebuilds the edge index from the dependencies files and returns
// the number of edges indexed.
func (s *FileV1) Reindex(ctx context.Context) (int, error) {
	edges := 0
	ok, err := s.withIndex(func(x *edgeIndex) error {
		if err := x.reset(); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		for h, err := range s.Hashes(ctx) {
			if err != nil {
				return err
			}
			deps, err := s.readDependencies(h)
			if err != nil {
				return err
			}
			if err := x.replace(h, deps); err != nil {
				return err
			}
			edges += len(deps)
		}
		return nil
	})
	if err != nil {
		return edges, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: reindex: edge index is in use", object.ErrBackendUnavailable)
	}
	if err := os.Remove(s.stalePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return edges, fmt.Errorf("reindex: %w", err)
	}
	s.logger.Info("edge index rebuilt", "edges", edges)
	return edges, nil
}

// listFanout lists the hashes stored under dir as <hh>/<rest>/<leaf>.
func listFanout(dir, leaf string) ([]object.Hash, error) {
	fanoutDirs, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", object.ErrBackendUnavailable, dir, err)
	}

	hashes := make([]object.Hash, 0)
	for _, fanoutDir := range fanoutDirs {
		prefix := fanoutDir.Name()
		if !fanoutDir.IsDir() || !isHexHashComponent(prefix, 2) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, prefix))
		if err != nil {
			return nil, fmt.Errorf("%w: read fanout %s: %v", object.ErrBackendUnavailable, prefix, err)
		}
		for _, entry := range entries {
			suffix := entry.Name()
			if !entry.IsDir() || !isHexHashComponent(suffix, 62) {
				continue
			}
			if !fileExists(filepath.Join(dir, prefix, suffix, leaf)) {
				continue
			}
			hashes = append(hashes, object.Hash(prefix+suffix))
		}
	}
	sortHashes(hashes)
	return hashes, nil
}

func isHexHashComponent(s string, expectedLen int) bool {
	if len(s) != expectedLen || strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func marshalHashes(hashes []object.Hash) []byte {
	var b strings.Builder
	for _, h := range hashes {
		b.WriteString(string(h))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func unmarshalHashes(data []byte) ([]object.Hash, error) {
	var out []object.Hash
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h := object.Hash(line)
		if err := object.ValidateHash(h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func sortHashes(hashes []object.Hash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
}
