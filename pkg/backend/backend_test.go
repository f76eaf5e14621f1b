package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

// makeObject encodes `def <name>(): return "<name>"` calling every dep.
func makeObject(t *testing.T, alg object.Algorithm, name string, deps ...object.Hash) *object.CodeObject {
	t.Helper()
	ret := tree.New("return").Add("value", tree.Lit(name))
	root := tree.New("function_definition").
		Add("name", tree.Ident(name)).
		Add("body", tree.Child(ret))
	for _, d := range deps {
		root.Add("calls", tree.Ref(d))
	}
	c, err := canon.Encode(root, canon.Options{Algorithm: alg})
	require.NoError(t, err)
	return &object.CodeObject{
		Hash:      c.Hash,
		Algorithm: alg,
		Tuples:    c.Tuples,
		Metadata: object.Metadata{
			Author:    "A U Thor <author@example.com>",
			Timestamp: 1700000000,
			Tags:      []string{"math"},
		},
		Dependencies: c.Refs,
	}
}

func openKind(t *testing.T, kind Kind) Backend {
	t.Helper()
	b, err := Create(kind, Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

var writableKinds = []Kind{KindEmbedded, KindFileV1}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	for _, kind := range writableKinds {
		t.Run(string(kind), func(t *testing.T) {
			b := openKind(t, kind)
			obj := makeObject(t, b.Algorithm(), "add")

			created, err := b.Save(ctx, obj)
			require.NoError(t, err)
			assert.True(t, created)

			created, err = b.Save(ctx, obj)
			require.NoError(t, err)
			assert.False(t, created, "second save of the same hash must be a no-op")

			ok, err := b.Has(ctx, obj.Hash)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := b.Load(ctx, obj.Hash)
			require.NoError(t, err)
			assert.Equal(t, obj.Hash, got.Hash)
			assert.Equal(t, obj.Tuples, got.Tuples)
			assert.Equal(t, obj.Metadata, got.Metadata)
			assert.Equal(t, b.Algorithm(), got.Algorithm)

			rehash, err := canon.Rehash(b.Algorithm(), got.Tuples)
			require.NoError(t, err)
			assert.Equal(t, obj.Hash, rehash)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	for _, kind := range writableKinds {
		t.Run(string(kind), func(t *testing.T) {
			b := openKind(t, kind)
			missing := makeObject(t, b.Algorithm(), "missing")

			_, err := b.Load(ctx, missing.Hash)
			assert.ErrorIs(t, err, object.ErrNotFound)

			ok, err := b.Has(ctx, missing.Hash)
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = b.SaveMapping(ctx, missing.Hash, "eng", &object.Mapping{Docstring: "x"})
			assert.ErrorIs(t, err, object.ErrNotFound)
		})
	}
}

func TestMappingVariants(t *testing.T) {
	ctx := context.Background()
	for _, kind := range writableKinds {
		t.Run(string(kind), func(t *testing.T) {
			b := openKind(t, kind)
			obj := makeObject(t, b.Algorithm(), "add")
			_, err := b.Save(ctx, obj)
			require.NoError(t, err)

			eng := &object.Mapping{Docstring: "Add things", Names: map[string]string{"_v_0": "add"}}
			fra := &object.Mapping{Docstring: "Ajoute", Names: map[string]string{"_v_0": "ajouter"}}
			eng2 := &object.Mapping{Docstring: "Sum", Names: map[string]string{"_v_0": "sum"}}

			h1, created, err := b.SaveMapping(ctx, obj.Hash, "eng", eng)
			require.NoError(t, err)
			assert.True(t, created)

			again, created, err := b.SaveMapping(ctx, obj.Hash, "eng", eng)
			require.NoError(t, err)
			assert.False(t, created, "identical variant deduplicates")
			assert.Equal(t, h1, again)

			_, _, err = b.SaveMapping(ctx, obj.Hash, "fra", fra)
			require.NoError(t, err)
			_, _, err = b.SaveMapping(ctx, obj.Hash, "eng", eng2)
			require.NoError(t, err)

			engRecords, err := b.LoadMappings(ctx, obj.Hash, "eng")
			require.NoError(t, err)
			require.Len(t, engRecords, 2)
			assert.Less(t, string(engRecords[0].Hash), string(engRecords[1].Hash))

			all, err := b.LoadMappings(ctx, obj.Hash, "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "eng", all[0].Language)
			assert.Equal(t, "fra", all[2].Language)
			assert.Equal(t, "Ajoute", all[2].Mapping.Docstring)

			for _, rec := range all {
				mh, err := object.HashMapping(b.Algorithm(), &rec.Mapping)
				require.NoError(t, err)
				assert.Equal(t, rec.Hash, mh, "stored variant must hash to its key")
			}
		})
	}
}

func TestDependencies(t *testing.T) {
	ctx := context.Background()
	for _, kind := range writableKinds {
		t.Run(string(kind), func(t *testing.T) {
			b := openKind(t, kind)
			alg := b.Algorithm()
			leaf := makeObject(t, alg, "leaf")
			other := makeObject(t, alg, "other")
			caller := makeObject(t, alg, "caller", leaf.Hash)
			for _, o := range []*object.CodeObject{leaf, other, caller} {
				_, err := b.Save(ctx, o)
				require.NoError(t, err)
			}

			deps, err := b.LoadDependencies(ctx, caller.Hash)
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{leaf.Hash}, deps)

			dependents, err := b.Dependents(ctx, leaf.Hash)
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{caller.Hash}, dependents)

			require.NoError(t, b.SaveDependencies(ctx, caller.Hash, []object.Hash{other.Hash}))
			dependents, err = b.Dependents(ctx, leaf.Hash)
			require.NoError(t, err)
			assert.Empty(t, dependents)
			dependents, err = b.Dependents(ctx, other.Hash)
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{caller.Hash}, dependents)
		})
	}
}

func TestHashesSorted(t *testing.T) {
	ctx := context.Background()
	for _, kind := range writableKinds {
		t.Run(string(kind), func(t *testing.T) {
			b := openKind(t, kind)
			var want []object.Hash
			for i := 0; i < 5; i++ {
				o := makeObject(t, b.Algorithm(), fmt.Sprintf("f%d", i))
				_, err := b.Save(ctx, o)
				require.NoError(t, err)
				want = append(want, o.Hash)
			}
			sortHashes(want)

			var got []object.Hash
			for h, err := range b.Hashes(ctx) {
				require.NoError(t, err)
				got = append(got, h)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	_, err := Detect(root)
	assert.ErrorIs(t, err, object.ErrBackendUnavailable)

	require.NoError(t, os.MkdirAll(filepath.Join(root, PoolDir), 0o755))
	kind, err := Detect(root)
	require.NoError(t, err)
	assert.Equal(t, KindFileV0, kind)

	v1, err := Create(KindFileV1, Options{Root: root})
	require.NoError(t, err)
	require.NoError(t, v1.Close())
	kind, err = Detect(root)
	require.NoError(t, err)
	assert.Equal(t, KindFileV1, kind)

	emb, err := Create(KindEmbedded, Options{Root: root})
	require.NoError(t, err)
	require.NoError(t, emb.Close())
	kind, err = Detect(root)
	require.NoError(t, err)
	assert.Equal(t, KindEmbedded, kind, "embedded store wins over file layouts")
}

func TestDetectIgnoresForeignDatabase(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DatabaseFile), []byte("not a database"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ObjectsDir), 0o755))

	kind, err := Detect(root)
	require.NoError(t, err)
	assert.Equal(t, KindFileV1, kind)
}

func TestCreateLegacyFails(t *testing.T) {
	_, err := Create(KindFileV0, Options{Root: t.TempDir()})
	assert.ErrorIs(t, err, object.ErrReadOnly)
}

func TestEmbeddedKeepsAlgorithm(t *testing.T) {
	root := t.TempDir()
	b, err := Create(KindEmbedded, Options{Root: root, Algorithm: object.BLAKE2b})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := Open(Options{Root: root, Algorithm: object.SHA256})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, object.BLAKE2b, reopened.Algorithm())
}

func TestEmbeddedConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	b, err := Create(KindEmbedded, Options{Root: t.TempDir(), PoolSize: 2})
	require.NoError(t, err)
	defer b.Close()

	objs := make([]*object.CodeObject, 16)
	for i := range objs {
		objs[i] = makeObject(t, b.Algorithm(), fmt.Sprintf("worker%d", i))
	}

	var g errgroup.Group
	for _, o := range objs {
		g.Go(func() error {
			if _, err := b.Save(ctx, o); err != nil {
				return err
			}
			_, _, err := b.SaveMapping(ctx, o.Hash, "eng", &object.Mapping{Docstring: string(o.Hash)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	emb := b.(*Embedded)
	count, tuples, err := emb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(objs), count)
	assert.Equal(t, len(objs)*len(objs[0].Tuples), tuples)
}

func TestEmbeddedReferencedBy(t *testing.T) {
	ctx := context.Background()
	b, err := Create(KindEmbedded, Options{Root: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()

	leaf := makeObject(t, b.Algorithm(), "leaf")
	caller := makeObject(t, b.Algorithm(), "caller", leaf.Hash)
	for _, o := range []*object.CodeObject{leaf, caller} {
		_, err := b.Save(ctx, o)
		require.NoError(t, err)
	}

	refs, err := b.(*Embedded).ReferencedBy(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{caller.Hash}, refs)
}

func TestFileV1Reindex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := Create(KindFileV1, Options{Root: root})
	require.NoError(t, err)

	leaf := makeObject(t, b.Algorithm(), "leaf")
	caller := makeObject(t, b.Algorithm(), "caller", leaf.Hash)
	for _, o := range []*object.CodeObject{leaf, caller} {
		_, err := b.Save(ctx, o)
		require.NoError(t, err)
	}
	require.NoError(t, b.Close())
	require.NoError(t, os.RemoveAll(filepath.Join(root, IndexDir)))

	reopened, err := OpenFileV1(Options{Root: root})
	require.NoError(t, err)
	defer reopened.Close()

	dependents, err := reopened.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.Empty(t, dependents, "a fresh index knows no edges")

	edges, err := reopened.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)
	dependents, err = reopened.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{caller.Hash}, dependents)
}

func TestFileV1SharedByTwoOpeners(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	first, err := Create(KindFileV1, Options{Root: root})
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(Options{Root: root})
	require.NoError(t, err, "a second opener must not be locked out")
	defer second.Close()

	leaf := makeObject(t, first.Algorithm(), "leaf")
	_, err = first.Save(ctx, leaf)
	require.NoError(t, err)
	caller := makeObject(t, first.Algorithm(), "caller", leaf.Hash)
	_, err = second.Save(ctx, caller)
	require.NoError(t, err)

	dependents, err := first.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{caller.Hash}, dependents)

	// Another process holding the index.
	held, err := openEdgeIndex(filepath.Join(root, IndexDir), slog.Default())
	require.NoError(t, err)
	other := makeObject(t, first.Algorithm(), "other", leaf.Hash)
	_, err = second.Save(ctx, other)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, StaleIndexFile))

	dependents, err = first.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []object.Hash{caller.Hash, other.Hash}, dependents)

	_, err = first.(*FileV1).Reindex(ctx)
	assert.ErrorIs(t, err, object.ErrBackendUnavailable)
	require.NoError(t, held.close())

	edges, err := first.(*FileV1).Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, edges)
	assert.NoFileExists(t, filepath.Join(root, StaleIndexFile))
	dependents, err = second.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []object.Hash{caller.Hash, other.Hash}, dependents)
}

func TestFileV1Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := Create(KindFileV1, Options{Root: root})
	require.NoError(t, err)
	defer b.Close()

	obj := makeObject(t, b.Algorithm(), "add")
	_, err = b.Save(ctx, obj)
	require.NoError(t, err)
	mh, _, err := b.SaveMapping(ctx, obj.Hash, "eng", &object.Mapping{Docstring: "Add"})
	require.NoError(t, err)

	h := string(obj.Hash)
	m := string(mh)
	objDir := filepath.Join(root, "objects", "sha256", h[:2], h[2:])
	assert.FileExists(t, filepath.Join(objDir, "object"))
	assert.FileExists(t, filepath.Join(objDir, "eng", "sha256", m[:2], m[2:], "mapping"))

	entries, err := os.ReadDir(filepath.Join(root, TmpDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory is cleaned up")
}

// writeLegacy stores obj as a v0 pool file with the given mappings.
func writeLegacy(t *testing.T, root string, obj *object.CodeObject, mappings map[string][]object.Mapping) {
	t.Helper()
	doc := legacyDocument{
		Hash:      string(obj.Hash),
		Author:    obj.Metadata.Author,
		Timestamp: obj.Metadata.Timestamp,
		Tags:      obj.Metadata.Tags,
		Mappings:  make(map[string][]legacyMapping),
	}
	for _, tp := range obj.Tuples {
		doc.Structure = append(doc.Structure, legacyTuple{Node: tp.Node, Key: tp.Key, Index: tp.Index, Value: tp.Value})
	}
	for _, d := range obj.Dependencies {
		doc.Dependencies = append(doc.Dependencies, string(d))
	}
	for lang, ms := range mappings {
		for _, m := range ms {
			lm := legacyMapping{Docstring: m.Docstring, Comment: m.Comment, Names: m.Names, Layout: m.Layout}
			for h, name := range m.Aliases {
				if lm.Aliases == nil {
					lm.Aliases = make(map[string]string)
				}
				lm.Aliases[string(h)] = name
			}
			doc.Mappings[lang] = append(doc.Mappings[lang], lm)
		}
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	dir := filepath.Join(root, PoolDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(obj.Hash)+".json"), data, 0o644))
}

func TestFileV0(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	leaf := makeObject(t, object.SHA256, "leaf")
	caller := makeObject(t, object.SHA256, "caller", leaf.Hash)
	writeLegacy(t, root, leaf, map[string][]object.Mapping{"eng": {{Docstring: "Leaf"}}})
	writeLegacy(t, root, caller, map[string][]object.Mapping{
		"eng": {{Docstring: "Caller", Aliases: map[object.Hash]string{leaf.Hash: "leaf"}}},
		"fra": {{Docstring: "Appelant"}},
	})

	b, err := Open(Options{Root: root})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, KindFileV0, b.Kind())

	got, err := b.Load(ctx, caller.Hash)
	require.NoError(t, err)
	assert.Equal(t, caller.Tuples, got.Tuples)
	assert.Equal(t, []object.Hash{leaf.Hash}, got.Dependencies)

	records, err := b.LoadMappings(ctx, caller.Hash, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "leaf", records[0].Mapping.Aliases[leaf.Hash])

	dependents, err := b.Dependents(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{caller.Hash}, dependents)

	_, err = b.Save(ctx, leaf)
	assert.ErrorIs(t, err, object.ErrReadOnly)
	_, _, err = b.SaveMapping(ctx, leaf.Hash, "eng", &object.Mapping{})
	assert.ErrorIs(t, err, object.ErrReadOnly)
	assert.ErrorIs(t, b.SaveDependencies(ctx, leaf.Hash, nil), object.ErrReadOnly)
}

func TestMigrateLegacyToEmbedded(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	leaf := makeObject(t, object.SHA256, "leaf")
	caller := makeObject(t, object.SHA256, "caller", leaf.Hash)
	writeLegacy(t, srcRoot, leaf, map[string][]object.Mapping{"eng": {{Docstring: "Leaf"}}})
	writeLegacy(t, srcRoot, caller, map[string][]object.Mapping{
		"eng": {{Docstring: "Caller"}, {Docstring: "Calls leaf"}},
	})

	src, err := Open(Options{Root: srcRoot})
	require.NoError(t, err)
	defer src.Close()
	dst := openKind(t, KindEmbedded)

	report, err := Migrate(ctx, src, dst, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 3, report.Mappings)
	assert.Equal(t, 1, report.Edges)

	got, err := dst.Load(ctx, caller.Hash)
	require.NoError(t, err)
	rehash, err := canon.Rehash(dst.Algorithm(), got.Tuples)
	require.NoError(t, err)
	assert.Equal(t, caller.Hash, rehash)
	assert.Equal(t, []object.Hash{leaf.Hash}, got.Dependencies)

	// The source is untouched without prune.
	ok, err := src.Has(ctx, leaf.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	report, err = Migrate(ctx, src, dst, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Migrated)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Mappings)
}

func TestMigrateCollectsFailures(t *testing.T) {
	ctx := context.Background()
	srcRoot := t.TempDir()
	good := makeObject(t, object.SHA256, "good")
	bad := makeObject(t, object.SHA256, "bad")
	bad.Tuples[0].Value = "l:tampered"
	writeLegacy(t, srcRoot, good, nil)
	writeLegacy(t, srcRoot, bad, nil)

	src, err := Open(Options{Root: srcRoot})
	require.NoError(t, err)
	dst := openKind(t, KindFileV1)

	report, err := Migrate(ctx, src, dst, MigrateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, object.ErrMigrationPartialFailure)
	assert.ErrorIs(t, err, object.ErrHashMismatch)

	var merr *object.MigrationError
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Failures, 1)
	assert.Equal(t, bad.Hash, merr.Failures[0].Hash)
	assert.Equal(t, 1, report.Migrated)

	ok, err := dst.Has(ctx, good.Hash)
	require.NoError(t, err)
	assert.True(t, ok, "objects migrated before the failure stay committed")
	ok, err = dst.Has(ctx, bad.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigratePrune(t *testing.T) {
	ctx := context.Background()
	src := openKind(t, KindFileV1)
	dst := openKind(t, KindEmbedded)
	obj := makeObject(t, src.Algorithm(), "add")
	_, err := src.Save(ctx, obj)
	require.NoError(t, err)

	report, err := Migrate(ctx, src, dst, MigrateOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)

	ok, err := src.Has(ctx, obj.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = dst.Has(ctx, obj.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMigrateBackAndForth(t *testing.T) {
	ctx := context.Background()
	emb := openKind(t, KindEmbedded)
	v1 := openKind(t, KindFileV1)
	leaf := makeObject(t, emb.Algorithm(), "leaf")
	caller := makeObject(t, emb.Algorithm(), "caller", leaf.Hash)
	for _, o := range []*object.CodeObject{leaf, caller} {
		_, err := emb.Save(ctx, o)
		require.NoError(t, err)
		_, _, err = emb.SaveMapping(ctx, o.Hash, "eng", &object.Mapping{Docstring: "doc"})
		require.NoError(t, err)
	}

	_, err := Migrate(ctx, emb, v1, MigrateOptions{})
	require.NoError(t, err)
	back := openKind(t, KindEmbedded)
	report, err := Migrate(ctx, v1, back, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)

	for _, o := range []*object.CodeObject{leaf, caller} {
		got, err := back.Load(ctx, o.Hash)
		require.NoError(t, err)
		assert.Equal(t, o.Tuples, got.Tuples)
		assert.ElementsMatch(t, o.Dependencies, got.Dependencies)
		records, err := back.LoadMappings(ctx, o.Hash, "eng")
		require.NoError(t, err)
		require.Len(t, records, 1)
	}
}

func TestMigrateStopsOnCancel(t *testing.T) {
	src := openKind(t, KindFileV1)
	dst := openKind(t, KindEmbedded)
	_, err := src.Save(context.Background(), makeObject(t, src.Algorithm(), "add"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Migrate(ctx, src, dst, MigrateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMigrateRejectsMixedDigests(t *testing.T) {
	src, err := Create(KindFileV1, Options{Root: t.TempDir(), Algorithm: object.BLAKE2b})
	require.NoError(t, err)
	defer src.Close()
	dst := openKind(t, KindEmbedded)

	_, err = Migrate(context.Background(), src, dst, MigrateOptions{})
	assert.Error(t, err)
}

func TestKindForConfig(t *testing.T) {
	for name, want := range map[string]Kind{
		config.BackendEmbedded: KindEmbedded,
		config.BackendFile:     KindFileV1,
		string(KindFileV1):     KindFileV1,
	} {
		got, err := KindForConfig(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := KindForConfig(string(KindFileV0))
	assert.Error(t, err, "the legacy layout is never a migration target")
	_, err = KindForConfig("mongo")
	assert.Error(t, err)
}
