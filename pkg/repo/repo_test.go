package repo

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/babel/pkg/backend"
	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/tree"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

// binaryFunc builds `def <fn>(<a>, <b>): return <a> <op> <b>`.
func binaryFunc(fn, a, b, op string) *tree.Node {
	bin := tree.New("binary").
		Add("left", tree.Ident(a)).
		Add("op", tree.Lit(op)).
		Add("right", tree.Ident(b))
	return tree.New("function_definition").
		Add("name", tree.Ident(fn)).
		Add("params", tree.Ident(a), tree.Ident(b)).
		Add("body", tree.Child(tree.New("return").Add("value", tree.Child(bin))))
}

// callerFunc builds `def <fn>(x): return <callee>(x)`.
func callerFunc(fn, callee string) *tree.Node {
	call := tree.New("call").
		Add("function", tree.Ident(callee)).
		Add("arguments", tree.Ident("x"))
	return tree.New("function_definition").
		Add("name", tree.Ident(fn)).
		Add("params", tree.Ident("x")).
		Add("body", tree.Child(tree.New("return").Add("value", tree.Child(call))))
}

func newTestRepo(t *testing.T, kind string) *Repo {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = kind
	cfg.User.Name = "A U Thor"
	cfg.User.Email = "author@example.com"
	r, err := Init(t.TempDir(), cfg, WithClock(fixedClock))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

var backendNames = []string{config.BackendEmbedded, config.BackendFile}

func TestInitAndOpen(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendFile
	r, err := Init(root, cfg)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, config.FileName))
	assert.Equal(t, backend.KindFileV1, r.Store.Kind())
	require.NoError(t, r.Close())

	_, err = Init(root, cfg)
	assert.Error(t, err, "second init must fail")

	reopened, err := Open(root)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, backend.KindFileV1, reopened.Store.Kind())
	assert.Equal(t, config.BackendFile, reopened.Config.Store.Backend)
}

func TestOpenMissingStore(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, object.ErrBackendUnavailable)
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, kind := range backendNames {
		t.Run(kind, func(t *testing.T) {
			r := newTestRepo(t, kind)
			req := AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng", Docstring: "Add two numbers"}

			first, err := r.Add(ctx, req)
			require.NoError(t, err)
			assert.True(t, first.Created)
			assert.True(t, first.MappingCreated)

			second, err := r.Add(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, first.Hash, second.Hash)
			assert.Equal(t, first.MappingHash, second.MappingHash)
			assert.False(t, second.Created)
			assert.False(t, second.MappingCreated)

			renamed, err := r.Add(ctx, AddRequest{Tree: binaryFunc("sum", "x", "y", "+"), Language: "eng", Docstring: "Sum"})
			require.NoError(t, err)
			assert.Equal(t, first.Hash, renamed.Hash, "spelling does not change identity")
			assert.False(t, renamed.Created)
			assert.True(t, renamed.MappingCreated)

			var count int
			for _, err := range r.Store.Hashes(ctx) {
				require.NoError(t, err)
				count++
			}
			assert.Equal(t, 1, count)

			records, err := r.Store.LoadMappings(ctx, first.Hash, "eng")
			require.NoError(t, err)
			assert.Len(t, records, 2)

			obj, err := r.Store.Load(ctx, first.Hash)
			require.NoError(t, err)
			assert.Equal(t, "A U Thor <author@example.com>", obj.Metadata.Author)
			assert.Equal(t, fixedClock().Unix(), obj.Metadata.Timestamp)
		})
	}
}

func TestAddRecordsSpellings(t *testing.T) {
	r := newTestRepo(t, config.BackendEmbedded)
	ctx := context.Background()
	res, err := r.Add(ctx, AddRequest{
		Tree:     binaryFunc("add", "a", "b", "+"),
		Language: "eng",
		Names:    map[string]string{"_v_2": "plus"},
	})
	require.NoError(t, err)

	records, err := r.Store.LoadMappings(ctx, res.Hash, "eng")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]string{"_v_0": "a", "_v_1": "b", "_v_2": "plus"}, records[0].Mapping.Names)

	_, err = r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng", Names: map[string]string{"add": "x"}})
	assert.Error(t, err)
}

func TestAddDerivesDependencies(t *testing.T) {
	ctx := context.Background()
	for _, kind := range backendNames {
		t.Run(kind, func(t *testing.T) {
			r := newTestRepo(t, kind)
			leaf, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng"})
			require.NoError(t, err)

			caller, err := r.Add(ctx, AddRequest{
				Tree:     callerFunc("double", "add"),
				Language: "eng",
				Aliases:  map[string]object.Hash{"add": leaf.Hash},
			})
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{leaf.Hash}, caller.Dependencies)

			dependents, err := r.Store.Dependents(ctx, leaf.Hash)
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{caller.Hash}, dependents)

			records, err := r.Store.LoadMappings(ctx, caller.Hash, "eng")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "add", records[0].Mapping.Aliases[leaf.Hash])
		})
	}
}

func TestAddUnknownReferenceHasNoEdge(t *testing.T) {
	r := newTestRepo(t, config.BackendEmbedded)
	unknown := object.Hash("ab" + string(bytes.Repeat([]byte("0"), 62)))
	res, err := r.Add(context.Background(), AddRequest{
		Tree:     callerFunc("double", "add"),
		Language: "eng",
		Aliases:  map[string]object.Hash{"add": unknown},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Dependencies)
}

func TestAddBackfillsEdgesToLateDependencies(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendEmbedded)
	leaf := binaryFunc("add", "a", "b", "+")
	c, err := canon.Encode(leaf, canon.Options{Algorithm: r.Store.Algorithm()})
	require.NoError(t, err)

	caller, err := r.Add(ctx, AddRequest{
		Tree:     callerFunc("double", "add"),
		Language: "eng",
		Aliases:  map[string]object.Hash{"add": c.Hash},
	})
	require.NoError(t, err)
	assert.Empty(t, caller.Dependencies)

	added, err := r.Add(ctx, AddRequest{Tree: leaf, Language: "eng"})
	require.NoError(t, err)
	require.Equal(t, c.Hash, added.Hash)

	deps, err := r.Store.LoadDependencies(ctx, caller.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{added.Hash}, deps)
	dependents, err := r.Store.Dependents(ctx, added.Hash)
	require.NoError(t, err)
	assert.Equal(t, []object.Hash{caller.Hash}, dependents)
}

func TestAddChecksNamesBeforeStoring(t *testing.T) {
	ctx := context.Background()
	for _, name := range backendNames {
		t.Run(name, func(t *testing.T) {
			r := newTestRepo(t, name)
			tr := binaryFunc("add", "a", "b", "+")
			c, err := canon.Encode(tr, canon.Options{Algorithm: r.Store.Algorithm()})
			require.NoError(t, err)

			_, err = r.Add(ctx, AddRequest{Tree: tr, Language: "eng", Names: map[string]string{"_v_99": "z"}})
			require.Error(t, err)
			ok, err := r.Store.Has(ctx, c.Hash)
			require.NoError(t, err)
			assert.False(t, ok, "a rejected add stores nothing")
		})
	}
}

func TestAddRejectsBadLanguage(t *testing.T) {
	r := newTestRepo(t, config.BackendEmbedded)
	_, err := r.Add(context.Background(), AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "../x"})
	assert.Error(t, err)
}

func TestShow(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendEmbedded)
	first, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng", Docstring: "Add"})
	require.NoError(t, err)

	res, err := r.Show(ctx, first.Hash, "eng", "")
	require.NoError(t, err)
	require.False(t, res.SelectionRequired())
	assert.Equal(t, "Add", res.Selected.Mapping.Docstring)
	assert.Equal(t, "function_definition", res.Tree.Type)

	second, err := r.Add(ctx, AddRequest{Tree: binaryFunc("sum", "x", "y", "+"), Language: "eng", Docstring: "Sum"})
	require.NoError(t, err)

	res, err = r.Show(ctx, first.Hash, "eng", "")
	require.NoError(t, err)
	assert.True(t, res.SelectionRequired())
	assert.Len(t, res.Candidates, 2)

	res, err = r.Show(ctx, first.Hash, "eng", string(second.MappingHash[:10]))
	require.NoError(t, err)
	require.False(t, res.SelectionRequired())
	assert.Equal(t, "Sum", res.Selected.Mapping.Docstring)

	_, err = r.Show(ctx, first.Hash, "fra", "")
	assert.ErrorIs(t, err, object.ErrNotFound)

	_, err = r.Show(ctx, first.Hash, "eng", "ffffffff")
	assert.ErrorIs(t, err, object.ErrNotFound)
}

func TestTranslate(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendFile)
	res, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng"})
	require.NoError(t, err)

	fra := &object.Mapping{Docstring: "Ajoute", Names: map[string]string{"_v_0": "a", "_v_1": "b", "_v_2": "ajouter"}}
	_, created, err := r.Translate(ctx, res.Hash, "fra", fra)
	require.NoError(t, err)
	assert.True(t, created)

	shown, err := r.Show(ctx, res.Hash, "fra", "")
	require.NoError(t, err)
	assert.Equal(t, "ajouter", shown.Selected.Mapping.Names["_v_2"])

	_, _, err = r.Translate(ctx, res.Hash, "fra", &object.Mapping{Names: map[string]string{"_v_9": "x"}})
	assert.Error(t, err)
}

// tamper rewrites the stored object file of a v1 store.
func tamper(t *testing.T, r *Repo, h object.Hash, from, to string) {
	t.Helper()
	s := string(h)
	path := filepath.Join(r.Root, backend.ObjectsDir, string(r.Store.Algorithm()), s[:2], s[2:], "object")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	changed := bytes.Replace(data, []byte(from), []byte(to), 1)
	require.NotEqual(t, data, changed)
	require.NoError(t, os.WriteFile(path, changed, 0o644))
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendFile)
	good, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng"})
	require.NoError(t, err)
	bad, err := r.Add(ctx, AddRequest{Tree: binaryFunc("sub", "a", "b", "-"), Language: "eng"})
	require.NoError(t, err)

	require.NoError(t, r.Validate(ctx, good.Hash))

	tamper(t, r, bad.Hash, `"l:-"`, `"l:*"`)
	err = r.Validate(ctx, bad.Hash)
	assert.ErrorIs(t, err, object.ErrHashMismatch)

	summary, err := r.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, bad.Hash, summary.Failures[0].Hash)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	src := newTestRepo(t, config.BackendEmbedded)
	dst := newTestRepo(t, config.BackendFile)
	res, err := src.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng", Docstring: "Add"})
	require.NoError(t, err)

	b, err := src.Bundle(ctx, res.Hash)
	require.NoError(t, err)
	h, err := dst.Ingest(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, res.Hash, h)
	require.NoError(t, dst.Validate(ctx, h))

	tampered, err := src.Bundle(ctx, res.Hash)
	require.NoError(t, err)
	tampered.Object.Tuples[len(tampered.Object.Tuples)-1].Value = "l:tampered"
	_, err = dst.Ingest(ctx, tampered)
	assert.ErrorIs(t, err, object.ErrHashMismatch)

	badMapping, err := src.Bundle(ctx, res.Hash)
	require.NoError(t, err)
	badMapping.Mappings[0].Mapping.Docstring = "changed in transit"
	_, err = dst.Ingest(ctx, badMapping)
	assert.ErrorIs(t, err, object.ErrHashMismatch)

	records, err := dst.Store.LoadMappings(ctx, res.Hash, "eng")
	require.NoError(t, err)
	assert.Len(t, records, 1, "rejected bundles store nothing")
}

func TestLog(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendEmbedded)
	older, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng", Tags: []string{"math"}})
	require.NoError(t, err)

	r.now = func() time.Time { return fixedClock().Add(time.Hour) }
	newer, err := r.Add(ctx, AddRequest{Tree: binaryFunc("sub", "a", "b", "-"), Language: "fra"})
	require.NoError(t, err)

	entries, err := r.Log(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.Hash, entries[0].Hash)
	assert.Equal(t, []string{"fra"}, entries[0].Languages)
	assert.Equal(t, older.Hash, entries[1].Hash)
	assert.Equal(t, []string{"math"}, entries[1].Tags)
}

func TestMigrateSwitchesBackend(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendEmbedded)
	res, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng"})
	require.NoError(t, err)

	report, err := r.Migrate(ctx, backend.KindFileV1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, backend.KindFileV1, r.Store.Kind())
	assert.FileExists(t, filepath.Join(r.Root, backend.DatabaseFile+".migrated"))

	kind, err := backend.Detect(r.Root)
	require.NoError(t, err)
	assert.Equal(t, backend.KindFileV1, kind)

	_, err = r.Show(ctx, res.Hash, "eng", "")
	require.NoError(t, err)

	_, err = r.Migrate(ctx, backend.KindFileV1, false)
	assert.Error(t, err)

	report, err = r.Migrate(ctx, backend.KindEmbedded, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	require.NoError(t, r.Validate(ctx, res.Hash))
}

func TestFailedMigrationKeepsSourceLayout(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, config.BackendFile)
	good, err := r.Add(ctx, AddRequest{Tree: binaryFunc("add", "a", "b", "+"), Language: "eng"})
	require.NoError(t, err)
	bad, err := r.Add(ctx, AddRequest{Tree: binaryFunc("sub", "a", "b", "-"), Language: "eng"})
	require.NoError(t, err)

	path := filepath.Join(r.Root, backend.ObjectsDir, string(r.Store.Algorithm()),
		string(bad.Hash[:2]), string(bad.Hash[2:]), "object")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"l:-"`), []byte(`"l:*"`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	report, err := r.Migrate(ctx, backend.KindEmbedded, false)
	require.ErrorIs(t, err, object.ErrMigrationPartialFailure)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, backend.KindFileV1, r.Store.Kind())
	assert.NoFileExists(t, filepath.Join(r.Root, backend.DatabaseFile))
	require.NoError(t, r.Close())

	reopened, err := Open(r.Root)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, backend.KindFileV1, reopened.Store.Kind())
	for _, h := range []object.Hash{good.Hash, bad.Hash} {
		ok, err := reopened.Store.Has(ctx, h)
		require.NoError(t, err)
		assert.True(t, ok, "%s stays reachable", h.Short())
	}
}
