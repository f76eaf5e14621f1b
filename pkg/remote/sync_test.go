package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
	"github.com/odvcencio/babel/pkg/tree"
)

func leafFunc(op string) *tree.Node {
	bin := tree.New("binary").
		Add("left", tree.Ident("a")).
		Add("op", tree.Lit(op)).
		Add("right", tree.Ident("b"))
	return tree.New("function_definition").
		Add("name", tree.Ident("f")).
		Add("params", tree.Ident("a"), tree.Ident("b")).
		Add("body", tree.Child(tree.New("return").Add("value", tree.Child(bin))))
}

func callsFunc(name string, callees ...string) *tree.Node {
	body := make([]tree.Value, 0, len(callees))
	for _, c := range callees {
		body = append(body, tree.Child(tree.New("call").
			Add("function", tree.Ident(c)).
			Add("arguments", tree.Ident("x"))))
	}
	return tree.New("function_definition").
		Add("name", tree.Ident(name)).
		Add("params", tree.Ident("x")).
		Add("body", body...)
}

func newRepo(t *testing.T, backend string) *repo.Repo {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = backend
	r, err := repo.Init(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func addFunc(t *testing.T, r *repo.Repo, n *tree.Node, lang string, aliases map[string]object.Hash) object.Hash {
	t.Helper()
	res, err := r.Add(context.Background(), repo.AddRequest{Tree: n, Language: lang, Aliases: aliases})
	require.NoError(t, err)
	return res.Hash
}

// chain stores add <- mid <- top and returns their hashes in that order.
func chain(t *testing.T, r *repo.Repo) (object.Hash, object.Hash, object.Hash) {
	t.Helper()
	add := addFunc(t, r, leafFunc("+"), "eng", nil)
	mid := addFunc(t, r, callsFunc("mid", "add"), "eng", map[string]object.Hash{"add": add})
	top := addFunc(t, r, callsFunc("top", "mid"), "eng", map[string]object.Hash{"mid": mid})
	return add, mid, top
}

func TestPushCopiesMissingObjects(t *testing.T) {
	ctx := context.Background()
	for _, dstBackend := range []string{config.BackendEmbedded, config.BackendFile} {
		t.Run(dstBackend, func(t *testing.T) {
			src := newRepo(t, config.BackendEmbedded)
			dst := newRepo(t, dstBackend)
			add, mid, top := chain(t, src)
			_, _, err := src.Translate(ctx, add, "fra", &object.Mapping{Names: map[string]string{"_v_0": "ajouter"}})
			require.NoError(t, err)

			report, err := Push(ctx, Local(src), Local(dst), SyncOptions{Parallelism: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, report.Missing)
			assert.Equal(t, 3, report.Transferred)
			assert.Equal(t, 3, report.Levels)
			assert.Equal(t, 4, report.Mappings)

			for _, h := range []object.Hash{add, mid, top} {
				require.NoError(t, dst.Validate(ctx, h))
			}
			deps, err := dst.Store.LoadDependencies(ctx, mid)
			require.NoError(t, err)
			assert.Equal(t, []object.Hash{add}, deps, "edges survive because dependencies arrive first")

			variants, err := dst.Store.LoadMappings(ctx, add, "")
			require.NoError(t, err)
			assert.Len(t, variants, 2)

			again, err := Push(ctx, Local(src), Local(dst), SyncOptions{})
			require.NoError(t, err)
			assert.Zero(t, again.Missing)
		})
	}
}

func TestPullOnlyFetchesWhatIsMissing(t *testing.T) {
	ctx := context.Background()
	local := newRepo(t, config.BackendFile)
	upstream := newRepo(t, config.BackendEmbedded)

	shared := addFunc(t, upstream, leafFunc("+"), "eng", nil)
	addFunc(t, local, leafFunc("+"), "eng", nil)
	extra := addFunc(t, upstream, leafFunc("*"), "eng", nil)

	counter := &countingRemote{Remote: Local(upstream)}
	report, err := Pull(ctx, Local(local), counter, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transferred)
	assert.Equal(t, []object.Hash{extra}, counter.fetched)

	ok, err := local.Store.Has(ctx, shared)
	require.NoError(t, err)
	assert.True(t, ok)
}

type countingRemote struct {
	Remote
	fetched []object.Hash
}

func (c *countingRemote) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	c.fetched = append(c.fetched, h)
	return c.Remote.Fetch(ctx, h)
}

// tamperingRemote corrupts the structure of one object on the way out.
type tamperingRemote struct {
	Remote
	target object.Hash
}

func (r *tamperingRemote) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	b, err := r.Remote.Fetch(ctx, h)
	if err != nil || h != r.target {
		return b, err
	}
	last := len(b.Object.Tuples) - 1
	b.Object.Tuples[last].Value += "x"
	return b, nil
}

func TestTransferCollectsFailures(t *testing.T) {
	ctx := context.Background()
	src := newRepo(t, config.BackendEmbedded)
	dst := newRepo(t, config.BackendEmbedded)
	good := addFunc(t, src, leafFunc("+"), "eng", nil)
	bad := addFunc(t, src, leafFunc("-"), "eng", nil)

	report, err := Transfer(ctx, &tamperingRemote{Remote: Local(src), target: bad}, Local(dst), SyncOptions{Parallelism: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, object.ErrHashMismatch)

	var serr *SyncError
	require.True(t, errors.As(err, &serr))
	require.Len(t, serr.Failures, 1)
	assert.Equal(t, bad, serr.Failures[0].Hash)
	assert.Equal(t, 1, report.Transferred)

	ok, err := dst.Store.Has(ctx, good)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = dst.Store.Has(ctx, bad)
	require.NoError(t, err)
	assert.False(t, ok, "a tampered object is never stored")
}

// cancelingRemote cancels the transfer from inside its first fetch.
type cancelingRemote struct {
	Remote
	cancel context.CancelFunc
}

func (r *cancelingRemote) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	r.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTransferStopsOnCancel(t *testing.T) {
	src := newRepo(t, config.BackendEmbedded)
	dst := newRepo(t, config.BackendEmbedded)
	chain(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := Transfer(ctx, &cancelingRemote{Remote: Local(src), cancel: cancel}, Local(dst), SyncOptions{Parallelism: 1})
	require.ErrorIs(t, err, context.Canceled)

	hashes, err := Local(dst).Hashes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestDependencyLevels(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, config.BackendEmbedded)
	add, mid, top := chain(t, r)
	other := addFunc(t, r, leafFunc("*"), "eng", nil)

	var bundles []*object.Bundle
	for _, h := range []object.Hash{top, other, mid, add} {
		b, err := r.Bundle(ctx, h)
		require.NoError(t, err)
		bundles = append(bundles, b)
	}

	levels := dependencyLevels(bundles)
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []object.Hash{add, other}, hashesOf(levels[0]))
	assert.Equal(t, []object.Hash{mid}, hashesOf(levels[1]))
	assert.Equal(t, []object.Hash{top}, hashesOf(levels[2]))

	// Without its dependency in the batch, mid is a root.
	levels = dependencyLevels(bundles[:3])
	require.Len(t, levels, 2)
	assert.ElementsMatch(t, []object.Hash{mid, other}, hashesOf(levels[0]))
}

func hashesOf(bundles []*object.Bundle) []object.Hash {
	out := make([]object.Hash, 0, len(bundles))
	for _, b := range bundles {
		out = append(out, b.Object.Hash)
	}
	return out
}

func TestMissingHashes(t *testing.T) {
	a := object.Hash("a")
	b := object.Hash("b")
	c := object.Hash("c")
	assert.Equal(t, []object.Hash{a, c}, missingHashes([]object.Hash{c, b, a, c}, []object.Hash{b}))
	assert.Empty(t, missingHashes([]object.Hash{a}, []object.Hash{a}))
}
