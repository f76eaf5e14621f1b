// Package remote moves content-addressed objects between stores. A Remote is
// one side of a transfer; Transfer diffs two hash sets and copies what is
// missing, and the receiving side recomputes every hash before it stores
// anything.
package remote

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"

	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

var tracer = otel.Tracer("github.com/odvcencio/babel/pkg/remote")

// Remote is a store reachable for sync.
type Remote interface {
	// Hashes lists every stored object.
	Hashes(ctx context.Context) ([]object.Hash, error)
	Has(ctx context.Context, h object.Hash) (bool, error)
	// Fetch returns h with all of its mapping variants.
	Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error)
	// Push stores a bundle after recomputing its hashes. A tampered bundle
	// fails with object.ErrHashMismatch.
	Push(ctx context.Context, b *object.Bundle) error
}

// Conn is a Remote holding resources that must be released.
type Conn interface {
	Remote
	io.Closer
}

// LocalRemote is a store on the local filesystem, reached through its
// repository so pushed objects take the regular ingest path.
type LocalRemote struct {
	repo  *repo.Repo
	owned bool
}

// Local wraps an open repository. Closing the result leaves r open.
func Local(r *repo.Repo) *LocalRemote {
	return &LocalRemote{repo: r}
}

// OpenLocal opens the store rooted at root for sync.
func OpenLocal(root string, opts ...repo.Option) (*LocalRemote, error) {
	r, err := repo.Open(root, opts...)
	if err != nil {
		return nil, err
	}
	return &LocalRemote{repo: r, owned: true}, nil
}

func (l *LocalRemote) Algorithm() object.Algorithm {
	return l.repo.Store.Algorithm()
}

func (l *LocalRemote) Hashes(ctx context.Context) ([]object.Hash, error) {
	var out []object.Hash
	for h, err := range l.repo.Store.Hashes(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (l *LocalRemote) Has(ctx context.Context, h object.Hash) (bool, error) {
	return l.repo.Store.Has(ctx, h)
}

func (l *LocalRemote) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	return l.repo.Bundle(ctx, h)
}

func (l *LocalRemote) Push(ctx context.Context, b *object.Bundle) error {
	_, err := l.repo.Ingest(ctx, b)
	return err
}

func (l *LocalRemote) Close() error {
	if !l.owned {
		return nil
	}
	return l.repo.Close()
}
