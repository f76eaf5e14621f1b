package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

// OpenOptions carries what Open needs for every kind of target.
type OpenOptions struct {
	Token     string
	Storage   config.ObjectStorage
	Algorithm object.Algorithm
	Logger    *slog.Logger
}

// Resolve maps a configured remote name to its target. Anything not
// configured is returned unchanged.
func Resolve(cfg *config.Config, name string) string {
	if cfg != nil {
		if target, ok := cfg.Remotes[name]; ok {
			return target
		}
	}
	return name
}

// Open connects to target: an http(s) URL, an s3:// URL, or a store root on
// the local filesystem.
func Open(ctx context.Context, target string, opts OpenOptions) (Conn, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return nil, fmt.Errorf("remote target is required")
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return NewClient(target, ClientOptions{Token: opts.Token})
	case strings.HasPrefix(target, "s3://"):
		return OpenBucket(ctx, target, BucketOptions{
			Storage:   opts.Storage,
			Algorithm: opts.Algorithm,
			Logger:    opts.Logger,
		})
	}
	var ropts []repo.Option
	if opts.Logger != nil {
		ropts = append(ropts, repo.WithLogger(opts.Logger))
	}
	return OpenLocal(target, ropts...)
}
