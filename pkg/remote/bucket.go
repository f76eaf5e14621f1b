package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
)

const (
	bucketObjectLeaf  = "object"
	bucketMappingLeaf = "mapping"
)

// Bucket is a store kept in S3-compatible object storage. Keys mirror the
// v1 directory layout under a prefix. Mapping keys are written before the
// object key, so a present object key means the object is complete.
type Bucket struct {
	client *minio.Client
	bucket string
	prefix string
	alg    object.Algorithm
	logger *slog.Logger
}

// BucketOptions configures OpenBucket.
type BucketOptions struct {
	Storage   config.ObjectStorage
	Algorithm object.Algorithm
	Logger    *slog.Logger
}

// ParseBucketURL splits s3://bucket/prefix.
func ParseBucketURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse bucket URL: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("bucket URL scheme %q is not s3", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("bucket URL must name a bucket")
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// OpenBucket connects to the bucket named by an s3:// URL, creating the
// bucket when it does not exist.
func OpenBucket(ctx context.Context, rawURL string, opts BucketOptions) (*Bucket, error) {
	name, prefix, err := ParseBucketURL(rawURL)
	if err != nil {
		return nil, err
	}
	st := opts.Storage
	client, err := minio.New(st.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(st.AccessKey, st.SecretKey, ""),
		Secure: !st.Insecure,
		Region: st.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	exists, err := client.BucketExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w: %v", name, object.ErrBackendUnavailable, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: st.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return NewBucket(client, name, prefix, opts.Algorithm, opts.Logger), nil
}

// NewBucket wraps an existing minio client.
func NewBucket(client *minio.Client, bucket, prefix string, alg object.Algorithm, logger *slog.Logger) *Bucket {
	if alg == "" {
		alg = object.DefaultAlgorithm
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucket{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		alg:    alg,
		logger: logger.With("component", "bucket", "bucket", bucket),
	}
}

func (b *Bucket) Algorithm() object.Algorithm { return b.alg }

func (b *Bucket) algPrefix() string {
	return path.Join(b.prefix, "objects", string(b.alg)) + "/"
}

func (b *Bucket) objectDir(h object.Hash) string {
	return path.Join(b.prefix, "objects", string(b.alg), string(h[:2]), string(h[2:]))
}

func (b *Bucket) objectKey(h object.Hash) string {
	return path.Join(b.objectDir(h), bucketObjectLeaf)
}

func (b *Bucket) mappingKey(h object.Hash, language string, mh object.Hash) string {
	return path.Join(b.objectDir(h), language, string(b.alg), string(mh[:2]), string(mh[2:]), bucketMappingLeaf)
}

// parseObjectKey recovers the hash from a key relative to algPrefix.
func parseObjectKey(rel string) (object.Hash, bool) {
	parts := strings.Split(rel, "/")
	if len(parts) != 3 || parts[2] != bucketObjectLeaf {
		return "", false
	}
	h := object.Hash(parts[0] + parts[1])
	if object.ValidateHash(h) != nil || len(parts[0]) != 2 {
		return "", false
	}
	return h, true
}

// parseMappingKey recovers the language and mapping hash from a key
// relative to an object directory.
func parseMappingKey(rel string, alg object.Algorithm) (string, object.Hash, bool) {
	parts := strings.Split(rel, "/")
	if len(parts) != 5 || parts[4] != bucketMappingLeaf || parts[1] != string(alg) {
		return "", "", false
	}
	mh := object.Hash(parts[2] + parts[3])
	if object.ValidateHash(mh) != nil || len(parts[2]) != 2 {
		return "", "", false
	}
	if object.ValidateLanguage(parts[0]) != nil {
		return "", "", false
	}
	return parts[0], mh, true
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (b *Bucket) Hashes(ctx context.Context) ([]object.Hash, error) {
	prefix := b.algPrefix()
	var out []object.Hash
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list bucket: %w", info.Err)
		}
		if h, ok := parseObjectKey(strings.TrimPrefix(info.Key, prefix)); ok {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (b *Bucket) Has(ctx context.Context, h object.Hash) (bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return false, err
	}
	_, err := b.client.StatObject(ctx, b.bucket, b.objectKey(h), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", h.Short(), err)
	}
	return true, nil
}

func (b *Bucket) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(io.LimitReader(obj, limitBundle))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, object.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *Bucket) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	data, err := b.get(ctx, b.objectKey(h))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", h.Short(), err)
	}
	obj, err := object.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", h.Short(), err)
	}

	dir := b.objectDir(h) + "/"
	bundle := &object.Bundle{Object: obj}
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: dir, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("fetch %s: list mappings: %w", h.Short(), info.Err)
		}
		lang, mh, ok := parseMappingKey(strings.TrimPrefix(info.Key, dir), b.alg)
		if !ok {
			continue
		}
		payload, err := b.get(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: mapping %s: %w", h.Short(), mh.Short(), err)
		}
		m, err := object.UnmarshalMapping(payload)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", h.Short(), err)
		}
		bundle.Mappings = append(bundle.Mappings, object.MappingRecord{Language: lang, Hash: mh, Mapping: *m})
	}
	sort.Slice(bundle.Mappings, func(i, j int) bool {
		a, c := bundle.Mappings[i], bundle.Mappings[j]
		if a.Language != c.Language {
			return a.Language < c.Language
		}
		return a.Hash < c.Hash
	})
	return bundle, nil
}

// Push verifies every hash of bundle, then uploads its mappings and finally
// its object key.
func (b *Bucket) Push(ctx context.Context, bundle *object.Bundle) error {
	mappingHashes, err := verifyBundle(b.alg, bundle)
	if err != nil {
		return err
	}
	obj := *bundle.Object
	obj.Algorithm = b.alg
	obj.Dependencies = nil

	for i, rec := range bundle.Mappings {
		if err := b.put(ctx, b.mappingKey(obj.Hash, rec.Language, mappingHashes[i]), object.MarshalMapping(&rec.Mapping)); err != nil {
			return fmt.Errorf("push %s: mapping: %w", obj.Hash.Short(), err)
		}
	}
	exists, err := b.Has(ctx, obj.Hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := b.put(ctx, b.objectKey(obj.Hash), object.MarshalObject(&obj)); err != nil {
		return fmt.Errorf("push %s: %w", obj.Hash.Short(), err)
	}
	b.logger.Debug("object uploaded", "hash", obj.Hash.Short(), "mappings", len(bundle.Mappings))
	return nil
}

func (b *Bucket) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	return err
}

func (b *Bucket) Close() error { return nil }

// verifyBundle recomputes the object hash and every mapping hash of a
// bundle and returns the mapping hashes in order.
func verifyBundle(alg object.Algorithm, b *object.Bundle) ([]object.Hash, error) {
	if b == nil || b.Object == nil {
		return nil, errors.New("verify bundle: empty")
	}
	obj := b.Object
	if err := object.ValidateHash(obj.Hash); err != nil {
		return nil, err
	}
	if obj.Algorithm != "" && obj.Algorithm != alg {
		return nil, fmt.Errorf("verify %s: digest %s, store uses %s", obj.Hash.Short(), obj.Algorithm, alg)
	}
	actual, err := canon.Rehash(alg, obj.Tuples)
	if err != nil {
		return nil, err
	}
	if actual != obj.Hash {
		return nil, &object.HashMismatchError{Expected: obj.Hash, Actual: actual}
	}
	if _, err := canon.Decode(obj.Tuples); err != nil {
		return nil, fmt.Errorf("verify %s: %w", obj.Hash.Short(), err)
	}
	out := make([]object.Hash, 0, len(b.Mappings))
	for _, rec := range b.Mappings {
		if err := object.ValidateLanguage(rec.Language); err != nil {
			return nil, err
		}
		mh, err := object.HashMapping(alg, &rec.Mapping)
		if err != nil {
			return nil, err
		}
		if rec.Hash != "" && rec.Hash != mh {
			return nil, &object.HashMismatchError{Expected: rec.Hash, Actual: mh}
		}
		out = append(out, mh)
	}
	return out, nil
}
