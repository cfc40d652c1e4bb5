// Package artifact stores rendered artifacts in a gocloud.dev blob bucket.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
)

// Config controls how artifact URLs are built.
type Config struct {
	// PublicBaseURL prefixes keys when the driver cannot sign URLs.
	PublicBaseURL string
	// SignedURLExpiry is the lifetime of signed URLs. Zero disables
	// signing.
	SignedURLExpiry time.Duration
}

var _ jobs.ArtifactStore = (*BlobStore)(nil)

// BlobStore implements jobs.ArtifactStore on any gocloud.dev bucket.
type BlobStore struct {
	bucket *blob.Bucket
	cfg    Config
	tracer trace.Tracer
}

// Open opens the bucket at bucketURL (mem://, file:///path, s3://, azblob://).
// The matching driver must be linked in by the caller.
func Open(ctx context.Context, bucketURL string, cfg Config, tracer trace.Tracer) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", bucketURL, err)
	}
	return NewBlobStore(bucket, cfg, tracer), nil
}

// NewBlobStore wraps an open bucket.
func NewBlobStore(bucket *blob.Bucket, cfg Config, tracer trace.Tracer) *BlobStore {
	return &BlobStore{bucket: bucket, cfg: cfg, tracer: tracer}
}

var defaultBlobAttributes = []attribute.KeyValue{
	attribute.String("storage.system", "blob"),
}

// Put writes data under key, overwriting any previous object.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	attrs := append(
		defaultBlobAttributes,
		attribute.String("key", key),
		attribute.Int("size", len(data)),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "blob.put", attrs, func(ctx context.Context) error {
		if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
			return fmt.Errorf("write artifact %s: %w", key, err)
		}
		return nil
	})
}

// Exists reports whether key is present.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	attrs := append(defaultBlobAttributes, attribute.String("key", key))

	var exists bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "blob.exists", attrs, func(ctx context.Context) error {
		var err error
		exists, err = s.bucket.Exists(ctx, key)
		return err
	})
	return exists, err
}

// Get returns the object's bytes and content type.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	attrs := append(defaultBlobAttributes, attribute.String("key", key))

	var (
		data        []byte
		contentType string
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "blob.get", attrs, func(ctx context.Context) error {
		r, err := s.bucket.NewReader(ctx, key, nil)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				return fmt.Errorf("%w: %s", jobs.ErrArtifactNotFound, key)
			}
			return fmt.Errorf("open artifact %s: %w", key, err)
		}
		defer r.Close()

		contentType = r.ContentType()
		data, err = io.ReadAll(r)
		return err
	})
	return data, contentType, err
}

// List returns every artifact under prefix with a fetchable URL.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]jobs.Artifact, error) {
	attrs := append(defaultBlobAttributes, attribute.String("prefix", prefix))

	var out []jobs.Artifact
	err := storage.ExecuteAndTrace(ctx, s.tracer, "blob.list", attrs, func(ctx context.Context) error {
		iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
		for {
			obj, err := iter.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("list artifacts %s: %w", prefix, err)
			}
			if obj.IsDir {
				continue
			}

			u, err := s.url(ctx, obj.Key)
			if err != nil {
				return err
			}
			out = append(out, jobs.Artifact{Key: obj.Key, URL: u, Size: obj.Size})
		}
	})
	return out, err
}

// url signs key when possible and falls back to PublicBaseURL.
func (s *BlobStore) url(ctx context.Context, key string) (string, error) {
	if s.cfg.SignedURLExpiry > 0 {
		signed, err := s.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{Expiry: s.cfg.SignedURLExpiry})
		if err == nil {
			return signed, nil
		}
		if gcerrors.Code(err) != gcerrors.Unimplemented {
			return "", fmt.Errorf("sign artifact url %s: %w", key, err)
		}
	}

	if s.cfg.PublicBaseURL == "" {
		return key, nil
	}
	return joinURL(s.cfg.PublicBaseURL, key)
}

func joinURL(base, key string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse public base url: %w", err)
	}
	return u.JoinPath(strings.Split(key, "/")...).String(), nil
}

// Close releases the bucket.
func (s *BlobStore) Close() error { return s.bucket.Close() }
