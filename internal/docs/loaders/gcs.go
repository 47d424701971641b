package loaders

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"qresponder/internal/docs"
)

type objectInfo struct {
	Name        string
	Size        int64
	Fingerprint string
}

// objectStore is the slice of a bucket the GCS loader needs.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]objectInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// GCSPrefix loads text documents stored under a bucket prefix.
type GCSPrefix struct {
	Bucket string
	Prefix string
	Cache  *BlobCache
	Logger *slog.Logger
	// MaxObjectBytes skips larger objects (0 = 10 MiB).
	MaxObjectBytes int64

	store objectStore
}

func NewGCSPrefix(client *storage.Client, bucket, prefix string) *GCSPrefix {
	return &GCSPrefix{
		Bucket: bucket,
		Prefix: strings.TrimLeft(prefix, "/"),
		store:  &gcsStore{bucket: client.Bucket(bucket)},
	}
}

// ParseGCSURL splits "gs://bucket/prefix".
func ParseGCSURL(u string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(u), "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid GCS source %q (want gs://bucket/prefix)", u)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid GCS source %q: empty bucket", u)
	}
	return bucket, prefix, nil
}

func (l *GCSPrefix) Describe() string {
	return "gcs:gs://" + path.Join(l.Bucket, l.Prefix)
}

func (l *GCSPrefix) Load(ctx context.Context) ([]docs.Document, error) {
	if l.store == nil {
		return nil, errors.New("gcs loader has no bucket client")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBytes := l.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	objects, err := l.store.List(ctx, l.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	var out []docs.Document
	for _, obj := range objects {
		ext := strings.ToLower(path.Ext(obj.Name))
		if binaryExtensions[ext] {
			logger.Warn("skipping binary document", "object", obj.Name)
			continue
		}
		if !textExtensions[ext] {
			continue
		}
		if obj.Size > maxBytes {
			logger.Warn("skipping document", "object", obj.Name, "reason", errTooLarge)
			continue
		}

		data, err := l.Cache.Fetch("gcs:"+l.Bucket+"/"+obj.Name+"#"+obj.Fingerprint, func() ([]byte, error) {
			return l.store.Read(ctx, obj.Name)
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", obj.Name, err)
		}
		if !isText(data) {
			logger.Warn("skipping document", "object", obj.Name, "reason", errNotText)
			continue
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Name, l.Prefix), "/")
		out = append(out, docs.Document{
			Name:        strings.ReplaceAll(rel, "/", "-"),
			SourceURL:   "https://storage.googleapis.com/" + l.Bucket + "/" + obj.Name,
			Kind:        docs.KindDocument,
			Fingerprint: obj.Fingerprint,
			Content:     string(data),
		})
	}
	return out, nil
}

type gcsStore struct {
	bucket *storage.BucketHandle
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]objectInfo, error) {
	var out []objectInfo
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		fp := hex.EncodeToString(attrs.MD5)
		if fp == "" {
			fp = attrs.Etag
		}
		out = append(out, objectInfo{Name: attrs.Name, Size: attrs.Size, Fingerprint: fp})
	}
	return out, nil
}

func (s *gcsStore) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
