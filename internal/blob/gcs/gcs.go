// Package gcs implements blob.Store on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jo-hoe/reelcaster/internal/blob"
)

var _ blob.Store = (*Store)(nil)

// Store keeps segments as objects below prefix. File ids are object names.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New opens a storage client. An empty credentialsFile uses application default credentials.
func New(ctx context.Context, bucket, prefix, credentialsFile string, linkTTL time.Duration, opts ...option.ClientOption) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	if credentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if linkTTL <= 0 {
		linkTTL = 6 * time.Hour
	}
	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
		ttl:    linkTTL,
		now:    time.Now,
	}, nil
}

func (s *Store) Upload(ctx context.Context, path, mimeType, name string) (blob.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return blob.File{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if name == "" {
		name = filepath.Base(path)
	}
	objName := s.prefix + name
	w := s.bucket.Object(objName).NewWriter(ctx)
	w.ContentType = mimeType
	n, err := io.Copy(w, fh)
	if err != nil {
		_ = w.Close()
		return blob.File{}, fmt.Errorf("write %w", mapErr(objName, err))
	}
	if err := w.Close(); err != nil {
		return blob.File{}, fmt.Errorf("finalize %w", mapErr(objName, err))
	}
	return blob.File{ID: objName, Name: name, MimeType: mimeType, Size: n}, nil
}

func (s *Store) List(ctx context.Context) ([]blob.File, error) {
	out := []blob.File{}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", rejected(err))
		}
		name := strings.TrimPrefix(attrs.Name, s.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, blob.File{ID: attrs.Name, Name: name, MimeType: attrs.ContentType, Size: attrs.Size})
	}
}

// FetchLink returns a V4 signed GET URL valid for the configured TTL.
func (s *Store) FetchLink(ctx context.Context, id string) (string, error) {
	if _, err := s.bucket.Object(id).Attrs(ctx); err != nil {
		return "", mapErr(id, err)
	}
	u, err := s.bucket.SignedURL(id, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: s.now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Object(id).Delete(ctx); err != nil {
		return mapErr(id, err)
	}
	return nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	return s.client.Close()
}

func mapErr(id string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", id, blob.ErrNotFound)
	}
	return fmt.Errorf("object %s: %w", id, rejected(err))
}

// rejected marks 4xx refusals from the JSON API with blob.ErrRejected.
func rejected(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && blob.Rejected(gerr.Code) {
		return fmt.Errorf("%w: %w", blob.ErrRejected, err)
	}
	return err
}
