// Package objectstore provides the path-addressed blob stores production
// curves are uploaded to: Google Cloud Storage, Supabase Storage and a local
// directory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrConflict is returned when upsert is false and the object already exists.
var ErrConflict = errors.New("object already exists")

// GCSStore uploads artifacts to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStore opens a client. An empty credentialsFile uses application
// default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs store: bucket must be specified")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs store: create client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *GCSStore) Name() string {
	return "gcs"
}

// Upload writes content to gs://bucket/path. Without upsert the write is
// conditioned on the object not existing.
func (s *GCSStore) Upload(ctx context.Context, path string, content []byte, contentType string, upsert bool) error {
	obj := s.client.Bucket(s.bucket).Object(path)
	if !upsert {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: gs://%s/%s", ErrConflict, s.bucket, path)
		}
		return fmt.Errorf("gcs close %s: %w", path, err)
	}
	s.logger.Debug("uploaded object",
		zap.String("bucket", s.bucket),
		zap.String("path", path),
		zap.Int("bytes", len(content)))
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
