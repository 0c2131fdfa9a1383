package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// SupabaseStore uploads artifacts through the Supabase Storage REST API.
type SupabaseStore struct {
	client     *http.Client
	baseURL    string
	serviceKey string
	bucket     string
	logger     *zap.Logger
}

// NewSupabaseStore creates a store for bucket on the project at projectURL.
func NewSupabaseStore(client *http.Client, projectURL, serviceKey, bucket string, logger *zap.Logger) (*SupabaseStore, error) {
	if projectURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase store: project url and service key are required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("supabase store: bucket must be specified")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupabaseStore{
		client:     client,
		baseURL:    strings.TrimRight(projectURL, "/") + "/storage/v1/object/",
		serviceKey: serviceKey,
		bucket:     bucket,
		logger:     logger,
	}, nil
}

func (s *SupabaseStore) Name() string {
	return "supabase"
}

// Upload posts content to /storage/v1/object/{bucket}/{path} with x-upsert.
func (s *SupabaseStore) Upload(ctx context.Context, path string, content []byte, contentType string, upsert bool) error {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.baseURL + url.PathEscape(s.bucket) + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", strconv.FormatBool(upsert))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("uploaded object",
			zap.String("bucket", s.bucket),
			zap.String("path", path),
			zap.Int("bytes", len(content)))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusConflict || strings.Contains(msg, "Duplicate") {
		return fmt.Errorf("%w: %s/%s", ErrConflict, s.bucket, path)
	}
	return fmt.Errorf("supabase upload %s: status %d: %s", path, resp.StatusCode, msg)
}
