package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore writes artifacts below BaseDir/bucket. It is meant for
// development and tests.
type LocalStore struct {
	baseDir string
	bucket  string
	logger  *zap.Logger
}

// NewLocalStore validates baseDir and creates it if it doesn't exist.
func NewLocalStore(baseDir, bucket string, logger *zap.Logger) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local store: base dir must be specified")
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local store: stat base dir '%s': %w", baseDir, err)
		}
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local store: create base dir '%s': %w", baseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local store: base dir '%s' is not a directory", baseDir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{baseDir: baseDir, bucket: bucket, logger: logger}, nil
}

func (s *LocalStore) Name() string {
	return "local"
}

// Upload writes content through a temporary file renamed into place, so a
// reader never observes a partial artifact.
func (s *LocalStore) Upload(_ context.Context, path string, content []byte, _ string, upsert bool) error {
	fullPath, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	if !upsert {
		if _, err := os.Stat(fullPath); err == nil {
			return fmt.Errorf("%w: %s", ErrConflict, path)
		}
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into '%s': %w", fullPath, err)
	}
	s.logger.Debug("uploaded object", zap.String("path", fullPath), zap.Int("bytes", len(content)))
	return nil
}

// resolvePath joins path below baseDir/bucket and rejects escapes.
func (s *LocalStore) resolvePath(path string) (string, error) {
	root, err := filepath.Abs(filepath.Join(s.baseDir, s.bucket))
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' escapes base dir", path)
	}
	if full == root {
		return "", fmt.Errorf("empty object path")
	}
	return full, nil
}
