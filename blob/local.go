package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements Store on the local filesystem under a root
// directory. Object URIs use the file:// scheme so upload steps can tell
// stored objects apart from raw local paths.
type LocalStore struct {
	root   string
	bucket string
}

// NewLocalStore creates a filesystem-backed blob store rooted at root.
func NewLocalStore(root, bucket string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(root, bucket), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: root, bucket: bucket}, nil
}

func (s *LocalStore) objectPath(remotePath string) string {
	return filepath.Join(s.root, s.bucket, filepath.FromSlash(remotePath))
}

// URI returns the file:// URI for an object path.
func (s *LocalStore) URI(remotePath string) string {
	return "file://" + s.bucket + "/" + strings.TrimPrefix(remotePath, "/")
}

// Exists reports whether the object is present.
func (s *LocalStore) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.objectPath(remotePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Put copies localPath into the store. Last writer wins on races.
func (s *LocalStore) Put(ctx context.Context, localPath, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source %s: %w", localPath, err)
	}
	defer src.Close()

	dest := s.objectPath(remotePath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	// Write to a temp name then rename so concurrent readers never see a
	// partially written object.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("publish object: %w", err)
	}

	return s.URI(remotePath), nil
}

// Resolve maps a ref back to a local path. file:// URIs resolve inside the
// store root; bare paths are assumed to already be local.
func (s *LocalStore) Resolve(ctx context.Context, remoteRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if strings.HasPrefix(remoteRef, "file://") {
		rel := strings.TrimPrefix(remoteRef, "file://")
		local := filepath.Join(s.root, filepath.FromSlash(rel))
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("resolve %s: %w", remoteRef, err)
		}
		return local, nil
	}
	if IsObjectURI(remoteRef) {
		return "", fmt.Errorf("cannot resolve non-local ref %s", remoteRef)
	}
	return remoteRef, nil
}

// TempDir creates a tagged scratch directory.
func (s *LocalStore) TempDir(tag string) (string, error) {
	return os.MkdirTemp("", "mediaworker-"+tag+"-*")
}

// Unlink removes a scratch file, ignoring already-missing files.
func (s *LocalStore) Unlink(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
