// Package storage persists uploaded assets and mask artifacts on the local
// filesystem, the same uploads/downloads layout the viewer serves from.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Store struct {
	uploadDir   string
	downloadDir string
}

// New creates the upload and download directories if needed.
func New(uploadDir, downloadDir string) (*Store, error) {
	for _, dir := range []string{uploadDir, downloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{uploadDir: uploadDir, downloadDir: downloadDir}, nil
}

func (s *Store) UploadDir() string   { return s.uploadDir }
func (s *Store) DownloadDir() string { return s.downloadDir }

// SaveUpload streams an uploaded asset into the upload directory and returns
// the stored name. The name is prefixed with the owning user so concurrent
// uploads of the same filename cannot collide across users.
func (s *Store) SaveUpload(userID uuid.UUID, filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%s_%s", userID, sanitize(filename))
	f, err := os.Create(filepath.Join(s.uploadDir, name))
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return name, nil
}

// SaveImage writes decoded 2D image bytes into the upload directory under a
// generated name and returns it.
func (s *Store) SaveImage(userID uuid.UUID, data []byte) (string, error) {
	name := fmt.Sprintf("%s_image_%s.png", userID, uuid.New())
	if err := os.WriteFile(filepath.Join(s.uploadDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image upload: %w", err)
	}
	return name, nil
}

// SaveResult writes a mask artifact into the download directory and returns
// its reference.
func (s *Store) SaveResult(name string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(s.downloadDir, sanitize(name)), data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return sanitize(name), nil
}

// sanitize strips any path components from a client-supplied filename.
func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.ReplaceAll(name, string(os.PathSeparator), "_")
}
