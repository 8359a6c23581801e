package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/gcp"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// ArtifactStore writes rendered certificates under
// {root}/{userId}_certificates/{file}.
type ArtifactStore struct {
	root string
	log  *logger.Logger
}

func NewArtifactStore(root string, log *logger.Logger) (*ArtifactStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("output root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &ArtifactStore{root: abs, log: log.With("service", "ArtifactStore")}, nil
}

func (s *ArtifactStore) Root() string { return s.root }

// PathFor returns where a certificate for userID named fileName is stored.
func (s *ArtifactStore) PathFor(userID, fileName string) string {
	return filepath.Join(s.root, certificate.UserDir(userID), fileName)
}

// Save writes data to its final path. The file appears complete or not at
// all; concurrent saves for the same user share the directory safely.
func (s *ArtifactStore) Save(userID, fileName string, data []byte) (string, error) {
	if fileName == "" || fileName == "." || fileName == ".." || filepath.Base(fileName) != fileName {
		return "", fmt.Errorf("invalid certificate file name %q", fileName)
	}
	dst := s.PathFor(userID, fileName)
	if !s.contains(dst) {
		return "", fmt.Errorf("path %q is outside the output root", dst)
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+fileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write certificate: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync certificate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close certificate: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod certificate: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("commit certificate: %w", err)
	}
	committed = true
	return dst, nil
}

// Remove deletes a stored certificate. Paths outside the store root are
// refused.
func (s *ArtifactStore) Remove(path string) error {
	if !s.contains(path) {
		return fmt.Errorf("path %q is outside the output root", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *ArtifactStore) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Archiver copies persisted certificates to object storage. Failures are
// reported, never fatal to an issuance.
type Archiver struct {
	bucket  gcp.ArchiveBucket
	log     *logger.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

func NewArchiver(bucket gcp.ArchiveBucket, log *logger.Logger, metrics *observability.Metrics) *Archiver {
	if bucket == nil {
		return nil
	}
	return &Archiver{
		bucket:  bucket,
		log:     log.With("service", "Archiver"),
		metrics: metrics,
		timeout: 30 * time.Second,
	}
}

// ArchiveKey is the object key for a certificate: {userId}_certificates/{file}.
func ArchiveKey(userID, fileName string) string {
	return certificate.UserDir(userID) + "/" + fileName
}

// Archive uploads data and returns its public URL, or "" on failure.
func (a *Archiver) Archive(ctx context.Context, userID, fileName string, data []byte) string {
	if a == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := ArchiveKey(userID, fileName)
	if err := a.bucket.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		a.log.Warn("certificate archive upload failed (ignored)", "key", key, "error", err)
		a.metrics.ObserveArchiveUpload("error")
		return ""
	}
	a.metrics.ObserveArchiveUpload("ok")
	return a.bucket.PublicURL(key)
}
