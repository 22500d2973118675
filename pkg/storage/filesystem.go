package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// allowedSignatureExts restricts uploads to raster image formats the printable
// form can embed.
var allowedSignatureExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// SignatureStore persists officer signature images on disk under a base
// directory, one file per user.
type SignatureStore struct {
	baseDir string
}

// NewSignatureStore ensures the base directory exists and returns a handle.
func NewSignatureStore(baseDir string) (*SignatureStore, error) {
	if baseDir == "" {
		baseDir = "./signatures"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create signature directory: %w", err)
	}
	return &SignatureStore{baseDir: baseDir}, nil
}

// SaveSignature writes the image for a user, replacing any previous upload
// with a different extension. Returns the relative path to persist on the
// user record.
func (s *SignatureStore) SaveSignature(userID, ext string, data []byte) (string, error) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if _, ok := allowedSignatureExts[ext]; !ok {
		return "", fmt.Errorf("unsupported signature image type %s", ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty signature image")
	}

	for old := range allowedSignatureExts {
		if old == ext {
			continue
		}
		_ = os.Remove(filepath.Join(s.baseDir, userID+old))
	}

	rel := userID + ext
	if err := os.WriteFile(filepath.Join(s.baseDir, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write signature image: %w", err)
	}
	return rel, nil
}

// Open returns a read-only handle for a stored signature image.
func (s *SignatureStore) Open(relPath string) (*os.File, error) {
	file, err := os.Open(s.resolve(relPath))
	if err != nil {
		return nil, fmt.Errorf("open signature image: %w", err)
	}
	return file, nil
}

// Read loads the image bytes, used when embedding into the printable form.
func (s *SignatureStore) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(relPath))
	if err != nil {
		return nil, fmt.Errorf("read signature image: %w", err)
	}
	return data, nil
}

// Delete removes a stored signature image if present.
func (s *SignatureStore) Delete(relPath string) error {
	if err := os.Remove(s.resolve(relPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete signature image: %w", err)
	}
	return nil
}

// CleanupOrphans removes images older than the TTL that no longer match an
// expected set of relative paths.
func (s *SignatureStore) CleanupOrphans(expected map[string]struct{}, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	removed := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		if _, keep := expected[rel]; keep {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup signature images: %w", err)
	}
	return removed, nil
}

// Path exposes the resolved absolute path.
func (s *SignatureStore) Path(relPath string) string {
	return s.resolve(relPath)
}

func (s *SignatureStore) resolve(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(s.baseDir, relPath)
}
