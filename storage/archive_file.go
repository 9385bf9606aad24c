package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

// FileArchive stores fragment ciphertext copies on the local file system,
// one file per fragment under vault/epoch/index.
type FileArchive struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileArchive creates a file archive rooted at baseDir, creating it if
// needed.
func NewFileArchive(baseDir string, log *slog.Logger) (*FileArchive, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (a *FileArchive) Put(ctx context.Context, key interfaces.FragmentKey, ciphertext []byte) (string, error) {
	ref := key.String()
	path := filepath.Join(a.baseDir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create fragment directory: %w", err)
	}
	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return "", fmt.Errorf("failed to write fragment: %w", err)
	}

	a.log.Debug("Archived fragment to file",
		slog.String("path", path),
		slog.Int("size", len(ciphertext)))
	return ref, nil
}

func (a *FileArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	path := filepath.Join(a.baseDir, filepath.FromSlash(ref))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment: %w", err)
	}
	return data, nil
}

func (a *FileArchive) Available(ctx context.Context) bool {
	_, err := os.Stat(a.baseDir)
	if err != nil {
		a.log.Debug("File archive unavailable", "err", err)
		return false
	}
	return true
}

func (a *FileArchive) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(a.baseDir))
}

func (a *FileArchive) LocationURI() string {
	return a.locationURI
}
