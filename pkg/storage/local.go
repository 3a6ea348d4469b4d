package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/model"
)

// LocalStore keeps artifacts on the local filesystem, uploads and results in
// separate directories. Keys look like uploads/file_1700000000123_a1b2c3.png.
type LocalStore struct {
	uploadDir string
	resultDir string
	baseURL   string
}

// NewLocalStore creates the directories and returns the store.
func NewLocalStore(conf config.StorageConfig) (*LocalStore, error) {
	uploadDir := conf.UploadDir
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	resultDir := conf.ResultDir
	if resultDir == "" {
		resultDir = "./results"
	}
	for _, dir := range []string{uploadDir, resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return &LocalStore{
		uploadDir: uploadDir,
		resultDir: resultDir,
		baseURL:   strings.TrimRight(conf.PublicBaseURL, "/"),
	}, nil
}

func (s *LocalStore) dirFor(category Category) string {
	if category == CategoryResult {
		return s.resultDir
	}
	return s.uploadDir
}

func (s *LocalStore) urlFor(key string) string {
	if s.baseURL == "" {
		return "/files/" + key
	}
	return s.baseURL + "/files/" + key
}

func (s *LocalStore) Save(ctx context.Context, category Category, name string, r io.Reader, size int64, contentType string) (*StoredObject, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".png"
	}
	fileName := model.NewFileID() + ext
	dst := filepath.Join(s.dirFor(category), fileName)

	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("failed to write %s: %w", dst, err)
	}

	key := string(category) + "/" + fileName
	return &StoredObject{Key: key, URL: s.urlFor(key), Size: written}, nil
}

// resolvePath maps a key back to a filesystem path, rejecting traversal.
func (s *LocalStore) resolvePath(key string) (string, error) {
	category, fileName, ok := strings.Cut(key, "/")
	if !ok || fileName != filepath.Base(fileName) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	switch Category(category) {
	case CategoryUpload, CategoryResult:
		return filepath.Join(s.dirFor(Category(category)), fileName), nil
	}
	return "", fmt.Errorf("invalid storage key %q", key)
}

func (s *LocalStore) Load(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Sweep removes artifacts past the retention window in both directories.
func (s *LocalStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, dir := range []string{s.uploadDir, s.resultDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}
