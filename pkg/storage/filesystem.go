package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideBase is returned for names that resolve outside the base directory.
	ErrOutsideBase = errors.New("path escapes storage directory")
	// ErrTooLarge is returned by SaveStream when the reader exceeds the limit.
	ErrTooLarge = errors.New("stream exceeds size limit")
)

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir  string
	fileMode os.FileMode
}

// Option customises a LocalStorage.
type Option func(*LocalStorage)

// WithFileMode sets the permission bits of written files.
func WithFileMode(mode os.FileMode) Option {
	return func(s *LocalStorage) {
		s.fileMode = mode
	}
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string, opts ...Option) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./media"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &LocalStorage{baseDir: baseDir, fileMode: 0o644}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save writes the given bytes to the provided relative path under the base dir.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, s.fileMode); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit file: %w", err)
	}
	return filename, nil
}

// SaveStream copies from reader into the target file path and returns the
// number of bytes written. At most limit bytes are accepted when limit > 0.
func (s *LocalStorage) SaveStream(filename string, r io.Reader, limit int64) (string, int64, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(file, src)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write stream: %w", err)
	}
	if limit > 0 && n > limit {
		_ = os.Remove(path)
		return "", n, fmt.Errorf("%w of %d bytes", ErrTooLarge, limit)
	}
	return filename, n, nil
}

// Read returns the whole content of a stored file.
func (s *LocalStorage) Read(filename string) ([]byte, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *LocalStorage) resolve(filename string) (string, error) {
	if filename == "" || filepath.IsAbs(filename) {
		return "", ErrOutsideBase
	}
	cleaned := filepath.Clean(filename)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
