package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidUpload indicates an upload that is not a non-empty image.
	ErrInvalidUpload = errors.New("media: invalid upload")
	// ErrForeignURL indicates a URL that was not issued by the store.
	ErrForeignURL = errors.New("media: url not owned by store")
)

const (
	defaultPublicBasePath = "/media"
	imageContentPrefix    = "image/"
	fallbackExtension     = ".bin"
	maxExtensionLength    = 8
)

// Upload is one client-provided file.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Acceptable reports whether the upload is a non-empty image with a file name.
func (u Upload) Acceptable() bool {
	return strings.TrimSpace(u.Filename) != "" &&
		u.Size > 0 &&
		u.Body != nil &&
		strings.HasPrefix(strings.ToLower(u.ContentType), imageContentPrefix)
}

// LocalStoreConfig describes where uploaded images live and how they are addressed.
type LocalStoreConfig struct {
	Directory      string
	PublicBasePath string
	Logger         *zap.Logger
}

// LocalStore saves images under a directory and serves them from PublicBasePath.
type LocalStore struct {
	directory string
	basePath  string
	logger    *zap.Logger
}

// NewLocalStore creates the directory when missing.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		return nil, fmt.Errorf("media: directory is required")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("media: create directory: %w", err)
	}
	basePath := "/" + strings.Trim(strings.TrimSpace(cfg.PublicBasePath), "/")
	if basePath == "/" {
		basePath = defaultPublicBasePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{directory: directory, basePath: basePath, logger: logger}, nil
}

// Directory returns the filesystem root served under PublicBasePath.
func (s *LocalStore) Directory() string {
	return s.directory
}

// PublicBasePath returns the URL prefix of stored objects.
func (s *LocalStore) PublicBasePath() string {
	return s.basePath
}

// Save writes the upload under a fresh time-ordered name and returns its public URL.
func (s *LocalStore) Save(ctx context.Context, upload Upload) (string, error) {
	if !upload.Acceptable() {
		return "", ErrInvalidUpload
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	identifier, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("media: generate name: %w", err)
	}
	name := identifier.String() + extensionFor(upload)
	target := filepath.Join(s.directory, name)

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("media: create object: %w", err)
	}
	if _, err := io.Copy(file, upload.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("media: write object: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("media: close object: %w", err)
	}

	s.logger.Debug("media object stored", zap.String("name", name), zap.Int64("size", upload.Size))
	return path.Join(s.basePath, name), nil
}

// Delete removes the object behind a URL returned by Save. Missing objects are not an error.
func (s *LocalStore) Delete(_ context.Context, url string) error {
	name, err := s.objectName(url)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.directory, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: delete object: %w", err)
	}
	return nil
}

func (s *LocalStore) objectName(url string) (string, error) {
	prefix := s.basePath + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return name, nil
}

func extensionFor(upload Upload) string {
	extension := strings.ToLower(filepath.Ext(upload.Filename))
	if isPlainExtension(extension) {
		return extension
	}
	if extensions, err := mime.ExtensionsByType(upload.ContentType); err == nil && len(extensions) > 0 {
		return extensions[0]
	}
	return fallbackExtension
}

func isPlainExtension(extension string) bool {
	if len(extension) < 2 || len(extension) > maxExtensionLength {
		return false
	}
	for _, r := range extension[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
