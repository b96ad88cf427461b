package quill

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

const defaultImageType = "image/jpeg"

// ImageBackend persists image blobs by file name.
type ImageBackend interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// ImageStore turns inline data URLs into stored images.
type ImageStore struct {
	backend   ImageBackend
	urlPrefix string
}

// NewImageStore returns an ImageStore that writes through backend and builds
// reference paths under urlPrefix.
func NewImageStore(backend ImageBackend, urlPrefix string) *ImageStore {
	return &ImageStore{backend: backend, urlPrefix: strings.Trim(urlPrefix, "/")}
}

// DecodeAndStore decodes a "<header>,<base64>" or bare base64 payload, stores
// it as "<ownerID>_<uuid><ext>" and returns the reference. Width and height
// are filled when the image header can be read.
func (s *ImageStore) DecodeAndStore(ctx context.Context, payload, ownerID string) (ImageRef, error) {
	header, encoded := "", payload
	if i := strings.IndexByte(payload, ','); i >= 0 {
		header, encoded = payload[:i], payload[i+1:]
	}
	ext, mediaType := imageExtension(header)

	data, err := decodeBase64(encoded)
	if err != nil {
		return ImageRef{}, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if len(data) == 0 {
		return ImageRef{}, fmt.Errorf("%w: empty payload", ErrImageDecode)
	}

	name := ownerID + "_" + uuid.NewString() + ext
	if err := s.backend.Put(ctx, name, data, mediaType); err != nil {
		return ImageRef{}, fmt.Errorf("store image %s: %w", name, err)
	}

	ref := ImageRef{Path: s.urlPrefix + "/" + name, Type: mediaType}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ref.Width, ref.Height = cfg.Width, cfg.Height
	}
	return ref, nil
}

// Open streams a stored image. Unknown or unsafe names return ErrNotFound.
func (s *ImageStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	return s.backend.Open(ctx, name)
}

// URLPrefix is the path prefix stored image references use.
func (s *ImageStore) URLPrefix() string {
	return s.urlPrefix
}

func imageExtension(header string) (ext, mediaType string) {
	switch {
	case strings.Contains(header, "image/png"):
		return ".png", "image/png"
	case strings.Contains(header, "image/webp"):
		return ".webp", "image/webp"
	default:
		return ".jpg", defaultImageType
	}
}

// imageContentType maps a stored file name back to its media type.
func imageContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	// Some encoders drop the padding.
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// LocalImageBackend stores images as files in a directory.
type LocalImageBackend struct {
	dir string
}

// NewLocalImageBackend returns a backend rooted at dir. The directory is
// created on first write.
func NewLocalImageBackend(dir string) *LocalImageBackend {
	return &LocalImageBackend{dir: dir}
}

func (b *LocalImageBackend) Put(_ context.Context, name string, data []byte, _ string) error {
	if !validName(name) {
		return fmt.Errorf("invalid image name %q", name)
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, name), data, 0o644)
}

func (b *LocalImageBackend) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(b.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// validName reports whether s can be used as a single path element.
func validName(s string) bool {
	if s == "" || s == "." || len(s) > 255 || strings.Contains(s, "..") {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
