// Package storage implements the object storage buckets of the persistence
// gateway on top of the local filesystem.
package storage

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/grillzstudio/internal/apperr"
)

// DesignsBucket holds uploaded custom designs and re-hosted meshes.
const DesignsBucket = "designs"

// FileBucket stores objects under Root/Name and exposes them below
// BaseURL/storage/Name/.
type FileBucket struct {
	Root    string
	Name    string
	BaseURL string
}

// NewFileBucket creates the bucket directory if needed.
func NewFileBucket(root, name, baseURL string) (*FileBucket, error) {
	b := &FileBucket{Root: root, Name: name, BaseURL: strings.TrimRight(baseURL, "/")}
	if err := os.MkdirAll(b.dir(), 0o755); err != nil {
		return nil, &apperr.StorageError{Op: "create bucket", Key: name, Err: err}
	}
	return b, nil
}

func (b *FileBucket) dir() string {
	return filepath.Join(b.Root, b.Name)
}

// Upload writes data under key and returns its public URL. contentType is not
// persisted; the file server derives it from the extension.
func (b *FileBucket) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: err}
	}
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: os.ErrInvalid}
	}

	tmp, err := os.CreateTemp(b.dir(), ".upload-*")
	if err != nil {
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(b.dir(), key)); err != nil {
		return "", &apperr.StorageError{Op: "upload", Key: key, Err: err}
	}
	return b.PublicURL(key), nil
}

// PublicURL returns the URL a stored key is served at.
func (b *FileBucket) PublicURL(key string) string {
	return b.BaseURL + b.Prefix() + key
}

// Prefix is the route the bucket is mounted on.
func (b *FileBucket) Prefix() string {
	return "/storage/" + b.Name + "/"
}

// Handler serves the bucket read-only. Directory listings are not exposed.
func (b *FileBucket) Handler() http.Handler {
	fs := http.FileServer(http.Dir(b.dir()))
	return http.StripPrefix(b.Prefix(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(filepath.Base(r.URL.Path), ".") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}))
}
