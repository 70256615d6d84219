package remote

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/config"
)

type ObjectInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	// Hash is the hex BLAKE3 of the content when the backend stores it.
	Hash string
}

// Backend is the storage contract shared by every remote. Paths are absolute,
// slash separated and relative to the backend's root.
type Backend interface {
	Name() string
	TestConnection(ctx context.Context) (bool, string)
	Upload(ctx context.Context, p string, content []byte) error
	Download(ctx context.Context, p string) ([]byte, error)
	// Delete reports a not_found error when p does not exist.
	Delete(ctx context.Context, p string) error
	// List returns the direct children of dir.
	List(ctx context.Context, dir string) ([]ObjectInfo, error)
	EnsureDir(ctx context.Context, dir string) error
}

// MultipartUploader is implemented by backends with a native multipart upload,
// which the transfer engine prefers over its own chunk reassembly.
type MultipartUploader interface {
	UploadMultipart(ctx context.Context, p string, content []byte, partSize int64) error
}

// New builds the backend selected by cfg.Backend. Missing credentials are
// reported as config errors.
func New(ctx context.Context, cfg config.Cloud, client *http.Client) (Backend, error) {
	switch cfg.Backend {
	case config.BackendWebDAV:
		return NewWebDAV(cfg.WebDAV, client)
	case config.BackendCloudDrive:
		return NewCloudDrive(ctx, cfg.CloudDrive, client)
	case config.BackendS3:
		return NewS3(ctx, cfg.S3, cfg.S3RetryAttempts())
	case config.BackendDropbox:
		return NewDropbox(cfg.Dropbox)
	case "":
		return nil, apperr.New(apperr.KindConfig, "init backend", "no cloud backend configured (cloud.backend)")
	}
	return nil, apperr.Errorf(apperr.KindConfig, "init backend", "unsupported backend %q", cfg.Backend)
}

// DeleteIfExists is Delete for cleanup paths, where absence is not an error.
func DeleteIfExists(ctx context.Context, b Backend, p string) error {
	if err := b.Delete(ctx, p); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return nil
}

// ListIfExists treats a missing directory as empty.
func ListIfExists(ctx context.Context, b Backend, dir string) ([]ObjectInfo, error) {
	objects, err := b.List(ctx, dir)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	return objects, err
}

// Stat finds p by listing its parent directory.
func Stat(ctx context.Context, b Backend, p string) (*ObjectInfo, error) {
	p = Clean(p)
	objects, err := ListIfExists(ctx, b, path.Dir(p))
	if err != nil {
		return nil, err
	}
	for i := range objects {
		if Clean(objects[i].Path) == p {
			return &objects[i], nil
		}
	}
	return nil, apperr.Errorf(apperr.KindNotFound, "stat", "%s does not exist", p)
}

// Walk lists every file below root, skipping directories named in skip.
func Walk(ctx context.Context, b Backend, root string, skip ...string) ([]ObjectInfo, error) {
	var files []ObjectInfo
	pending := []string{Clean(root)}
	for len(pending) > 0 {
		dir := pending[0]
		pending = pending[1:]

		objects, err := ListIfExists(ctx, b, dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, o := range objects {
			if !o.IsDir {
				files = append(files, o)
				continue
			}
			if !contains(skip, o.Name) {
				pending = append(pending, Clean(o.Path))
			}
		}
	}
	return files, nil
}

func Clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
