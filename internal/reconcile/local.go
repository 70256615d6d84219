package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/crypto"
	"syncvault/internal/manifest"
)

// LocalFiles is the local side of a sync pass. Paths are relative to the sync
// root and start with a slash.
type LocalFiles interface {
	Manifest(ctx context.Context) (manifest.Manifest, error)
	Read(p string) ([]byte, error)
	// Write replaces p and sets its timestamp to modTime.
	Write(p string, data []byte, modTime time.Time) error
	// Touch sets the timestamp of p without changing its content.
	Touch(p string, modTime time.Time) error
}

// SnapshotSource is the state store seen as a single file.
type SnapshotSource interface {
	ExportSnapshot() (string, error)
	ImportSnapshot(data string) bool
	LastModified() time.Time
	Touch(t time.Time) error
}

// SnapshotPath is the name under which the snapshot is synced.
const SnapshotPath = "/data.json"

type SnapshotFiles struct {
	src SnapshotSource
}

func NewSnapshotFiles(src SnapshotSource) *SnapshotFiles {
	return &SnapshotFiles{src: src}
}

func (s *SnapshotFiles) Manifest(ctx context.Context) (manifest.Manifest, error) {
	data, err := s.src.ExportSnapshot()
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return manifest.New(manifest.Entry{
		Path:    SnapshotPath,
		ModTime: s.src.LastModified(),
		Size:    int64(len(data)),
		Hash:    crypto.Hash([]byte(data)),
	}), nil
}

func (s *SnapshotFiles) Read(p string) ([]byte, error) {
	if err := s.check(p); err != nil {
		return nil, err
	}
	data, err := s.src.ExportSnapshot()
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return []byte(data), nil
}

func (s *SnapshotFiles) Write(p string, data []byte, modTime time.Time) error {
	if err := s.check(p); err != nil {
		return err
	}
	if !s.src.ImportSnapshot(string(data)) {
		return apperr.Errorf(apperr.KindFormat, "import "+p, "remote snapshot could not be imported")
	}
	return s.src.Touch(modTime)
}

func (s *SnapshotFiles) Touch(p string, modTime time.Time) error {
	if err := s.check(p); err != nil {
		return err
	}
	return s.src.Touch(modTime)
}

func (s *SnapshotFiles) check(p string) error {
	if manifest.CleanPath(p) != SnapshotPath {
		return apperr.Errorf(apperr.KindNotFound, "snapshot files", "%s is not part of the snapshot", p)
	}
	return nil
}

// DirFiles syncs the regular files below a local directory.
type DirFiles struct {
	root string
}

func NewDirFiles(root string) *DirFiles {
	return &DirFiles{root: root}
}

func (d *DirFiles) local(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(manifest.CleanPath(p)))
}

func (d *DirFiles) Manifest(ctx context.Context) (manifest.Manifest, error) {
	m := manifest.New()
	err := filepath.WalkDir(d.root, func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, name)
		if err != nil {
			return err
		}
		m.Add(manifest.Entry{
			Path:    rel,
			ModTime: info.ModTime(),
			Size:    info.Size(),
			Hash:    crypto.Hash(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.root, err)
	}
	return m, nil
}

func (d *DirFiles) Read(p string) ([]byte, error) {
	data, err := os.ReadFile(d.local(p))
	if os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.KindNotFound, "read "+p, err)
	}
	return data, err
}

func (d *DirFiles) Write(p string, data []byte, modTime time.Time) error {
	name := d.local(p)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	return os.Chtimes(name, modTime, modTime)
}

func (d *DirFiles) Touch(p string, modTime time.Time) error {
	return os.Chtimes(d.local(p), modTime, modTime)
}
