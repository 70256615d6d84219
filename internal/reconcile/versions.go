package reconcile

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/manifest"
	"syncvault/internal/remote"
	"syncvault/internal/transfer"
	"syncvault/internal/util"
)

// VersionInfo is one retained historical copy of a remote file.
type VersionInfo struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	Path      string    `json:"path"`
}

func versionPattern(rel string) *regexp.Regexp {
	ext := path.Ext(rel)
	name := strings.TrimSuffix(path.Base(rel), ext)
	return regexp.MustCompile("^" + regexp.QuoteMeta(name) + `_v(\d+)` + regexp.QuoteMeta(ext) + "$")
}

// ListVersions returns the retained versions of rel, oldest first.
func (r *Reconciler) ListVersions(ctx context.Context, rel string) ([]VersionInfo, error) {
	engine, err := r.engines.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return r.versions(ctx, engine, manifest.CleanPath(rel))
}

func (r *Reconciler) versions(ctx context.Context, engine *transfer.Engine, rel string) ([]VersionInfo, error) {
	dir := path.Dir(util.VersionPath(r.versionsRoot, rel, 1))
	pattern := versionPattern(rel)

	var objects []remote.ObjectInfo
	err := engine.Retry(ctx, "list "+dir, func(ctx context.Context) error {
		var err error
		objects, err = remote.ListIfExists(ctx, engine.Backend(), dir)
		return err
	})
	if err != nil {
		return nil, err
	}

	var versions []VersionInfo
	for _, o := range objects {
		if o.IsDir {
			continue
		}
		m := pattern.FindStringSubmatch(o.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		versions = append(versions, VersionInfo{Version: n, Timestamp: o.ModTime, SizeBytes: o.Size, Path: o.Path})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// saveVersion copies the current remote content of rel into the versions
// namespace as the next version, then prunes the oldest versions beyond the
// configured maximum.
func (r *Reconciler) saveVersion(ctx context.Context, engine *transfer.Engine, rel string) error {
	current, err := engine.Download(ctx, r.remotePath(rel), nil)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}

	existing, err := r.versions(ctx, engine, rel)
	if err != nil {
		return err
	}
	next := 1
	if len(existing) > 0 {
		next = existing[len(existing)-1].Version + 1
	}

	target := util.VersionPath(r.versionsRoot, rel, next)
	if err := engine.Upload(ctx, target, current, nil); err != nil {
		return fmt.Errorf("save version %d: %w", next, err)
	}
	r.logger.Debug("Remote version saved", "path", rel, "version", next)

	existing = append(existing, VersionInfo{Version: next, Path: target})
	for len(existing) > r.maxVersions {
		oldest := existing[0]
		existing = existing[1:]
		if err := engine.Retry(ctx, "delete "+oldest.Path, func(ctx context.Context) error {
			return remote.DeleteIfExists(ctx, engine.Backend(), oldest.Path)
		}); err != nil {
			return fmt.Errorf("prune version %d: %w", oldest.Version, err)
		}
		r.logger.Debug("Old version pruned", "path", rel, "version", oldest.Version)
	}
	return nil
}

// RestoreVersion makes version n of rel the current content on both sides.
// The content it replaces is itself versioned first when versioning is on.
func (r *Reconciler) RestoreVersion(ctx context.Context, rel string, n int) error {
	unlock, ok := r.locks.TryLock(syncLockKey)
	if !ok {
		return errInProgress
	}
	defer unlock()

	engine, err := r.engines.Engine(ctx)
	if err != nil {
		return err
	}
	rel = manifest.CleanPath(rel)

	data, err := engine.Download(ctx, util.VersionPath(r.versionsRoot, rel, n), nil)
	if err != nil {
		return fmt.Errorf("read version %d of %s: %w", n, rel, err)
	}
	if err := r.push(ctx, engine, rel, data, true, true); err != nil {
		return err
	}
	r.logger.Info("Version restored", "path", rel, "version", n)
	return nil
}
