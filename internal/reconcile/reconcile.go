// Package reconcile implements bidirectional sync between a local file set
// and a directory on the remote backend, with conflict policies and remote
// versioning.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/config"
	"syncvault/internal/crypto"
	"syncvault/internal/lock"
	"syncvault/internal/manifest"
	"syncvault/internal/progress"
	"syncvault/internal/remote"
	"syncvault/internal/transfer"
	"syncvault/internal/util"
)

const syncLockKey = "sync"

var errInProgress = apperr.New(apperr.KindRequest, "sync", "sync already in progress")

// EngineSource hands out the transfer engine for the current cloud settings.
type EngineSource interface {
	Engine(ctx context.Context) (*transfer.Engine, error)
}

// BaseStore keeps the content of each path as of its last successful sync.
type BaseStore interface {
	SyncBase(path string) (string, bool, error)
	SetSyncBase(path, content string) error
}

type Options struct {
	Local        LocalFiles
	Bases        BaseStore
	Root         string
	VersionsRoot string
	Policy       string
	Versioning   bool
	MaxVersions  int
	// StatusFile receives the YAML status after every pass when set.
	StatusFile string
	OnProgress progress.Func
	Logger     *slog.Logger
	Now        func() time.Time
}

// OptionsFromConfig fills the sync settings of cfg into Options. Versions
// live under the cloud base path. The local side and the base store are left
// to the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Root:         cfg.SyncRemoteRoot(),
		VersionsRoot: cfg.Cloud.BasePath(),
		Policy:       cfg.ConflictResolution(),
		Versioning:   cfg.EnableVersioning(),
		MaxVersions:  cfg.MaxVersions(),
		StatusFile:   filepath.Join(util.RunDir(cfg.BaseDir), "sync_status.yaml"),
	}
}

type Reconciler struct {
	engines      EngineSource
	local        LocalFiles
	bases        BaseStore
	root         string
	versionsRoot string
	policy       string
	versioning   bool
	maxVersions  int
	statusFile   string
	onProgress   progress.Func
	logger       *slog.Logger
	now          func() time.Time
	locks        *lock.Keyed
}

func New(engines EngineSource, opts Options) *Reconciler {
	r := &Reconciler{
		engines:      engines,
		local:        opts.Local,
		bases:        opts.Bases,
		root:         remote.Clean(opts.Root),
		versionsRoot: remote.Clean(opts.VersionsRoot),
		policy:       opts.Policy,
		versioning:   opts.Versioning,
		maxVersions:  opts.MaxVersions,
		statusFile:   opts.StatusFile,
		onProgress:   opts.OnProgress,
		logger:       opts.Logger,
		now:          opts.Now,
		locks:        lock.NewKeyed(),
	}
	if opts.VersionsRoot == "" {
		r.versionsRoot = r.root
	}
	if r.policy == "" {
		r.policy = config.ConflictLocalWins
	}
	if r.maxVersions <= 0 {
		r.maxVersions = 5
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

type Result struct {
	Files    []FileState       `json:"files"`
	Counts   manifest.Counts   `json:"counts"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Run performs one sync pass. Failures of single files are collected in the
// result and do not stop the pass; only one pass runs at a time.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	unlock, ok := r.locks.TryLock(syncLockKey)
	if !ok {
		return Result{}, errInProgress
	}
	defer unlock()

	r.writeStatus(func(s *manifest.Status) {
		s.InProgress = true
	})

	r.logger.Info("Sync started", "root", r.root, "policy", r.policy)
	result, backend, err := r.run(ctx)

	r.writeStatus(func(s *manifest.Status) {
		s.InProgress = false
		s.Root = r.root
		s.Backend = backend
		s.Counts = result.Counts
		s.Failures = result.Failures
		s.LastError = ""
		switch {
		case err != nil:
			s.LastError = err.Error()
		case len(result.Failures) > 0:
			s.LastError = fmt.Sprintf("%d files failed to sync", len(result.Failures))
		}
		if err == nil {
			s.LastSync = r.now().Unix()
		}
	})

	if err != nil {
		r.logger.Error("Sync failed", "error", err)
		return result, err
	}
	c := result.Counts
	r.logger.Info("Sync completed", "synced", c.Synced, "uploaded", c.Uploaded, "downloaded", c.Downloaded,
		"conflicts", c.Conflicts, "merged", c.Merged, "failed", c.Failed)
	return result, nil
}

func (r *Reconciler) run(ctx context.Context) (Result, string, error) {
	var result Result

	engine, err := r.engines.Engine(ctx)
	if err != nil {
		return result, "", err
	}
	backend := engine.Backend().Name()

	localManifest, err := r.local.Manifest(ctx)
	if err != nil {
		return result, backend, fmt.Errorf("local manifest: %w", err)
	}
	remoteManifest, err := r.remoteManifest(ctx, engine)
	if err != nil {
		return result, backend, fmt.Errorf("remote manifest: %w", err)
	}

	for _, p := range manifest.Paths(localManifest, remoteManifest) {
		if err := ctx.Err(); err != nil {
			return result, backend, apperr.Wrap(apperr.KindCancelled, "sync", err)
		}

		local, rem := localManifest.Get(p), remoteManifest.Get(p)
		if rem != nil && rem.Hash == "" {
			rem.Hash = r.baseHash(p)
		}

		fs := compare(p, local, rem)
		result.Files = append(result.Files, fs)

		if err := r.apply(ctx, engine, fs, rem, &result.Counts); err != nil {
			r.logger.Warn("File sync failed", "path", p, "state", fs.Status, "error", err)
			if result.Failures == nil {
				result.Failures = make(map[string]string)
			}
			result.Failures[p] = err.Error()
			result.Counts.Failed++
		}
	}
	return result, backend, nil
}

func (r *Reconciler) apply(ctx context.Context, engine *transfer.Engine, fs FileState, rem *manifest.Entry, counts *manifest.Counts) error {
	switch fs.Status {
	case StateSynced:
		counts.Synced++
		return nil
	case StateLocalNewer, StateLocalOnly:
		if err := r.upload(ctx, engine, fs.Path, rem != nil); err != nil {
			return err
		}
		counts.Uploaded++
		return nil
	case StateRemoteNewer, StateRemoteOnly:
		if err := r.pull(ctx, engine, fs.Path, rem); err != nil {
			return err
		}
		counts.Downloaded++
		return nil
	}

	counts.Conflicts++
	r.logger.Info("Conflict detected", "path", fs.Path, "policy", r.policy)
	switch r.policy {
	case config.ConflictRemoteWins:
		if err := r.pull(ctx, engine, fs.Path, rem); err != nil {
			return err
		}
		counts.Downloaded++
	case config.ConflictMerge:
		merged, err := r.merge(ctx, engine, fs.Path)
		if err != nil {
			return err
		}
		if merged {
			counts.Merged++
		}
		counts.Uploaded++
	default:
		// local_wins and manual both keep the local copy
		if err := r.upload(ctx, engine, fs.Path, true); err != nil {
			return err
		}
		counts.Uploaded++
	}
	return nil
}

func (r *Reconciler) upload(ctx context.Context, engine *transfer.Engine, rel string, remoteExists bool) error {
	data, err := r.local.Read(rel)
	if err != nil {
		return fmt.Errorf("read local %s: %w", rel, err)
	}
	return r.push(ctx, engine, rel, data, remoteExists, false)
}

// push uploads data as the current remote content of rel, versioning what it
// replaces. The local side either gets data written or only its timestamp
// aligned to the remote one, so the next pass sees the path as synced.
func (r *Reconciler) push(ctx context.Context, engine *transfer.Engine, rel string, data []byte, remoteExists, writeLocal bool) error {
	if remoteExists && r.versioning {
		if err := r.saveVersion(ctx, engine, rel); err != nil {
			return err
		}
	}

	target := r.remotePath(rel)
	if err := engine.Upload(ctx, target, data, r.onProgress); err != nil {
		return err
	}

	modTime := r.now()
	var info *remote.ObjectInfo
	err := engine.Retry(ctx, "stat "+target, func(ctx context.Context) error {
		var err error
		info, err = remote.Stat(ctx, engine.Backend(), target)
		return err
	})
	if err == nil && !info.ModTime.IsZero() {
		modTime = info.ModTime
	}

	if writeLocal {
		err = r.local.Write(rel, data, modTime)
	} else {
		err = r.local.Touch(rel, modTime)
	}
	if err != nil {
		return fmt.Errorf("update local %s: %w", rel, err)
	}
	return r.recordBase(rel, data)
}

func (r *Reconciler) pull(ctx context.Context, engine *transfer.Engine, rel string, rem *manifest.Entry) error {
	data, err := engine.Download(ctx, r.remotePath(rel), r.onProgress)
	if err != nil {
		return err
	}
	modTime := r.now()
	if rem != nil && !rem.ModTime.IsZero() {
		modTime = rem.ModTime
	}
	if err := r.local.Write(rel, data, modTime); err != nil {
		return fmt.Errorf("write local %s: %w", rel, err)
	}
	return r.recordBase(rel, data)
}

// merge applies the remote changes since the last synced base onto the local
// content and pushes the result to both sides. Without a base, or when the
// remote changes do not apply cleanly, the local copy is uploaded instead.
func (r *Reconciler) merge(ctx context.Context, engine *transfer.Engine, rel string) (bool, error) {
	localData, err := r.local.Read(rel)
	if err != nil {
		return false, fmt.Errorf("read local %s: %w", rel, err)
	}
	remoteData, err := engine.Download(ctx, r.remotePath(rel), r.onProgress)
	if err != nil {
		return false, err
	}

	var base string
	var ok bool
	if r.bases != nil {
		if base, ok, err = r.bases.SyncBase(rel); err != nil {
			return false, err
		}
	}
	if !ok {
		r.logger.Info("No sync base to merge against, keeping local copy", "path", rel)
		return false, r.push(ctx, engine, rel, localData, true, false)
	}

	merged, clean := Merge(base, string(localData), string(remoteData))
	if !clean {
		r.logger.Warn("Remote changes do not apply cleanly, keeping local copy", "path", rel)
		return false, r.push(ctx, engine, rel, localData, true, false)
	}
	return true, r.push(ctx, engine, rel, []byte(merged), true, true)
}

func (r *Reconciler) remoteManifest(ctx context.Context, engine *transfer.Engine) (manifest.Manifest, error) {
	var files []remote.ObjectInfo
	err := engine.Retry(ctx, "list "+r.root, func(ctx context.Context) error {
		var err error
		files, err = remote.Walk(ctx, engine.Backend(), r.root, "versions")
		return err
	})
	if err != nil {
		return nil, err
	}

	m := manifest.New()
	for _, f := range files {
		if strings.Contains(f.Path, "/temp_upload_") {
			continue
		}
		rel := strings.TrimPrefix(remote.Clean(f.Path), r.root)
		m.Add(manifest.Entry{Path: rel, ModTime: f.ModTime, Size: f.Size, Hash: f.Hash})
	}
	return m, nil
}

func (r *Reconciler) remotePath(rel string) string {
	return path.Join(r.root, manifest.CleanPath(rel))
}

func (r *Reconciler) baseHash(rel string) string {
	if r.bases == nil {
		return ""
	}
	base, ok, err := r.bases.SyncBase(rel)
	if err != nil || !ok {
		return ""
	}
	return crypto.Hash([]byte(base))
}

func (r *Reconciler) recordBase(rel string, data []byte) error {
	if r.bases == nil {
		return nil
	}
	if err := r.bases.SetSyncBase(rel, string(data)); err != nil {
		return fmt.Errorf("record sync base of %s: %w", rel, err)
	}
	return nil
}

// Status returns the persisted status of the last pass.
func (r *Reconciler) Status() (*manifest.Status, error) {
	if r.statusFile == "" {
		return &manifest.Status{}, nil
	}
	return manifest.ReadStatus(r.statusFile)
}

func (r *Reconciler) writeStatus(update func(s *manifest.Status)) {
	if r.statusFile == "" {
		return
	}
	status, err := manifest.ReadStatus(r.statusFile)
	if err != nil {
		r.logger.Warn("Failed to read sync status, starting fresh", "error", err)
		status = &manifest.Status{}
	}
	update(status)
	status.LastUpdated = r.now().Unix()
	if err := manifest.WriteStatus(r.statusFile, status); err != nil {
		r.logger.Warn("Failed to write sync status", "file", r.statusFile, "error", err)
	}
}
