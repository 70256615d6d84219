// Package backup implements the backup orchestrator: local, cloud and hybrid
// backups of the snapshot store, restores with incremental chains, integrity
// verification, health reports and retention.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/catalog"
	"syncvault/internal/config"
	"syncvault/internal/lock"
	"syncvault/internal/model"
	"syncvault/internal/progress"
	"syncvault/internal/remote"
	"syncvault/internal/transfer"

	"filippo.io/age"
	"github.com/google/uuid"
)

// SnapshotStore is the local state the manager backs up and restores into. It
// also keeps local backup envelopes.
type SnapshotStore interface {
	ExportSnapshot() (string, error)
	ImportSnapshot(data string) bool
	ImportKeys(data string, keys []string) bool
	PutBackup(id string, envelope []byte) error
	GetBackup(id string) ([]byte, error)
	DeleteBackup(id string) error
}

type BackendFactory func(ctx context.Context, cfg config.Cloud) (remote.Backend, error)

// DefaultBackendFactory builds backends with a plain HTTP client.
func DefaultBackendFactory(ctx context.Context, cfg config.Cloud) (remote.Backend, error) {
	return remote.New(ctx, cfg, &http.Client{})
}

type Options struct {
	Store      SnapshotStore
	Catalog    *catalog.Catalog
	Hub        *progress.Hub
	Logger     *slog.Logger
	NewBackend BackendFactory
	// Recipient seals cloud envelopes with age when set.
	Recipient age.Recipient
	// Identity opens sealed cloud envelopes on restore and verify.
	Identity age.Identity
	Now      func() time.Time
}

type Manager struct {
	cfg       config.Config
	store     SnapshotStore
	catalog   *catalog.Catalog
	hub       *progress.Hub
	logger    *slog.Logger
	factory   BackendFactory
	recipient age.Recipient
	identity  age.Identity
	now       func() time.Time
	locks     *lock.Keyed

	mu          sync.Mutex
	cloud       config.Cloud
	fingerprint string
	engine      *transfer.Engine
}

// New builds a manager around an immutable copy of cfg. The cloud section may
// later be swapped with UpdateCloudConfig.
func New(cfg *config.Config, opts Options) *Manager {
	m := &Manager{
		cfg:       *cfg,
		store:     opts.Store,
		catalog:   opts.Catalog,
		hub:       opts.Hub,
		logger:    opts.Logger,
		factory:   opts.NewBackend,
		recipient: opts.Recipient,
		identity:  opts.Identity,
		now:       opts.Now,
		locks:     lock.NewKeyed(),
		cloud:     cfg.Cloud,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.hub == nil {
		m.hub = progress.NewHub(m.logger)
	}
	if m.factory == nil {
		m.factory = DefaultBackendFactory
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) Config() config.Config {
	return m.cfg
}

// Subscribe registers an observer for transfer progress.
func (m *Manager) Subscribe(fn progress.Func) func() {
	return m.hub.Subscribe(fn)
}

func (m *Manager) Hub() *progress.Hub {
	return m.hub
}

// UpdateCloudConfig replaces the cloud settings. The backend client is rebuilt
// lazily on the next cloud operation when the settings actually changed.
func (m *Manager) UpdateCloudConfig(cloud config.Cloud) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloud = cloud
}

// Engine returns the transfer engine for the current cloud settings, creating
// the backend when none exists yet or the settings changed since it was built.
func (m *Manager) Engine(ctx context.Context) (*transfer.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := m.cloud.Fingerprint()
	if m.engine != nil && fp == m.fingerprint {
		return m.engine, nil
	}

	backend, err := m.factory(ctx, m.cloud)
	if err != nil {
		return nil, err
	}
	if m.engine != nil {
		m.logger.Info("Cloud configuration changed, backend recreated", "backend", backend.Name())
	}
	m.engine = transfer.New(backend, transfer.Options{
		ChunkSize:     m.cfg.ChunkSize(),
		MaxConcurrent: m.cfg.MaxConcurrentChunks(),
		RetryAttempts: m.cfg.RetryAttempts(),
		Timeout:       m.cfg.Timeout(),
	}, m.logger)
	m.fingerprint = fp
	return m.engine, nil
}

func (m *Manager) basePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloud.BasePath()
}

// TestConnection checks the configured backend.
func (m *Manager) TestConnection(ctx context.Context) (bool, string) {
	engine, err := m.Engine(ctx)
	if err != nil {
		return false, err.Error()
	}
	return engine.Backend().TestConnection(ctx)
}

func (m *Manager) newID(t model.BackupType) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-backup-%d-%s", t, m.now().UnixMilli(), hex[:8])
}

func (m *Manager) publish(p progress.Progress) {
	m.hub.Publish(p)
}

// begin inserts the in-progress record for a new attempt.
func (m *Manager) begin(ctx context.Context, t model.BackupType, name string, strategy model.Strategy) (model.BackupRecord, error) {
	rec := model.BackupRecord{
		ID:           m.newID(t),
		Name:         name,
		Timestamp:    m.now().UTC(),
		Type:         t,
		Status:       model.StatusInProgress,
		Strategy:     strategy,
		Verification: model.VerificationPending,
	}
	if err := m.catalog.Insert(ctx, rec); err != nil {
		return model.BackupRecord{}, fmt.Errorf("record backup attempt: %w", err)
	}
	return rec, nil
}

// finish stores the terminal state of rec. A failed attempt keeps size 0 and
// the error message; cause is returned unchanged so callers can rethrow it.
func (m *Manager) finish(ctx context.Context, rec *model.BackupRecord, cause error) error {
	if cause != nil {
		rec.Status = model.StatusFailed
		rec.SizeBytes = 0
		rec.Error = cause.Error()
	} else {
		rec.Status = model.StatusSuccess
	}

	// the record must reach a terminal state even when the caller gave up
	cctx := context.WithoutCancel(ctx)
	if err := m.catalog.Complete(cctx, *rec); err != nil {
		m.logger.Error("Failed to record backup result", "id", rec.ID, "error", err)
		if cause == nil {
			return err
		}
	}
	m.prune(cctx)
	return cause
}

// prune enforces the catalogue cap and drops payloads of evicted records.
func (m *Manager) prune(ctx context.Context) {
	evicted, err := m.catalog.Prune(ctx, m.cfg.CatalogueLimit())
	if err != nil {
		m.logger.Warn("Failed to prune catalogue", "error", err)
		return
	}
	for _, rec := range evicted {
		if err := m.deletePayload(ctx, rec, false); err != nil {
			m.logger.Warn("Failed to delete payload of evicted record", "id", rec.ID, "error", err)
		}
	}
	if len(evicted) > 0 {
		m.logger.Info("Catalogue pruned", "evicted", len(evicted), "limit", m.cfg.CatalogueLimit())
	}
}

// deletePayload removes the stored envelope of rec. With strict set a missing
// payload is reported as not found.
func (m *Manager) deletePayload(ctx context.Context, rec model.BackupRecord, strict bool) error {
	if rec.Location == "" {
		return nil
	}
	switch rec.Type {
	case model.TypeLocal:
		err := m.store.DeleteBackup(rec.ID)
		if !strict && apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	case model.TypeCloud:
		engine, err := m.Engine(ctx)
		if err != nil {
			return err
		}
		if strict {
			return engine.Retry(ctx, "delete "+rec.Location, func(ctx context.Context) error {
				return engine.Backend().Delete(ctx, rec.Location)
			})
		}
		return engine.Retry(ctx, "delete "+rec.Location, func(ctx context.Context) error {
			return remote.DeleteIfExists(ctx, engine.Backend(), rec.Location)
		})
	}
	return nil
}
