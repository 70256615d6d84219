package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"syncvault/internal/crypto"
	"syncvault/internal/envelope"
	"syncvault/internal/model"
	"syncvault/internal/progress"
	"syncvault/internal/util"

	"github.com/google/uuid"
)

const localLockKey = "local"

// CreateLocalBackup writes the current snapshot into the local store. With the
// incremental or differential strategy the record is chained to the newest
// successful full local backup; without one it falls back to a full backup.
func (m *Manager) CreateLocalBackup(ctx context.Context, name string, strategy model.Strategy) (model.BackupRecord, error) {
	if strategy == "" {
		strategy = m.cfg.Strategy()
	}

	var baseID string
	if strategy != model.StrategyFull {
		base, ok, err := m.catalog.LatestSuccessful(ctx, model.TypeLocal, model.StrategyFull)
		if err != nil {
			return model.BackupRecord{}, err
		}
		if ok {
			baseID = base.ID
		} else {
			m.logger.Info("No full local backup to chain from, creating a full backup", "requested", strategy)
			strategy = model.StrategyFull
		}
	}

	rec, err := m.begin(ctx, model.TypeLocal, name, strategy)
	if err != nil {
		return rec, err
	}
	rec.BaseBackupID = baseID

	unlock := m.locks.Lock(localLockKey)
	defer unlock()

	m.logger.Info("Local backup started", "id", rec.ID, "strategy", strategy, "base", baseID)
	err = m.writeLocal(ctx, &rec)
	if err := m.finish(ctx, &rec, err); err != nil {
		m.logger.Error("Local backup failed", "id", rec.ID, "error", err)
		return rec, err
	}
	m.logger.Info("Local backup completed", "id", rec.ID, "bytes", rec.SizeBytes)
	return rec, nil
}

func (m *Manager) writeLocal(ctx context.Context, rec *model.BackupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := m.envelope(rec)
	if err != nil {
		return err
	}
	if err := m.store.PutBackup(rec.ID, raw); err != nil {
		return fmt.Errorf("store local backup: %w", err)
	}
	rec.SizeBytes = int64(len(raw))
	rec.Location = "backup_" + rec.ID
	rec.Checksum = crypto.Hash(raw)
	return nil
}

func (m *Manager) envelope(rec *model.BackupRecord) ([]byte, error) {
	data, err := m.store.ExportSnapshot()
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	raw, err := envelope.New(data, rec.Timestamp).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// CreateCloudBackup uploads the current snapshot to the configured backend.
// Missing backend configuration fails the attempt with a config error.
func (m *Manager) CreateCloudBackup(ctx context.Context, name string) (model.BackupRecord, error) {
	rec, err := m.begin(ctx, model.TypeCloud, name, model.StrategyFull)
	if err != nil {
		return rec, err
	}

	m.logger.Info("Cloud backup started", "id", rec.ID)
	err = m.writeCloud(ctx, &rec)
	if err := m.finish(ctx, &rec, err); err != nil {
		m.logger.Error("Cloud backup failed", "id", rec.ID, "error", err)
		return rec, err
	}
	m.logger.Info("Cloud backup completed", "id", rec.ID, "backend", rec.Backend, "path", rec.Location, "bytes", rec.SizeBytes)
	return rec, nil
}

func (m *Manager) writeCloud(ctx context.Context, rec *model.BackupRecord) error {
	engine, err := m.Engine(ctx)
	if err != nil {
		return err
	}
	raw, err := m.envelope(rec)
	if err != nil {
		return err
	}
	payload, err := envelope.Seal(raw, m.recipient)
	if err != nil {
		return fmt.Errorf("encrypt envelope: %w", err)
	}

	target := util.BackupObjectPath(m.basePath(), rec.ID, rec.Timestamp)
	rec.Backend = engine.Backend().Name()

	unlock := m.locks.Lock(rec.Backend + ":" + target)
	defer unlock()

	if err := engine.Upload(ctx, target, payload, m.publish); err != nil {
		return err
	}
	rec.SizeBytes = int64(len(payload))
	rec.Location = target
	rec.Checksum = crypto.Hash(payload)
	return nil
}

// CreateHybridBackup runs a local and then a cloud backup. Both legs are always
// recorded; the wrapper is partial when exactly one leg succeeded. An error is
// returned only when both legs failed.
func (m *Manager) CreateHybridBackup(ctx context.Context, name string) (model.HybridBackupRecord, error) {
	h := model.HybridBackupRecord{
		CorrelationID: uuid.NewString(),
		Timestamp:     m.now().UTC(),
	}
	m.logger.Info("Hybrid backup started", "correlationId", h.CorrelationID)

	local, localErr := m.CreateLocalBackup(ctx, name, model.StrategyFull)
	cloud, cloudErr := m.CreateCloudBackup(ctx, name)

	h.LocalBackup = local
	h.CloudBackup = cloud
	h.Status = model.HybridStatus(local.Status, cloud.Status)

	if local.ID != "" && cloud.ID != "" {
		if err := m.catalog.InsertHybrid(context.WithoutCancel(ctx), h); err != nil {
			return h, fmt.Errorf("record hybrid backup: %w", err)
		}
	}

	m.logger.Info("Hybrid backup finished", "correlationId", h.CorrelationID, "status", h.Status,
		"local", local.Status, "cloud", cloud.Status)
	if h.Status == model.StatusFailed {
		return h, errors.Join(localErr, cloudErr)
	}
	return h, nil
}

type BatchResult struct {
	Success int                  `json:"success"`
	Failed  []string             `json:"failed"`
	Records []model.BackupRecord `json:"records"`
}

// BatchCreateCloudBackups creates one cloud backup per name with a bounded
// worker pool. A failing item never stops the others.
func (m *Manager) BatchCreateCloudBackups(ctx context.Context, names []string) BatchResult {
	numWorkers := min(m.cfg.BatchSize(), max(len(names), 1))

	var result BatchResult
	var mu sync.Mutex
	var wg sync.WaitGroup

	taskChan := make(chan string, len(names))

	for range numWorkers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for name := range taskChan {
				rec, err := m.CreateCloudBackup(ctx, name)

				mu.Lock()
				if rec.ID != "" {
					result.Records = append(result.Records, rec)
				}
				if err != nil {
					id := rec.ID
					if id == "" {
						id = name
					}
					result.Failed = append(result.Failed, id)
				} else {
					result.Success++
				}
				done := result.Success + len(result.Failed)
				mu.Unlock()

				m.publish(progress.New(progress.StatusUploading, name, done, len(names)))
			}
		}()
	}

	for _, name := range names {
		taskChan <- name
	}

	close(taskChan)

	wg.Wait()

	status := progress.StatusCompleted
	if len(result.Failed) > 0 {
		status = progress.StatusError
	}
	m.publish(progress.New(status, "batch", len(names), len(names)))
	m.logger.Info("Batch cloud backup finished", "success", result.Success, "failed", len(result.Failed))
	return result
}
