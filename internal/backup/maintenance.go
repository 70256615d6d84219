package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/catalog"
	"syncvault/internal/model"
	"syncvault/internal/remote"
)

var catalogAll = catalog.Filter{}

func (m *Manager) ListBackups(ctx context.Context, f catalog.Filter) ([]model.BackupRecord, error) {
	return m.catalog.List(ctx, f)
}

func (m *Manager) ListHybridBackups(ctx context.Context, limit int) ([]model.HybridBackupRecord, error) {
	return m.catalog.ListHybrid(ctx, limit)
}

func (m *Manager) GetBackup(ctx context.Context, id string) (model.BackupRecord, error) {
	return m.catalog.Get(ctx, id)
}

// DeleteBackup removes backup id and its payload. An unknown id is a not-found
// error. A payload that is already gone is reported as not found too, but the
// record is still removed.
func (m *Manager) DeleteBackup(ctx context.Context, id string) error {
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return err
	}

	payloadErr := m.deletePayload(ctx, rec, true)
	if payloadErr != nil && !apperr.Is(payloadErr, apperr.KindNotFound) {
		return fmt.Errorf("delete payload of %s: %w", id, payloadErr)
	}

	if err := m.catalog.Delete(ctx, id); err != nil {
		return err
	}
	if payloadErr != nil {
		m.logger.Warn("Backup record deleted, payload was already gone", "id", id)
		return fmt.Errorf("delete payload of %s: %w", id, payloadErr)
	}
	m.logger.Info("Backup deleted", "id", id, "type", rec.Type)
	return nil
}

// CleanupResult lists what a retention run did. Kept records failed to
// delete; Spared records expired but a retained backup builds on them.
type CleanupResult struct {
	Removed []string `json:"removed"`
	Kept    []string `json:"kept"`
	Spared  []string `json:"spared"`
}

// CleanupOldBackups removes records older than the retention period together
// with their payloads. Payloads that no longer exist are ignored; a record
// whose payload could not be deleted is kept for the next run. An expired
// full backup that a retained incremental or differential backup builds on
// is kept as well.
func (m *Manager) CleanupOldBackups(ctx context.Context) (CleanupResult, error) {
	cutoff := m.now().Add(-time.Duration(m.cfg.RetentionDays()) * 24 * time.Hour)
	old, spared, err := m.catalog.Expired(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, err
	}

	var result CleanupResult
	for _, rec := range spared {
		m.logger.Debug("Keeping expired backup, a retained backup builds on it", "id", rec.ID)
		result.Spared = append(result.Spared, rec.ID)
	}

	var errs []error
	for _, rec := range old {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.deletePayload(ctx, rec, false); err != nil {
			m.logger.Warn("Failed to delete expired backup payload", "id", rec.ID, "error", err)
			result.Kept = append(result.Kept, rec.ID)
			errs = append(errs, fmt.Errorf("%s: %w", rec.ID, err))
			continue
		}
		if err := m.catalog.Delete(ctx, rec.ID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			result.Kept = append(result.Kept, rec.ID)
			errs = append(errs, fmt.Errorf("%s: %w", rec.ID, err))
			continue
		}
		result.Removed = append(result.Removed, rec.ID)
	}

	m.logger.Info("Retention cleanup finished", "cutoff", cutoff.Format(time.RFC3339), "removed", len(result.Removed), "kept", len(result.Kept), "spared", len(result.Spared))
	return result, errors.Join(errs...)
}

// ListCloudBackups lists backup objects found on the backend, newest first.
// Objects outside backup_* directories, such as sync versions, are skipped.
func (m *Manager) ListCloudBackups(ctx context.Context) ([]remote.ObjectInfo, error) {
	engine, err := m.Engine(ctx)
	if err != nil {
		return nil, err
	}

	var files []remote.ObjectInfo
	err = engine.Retry(ctx, "list cloud backups", func(ctx context.Context) error {
		var err error
		files, err = remote.Walk(ctx, engine.Backend(), m.basePath(), "versions")
		return err
	})
	if err != nil {
		return nil, err
	}

	var backups []remote.ObjectInfo
	for _, f := range files {
		if strings.HasPrefix(path.Base(path.Dir(f.Path)), "backup_") && path.Ext(f.Name) == ".json" {
			backups = append(backups, f)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Path > backups[j].Path
	})
	return backups, nil
}
