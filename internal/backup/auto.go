package backup

import (
	"context"
	"errors"
	"fmt"

	"syncvault/internal/model"
)

// RunAuto is the interval job: a hybrid backup when enabled, otherwise local
// and cloud backups per their flags, followed by retention cleanup.
func (m *Manager) RunAuto(ctx context.Context) error {
	var errs []error

	switch {
	case m.cfg.Backup.HybridBackup:
		if _, err := m.CreateHybridBackup(ctx, "auto"); err != nil {
			errs = append(errs, err)
		}
	default:
		if m.cfg.LocalAutoBackup() {
			if _, err := m.CreateLocalBackup(ctx, "auto", m.cfg.Strategy()); err != nil {
				errs = append(errs, err)
			}
		}
		if m.cfg.Backup.CloudAutoBackup {
			if _, err := m.CreateCloudBackup(ctx, "auto"); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if _, err := m.CleanupOldBackups(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}
	return errors.Join(errs...)
}

// RunPlan executes one backup plan.
func (m *Manager) RunPlan(ctx context.Context, plan model.BackupPlan) error {
	name := plan.Name
	if name == "" {
		name = plan.ID
	}
	m.logger.Info("Running backup plan", "plan", plan.ID, "type", plan.BackupType)

	var err error
	switch plan.BackupType {
	case model.TypeLocal:
		_, err = m.CreateLocalBackup(ctx, name, plan.Strategy)
	case model.TypeCloud:
		_, err = m.CreateCloudBackup(ctx, name)
	case model.TypeHybrid:
		_, err = m.CreateHybridBackup(ctx, name)
	default:
		err = fmt.Errorf("plan %s: unsupported backup type %q", plan.ID, plan.BackupType)
	}
	return err
}
