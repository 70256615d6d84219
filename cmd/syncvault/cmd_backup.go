package main

import (
	"context"
	"fmt"
	"os"

	"syncvault/internal/app"
	"syncvault/internal/list"
	"syncvault/internal/model"
	"syncvault/internal/restore"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func runBackup(ctx context.Context, cmd *cli.Command) error {
	t := model.BackupType(cmd.String("type"))
	name := cmd.String("name")
	strategy := model.Strategy(cmd.String("strategy"))

	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		if strategy == "" {
			strategy = a.Config.Strategy()
		}
		if !model.ValidStrategy(strategy) {
			return fmt.Errorf("unknown strategy %q", strategy)
		}

		switch t {
		case model.TypeLocal:
			rec, err := a.Manager.CreateLocalBackup(ctx, name, strategy)
			if err != nil {
				return err
			}
			printRecord(rec)
		case model.TypeCloud:
			rec, err := a.Manager.CreateCloudBackup(ctx, name)
			if err != nil {
				return err
			}
			printRecord(rec)
		case model.TypeHybrid:
			h, err := a.Manager.CreateHybridBackup(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("Hybrid backup %s: %s\n", h.CorrelationID, h.Status)
			printRecord(h.LocalBackup)
			printRecord(h.CloudBackup)
		default:
			return fmt.Errorf("unknown backup type %q, expected local, cloud or hybrid", t)
		}
		return nil
	})
}

func printRecord(rec model.BackupRecord) {
	fmt.Printf("%s backup %s: %s (%s)\n", rec.Type, rec.ID, rec.Status, humanize.IBytes(uint64(rec.SizeBytes)))
	if rec.Location != "" {
		fmt.Printf("  location: %s\n", rec.Location)
	}
	if rec.Error != "" {
		fmt.Printf("  error:    %s\n", rec.Error)
	}
}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	names := cmd.StringSlice("name")
	if len(names) == 0 {
		return fmt.Errorf("at least one --name is required")
	}
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		result := a.Manager.BatchCreateCloudBackups(ctx, names)
		fmt.Printf("%d of %d cloud backups created\n", result.Success, len(names))
		for _, name := range result.Failed {
			fmt.Printf("  failed: %s\n", name)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d cloud backups failed", len(result.Failed))
		}
		return nil
	})
}

func runRestore(ctx context.Context, cmd *cli.Command) error {
	opts := restore.Options{
		ID:     cmd.String("id"),
		Keys:   cmd.StringSlice("key"),
		DryRun: cmd.Bool("dry-run"),
	}
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		return restore.Run(ctx, a.Manager, opts, os.Stdout)
	})
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		rec, err := a.Manager.GetBackup(ctx, id)
		if err != nil {
			return err
		}
		v, err := a.Manager.VerifyBackupIntegrity(ctx, id, rec.Type)
		if err != nil {
			return err
		}
		fmt.Printf("%s backup %s: %s\n", rec.Type, id, v)
		if v != model.VerificationVerified {
			return fmt.Errorf("backup %s failed verification", id)
		}
		return nil
	})
}

func runList(ctx context.Context, cmd *cli.Command) error {
	opts := list.Options{
		Source: cmd.String("source"),
		Type:   model.BackupType(cmd.String("type")),
		Status: model.Status(cmd.String("status")),
		Limit:  int(cmd.Int("limit")),
		JSON:   cmd.Bool("json"),
	}
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		return list.Run(ctx, a.Manager, opts, os.Stdout)
	})
}

func runDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Manager.DeleteBackup(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Backup %s deleted\n", id)
		return nil
	})
}

func runCleanup(ctx context.Context, cmd *cli.Command) error {
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		result, err := a.Manager.CleanupOldBackups(ctx)
		fmt.Printf("Removed %d backups older than %d days\n", len(result.Removed), a.Config.RetentionDays())
		for _, id := range result.Kept {
			fmt.Printf("  kept (payload not deleted): %s\n", id)
		}
		for _, id := range result.Spared {
			fmt.Printf("  kept (base of a newer backup): %s\n", id)
		}
		return err
	})
}
