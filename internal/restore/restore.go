// Package restore brings the state store back to the content of a backup.
package restore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"syncvault/internal/backup"
	"syncvault/internal/model"

	"github.com/dustin/go-humanize"
)

type Options struct {
	ID string
	// Keys restores only these state keys when set.
	Keys   []string
	DryRun bool
}

func Run(ctx context.Context, m *backup.Manager, opts Options, w io.Writer) error {
	rec, err := m.GetBackup(ctx, opts.ID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusSuccess {
		return fmt.Errorf("backup %s has status %s and cannot be restored", rec.ID, rec.Status)
	}

	if opts.DryRun {
		fmt.Fprintf(w, "\n=== DRY RUN MODE ===\n")
		fmt.Fprintf(w, "Would restore backup:\n")
		fmt.Fprintf(w, "  ID:           %s\n", rec.ID)
		if rec.Name != "" {
			fmt.Fprintf(w, "  Name:         %s\n", rec.Name)
		}
		fmt.Fprintf(w, "  Type:         %s\n", rec.Type)
		fmt.Fprintf(w, "  Strategy:     %s\n", rec.Strategy)
		if rec.BaseBackupID != "" {
			fmt.Fprintf(w, "  Base backup:  %s\n", rec.BaseBackupID)
		}
		fmt.Fprintf(w, "  Created:      %s (%s)\n", rec.Timestamp.Local().Format(time.DateTime), humanize.Time(rec.Timestamp))
		fmt.Fprintf(w, "  Size:         %s\n", humanize.IBytes(uint64(rec.SizeBytes)))
		if rec.Location != "" {
			fmt.Fprintf(w, "  Location:     %s\n", rec.Location)
		}
		if len(opts.Keys) > 0 {
			fmt.Fprintf(w, "  Keys:         %s\n", strings.Join(opts.Keys, ", "))
		} else {
			fmt.Fprintf(w, "  Keys:         all (current state is replaced)\n")
		}
		fmt.Fprintf(w, "\nNo changes made.\n")
		return nil
	}

	restoreOpts := backup.RestoreOptions{Keys: opts.Keys}
	switch rec.Type {
	case model.TypeLocal:
		err = m.RestoreFromLocalBackup(ctx, rec.ID, restoreOpts)
	case model.TypeCloud:
		err = m.RestoreFromCloudBackup(ctx, rec.ID, restoreOpts)
	default:
		err = fmt.Errorf("backup %s has unsupported type %s", rec.ID, rec.Type)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Restored %s backup %s\n", rec.Type, rec.ID)
	return nil
}
