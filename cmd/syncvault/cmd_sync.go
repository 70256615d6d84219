package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"syncvault/internal/app"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func runSync(ctx context.Context, cmd *cli.Command) error {
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		result, err := a.Sync.Run(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(os.Stdout, result)
		}

		c := result.Counts
		fmt.Printf("%d synced, %d uploaded, %d downloaded, %d conflicts (%d merged), %d failed\n",
			c.Synced, c.Uploaded, c.Downloaded, c.Conflicts, c.Merged, c.Failed)
		for p, msg := range result.Failures {
			fmt.Printf("  %s: %s\n", p, msg)
		}
		if len(result.Failures) > 0 {
			return fmt.Errorf("%d files failed to sync", len(result.Failures))
		}
		return nil
	})
}

func runSyncStatus(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		status, err := a.Sync.Status()
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(os.Stdout, status)
		}

		last := "never"
		if status.LastSync > 0 {
			last = humanize.Time(time.Unix(status.LastSync, 0))
		}
		fmt.Printf("Last sync:   %s\n", last)
		fmt.Printf("In progress: %t\n", status.InProgress)
		if status.Backend != "" {
			fmt.Printf("Remote:      %s %s\n", status.Backend, status.Root)
		}
		if status.LastError != "" {
			fmt.Printf("Last error:  %s\n", status.LastError)
		}
		return nil
	})
}

func runVersions(ctx context.Context, cmd *cli.Command) error {
	p := cmd.String("path")
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		versions, err := a.Sync.ListVersions(ctx, p)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(os.Stdout, versions)
		}
		if len(versions) == 0 {
			fmt.Printf("No versions of %s\n", p)
			return nil
		}
		for _, v := range versions {
			fmt.Printf("v%-4d %s  %s\n", v.Version, v.Timestamp.Local().Format(time.DateTime), humanize.IBytes(uint64(v.SizeBytes)))
		}
		return nil
	})
}

func runRestoreVersion(ctx context.Context, cmd *cli.Command) error {
	p := cmd.String("path")
	n := int(cmd.Int("version"))
	return withLock(ctx, cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Sync.RestoreVersion(ctx, p, n); err != nil {
			return err
		}
		fmt.Printf("Restored version %d of %s\n", n, p)
		return nil
	})
}
