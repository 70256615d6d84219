package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"syncvault/internal/app"
	"syncvault/internal/schedule"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func runHealth(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		report, err := a.Manager.GenerateHealthReport(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(os.Stdout, report)
		}

		fmt.Printf("Overall: %s\n", report.Overall)
		for _, c := range report.Checks {
			last := "never"
			if c.LastBackup != nil {
				last = humanize.Time(*c.LastBackup)
			}
			fmt.Printf("  %-7s %-9s last backup %s\n", c.Type, c.Status, last)
		}
		for _, r := range report.Recommendations {
			fmt.Printf("- %s\n", r)
		}
		return nil
	})
}

func runStats(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		stats, err := a.Manager.Stats(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(os.Stdout, stats)
		}

		fmt.Printf("Backups:     %d (%d successful, %d failed, %d in progress)\n",
			stats.Total, stats.Successful, stats.Failed, stats.InProgress)
		fmt.Printf("Stored:      %s\n", humanize.IBytes(uint64(stats.TotalBytes)))
		for t, n := range stats.ByType {
			fmt.Printf("  %-7s    %d\n", t, n)
		}
		if stats.LastBackup != nil {
			fmt.Printf("Last backup: %s\n", humanize.Time(*stats.LastBackup))
		}
		return nil
	})
}

func runPlans(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		runs := schedule.UpcomingRuns(a.Config.Backup.Plans, time.Now())
		if len(runs) == 0 {
			fmt.Println("No backup plans configured")
			return nil
		}
		for _, u := range runs {
			next := "disabled"
			switch {
			case u.Err != nil:
				next = "error: " + u.Err.Error()
			case !u.Next.IsZero():
				next = u.Next.Format(time.DateTime) + " (" + humanize.Time(u.Next) + ")"
			}
			fmt.Printf("%-20s %-7s %-6s %-7s %s\n", u.Plan.ID, u.Plan.Schedule, u.Plan.Time, u.Plan.BackupType, next)
		}
		return nil
	})
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		return a.Serve(ctx)
	})
}
