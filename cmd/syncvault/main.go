package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "syncvault",
		Usage:   "Backup and synchronization engine for local application state",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "Generate an age key pair for sealing cloud backups",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "also write the private key to this file",
					},
				},
				Action: generateKey,
			},
			{
				Name:   "test-keys",
				Usage:  "Test if the configured public key matches a private key",
				Flags:  withFlags(),
				Action: testKeys,
			},
			{
				Name:   "check",
				Usage:  "Check config, store, catalogue, keys and cloud backend",
				Flags:  withFlags(),
				Action: runCheck,
			},
			{
				Name:  "backup",
				Usage: "Create a backup",
				Flags: withFlags(
					&cli.StringFlag{
						Name:  "type",
						Usage: "local, cloud or hybrid",
						Value: "local",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "optional label for the backup",
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "full, incremental or differential (local backups only)",
					},
				),
				Action: runBackup,
			},
			{
				Name:  "batch",
				Usage: "Create several named cloud backups",
				Flags: withFlags(
					&cli.StringSliceFlag{
						Name:     "name",
						Usage:    "backup name, repeat for each backup",
						Required: true,
					},
				),
				Action: runBatch,
			},
			{
				Name:  "restore",
				Usage: "Restore the state from a backup",
				Flags: withFlags(
					&cli.StringFlag{
						Name:     "id",
						Usage:    "backup id",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "key",
						Usage: "restore only this state key, repeat for more",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show what would be restored without actually restoring",
					},
				),
				Action: runRestore,
			},
			{
				Name:  "verify",
				Usage: "Verify the payload of a backup",
				Flags: withFlags(
					&cli.StringFlag{
						Name:     "id",
						Usage:    "backup id",
						Required: true,
					},
				),
				Action: runVerify,
			},
			{
				Name:  "list",
				Usage: "List available backups",
				Flags: withFlags(
					&cli.StringFlag{
						Name:  "source",
						Usage: "catalogue or cloud",
						Value: "catalogue",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "filter by type: local, cloud or hybrid",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "filter by status: success, failed or in_progress",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of backups, 0 for all",
					},
					jsonFlag(),
				),
				Action: runList,
			},
			{
				Name:  "delete",
				Usage: "Delete a backup and its payload",
				Flags: withFlags(
					&cli.StringFlag{
						Name:     "id",
						Usage:    "backup id",
						Required: true,
					},
				),
				Action: runDelete,
			},
			{
				Name:   "cleanup",
				Usage:  "Delete backups older than the retention period",
				Flags:  withFlags(),
				Action: runCleanup,
			},
			{
				Name:   "health",
				Usage:  "Report backup health",
				Flags:  withFlags(jsonFlag()),
				Action: runHealth,
			},
			{
				Name:   "stats",
				Usage:  "Show backup statistics",
				Flags:  withFlags(jsonFlag()),
				Action: runStats,
			},
			{
				Name:   "plans",
				Usage:  "Show the next run of each backup plan",
				Flags:  withFlags(),
				Action: runPlans,
			},
			{
				Name:  "sync",
				Usage: "Run one synchronization pass",
				Flags: withFlags(jsonFlag()),
				Commands: []*cli.Command{
					{
						Name:   "status",
						Usage:  "Show the outcome of the last pass",
						Flags:  withFlags(jsonFlag()),
						Action: runSyncStatus,
					},
				},
				Action: runSync,
			},
			{
				Name:  "versions",
				Usage: "List retained remote versions of a synced file",
				Flags: withFlags(
					&cli.StringFlag{
						Name:     "path",
						Usage:    "path relative to the sync root",
						Required: true,
					},
					jsonFlag(),
				),
				Action: runVersions,
			},
			{
				Name:  "restore-version",
				Usage: "Make a retained version the current content of a synced file",
				Flags: withFlags(
					&cli.StringFlag{
						Name:     "path",
						Usage:    "path relative to the sync root",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "version",
						Usage:    "version number as shown by versions",
						Required: true,
					},
				),
				Action: runRestoreVersion,
			},
			{
				Name:  "state",
				Usage: "Inspect and edit the local state store",
				Commands: []*cli.Command{
					{Name: "set", Usage: "Set a key", ArgsUsage: "<key> <value>", Flags: withFlags(), Action: runStateSet},
					{Name: "get", Usage: "Print a key", ArgsUsage: "<key>", Flags: withFlags(), Action: runStateGet},
					{Name: "keys", Usage: "List keys", Flags: withFlags(), Action: runStateKeys},
					{Name: "export", Usage: "Print the state snapshot as JSON", Flags: withFlags(), Action: runStateExport},
					{Name: "import", Usage: "Replace the state with a JSON snapshot", ArgsUsage: "[file]", Flags: withFlags(), Action: runStateImport},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run scheduled backups, periodic sync and the HTTP API",
				Flags:  withFlags(),
				Action: runServe,
			},
		},
	}
}

func main() {
	cmd := newCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nInterrupted by user")
			os.Exit(130)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
