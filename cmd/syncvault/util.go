package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"syncvault/internal/app"

	"github.com/urfave/cli/v3"
)

const defaultConfig = "syncvault.yaml"

// withFlags appends the shared config flags to a command's own flags.
func withFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to configuration yaml file",
			Value:   defaultConfig,
			Sources: cli.EnvVars("SYNCVAULT_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level from the config (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  "identity",
			Usage: "path to age private key file, overrides encryption.age_identity_file",
		},
	)
}

// withApp opens the app described by the command's flags, runs fn and closes
// it again.
func withApp(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(app.Options{
		ConfigPath:   cmd.String("config"),
		LogLevel:     cmd.String("log-level"),
		IdentityFile: cmd.String("identity"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withLock is withApp holding the process lock for the whole command.
func withLock(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, a *app.App) error) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		release, err := a.Lock(cmd.Name)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(); err != nil {
				a.Logger.Warn("Failed to release lock", "error", err)
			}
		}()
		return fn(ctx, a)
	})
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
