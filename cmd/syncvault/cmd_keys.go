package main

import (
	"context"
	"fmt"
	"os"

	"syncvault/internal/app"
	"syncvault/internal/check"
	"syncvault/internal/config"
	"syncvault/internal/keys"

	"github.com/urfave/cli/v3"
)

func generateKey(ctx context.Context, cmd *cli.Command) error {
	identity, err := keys.Generate(ctx, os.Stdout)
	if err != nil {
		return err
	}
	out := cmd.String("output")
	if out == "" {
		return nil
	}
	if err := os.WriteFile(out, []byte(identity.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	fmt.Printf("Private key written to %s\n", out)
	return nil
}

func testKeys(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	identity := cmd.String("identity")
	if identity == "" {
		identity = cfg.Encryption.AgeIdentityFile
	}
	if identity == "" {
		return fmt.Errorf("no private key given, use --identity or encryption.age_identity_file")
	}
	return keys.Test(ctx, os.Stdout, cfg.Encryption.AgePublicKey, identity)
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
		return check.Run(ctx, a, os.Stdout)
	})
}
