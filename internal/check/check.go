// Package check verifies that a configuration can actually be used.
package check

import (
	"context"
	"fmt"
	"io"
	"os"

	"syncvault/internal/app"
	"syncvault/internal/keys"
)

func Run(ctx context.Context, a *app.App, w io.Writer) error {
	cfg := a.Config
	fmt.Fprintln(w, "config: OK")

	stateKeys, err := a.Store.Keys()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Fprintf(w, "store %s: OK (%d keys)\n", cfg.StorePath(), len(stateKeys))

	stats, err := a.Manager.Stats(ctx)
	if err != nil {
		return fmt.Errorf("catalogue: %w", err)
	}
	fmt.Fprintf(w, "catalogue %s: OK (%d records)\n", cfg.CataloguePath(), stats.Total)

	switch enc := cfg.Encryption; {
	case enc.AgePublicKey != "" && enc.AgeIdentityFile != "":
		if err := keys.Test(ctx, io.Discard, enc.AgePublicKey, enc.AgeIdentityFile); err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		fmt.Fprintln(w, "encryption key pair: OK")
	case enc.AgePublicKey != "":
		fmt.Fprintln(w, "encryption: public key only, cloud backups can be created but not restored here")
	default:
		fmt.Fprintln(w, "encryption: disabled, cloud backups are stored unsealed")
	}

	if dir := cfg.Sync.LocalDir; dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("sync.local_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("sync.local_dir %s is not a directory", dir)
		}
		fmt.Fprintf(w, "sync directory %s: OK\n", dir)
	}

	if cfg.Cloud.Backend == "" {
		fmt.Fprintln(w, "cloud: not configured, skipped")
	} else {
		ok, msg := a.Manager.TestConnection(ctx)
		if !ok {
			return fmt.Errorf("cloud backend %s: %s", cfg.Cloud.Backend, msg)
		}
		fmt.Fprintf(w, "cloud backend %s: OK\n", cfg.Cloud.Backend)
	}

	fmt.Fprintln(w, "all checks passed")
	return nil
}
