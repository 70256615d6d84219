package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"syncvault/internal/app"

	"github.com/urfave/cli/v3"
)

func runStateSet(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: state set <key> <value>")
	}
	return withApp(ctx, cmd, func(_ context.Context, a *app.App) error {
		return a.Store.Set(cmd.Args().Get(0), cmd.Args().Get(1))
	})
}

func runStateGet(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: state get <key>")
	}
	key := cmd.Args().First()
	return withApp(ctx, cmd, func(_ context.Context, a *app.App) error {
		v, ok, err := a.Store.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		fmt.Println(v)
		return nil
	})
}

func runStateKeys(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(_ context.Context, a *app.App) error {
		keys, err := a.Store.Keys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	})
}

func runStateExport(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(_ context.Context, a *app.App) error {
		data, err := a.Store.ExportSnapshot()
		if err != nil {
			return err
		}
		fmt.Println(data)
		return nil
	})
}

// runStateImport replaces the whole state with the snapshot read from the
// file argument, or from stdin when the argument is "-" or missing.
func runStateImport(ctx context.Context, cmd *cli.Command) error {
	var r io.Reader = os.Stdin
	if name := cmd.Args().First(); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return withLock(ctx, cmd, func(_ context.Context, a *app.App) error {
		if !a.Store.ImportSnapshot(string(data)) {
			return fmt.Errorf("snapshot could not be imported, state left unchanged")
		}
		fmt.Println("Snapshot imported")
		return nil
	})
}
