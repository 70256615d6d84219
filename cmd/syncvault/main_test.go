package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"syncvault/internal/app"
	"syncvault/internal/catalog"
	"syncvault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "base_dir: " + filepath.Join(dir, "data") + "\nlog_level: error\nstore:\n  passphrase: hunter2\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return newCommand().Run(context.Background(), append([]string{"syncvault"}, args...))
}

func inspect(t *testing.T, configPath string, fn func(a *app.App)) {
	t.Helper()
	a, err := app.Open(app.Options{ConfigPath: configPath})
	require.NoError(t, err)
	defer a.Close()
	fn(a)
}

func TestBackupAndRestoreCommands(t *testing.T) {
	cfg := writeConfig(t)

	require.NoError(t, run(t, "state", "set", "--config", cfg, "theme", "dark"))
	require.NoError(t, run(t, "backup", "--config", cfg, "--name", "nightly"))
	require.NoError(t, run(t, "state", "set", "--config", cfg, "theme", "light"))

	var id string
	inspect(t, cfg, func(a *app.App) {
		records, err := a.Manager.ListBackups(context.Background(), catalog.Filter{Type: model.TypeLocal})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "nightly", records[0].Name)
		id = records[0].ID
	})

	require.NoError(t, run(t, "verify", "--config", cfg, "--id", id))
	require.NoError(t, run(t, "restore", "--config", cfg, "--id", id, "--dry-run"))
	inspect(t, cfg, func(a *app.App) {
		v, _, err := a.Store.Get("theme")
		require.NoError(t, err)
		assert.Equal(t, "light", v)
	})

	require.NoError(t, run(t, "restore", "--config", cfg, "--id", id))
	inspect(t, cfg, func(a *app.App) {
		v, _, err := a.Store.Get("theme")
		require.NoError(t, err)
		assert.Equal(t, "dark", v)
	})

	require.NoError(t, run(t, "list", "--config", cfg, "--json"))
	require.NoError(t, run(t, "delete", "--config", cfg, "--id", id))
	assert.Error(t, run(t, "delete", "--config", cfg, "--id", id))
}

func TestCommandErrors(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown backup type", []string{"backup", "--config", cfg, "--type", "tape"}},
		{"cloud without backend", []string{"backup", "--config", cfg, "--type", "cloud"}},
		{"missing key", []string{"state", "get", "--config", cfg, "absent"}},
		{"set needs two args", []string{"state", "set", "--config", cfg, "only-key"}},
		{"missing config", []string{"check", "--config", filepath.Join(t.TempDir(), "absent.yaml")}},
		{"test-keys without identity", []string{"test-keys", "--config", cfg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(t, tt.args...))
		})
	}
}

func TestStateImportExport(t *testing.T) {
	cfg := writeConfig(t)
	snapshot := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(snapshot, []byte(`{"a":"1","b":"2"}`), 0o600))

	require.NoError(t, run(t, "state", "set", "--config", cfg, "old", "x"))
	require.NoError(t, run(t, "state", "import", "--config", cfg, snapshot))

	inspect(t, cfg, func(a *app.App) {
		keys, err := a.Store.Keys()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)
	})

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2]`), 0o600))
	assert.Error(t, run(t, "state", "import", "--config", cfg, bad))
}
