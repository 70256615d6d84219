package list

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"syncvault/internal/backup"
	"syncvault/internal/catalog"
	"syncvault/internal/config"
	"syncvault/internal/model"
	"syncvault/internal/remote"
	"syncvault/internal/remote/remotetest"
	"syncvault/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *backup.Manager {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"), "hunter2", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Set("settings", `{"theme":"dark"}`))

	cat, err := catalog.Open(filepath.Join(dir, "catalogue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	backend := remotetest.New()
	cfg := &config.Config{
		BaseDir: dir,
		Cloud:   config.Cloud{Backend: config.BackendWebDAV, WebDAV: config.WebDAVConfig{URL: "https://dav.example.com"}},
	}
	return backup.New(cfg, backup.Options{
		Store:   st,
		Catalog: cat,
		NewBackend: func(context.Context, config.Cloud) (remote.Backend, error) {
			return backend, nil
		},
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.CreateLocalBackup(ctx, "first", model.StrategyFull)
	require.NoError(t, err)
	_, err = m.CreateCloudBackup(ctx, "offsite")
	require.NoError(t, err)

	t.Run("catalogue json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, Run(ctx, m, Options{JSON: true}, &out))

		var got Output
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, SourceCatalogue, got.Source)
		assert.Equal(t, 2, got.Summary.TotalBackups)
		assert.Equal(t, 2, got.Summary.SuccessfulBackups)
		assert.Positive(t, got.Summary.TotalSizeBytes)
	})

	t.Run("filter by type", func(t *testing.T) {
		got, err := Collect(ctx, m, Options{Type: model.TypeLocal})
		require.NoError(t, err)
		require.Len(t, got.Backups, 1)
		assert.Equal(t, "first", got.Backups[0].Name)
		assert.Equal(t, "full", got.Backups[0].Strategy)
	})

	t.Run("cloud", func(t *testing.T) {
		got, err := Collect(ctx, m, Options{Source: SourceCloud})
		require.NoError(t, err)
		require.Len(t, got.Backups, 1)
		assert.Contains(t, got.Backups[0].Location, "/backup_")
		assert.Equal(t, 1, got.Summary.SuccessfulBackups)
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, Run(ctx, m, Options{}, &out))
		assert.Contains(t, out.String(), `"first"`)
		assert.Contains(t, out.String(), "2 backups, 2 successful, 0 failed")
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := Collect(ctx, m, Options{Source: "tape"})
		assert.ErrorContains(t, err, "unknown source")
	})
}

func TestPrintEmpty(t *testing.T) {
	var out bytes.Buffer
	Print(&out, Output{Source: SourceCloud})
	assert.Equal(t, "No backups found in cloud\n", out.String())
}
