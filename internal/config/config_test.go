package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"syncvault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{BaseDir: "/var/lib/syncvault"}

	assert.True(t, cfg.LocalAutoBackup())
	assert.Equal(t, 60*time.Minute, cfg.BackupInterval())
	assert.Equal(t, 7, cfg.RetentionDays())
	assert.Equal(t, model.StrategyFull, cfg.Strategy())
	assert.Equal(t, 5*1024*1024, cfg.ChunkSize())
	assert.Equal(t, 3, cfg.MaxConcurrentChunks())
	assert.Equal(t, 3, cfg.RetryAttempts())
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, ConflictLocalWins, cfg.ConflictResolution())
	assert.True(t, cfg.EnableVersioning())
	assert.Equal(t, 5, cfg.MaxVersions())
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 100, cfg.CatalogueLimit())
	assert.Equal(t, 5, cfg.BatchSize())
	assert.Equal(t, "/var/lib/syncvault/state.db", cfg.StorePath())
	assert.Equal(t, "/var/lib/syncvault/catalogue.db", cfg.CataloguePath())
	assert.Equal(t, "info", cfg.Level())
}

func TestRetryAttempts(t *testing.T) {
	zero, five := 0, 5
	tests := []struct {
		name   string
		config *Config
		want   int
	}{
		{
			name:   "custom retry attempts",
			config: &Config{Transfer: TransferConfig{RetryAttempts: &five}},
			want:   5,
		},
		{
			name:   "retries disabled",
			config: &Config{Transfer: TransferConfig{RetryAttempts: &zero}},
			want:   0,
		},
		{
			name:   "default retry attempts",
			config: &Config{},
			want:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.RetryAttempts())
		})
	}
}

func TestS3RetryAttempts(t *testing.T) {
	c := &Cloud{}
	assert.Equal(t, 3, c.S3RetryAttempts())
	c.S3.Retry.MaxAttempts = 6
	assert.Equal(t, 6, c.S3RetryAttempts())
}

func TestValidate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			BaseDir: "/tmp/syncvault",
			Backup: BackupConfig{
				Plans: []model.BackupPlan{
					{ID: "p1", Name: "morning", Enabled: true, Schedule: model.ScheduleDaily, Time: "09:30", BackupType: model.TypeLocal},
				},
			},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("empty base_dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.BaseDir = ""
		assert.ErrorContains(t, cfg.Validate(), "base_dir is required")
	})

	t.Run("unknown log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.LogLevel = "verbose"
		assert.ErrorContains(t, cfg.Validate(), "log_level")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.BackupStrategy = "mirror"
		assert.ErrorContains(t, cfg.Validate(), "backup_strategy")
	})

	t.Run("plan without id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.Plans[0].ID = ""
		assert.ErrorContains(t, cfg.Validate(), "backup_plans[0].id is required")
	})

	t.Run("plan with bad time", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.Plans[0].Time = "25:00"
		assert.ErrorContains(t, cfg.Validate(), "backup_plans[0].time must be HH:MM")
	})

	t.Run("plan with bad schedule", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.Plans[0].Schedule = "hourly"
		assert.ErrorContains(t, cfg.Validate(), "backup_plans[0].schedule")
	})

	t.Run("plan with bad type", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.Plans[0].BackupType = "tape"
		assert.ErrorContains(t, cfg.Validate(), "backup_plans[0].backup_type")
	})

	t.Run("smart schedule without window", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backup.SmartSchedule.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "smart_schedule")
	})

	t.Run("unknown conflict resolution", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sync.ConflictResolution = "newest"
		assert.ErrorContains(t, cfg.Validate(), "conflict_resolution")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cloud.Backend = "ftp"
		assert.ErrorContains(t, cfg.Validate(), "cloud.backend")
	})

	t.Run("missing credentials are not a load error", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cloud.Backend = BackendWebDAV
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncvault.yaml")
	yml := `
base_dir: /srv/syncvault
backup:
  local_auto_backup: false
  hybrid_backup: true
  backup_interval_minutes: 30
  backup_plans:
    - id: nightly
      name: Nightly
      enabled: true
      schedule: daily
      time: "02:00"
      backup_type: hybrid
transfer:
  chunk_size_bytes: 1024
  retry_attempts: 0
sync:
  enable_versioning: false
cloud:
  backend: webdav
  webdav:
    url: https://dav.example.com/remote.php/dav
    username: alice
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("SYNCVAULT_WEBDAV_PASSWORD", "s3cret")
	t.Setenv("SYNCVAULT_PASSPHRASE", "correct horse")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.LocalAutoBackup())
	assert.True(t, cfg.Backup.HybridBackup)
	assert.Equal(t, 30*time.Minute, cfg.BackupInterval())
	assert.Equal(t, 1024, cfg.ChunkSize())
	assert.Equal(t, 0, cfg.RetryAttempts())
	assert.False(t, cfg.EnableVersioning())
	assert.Equal(t, "s3cret", cfg.Cloud.WebDAV.Password)
	assert.Equal(t, "correct horse", cfg.Store.Passphrase)
	require.Len(t, cfg.Backup.Plans, 1)
	assert.Equal(t, model.TypeHybrid, cfg.Backup.Plans[0].BackupType)
}

func TestFingerprint(t *testing.T) {
	a := Cloud{Backend: BackendWebDAV, WebDAV: WebDAVConfig{URL: "https://dav.example.com", Username: "alice"}}
	b := a
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.WebDAV.Password = "changed"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestBasePath(t *testing.T) {
	tests := []struct {
		name  string
		cloud Cloud
		want  string
	}{
		{name: "webdav default", cloud: Cloud{Backend: BackendWebDAV}, want: "/syncvault"},
		{name: "webdav custom", cloud: Cloud{Backend: BackendWebDAV, WebDAV: WebDAVConfig{BasePath: "backups/life/"}}, want: "/backups/life"},
		{name: "clouddrive default", cloud: Cloud{Backend: BackendCloudDrive}, want: "/apps/syncvault"},
		{name: "s3 uses prefix", cloud: Cloud{Backend: BackendS3, S3: S3Config{Prefix: "x"}}, want: "/"},
		{name: "dropbox custom", cloud: Cloud{Backend: BackendDropbox, Dropbox: DropboxConfig{BasePath: "/Apps/sv"}}, want: "/Apps/sv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cloud.BasePath())
		})
	}
}
