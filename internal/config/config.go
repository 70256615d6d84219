package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"syncvault/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	BackendWebDAV     = "webdav"
	BackendCloudDrive = "clouddrive"
	BackendS3         = "s3"
	BackendDropbox    = "dropbox"
)

const (
	ConflictLocalWins  = "local_wins"
	ConflictRemoteWins = "remote_wins"
	ConflictManual     = "manual"
	ConflictMerge      = "merge"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type Config struct {
	BaseDir    string           `yaml:"base_dir"`
	LogLevel   string           `yaml:"log_level,omitempty"`
	Store      StoreConfig      `yaml:"store"`
	Catalogue  CatalogueConfig  `yaml:"catalogue"`
	Backup     BackupConfig     `yaml:"backup"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Sync       SyncConfig       `yaml:"sync"`
	Cloud      Cloud            `yaml:"cloud"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Server     ServerConfig     `yaml:"server"`
}

type StoreConfig struct {
	Path       string `yaml:"path,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

type CatalogueConfig struct {
	Path  string `yaml:"path,omitempty"`
	Limit int    `yaml:"limit,omitempty"`
}

type BackupConfig struct {
	LocalAutoBackup       *bool              `yaml:"local_auto_backup,omitempty"`
	CloudAutoBackup       bool               `yaml:"cloud_auto_backup"`
	HybridBackup          bool               `yaml:"hybrid_backup"`
	BackupIntervalMinutes int                `yaml:"backup_interval_minutes,omitempty"`
	RetentionDays         int                `yaml:"retention_days,omitempty"`
	BackupStrategy        model.Strategy     `yaml:"backup_strategy,omitempty"`
	BatchSize             int                `yaml:"batch_size,omitempty"`
	Plans                 []model.BackupPlan `yaml:"backup_plans,omitempty"`
	SmartSchedule         SmartSchedule      `yaml:"smart_schedule"`
}

type SmartSchedule struct {
	Enabled         bool   `yaml:"enabled"`
	WindowStart     string `yaml:"window_start,omitempty"`
	WindowEnd       string `yaml:"window_end,omitempty"`
	RequireWiFi     bool   `yaml:"require_wifi"`
	RequireCharging bool   `yaml:"require_charging"`
}

type TransferConfig struct {
	ChunkSizeBytes      int  `yaml:"chunk_size_bytes,omitempty"`
	MaxConcurrentChunks int  `yaml:"max_concurrent_chunks,omitempty"`
	RetryAttempts       *int `yaml:"retry_attempts,omitempty"`
	TimeoutMs           int  `yaml:"timeout_ms,omitempty"`
}

type SyncConfig struct {
	Enabled            bool   `yaml:"enabled"`
	IntervalMinutes    int    `yaml:"interval_minutes,omitempty"`
	RemoteRoot         string `yaml:"remote_root,omitempty"`
	LocalDir           string `yaml:"local_dir,omitempty"`
	ConflictResolution string `yaml:"conflict_resolution,omitempty"`
	EnableVersioning   *bool  `yaml:"enable_versioning,omitempty"`
	MaxVersions        int    `yaml:"max_versions,omitempty"`
}

type EncryptionConfig struct {
	AgePublicKey    string `yaml:"age_public_key,omitempty"`
	AgeIdentityFile string `yaml:"age_identity_file,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Cloud selects and configures the remote backend used for cloud backups and sync.
type Cloud struct {
	Backend    string           `yaml:"backend,omitempty"`
	WebDAV     WebDAVConfig     `yaml:"webdav"`
	CloudDrive CloudDriveConfig `yaml:"clouddrive"`
	S3         S3Config         `yaml:"s3"`
	Dropbox    DropboxConfig    `yaml:"dropbox"`
}

type WebDAVConfig struct {
	URL      string `yaml:"url,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	BasePath string `yaml:"base_path,omitempty"`
}

type CloudDriveConfig struct {
	APIURL       string `yaml:"api_url,omitempty"`
	UploadURL    string `yaml:"upload_url,omitempty"`
	AccessToken  string `yaml:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	TokenFile    string `yaml:"token_file,omitempty"`
	BasePath     string `yaml:"base_path,omitempty"`
}

type S3Config struct {
	Bucket       string             `yaml:"bucket,omitempty"`
	Prefix       string             `yaml:"prefix,omitempty"`
	Region       string             `yaml:"region,omitempty"`
	Endpoint     string             `yaml:"endpoint,omitempty"`
	StorageClass types.StorageClass `yaml:"storage_class,omitempty"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

type DropboxConfig struct {
	Token    string `yaml:"token,omitempty"`
	BasePath string `yaml:"base_path,omitempty"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SYNCVAULT_PASSPHRASE"); v != "" && c.Store.Passphrase == "" {
		c.Store.Passphrase = v
	}
	if v := os.Getenv("SYNCVAULT_WEBDAV_PASSWORD"); v != "" && c.Cloud.WebDAV.Password == "" {
		c.Cloud.WebDAV.Password = v
	}
	if v := os.Getenv("SYNCVAULT_CLOUDDRIVE_TOKEN"); v != "" && c.Cloud.CloudDrive.AccessToken == "" {
		c.Cloud.CloudDrive.AccessToken = v
	}
	if v := os.Getenv("SYNCVAULT_DROPBOX_TOKEN"); v != "" && c.Cloud.Dropbox.Token == "" {
		c.Cloud.Dropbox.Token = v
	}
}

// Validate rejects structurally broken configs. Missing backend credentials are
// reported later, when a cloud operation needs them.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if s := c.Backup.BackupStrategy; s != "" && !model.ValidStrategy(s) {
		return fmt.Errorf("backup.backup_strategy %q is not supported", s)
	}
	if c.Backup.BackupIntervalMinutes < 0 {
		return fmt.Errorf("backup.backup_interval_minutes must not be negative")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}
	if c.Transfer.RetryAttempts != nil && *c.Transfer.RetryAttempts < 0 {
		return fmt.Errorf("transfer.retry_attempts must not be negative")
	}
	for i, p := range c.Backup.Plans {
		if p.ID == "" {
			return fmt.Errorf("backup.backup_plans[%d].id is required", i)
		}
		if !model.ValidSchedule(p.Schedule) {
			return fmt.Errorf("backup.backup_plans[%d].schedule must be daily, weekly or monthly", i)
		}
		if !clockPattern.MatchString(p.Time) {
			return fmt.Errorf("backup.backup_plans[%d].time must be HH:MM", i)
		}
		if !model.ValidBackupType(p.BackupType) {
			return fmt.Errorf("backup.backup_plans[%d].backup_type must be local, cloud or hybrid", i)
		}
		if p.Strategy != "" && !model.ValidStrategy(p.Strategy) {
			return fmt.Errorf("backup.backup_plans[%d].strategy %q is not supported", i, p.Strategy)
		}
	}
	if ss := c.Backup.SmartSchedule; ss.Enabled {
		if !clockPattern.MatchString(ss.WindowStart) || !clockPattern.MatchString(ss.WindowEnd) {
			return fmt.Errorf("backup.smart_schedule window_start and window_end must be HH:MM")
		}
	}
	switch c.Sync.ConflictResolution {
	case "", ConflictLocalWins, ConflictRemoteWins, ConflictManual, ConflictMerge:
	default:
		return fmt.Errorf("sync.conflict_resolution %q is not supported", c.Sync.ConflictResolution)
	}
	switch c.Cloud.Backend {
	case "", BackendWebDAV, BackendCloudDrive, BackendS3, BackendDropbox:
	default:
		return fmt.Errorf("cloud.backend %q is not supported", c.Cloud.Backend)
	}
	return nil
}

func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.BaseDir, "state.db")
}

func (c *Config) CataloguePath() string {
	if c.Catalogue.Path != "" {
		return c.Catalogue.Path
	}
	return filepath.Join(c.BaseDir, "catalogue.db")
}

func (c *Config) CatalogueLimit() int {
	if c.Catalogue.Limit > 0 {
		return c.Catalogue.Limit
	}
	return 100
}

func (c *Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return "info"
}

func (c *Config) LocalAutoBackup() bool {
	if c.Backup.LocalAutoBackup != nil {
		return *c.Backup.LocalAutoBackup
	}
	return true
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.BackupIntervalMinutes > 0 {
		return time.Duration(c.Backup.BackupIntervalMinutes) * time.Minute
	}
	return 60 * time.Minute
}

func (c *Config) RetentionDays() int {
	if c.Backup.RetentionDays > 0 {
		return c.Backup.RetentionDays
	}
	return 7
}

func (c *Config) Strategy() model.Strategy {
	if c.Backup.BackupStrategy != "" {
		return c.Backup.BackupStrategy
	}
	return model.StrategyFull
}

func (c *Config) BatchSize() int {
	if c.Backup.BatchSize > 0 {
		return c.Backup.BatchSize
	}
	return 5
}

func (c *Config) ChunkSize() int {
	if c.Transfer.ChunkSizeBytes > 0 {
		return c.Transfer.ChunkSizeBytes
	}
	return 5 * 1024 * 1024
}

func (c *Config) MaxConcurrentChunks() int {
	if c.Transfer.MaxConcurrentChunks > 0 {
		return c.Transfer.MaxConcurrentChunks
	}
	return 3
}

func (c *Config) RetryAttempts() int {
	if c.Transfer.RetryAttempts != nil {
		return *c.Transfer.RetryAttempts
	}
	return 3
}

func (c *Config) Timeout() time.Duration {
	if c.Transfer.TimeoutMs > 0 {
		return time.Duration(c.Transfer.TimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalMinutes > 0 {
		return time.Duration(c.Sync.IntervalMinutes) * time.Minute
	}
	return 15 * time.Minute
}

func (c *Config) SyncRemoteRoot() string {
	if c.Sync.RemoteRoot != "" {
		return c.Sync.RemoteRoot
	}
	return "/sync"
}

func (c *Config) ConflictResolution() string {
	if c.Sync.ConflictResolution != "" {
		return c.Sync.ConflictResolution
	}
	return ConflictLocalWins
}

func (c *Config) EnableVersioning() bool {
	if c.Sync.EnableVersioning != nil {
		return *c.Sync.EnableVersioning
	}
	return true
}

func (c *Config) MaxVersions() int {
	if c.Sync.MaxVersions > 0 {
		return c.Sync.MaxVersions
	}
	return 5
}

func (c *Config) Listen() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	return "127.0.0.1:8780"
}

func (c *Cloud) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}

// Fingerprint identifies the effective cloud settings; a change means the
// backend client has to be rebuilt.
func (c *Cloud) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// BasePath is the remote directory backups are written under.
func (c *Cloud) BasePath() string {
	var p string
	switch c.Backend {
	case BackendWebDAV:
		p = c.WebDAV.BasePath
	case BackendCloudDrive:
		p = c.CloudDrive.BasePath
		if p == "" {
			p = "/apps/syncvault"
		}
	case BackendDropbox:
		p = c.Dropbox.BasePath
	case BackendS3:
		// the S3 prefix is applied by the backend itself
		return "/"
	}
	if p == "" {
		p = "/syncvault"
	}
	return "/" + strings.Trim(p, "/")
}
