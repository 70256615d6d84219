package util

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"syncvault/internal/logging"
)

// BackupDirName is the remote directory for a backup taken at t, an ISO-8601
// UTC timestamp with ':' and '.' replaced by '-'.
func BackupDirName(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return "backup_" + strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

func BackupObjectPath(basePath, id string, t time.Time) string {
	return path.Join("/", basePath, BackupDirName(t), id+".json")
}

// VersionsDir is where historical copies of objects under root are kept.
func VersionsDir(root string) string {
	return path.Join("/", root, "versions")
}

// VersionPath maps rel (a path relative to root) and a version number to
// {root}/versions/<dir>/<name>_v<N><ext>.
func VersionPath(root, rel string, n int) string {
	rel = path.Clean("/" + rel)
	ext := path.Ext(rel)
	name := strings.TrimSuffix(path.Base(rel), ext)
	return path.Join(VersionsDir(root), path.Dir(rel), fmt.Sprintf("%s_v%d%s", name, n, ext))
}

func RunDir(baseDir string) string {
	return filepath.Join(baseDir, "run")
}

func LogDir(baseDir string) string {
	return filepath.Join(baseDir, "logs")
}

func LogFile(baseDir string, t time.Time) string {
	return filepath.Join(LogDir(baseDir), t.Format("2006-01-02")+".log")
}

func LockFile(baseDir string) string {
	return filepath.Join(RunDir(baseDir), "syncvault.lock")
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath, level string) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, level)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}
