package model

import "time"

type BackupType string

const (
	TypeLocal  BackupType = "local"
	TypeCloud  BackupType = "cloud"
	TypeHybrid BackupType = "hybrid"
)

type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusInProgress Status = "in_progress"
	StatusPartial    Status = "partial"
)

type Strategy string

const (
	StrategyFull         Strategy = "full"
	StrategyIncremental  Strategy = "incremental"
	StrategyDifferential Strategy = "differential"
)

type Verification string

const (
	VerificationVerified Verification = "verified"
	VerificationPending  Verification = "pending"
	VerificationFailed   Verification = "failed"
)

type Schedule string

const (
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// BackupRecord describes one backup attempt. It is immutable once Status is
// terminal; only Verification may be updated afterwards.
type BackupRecord struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	SizeBytes    int64        `json:"size_bytes"`
	Type         BackupType   `json:"type"`
	Status       Status       `json:"status"`
	Strategy     Strategy     `json:"strategy"`
	Verification Verification `json:"verification_status"`
	BaseBackupID string       `json:"base_backup_id,omitempty"`
	Location     string       `json:"location,omitempty"`
	Backend      string       `json:"backend,omitempty"`
	Checksum     string       `json:"checksum,omitempty"`
	Error        string       `json:"error,omitempty"`
}

func (r *BackupRecord) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

type HybridBackupRecord struct {
	CorrelationID string       `json:"correlation_id"`
	Timestamp     time.Time    `json:"timestamp"`
	LocalBackup   BackupRecord `json:"local_backup"`
	CloudBackup   BackupRecord `json:"cloud_backup"`
	Status        Status       `json:"status"`
}

// HybridStatus derives the wrapper status from its two legs.
func HybridStatus(local, cloud Status) Status {
	switch {
	case local == StatusSuccess && cloud == StatusSuccess:
		return StatusSuccess
	case local == StatusSuccess || cloud == StatusSuccess:
		return StatusPartial
	}
	return StatusFailed
}

type BackupPlan struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Enabled    bool       `yaml:"enabled" json:"enabled"`
	Schedule   Schedule   `yaml:"schedule" json:"schedule"`
	Time       string     `yaml:"time" json:"time"`
	Days       []int      `yaml:"days,omitempty" json:"days,omitempty"`
	BackupType BackupType `yaml:"backup_type" json:"backup_type"`
	Strategy   Strategy   `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

func ValidBackupType(t BackupType) bool {
	switch t {
	case TypeLocal, TypeCloud, TypeHybrid:
		return true
	}
	return false
}

func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyFull, StrategyIncremental, StrategyDifferential:
		return true
	}
	return false
}

func ValidSchedule(s Schedule) bool {
	switch s {
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return true
	}
	return false
}
