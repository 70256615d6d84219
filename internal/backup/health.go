package backup

import (
	"context"
	"fmt"
	"time"

	"syncvault/internal/model"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

const (
	warningAfterDays  = 3
	criticalAfterDays = 7
)

func severity(s HealthStatus) int {
	switch s {
	case HealthWarning:
		return 1
	case HealthCritical:
		return 2
	}
	return 0
}

type HealthCheck struct {
	Type       model.BackupType `json:"type"`
	Status     HealthStatus     `json:"status"`
	LastBackup *time.Time       `json:"last_backup,omitempty"`
	DaysSince  float64          `json:"days_since"`
}

type HealthReport struct {
	Overall         HealthStatus  `json:"overall"`
	Checks          []HealthCheck `json:"checks"`
	Recommendations []string      `json:"recommendations"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Classify maps the age of the last successful backup to a health status.
// A nil last means no successful backup exists.
func Classify(last *time.Time, now time.Time) (HealthStatus, float64) {
	if last == nil {
		return HealthCritical, 0
	}
	days := now.Sub(*last).Hours() / 24
	switch {
	case days < warningAfterDays:
		return HealthHealthy, days
	case days <= criticalAfterDays:
		return HealthWarning, days
	}
	return HealthCritical, days
}

// GenerateHealthReport checks the newest successful backup of each type.
func (m *Manager) GenerateHealthReport(ctx context.Context) (HealthReport, error) {
	now := m.now()
	report := HealthReport{Overall: HealthHealthy, GeneratedAt: now.UTC()}

	for _, t := range []model.BackupType{model.TypeLocal, model.TypeCloud, model.TypeHybrid} {
		last, err := m.lastSuccess(ctx, t)
		if err != nil {
			return report, err
		}

		status, days := Classify(last, now)
		report.Checks = append(report.Checks, HealthCheck{Type: t, Status: status, LastBackup: last, DaysSince: days})
		if severity(status) > severity(report.Overall) {
			report.Overall = status
		}

		switch {
		case last == nil:
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("No successful %s backup exists, create a %s backup now", t, t))
		case status == HealthCritical:
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("Last %s backup is %.0f days old, create a %s backup now", t, days, t))
		case status == HealthWarning:
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("Last %s backup is %.0f days old, consider backing up soon", t, days))
		}
	}
	return report, nil
}

func (m *Manager) lastSuccess(ctx context.Context, t model.BackupType) (*time.Time, error) {
	if t == model.TypeHybrid {
		h, ok, err := m.catalog.LatestHybridSuccess(ctx)
		if err != nil || !ok {
			return nil, err
		}
		return &h.Timestamp, nil
	}
	rec, ok, err := m.catalog.LatestSuccessful(ctx, t, "")
	if err != nil || !ok {
		return nil, err
	}
	return &rec.Timestamp, nil
}

type Stats struct {
	Total      int                      `json:"total"`
	Successful int                      `json:"successful"`
	Failed     int                      `json:"failed"`
	InProgress int                      `json:"in_progress"`
	TotalBytes int64                    `json:"total_bytes"`
	ByType     map[model.BackupType]int `json:"by_type"`
	Hybrid     map[model.Status]int     `json:"hybrid"`
	LastBackup *time.Time               `json:"last_backup,omitempty"`
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	records, err := m.catalog.List(ctx, catalogAll)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{ByType: map[model.BackupType]int{}, Hybrid: map[model.Status]int{}}
	for _, r := range records {
		s.Total++
		s.ByType[r.Type]++
		switch r.Status {
		case model.StatusSuccess:
			s.Successful++
			s.TotalBytes += r.SizeBytes
			if s.LastBackup == nil || r.Timestamp.After(*s.LastBackup) {
				ts := r.Timestamp
				s.LastBackup = &ts
			}
		case model.StatusFailed:
			s.Failed++
		case model.StatusInProgress:
			s.InProgress++
		}
	}

	hybrids, err := m.catalog.ListHybrid(ctx, 0)
	if err != nil {
		return s, err
	}
	for _, h := range hybrids {
		s.Hybrid[h.Status]++
	}
	return s, nil
}
