// Package list prints catalogued backups or the payloads present on the cloud
// backend.
package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"syncvault/internal/backup"
	"syncvault/internal/catalog"
	"syncvault/internal/model"

	"github.com/dustin/go-humanize"
)

const (
	SourceCatalogue = "catalogue"
	SourceCloud     = "cloud"
)

type Options struct {
	Source string
	Type   model.BackupType
	Status model.Status
	Limit  int
	JSON   bool
}

type Info struct {
	ID           string       `json:"id,omitempty"`
	Name         string       `json:"name,omitempty"`
	Type         string       `json:"type,omitempty"`
	Strategy     string       `json:"strategy,omitempty"`
	Status       model.Status `json:"status,omitempty"`
	Datetime     int64        `json:"datetime"`
	DatetimeStr  string       `json:"datetime_str"`
	SizeBytes    int64        `json:"size_bytes"`
	BaseBackupID string       `json:"base_backup_id,omitempty"`
	Location     string       `json:"location,omitempty"`
}

type Output struct {
	Source  string `json:"source"`
	Backups []Info `json:"backups"`
	Summary struct {
		TotalBackups      int   `json:"total_backups"`
		SuccessfulBackups int   `json:"successful_backups"`
		FailedBackups     int   `json:"failed_backups"`
		TotalSizeBytes    int64 `json:"total_size_bytes"`
	} `json:"summary"`
}

func Run(ctx context.Context, m *backup.Manager, opts Options, w io.Writer) error {
	output, err := Collect(ctx, m, opts)
	if err != nil {
		return err
	}
	if opts.JSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(output); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
	Print(w, output)
	return nil
}

// Collect builds the listing without printing it.
func Collect(ctx context.Context, m *backup.Manager, opts Options) (Output, error) {
	output := Output{Source: opts.Source, Backups: []Info{}}

	switch opts.Source {
	case "", SourceCatalogue:
		output.Source = SourceCatalogue
		records, err := m.ListBackups(ctx, catalog.Filter{Type: opts.Type, Status: opts.Status, Limit: opts.Limit})
		if err != nil {
			return output, err
		}
		for _, r := range records {
			output.Backups = append(output.Backups, recordInfo(r))
		}
	case SourceCloud:
		objects, err := m.ListCloudBackups(ctx)
		if err != nil {
			return output, fmt.Errorf("failed to list cloud backups: %w", err)
		}
		for _, o := range objects {
			if opts.Limit > 0 && len(output.Backups) == opts.Limit {
				break
			}
			output.Backups = append(output.Backups, Info{
				Name:        o.Name,
				Type:        string(model.TypeCloud),
				Status:      model.StatusSuccess,
				Datetime:    o.ModTime.Unix(),
				DatetimeStr: o.ModTime.Local().Format(time.DateTime),
				SizeBytes:   o.Size,
				Location:    o.Path,
			})
		}
	default:
		return output, fmt.Errorf("unknown source %q, expected %s or %s", opts.Source, SourceCatalogue, SourceCloud)
	}

	output.Summary.TotalBackups = len(output.Backups)
	for _, b := range output.Backups {
		switch b.Status {
		case model.StatusSuccess:
			output.Summary.SuccessfulBackups++
			output.Summary.TotalSizeBytes += b.SizeBytes
		case model.StatusFailed:
			output.Summary.FailedBackups++
		}
	}
	return output, nil
}

func recordInfo(r model.BackupRecord) Info {
	return Info{
		ID:           r.ID,
		Name:         r.Name,
		Type:         string(r.Type),
		Strategy:     string(r.Strategy),
		Status:       r.Status,
		Datetime:     r.Timestamp.Unix(),
		DatetimeStr:  r.Timestamp.Local().Format(time.DateTime),
		SizeBytes:    r.SizeBytes,
		BaseBackupID: r.BaseBackupID,
		Location:     r.Location,
	}
}

// Print writes a human readable listing.
func Print(w io.Writer, output Output) {
	if len(output.Backups) == 0 {
		fmt.Fprintf(w, "No backups found in %s\n", output.Source)
		return
	}
	for _, b := range output.Backups {
		label := b.ID
		if label == "" {
			label = b.Location
		}
		fmt.Fprintf(w, "%-40s  %-6s  %-11s  %-8s  %s  %s", label, b.Type, b.Strategy, b.Status,
			b.DatetimeStr, humanize.IBytes(uint64(b.SizeBytes)))
		if b.Name != "" && b.ID != "" {
			fmt.Fprintf(w, "  %q", b.Name)
		}
		fmt.Fprintln(w)
	}
	s := output.Summary
	fmt.Fprintf(w, "\n%d backups, %d successful, %d failed, %s total\n",
		s.TotalBackups, s.SuccessfulBackups, s.FailedBackups, humanize.IBytes(uint64(s.TotalSizeBytes)))
}
