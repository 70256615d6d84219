package manifest

import "time"

// Entry describes one file on one side of a sync comparison.
type Entry struct {
	Path    string    `yaml:"path"`
	ModTime time.Time `yaml:"mod_time"`
	Size    int64     `yaml:"size"`
	// Hash is the hex BLAKE3 of the content; empty when the side cannot provide it.
	Hash string `yaml:"blake3_hash,omitempty"`
}

// Manifest maps a path relative to the sync root to its entry.
type Manifest map[string]Entry

type Counts struct {
	Synced     int `yaml:"synced" json:"synced"`
	Uploaded   int `yaml:"uploaded" json:"uploaded"`
	Downloaded int `yaml:"downloaded" json:"downloaded"`
	Conflicts  int `yaml:"conflicts" json:"conflicts"`
	Merged     int `yaml:"merged" json:"merged"`
	Failed     int `yaml:"failed" json:"failed"`
}

// Status is the persisted outcome of the most recent sync pass.
type Status struct {
	LastSync    int64             `yaml:"last_sync" json:"last_sync"`
	InProgress  bool              `yaml:"in_progress" json:"in_progress"`
	Root        string            `yaml:"root" json:"root"`
	Backend     string            `yaml:"backend" json:"backend"`
	Counts      Counts            `yaml:"counts" json:"counts"`
	Failures    map[string]string `yaml:"failures,omitempty" json:"failures,omitempty"`
	LastError   string            `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	LastUpdated int64             `yaml:"last_updated" json:"last_updated"`
}
