package reconcile

import (
	"time"

	"syncvault/internal/manifest"
)

type State string

const (
	StateSynced      State = "synced"
	StateConflict    State = "conflict"
	StateLocalNewer  State = "local_newer"
	StateRemoteNewer State = "remote_newer"
	StateLocalOnly   State = "local_only"
	StateRemoteOnly  State = "remote_only"
)

// FileState is the comparison of one path across both sides.
type FileState struct {
	Path            string    `json:"path"`
	LocalTimestamp  time.Time `json:"local_timestamp,omitzero"`
	RemoteTimestamp time.Time `json:"remote_timestamp,omitzero"`
	SizeBytes       int64     `json:"size_bytes"`
	Status          State     `json:"status"`
}

// Classify compares the two entries of one path. Timestamps are compared at
// one-second resolution. Equal timestamps with differing content hashes are a
// conflict; a missing hash on either side counts as equal content.
func Classify(local, remote *manifest.Entry) State {
	switch {
	case local == nil && remote == nil:
		return StateSynced
	case remote == nil:
		return StateLocalOnly
	case local == nil:
		return StateRemoteOnly
	}

	lt := local.ModTime.Truncate(time.Second)
	rt := remote.ModTime.Truncate(time.Second)
	switch {
	case lt.After(rt):
		return StateLocalNewer
	case lt.Before(rt):
		return StateRemoteNewer
	case local.Hash != "" && remote.Hash != "" && local.Hash != remote.Hash:
		return StateConflict
	}
	return StateSynced
}

func compare(p string, local, remote *manifest.Entry) FileState {
	fs := FileState{Path: p, Status: Classify(local, remote)}
	if local != nil {
		fs.LocalTimestamp = local.ModTime
		fs.SizeBytes = local.Size
	}
	if remote != nil {
		fs.RemoteTimestamp = remote.ModTime
		if local == nil {
			fs.SizeBytes = remote.Size
		}
	}
	return fs
}
