// Package manifest holds sync manifests and the persisted sync status file.
package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

func New(entries ...Entry) Manifest {
	m := make(Manifest, len(entries))
	for _, e := range entries {
		m.Add(e)
	}
	return m
}

// Add stores e under its cleaned path.
func (m Manifest) Add(e Entry) {
	e.Path = CleanPath(e.Path)
	m[e.Path] = e
}

// Get returns the entry for p, or nil when p is absent.
func (m Manifest) Get(p string) *Entry {
	e, ok := m[CleanPath(p)]
	if !ok {
		return nil
	}
	return &e
}

// Paths returns the sorted union of the paths in every manifest.
func Paths(manifests ...Manifest) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, m := range manifests {
		for p := range m {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

// CleanPath normalizes a relative sync path to a slash-separated path with a
// leading slash.
func CleanPath(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func WriteStatus(filename string, status *Status) error {
	data, err := yaml.Marshal(status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// ReadStatus returns an empty status when the file does not exist yet.
func ReadStatus(filename string) (*Status, error) {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}
	var status Status
	if err := yaml.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
