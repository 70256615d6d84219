package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	Pid       int    `yaml:"pid"`
	Command   string `yaml:"command,omitempty"`
	StartedAt string `yaml:"started_at"`
}

func readLock(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func writeLock(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err != syscall.ESRCH
}

// Acquire takes the process lock at lockPath for command. A lock left behind
// by a dead process is reclaimed. The returned release function is idempotent.
func Acquire(lockPath, command string) (func() error, error) {
	existing, err := readLock(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Pid > 0 && isProcessAlive(existing.Pid) {
		return nil, fmt.Errorf("already locked by pid %d running %q (started %s)", existing.Pid, existing.Command, existing.StartedAt)
	}

	entry := &Entry{
		Pid:       os.Getpid(),
		Command:   command,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeLock(lockPath, entry); err != nil {
		return nil, err
	}

	release := func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}

// Keyed hands out one mutex per key, so writers to the same backend path are
// serialized while unrelated keys proceed in parallel.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

func (k *Keyed) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free and returns the unlock function.
func (k *Keyed) Lock(key string) func() {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// TryLock is Lock without waiting; ok is false when key is held.
func (k *Keyed) TryLock(key string) (unlock func(), ok bool) {
	e := k.acquire(key)
	if !e.mu.TryLock() {
		k.release(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}, true
}
