package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAcquireAndRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "syncvault.lock")

	release, err := Acquire(lockPath, "serve")
	require.NoError(t, err)

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, yaml.Unmarshal(data, &entry))
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.Equal(t, "serve", entry.Command)
	assert.NotEmpty(t, entry.StartedAt)

	require.NoError(t, release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireBlockedByLivePid(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "syncvault.lock")

	release, err := Acquire(lockPath, "serve")
	require.NoError(t, err)
	defer release()

	_, err = Acquire(lockPath, "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already locked by pid")
	assert.Contains(t, err.Error(), `"serve"`)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "syncvault.lock")

	stale := &Entry{Pid: 999999999, Command: "serve", StartedAt: "2024-01-01T00:00:00Z"}
	require.NoError(t, writeLock(lockPath, stale))

	release, err := Acquire(lockPath, "backup")
	require.NoError(t, err)

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, yaml.Unmarshal(data, &entry))
	assert.Equal(t, os.Getpid(), entry.Pid)

	require.NoError(t, release())
	require.NoError(t, release(), "release is idempotent")
}

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()

	unlock := k.Lock("webdav:/syncvault")

	_, ok := k.TryLock("webdav:/syncvault")
	assert.False(t, ok)

	other, ok := k.TryLock("webdav:/elsewhere")
	require.True(t, ok, "different keys do not block each other")
	other()

	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		u := k.Lock("webdav:/syncvault")
		close(acquired)
		u()
		close(done)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while the key was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
	<-done

	k.mu.Lock()
	assert.Empty(t, k.locks, "idle keys are forgotten")
	k.mu.Unlock()
}

func TestKeyedConcurrentCounter(t *testing.T) {
	k := NewKeyed()
	counter := 0

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("key")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
