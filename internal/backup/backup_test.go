package backup

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/catalog"
	"syncvault/internal/config"
	"syncvault/internal/model"
	"syncvault/internal/progress"
	"syncvault/internal/remote"
	"syncvault/internal/remote/remotetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory SnapshotStore that remembers what was imported.
type memStore struct {
	mu      sync.Mutex
	state   map[string]string
	backups map[string][]byte
	imports []string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{state: map[string]string{}, backups: map[string][]byte{}}
}

func (s *memStore) ExportSnapshot() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.state)
	return string(data), err
}

func (s *memStore) ImportSnapshot(data string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state map[string]string
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return false
	}
	s.imports = append(s.imports, data)
	s.state = state
	return true
}

func (s *memStore) ImportKeys(data string, keys []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state map[string]string
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return false
	}
	s.imports = append(s.imports, data)
	for _, k := range keys {
		if v, ok := state[k]; ok {
			s.state[k] = v
		}
	}
	return true
}

func (s *memStore) PutBackup(id string, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.backups[id] = envelope
	return nil
}

func (s *memStore) GetBackup(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.backups[id]
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, "get backup", "local backup %s not found", id)
	}
	return data, nil
}

func (s *memStore) DeleteBackup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[id]; !ok {
		return apperr.Errorf(apperr.KindNotFound, "delete backup", "local backup %s not found", id)
	}
	delete(s.backups, id)
	return nil
}

func (s *memStore) set(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[k] = v
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	m       *Manager
	store   *memStore
	catalog *catalog.Catalog
	backend *remotetest.Memory
	clock   *clock
	builds  int
}

func testConfig() *config.Config {
	retries := 1
	return &config.Config{
		BaseDir: "/tmp/unused",
		Transfer: config.TransferConfig{
			ChunkSizeBytes: 64,
			RetryAttempts:  &retries,
			TimeoutMs:      1000,
		},
		Cloud: config.Cloud{
			Backend: config.BackendWebDAV,
			WebDAV:  config.WebDAVConfig{URL: "https://dav.example.com", BasePath: "/syncvault"},
		},
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	f := &fixture{
		store:   newMemStore(),
		catalog: cat,
		backend: remotetest.New(),
		clock:   &clock{t: time.Date(2026, 6, 10, 9, 30, 0, 0, time.UTC)},
	}
	f.store.set("settings", `{"theme":"dark"}`)

	f.m = New(cfg, Options{
		Store:   f.store,
		Catalog: cat,
		Now:     f.clock.Now,
		NewBackend: func(ctx context.Context, c config.Cloud) (remote.Backend, error) {
			if c.Backend == "" {
				return nil, apperr.New(apperr.KindConfig, "init backend", "no cloud backend configured (cloud.backend)")
			}
			f.builds++
			return f.backend, nil
		},
	})
	return f
}

func TestLocalBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	rec, err := f.m.CreateLocalBackup(ctx, "before change", model.StrategyFull)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Regexp(t, `^local-backup-\d{13}-[0-9a-f]{8}$`, rec.ID)
	assert.Positive(t, rec.SizeBytes)
	assert.NotEmpty(t, rec.Checksum)

	stored, err := f.catalog.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, stored.Status)

	f.store.set("settings", `{"theme":"light"}`)
	require.NoError(t, f.m.RestoreFromLocalBackup(ctx, rec.ID, RestoreOptions{}))
	assert.Equal(t, `{"theme":"dark"}`, f.store.state["settings"])

	err = f.m.RestoreFromCloudBackup(ctx, rec.ID, RestoreOptions{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "a local id is not a cloud backup")
}

func TestIncrementalChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	first, err := f.m.CreateLocalBackup(ctx, "", model.StrategyIncremental)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyFull, first.Strategy, "no full backup to chain from yet")

	f.store.set("habits", `["run"]`)
	inc, err := f.m.CreateLocalBackup(ctx, "", model.StrategyIncremental)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyIncremental, inc.Strategy)
	assert.Equal(t, first.ID, inc.BaseBackupID)

	f.store.imports = nil
	require.NoError(t, f.m.RestoreFromLocalBackup(ctx, inc.ID, RestoreOptions{}))
	require.Len(t, f.store.imports, 2, "base first, then the incremental")
	assert.NotContains(t, f.store.imports[0], "habits")
	assert.Contains(t, f.store.imports[1], "habits")
}

func TestSelectiveRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.store.set("habits", "old")

	rec, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)

	f.store.set("settings", "changed")
	f.store.set("habits", "changed")
	require.NoError(t, f.m.RestoreFromLocalBackup(ctx, rec.ID, RestoreOptions{Keys: []string{"habits"}}))

	assert.Equal(t, "old", f.store.state["habits"])
	assert.Equal(t, "changed", f.store.state["settings"])
}

func TestCloudBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.store.set("big", string(jsonFiller(500)))

	var mu sync.Mutex
	var events []progress.Progress
	unsubscribe := f.m.Subscribe(func(p progress.Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	defer unsubscribe()

	rec, err := f.m.CreateCloudBackup(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "memory", rec.Backend)
	assert.Equal(t, "/syncvault/backup_2026-06-10T09-30-00-000Z/"+rec.ID+".json", rec.Location)
	assert.Equal(t, []string{rec.Location}, f.backend.Paths(), "chunk artifacts are gone")

	mu.Lock()
	assert.NotEmpty(t, events, "chunked upload reports progress")
	mu.Unlock()

	want, _ := f.store.ExportSnapshot()
	f.store.set("big", "")
	require.NoError(t, f.m.RestoreFromCloudBackup(ctx, rec.ID, RestoreOptions{}))
	got, _ := f.store.ExportSnapshot()
	assert.Equal(t, want, got)

	listed, err := f.m.ListCloudBackups(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, rec.Location, listed[0].Path)
}

func jsonFiller(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(i%26)
	}
	return b
}

func TestCloudBackupWithoutBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Cloud = config.Cloud{}
	f := newFixture(t, cfg)

	rec, err := f.m.CreateCloudBackup(ctx, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfig))
	assert.Contains(t, err.Error(), "cloud.backend")

	stored, err := f.catalog.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Zero(t, stored.SizeBytes)
	assert.NotEmpty(t, stored.Error)
}

func TestHybridBackup(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantStatus model.Status
		wantErr    bool
	}{
		{
			name:       "both legs succeed",
			setup:      func(f *fixture) {},
			wantStatus: model.StatusSuccess,
		},
		{
			name: "cloud leg fails",
			setup: func(f *fixture) {
				f.backend.FailNext(remotetest.OpUpload, 10, apperr.KindAuth)
			},
			wantStatus: model.StatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, testConfig())
			tt.setup(f)

			h, err := f.m.CreateHybridBackup(ctx, "hybrid")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, h.Status)
			assert.Equal(t, model.TypeLocal, h.LocalBackup.Type)
			assert.Equal(t, model.TypeCloud, h.CloudBackup.Type)

			stored, err := f.catalog.GetHybrid(ctx, h.CorrelationID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)

			cloud, err := f.catalog.Get(ctx, h.CloudBackup.ID)
			require.NoError(t, err, "the cloud leg is recorded even when it failed")
			if tt.wantStatus == model.StatusPartial {
				assert.Equal(t, model.StatusFailed, cloud.Status)
				assert.Zero(t, cloud.SizeBytes)
			}
		})
	}
}

func TestHybridBothLegsFail(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Cloud = config.Cloud{}
	f := newFixture(t, cfg)
	f.store.putErr = errors.New("disk full")

	h, err := f.m.CreateHybridBackup(ctx, "")
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, h.Status)
	assert.Equal(t, model.StatusFailed, h.LocalBackup.Status)
	assert.Equal(t, model.StatusFailed, h.CloudBackup.Status)
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestBatchCreateCloudBackups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.backend.FailNext(remotetest.OpUpload, 1, apperr.KindAuth)

	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	result := f.m.BatchCreateCloudBackups(ctx, names)

	assert.Equal(t, 6, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Len(t, result.Records, 7)

	failed, err := f.catalog.Get(ctx, result.Failed[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
}

func TestBatchUploadsRunInParallel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Transfer.ChunkSizeBytes = 1 << 20
	f := newFixture(t, cfg)

	var mu sync.Mutex
	var inflight, peak int
	f.backend.Hook = func(ctx context.Context, op, p string) error {
		if op != remotetest.OpUpload {
			return nil
		}
		mu.Lock()
		inflight++
		peak = max(peak, inflight)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return nil
	}

	result := f.m.BatchCreateCloudBackups(ctx, []string{"a", "b", "c", "d", "e"})
	assert.Equal(t, 5, result.Success)
	assert.Greater(t, peak, 1, "distinct backup objects do not share a write lock")
}

func TestVerifyBackupIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	local, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)
	cloud, err := f.m.CreateCloudBackup(ctx, "")
	require.NoError(t, err)

	v, err := f.m.VerifyBackupIntegrity(ctx, local.ID, model.TypeLocal)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, v)

	v, err = f.m.VerifyBackupIntegrity(ctx, cloud.ID, model.TypeCloud)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationVerified, v)

	f.backend.Put(cloud.Location, []byte("{not json"), f.clock.Now())
	v, err = f.m.VerifyBackupIntegrity(ctx, cloud.ID, model.TypeCloud)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationFailed, v)

	stored, err := f.catalog.Get(ctx, cloud.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationFailed, stored.Verification, "verification is updated after the record is terminal")

	require.NoError(t, f.store.DeleteBackup(local.ID))
	v, err = f.m.VerifyBackupIntegrity(ctx, local.ID, model.TypeLocal)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationFailed, v)

	_, err = f.m.VerifyBackupIntegrity(ctx, "missing", model.TypeLocal)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCorruptPayloadFailsRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	rec, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)
	require.NoError(t, f.store.PutBackup(rec.ID, []byte(`{"timestamp":"2026-01-01T00:00:00Z","version":"1.0.0","data":"{broken"}`)))

	err = f.m.RestoreFromLocalBackup(ctx, rec.ID, RestoreOptions{})
	assert.True(t, apperr.Is(err, apperr.KindFormat))
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	ago := func(days int) *time.Time {
		t := now.Add(-time.Duration(days) * 24 * time.Hour)
		return &t
	}

	tests := []struct {
		name string
		last *time.Time
		want HealthStatus
	}{
		{name: "2 days", last: ago(2), want: HealthHealthy},
		{name: "5 days", last: ago(5), want: HealthWarning},
		{name: "7 days", last: ago(7), want: HealthWarning},
		{name: "10 days", last: ago(10), want: HealthCritical},
		{name: "never", last: nil, want: HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.last, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateHealthReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)
	f.clock.Advance(-3 * 24 * time.Hour)
	_, err = f.m.CreateCloudBackup(ctx, "")
	require.NoError(t, err)
	f.clock.Advance(5 * 24 * time.Hour)

	report, err := f.m.GenerateHealthReport(ctx)
	require.NoError(t, err)

	byType := map[model.BackupType]HealthCheck{}
	for _, c := range report.Checks {
		byType[c.Type] = c
	}
	assert.Equal(t, HealthHealthy, byType[model.TypeLocal].Status)
	assert.Equal(t, HealthWarning, byType[model.TypeCloud].Status)
	assert.Equal(t, HealthCritical, byType[model.TypeHybrid].Status)
	assert.Equal(t, HealthCritical, report.Overall)
	assert.Contains(t, report.Recommendations, "No successful hybrid backup exists, create a hybrid backup now")
}

func TestUpdateCloudConfigRebuildsBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	f := newFixture(t, cfg)

	_, err := f.m.Engine(ctx)
	require.NoError(t, err)
	_, err = f.m.Engine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.builds)

	cloud := cfg.Cloud
	f.m.UpdateCloudConfig(cloud)
	_, err = f.m.Engine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.builds, "unchanged settings keep the backend")

	cloud.WebDAV.Password = "new"
	f.m.UpdateCloudConfig(cloud)
	_, err = f.m.Engine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.builds)
}

func TestDeleteBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	cloud, err := f.m.CreateCloudBackup(ctx, "")
	require.NoError(t, err)
	require.NoError(t, f.m.DeleteBackup(ctx, cloud.ID))
	assert.Empty(t, f.backend.Paths())

	_, err = f.catalog.Get(ctx, cloud.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, apperr.Is(f.m.DeleteBackup(ctx, cloud.ID), apperr.KindNotFound))

	local, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteBackup(local.ID))
	err = f.m.DeleteBackup(ctx, local.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "explicit delete reports a missing payload")
	_, err = f.catalog.Get(ctx, local.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "but the record is removed")
}

func TestCleanupOldBackups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	old, err := f.m.CreateCloudBackup(ctx, "old")
	require.NoError(t, err)
	oldLocal, err := f.m.CreateLocalBackup(ctx, "old", "")
	require.NoError(t, err)
	require.NoError(t, f.backend.Delete(ctx, old.Location))

	f.clock.Advance(8 * 24 * time.Hour)
	recent, err := f.m.CreateLocalBackup(ctx, "recent", "")
	require.NoError(t, err)

	result, err := f.m.CleanupOldBackups(ctx)
	require.NoError(t, err, "a payload that is already gone is not an error")
	assert.ElementsMatch(t, []string{old.ID, oldLocal.ID}, result.Removed)

	remaining, err := f.m.ListBackups(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].ID)

	ids := make([]string, 0, len(f.store.backups))
	for id := range f.store.backups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{recent.ID}, ids)
}

func TestCleanupKeepsBaseOfRetainedBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	full, err := f.m.CreateLocalBackup(ctx, "", model.StrategyFull)
	require.NoError(t, err)
	f.clock.Advance(3 * 24 * time.Hour)
	f.store.set("habits", `["run"]`)
	inc, err := f.m.CreateLocalBackup(ctx, "", model.StrategyIncremental)
	require.NoError(t, err)
	require.Equal(t, full.ID, inc.BaseBackupID)

	f.clock.Advance(5 * 24 * time.Hour)
	result, err := f.m.CleanupOldBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	assert.Equal(t, []string{full.ID}, result.Spared)

	f.store.imports = nil
	require.NoError(t, f.m.RestoreFromLocalBackup(ctx, inc.ID, RestoreOptions{}))
	assert.Len(t, f.store.imports, 2)

	f.clock.Advance(3 * 24 * time.Hour)
	result, err = f.m.CleanupOldBackups(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{full.ID, inc.ID}, result.Removed, "an expired chain goes together")
	assert.Empty(t, result.Spared)
	assert.Empty(t, f.store.backups)
}

func TestCatalogueCap(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Catalogue.Limit = 3
	f := newFixture(t, cfg)

	var ids []string
	for range 5 {
		rec, err := f.m.CreateLocalBackup(ctx, "", "")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		f.clock.Advance(time.Minute)
	}

	records, err := f.m.ListBackups(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[4], records[0].ID)

	assert.Len(t, f.store.backups, 3, "payloads of evicted records are deleted")
	_, ok := f.store.backups[ids[0]]
	assert.False(t, ok)
}

func TestCatalogueCapKeepsBaseOfRetainedBackup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Catalogue.Limit = 2
	f := newFixture(t, cfg)

	full, err := f.m.CreateLocalBackup(ctx, "", model.StrategyFull)
	require.NoError(t, err)
	var incs []string
	for range 3 {
		f.clock.Advance(time.Minute)
		rec, err := f.m.CreateLocalBackup(ctx, "", model.StrategyIncremental)
		require.NoError(t, err)
		incs = append(incs, rec.ID)
	}

	records, err := f.m.ListBackups(ctx, catalog.Filter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{incs[2], incs[1], full.ID}, ids)

	_, ok := f.store.backups[incs[0]]
	assert.False(t, ok, "payload of the evicted incremental is deleted")
	require.NoError(t, f.m.RestoreFromLocalBackup(ctx, incs[2], RestoreOptions{}))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	_, err := f.m.CreateLocalBackup(ctx, "", "")
	require.NoError(t, err)
	f.backend.FailNext(remotetest.OpUpload, 10, apperr.KindAuth)
	_, err = f.m.CreateHybridBackup(ctx, "")
	require.NoError(t, err)

	s, err := f.m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.ByType[model.TypeLocal])
	assert.Equal(t, 1, s.Hybrid[model.StatusPartial])
	require.NotNil(t, s.LastBackup)
}

func TestRunPlanAndAuto(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Backup.CloudAutoBackup = true
	f := newFixture(t, cfg)

	require.NoError(t, f.m.RunPlan(ctx, model.BackupPlan{ID: "p1", BackupType: model.TypeCloud}))
	require.NoError(t, f.m.RunPlan(ctx, model.BackupPlan{ID: "p2", Name: "weekly", BackupType: model.TypeHybrid}))
	assert.Error(t, f.m.RunPlan(ctx, model.BackupPlan{ID: "p3", BackupType: "tape"}))

	require.NoError(t, f.m.RunAuto(ctx))

	counts, err := f.catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.TypeLocal], "hybrid leg plus auto local")
	assert.Equal(t, 3, counts[model.TypeCloud], "plan, hybrid leg and auto cloud")
}
