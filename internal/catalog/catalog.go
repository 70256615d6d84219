// Package catalog persists BackupRecords and HybridBackupRecords in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/model"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const recordColumns = `id, name, ts_ms, size_bytes, type, status, strategy, verification, base_backup_id, location, backend, checksum, error`

type Catalog struct {
	db *sql.DB
}

// Open opens the catalogue database at path and runs migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	// single writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalogue: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Catalog{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (model.BackupRecord, error) {
	var r model.BackupRecord
	var tsMs int64
	err := s.Scan(&r.ID, &r.Name, &tsMs, &r.SizeBytes, &r.Type, &r.Status, &r.Strategy,
		&r.Verification, &r.BaseBackupID, &r.Location, &r.Backend, &r.Checksum, &r.Error)
	if err != nil {
		return r, err
	}
	r.Timestamp = time.UnixMilli(tsMs).UTC()
	return r, nil
}

func (c *Catalog) queryRecords(ctx context.Context, query string, args ...any) ([]model.BackupRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert appends a record. Ids are unique within the catalogue.
func (c *Catalog) Insert(ctx context.Context, r model.BackupRecord) error {
	if r.Verification == "" {
		r.Verification = model.VerificationPending
	}
	if r.Strategy == "" {
		r.Strategy = model.StrategyFull
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO backup_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Timestamp.UnixMilli(), r.SizeBytes, r.Type, r.Status, r.Strategy,
		r.Verification, r.BaseBackupID, r.Location, r.Backend, r.Checksum, r.Error,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return apperr.Errorf(apperr.KindRequest, "insert record", "backup id %s already exists", r.ID)
		}
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	return nil
}

// Complete moves an in-progress record to its terminal state. Records that are
// already terminal cannot be changed this way.
func (c *Catalog) Complete(ctx context.Context, r model.BackupRecord) error {
	if !r.Terminal() {
		return fmt.Errorf("complete record %s: status %q is not terminal", r.ID, r.Status)
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE backup_records
		 SET status = ?, size_bytes = ?, location = ?, backend = ?, checksum = ?, error = ?, base_backup_id = ?
		 WHERE id = ? AND status = ?`,
		r.Status, r.SizeBytes, r.Location, r.Backend, r.Checksum, r.Error, r.BaseBackupID,
		r.ID, model.StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("complete record %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.Get(ctx, r.ID); err != nil {
			return err
		}
		return apperr.Errorf(apperr.KindRequest, "complete record", "backup %s is not in progress", r.ID)
	}
	return nil
}

func (c *Catalog) SetVerification(ctx context.Context, id string, v model.Verification) error {
	res, err := c.db.ExecContext(ctx, `UPDATE backup_records SET verification = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set verification %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func notFound(id string) error {
	return apperr.Errorf(apperr.KindNotFound, "get record", "backup %s not found", id)
}

func (c *Catalog) Get(ctx context.Context, id string) (model.BackupRecord, error) {
	r, err := scanRecord(c.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM backup_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, notFound(id)
	}
	if err != nil {
		return r, fmt.Errorf("get record %s: %w", id, err)
	}
	return r, nil
}

type Filter struct {
	Type   model.BackupType
	Status model.Status
	Limit  int
}

// List returns matching records, newest first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]model.BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_records WHERE 1 = 1`
	var args []any
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY ts_ms DESC, seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return c.queryRecords(ctx, query, args...)
}

// LatestSuccessful returns the newest successful record of type t, restricted
// to strategy s when s is set.
func (c *Catalog) LatestSuccessful(ctx context.Context, t model.BackupType, s model.Strategy) (model.BackupRecord, bool, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_records WHERE type = ? AND status = ?`
	args := []any{t, model.StatusSuccess}
	if s != "" {
		query += ` AND strategy = ?`
		args = append(args, s)
	}
	query += ` ORDER BY ts_ms DESC, seq DESC LIMIT 1`

	records, err := c.queryRecords(ctx, query, args...)
	if err != nil || len(records) == 0 {
		return model.BackupRecord{}, false, err
	}
	return records[0], true, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM backup_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	if err := deleteOrphanHybrids(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Expired returns records with a timestamp before cutoff, oldest first.
// Records that a newer, non-failed record still builds on are returned as
// spared instead.
func (c *Catalog) Expired(ctx context.Context, cutoff time.Time) (expired, spared []model.BackupRecord, err error) {
	old, err := c.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM backup_records WHERE ts_ms < ? ORDER BY ts_ms, seq`,
		cutoff.UnixMilli())
	if err != nil || len(old) == 0 {
		return nil, nil, err
	}
	expired, spared, err = c.spareBases(ctx, old)
	return expired, spared, err
}

// Prune keeps the newest limit records and returns the evicted ones. A base
// still needed by a kept record stays, so the catalogue may exceed limit by
// the number of such bases. Hybrid records that lost a leg are removed with
// the evicted records.
func (c *Catalog) Prune(ctx context.Context, limit int) ([]model.BackupRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	candidates, err := c.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM backup_records ORDER BY ts_ms DESC, seq DESC LIMIT -1 OFFSET ?`, limit)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	evicted, _, err := c.spareBases(ctx, candidates)
	if err != nil || len(evicted) == 0 {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, r := range evicted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_records WHERE id = ?`, r.ID); err != nil {
			return nil, fmt.Errorf("prune record %s: %w", r.ID, err)
		}
	}
	if err := deleteOrphanHybrids(ctx, tx); err != nil {
		return nil, err
	}
	return evicted, tx.Commit()
}

// spareBases splits candidates into records that may be removed and records
// that a record outside candidates still needs, directly or through a chain
// of bases. Failed records need nothing.
func (c *Catalog) spareBases(ctx context.Context, candidates []model.BackupRecord) (removable, spared []model.BackupRecord, err error) {
	all, err := c.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records`)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]model.BackupRecord, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}
	leaving := make(map[string]bool, len(candidates))
	for _, r := range candidates {
		leaving[r.ID] = true
	}

	needed := make(map[string]bool)
	for _, r := range all {
		if leaving[r.ID] || r.Status == model.StatusFailed {
			continue
		}
		for base := r.BaseBackupID; base != "" && !needed[base]; base = byID[base].BaseBackupID {
			needed[base] = true
		}
	}

	for _, r := range candidates {
		if needed[r.ID] {
			spared = append(spared, r)
		} else {
			removable = append(removable, r)
		}
	}
	return removable, spared, nil
}

func deleteOrphanHybrids(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM hybrid_records
		 WHERE local_id NOT IN (SELECT id FROM backup_records)
		    OR cloud_id NOT IN (SELECT id FROM backup_records)`)
	if err != nil {
		return fmt.Errorf("delete orphan hybrid records: %w", err)
	}
	return nil
}

func (c *Catalog) InsertHybrid(ctx context.Context, h model.HybridBackupRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO hybrid_records (correlation_id, ts_ms, local_id, cloud_id, status) VALUES (?, ?, ?, ?, ?)`,
		h.CorrelationID, h.Timestamp.UnixMilli(), h.LocalBackup.ID, h.CloudBackup.ID, h.Status,
	)
	if err != nil {
		return fmt.Errorf("insert hybrid record %s: %w", h.CorrelationID, err)
	}
	return nil
}

type hybridRow struct {
	correlationID string
	tsMs          int64
	localID       string
	cloudID       string
	status        model.Status
}

func (c *Catalog) hydrate(ctx context.Context, row hybridRow) (model.HybridBackupRecord, error) {
	h := model.HybridBackupRecord{
		CorrelationID: row.correlationID,
		Timestamp:     time.UnixMilli(row.tsMs).UTC(),
		Status:        row.status,
	}
	var err error
	if h.LocalBackup, err = c.Get(ctx, row.localID); err != nil {
		return h, fmt.Errorf("hybrid %s local leg: %w", row.correlationID, err)
	}
	if h.CloudBackup, err = c.Get(ctx, row.cloudID); err != nil {
		return h, fmt.Errorf("hybrid %s cloud leg: %w", row.correlationID, err)
	}
	return h, nil
}

func (c *Catalog) GetHybrid(ctx context.Context, correlationID string) (model.HybridBackupRecord, error) {
	var row hybridRow
	err := c.db.QueryRowContext(ctx,
		`SELECT correlation_id, ts_ms, local_id, cloud_id, status FROM hybrid_records WHERE correlation_id = ?`,
		correlationID,
	).Scan(&row.correlationID, &row.tsMs, &row.localID, &row.cloudID, &row.status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HybridBackupRecord{}, apperr.Errorf(apperr.KindNotFound, "get hybrid record", "hybrid backup %s not found", correlationID)
	}
	if err != nil {
		return model.HybridBackupRecord{}, fmt.Errorf("get hybrid record %s: %w", correlationID, err)
	}
	return c.hydrate(ctx, row)
}

func (c *Catalog) listHybridRows(ctx context.Context, query string, args ...any) ([]hybridRow, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hybrid records: %w", err)
	}
	defer rows.Close()

	var out []hybridRow
	for rows.Next() {
		var row hybridRow
		if err := rows.Scan(&row.correlationID, &row.tsMs, &row.localID, &row.cloudID, &row.status); err != nil {
			return nil, fmt.Errorf("scan hybrid record: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListHybrid returns hybrid records newest first.
func (c *Catalog) ListHybrid(ctx context.Context, limit int) ([]model.HybridBackupRecord, error) {
	query := `SELECT correlation_id, ts_ms, local_id, cloud_id, status FROM hybrid_records ORDER BY ts_ms DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.listHybridRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]model.HybridBackupRecord, 0, len(rows))
	for _, row := range rows {
		h, err := c.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// LatestHybridSuccess returns the newest hybrid record whose legs both succeeded.
func (c *Catalog) LatestHybridSuccess(ctx context.Context) (model.HybridBackupRecord, bool, error) {
	rows, err := c.listHybridRows(ctx,
		`SELECT correlation_id, ts_ms, local_id, cloud_id, status FROM hybrid_records
		 WHERE status = ? ORDER BY ts_ms DESC LIMIT 1`, model.StatusSuccess)
	if err != nil || len(rows) == 0 {
		return model.HybridBackupRecord{}, false, err
	}
	h, err := c.hydrate(ctx, rows[0])
	if err != nil {
		return h, false, err
	}
	return h, true, nil
}

// Count returns the number of records per type.
func (c *Catalog) Count(ctx context.Context) (map[model.BackupType]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM backup_records GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := map[model.BackupType]int{}
	for rows.Next() {
		var t model.BackupType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
