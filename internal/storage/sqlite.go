package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/tvt/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// This is used for non-critical JSON fields where we want to gracefully
// handle corruption without failing the entire query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if data == "" {
		return
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage and ResourceCache using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ Storage       = (*SQLiteStorage)(nil)
	_ ResourceCache = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the API read history while a run is being written.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration_ms INTEGER DEFAULT 0,
		items INTEGER DEFAULT 0,
		records INTEGER DEFAULT 0,
		retry_rounds INTEGER DEFAULT 0,
		report_dir TEXT,
		price_usd REAL DEFAULT 0,
		config TEXT NOT NULL,
		status TEXT DEFAULT 'running',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS fee_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		type TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		fee_tinybars INTEGER NOT NULL,
		gas_used INTEGER,
		gas_price INTEGER,
		recorded_at DATETIME,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_fee_records_run ON fee_records(run_id);

	CREATE TABLE IF NOT EXISTS run_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_failures_run ON run_failures(run_id);

	CREATE TABLE IF NOT EXISTS cached_resources (
		network TEXT PRIMARY KEY,
		resources TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema release.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"runs", "resynced", "ALTER TABLE runs ADD COLUMN resynced INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

// columnExists checks if a column exists in a table.
// Note: table and column names are validated to prevent SQL injection.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
// Only allows alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run in its initial state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunResult) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, network, started_at, items, config, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Network, run.StartedAt, run.Items, string(configJSON), run.Status)
	return err
}

// CompleteRun stores the final state of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunResult) error {
	completedAt := run.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			duration_ms = ?,
			items = ?,
			records = ?,
			retry_rounds = ?,
			resynced = ?,
			report_dir = ?,
			price_usd = ?,
			status = ?,
			error_message = ?
		WHERE id = ?
	`, completedAt, run.DurationMs, run.Items, run.Records, run.RetryRounds, run.Resynced,
		nullString(run.ReportDir), run.PriceUSD, run.Status, nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

const runColumns = `
	r.id, r.network, r.started_at, r.completed_at, r.duration_ms, r.items, r.records,
	r.retry_rounds, COALESCE(r.resynced, 0), r.report_dir, r.price_usd, r.config, r.status,
	r.error_message,
	(SELECT COALESCE(json_group_array(f.kind), '[]') FROM run_failures f WHERE f.run_id = r.id)`

// GetRun retrieves a single run by ID. It returns nil when the run does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a paginated list of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunResult{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and its records.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

// BulkInsertFeeRecords inserts all fee records of a run in one transaction.
func (s *SQLiteStorage) BulkInsertFeeRecords(ctx context.Context, runID string, records []types.FeeRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fee_records (run_id, type, tx_id, fee_tinybars, gas_used, gas_price, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, runID, r.Type, r.TransactionID, r.FeeTinybars,
			nullUint64(r.GasUsed), nullUint64(r.GasPrice), r.RecordedAt)
		if err != nil {
			return err
		}
	}

	// Single commit at the end - this is where the fsync happens
	return tx.Commit()
}

// GetFeeRecords returns the fee records of a run in insertion order.
func (s *SQLiteStorage) GetFeeRecords(ctx context.Context, runID string) ([]types.FeeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, tx_id, fee_tinybars, gas_used, gas_price, recorded_at
		FROM fee_records
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []types.FeeRecord{}
	for rows.Next() {
		var r types.FeeRecord
		var gasUsed, gasPrice sql.NullInt64
		var recordedAt sql.NullTime
		if err := rows.Scan(&r.Type, &r.TransactionID, &r.FeeTinybars, &gasUsed, &gasPrice, &recordedAt); err != nil {
			return nil, err
		}
		r.GasUsed = uint64Ptr(gasUsed)
		r.GasPrice = uint64Ptr(gasPrice)
		if recordedAt.Valid {
			r.RecordedAt = recordedAt.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertFailures stores the unrecovered work items of a run.
func (s *SQLiteStorage) InsertFailures(ctx context.Context, runID string, failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_failures (run_id, kind, seq) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, runID, f.Kind, f.Seq); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetFailures returns the unrecovered work items of a run.
func (s *SQLiteStorage) GetFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, seq FROM run_failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Kind, &f.Seq); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// SaveResources replaces the cached entities of a network.
func (s *SQLiteStorage) SaveResources(ctx context.Context, network types.Network, res types.Resources) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_resources (network, resources, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(network) DO UPDATE SET resources = excluded.resources, updated_at = excluded.updated_at
	`, network, string(data), time.Now())
	return err
}

// LoadResources returns the cached entities of a network, or nil if none.
func (s *SQLiteStorage) LoadResources(ctx context.Context, network types.Network) (*types.Resources, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT resources FROM cached_resources WHERE network = ?`, network).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res types.Resources
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("decode cached resources for %s: %w", network, err)
	}
	return &res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.RunResult, error) {
	var (
		run          types.RunResult
		completedAt  sql.NullTime
		reportDir    sql.NullString
		errorMessage sql.NullString
		configJSON   string
		failedJSON   string
	)
	err := row.Scan(&run.ID, &run.Network, &run.StartedAt, &completedAt, &run.DurationMs,
		&run.Items, &run.Records, &run.RetryRounds, &run.Resynced, &reportDir, &run.PriceUSD,
		&configJSON, &run.Status, &errorMessage, &failedJSON)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	run.ReportDir = reportDir.String
	run.Error = errorMessage.String
	unmarshalJSON(configJSON, &run.Config, "config", run.ID)
	unmarshalJSON(failedJSON, &run.Unrecovered, "unrecovered", run.ID)
	if len(run.Unrecovered) == 0 {
		run.Unrecovered = nil
	}
	return &run, nil
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func uint64Ptr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
