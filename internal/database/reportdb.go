package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/jscryptoscan/internal/jsonutil"
	"github.com/nao1215/jscryptoscan/internal/model"
)

// FileName is the database file created inside the database directory.
const FileName = "jscryptoscan.db"

// ReportDB provides SQLite-based storage for scan reports.
//
// Design decision: We use a single database file for all targets rather
// than one file per target. This keeps "list every scanned target" a single
// query and makes backup a file copy.
type ReportDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures ReportDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a ReportDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist,
// ErrDatabaseNotFound is returned.
func Open(dbDir string, opts Options) (*ReportDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite: mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &ReportDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return rdb, nil
}

// Path returns the database file path.
func (rdb *ReportDB) Path() string {
	return rdb.dbPath
}

// Close closes the database connection.
func (rdb *ReportDB) Close() error {
	return rdb.db.Close()
}

func (rdb *ReportDB) createTables(ctx context.Context) error {
	schema := `
	-- One row per run. started_at is fixed-width RFC 3339 UTC.
	CREATE TABLE IF NOT EXISTS scan_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		target TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		timed_out INTEGER DEFAULT 0,
		error TEXT,
		risk_summary TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_target ON scan_reports(target);
	CREATE INDEX IF NOT EXISTS idx_reports_started ON scan_reports(started_at);

	-- Scripts analyzed by each run
	CREATE TABLE IF NOT EXISTS scripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES scan_reports(run_id) ON DELETE CASCADE,
		source_url TEXT,
		digest TEXT NOT NULL,
		size INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_scripts_run ON scripts(run_id);
	CREATE INDEX IF NOT EXISTS idx_scripts_digest ON scripts(digest);
	`
	_, err := rdb.db.ExecContext(ctx, schema)
	return err
}

// Save stores a scan report and its scripts in one transaction.
// It satisfies pipeline.ReportStore.
func (rdb *ReportDB) Save(ctx context.Context, report *model.ScanReport) (err error) {
	reportJSON, err := jsonutil.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	riskJSON, err := jsonutil.Marshal(report.Summary())
	if err != nil {
		return fmt.Errorf("failed to serialize risk summary: %w", err)
	}

	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO scan_reports (run_id, target, mode, started_at, duration_ms, timed_out, error, risk_summary, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Target,
		string(report.Mode),
		formatTimestamp(report.StartedAt),
		report.DurationMillis,
		report.TimedOut,
		report.ErrorMessage,
		string(riskJSON),
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan report: %w", err)
	}

	for _, s := range report.Scripts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scripts (run_id, source_url, digest, size) VALUES (?, ?, ?, ?)`,
			report.ID, s.SourceURL, s.Digest, s.Size,
		)
		if err != nil {
			return fmt.Errorf("failed to save script %s: %w", s.Digest, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan report: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent report for target.
// It returns nil, nil when the target has never been scanned.
func (rdb *ReportDB) GetLatest(ctx context.Context, target string) (*model.ScanReport, error) {
	reports, err := rdb.latest(ctx, target, 1)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return reports[0], nil
}

// GetByRunID retrieves a report by its run ID, or nil, nil if absent.
func (rdb *ReportDB) GetByRunID(ctx context.Context, runID string) (*model.ScanReport, error) {
	var reportJSON string
	err := rdb.db.QueryRowContext(ctx,
		`SELECT report_json FROM scan_reports WHERE run_id = ?`, runID,
	).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan report: %w", err)
	}
	return decodeReport(reportJSON)
}

// ListTargets returns every scanned target in lexical order.
func (rdb *ReportDB) ListTargets(ctx context.Context) ([]string, error) {
	rows, err := rdb.db.QueryContext(ctx, `SELECT DISTINCT target FROM scan_reports ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// RunMetadata contains summary information about a stored run.
// This is used for displaying history without loading the full report.
type RunMetadata struct {
	// RunID is the report's run identifier.
	RunID string `json:"run_id"`

	// Target is the scanned URL or file.
	Target string `json:"target"`

	// Mode is url or file.
	Mode model.ScanMode `json:"mode"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// DurationMillis is the run time.
	DurationMillis int64 `json:"duration_ms"`

	// TimedOut is true if the run-level timeout fired.
	TimedOut bool `json:"timed_out"`

	// Error is the run-aborting error, if any.
	Error string `json:"error,omitempty"`

	// RiskSummary counts local findings by level.
	RiskSummary model.RiskSummary `json:"risk_summary"`

	// ScriptCount is the number of scripts analyzed.
	ScriptCount int `json:"script_count"`
}

// History returns run metadata for target, newest first.
func (rdb *ReportDB) History(ctx context.Context, target string) ([]RunMetadata, error) {
	rows, err := rdb.db.QueryContext(ctx, `
	SELECT r.run_id, r.target, r.mode, r.started_at, r.duration_ms, r.timed_out, r.error, r.risk_summary,
		(SELECT COUNT(*) FROM scripts s WHERE s.run_id = r.run_id)
	FROM scan_reports r
	WHERE r.target = ?
	ORDER BY r.started_at DESC, r.id DESC
	`, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan history: %w", err)
	}
	defer rows.Close()

	results := []RunMetadata{}
	for rows.Next() {
		var (
			meta      RunMetadata
			mode      string
			startedAt string
			errMsg    sql.NullString
			riskJSON  sql.NullString
		)
		if err := rows.Scan(&meta.RunID, &meta.Target, &mode, &startedAt, &meta.DurationMillis,
			&meta.TimedOut, &errMsg, &riskJSON, &meta.ScriptCount); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta.Mode = model.ScanMode(mode)
		meta.StartedAt = parseTimestamp(startedAt)
		meta.Error = errMsg.String
		if riskJSON.Valid && riskJSON.String != "" {
			// A malformed summary leaves the counts at zero.
			_ = jsonutil.Unmarshal([]byte(riskJSON.String), &meta.RiskSummary)
		}
		results = append(results, meta)
	}
	return results, rows.Err()
}

// ScriptRecord is one stored script row.
type ScriptRecord struct {
	SourceURL string `json:"source_url,omitempty"`
	Digest    string `json:"digest"`
	Size      int    `json:"size"`
}

// Scripts returns the scripts analyzed by a run, in stored order.
func (rdb *ReportDB) Scripts(ctx context.Context, runID string) ([]ScriptRecord, error) {
	rows, err := rdb.db.QueryContext(ctx,
		`SELECT source_url, digest, size FROM scripts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scripts: %w", err)
	}
	defer rows.Close()

	records := []ScriptRecord{}
	for rows.Next() {
		var (
			rec       ScriptRecord
			sourceURL sql.NullString
		)
		if err := rows.Scan(&sourceURL, &rec.Digest, &rec.Size); err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		rec.SourceURL = sourceURL.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// latest returns up to limit reports for target, newest first. Rows that
// no longer decode are skipped.
func (rdb *ReportDB) latest(ctx context.Context, target string, limit int) ([]*model.ScanReport, error) {
	rows, err := rdb.db.QueryContext(ctx, `
	SELECT report_json FROM scan_reports
	WHERE target = ?
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.ScanReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		report, err := decodeReport(reportJSON)
		if err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func decodeReport(reportJSON string) (*model.ScanReport, error) {
	var report model.ScanReport
	if err := jsonutil.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// storedTimeFormat is fixed width so that text order is time order.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(storedTimeFormat)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp returns the zero time when no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
