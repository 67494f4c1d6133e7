package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/onionprobe/internal/model"
	"github.com/nao1215/onionprobe/internal/tor"
)

// FileName is the name of the database file inside the data directory.
const FileName = "onionprobe.db"

// ErrScanNotFound is returned when no stored scan has the requested ID.
var ErrScanNotFound = errors.New("scan not found")

// HistoryDB stores finished scans in SQLite.
//
// Each scan is kept twice: once as the exported JSON document, so it can be
// shown again exactly as it was written, and once as one row per probe, so
// the history of a single address can be queried without decoding reports.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a scan with --history first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
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

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the path of the database file.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (hdb *HistoryDB) createTables() error {
	schema := `
	-- One row per finished scan
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		requested INTEGER NOT NULL,
		dispatched INTEGER NOT NULL,
		workers INTEGER NOT NULL,
		cap INTEGER NOT NULL DEFAULT 0,
		timeout_ns INTEGER NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		reachable INTEGER NOT NULL DEFAULT 0,
		unreachable INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		transport_error INTEGER NOT NULL DEFAULT 0,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);

	-- One row per resolved probe
	CREATE TABLE IF NOT EXISTS probes (
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		address TEXT NOT NULL,
		origin TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL,
		detail TEXT,
		PRIMARY KEY (scan_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_probes_address ON probes(address);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveScan stores scan and one row per result in a single transaction.
// Saving the same scan twice fails on the primary key.
func (hdb *HistoryDB) SaveScan(ctx context.Context, scan *model.ScanResult) (err error) {
	reportJSON, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("failed to serialize scan: %w", err)
	}

	tx, err := hdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	summary := scan.Summarize()
	_, err = tx.ExecContext(ctx, `
	INSERT INTO scans (id, started_at, finished_at, requested, dispatched, workers, cap,
		timeout_ns, partial, reachable, unreachable, timed_out, transport_error, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scan.ID,
		formatTimestamp(scan.StartedAt),
		formatTimestamp(scan.FinishedAt),
		scan.RequestedCount,
		scan.DispatchedCount,
		scan.WorkerCount,
		scan.Cap,
		int64(scan.Timeout),
		scan.Partial,
		summary.Reachable,
		summary.Unreachable,
		summary.TimedOut,
		summary.TransportError,
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO probes (scan_id, idx, address, origin, name, status, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare probe insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range scan.Results {
		_, err = stmt.ExecContext(ctx,
			scan.ID,
			r.Index,
			addressKey(r.Target.Address),
			r.Target.Origin.String(),
			r.Target.DisplayName,
			r.Outcome.Status().String(),
			r.Outcome.Detail(),
		)
		if err != nil {
			return fmt.Errorf("failed to save probe %d: %w", r.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan: %w", err)
	}
	return nil
}

// ScanRecord contains summary information about a stored scan.
// It is used for listing history without loading the full report.
type ScanRecord struct {
	// ID is the scan ID.
	ID string

	// StartedAt is when the scan began.
	StartedAt time.Time

	// FinishedAt is when the scan ended.
	FinishedAt time.Time

	// RequestedCount is the number of targets the source produced.
	RequestedCount int

	// DispatchedCount is the number of targets probed.
	DispatchedCount int

	// Partial is set when the scan was aborted.
	Partial bool

	// Summary counts the stored results per status.
	Summary model.Summary
}

// Duration returns how long the scan took.
func (r ScanRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ListScans returns the most recent scans first. A limit of 0 or less
// returns every scan.
func (hdb *HistoryDB) ListScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	query := `
	SELECT id, started_at, finished_at, requested, dispatched, partial,
		reachable, unreachable, timed_out, transport_error
	FROM scans
	ORDER BY started_at DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := hdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var started, finished string

		err := rows.Scan(
			&rec.ID,
			&started,
			&finished,
			&rec.RequestedCount,
			&rec.DispatchedCount,
			&rec.Partial,
			&rec.Summary.Reachable,
			&rec.Summary.Unreachable,
			&rec.Summary.TimedOut,
			&rec.Summary.TransportError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec.StartedAt = parseTimestamp(started)
		rec.FinishedAt = parseTimestamp(finished)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetScan returns the stored scan with the given ID.
func (hdb *HistoryDB) GetScan(ctx context.Context, id string) (*model.ScanResult, error) {
	var reportJSON string
	err := hdb.db.QueryRowContext(ctx, "SELECT report_json FROM scans WHERE id = ?", id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	var scan model.ScanResult
	if err := json.Unmarshal([]byte(reportJSON), &scan); err != nil {
		return nil, fmt.Errorf("failed to parse scan: %w", err)
	}
	return &scan, nil
}

// ProbeRecord is one stored probe of an address.
type ProbeRecord struct {
	// ScanID is the scan the probe belonged to.
	ScanID string

	// ProbedAt is when that scan started.
	ProbedAt time.Time

	// Status is the classified outcome.
	Status model.Status

	// Detail is the outcome detail text.
	Detail string
}

// AddressHistory is the probe timeline of one address, newest first.
type AddressHistory struct {
	// Address is the queried address.
	Address string

	// Probes holds one record per stored probe.
	Probes []ProbeRecord
}

// Availability returns the fraction of probes that found the address
// reachable, or 0 when it was never probed.
func (h *AddressHistory) Availability() float64 {
	if len(h.Probes) == 0 {
		return 0
	}
	reachable := 0
	for _, p := range h.Probes {
		if p.Status == model.StatusReachable {
			reachable++
		}
	}
	return float64(reachable) / float64(len(h.Probes))
}

// AddressHistory returns every stored probe of address. Spellings of the
// same onion address, such as a URL with a scheme, share one history.
func (hdb *HistoryDB) AddressHistory(ctx context.Context, address string) (*AddressHistory, error) {
	address = addressKey(address)

	query := `
	SELECT p.scan_id, s.started_at, p.status, p.detail
	FROM probes p
	JOIN scans s ON s.id = p.scan_id
	WHERE p.address = ?
	ORDER BY s.started_at DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query address history: %w", err)
	}
	defer rows.Close()

	history := &AddressHistory{Address: address}
	for rows.Next() {
		var rec ProbeRecord
		var started, status string
		var detail sql.NullString

		if err := rows.Scan(&rec.ScanID, &started, &status, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}

		rec.Status, err = model.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("failed to parse probe status: %w", err)
		}
		rec.ProbedAt = parseTimestamp(started)
		rec.Detail = detail.String
		history.Probes = append(history.Probes, rec)
	}

	return history, rows.Err()
}

// addressKey returns the form under which probes of address are stored:
// the normalized onion hostname, or the trimmed input when it is not a
// valid v3 address.
func addressKey(address string) string {
	if normalized, err := tor.NormalizeAddress(address); err == nil {
		return normalized
	}
	return strings.TrimSpace(address)
}

// storageLayout is fixed-width so that text ordering matches time ordering.
const storageLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTimestamp formats t in UTC for storage.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(storageLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, it returns the zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
