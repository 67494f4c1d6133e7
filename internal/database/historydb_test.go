package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/onionprobe/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *HistoryDB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// newTestScan builds a finished scan started at start.
func newTestScan(start time.Time, outcomes ...model.Outcome) *model.ScanResult {
	scan := model.NewScanResult(len(outcomes), 5, 0, 10*time.Second)
	scan.StartedAt = start
	scan.FinishedAt = start.Add(3 * time.Second)
	for i, o := range outcomes {
		addr := "alpha.onion"
		if i > 0 {
			addr = strings.Repeat(string(rune('b'+i)), 5) + ".onion"
		}
		scan.Results = append(scan.Results, model.Result{
			Index:   i,
			Target:  model.NewDirectoryTarget(addr, "Site "+addr),
			Outcome: o,
		})
	}
	scan.DispatchedCount = len(scan.Results)
	return scan
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("unexpected path %q", db.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "missing")
		_, err := Open(dbDir, Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "database not found") {
			t.Errorf("expected informative error, got %q", err.Error())
		}
		if _, statErr := os.Stat(dbDir); !os.IsNotExist(statErr) {
			t.Error("database directory should not have been created")
		}
	})

	t.Run("CreateIfNotExists=false opens existing database", func(t *testing.T) {
		t.Parallel()

		dbDir := t.TempDir()
		db1, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		if err := db1.SaveScan(context.Background(), newTestScan(time.Now(), model.Reachable{})); err != nil {
			t.Fatalf("failed to save scan: %v", err)
		}
		_ = db1.Close()

		db2, err := Open(dbDir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer db2.Close()

		records, err := db2.ListScans(context.Background(), 0)
		if err != nil {
			t.Fatalf("failed to list scans: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 stored scan, got %d", len(records))
		}
	})
}

// TestSaveAndGetScan tests storing and loading full scans.
func TestSaveAndGetScan(t *testing.T) {
	t.Parallel()

	t.Run("round-trips the scan document", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		ctx := context.Background()
		start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		scan := newTestScan(start,
			model.Reachable{Latency: 1500 * time.Millisecond},
			model.Unreachable{Reason: "connection refused"},
			model.TimedOut{After: 10 * time.Second},
		)
		scan.Cap = 3

		if err := db.SaveScan(ctx, scan); err != nil {
			t.Fatalf("failed to save scan: %v", err)
		}

		got, err := db.GetScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("failed to get scan: %v", err)
		}
		if got.ID != scan.ID || got.Cap != 3 || got.Timeout != 10*time.Second {
			t.Errorf("unexpected scan header: %+v", got)
		}
		if !got.StartedAt.Equal(start) {
			t.Errorf("expected start %v, got %v", start, got.StartedAt)
		}
		if len(got.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(got.Results))
		}
		if r, ok := got.Results[0].Outcome.(model.Reachable); !ok || r.Latency != 1500*time.Millisecond {
			t.Errorf("unexpected first outcome: %#v", got.Results[0].Outcome)
		}
		if got.Summarize() != scan.Summarize() {
			t.Errorf("expected summary %+v, got %+v", scan.Summarize(), got.Summarize())
		}
	})

	t.Run("saving the same scan twice fails", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		ctx := context.Background()
		scan := newTestScan(time.Now(), model.Reachable{})

		if err := db.SaveScan(ctx, scan); err != nil {
			t.Fatalf("failed to save scan: %v", err)
		}
		if err := db.SaveScan(ctx, scan); err == nil {
			t.Fatal("expected duplicate scan to fail")
		}

		history, err := db.AddressHistory(ctx, "alpha.onion")
		if err != nil {
			t.Fatalf("failed to get history: %v", err)
		}
		if len(history.Probes) != 1 {
			t.Errorf("expected failed save rolled back, got %d probes", len(history.Probes))
		}
	})

	t.Run("unknown ID", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		_, err := db.GetScan(context.Background(), "no-such-scan")
		if !errors.Is(err, ErrScanNotFound) {
			t.Errorf("expected ErrScanNotFound, got %v", err)
		}
	})
}

// TestListScans tests listing stored scans.
func TestListScans(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := newTestScan(base, model.Reachable{}, model.TransportError{Message: "bad address"})
	newer := newTestScan(base.Add(time.Hour), model.Unreachable{Reason: "refused"})
	newer.Partial = true
	newest := newTestScan(base.Add(2*time.Hour), model.Reachable{})

	for _, s := range []*model.ScanResult{older, newest, newer} {
		if err := db.SaveScan(ctx, s); err != nil {
			t.Fatalf("failed to save scan: %v", err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		t.Parallel()

		records, err := db.ListScans(ctx, 0)
		if err != nil {
			t.Fatalf("failed to list scans: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(records))
		}
		wantIDs := []string{newest.ID, newer.ID, older.ID}
		for i, id := range wantIDs {
			if records[i].ID != id {
				t.Errorf("record %d: expected %s, got %s", i, id, records[i].ID)
			}
		}

		last := records[2]
		want := model.Summary{Reachable: 1, TransportError: 1}
		if last.Summary != want {
			t.Errorf("expected summary %+v, got %+v", want, last.Summary)
		}
		if last.Duration() != 3*time.Second {
			t.Errorf("expected 3s duration, got %v", last.Duration())
		}
		if !records[1].Partial || records[0].Partial {
			t.Error("expected partial flag kept")
		}
	})

	t.Run("limit", func(t *testing.T) {
		t.Parallel()

		records, err := db.ListScans(ctx, 2)
		if err != nil {
			t.Fatalf("failed to list scans: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 records, got %d", len(records))
		}
	})
}

// TestAddressHistory tests per-address timelines.
func TestAddressHistory(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	outcomes := []model.Outcome{
		model.Reachable{Latency: time.Second},
		model.Unreachable{Reason: "onion service descriptor not found"},
		model.Reachable{Latency: 2 * time.Second},
		model.TimedOut{After: 10 * time.Second},
	}
	for i, o := range outcomes {
		if err := db.SaveScan(ctx, newTestScan(base.Add(time.Duration(i)*time.Hour), o)); err != nil {
			t.Fatalf("failed to save scan: %v", err)
		}
	}

	t.Run("timeline newest first", func(t *testing.T) {
		t.Parallel()

		history, err := db.AddressHistory(ctx, "alpha.onion")
		if err != nil {
			t.Fatalf("failed to get history: %v", err)
		}
		if len(history.Probes) != 4 {
			t.Fatalf("expected 4 probes, got %d", len(history.Probes))
		}
		if history.Probes[0].Status != model.StatusTimedOut {
			t.Errorf("expected newest probe timed out, got %s", history.Probes[0].Status)
		}
		if !history.Probes[3].ProbedAt.Equal(base) {
			t.Errorf("expected oldest probe at %v, got %v", base, history.Probes[3].ProbedAt)
		}
		if history.Probes[2].Detail != "onion service descriptor not found" {
			t.Errorf("unexpected detail %q", history.Probes[2].Detail)
		}
		if got := history.Availability(); got != 0.5 {
			t.Errorf("expected availability 0.5, got %v", got)
		}
	})

	t.Run("spellings of one address share a history", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		const host = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"

		spellings := []string{
			"http://" + strings.ToUpper(host) + "/",
			host,
			strings.TrimSuffix(host, ".onion"),
		}
		for i, address := range spellings {
			scan := model.NewScanResult(1, 1, 0, 10*time.Second)
			scan.StartedAt = base.Add(time.Duration(i) * time.Hour)
			scan.FinishedAt = scan.StartedAt.Add(time.Second)
			scan.Results = []model.Result{{
				Target:  model.NewFileTarget(address),
				Outcome: model.Reachable{Latency: time.Second},
			}}
			scan.DispatchedCount = 1
			if err := db.SaveScan(ctx, scan); err != nil {
				t.Fatalf("failed to save scan: %v", err)
			}
		}

		for _, query := range spellings {
			history, err := db.AddressHistory(ctx, query)
			if err != nil {
				t.Fatalf("failed to get history: %v", err)
			}
			if history.Address != host {
				t.Errorf("expected address %q, got %q", host, history.Address)
			}
			if len(history.Probes) != len(spellings) {
				t.Errorf("query %q: expected %d probes, got %d", query, len(spellings), len(history.Probes))
			}
		}
	})

	t.Run("unknown address", func(t *testing.T) {
		t.Parallel()

		history, err := db.AddressHistory(ctx, "zzzzz.onion")
		if err != nil {
			t.Fatalf("failed to get history: %v", err)
		}
		if len(history.Probes) != 0 || history.Availability() != 0 {
			t.Errorf("expected empty history, got %+v", history)
		}
	})
}

// TestParseTimestamp tests timestamp parsing with multiple formats.
func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	inputs := []string{
		formatTimestamp(want),
		"2025-03-01T10:30:00Z",
		"2025-03-01 10:30:00",
		"2025-03-01T10:30:00",
	}
	for _, in := range inputs {
		if got := parseTimestamp(in); !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, expected %v", in, got, want)
		}
	}

	if got := parseTimestamp("not a time"); !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}
}
