// Package database provides SQLite-based scan history for onionprobe.
//
// HistoryDB stores:
//   - Finished scans, both as counters and as the exported JSON document
//   - One row per probe, for availability timelines of single addresses
//
// SQLite (via modernc.org/sqlite) keeps the history in a single file in the
// user's data directory and needs no CGO.
package database
