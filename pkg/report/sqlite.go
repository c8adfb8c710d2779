package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/hostsweep/pkg/engine"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	started TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	total INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	category TEXT NOT NULL,
	subject TEXT NOT NULL,
	severity TEXT,
	ip_reputation TEXT,
	classification TEXT,
	fields TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS reasons (
	finding_id INTEGER NOT NULL REFERENCES findings(id),
	code TEXT NOT NULL,
	detail TEXT
);

CREATE TABLE IF NOT EXISTS category_status (
	run_id TEXT NOT NULL REFERENCES runs(id),
	category TEXT NOT NULL,
	unavailable TEXT,
	record_errors INTEGER NOT NULL DEFAULT 0,
	oracle_failures INTEGER NOT NULL DEFAULT 0,
	annotation TEXT
);

CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);
CREATE INDEX IF NOT EXISTS idx_findings_category ON findings(category);
CREATE INDEX IF NOT EXISTS idx_reasons_finding ON reasons(finding_id);
`

// SQLiteWriter appends runs to a SQLite database. Several runs, possibly of
// different hosts, can share one file.
type SQLiteWriter struct {
	db *sql.DB
}

func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create report dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write stores one run in a single transaction.
func (w *SQLiteWriter) Write(res *engine.RunResult) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	if err := writeRun(tx, res); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write run %s: %w", res.ID, err)
	}
	return tx.Commit()
}

func writeRun(tx *sql.Tx, res *engine.RunResult) error {
	_, err := tx.Exec(`INSERT INTO runs (id, host, started, duration_ms, total) VALUES (?, ?, ?, ?, ?)`,
		res.ID, res.Host, res.Started.UTC().Format(time.RFC3339), res.Duration.Milliseconds(), res.Total())
	if err != nil {
		return err
	}

	insertFinding, err := tx.Prepare(`
		INSERT INTO findings (run_id, category, subject, severity, ip_reputation, classification, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertFinding.Close()

	insertReason, err := tx.Prepare(`INSERT INTO reasons (finding_id, code, detail) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertReason.Close()

	for _, cat := range res.Categories() {
		for _, f := range res.Findings[cat] {
			fields, err := json.Marshal(f.Fields)
			if err != nil {
				return err
			}
			r, err := insertFinding.Exec(res.ID, string(cat), f.Subject, f.Severity.String(),
				string(f.IPReputation), f.Classification, string(fields))
			if err != nil {
				return err
			}
			id, err := r.LastInsertId()
			if err != nil {
				return err
			}
			for _, reason := range f.Reasons {
				if _, err := insertReason.Exec(id, string(reason.Code), reason.Detail); err != nil {
					return err
				}
			}
		}
	}

	return writeStatus(tx, res)
}

func writeStatus(tx *sql.Tx, res *engine.RunResult) error {
	cats := make(map[engine.Category]struct{})
	for c := range res.Unavailable {
		cats[c] = struct{}{}
	}
	for c := range res.Errors {
		cats[c] = struct{}{}
	}
	for c := range res.OracleFailures {
		cats[c] = struct{}{}
	}
	for c := range res.Annotations {
		cats[c] = struct{}{}
	}

	for c := range cats {
		var unavailable, annotation sql.NullString
		if reason, ok := res.Unavailable[c]; ok {
			unavailable = sql.NullString{String: reason, Valid: true}
		}
		if a, ok := res.Annotations[c]; ok {
			annotation = sql.NullString{String: string(a), Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO category_status (run_id, category, unavailable, record_errors, oracle_failures, annotation)
			VALUES (?, ?, ?, ?, ?, ?)`,
			res.ID, string(c), unavailable, len(res.Errors[c]), res.OracleFailures[c], annotation)
		if err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the number of findings per category for a run.
func (w *SQLiteWriter) Counts(runID string) (map[engine.Category]int, error) {
	rows, err := w.db.Query(`SELECT category, COUNT(*) FROM findings WHERE run_id = ? GROUP BY category`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[engine.Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		counts[engine.Category(cat)] = n
	}
	return counts, rows.Err()
}

// DB exposes the database for ad hoc queries.
func (w *SQLiteWriter) DB() *sql.DB { return w.db }

func (w *SQLiteWriter) Close() error { return w.db.Close() }

var _ Writer = (*SQLiteWriter)(nil)
